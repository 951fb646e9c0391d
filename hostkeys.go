package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyVerifier checks server keys against known_hosts and asks the user
// about hosts it has never seen. Accepted keys are remembered for the process.
type hostKeyVerifier struct {
	known ssh.HostKeyCallback // nil when no known_hosts file is available
	in    *bufio.Reader
	out   io.Writer

	mu       sync.Mutex
	accepted map[string]string
}

func newHostKeyVerifier(knownHostsFile string, in io.Reader, out io.Writer) (*hostKeyVerifier, error) {
	v := &hostKeyVerifier{
		in:       bufio.NewReader(in),
		out:      out,
		accepted: make(map[string]string),
	}
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		v.known = cb
	}
	return v, nil
}

func (v *hostKeyVerifier) Callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if v.known != nil {
		err := v.known(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
			return fmt.Errorf("host key for %s does not match known_hosts: %w", hostname, err)
		case !errors.As(err, &keyErr):
			return err
		}
	}

	fingerprint := ssh.FingerprintSHA256(key)

	// Workers may dial in parallel; only one of them asks.
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.accepted[hostname] == fingerprint {
		return nil
	}

	fmt.Fprintf(v.out, "\nThe authenticity of host '%s' can't be established.\n", hostname)
	fmt.Fprintf(v.out, "%s key fingerprint is %s\n", key.Type(), fingerprint)
	fmt.Fprint(v.out, "Are you sure you want to continue connecting (yes/no)? ")

	response, err := v.in.ReadString('\n')
	if err != nil && response == "" {
		return fmt.Errorf("failed to read user input: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))
	if response == "yes" || response == "y" {
		v.accepted[hostname] = fingerprint
		return nil
	}

	return fmt.Errorf("host key verification rejected by user")
}

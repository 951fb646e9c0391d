package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

type Credentials struct {
	username string
	password []byte
	signer   ssh.Signer
}

func (c *Credentials) Clear() {
	secureWipe(c.password)
	c.password = nil
}

// sshAuthMethods offers the private key first, then the password both as
// plain password auth and as a keyboard-interactive answer.
func (c *Credentials) sshAuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if c.signer != nil {
		methods = append(methods, ssh.PublicKeys(c.signer))
	}
	if c.password != nil {
		password := string(c.password)
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	return methods
}

// secureWipe safely clears sensitive data from memory
// It overwrites the slice with zeros
func secureWipe(data []byte) {
	if data == nil {
		return
	}
	for i := range data {
		data[i] = 0
	}
}

// secretPrompter reads a secret after printing prompt.
type secretPrompter func(prompt string) ([]byte, error)

// askPassword reads a secret from the terminal without echoing it. When stdin
// is not a terminal a single line is read instead, so the secret can be piped.
func askPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		if err != nil {
			return nil, fmt.Errorf("error reading password: %w", err)
		}
		return password, nil
	}
	return readSecretLine(os.Stdin)
}

// readSecretLine reads up to a newline one byte at a time, leaving the rest
// of r for later prompts.
func readSecretLine(r io.Reader) ([]byte, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		n, err := r.Read(b)
		if n > 0 {
			if b[0] == '\n' {
				break
			}
			line = append(line, b[0])
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		if err != nil {
			secureWipe(line)
			return nil, fmt.Errorf("error reading password: %w", err)
		}
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line[len(line)-1] = 0
		line = line[:len(line)-1]
	}
	return line, nil
}

// resolveCredentials picks the secret for u. The password comes from the URL,
// then the configured environment variable, then the prompt. With an identity
// file the key is used and the password prompt is skipped.
func resolveCredentials(cfg Config, u *url.URL, local billy.Filesystem, getenv func(string) string, prompt secretPrompter) (*Credentials, error) {
	creds := &Credentials{username: u.User.Username()}

	if cfg.IdentityFile != "" {
		if u.Scheme == "ftp" {
			return nil, fmt.Errorf("identity files are not supported for ftp")
		}
		signer, err := loadSigner(local, cfg.IdentityFile, prompt)
		if err != nil {
			return nil, err
		}
		creds.signer = signer
	}

	if passwordStr, passSet := u.User.Password(); passSet {
		creds.password = []byte(passwordStr)
		return creds, nil
	}
	if cfg.PasswordEnv != "" {
		if v := getenv(cfg.PasswordEnv); v != "" {
			creds.password = []byte(v)
			return creds, nil
		}
	}
	if creds.signer != nil {
		return creds, nil
	}

	password, err := prompt("Authenticate: ")
	if err != nil {
		return nil, err
	}
	creds.password = password
	return creds, nil
}

func loadSigner(local billy.Filesystem, keyPath string, prompt secretPrompter) (ssh.Signer, error) {
	f, err := local.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	keyBytes, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	defer secureWipe(keyBytes)

	signer, err := ssh.ParsePrivateKey(keyBytes)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		passphrase, perr := prompt(fmt.Sprintf("Passphrase for %s: ", keyPath))
		if perr != nil {
			return nil, perr
		}
		defer secureWipe(passphrase)
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

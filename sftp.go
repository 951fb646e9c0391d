package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SFTPConnectorFactory struct{}

func (f *SFTPConnectorFactory) Accept(u *url.URL) bool { return u.Scheme == "sftp" }

func (f *SFTPConnectorFactory) Create(u *url.URL, opts ConnectOptions) (Connector, error) {
	return NewSFTPConnector(u, opts)
}

func (f *SFTPConnectorFactory) Name() string { return "sftp" }

type SFTPConnector struct {
	ssh    *ssh.Client // nil when the client was handed in directly
	client *sftp.Client
	local  billy.Filesystem
}

func NewSFTPConnector(u *url.URL, opts ConnectOptions) (*SFTPConnector, error) {
	sshClient, err := dialSSH(u, opts)
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, &TransportError{Op: "connect", Path: u.Host, Err: fmt.Errorf("failed to start SFTP session: %w", err)}
	}

	return &SFTPConnector{
		ssh:    sshClient,
		client: client,
		local:  opts.Local,
	}, nil
}

func newSFTPConnectorFromClient(client *sftp.Client, local billy.Filesystem) *SFTPConnector {
	return &SFTPConnector{client: client, local: local}
}

func (s *SFTPConnector) Exists(remotePath string) (bool, error) {
	_, err := s.client.Stat(remotePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, &TransportError{Op: "exists", Path: remotePath, Err: err}
	}
}

func (s *SFTPConnector) DownloadFile(remotePath, localPath string) error {
	r, err := s.client.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	defer func() {
		_ = r.Close()
	}()

	if err := saveRemoteFile(s.local, localPath, r); err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	return nil
}

func (s *SFTPConnector) Close() error {
	err := s.client.Close()
	if s.ssh != nil {
		if cerr := s.ssh.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// dialSSH opens the ssh connection shared by the sftp and scp connectors.
func dialSSH(u *url.URL, opts ConnectOptions) (*ssh.Client, error) {
	if opts.HostKeyCallback == nil {
		return nil, &TransportError{Op: "connect", Path: u.Host, Err: errors.New("no host key callback configured")}
	}

	config := &ssh.ClientConfig{
		User:            opts.Creds.username,
		Auth:            opts.Creds.sshAuthMethods(),
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         opts.Timeout,
	}

	client, err := ssh.Dial("tcp", hostPort(u), config)
	if err != nil {
		return nil, &TransportError{Op: "connect", Path: u.Host, Err: fmt.Errorf("failed to dial: %w", err)}
	}
	return client, nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), strconv.Itoa(defaultPort(u.Scheme)))
}

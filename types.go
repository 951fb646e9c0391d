package main

import (
	"net/url"
	"time"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/crypto/ssh"
)

// Connector interface for remote file operations
type Connector interface {
	Exists(remotePath string) (bool, error)
	DownloadFile(remotePath, localPath string) error
	Close() error
}

// ConnectorFactory interface for creating connectors
type ConnectorFactory interface {
	Accept(u *url.URL) bool
	Create(u *url.URL, opts ConnectOptions) (Connector, error)
	Name() string
}

// ConnectOptions carries everything a factory needs to open one connection.
type ConnectOptions struct {
	Creds           *Credentials
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
	// Local is where downloaded files are written.
	Local billy.Filesystem
}

package main

import (
	"errors"
	"net/textproto"
	"net/url"

	"github.com/go-git/go-billy/v5"
	"github.com/jlaffaye/ftp"
)

type FTPConnectorFactory struct{}

func (f *FTPConnectorFactory) Accept(u *url.URL) bool {
	return u.Scheme == "ftp"
}

func (f *FTPConnectorFactory) Create(u *url.URL, opts ConnectOptions) (Connector, error) {
	return NewFTPConnector(u, opts)
}

func (f *FTPConnectorFactory) Name() string {
	return "ftp"
}

type FTPConnector struct {
	client *ftp.ServerConn
	local  billy.Filesystem
}

func NewFTPConnector(u *url.URL, opts ConnectOptions) (*FTPConnector, error) {
	dialOpts := []ftp.DialOption{}
	if opts.Timeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.Timeout))
	}
	c, err := ftp.Dial(hostPort(u), dialOpts...)
	if err != nil {
		return nil, &TransportError{Op: "connect", Path: u.Host, Err: err}
	}

	err = c.Login(opts.Creds.username, string(opts.Creds.password))
	if err != nil {
		_ = c.Quit() // Close connection on login failure
		return nil, &TransportError{Op: "connect", Path: u.Host, Err: err}
	}

	return &FTPConnector{
		client: c,
		local:  opts.Local,
	}, nil
}

// Exists asks for the file size; a 550 reply means the file is not there.
func (f *FTPConnector) Exists(remotePath string) (bool, error) {
	_, err := f.client.FileSize(remotePath)
	if err == nil {
		return true, nil
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
		return false, nil
	}
	return false, &TransportError{Op: "exists", Path: remotePath, Err: err}
}

func (f *FTPConnector) DownloadFile(remotePath, localPath string) error {
	r, err := f.client.Retr(remotePath)
	if err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	defer r.Close()

	if err := saveRemoteFile(f.local, localPath, r); err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	return nil
}

func (f *FTPConnector) Close() error {
	return f.client.Quit()
}

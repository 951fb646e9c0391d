package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"testing/iotest"

	"github.com/go-git/go-billy/v5"
)

// memServer is a fake remote file tree shared by every connector it hands out.
type memServer struct {
	mu        sync.Mutex
	files     map[string][]byte
	broken    map[string]bool // downloads fail half way
	existsErr error
	connErr   error
	downloads map[string]int
	opened    int
	closed    int
}

func newMemServer() *memServer {
	return &memServer{
		files:     make(map[string][]byte),
		broken:    make(map[string]bool),
		downloads: make(map[string]int),
	}
}

func (s *memServer) put(remotePath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[remotePath] = data
}

func (s *memServer) downloadCount(remotePath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[remotePath]
}

func (s *memServer) totalDownloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.downloads {
		n += c
	}
	return n
}

type memConnectorFactory struct {
	server *memServer
}

func (f *memConnectorFactory) Accept(u *url.URL) bool { return u.Scheme == "mem" }

func (f *memConnectorFactory) Create(_ *url.URL, opts ConnectOptions) (Connector, error) {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	if f.server.connErr != nil {
		return nil, &TransportError{Op: "connect", Err: f.server.connErr}
	}
	f.server.opened++
	return &memConnector{server: f.server, local: opts.Local}, nil
}

func (f *memConnectorFactory) Name() string { return "mem" }

type memConnector struct {
	server *memServer
	local  billy.Filesystem
}

func (c *memConnector) Exists(remotePath string) (bool, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.existsErr != nil {
		return false, &TransportError{Op: "exists", Path: remotePath, Err: c.server.existsErr}
	}
	_, ok := c.server.files[remotePath]
	return ok, nil
}

func (c *memConnector) DownloadFile(remotePath, localPath string) error {
	c.server.mu.Lock()
	data, ok := c.server.files[remotePath]
	broken := c.server.broken[remotePath]
	c.server.downloads[remotePath]++
	c.server.mu.Unlock()

	if !ok {
		return &TransportError{Op: "fetch", Path: remotePath, Err: os.ErrNotExist}
	}
	var r io.Reader = bytes.NewReader(data)
	if broken {
		r = io.MultiReader(bytes.NewReader(data[:len(data)/2]), iotest.ErrReader(errors.New("connection reset")))
	}
	if err := saveRemoteFile(c.local, localPath, r); err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	return nil
}

func (c *memConnector) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.closed++
	return nil
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func fastqName(chip, well string) string {
	return fmt.Sprintf("YG-PYT-FC-A-%s-%s_S1_L001_R1_001.fastq.gz", chip, well)
}

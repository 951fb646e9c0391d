package main

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
)

func fileExists(fs billy.Filesystem, name string) (bool, error) {
	_, err := fs.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
}

// saveRemoteFile streams reader into localPath. A failed copy leaves no file behind.
func saveRemoteFile(fs billy.Filesystem, localPath string, reader io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	destFile, err := fs.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	_, err = io.Copy(destFile, reader)
	if cerr := destFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(localPath)
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return nil
}

// fileChecksum returns the lowercase hex MD5 digest of name.
func fileChecksum(fs billy.Filesystem, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

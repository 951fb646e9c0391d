package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/crypto/ssh"
)

type SCPConnectorFactory struct{}

func (f *SCPConnectorFactory) Accept(u *url.URL) bool { return u.Scheme == "scp" }

func (f *SCPConnectorFactory) Create(u *url.URL, opts ConnectOptions) (Connector, error) {
	return NewSCPConnector(u, opts)
}

func (f *SCPConnectorFactory) Name() string { return "scp" }

type SCPConnector struct {
	client *ssh.Client
	local  billy.Filesystem
}

func NewSCPConnector(u *url.URL, opts ConnectOptions) (*SCPConnector, error) {
	client, err := dialSSH(u, opts)
	if err != nil {
		return nil, err
	}
	return &SCPConnector{
		client: client,
		local:  opts.Local,
	}, nil
}

// Exists runs `test -e` on the server; exit status 1 means missing.
func (s *SCPConnector) Exists(remotePath string) (bool, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return false, &TransportError{Op: "exists", Path: remotePath, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	err = session.Run("test -e " + shellQuote(remotePath))
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitStatus() == 1:
		return false, nil
	default:
		return false, &TransportError{Op: "exists", Path: remotePath, Err: err}
	}
}

func (s *SCPConnector) DownloadFile(remotePath, localPath string) error {
	if err := s.download(remotePath, localPath); err != nil {
		return &TransportError{Op: "fetch", Path: remotePath, Err: err}
	}
	return nil
}

func (s *SCPConnector) download(remotePath, localPath string) error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	if err := session.Start("scp -f " + shellQuote(remotePath)); err != nil {
		return fmt.Errorf("failed to start scp command: %w", err)
	}

	writer := bufio.NewWriter(stdin)
	reader := bufio.NewReader(stdout)

	// send initial null byte
	if err := writeByte(writer, 0); err != nil {
		return fmt.Errorf("failed to write initial null byte: %w", err)
	}

	// read file metadata line (C0664 999999999 test.txt)
	//                          └─┬─┘ └───┬───┘ └───┬───┘
	//                            │       │         │
	//                           mode    size    filename
	line, err := reader.ReadString('\n')
	if err != nil {
		slurp, _ := io.ReadAll(stderr)
		return fmt.Errorf("failed to read file metadata: %w (%s)", err, string(slurp))
	}
	size, err := parseSCPHeader(line)
	if err != nil {
		return err
	}

	// send acknowledgment
	if err := writeByte(writer, 0); err != nil {
		return fmt.Errorf("failed to acknowledge metadata: %w", err)
	}

	// create limited reader for exact file content
	limited := io.LimitReader(reader, size)
	if err := saveRemoteFile(s.local, localPath, limited); err != nil {
		return err
	}

	if err := readSCPConfirmation(reader); err != nil {
		_ = s.local.Remove(localPath)
		return err
	}

	// send final null byte
	if err := writeByte(writer, 0); err != nil {
		return fmt.Errorf("failed to send final null byte: %w", err)
	}

	return session.Wait()
}

// parseSCPHeader returns the size from a "C<mode> <size> <name>" line.
// A leading 0x01 or 0x02 byte carries a remote warning or error.
func parseSCPHeader(line string) (int64, error) {
	if line != "" && (line[0] == 1 || line[0] == 2) {
		return 0, fmt.Errorf("remote scp error: %s", strings.TrimSpace(line[1:]))
	}
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) != 3 || !strings.HasPrefix(fields[0], "C") {
		return 0, fmt.Errorf("unexpected SCP metadata format: %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file size: %w", err)
	}
	return size, nil
}

// readSCPConfirmation reads the status byte sent after the file content.
// Only a zero byte confirms the copy.
func readSCPConfirmation(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read transfer confirmation: %w", err)
	}
	if b != 0 {
		return fmt.Errorf("unexpected trailing byte: %v", b)
	}
	return nil
}

func (s *SCPConnector) Close() error {
	return s.client.Close()
}

func writeByte(w *bufio.Writer, b byte) error {
	if _, err := w.Write([]byte{b}); err != nil {
		return err
	}
	return w.Flush()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// chipField is the dash-delimited field of a file name holding the chip group.
const chipField = 4

// Disposition is the outcome of one entry in one pass.
type Disposition int

const (
	SkippedRemoteMissing Disposition = iota
	FailedFetch
	VerifiedOK
	VerifiedMismatchRemoved
	MalformedFilename
	VerifyFailed
)

var dispositionNames = [...]string{
	SkippedRemoteMissing:    "SKIPPED_REMOTE_MISSING",
	FailedFetch:             "FAILED_FETCH",
	VerifiedOK:              "VERIFIED_OK",
	VerifiedMismatchRemoved: "VERIFIED_MISMATCH_REMOVED",
	MalformedFilename:       "MALFORMED_FILENAME",
	VerifyFailed:            "VERIFY_FAILED",
}

func (d Disposition) String() string {
	if d < 0 || int(d) >= len(dispositionNames) {
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
	return dispositionNames[d]
}

// ChipGroup extracts the local subdirectory name from a file name, e.g.
// YG-PYT-FC-A-03162017-A01_S1_L001_R1_001.fastq.gz -> 03162017.
func ChipGroup(name string) (string, error) {
	fields := strings.Split(name, "-")
	if len(fields) <= chipField {
		return "", &MalformedFilenameError{Name: name}
	}
	chip := fields[chipField]
	if chip == "" || chip == "." || chip == ".." || strings.ContainsAny(chip, `/\`) {
		return "", &MalformedFilenameError{Name: name}
	}
	return chip, nil
}

// Engine reconciles manifest entries against the remote and local trees.
type Engine struct {
	conn       Connector
	local      billy.Filesystem
	remoteDir  string
	outDir     string
	strictCase bool
	log        *slog.Logger
}

func NewEngine(conn Connector, local billy.Filesystem, remoteDir, outDir string, strictCase bool, log *slog.Logger) *Engine {
	return &Engine{
		conn:       conn,
		local:      local,
		remoteDir:  remoteDir,
		outDir:     outDir,
		strictCase: strictCase,
		log:        log,
	}
}

// LocalPath returns where entry is stored locally.
func (e *Engine) LocalPath(entry ManifestEntry) (string, error) {
	chip, err := ChipGroup(entry.RemoteName)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.outDir, chip, entry.RemoteName), nil
}

// Sync processes a single entry. A non-nil error means the pass must stop;
// every per-file problem is reported through the disposition instead.
func (e *Engine) Sync(entry ManifestEntry) (Disposition, error) {
	e.log.Debug("Processing", "file", entry.RemoteName, "line", entry.Line)
	localPath, err := e.LocalPath(entry)
	if err != nil {
		e.log.Warn("Malformed file name", "file", entry.RemoteName, "line", entry.Line, "error", err)
		return MalformedFilename, nil
	}
	if err := e.local.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(localPath), err)
	}
	remotePath := path.Join(e.remoteDir, entry.RemoteName)

	exists, err := e.conn.Exists(remotePath)
	if err != nil {
		return 0, err
	}
	if !exists {
		e.log.Warn("Does not exist on remote server", "remote", remotePath)
		return SkippedRemoteMissing, nil
	}

	present, err := fileExists(e.local, localPath)
	if err != nil {
		return 0, err
	}
	if present {
		e.log.Info("Already exists", "remote", remotePath, "local", localPath)
	} else {
		e.log.Info("Downloading", "file", entry.RemoteName)
		if err := e.conn.DownloadFile(remotePath, localPath); err != nil {
			e.log.Warn("Download error", "remote", remotePath, "error", err)
		}
		present, err = fileExists(e.local, localPath)
		if err != nil {
			return 0, err
		}
		if !present {
			e.log.Warn("Download failed", "remote", remotePath)
			return FailedFetch, nil
		}
	}

	return e.verify(entry, remotePath, localPath), nil
}

func (e *Engine) verify(entry ManifestEntry, remotePath, localPath string) Disposition {
	sum, err := fileChecksum(e.local, localPath)
	if err != nil {
		e.log.Warn("Verification failed", "local", localPath, "error", err)
		return VerifyFailed
	}
	if e.checksumMatches(entry.Checksum, sum) {
		e.log.Debug("Verified", "local", localPath, "md5", sum)
		return VerifiedOK
	}

	mismatch := &ChecksumMismatchError{Path: localPath, Want: entry.Checksum, Got: sum}
	e.log.Warn("Download incomplete", "remote", remotePath, "error", mismatch)
	if err := e.local.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("Failed to remove corrupt file", "local", localPath, "error", err)
	}
	return VerifiedMismatchRemoved
}

func (e *Engine) checksumMatches(want, got string) bool {
	if e.strictCase {
		return want == got
	}
	return strings.EqualFold(want, got)
}

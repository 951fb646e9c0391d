package main

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
)

const (
	targetSuffix     = ".fastq.gz"
	undeterminedMark = "Undetermined"
	maxManifestLine  = 1024 * 1024
)

// ManifestEntry is one retained manifest record.
type ManifestEntry struct {
	Checksum   string
	RemoteName string
	Line       int
}

// Manifest is a checksum file that can be iterated any number of times.
type Manifest struct {
	fs   billy.Filesystem
	path string
}

func NewManifest(fs billy.Filesystem, path string) *Manifest {
	return &Manifest{fs: fs, path: path}
}

// Entries opens the manifest and yields retained entries in file order.
// Malformed lines are yielded as *ManifestParseError and iteration goes on;
// any other error ends the sequence.
func (m *Manifest) Entries() iter.Seq2[ManifestEntry, error] {
	return func(yield func(ManifestEntry, error) bool) {
		f, err := m.fs.Open(m.path)
		if err != nil {
			yield(ManifestEntry{}, fmt.Errorf("failed to open manifest: %w", err))
			return
		}
		defer func() {
			_ = f.Close()
		}()

		for entry, err := range ParseManifest(f) {
			if !yield(entry, err) {
				return
			}
		}
	}
}

// ParseManifest iterates a one-shot manifest stream.
func ParseManifest(r io.Reader) iter.Seq2[ManifestEntry, error] {
	return func(yield func(ManifestEntry, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxManifestLine)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			entry, ok, err := parseManifestLine(lineNum, scanner.Text())
			if err != nil {
				if !yield(ManifestEntry{}, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(ManifestEntry{}, fmt.Errorf("failed to read manifest: %w", err))
		}
	}
}

// parseManifestLine returns ok=false for blank lines and filtered names.
func parseManifestLine(lineNum int, line string) (ManifestEntry, bool, error) {
	cols := strings.Fields(line)
	switch len(cols) {
	case 0:
		return ManifestEntry{}, false, nil
	case 1:
		return ManifestEntry{}, false, &ManifestParseError{Line: lineNum, Text: line}
	}

	// md5sum marks binary mode with a leading '*'
	name := path.Base(strings.TrimPrefix(cols[1], "*"))
	if !isTargetFile(name) {
		return ManifestEntry{}, false, nil
	}
	return ManifestEntry{Checksum: cols[0], RemoteName: name, Line: lineNum}, true, nil
}

func isTargetFile(name string) bool {
	return !strings.Contains(name, undeterminedMark) && strings.HasSuffix(name, targetSuffix)
}

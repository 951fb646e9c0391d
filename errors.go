package main

import "fmt"

// ManifestParseError reports a manifest line with fewer than two columns.
type ManifestParseError struct {
	Line int
	Text string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("manifest line %d: expected at least 2 columns: %q", e.Line, e.Text)
}

// MalformedFilenameError reports a file name without a chip group field.
type MalformedFilenameError struct {
	Name string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed file name %q: no chip group at dash field %d", e.Name, chipField)
}

// TransportError wraps a failure of the remote connection.
type TransportError struct {
	Op   string // connect, exists or fetch
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChecksumMismatchError reports a local file whose digest differs from the manifest.
type ChecksumMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

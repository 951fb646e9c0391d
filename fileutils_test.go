package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/a/hello.fastq.gz", []byte("hello"), 0644))

	first, err := fileChecksum(fs, "/a/hello.fastq.gz")
	require.NoError(t, err)
	require.Equal(t, "5d41402abc4b2a76b9719d911017c592", first)

	second, err := fileChecksum(fs, "/a/hello.fastq.gz")
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = fileChecksum(fs, "/a/missing")
	require.Error(t, err)
}

func TestSaveRemoteFile(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T)
	}{
		{
			name: "creates parent directories",
			do: func(t *testing.T) {
				fs := memfs.New()
				require.NoError(t, saveRemoteFile(fs, "/out/chip/file.fastq.gz", strings.NewReader("data")))

				got, err := util.ReadFile(fs, "/out/chip/file.fastq.gz")
				require.NoError(t, err)
				require.Equal(t, "data", string(got))
			},
		},
		{
			name: "replaces existing content",
			do: func(t *testing.T) {
				fs := memfs.New()
				require.NoError(t, util.WriteFile(fs, "/out/f", []byte("old and longer"), 0644))
				require.NoError(t, saveRemoteFile(fs, "/out/f", strings.NewReader("new")))

				got, err := util.ReadFile(fs, "/out/f")
				require.NoError(t, err)
				require.Equal(t, "new", string(got))
			},
		},
		{
			name: "failed copy leaves nothing behind",
			do: func(t *testing.T) {
				fs := memfs.New()
				r := io.MultiReader(bytes.NewReader([]byte("part")), iotest.ErrReader(errors.New("reset")))
				err := saveRemoteFile(fs, "/out/f", r)
				require.ErrorContains(t, err, "reset")

				ok, err := fileExists(fs, "/out/f")
				require.NoError(t, err)
				require.False(t, ok)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.do(t)
		})
	}
}

func TestFileExists(t *testing.T) {
	fs := memfs.New()
	ok, err := fileExists(fs, "/nothing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fs.MkdirAll("/dir", 0755))
	ok, err = fileExists(fs, "/dir")
	require.NoError(t, err)
	require.True(t, ok)

	// idempotent create-if-absent
	require.NoError(t, fs.MkdirAll("/dir", 0755))
}

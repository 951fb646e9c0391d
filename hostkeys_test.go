package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var testRemoteAddr = &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}

func newHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func writeKnownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"core.example.org"}, key)
	require.NoError(t, os.WriteFile(p, []byte(line+"\n"), 0600))
	return p
}

func TestHostKeyVerifier(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T)
	}{
		{
			name: "unknown host accepted once and remembered",
			do: func(t *testing.T) {
				key := newHostKey(t)
				var out bytes.Buffer
				v, err := newHostKeyVerifier("", strings.NewReader("yes\n"), &out)
				require.NoError(t, err)

				require.NoError(t, v.Callback("core.example.org:22", testRemoteAddr, key))
				require.Contains(t, out.String(), ssh.FingerprintSHA256(key))

				out.Reset()
				require.NoError(t, v.Callback("core.example.org:22", testRemoteAddr, key))
				require.Empty(t, out.String())
			},
		},
		{
			name: "unknown host rejected",
			do: func(t *testing.T) {
				v, err := newHostKeyVerifier("", strings.NewReader("no\n"), &bytes.Buffer{})
				require.NoError(t, err)
				require.ErrorContains(t, v.Callback("core.example.org:22", testRemoteAddr, newHostKey(t)), "rejected")
			},
		},
		{
			name: "no answer is a rejection",
			do: func(t *testing.T) {
				v, err := newHostKeyVerifier("", strings.NewReader(""), &bytes.Buffer{})
				require.NoError(t, err)
				require.Error(t, v.Callback("core.example.org:22", testRemoteAddr, newHostKey(t)))
			},
		},
		{
			name: "known host passes without asking",
			do: func(t *testing.T) {
				key := newHostKey(t)
				var out bytes.Buffer
				v, err := newHostKeyVerifier(writeKnownHosts(t, key), strings.NewReader(""), &out)
				require.NoError(t, err)
				require.NoError(t, v.Callback("core.example.org:22", testRemoteAddr, key))
				require.Empty(t, out.String())
			},
		},
		{
			name: "changed host key is refused without asking",
			do: func(t *testing.T) {
				var out bytes.Buffer
				v, err := newHostKeyVerifier(writeKnownHosts(t, newHostKey(t)), strings.NewReader("yes\n"), &out)
				require.NoError(t, err)
				require.ErrorContains(t, v.Callback("core.example.org:22", testRemoteAddr, newHostKey(t)), "does not match")
				require.Empty(t, out.String())
			},
		},
		{
			name: "host missing from known_hosts falls back to the prompt",
			do: func(t *testing.T) {
				var out bytes.Buffer
				v, err := newHostKeyVerifier(writeKnownHosts(t, newHostKey(t)), strings.NewReader("y\n"), &out)
				require.NoError(t, err)
				require.NoError(t, v.Callback("other.example.org:22", testRemoteAddr, newHostKey(t)))
				require.Contains(t, out.String(), "other.example.org:22")
			},
		},
		{
			name: "missing known_hosts file is an error",
			do: func(t *testing.T) {
				_, err := newHostKeyVerifier(filepath.Join(t.TempDir(), "nope"), strings.NewReader(""), &bytes.Buffer{})
				require.ErrorContains(t, err, "failed to load known hosts")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.do(t)
		})
	}
}

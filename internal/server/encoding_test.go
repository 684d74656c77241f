package server

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateEncoding(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"identity", ""},
		{"gzip", "gzip"},
		{"gzip, deflate, br", "br"},
		{"deflate", "deflate"},
		{"br;q=0, gzip", "gzip"},
		{"gzip;q=0", ""},
		{"GZIP", "gzip"},
		{"gzip;q=0.5, deflate;q=0.9", "gzip"},
		{"*;q=0", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, negotiateEncoding(tt.header), "header %q", tt.header)
	}
}

func TestExtensionBlacklist(t *testing.T) {
	assert.True(t, extensionIsBlacklisted(".png"))
	assert.True(t, extensionIsBlacklisted("GZ"))
	assert.False(t, extensionIsBlacklisted(".txt"))
	assert.False(t, extensionIsBlacklisted(""))
}

func TestEncodeBytesRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox ", 100))

	enc := encodeBytes(data, "gzip")
	require.NotNil(t, enc)
	assert.Less(t, len(enc), len(data))

	zr, err := gzip.NewReader(bytes.NewReader(enc))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestEncodeFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.gz")
	content := strings.Repeat("compressible text line\n", 200)
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	require.True(t, encodeFile(src, dst, "gzip"))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, content, string(decoded))
}

func TestEncodeFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, encodeFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out"), "gzip"))
}

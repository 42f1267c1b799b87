package ziputil

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"META-INF/json/a.B":   "META-INF/json/a.B",
		"/abs/./x":            "abs/x",
		"C:/win/x":            "win/x",
		"../../escape/x":      "escape/x",
		"a/b/../c":            "a/c",
		"":                    "entry",
		"META-INF//json//a.B": "META-INF/json/a.B",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizePath(in), in)
	}
}

func TestIsArchive(t *testing.T) {
	assert.True(t, IsArchive("lib/app.jar"))
	assert.True(t, IsArchive("x.ZIP"))
	assert.False(t, IsArchive("target/classes"))
}

func writeArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, WriteFile(zw, "META-INF/json/a.B", []byte("one\n")))
	require.NoError(t, CopyFromReader(zw, "/x/../c.txt", strings.NewReader("two")))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestArchivesAreReproducible(t *testing.T) {
	a, b := writeArchive(t), writeArchive(t)
	assert.Equal(t, a, b)

	zr, err := zip.NewReader(bytes.NewReader(a), int64(len(a)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "c.txt", zr.File[1].Name)
	assert.True(t, zr.File[0].Modified.Equal(FixedZipTime))
}

func TestOpenEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.jar")
	require.NoError(t, os.WriteFile(path, writeArchive(t), 0o644))

	r, err := OpenEntry(path, "META-INF/json/a.B")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(b))
	require.NoError(t, r.Close())

	_, err = OpenEntry(path, "missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

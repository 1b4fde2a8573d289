package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_KnownContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	content := []byte("%PDF-1.7 hello world")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	h := sha256.Sum256(content)
	got, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(h[:]), got)
	assert.Len(t, got, 64)
}

func TestFile_NotFound(t *testing.T) {
	_, err := File("/nonexistent/doc.pdf")
	assert.Error(t, err)
}

func TestReader_SpansChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), (ChunkSize/16)*3+7)
	got, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Bytes(data), got)
}

func TestReader_Deterministic(t *testing.T) {
	a, err := Reader(strings.NewReader("same bytes"))
	require.NoError(t, err)
	b, err := Reader(strings.NewReader("same bytes"))
	require.NoError(t, err)
	c, err := Reader(strings.NewReader("other bytes"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/mdload/internal/domain"
)

// Writer places files into a single output directory. Writes go to a temp file
// in the same directory and are renamed into place.
type Writer struct {
	dir string
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.IOError(fmt.Sprintf("create output dir %s", dir), err)
	}
	return &Writer{dir: dir}, nil
}

// Write stores text under name and returns the final path. name is flattened
// to its base so it cannot escape the output directory.
func (w *Writer) Write(name, text string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", domain.ValidationError(fmt.Sprintf("invalid output name %q", name), nil)
	}
	dest := filepath.Join(w.dir, base)

	tmp, err := os.CreateTemp(w.dir, ".tmp-*")
	if err != nil {
		return "", domain.IOError("create temp output", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, 0o644)

	bw := bufio.NewWriter(tmp)
	if _, err := bw.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", domain.IOError("write output", err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", domain.IOError("flush output", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", domain.IOError("sync output", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", domain.IOError("close output", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", domain.IOError("commit output", err)
	}
	_ = syncDir(w.dir)

	return dest, nil
}

// syncDir persists the rename on filesystems that need it; failures are ignored.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

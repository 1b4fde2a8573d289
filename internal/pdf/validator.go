package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

// largeFileSize only triggers a warning; large inputs are still accepted.
const largeFileSize = 100 * 1024 * 1024

// supportedExts lists the formats MuPDF opens that make sense to transcribe.
var supportedExts = map[string]bool{
	".pdf":  true,
	".xps":  true,
	".epub": true,
	".cbz":  true,
}

// Validator provides input validation for source documents
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Validator{logger: logger}
}

// ValidatePath checks that path points to a readable file of a supported type
func (v *Validator) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExts[ext] {
		return domain.ValidationError(fmt.Sprintf("unsupported document type %q", ext), nil)
	}

	if info.Size() > largeFileSize {
		v.logger.Warn().
			Int("size_mb", int(info.Size()/(1024*1024))).
			Str("path", path).
			Msg("Document is very large, processing may take a while")
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}

// Package pdf splits documents into convertible units using go-fitz (MuPDF).
package pdf

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

// DefaultQuality is the JPEG quality used for rendered pages.
const DefaultQuality = 85

// Splitter renders pages to JPEG files in a private temp directory and groups
// them into units.
type Splitter struct {
	quality   int
	render    bool
	validator *Validator
	logger    *observability.Logger
}

// SplitterOption configures a Splitter.
type SplitterOption func(*Splitter)

// WithQuality sets the JPEG quality of rendered pages.
func WithQuality(q int) SplitterOption {
	return func(s *Splitter) { s.quality = q }
}

// WithoutImages skips rasterization when no tier consumes page images.
func WithoutImages() SplitterOption {
	return func(s *Splitter) { s.render = false }
}

// NewSplitter creates a new splitter instance
func NewSplitter(logger *observability.Logger, opts ...SplitterOption) *Splitter {
	if logger == nil {
		logger = observability.NewNop()
	}
	s := &Splitter{
		quality:   DefaultQuality,
		render:    true,
		validator: NewValidator(logger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.Splitter = (*Splitter)(nil)

func noop() error { return nil }

// Split opens doc, renders its pages and returns the units in page order.
// Any failure is a SplitError; the returned cleanup is safe to call regardless.
func (s *Splitter) Split(ctx context.Context, doc domain.Document, mode domain.Mode) ([]domain.Unit, func() error, error) {
	if err := s.validator.ValidatePath(doc.FilePath); err != nil {
		return nil, noop, domain.SplitError("invalid source document", err)
	}
	if err := s.validator.ValidateQuality(s.quality); err != nil {
		return nil, noop, domain.SplitError("invalid render quality", err)
	}

	fdoc, err := fitz.New(doc.FilePath)
	if err != nil {
		return nil, noop, domain.SplitError("failed to open document", err)
	}
	defer fdoc.Close()

	pageCount := fdoc.NumPage()
	if pageCount == 0 {
		return nil, noop, domain.SplitError("document has no pages", nil)
	}

	images := make([]string, pageCount)
	cleanup := noop

	if s.render {
		tempDir, err := os.MkdirTemp("", "mdload-*")
		if err != nil {
			return nil, noop, domain.SplitError("failed to create temp directory", err)
		}
		cleanup = func() error {
			if err := os.RemoveAll(tempDir); err != nil {
				return domain.IOError("failed to remove temp directory", err)
			}
			return nil
		}

		for page := 0; page < pageCount; page++ {
			if err := ctx.Err(); err != nil {
				return nil, noop, errors.Join(domain.SplitError("split canceled", err), cleanup())
			}

			path, err := s.renderPage(fdoc, tempDir, page)
			if err != nil {
				return nil, noop, errors.Join(err, cleanup())
			}
			images[page] = path
		}

		s.logger.Debug().
			Int("pages", pageCount).
			Str("dir", tempDir).
			Msg("Rendered document pages")
	}

	return buildUnits(doc.FilePath, pageCount, images, mode), cleanup, nil
}

func (s *Splitter) renderPage(fdoc *fitz.Document, dir string, page int) (string, error) {
	img, err := fdoc.Image(page)
	if err != nil {
		return "", domain.SplitError(fmt.Sprintf("failed to render page %d", page), err)
	}

	path := filepath.Join(dir, fmt.Sprintf("page_%05d.jpg", page))
	out, err := os.Create(path)
	if err != nil {
		return "", domain.SplitError(fmt.Sprintf("failed to create image for page %d", page), err)
	}

	err = jpeg.Encode(out, img, &jpeg.Options{Quality: s.quality})
	closeErr := out.Close()
	if err != nil {
		return "", domain.SplitError(fmt.Sprintf("failed to encode page %d", page), err)
	}
	if closeErr != nil {
		return "", domain.SplitError(fmt.Sprintf("failed to write page %d", page), closeErr)
	}
	return path, nil
}

// buildUnits yields one unit per page, or a single index-less unit covering
// every page in document mode. images may hold empty paths when rendering
// was skipped.
func buildUnits(source string, pageCount int, images []string, mode domain.Mode) []domain.Unit {
	if mode == domain.ModeDocument {
		pages := make([]int, pageCount)
		for i := range pages {
			pages[i] = i
		}
		return []domain.Unit{{
			SourcePath: source,
			Pages:      pages,
			Images:     compact(images),
		}}
	}

	units := make([]domain.Unit, pageCount)
	for i := 0; i < pageCount; i++ {
		units[i] = domain.Unit{
			Index:      domain.PageIndex(i),
			SourcePath: source,
			Pages:      []int{i},
			Images:     compact(images[i : i+1]),
		}
	}
	return units
}

func compact(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

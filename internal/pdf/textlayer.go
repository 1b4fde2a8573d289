package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/mdload/internal/domain"
)

// TextLayerVersion is bumped whenever the extraction output changes shape.
const TextLayerVersion = "1"

// TextLayer converts units by reading the document's embedded text layer. It
// needs no rendered images and is the cheapest possible tier.
type TextLayer struct {
	id domain.ConverterIdentity
}

// NewTextLayer creates a text-layer converter for the named tier.
func NewTextLayer(tierName, signature string) *TextLayer {
	return &TextLayer{id: domain.ConverterIdentity{
		TierName:         tierName,
		ModelID:          "mupdf-text",
		ConverterVersion: TextLayerVersion,
		ConfigSignature:  signature,
	}}
}

var _ domain.Converter = (*TextLayer)(nil)

func (t *TextLayer) Identity() domain.ConverterIdentity { return t.id }

// Convert opens its own document handle; MuPDF handles are not shared between
// goroutines.
func (t *TextLayer) Convert(ctx context.Context, unit domain.Unit) (string, error) {
	fdoc, err := fitz.New(unit.SourcePath)
	if err != nil {
		return "", domain.ConverterFailure("failed to open document", err)
	}
	defer fdoc.Close()

	parts := make([]string, 0, len(unit.Pages))
	for _, page := range unit.Pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if page < 0 || page >= fdoc.NumPage() {
			return "", domain.ConverterFailure(fmt.Sprintf("page %d out of range", page), nil)
		}
		text, err := fdoc.Text(page)
		if err != nil {
			return "", domain.ConverterFailure(fmt.Sprintf("failed to extract text of page %d", page), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

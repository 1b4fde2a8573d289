package tiering

import (
	"fmt"

	"github.com/spherical/mdload/internal/config"
	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/llm"
	"github.com/spherical/mdload/internal/observability"
	"github.com/spherical/mdload/internal/ocr"
	"github.com/spherical/mdload/internal/pdf"
)

// BuildTiers creates one converter per configured tier, in order.
func BuildTiers(cfg *config.Config, logger *observability.Logger) ([]domain.Converter, error) {
	tiers := make([]domain.Converter, 0, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		conv, err := buildTier(cfg, tc, logger)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		tiers = append(tiers, conv)
	}
	return tiers, nil
}

func buildTier(cfg *config.Config, tc config.TierConfig, logger *observability.Logger) (domain.Converter, error) {
	switch tc.Backend {
	case "openrouter":
		client, err := llm.NewClient(llm.Config{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     tc.Model,
			TierName:  tc.Name,
			Version:   tc.Version,
			Signature: tc.Signature(),
			Timeout:   cfg.LLM.Timeout,
			Retry:     retryConfig(cfg.LLM.MaxRetries),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "tesseract":
		if !ocr.Available {
			return nil, domain.ConfigError("tesseract backend is not compiled into this binary (built with notesseract)", nil)
		}
		tess, err := ocr.NewTesseract(tc.Name, tc.Signature(), ocr.ParseOptions(tc.Options))
		if err != nil {
			return nil, err
		}
		return tess, nil
	case "textlayer":
		return pdf.NewTextLayer(tc.Name, tc.Signature()), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown backend %q", tc.Backend), nil)
	}
}

// Identity returns the converter identity a tier would report, without
// constructing the converter. Cache keys can be derived from configuration
// alone, even when an API key is missing.
func Identity(tc config.TierConfig) (domain.ConverterIdentity, error) {
	switch tc.Backend {
	case "openrouter":
		return domain.ConverterIdentity{
			TierName:         tc.Name,
			ModelID:          tc.Model,
			ConverterVersion: tc.Version,
			ConfigSignature:  tc.Signature(),
		}, nil
	case "tesseract":
		return ocr.Identity(tc.Name, tc.Signature(), ocr.ParseOptions(tc.Options)), nil
	case "textlayer":
		return pdf.NewTextLayer(tc.Name, tc.Signature()).Identity(), nil
	default:
		return domain.ConverterIdentity{}, domain.ConfigError(fmt.Sprintf("unknown backend %q", tc.Backend), nil)
	}
}

func retryConfig(maxRetries int) *llm.RetryConfig {
	rc := llm.DefaultRetryConfig()
	if maxRetries > 0 {
		rc.MaxRetries = maxRetries
	}
	return rc
}

// NeedsImages reports whether any tier consumes rendered page images.
func NeedsImages(cfg *config.Config) bool {
	for _, tc := range cfg.Tiers {
		if tc.Backend != "textlayer" {
			return true
		}
	}
	return false
}

// NewSplitter builds the document splitter matching cfg.
func NewSplitter(cfg *config.Config, logger *observability.Logger) domain.Splitter {
	opts := []pdf.SplitterOption{pdf.WithQuality(cfg.Conversion.RenderQuality)}
	if !NeedsImages(cfg) {
		opts = append(opts, pdf.WithoutImages())
	}
	return pdf.NewSplitter(logger, opts...)
}

// PolicyFromConfig maps the escalation section onto a BudgetPolicy.
func PolicyFromConfig(cfg config.EscalationConfig) *BudgetPolicy {
	return &BudgetPolicy{MaxFraction: cfg.MaxFraction, MaxAbsolute: cfg.MaxAbsolute}
}

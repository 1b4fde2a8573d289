package mdload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
	"github.com/spherical/mdload/internal/pdf/pdftest"
)

func textLayerConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Tiers = []TierConfig{
		{Name: "text", Backend: "textlayer", Version: "1"},
		{Name: "text-again", Backend: "textlayer", Version: "2"},
	}
	cfg.Cache.Driver = "memory"
	cfg.Conversion.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestClient_ConvertAndWrite(t *testing.T) {
	src := pdftest.Write(t, t.TempDir(), "Quarterly Report.pdf", "Revenue grew", "Costs fell")

	client, err := NewClientWithConfig(context.Background(), textLayerConfig(t), WithLogger(observability.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	events := make(chan StreamEvent, 32)
	res, err := client.ConvertWithEvents(context.Background(), src, "", events)
	require.NoError(t, err)
	close(events)

	require.Len(t, res.Texts, 2)
	assert.Contains(t, res.Text(), "Revenue grew")
	assert.Contains(t, res.Text(), "Costs fell")

	var complete int
	for ev := range events {
		if ev.Type == EventComplete {
			complete++
		}
	}
	assert.Equal(t, 1, complete)

	path, err := client.WriteMarkdown(res, "", src)
	require.NoError(t, err)
	assert.Equal(t, "quarterly-report.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Text(), string(data))
}

func TestClient_DocumentMode(t *testing.T) {
	src := pdftest.Write(t, t.TempDir(), "two.pdf", "Alpha", "Beta")

	client, err := NewClientWithConfig(context.Background(), textLayerConfig(t), WithLogger(observability.NewNop()))
	require.NoError(t, err)
	defer client.Close()

	res, err := client.Convert(context.Background(), src, ModeDocument)
	require.NoError(t, err)
	require.Len(t, res.Texts, 1)
	assert.Nil(t, res.Units[0].Index)
	assert.Less(t, strings.Index(res.Text(), "Alpha"), strings.Index(res.Text(), "Beta"))
}

func TestClient_WithCustomTiers(t *testing.T) {
	src := pdftest.Write(t, t.TempDir(), "one.pdf", "Ignored")
	store := NewMemoryCache()

	client, err := NewClientWithConfig(context.Background(), textLayerConfig(t),
		WithLogger(observability.NewNop()),
		WithCache(store),
		WithValidator(domain.ValidatorFunc(func(string) bool { return false })),
		WithTiers(stubTier{"a"}, stubTier{"b"}),
	)
	require.NoError(t, err)

	res, err := client.Convert(context.Background(), src, ModePage)
	require.NoError(t, err)
	assert.Equal(t, "from a", res.Text())
	assert.Equal(t, 1, store.Len())
	assert.False(t, client.IsSuspect("anything"))
}

func TestNewClientWithConfig_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Conversion.Workers = 0

	_, err := NewClientWithConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

type stubTier struct{ name string }

func (s stubTier) Identity() domain.ConverterIdentity {
	return domain.ConverterIdentity{TierName: s.name, ModelID: s.name, ConverterVersion: "1"}
}

func (s stubTier) Convert(context.Context, domain.Unit) (string, error) {
	return "from " + s.name, nil
}

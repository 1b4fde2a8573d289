package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOptions(t *testing.T) {
	opts := ParseOptions(map[string]string{"lang": "eng+deu", "tessedit_pageseg_mode": "6"})
	assert.Equal(t, []string{"eng", "deu"}, opts.Languages)
	assert.Equal(t, map[string]string{"tessedit_pageseg_mode": "6"}, opts.Variables)

	defaults := ParseOptions(nil)
	assert.Equal(t, []string{"eng"}, defaults.Languages)
	assert.Empty(t, defaults.Variables)
}

func TestIdentity(t *testing.T) {
	id := Identity("ocr", "backend=tesseract;lang=eng+deu", ParseOptions(map[string]string{"lang": "eng,deu"}))
	assert.Equal(t, "ocr", id.TierName)
	assert.Equal(t, "tesseract:eng+deu", id.ModelID)
	assert.Equal(t, Version, id.ConverterVersion)
}

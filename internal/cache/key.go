// Package cache persists converter output keyed by a content-addressed cache key.
package cache

import (
	"fmt"

	"github.com/spherical/mdload/internal/digest"
	"github.com/spherical/mdload/internal/domain"
)

// UnitID renders the unit component of a cache key: "doc" for whole-document
// units, "p00042" for page 42.
func UnitID(index *int) string {
	if index == nil {
		return "doc"
	}
	return fmt.Sprintf("p%05d", *index)
}

// Key derives the cache key for a unit converted by the given identity. The
// tier name is not part of the key, so renaming or reordering tiers keeps
// their cached texts.
func Key(contentHash string, index *int, id domain.ConverterIdentity) string {
	raw := fmt.Sprintf("%s:%s:%s:%s:%s",
		contentHash, UnitID(index), id.ModelID, id.ConverterVersion, id.ConfigSignature)
	return digest.Bytes([]byte(raw))
}

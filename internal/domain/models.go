package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a document is partitioned into units
type Mode string

const (
	// ModeDocument converts the whole document as a single unit
	ModeDocument Mode = "document"
	// ModePage converts every page as an independent unit
	ModePage Mode = "page"
)

// ParseMode normalizes a user supplied mode string
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "page", "pages", "per-page", "":
		return ModePage, nil
	case "document", "doc", "whole":
		return ModeDocument, nil
	default:
		return "", ValidationError(fmt.Sprintf("unknown conversion mode %q", s), nil)
	}
}

// Document represents the source file being processed
type Document struct {
	FilePath    string
	ContentHash string // hex sha256 of the full file, filled in by the pipeline
}

// Unit is an independently convertible part of a document.
// Index is nil in whole-document mode.
type Unit struct {
	Index      *int
	SourcePath string
	Pages      []int    // 0-based page numbers covered by this unit, in order
	Images     []string // rendered page images parallel to Pages, empty when not rendered
}

// PageIndex returns a pointer to i, for building page units
func PageIndex(i int) *int { return &i }

// Label is a short human readable unit name used in logs and error markers
func (u Unit) Label() string {
	if u.Index == nil {
		return "doc"
	}
	return fmt.Sprintf("page %d", *u.Index)
}

// ConverterIdentity identifies the deterministic transformation that produced a text
type ConverterIdentity struct {
	TierName         string `json:"tier_name"`
	ModelID          string `json:"model_id"`
	ConverterVersion string `json:"converter_version"`
	ConfigSignature  string `json:"config_signature"`
}

func (id ConverterIdentity) String() string {
	return fmt.Sprintf("%s(%s@%s)", id.TierName, id.ModelID, id.ConverterVersion)
}

// UnitSource records where a unit's final text came from
type UnitSource string

const (
	SourceCache     UnitSource = "cache"
	SourceConverted UnitSource = "converted"
	SourceFallback  UnitSource = "fallback"
	SourceError     UnitSource = "error"
)

// UnitOutcome describes the decision taken for one unit
type UnitOutcome struct {
	Index     *int       `json:"index,omitempty"`
	Tier      string     `json:"tier,omitempty"`
	Source    UnitSource `json:"source"`
	Suspect   bool       `json:"suspect"`
	Escalated bool       `json:"escalated"`
	Forced    bool       `json:"forced"`
	Error     string     `json:"error,omitempty"`
}

// RunStats aggregates unit outcomes for a single run
type RunStats struct {
	Units              int           `json:"units"`
	CacheHits          int           `json:"cache_hits"`
	Conversions        int           `json:"conversions"`
	QualityEscalations int           `json:"quality_escalations"`
	ForcedEscalations  int           `json:"forced_escalations"`
	Fallbacks          int           `json:"fallbacks"`
	Errors             int           `json:"errors"`
	BudgetInitial      int           `json:"budget_initial"`
	BudgetRemaining    int           `json:"budget_remaining"`
	Duration           time.Duration `json:"duration"`
}

// Result is the ordered output of a run
type Result struct {
	RunID       string        `json:"run_id"`
	ContentHash string        `json:"content_hash"`
	Texts       []string      `json:"-"`
	Units       []UnitOutcome `json:"units"`
	Stats       RunStats      `json:"stats"`
}

// UnitSeparator joins per-unit texts into the final document
const UnitSeparator = "\n\n"

// Text concatenates unit texts in unit order
func (r *Result) Text() string {
	return strings.Join(r.Texts, UnitSeparator)
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventUnitProcessing EventType = "unit_processing"
	EventEscalation     EventType = "escalation"
	EventUnitComplete   EventType = "unit_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type      EventType   `json:"type"`
	Unit      *int        `json:"unit,omitempty"`
	Total     int         `json:"total,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

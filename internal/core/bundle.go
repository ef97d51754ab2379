package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ScoreInfo is the metadata block presented ahead of the description.
type ScoreInfo struct {
	Title         string   `json:"title"`
	Composer      string   `json:"composer"`
	TimeSignature string   `json:"time_signature"`
	KeySignature  string   `json:"key_signature"`
	Tempo         string   `json:"tempo"`
	Instruments   []string `json:"instruments"`
	PartCount     int      `json:"part_count"`
	BarCount      int      `json:"bar_count"`
}

// BeatDescription is the rendered text for one beat of one bar.
type BeatDescription struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// BarDescription is the rendered text for one bar, addressable by ordinal
// and display label.
type BarDescription struct {
	Ordinal    int               `json:"ordinal"`
	Label      string            `json:"label"`
	Repetition string            `json:"repetition,omitempty"`
	Beats      []BeatDescription `json:"beats"`
}

// DescriptionSegment is one navigable unit of the description: a bar
// group within one staff of one part. ID is stable across re-renders of
// the same score and configuration.
type DescriptionSegment struct {
	ID           string           `json:"id"`
	PartIndex    int              `json:"part_index"`
	StaffIndex   int              `json:"staff_index"`
	StartOrdinal int              `json:"start_ordinal"`
	EndOrdinal   int              `json:"end_ordinal"`
	StartLabel   string           `json:"start_label"`
	EndLabel     string           `json:"end_label"`
	Heading      string           `json:"heading"`
	Headers      []string         `json:"headers,omitempty"`
	Bars         []BarDescription `json:"bars"`
}

// AudioKeyEntry is one lazily-resolvable audio artifact reference in the
// output bundle's registry.
type AudioKeyEntry struct {
	Key          string `json:"key"`
	StartOrdinal int    `json:"start_ordinal"`
	EndOrdinal   int    `json:"end_ordinal"`
	Selection    string `json:"selection"`
	TempoPercent int    `json:"tempo_percent"`
	ClickTrack   bool   `json:"click_track"`
}

// OutputBundle is the complete result of one generation request, handed
// whole to the presentation layer.
type OutputBundle struct {
	ScoreID          string               `json:"score_id"`
	Info             ScoreInfo            `json:"info"`
	Summary          []string             `json:"summary"`
	Segments         []DescriptionSegment `json:"segments"`
	AudioKeys        []AudioKeyEntry      `json:"audio_keys"`
	UnsupportedCount int                  `json:"unsupported_count"`
	Degradations     []Degradation        `json:"degradations,omitempty"`
}

// PartSelection names the virtual part composed for an audio request.
type PartSelection string

const (
	SelectionSelected   PartSelection = "sel"
	SelectionUnselected PartSelection = "un"
	SelectionAll        PartSelection = "all"
)

// AudioRequest identifies one audio artifact: a contiguous bar range, a
// virtual part selection, a tempo multiplier, and a click-track flag.
type AudioRequest struct {
	StartOrdinal    int
	EndOrdinal      int
	Selection       PartSelection
	Parts           []int
	TempoMultiplier float64
	ClickTrack      bool
}

var allowedTempoMultipliers = map[float64]struct{}{
	0.5: {},
	1.0: {},
	1.5: {},
}

// Validate checks the request against the supported parameter sets.
func (r AudioRequest) Validate() error {
	if r.StartOrdinal < 0 || r.EndOrdinal < r.StartOrdinal {
		return fmt.Errorf("%w: bar range %d to %d", ErrInvalidOption, r.StartOrdinal, r.EndOrdinal)
	}

	if _, ok := allowedTempoMultipliers[r.TempoMultiplier]; !ok {
		return fmt.Errorf("%w: tempo multiplier %v", ErrInvalidOption, r.TempoMultiplier)
	}

	switch r.Selection {
	case SelectionSelected, SelectionUnselected, SelectionAll:
	default:
		return fmt.Errorf("%w: selection %q", ErrInvalidOption, r.Selection)
	}

	return nil
}

// TempoPercent returns the multiplier as a whole percentage.
func (r AudioRequest) TempoPercent() int {
	return int(math.Round(r.TempoMultiplier * 100))
}

// Key returns the canonical cache key for this request. Part indices are
// sorted and deduplicated so equivalent requests share one key.
func (r AudioRequest) Key(scoreID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s-s%d-e%d-%s", scoreID, r.StartOrdinal, r.EndOrdinal, r.Selection)

	if r.Selection != SelectionAll {
		for _, p := range normalizeParts(r.Parts) {
			fmt.Fprintf(&b, "p%d", p)
		}
	}

	click := 0
	if r.ClickTrack {
		click = 1
	}

	fmt.Fprintf(&b, "-t%d-c%d.mid", r.TempoPercent(), click)

	return b.String()
}

func normalizeParts(parts []int) []int {
	out := make([]int, len(parts))
	copy(out, parts)
	sort.Ints(out)

	return dedupe(out)
}

package core

import "sort"

// ElementKind distinguishes the variants a bar position can hold.
type ElementKind string

const (
	ElementNote        ElementKind = "note"
	ElementChord       ElementKind = "chord"
	ElementRest        ElementKind = "rest"
	ElementUnpitched   ElementKind = "unpitched"
	ElementPlaceholder ElementKind = "placeholder"
)

// TieState marks an element's position within a tie chain.
type TieState string

const (
	TieNone     TieState = ""
	TieStart    TieState = "start"
	TieContinue TieState = "continue"
	TieStop     TieState = "stop"
)

// BaseValue is the base rhythmic value of a duration, before dots and
// tuplet ratios. BaseGrace marks a zero-length grace note.
type BaseValue int

const (
	BaseGrace BaseValue = iota
	BaseWhole
	BaseHalf
	BaseQuarter
	BaseEighth
	BaseSixteenth
	BaseThirtySecond
	BaseSixtyFourth
)

// Pitch is a concrete pitch: step letter, chromatic alteration in
// semitones, and octave.
type Pitch struct {
	Step   string
	Alter  int
	Octave int
}

var stepSemitones = map[string]int{
	"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11,
}

// Midi returns the MIDI note number, middle C (C4) = 60.
func (p Pitch) Midi() int {
	return (p.Octave+1)*12 + stepSemitones[p.Step] + p.Alter
}

// Duration decomposes a length into a base value, dot count, and tuplet
// ratio. Divs is the resolved length in the owning bar's division units.
type Duration struct {
	Base         BaseValue
	Dots         int
	TupletActual int
	TupletNormal int
	Divs         int
}

// RhythmEqual reports whether two durations name the same rhythm.
func (d Duration) RhythmEqual(o Duration) bool {
	return d.Base == o.Base && d.Dots == o.Dots &&
		d.TupletActual == o.TupletActual && d.TupletNormal == o.TupletNormal
}

// Tuplet reports whether the duration carries a tuplet ratio.
func (d Duration) Tuplet() bool {
	return d.TupletActual > 1 && d.TupletNormal > 0
}

// Element is one entry at a bar position: a note, chord, rest, unpitched
// strike, or a placeholder for a recognized-but-unmodeled construct.
type Element struct {
	Kind          ElementKind
	Pitches       []Pitch
	Duration      Duration
	Tie           TieState
	GraceNote     bool
	Accidental    bool
	Articulations []string
	Dynamics      []string
	Placeholder   string
	OffsetDivs    int
}

// Sounding reports whether the element produces pitched sound.
func (e Element) Sounding() bool {
	return e.Kind == ElementNote || e.Kind == ElementChord
}

// PitchesLowToHigh returns a copy of the pitch set ordered by ascending
// pitch height. The model preserves input order; naming and playback
// order on demand.
func (e Element) PitchesLowToHigh() []Pitch {
	out := make([]Pitch, len(e.Pitches))
	copy(out, e.Pitches)
	sort.Slice(out, func(i, j int) bool { return out[i].Midi() < out[j].Midi() })

	return out
}

// Beat groups the elements starting within one beat of a bar.
type Beat struct {
	Number   int
	Elements []Element
}

// Bar is one measure. Ordinal is the dense index into the staff's bar
// sequence; Label is the displayed bar number, which may repeat or skip
// and is never used as a lookup key.
type Bar struct {
	Ordinal        int
	Label          string
	Pickup         bool
	DivsPerQuarter int
	Divisions      int
	Beats          []Beat
}

// AllElements returns the bar's elements in onset order across beats.
func (b Bar) AllElements() []Element {
	var out []Element
	for _, beat := range b.Beats {
		out = append(out, beat.Elements...)
	}

	return out
}

// Staff is one ordered sequence of bars within a part.
type Staff struct {
	Bars []Bar
}

// Part is one instrument or staff group.
type Part struct {
	ID     string
	Name   string
	Staves []Staff
}

// Score is the root of the model. One generation request owns one Score;
// nothing is shared across requests.
type Score struct {
	Title        string
	Composer     string
	Parts        []Part
	TimeChanges  []TimeSignatureChange
	KeyChanges   []KeySignatureChange
	TempoChanges []TempoChange
	Degradations []Degradation
}

// TimeSignatureChange takes effect at the start of the bar at BarOrdinal.
type TimeSignatureChange struct {
	BarOrdinal int
	Beats      int
	BeatType   int
}

// KeySignatureChange takes effect at the start of the bar at BarOrdinal.
type KeySignatureChange struct {
	BarOrdinal int
	Fifths     int
}

// TempoChange takes effect at OffsetDivs within the bar at BarOrdinal.
// Text carries the verbal marking ("Allegro") when present.
type TempoChange struct {
	BarOrdinal int
	OffsetDivs int
	BPM        float64
	Referent   Duration
	Text       string
}

// Documented defaults substituted when a score never states an attribute.
var (
	DefaultTimeSignature = TimeSignatureChange{BarOrdinal: 0, Beats: 4, BeatType: 4}
	DefaultKeySignature  = KeySignatureChange{BarOrdinal: 0, Fifths: 0}
	DefaultTempo         = TempoChange{
		BarOrdinal: 0,
		OffsetDivs: 0,
		BPM:        120,
		Referent:   Duration{Base: BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 0},
		Text:       "",
	}
)

// NormalizeAttributeChanges sorts each attribute change list by position
// and removes duplicate (position, value) entries.
func (s *Score) NormalizeAttributeChanges() {
	sort.SliceStable(s.TimeChanges, func(i, j int) bool {
		return s.TimeChanges[i].BarOrdinal < s.TimeChanges[j].BarOrdinal
	})
	s.TimeChanges = dedupe(s.TimeChanges)

	sort.SliceStable(s.KeyChanges, func(i, j int) bool {
		return s.KeyChanges[i].BarOrdinal < s.KeyChanges[j].BarOrdinal
	})
	s.KeyChanges = dedupe(s.KeyChanges)

	sort.SliceStable(s.TempoChanges, func(i, j int) bool {
		a, b := s.TempoChanges[i], s.TempoChanges[j]
		if a.BarOrdinal != b.BarOrdinal {
			return a.BarOrdinal < b.BarOrdinal
		}

		return a.OffsetDivs < b.OffsetDivs
	})
	s.TempoChanges = dedupe(s.TempoChanges)
}

func dedupe[T comparable](in []T) []T {
	out := in[:0]
	for i, v := range in {
		if i > 0 && v == in[i-1] {
			continue
		}

		out = append(out, v)
	}

	return out
}

// TimeSignatureAt returns the time signature in effect at the bar.
func (s *Score) TimeSignatureAt(ordinal int) TimeSignatureChange {
	cur := DefaultTimeSignature
	for _, c := range s.TimeChanges {
		if c.BarOrdinal > ordinal {
			break
		}

		cur = c
	}

	return cur
}

// KeySignatureAt returns the key signature in effect at the bar.
func (s *Score) KeySignatureAt(ordinal int) KeySignatureChange {
	cur := DefaultKeySignature
	for _, c := range s.KeyChanges {
		if c.BarOrdinal > ordinal {
			break
		}

		cur = c
	}

	return cur
}

// TempoAt returns the tempo in effect at the start of the bar. A change
// inside a bar (offset > 0) counts only for later bars.
func (s *Score) TempoAt(ordinal int) TempoChange {
	cur := DefaultTempo
	for _, c := range s.TempoChanges {
		if c.BarOrdinal > ordinal {
			break
		}

		if c.BarOrdinal == ordinal && c.OffsetDivs > 0 {
			continue
		}

		cur = c
	}

	return cur
}

// BarCount returns the longest bar sequence across all staves.
func (s *Score) BarCount() int {
	count := 0
	for _, part := range s.Parts {
		for _, staff := range part.Staves {
			if len(staff.Bars) > count {
				count = len(staff.Bars)
			}
		}
	}

	return count
}

// CompareMode selects the fingerprint comparison space.
type CompareMode string

const (
	CompareExact    CompareMode = "exact"
	CompareRhythm   CompareMode = "rhythm"
	CompareInterval CompareMode = "interval"
)

// RepetitionGroup is the set of granularity units sharing one fingerprint
// under one comparison mode. Groups are built fresh per analysis run and
// never mutated afterwards.
type RepetitionGroup struct {
	Mode        CompareMode
	Fingerprint string
	Ordinals    []int
	First       int
	Latest      int
	Count       int
}

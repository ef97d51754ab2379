package core

import "fmt"

// PitchNaming selects how pitch letters are spoken.
type PitchNaming string

const (
	PitchColour   PitchNaming = "colour"
	PitchNames    PitchNaming = "names"
	PitchPhonetic PitchNaming = "phonetic"
	PitchNone     PitchNaming = "none"
)

// RhythmNaming selects the rhythm vocabulary.
type RhythmNaming string

const (
	RhythmBritish  RhythmNaming = "british"
	RhythmAmerican RhythmNaming = "american"
	RhythmNone     RhythmNaming = "none"
)

// DotPlacement positions the dot word relative to the rhythm token.
type DotPlacement string

const (
	DotBefore DotPlacement = "before"
	DotAfter  DotPlacement = "after"
)

// RhythmAnnouncement selects when the rhythm token is spoken.
type RhythmAnnouncement string

const (
	RhythmOnChange  RhythmAnnouncement = "onchange"
	RhythmEveryNote RhythmAnnouncement = "everynote"
)

// OctaveNaming selects how octaves are spoken.
type OctaveNaming string

const (
	OctaveName   OctaveNaming = "name"
	OctaveNumber OctaveNaming = "number"
	OctaveNone   OctaveNaming = "none"
)

// OctavePosition positions the octave token relative to the pitch token.
type OctavePosition string

const (
	OctaveBefore OctavePosition = "before"
	OctaveAfter  OctavePosition = "after"
)

// OctaveAnnouncement selects when the octave token is spoken. Braille
// rules behave as on-change plus a forced announcement on the first
// sounding note of every bar.
type OctaveAnnouncement string

const (
	OctaveBraille       OctaveAnnouncement = "braille"
	OctaveEveryNote     OctaveAnnouncement = "everynote"
	OctaveFirstBeatNote OctaveAnnouncement = "firstbeatnote"
	OctaveOnChange      OctaveAnnouncement = "onchange"
)

// AccidentalStyle selects accidental words or symbols.
type AccidentalStyle string

const (
	AccidentalWords   AccidentalStyle = "words"
	AccidentalSymbols AccidentalStyle = "symbols"
)

// ElementColour assigns foreground and background colours to one element
// class. The background value "auto" selects the per-letter pitch palette
// with a contrast-computed foreground. Empty values leave the class
// unstyled.
type ElementColour struct {
	Foreground string `json:"foreground"`
	Background string `json:"background"`
}

// Styled reports whether any colour is assigned.
func (c ElementColour) Styled() bool {
	return c.Foreground != "" || c.Background != ""
}

// DefaultBarsPerSegment is the segment length used when a request does
// not state one.
const DefaultBarsPerSegment = 2

// RenderOptions is the raw option set received from the options layer.
// Boolean fields are phrased so the zero value selects the documented
// default.
type RenderOptions struct {
	Pitch              string        `json:"pitch"`
	Rhythm             string        `json:"rhythm"`
	DotPlacement       string        `json:"dot_placement"`
	RhythmAnnouncement string        `json:"rhythm_announcement"`
	Octave             string        `json:"octave"`
	OctavePosition     string        `json:"octave_position"`
	OctaveAnnouncement string        `json:"octave_announcement"`
	AccidentalStyle    string        `json:"accidental_style"`
	BarsPerSegment     int           `json:"bars_per_segment"`
	PitchStyle         ElementColour `json:"pitch_style"`
	OctaveStyle        ElementColour `json:"octave_style"`
	RhythmStyle        ElementColour `json:"rhythm_style"`
	OmitRests          bool          `json:"omit_rests"`
	OmitTies           bool          `json:"omit_ties"`
	OmitDynamics       bool          `json:"omit_dynamics"`
	PlainChords        bool          `json:"plain_chords"`
}

// RenderConfig is the validated, immutable configuration snapshot for one
// generation request. It is always passed by value.
type RenderConfig struct {
	Pitch              PitchNaming
	Rhythm             RhythmNaming
	DotPlacement       DotPlacement
	RhythmAnnouncement RhythmAnnouncement
	Octave             OctaveNaming
	OctavePosition     OctavePosition
	OctaveAnnouncement OctaveAnnouncement
	AccidentalStyle    AccidentalStyle
	BarsPerSegment     int
	PitchStyle         ElementColour
	OctaveStyle        ElementColour
	RhythmStyle        ElementColour
	IncludeRests       bool
	IncludeTies        bool
	IncludeDynamics    bool
	DescribeChords     bool
}

// NewRenderConfig validates raw options into a RenderConfig. Empty fields
// take their documented defaults; values outside the enumerated sets fail
// with ErrInvalidOption.
func NewRenderConfig(opts RenderOptions) (RenderConfig, error) {
	var (
		cfg RenderConfig
		err error
	)

	cfg.Pitch, err = parseEnum("pitch", opts.Pitch, PitchNames,
		PitchColour, PitchNames, PitchPhonetic, PitchNone)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.Rhythm, err = parseEnum("rhythm", opts.Rhythm, RhythmBritish,
		RhythmBritish, RhythmAmerican, RhythmNone)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.DotPlacement, err = parseEnum("dot_placement", opts.DotPlacement, DotBefore,
		DotBefore, DotAfter)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.RhythmAnnouncement, err = parseEnum("rhythm_announcement", opts.RhythmAnnouncement, RhythmOnChange,
		RhythmOnChange, RhythmEveryNote)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.Octave, err = parseEnum("octave", opts.Octave, OctaveName,
		OctaveName, OctaveNumber, OctaveNone)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.OctavePosition, err = parseEnum("octave_position", opts.OctavePosition, OctaveBefore,
		OctaveBefore, OctaveAfter)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.OctaveAnnouncement, err = parseEnum("octave_announcement", opts.OctaveAnnouncement, OctaveBraille,
		OctaveBraille, OctaveEveryNote, OctaveFirstBeatNote, OctaveOnChange)
	if err != nil {
		return RenderConfig{}, err
	}

	cfg.AccidentalStyle, err = parseEnum("accidental_style", opts.AccidentalStyle, AccidentalWords,
		AccidentalWords, AccidentalSymbols)
	if err != nil {
		return RenderConfig{}, err
	}

	if opts.BarsPerSegment < 0 {
		return RenderConfig{}, fmt.Errorf("%w: bars_per_segment %d", ErrInvalidOption, opts.BarsPerSegment)
	}

	cfg.BarsPerSegment = opts.BarsPerSegment
	if cfg.BarsPerSegment == 0 {
		cfg.BarsPerSegment = DefaultBarsPerSegment
	}

	cfg.PitchStyle = opts.PitchStyle
	cfg.OctaveStyle = opts.OctaveStyle
	cfg.RhythmStyle = opts.RhythmStyle
	cfg.IncludeRests = !opts.OmitRests
	cfg.IncludeTies = !opts.OmitTies
	cfg.IncludeDynamics = !opts.OmitDynamics
	cfg.DescribeChords = !opts.PlainChords

	return cfg, nil
}

func parseEnum[T ~string](field, value string, def T, allowed ...T) (T, error) {
	if value == "" {
		return def, nil
	}

	for _, a := range allowed {
		if value == string(a) {
			return a, nil
		}
	}

	var zero T

	return zero, fmt.Errorf("%w: %s %q", ErrInvalidOption, field, value)
}

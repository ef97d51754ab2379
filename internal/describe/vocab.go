package describe

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/book-expert/score-service/internal/core"
)

var britishDurations = map[core.BaseValue]string{
	core.BaseGrace:        "grace note",
	core.BaseWhole:        "semibreve",
	core.BaseHalf:         "minim",
	core.BaseQuarter:      "crotchet",
	core.BaseEighth:       "quaver",
	core.BaseSixteenth:    "semi-quaver",
	core.BaseThirtySecond: "demi-semi-quaver",
	core.BaseSixtyFourth:  "hemi-demi-semi-quaver",
}

var americanDurations = map[core.BaseValue]string{
	core.BaseGrace:        "grace note",
	core.BaseWhole:        "whole note",
	core.BaseHalf:         "half note",
	core.BaseQuarter:      "quarter note",
	core.BaseEighth:       "eighth note",
	core.BaseSixteenth:    "sixteenth note",
	core.BaseThirtySecond: "thirty-second note",
	core.BaseSixtyFourth:  "sixty-fourth note",
}

var dotWords = map[int]string{
	1: "dotted",
	2: "double dotted",
	3: "triple dotted",
}

var octaveNames = map[int]string{
	1: "bottom",
	2: "lower",
	3: "low",
	4: "mid",
	5: "high",
	6: "higher",
	7: "top",
}

// FigureNotes colour words and their CSS hex values, keyed by pitch letter.
var (
	pitchColours = map[string]string{
		"C": "red", "D": "brown", "E": "grey", "F": "blue",
		"G": "black", "A": "yellow", "B": "green",
	}
	pitchColourHex = map[string]string{
		"C": "#FF0000", "D": "#A52A2A", "E": "#808080", "F": "#0000FF",
		"G": "#000000", "A": "#FFFF00", "B": "#008000",
	}
)

var pitchPhonetic = map[string]string{
	"A": "alpha", "B": "bravo", "C": "charlie", "D": "delta",
	"E": "echo", "F": "foxtrot", "G": "golf",
}

var (
	accidentalWords = map[int]string{
		2: "double sharp", 1: "sharp", -1: "flat", -2: "double flat",
	}
	accidentalSymbols = map[int]string{
		2: "##", 1: "#", -1: "b", -2: "bb",
	}
)

// Triad qualities keyed by the semitone offsets of the upper pitches from
// the lowest.
var chordQualities = map[string]string{
	"4-7": "major triad",
	"3-7": "minor triad",
	"3-6": "diminished triad",
	"4-8": "augmented triad",
	"5-7": "suspended 4th",
	"2-7": "suspended 2nd",
}

// durationName renders a rhythm token in the configured vocabulary, with
// the dot word placed per configuration. Empty when rhythm naming is off.
func durationName(d core.Duration, naming core.RhythmNaming, dots core.DotPlacement) string {
	if naming == core.RhythmNone {
		return ""
	}

	table := britishDurations
	if naming == core.RhythmAmerican {
		table = americanDurations
	}

	base, ok := table[d.Base]
	if !ok {
		base = "unknown duration"
	}

	if d.Base == core.BaseGrace {
		return base
	}

	word := dotWords[d.Dots]
	switch {
	case word == "":
		return base
	case dots == core.DotAfter:
		return base + " " + word
	default:
		return word + " " + base
	}
}

func octaveText(octave int, naming core.OctaveNaming) string {
	switch naming {
	case core.OctaveNumber:
		return strconv.Itoa(octave)
	case core.OctaveNone:
		return ""
	case core.OctaveName:
	}

	if name, ok := octaveNames[octave]; ok {
		return name
	}

	return strconv.Itoa(octave)
}

// pitchBaseName renders the letter portion of a pitch in the configured
// naming scheme, without accidental.
func pitchBaseName(step string, naming core.PitchNaming) string {
	switch naming {
	case core.PitchColour:
		return pitchColours[step]
	case core.PitchPhonetic:
		return pitchPhonetic[step]
	case core.PitchNames:
		return step
	case core.PitchNone:
	}

	return ""
}

// accidentalText renders the accidental for an alteration. The explicit
// flag marks a printed accidental, which is the only way a natural shows.
func accidentalText(alter int, explicit bool, style core.AccidentalStyle) string {
	if alter == 0 {
		if explicit {
			return "natural"
		}

		return ""
	}

	if style == core.AccidentalSymbols {
		return accidentalSymbols[alter]
	}

	return accidentalWords[alter]
}

// chordQualityName identifies common triad qualities from the sorted
// pitch set. Empty for anything it does not recognize.
func chordQualityName(sorted []core.Pitch) string {
	if len(sorted) != 3 {
		return ""
	}

	root := sorted[0].Midi()
	pattern := strconv.Itoa(sorted[1].Midi()-root) + "-" + strconv.Itoa(sorted[2].Midi()-root)

	return chordQualities[pattern]
}

func timeSignatureText(ts core.TimeSignatureChange) string {
	return strconv.Itoa(ts.Beats) + " " + strconv.Itoa(ts.BeatType)
}

func keySignatureText(fifths int) string {
	switch {
	case fifths > 1:
		return strconv.Itoa(fifths) + " sharps"
	case fifths == 1:
		return "1 sharp"
	case fifths == -1:
		return "1 flat"
	case fifths < -1:
		return strconv.Itoa(-fifths) + " flats"
	default:
		return "No sharps or flats"
	}
}

// tempoText renders a tempo marking: "Allegro (100 bpm @ crotchet)" when
// the marking carries text, "100 bpm @ crotchet" otherwise. The referent
// always uses the British vocabulary so NONE rhythm mode still reads.
func tempoText(tc core.TempoChange, dots core.DotPlacement) string {
	referent := durationName(tc.Referent, core.RhythmBritish, dots)
	bpm := int(math.Floor(tc.BPM))

	if tc.Text != "" {
		return fmt.Sprintf("%s (%d bpm @ %s)", tc.Text, bpm, referent)
	}

	return fmt.Sprintf("%d bpm @ %s", bpm, referent)
}

// styleToken wraps a token in a styled span per the element class colour
// assignment. The value "auto" resolves through the FigureNotes palette
// for the element's pitch letter; a missing letter leaves the token bare.
func styleToken(text, letter string, colour core.ElementColour) string {
	if text == "" || !colour.Styled() {
		return text
	}

	foreground := colour.Foreground
	background := colour.Background

	if background == "auto" {
		background = pitchColourHex[letter]
		if background == "" {
			return text
		}

		foreground = contrastColour(background)
	} else if background != "" && foreground == "" {
		foreground = contrastColour(background)
	}

	if foreground == "auto" {
		foreground = pitchColourHex[letter]
		if foreground == "" {
			return text
		}
	}

	if background != "" {
		return fmt.Sprintf("<span style='color:%s; background-color:%s;'>%s</span>", foreground, background, text)
	}

	return fmt.Sprintf("<span style='color:%s;'>%s</span>", foreground, text)
}

// contrastColour picks black or white text for a hex background by
// perceived luminance. Unparseable values fall back to white.
func contrastColour(hex string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return "white"
	}

	rgb := make([]float64, 3)

	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return "white"
		}

		rgb[i] = float64(v)
	}

	luminance := (0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]) / 255
	if luminance > 0.5 {
		return "black"
	}

	return "white"
}

// commaAndList joins items with commas and a final "and".
func commaAndList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

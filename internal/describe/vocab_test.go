// Package describe_test tests the description renderer.
package describe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/score-service/internal/analysis"
	"github.com/book-expert/score-service/internal/core"
	"github.com/book-expert/score-service/internal/describe"
)

func defaultConfig(t *testing.T) core.RenderConfig {
	t.Helper()

	cfg, err := core.NewRenderConfig(core.RenderOptions{})
	require.NoError(t, err)

	return cfg
}

func configFrom(t *testing.T, opts core.RenderOptions) core.RenderConfig {
	t.Helper()

	cfg, err := core.NewRenderConfig(opts)
	require.NoError(t, err)

	return cfg
}

func analyze(score *core.Score) *analysis.Result {
	return analysis.Analyze(score, analysis.Options{BarsPerUnit: 2, MinRepeatSpan: 4, FlagMultiple: 1.5})
}

func TestInfoUsesDefaultsWhenScoreStatesNothing(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("C", 4)))

	info := describe.New(defaultConfig(t)).Info(score)

	assert.Equal(t, "4 4", info.TimeSignature)
	assert.Equal(t, "No sharps or flats", info.KeySignature)
	assert.Equal(t, "120 bpm @ crotchet", info.Tempo)
	assert.Equal(t, []string{"Piano"}, info.Instruments)
	assert.Equal(t, 1, info.PartCount)
	assert.Equal(t, 1, info.BarCount)
}

func TestInfoDescribesStatedAttributes(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("", barOf(0, "1", quarter("C", 4)))
	score.Title = "Prelude"
	score.Composer = "A. Composer"
	score.TimeChanges = []core.TimeSignatureChange{{BarOrdinal: 0, Beats: 3, BeatType: 4}}
	score.KeyChanges = []core.KeySignatureChange{{BarOrdinal: 0, Fifths: -2}}
	score.TempoChanges = []core.TempoChange{{
		BarOrdinal: 0,
		OffsetDivs: 0,
		BPM:        88,
		Referent:   core.Duration{Base: core.BaseQuarter, Dots: 1, TupletActual: 0, TupletNormal: 0, Divs: 0},
		Text:       "Andante",
	}}

	info := describe.New(defaultConfig(t)).Info(score)

	assert.Equal(t, "Prelude", info.Title)
	assert.Equal(t, "A. Composer", info.Composer)
	assert.Equal(t, "3 4", info.TimeSignature)
	assert.Equal(t, "2 flats", info.KeySignature)
	assert.Equal(t, "Andante (88 bpm @ dotted crotchet)", info.Tempo)
	assert.Equal(t, []string{"Instrument 1 (unnamed)"}, info.Instruments)
}

func TestDotPlacementAfter(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", dotted(quarter("C", 4))))

	cfg := configFrom(t, core.RenderOptions{DotPlacement: "after"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	require.Len(t, segments, 1)
	assert.Equal(t, "crotchet dotted mid C", segments[0].Bars[0].Beats[0].Text)
}

func TestAmericanRhythmVocabulary(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("C", 4)))

	cfg := configFrom(t, core.RenderOptions{Rhythm: "american"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	assert.Equal(t, "quarter note mid C", segments[0].Bars[0].Beats[0].Text)
}

func TestAccidentalSymbols(t *testing.T) {
	t.Parallel()

	sharp := quarter("D", 4)
	sharp.Pitches[0].Alter = 1
	sharp.Accidental = true

	score := scoreWithBars("Piano", barOf(0, "1", sharp))

	words, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid D sharp", words[0].Bars[0].Beats[0].Text)

	cfg := configFrom(t, core.RenderOptions{AccidentalStyle: "symbols"})
	symbols, _ := describe.New(cfg).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid D#", symbols[0].Bars[0].Beats[0].Text)
}

func TestExplicitNaturalIsSpoken(t *testing.T) {
	t.Parallel()

	natural := quarter("F", 4)
	natural.Accidental = true

	score := scoreWithBars("Piano", barOf(0, "1", natural))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid F natural", segments[0].Bars[0].Beats[0].Text)
}

func TestColourSpansUseContrastForeground(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano",
		barOf(0, "1", quarter("C", 4), quarter("A", 4)),
	)

	cfg := configFrom(t, core.RenderOptions{
		PitchStyle: core.ElementColour{Foreground: "", Background: "auto"},
	})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	// Red is dark, yellow is light.
	assert.Equal(t, "crotchet mid <span style='color:white; background-color:#FF0000;'>C</span>",
		segments[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "<span style='color:black; background-color:#FFFF00;'>A</span>",
		segments[0].Bars[0].Beats[1].Text)
}

func TestColourForegroundOnly(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("G", 4)))

	cfg := configFrom(t, core.RenderOptions{
		PitchStyle: core.ElementColour{Foreground: "auto", Background: ""},
	})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	assert.Equal(t, "crotchet mid <span style='color:#000000;'>G</span>",
		segments[0].Bars[0].Beats[0].Text)
}

func TestPitchColourAndPhoneticNaming(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("D", 4)))

	colours, _ := describe.New(configFrom(t, core.RenderOptions{Pitch: "colour"})).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid brown", colours[0].Bars[0].Beats[0].Text)

	phonetic, _ := describe.New(configFrom(t, core.RenderOptions{Pitch: "phonetic"})).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid delta", phonetic[0].Bars[0].Beats[0].Text)
}

// Package core_test tests the score model types for the score service.
package core_test

import (
	"testing"

	"github.com/book-expert/score-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPitchMidi(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 60, core.Pitch{Step: "C", Alter: 0, Octave: 4}.Midi())
	assert.Equal(t, 61, core.Pitch{Step: "C", Alter: 1, Octave: 4}.Midi())
	assert.Equal(t, 69, core.Pitch{Step: "A", Alter: 0, Octave: 4}.Midi())
	assert.Equal(t, 58, core.Pitch{Step: "B", Alter: -1, Octave: 3}.Midi())
}

func TestPitchesLowToHigh(t *testing.T) {
	t.Parallel()

	element := core.Element{
		Kind: core.ElementChord,
		Pitches: []core.Pitch{
			{Step: "G", Alter: 0, Octave: 5},
			{Step: "C", Alter: 0, Octave: 4},
			{Step: "E", Alter: 0, Octave: 4},
		},
	}

	sorted := element.PitchesLowToHigh()

	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].Midi(), sorted[i].Midi())
	}

	// Input order is preserved on the element itself.
	assert.Equal(t, "G", element.Pitches[0].Step)
}

func TestNormalizeAttributeChanges(t *testing.T) {
	t.Parallel()

	score := &core.Score{
		TimeChanges: []core.TimeSignatureChange{
			{BarOrdinal: 8, Beats: 3, BeatType: 4},
			{BarOrdinal: 0, Beats: 4, BeatType: 4},
			{BarOrdinal: 0, Beats: 4, BeatType: 4},
		},
		TempoChanges: []core.TempoChange{
			{BarOrdinal: 4, OffsetDivs: 2, BPM: 90},
			{BarOrdinal: 4, OffsetDivs: 0, BPM: 120},
			{BarOrdinal: 4, OffsetDivs: 0, BPM: 120},
		},
	}

	score.NormalizeAttributeChanges()

	require.Len(t, score.TimeChanges, 2)
	assert.Equal(t, 0, score.TimeChanges[0].BarOrdinal)
	assert.Equal(t, 8, score.TimeChanges[1].BarOrdinal)

	require.Len(t, score.TempoChanges, 2)
	assert.Equal(t, 0, score.TempoChanges[0].OffsetDivs)
	assert.Equal(t, 2, score.TempoChanges[1].OffsetDivs)
}

func TestTempoAtCarriesForward(t *testing.T) {
	t.Parallel()

	score := &core.Score{
		TempoChanges: []core.TempoChange{
			{BarOrdinal: 4, OffsetDivs: 0, BPM: 72},
		},
	}

	// The only marking sits at bar 4; later bars inherit it.
	assert.InEpsilon(t, 72.0, score.TempoAt(7).BPM, 0.001)
	assert.InEpsilon(t, 72.0, score.TempoAt(4).BPM, 0.001)

	// Bars before the marking fall back to the default.
	assert.InEpsilon(t, core.DefaultTempo.BPM, score.TempoAt(0).BPM, 0.001)
}

func TestTempoAtMidBarChangeCountsForLaterBars(t *testing.T) {
	t.Parallel()

	score := &core.Score{
		TempoChanges: []core.TempoChange{
			{BarOrdinal: 2, OffsetDivs: 2, BPM: 60},
		},
	}

	assert.InEpsilon(t, core.DefaultTempo.BPM, score.TempoAt(2).BPM, 0.001)
	assert.InEpsilon(t, 60.0, score.TempoAt(3).BPM, 0.001)
}

func TestAttributeDefaultsWhenAbsent(t *testing.T) {
	t.Parallel()

	score := &core.Score{}

	timeSig := score.TimeSignatureAt(0)
	assert.Equal(t, 4, timeSig.Beats)
	assert.Equal(t, 4, timeSig.BeatType)

	assert.Equal(t, 0, score.KeySignatureAt(0).Fifths)
	assert.InEpsilon(t, 120.0, score.TempoAt(0).BPM, 0.001)
}

func TestBarCountUsesLongestStaff(t *testing.T) {
	t.Parallel()

	score := &core.Score{
		Parts: []core.Part{
			{ID: "P1", Name: "Right hand", Staves: []core.Staff{{Bars: make([]core.Bar, 8)}}},
			{ID: "P2", Name: "Left hand", Staves: []core.Staff{{Bars: make([]core.Bar, 6)}}},
		},
	}

	assert.Equal(t, 8, score.BarCount())
}

func TestRhythmEqual(t *testing.T) {
	t.Parallel()

	crotchet := core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 2}
	dotted := core.Duration{Base: core.BaseQuarter, Dots: 1, TupletActual: 0, TupletNormal: 0, Divs: 3}
	triplet := core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 3, TupletNormal: 2, Divs: 2}

	assert.True(t, crotchet.RhythmEqual(core.Duration{Base: core.BaseQuarter, Divs: 4}))
	assert.False(t, crotchet.RhythmEqual(dotted))
	assert.False(t, crotchet.RhythmEqual(triplet))
	assert.True(t, triplet.Tuplet())
	assert.False(t, crotchet.Tuplet())
}

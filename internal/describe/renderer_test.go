package describe_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/score-service/internal/core"
	"github.com/book-expert/score-service/internal/describe"
)

func quarter(step string, octave int) core.Element {
	return core.Element{
		Kind:          core.ElementNote,
		Pitches:       []core.Pitch{{Step: step, Alter: 0, Octave: octave}},
		Duration:      core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 1},
		Tie:           core.TieNone,
		GraceNote:     false,
		Accidental:    false,
		Articulations: nil,
		Dynamics:      nil,
		Placeholder:   "",
		OffsetDivs:    0,
	}
}

func dotted(elem core.Element) core.Element {
	elem.Duration.Dots = 1

	return elem
}

func quarterRest() core.Element {
	elem := quarter("C", 4)
	elem.Kind = core.ElementRest
	elem.Pitches = nil

	return elem
}

func chordOf(pitches ...core.Pitch) core.Element {
	elem := quarter("C", 4)
	elem.Kind = core.ElementChord
	elem.Pitches = pitches

	return elem
}

// barOf places each element in its own beat.
func barOf(ordinal int, label string, elems ...core.Element) core.Bar {
	beats := make([]core.Beat, 0, len(elems))
	for i, elem := range elems {
		beats = append(beats, core.Beat{Number: i + 1, Elements: []core.Element{elem}})
	}

	return core.Bar{
		Ordinal:        ordinal,
		Label:          label,
		Pickup:         false,
		DivsPerQuarter: 1,
		Divisions:      4,
		Beats:          beats,
	}
}

func scoreWithBars(partName string, bars ...core.Bar) *core.Score {
	return &core.Score{
		Title:        "Fixture",
		Composer:     "Fixture",
		Parts:        []core.Part{{ID: "P1", Name: partName, Staves: []core.Staff{{Bars: bars}}}},
		TimeChanges:  nil,
		KeyChanges:   nil,
		TempoChanges: nil,
		Degradations: nil,
	}
}

func scale(ordinal int) core.Bar {
	return barOf(ordinal, strconv.Itoa(ordinal+1),
		quarter("C", 4), quarter("E", 4), quarter("G", 4), quarter("C", 5))
}

func TestRenderDefaultVocabulary(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", scale(0), scale(1))

	segments, summary := describe.New(defaultConfig(t)).Render(score, analyze(score))
	require.Len(t, segments, 1)

	segment := segments[0]
	assert.Equal(t, "p0-s0-b0-1", segment.ID)
	assert.Equal(t, "Bars 1 to 2", segment.Heading)
	assert.Equal(t, "1", segment.StartLabel)
	assert.Equal(t, "2", segment.EndLabel)
	assert.Empty(t, segment.Headers)
	require.Len(t, segment.Bars, 2)

	first := segment.Bars[0]
	require.Len(t, first.Beats, 4)
	assert.Equal(t, "crotchet mid C", first.Beats[0].Text)
	assert.Equal(t, "E", first.Beats[1].Text)
	assert.Equal(t, "G", first.Beats[2].Text)
	assert.Equal(t, "high C", first.Beats[3].Text)
	assert.Empty(t, first.Repetition)

	// Braille rules force the octave on the first note of the next bar
	// even though the rhythm stays silent.
	second := segment.Bars[1]
	assert.Equal(t, "mid C", second.Beats[0].Text)
	assert.Equal(t, "Same as previous bar.", second.Repetition)

	assert.Equal(t, []string{"2 bars."}, summary)
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	sharp := quarter("F", 3)
	sharp.Pitches[0].Alter = 1
	sharp.Accidental = true

	score := scoreWithBars("Piano",
		scale(0),
		barOf(1, "2", chordOf(
			core.Pitch{Step: "G", Alter: 0, Octave: 4},
			core.Pitch{Step: "C", Alter: 0, Octave: 4},
			core.Pitch{Step: "E", Alter: 0, Octave: 4},
		), sharp),
		scale(2),
	)
	score.TimeChanges = []core.TimeSignatureChange{{BarOrdinal: 2, Beats: 3, BeatType: 4}}

	renderer := describe.New(defaultConfig(t))
	result := analyze(score)

	segmentsA, summaryA := renderer.Render(score, result)
	segmentsB, summaryB := renderer.Render(score, result)

	assert.Equal(t, segmentsA, segmentsB)
	assert.Equal(t, summaryA, summaryB)
	assert.Equal(t, renderer.Info(score), renderer.Info(score))
}

func TestChordPitchesNamedLowToHigh(t *testing.T) {
	t.Parallel()

	scrambled := chordOf(
		core.Pitch{Step: "G", Alter: 0, Octave: 4},
		core.Pitch{Step: "C", Alter: 0, Octave: 4},
		core.Pitch{Step: "E", Alter: 0, Octave: 4},
	)

	score := scoreWithBars("Piano", barOf(0, "1", scrambled))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "crotchet 3-note chord major triad mid C E G", segments[0].Bars[0].Beats[0].Text)

	plain, _ := describe.New(configFrom(t, core.RenderOptions{PlainChords: true})).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid C E G", plain[0].Bars[0].Beats[0].Text)
}

func TestOctaveAnnouncementModes(t *testing.T) {
	t.Parallel()

	twoBars := func() *core.Score {
		return scoreWithBars("Piano",
			barOf(0, "1", quarter("C", 4)),
			barOf(1, "2", quarter("C", 4)),
		)
	}

	score := twoBars()

	braille, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid C", braille[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "mid C", braille[0].Bars[1].Beats[0].Text)

	onChange, _ := describe.New(configFrom(t, core.RenderOptions{OctaveAnnouncement: "onchange"})).Render(score, analyze(score))
	assert.Equal(t, "crotchet mid C", onChange[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "C", onChange[0].Bars[1].Beats[0].Text, "octave unchanged across bars stays silent")

	everyNote, _ := describe.New(configFrom(t, core.RenderOptions{OctaveAnnouncement: "everynote"})).Render(score, analyze(score))
	assert.Equal(t, "mid C", everyNote[0].Bars[1].Beats[0].Text)
}

func TestOctaveFirstBeatNote(t *testing.T) {
	t.Parallel()

	bar := core.Bar{
		Ordinal:        0,
		Label:          "1",
		Pickup:         false,
		DivsPerQuarter: 1,
		Divisions:      4,
		Beats: []core.Beat{
			{Number: 1, Elements: []core.Element{quarter("C", 4), quarter("C", 4)}},
			{Number: 2, Elements: []core.Element{quarter("C", 4), quarter("C", 4)}},
		},
	}
	score := scoreWithBars("Piano", bar)

	cfg := configFrom(t, core.RenderOptions{OctaveAnnouncement: "firstbeatnote"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	beats := segments[0].Bars[0].Beats
	require.Len(t, beats, 2)
	assert.Equal(t, "crotchet mid C, C", beats[0].Text)
	assert.Equal(t, "mid C, C", beats[1].Text)
}

func TestOctaveNumberAndPositionAfter(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("C", 4)))

	cfg := configFrom(t, core.RenderOptions{Octave: "number", OctavePosition: "after"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	assert.Equal(t, "crotchet C 4", segments[0].Bars[0].Beats[0].Text)
}

func TestRhythmEveryNote(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("C", 4), quarter("E", 4)))

	cfg := configFrom(t, core.RenderOptions{RhythmAnnouncement: "everynote"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	assert.Equal(t, "crotchet mid C", segments[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "crotchet E", segments[0].Bars[0].Beats[1].Text)
}

func TestTupletAnnouncedOnce(t *testing.T) {
	t.Parallel()

	triplet := func(step string) core.Element {
		elem := quarter(step, 4)
		elem.Duration = core.Duration{Base: core.BaseEighth, Dots: 0, TupletActual: 3, TupletNormal: 2, Divs: 2}

		return elem
	}

	score := scoreWithBars("Piano", barOf(0, "1", triplet("C"), triplet("E"), triplet("G")))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))

	assert.Equal(t, "triplets quaver mid C", segments[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "E", segments[0].Bars[0].Beats[1].Text)
	assert.Equal(t, "G", segments[0].Bars[0].Beats[2].Text)
}

func TestRestsRenderedAndSuppressed(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarterRest(), quarter("C", 4)))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	require.Len(t, segments[0].Bars[0].Beats, 2)
	assert.Equal(t, "crotchet rest", segments[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "mid C", segments[0].Bars[0].Beats[1].Text)

	// A suppressed rest still advances the rhythm context.
	omitted, _ := describe.New(configFrom(t, core.RenderOptions{OmitRests: true})).Render(score, analyze(score))
	require.Len(t, omitted[0].Bars[0].Beats, 1)
	assert.Equal(t, 2, omitted[0].Bars[0].Beats[0].Number)
	assert.Equal(t, "mid C", omitted[0].Bars[0].Beats[0].Text)
}

func TestDynamicsArticulationsAndTies(t *testing.T) {
	t.Parallel()

	elem := quarter("C", 4)
	elem.Dynamics = []string{"Forte"}
	elem.Articulations = []string{"staccato"}
	elem.Tie = core.TieStart

	score := scoreWithBars("Piano", barOf(0, "1", elem))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "[Forte] staccato crotchet tie start mid C", segments[0].Bars[0].Beats[0].Text)

	bare, _ := describe.New(configFrom(t, core.RenderOptions{OmitDynamics: true, OmitTies: true})).Render(score, analyze(score))
	assert.Equal(t, "staccato crotchet mid C", bare[0].Bars[0].Beats[0].Text)
}

func TestPlaceholderAndUnpitched(t *testing.T) {
	t.Parallel()

	placeholder := core.Element{
		Kind:          core.ElementPlaceholder,
		Pitches:       nil,
		Duration:      core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 0},
		Tie:           core.TieNone,
		GraceNote:     false,
		Accidental:    false,
		Articulations: nil,
		Dynamics:      nil,
		Placeholder:   "harmony",
		OffsetDivs:    0,
	}

	unpitched := quarter("C", 4)
	unpitched.Kind = core.ElementUnpitched
	unpitched.Pitches = nil

	score := scoreWithBars("Drums", barOf(0, "1", placeholder, unpitched))

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Equal(t, "unsupported harmony", segments[0].Bars[0].Beats[0].Text)
	assert.Equal(t, "crotchet unpitched", segments[0].Bars[0].Beats[1].Text)
}

func TestSegmentationWithPickup(t *testing.T) {
	t.Parallel()

	pickup := barOf(0, "0", quarter("C", 4))
	pickup.Pickup = true

	score := scoreWithBars("Piano",
		pickup,
		barOf(1, "1", quarter("D", 4)),
		barOf(2, "2", quarter("E", 4)),
		barOf(3, "3", quarter("F", 4)),
	)

	segments, summary := describe.New(defaultConfig(t)).Render(score, analyze(score))
	require.Len(t, segments, 3)

	assert.Equal(t, "Pickup", segments[0].Heading)
	assert.Equal(t, "p0-s0-b0-0", segments[0].ID)
	assert.Equal(t, "Bars 1 to 2", segments[1].Heading)
	assert.Equal(t, "Bar 3", segments[2].Heading)

	assert.Equal(t, "4 bars, including a pickup bar.", summary[0])
}

func TestSegmentHeadersListMidScoreChanges(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano",
		barOf(0, "1", quarter("C", 4)),
		barOf(1, "2", quarter("D", 4)),
		barOf(2, "3", quarter("E", 4)),
		barOf(3, "4", quarter("F", 4)),
	)
	score.TimeChanges = []core.TimeSignatureChange{
		{BarOrdinal: 0, Beats: 4, BeatType: 4},
		{BarOrdinal: 2, Beats: 3, BeatType: 4},
	}
	score.KeyChanges = []core.KeySignatureChange{{BarOrdinal: 2, Fifths: 2}}
	score.TempoChanges = []core.TempoChange{{
		BarOrdinal: 2,
		OffsetDivs: 0,
		BPM:        140,
		Referent:   core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 0},
		Text:       "Allegro",
	}}

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	require.Len(t, segments, 2)

	assert.Empty(t, segments[0].Headers, "bar zero state belongs to the info block")
	assert.Equal(t, []string{
		"Time signature: 3 4.",
		"Key signature: 2 sharps.",
		"Tempo: Allegro (140 bpm @ crotchet).",
	}, segments[1].Headers)
}

func TestSummaryNarratesChangesAndRepetition(t *testing.T) {
	t.Parallel()

	bars := make([]core.Bar, 0, 8)
	for i := 0; i < 6; i++ {
		bars = append(bars, barOf(i, strconv.Itoa(i+1), quarter("C", 4)))
	}

	bars = append(bars,
		barOf(6, "7", quarter("D", 4)),
		barOf(7, "8", quarter("E", 4)),
	)

	score := scoreWithBars("Piano", bars...)
	score.TimeChanges = []core.TimeSignatureChange{
		{BarOrdinal: 0, Beats: 4, BeatType: 4},
		{BarOrdinal: 4, Beats: 3, BeatType: 4},
	}
	score.KeyChanges = []core.KeySignatureChange{{BarOrdinal: 4, Fifths: 1}}
	score.TempoChanges = []core.TempoChange{{
		BarOrdinal: 4,
		OffsetDivs: 0,
		BPM:        140,
		Referent:   core.Duration{Base: core.BaseQuarter, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 0},
		Text:       "",
	}}

	_, summary := describe.New(defaultConfig(t)).Render(score, analyze(score))

	assert.Equal(t, []string{
		"8 bars.",
		"The time signature changes to 3 4 at bar 5.",
		"The key signature changes to 1 sharp at bar 5.",
		"The tempo changes to 140 bpm @ crotchet at bar 5.",
		"Over half of the bars are repeated at least once.",
	}, summary)
}

func TestSummaryCountsManyChanges(t *testing.T) {
	t.Parallel()

	bars := make([]core.Bar, 0, 12)
	changes := make([]core.TimeSignatureChange, 0, 6)
	changes = append(changes, core.TimeSignatureChange{BarOrdinal: 0, Beats: 4, BeatType: 4})

	for i := 0; i < 12; i++ {
		bars = append(bars, barOf(i, strconv.Itoa(i+1), quarter("C", 4), quarter("D", 4)))
	}

	for i := 1; i <= 5; i++ {
		changes = append(changes, core.TimeSignatureChange{BarOrdinal: i * 2, Beats: 2 + i, BeatType: 4})
	}

	score := scoreWithBars("Piano", bars...)
	score.TimeChanges = changes

	_, summary := describe.New(defaultConfig(t)).Render(score, analyze(score))
	assert.Contains(t, summary, "The time signature changes 5 times.")
}

func TestSegmentHeadersNoteRepeatedWindows(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano",
		barOf(0, "1", quarter("C", 4)),
		barOf(1, "2", quarter("D", 4)),
		barOf(2, "3", quarter("C", 4)),
		barOf(3, "4", quarter("D", 4)),
		barOf(4, "5", quarter("E", 4)),
	)

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))
	require.Len(t, segments, 3)

	assert.Empty(t, segments[0].Headers, "the first occurrence carries no annotation")
	assert.Equal(t, []string{"Repeats bars 1 to 2."}, segments[1].Headers)
	assert.Empty(t, segments[2].Headers, "a trailing partial segment never matches a full window")
}

func TestSummaryAttributesDensityFindingsPerPart(t *testing.T) {
	t.Parallel()

	triad := func() core.Element {
		return chordOf(
			core.Pitch{Step: "C", Alter: 0, Octave: 3},
			core.Pitch{Step: "E", Alter: 0, Octave: 3},
			core.Pitch{Step: "G", Alter: 0, Octave: 3},
		)
	}

	melody := make([]core.Bar, 0, 10)
	accompaniment := make([]core.Bar, 0, 10)

	for i := 0; i < 10; i++ {
		label := strconv.Itoa(i + 1)
		melody = append(melody, barOf(i, label, quarter("C", 5)))

		if i < 8 {
			accompaniment = append(accompaniment, barOf(i, label, triad()))

			continue
		}

		accompaniment = append(accompaniment, barOf(i, label,
			triad(), triad(), triad(), triad(), triad(), triad(), triad()))
	}

	score := &core.Score{
		Title:    "Fixture",
		Composer: "Fixture",
		Parts: []core.Part{
			{ID: "P1", Name: "Flute", Staves: []core.Staff{{Bars: melody}}},
			{ID: "P2", Name: "Piano", Staves: []core.Staff{{Bars: accompaniment}}},
		},
		TimeChanges:  nil,
		KeyChanges:   nil,
		TempoChanges: nil,
		Degradations: nil,
	}

	_, summary := describe.New(defaultConfig(t)).Render(score, analyze(score))

	assert.Contains(t, summary, "Piano: Lots of chords, mostly near the end.")

	for _, line := range summary {
		assert.NotContains(t, line, "Flute:", "a part without dense features gets no finding")
	}
}

func TestRepetitionAnnotationNamesBars(t *testing.T) {
	t.Parallel()

	theme := func(ordinal int, label string) core.Bar {
		return barOf(ordinal, label, quarter("C", 4), quarter("E", 4))
	}

	score := scoreWithBars("Piano",
		theme(0, "1"),
		barOf(1, "2", quarter("D", 4), quarter("F", 4)),
		barOf(2, "3", quarter("E", 4), quarter("G", 4)),
		barOf(3, "4", quarter("F", 4), quarter("A", 4)),
		barOf(4, "5", quarter("G", 4), quarter("B", 4)),
		barOf(5, "6", quarter("A", 5), quarter("C", 5)),
		theme(6, "7"),
		barOf(7, "8", quarter("B", 5), quarter("D", 5)),
		theme(8, "9"),
	)

	segments, _ := describe.New(defaultConfig(t)).Render(score, analyze(score))

	var bars []core.BarDescription
	for _, segment := range segments {
		bars = append(bars, segment.Bars...)
	}

	require.Len(t, bars, 9)
	assert.Empty(t, bars[0].Repetition, "the first occurrence carries no annotation")
	assert.Equal(t, "First used at bar 1.", bars[6].Repetition)
	assert.Equal(t, "First used at bar 1; most recently at bar 7.", bars[8].Repetition)
}

func TestStaffAndPartPrefixes(t *testing.T) {
	t.Parallel()

	keyboard := &core.Score{
		Title:    "Fixture",
		Composer: "Fixture",
		Parts: []core.Part{{
			ID:   "P1",
			Name: "Piano",
			Staves: []core.Staff{
				{Bars: []core.Bar{barOf(0, "1", quarter("C", 5))}},
				{Bars: []core.Bar{barOf(0, "1", quarter("C", 3))}},
			},
		}},
		TimeChanges:  nil,
		KeyChanges:   nil,
		TempoChanges: nil,
		Degradations: nil,
	}

	segments, _ := describe.New(defaultConfig(t)).Render(keyboard, analyze(keyboard))
	require.Len(t, segments, 2)
	assert.Equal(t, "Right hand: Bar 1", segments[0].Heading)
	assert.Equal(t, "Left hand: Bar 1", segments[1].Heading)

	duo := &core.Score{
		Title:    "Fixture",
		Composer: "Fixture",
		Parts: []core.Part{
			{ID: "P1", Name: "Flute", Staves: []core.Staff{{Bars: []core.Bar{barOf(0, "1", quarter("C", 5))}}}},
			{ID: "P2", Name: "", Staves: []core.Staff{{Bars: []core.Bar{barOf(0, "1", quarter("C", 3))}}}},
		},
		TimeChanges:  nil,
		KeyChanges:   nil,
		TempoChanges: nil,
		Degradations: nil,
	}

	segments, _ = describe.New(defaultConfig(t)).Render(duo, analyze(duo))
	require.Len(t, segments, 2)
	assert.Equal(t, "Flute: Bar 1", segments[0].Heading)
	assert.Equal(t, "Instrument 2 (unnamed): Bar 1", segments[1].Heading)
}

func TestPitchNoneStillAnnouncesOctave(t *testing.T) {
	t.Parallel()

	score := scoreWithBars("Piano", barOf(0, "1", quarter("C", 4)))

	cfg := configFrom(t, core.RenderOptions{Pitch: "none"})
	segments, _ := describe.New(cfg).Render(score, analyze(score))

	assert.Equal(t, "crotchet mid", segments[0].Bars[0].Beats[0].Text)
}

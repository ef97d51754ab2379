// Package describe renders the score model into navigable textual
// segments and a summary block. Rendering is a pure function of the
// model, the analysis result, and the render configuration: identical
// inputs always produce identical text.
package describe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/book-expert/score-service/internal/analysis"
	"github.com/book-expert/score-service/internal/core"
)

// Renderer holds one immutable configuration snapshot.
type Renderer struct {
	cfg core.RenderConfig
}

// New creates a renderer for one generation request.
func New(cfg core.RenderConfig) *Renderer {
	return &Renderer{cfg: cfg}
}

// staffState threads rhythm and octave context across the bars of one
// staff so on-change announcements survive segment boundaries.
type staffState struct {
	hasRhythm  bool
	prevRhythm core.Duration
	hasOctave  bool
	prevOctave int
}

type staffCursor struct {
	score  *core.Score
	result *analysis.Result
	part   int
	staff  int
	bars   []core.Bar
	state  staffState
}

// Render produces the ordered description segments for every staff of
// every part, plus the summary block.
func (r *Renderer) Render(score *core.Score, result *analysis.Result) ([]core.DescriptionSegment, []string) {
	var segments []core.DescriptionSegment

	for partIdx := range score.Parts {
		for staffIdx := range score.Parts[partIdx].Staves {
			cursor := &staffCursor{
				score:  score,
				result: result,
				part:   partIdx,
				staff:  staffIdx,
				bars:   score.Parts[partIdx].Staves[staffIdx].Bars,
				state:  staffState{hasRhythm: false, prevRhythm: core.Duration{}, hasOctave: false, prevOctave: 0},
			}
			segments = append(segments, r.renderStaff(cursor)...)
		}
	}

	return segments, r.summary(score, result)
}

// Info assembles the metadata block presented ahead of the description.
func (r *Renderer) Info(score *core.Score) core.ScoreInfo {
	return core.ScoreInfo{
		Title:         score.Title,
		Composer:      score.Composer,
		TimeSignature: timeSignatureText(score.TimeSignatureAt(0)),
		KeySignature:  keySignatureText(score.KeySignatureAt(0).Fifths),
		Tempo:         tempoText(score.TempoAt(0), r.cfg.DotPlacement),
		Instruments:   instrumentNames(score),
		PartCount:     len(score.Parts),
		BarCount:      score.BarCount(),
	}
}

func (r *Renderer) renderStaff(cursor *staffCursor) []core.DescriptionSegment {
	if len(cursor.bars) == 0 {
		return nil
	}

	var segments []core.DescriptionSegment

	start := 0
	if cursor.bars[0].Pickup {
		segments = append(segments, r.renderSegment(cursor, 0, 0, "Pickup"))
		start = 1
	}

	for s := start; s < len(cursor.bars); s += r.cfg.BarsPerSegment {
		e := s + r.cfg.BarsPerSegment - 1
		if e >= len(cursor.bars) {
			e = len(cursor.bars) - 1
		}

		segments = append(segments, r.renderSegment(cursor, s, e, ""))
	}

	return segments
}

func (r *Renderer) renderSegment(cursor *staffCursor, start, end int, heading string) core.DescriptionSegment {
	bars := cursor.bars

	if heading == "" {
		if start == end {
			heading = "Bar " + bars[start].Label
		} else {
			heading = fmt.Sprintf("Bars %s to %s", bars[start].Label, bars[end].Label)
		}
	}

	if prefix := segmentPrefix(cursor.score, cursor.part, cursor.staff); prefix != "" {
		heading = prefix + ": " + heading
	}

	descriptions := make([]core.BarDescription, 0, end-start+1)
	for i := start; i <= end; i++ {
		descriptions = append(descriptions, r.renderBar(cursor, i))
	}

	headers := r.segmentHeaders(cursor.score, bars[start].Ordinal, bars[end].Ordinal)
	if repeat := unitRepeatText(cursor, start, end); repeat != "" {
		headers = append(headers, repeat)
	}

	return core.DescriptionSegment{
		ID:           fmt.Sprintf("p%d-s%d-b%d-%d", cursor.part, cursor.staff, bars[start].Ordinal, bars[end].Ordinal),
		PartIndex:    cursor.part,
		StaffIndex:   cursor.staff,
		StartOrdinal: bars[start].Ordinal,
		EndOrdinal:   bars[end].Ordinal,
		StartLabel:   bars[start].Label,
		EndLabel:     bars[end].Label,
		Heading:      heading,
		Headers:      headers,
		Bars:         descriptions,
	}
}

// unitRepeatText narrates a segment that exactly repeats an earlier
// bar window of the same size. Only segments aligned with the analysis
// unit grid qualify, which keeps pickup offsets and trailing partial
// segments out.
func unitRepeatText(cursor *staffCursor, start, end int) string {
	unit := cursor.result.Options.BarsPerUnit
	if unit < 2 || end-start+1 != unit || start%unit != 0 {
		return ""
	}

	first, ok := cursor.result.UnitRepeat(cursor.part, cursor.staff, start/unit)
	if !ok {
		return ""
	}

	firstStart := first * unit

	return fmt.Sprintf("Repeats bars %s to %s.",
		barLabel(cursor.bars, firstStart), barLabel(cursor.bars, firstStart+unit-1))
}

// segmentHeaders lists attribute changes taking effect inside the
// segment's bar range. Bar zero state lives in the info block instead.
func (r *Renderer) segmentHeaders(score *core.Score, startOrdinal, endOrdinal int) []string {
	var headers []string

	for ordinal := startOrdinal; ordinal <= endOrdinal; ordinal++ {
		if ordinal == 0 {
			continue
		}

		for _, c := range score.TimeChanges {
			if c.BarOrdinal == ordinal {
				headers = append(headers, "Time signature: "+timeSignatureText(c)+".")
			}
		}

		for _, c := range score.KeyChanges {
			if c.BarOrdinal == ordinal {
				headers = append(headers, "Key signature: "+keySignatureText(c.Fifths)+".")
			}
		}

		for _, c := range score.TempoChanges {
			if c.BarOrdinal == ordinal {
				headers = append(headers, "Tempo: "+tempoText(c, r.cfg.DotPlacement)+".")
			}
		}
	}

	return headers
}

func (r *Renderer) renderBar(cursor *staffCursor, idx int) core.BarDescription {
	bar := cursor.bars[idx]
	barFirst := true

	var beats []core.BeatDescription

	for _, beat := range bar.Beats {
		beatFirst := true

		var texts []string

		for _, elem := range beat.Elements {
			if text := r.renderElement(elem, &cursor.state, &barFirst, &beatFirst); text != "" {
				texts = append(texts, text)
			}
		}

		if len(texts) > 0 {
			beats = append(beats, core.BeatDescription{Number: beat.Number, Text: strings.Join(texts, ", ")})
		}
	}

	return core.BarDescription{
		Ordinal:    bar.Ordinal,
		Label:      bar.Label,
		Repetition: r.repetitionText(cursor, idx),
		Beats:      beats,
	}
}

// repetitionText renders the one annotation narrated for a bar. An exact
// copy of the immediately preceding bar outranks group narration.
func (r *Renderer) repetitionText(cursor *staffCursor, idx int) string {
	staffAnalysis := cursor.result.Staves[cursor.part][cursor.staff]

	if staffAnalysis.SameAsPrevious[idx] {
		return "Same as previous bar."
	}

	if group, ok := cursor.result.NarratedGroup(cursor.part, cursor.staff, idx); ok && group.First != idx {
		previous := group.First
		for _, ordinal := range group.Ordinals {
			if ordinal >= idx {
				break
			}

			previous = ordinal
		}

		switch group.Mode {
		case core.CompareExact:
			if previous == group.First {
				return fmt.Sprintf("First used at bar %s.", barLabel(cursor.bars, group.First))
			}

			return fmt.Sprintf("First used at bar %s; most recently at bar %s.",
				barLabel(cursor.bars, group.First), barLabel(cursor.bars, previous))
		case core.CompareRhythm:
			return fmt.Sprintf("Same rhythm as bar %s.", barLabel(cursor.bars, previous))
		case core.CompareInterval:
			return fmt.Sprintf("Same intervals as bar %s.", barLabel(cursor.bars, previous))
		}
	}

	if staffAnalysis.SameRhythmAsPrevious[idx] {
		return "Same rhythm as previous bar."
	}

	return ""
}

func (r *Renderer) renderElement(elem core.Element, state *staffState, barFirst, beatFirst *bool) string {
	if elem.Kind == core.ElementPlaceholder {
		return "unsupported " + elem.Placeholder
	}

	if elem.Kind == core.ElementRest && !r.cfg.IncludeRests {
		state.prevRhythm = elem.Duration
		state.hasRhythm = true

		return ""
	}

	var tokens []string

	if r.cfg.IncludeDynamics {
		for _, dynamic := range elem.Dynamics {
			tokens = append(tokens, "["+dynamic+"]")
		}
	}

	tokens = append(tokens, elem.Articulations...)
	tokens = append(tokens, r.rhythmTokens(elem, state)...)

	if elem.Tie != core.TieNone && r.cfg.IncludeTies {
		tokens = append(tokens, "tie "+string(elem.Tie))
	}

	switch elem.Kind {
	case core.ElementRest:
		tokens = append(tokens, "rest")
	case core.ElementUnpitched:
		tokens = append(tokens, "unpitched")
	case core.ElementNote:
		if len(elem.Pitches) > 0 {
			forced := r.octaveForced(barFirst, beatFirst)
			tokens = append(tokens, r.pitchTokens(elem.Pitches[0], elem.Accidental, state, forced)...)
		}
	case core.ElementChord:
		tokens = append(tokens, r.chordTokens(elem, state, barFirst, beatFirst)...)
	}

	return strings.Join(tokens, " ")
}

// rhythmTokens renders the rhythm announcement and updates the rhythm
// context. The context always advances, announced or not.
func (r *Renderer) rhythmTokens(elem core.Element, state *staffState) []string {
	changed := !state.hasRhythm || !state.prevRhythm.RhythmEqual(elem.Duration)
	announce := changed || r.cfg.RhythmAnnouncement == core.RhythmEveryNote

	var tokens []string

	if announce && r.cfg.Rhythm != core.RhythmNone {
		if elem.Duration.Tuplet() && changed {
			tokens = append(tokens, tupletWord(elem.Duration))
		}

		letter := ""
		if elem.Kind == core.ElementNote && len(elem.Pitches) > 0 {
			letter = elem.Pitches[0].Step
		}

		if name := durationName(elem.Duration, r.cfg.Rhythm, r.cfg.DotPlacement); name != "" {
			tokens = append(tokens, styleToken(name, letter, r.cfg.RhythmStyle))
		}
	}

	state.prevRhythm = elem.Duration
	state.hasRhythm = true

	return tokens
}

func (r *Renderer) chordTokens(elem core.Element, state *staffState, barFirst, beatFirst *bool) []string {
	var tokens []string

	sorted := elem.PitchesLowToHigh()

	if r.cfg.DescribeChords {
		tokens = append(tokens, fmt.Sprintf("%d-note chord", len(sorted)))

		if quality := chordQualityName(sorted); quality != "" {
			tokens = append(tokens, quality)
		}
	}

	for i, pitch := range sorted {
		forced := false
		if i == 0 {
			forced = r.octaveForced(barFirst, beatFirst)
		}

		tokens = append(tokens, r.pitchTokens(pitch, false, state, forced)...)
	}

	return tokens
}

// octaveForced consumes the bar-first or beat-first announcement slot
// depending on the configured policy.
func (r *Renderer) octaveForced(barFirst, beatFirst *bool) bool {
	forced := false

	switch r.cfg.OctaveAnnouncement {
	case core.OctaveBraille:
		forced = *barFirst
	case core.OctaveFirstBeatNote:
		forced = *beatFirst
	case core.OctaveEveryNote, core.OctaveOnChange:
	}

	*barFirst = false
	*beatFirst = false

	return forced
}

func (r *Renderer) pitchTokens(pitch core.Pitch, explicit bool, state *staffState, forced bool) []string {
	letter := pitch.Step

	name := pitchBaseName(letter, r.cfg.Pitch)
	if accidental := accidentalText(pitch.Alter, explicit, r.cfg.AccidentalStyle); accidental != "" && name != "" {
		if r.cfg.AccidentalStyle == core.AccidentalSymbols {
			name += accidental
		} else {
			name += " " + accidental
		}
	}

	show := false

	switch r.cfg.OctaveAnnouncement {
	case core.OctaveEveryNote:
		show = true
	case core.OctaveBraille, core.OctaveOnChange:
		show = forced || !state.hasOctave || state.prevOctave != pitch.Octave
	case core.OctaveFirstBeatNote:
		show = forced
	}

	octave := ""
	if show {
		octave = octaveText(pitch.Octave, r.cfg.Octave)
	}

	state.prevOctave = pitch.Octave
	state.hasOctave = true

	name = styleToken(name, letter, r.cfg.PitchStyle)
	octave = styleToken(octave, letter, r.cfg.OctaveStyle)

	var tokens []string

	if r.cfg.OctavePosition == core.OctaveBefore {
		tokens = appendNonEmpty(tokens, octave, name)
	} else {
		tokens = appendNonEmpty(tokens, name, octave)
	}

	return tokens
}

func tupletWord(d core.Duration) string {
	if d.TupletActual == 3 && d.TupletNormal == 2 {
		return "triplets"
	}

	return fmt.Sprintf("tuplet %d in %d", d.TupletActual, d.TupletNormal)
}

func appendNonEmpty(tokens []string, values ...string) []string {
	for _, v := range values {
		if v != "" {
			tokens = append(tokens, v)
		}
	}

	return tokens
}

// summary builds the ordered summary block: bar count, attribute change
// narration, per-part density findings, repetition proportion.
func (r *Renderer) summary(score *core.Score, result *analysis.Result) []string {
	var lines []string

	barLine := fmt.Sprintf("%d bars", score.BarCount())
	if hasPickup(score) {
		barLine += ", including a pickup bar"
	}

	lines = append(lines, barLine+".")

	var timeItems []string

	for _, c := range score.TimeChanges {
		if c.BarOrdinal == 0 {
			continue
		}

		timeItems = append(timeItems, fmt.Sprintf("to %s at bar %s", timeSignatureText(c), globalBarLabel(score, c.BarOrdinal)))
	}

	var keyItems []string

	for _, c := range score.KeyChanges {
		if c.BarOrdinal == 0 {
			continue
		}

		keyItems = append(keyItems, fmt.Sprintf("to %s at bar %s", lowerFirst(keySignatureText(c.Fifths)), globalBarLabel(score, c.BarOrdinal)))
	}

	var tempoItems []string

	for _, c := range score.TempoChanges {
		if c.BarOrdinal == 0 && c.OffsetDivs == 0 {
			continue
		}

		tempoItems = append(tempoItems, fmt.Sprintf("to %s at bar %s", tempoText(c, r.cfg.DotPlacement), globalBarLabel(score, c.BarOrdinal)))
	}

	lines = appendNonEmpty(lines,
		changeLine("time signature", timeItems),
		changeLine("key signature", keyItems),
		changeLine("tempo", tempoItems),
	)

	lines = append(lines, findingLines(score, result)...)

	if word := analysis.DescribeProportion(result.RepeatedProportion); word != "" {
		lines = append(lines, upperFirst(word)+" of the bars are repeated at least once.")
	}

	return lines
}

// findingLines narrates each part's density findings, attributed by part
// name when the score has more than one part.
func findingLines(score *core.Score, result *analysis.Result) []string {
	var lines []string

	for idx, stats := range result.PartStats {
		for _, finding := range stats.Findings {
			if len(result.PartStats) > 1 && idx < len(score.Parts) {
				finding = partDisplayName(score.Parts[idx], idx) + ": " + finding
			}

			lines = append(lines, finding)
		}
	}

	return lines
}

// changeLine narrates attribute changes: enumerated when there are at
// most four, counted beyond that.
func changeLine(name string, items []string) string {
	switch {
	case len(items) == 0:
		return ""
	case len(items) <= 4:
		return upperFirst(fmt.Sprintf("the %s changes %s.", name, commaAndList(items)))
	default:
		return upperFirst(fmt.Sprintf("the %s changes %d times.", name, len(items)))
	}
}

func segmentPrefix(score *core.Score, partIdx, staffIdx int) string {
	var parts []string

	if len(score.Parts) > 1 {
		parts = append(parts, partDisplayName(score.Parts[partIdx], partIdx))
	}

	if name := staffDisplayName(score.Parts[partIdx], staffIdx); name != "" {
		parts = append(parts, name)
	}

	return strings.Join(parts, ", ")
}

func partDisplayName(part core.Part, idx int) string {
	if part.Name != "" {
		return part.Name
	}

	return fmt.Sprintf("Instrument %d (unnamed)", idx+1)
}

// staffDisplayName names the staves of a multi-staff part. A two-staff
// part reads as keyboard hands.
func staffDisplayName(part core.Part, staffIdx int) string {
	switch {
	case len(part.Staves) <= 1:
		return ""
	case len(part.Staves) == 2 && staffIdx == 0:
		return "Right hand"
	case len(part.Staves) == 2:
		return "Left hand"
	default:
		return fmt.Sprintf("Part %d", staffIdx+1)
	}
}

func instrumentNames(score *core.Score) []string {
	names := make([]string, 0, len(score.Parts))
	for idx, part := range score.Parts {
		names = append(names, partDisplayName(part, idx))
	}

	return names
}

func hasPickup(score *core.Score) bool {
	for _, part := range score.Parts {
		for _, staff := range part.Staves {
			if len(staff.Bars) > 0 && staff.Bars[0].Pickup {
				return true
			}
		}
	}

	return false
}

func barLabel(bars []core.Bar, ordinal int) string {
	if ordinal >= 0 && ordinal < len(bars) {
		return bars[ordinal].Label
	}

	return strconv.Itoa(ordinal + 1)
}

// globalBarLabel resolves a label through the first staff, which carries
// the attribute changes.
func globalBarLabel(score *core.Score, ordinal int) string {
	if len(score.Parts) > 0 && len(score.Parts[0].Staves) > 0 {
		return barLabel(score.Parts[0].Staves[0].Bars, ordinal)
	}

	return strconv.Itoa(ordinal + 1)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}

	return strings.ToLower(s[:1]) + s[1:]
}

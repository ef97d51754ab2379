// Package musicxml builds the in-memory score model from MusicXML markup or
// MXL compressed containers.
package musicxml

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/score-service/internal/core"
)

// Fallbacks used when score metadata is absent.
const (
	FallbackTitle    = "Error reading title"
	FallbackComposer = "Unknown"
)

var typeToBase = map[string]core.BaseValue{
	"whole":   core.BaseWhole,
	"half":    core.BaseHalf,
	"quarter": core.BaseQuarter,
	"eighth":  core.BaseEighth,
	"16th":    core.BaseSixteenth,
	"32nd":    core.BaseThirtySecond,
	"64th":    core.BaseSixtyFourth,
}

var validSteps = map[string]struct{}{
	"A": {}, "B": {}, "C": {}, "D": {}, "E": {}, "F": {}, "G": {},
}

var dynamicWords = map[string]string{
	"p":   "Piano",
	"pp":  "Pianissimo",
	"ppp": "Pianississimo",
	"f":   "Forte",
	"ff":  "Fortissimo",
	"fff": "Fortississimo",
	"mp":  "Mezzo-piano",
	"mf":  "Mezzo-forte",
	"fp":  "Fortepiano",
	"sf":  "Sforzando",
	"sfz": "Sforzando",
}

// Build parses raw notation into the score model. Localized problems
// degrade to placeholder elements or documented defaults and are recorded
// on the score; only unreadable input fails.
func Build(data []byte, log *logger.Logger) (*core.Score, error) {
	markup, err := extractNotation(data)
	if err != nil {
		return nil, err
	}

	var doc xmlScorePartwise

	err = xml.Unmarshal(markup, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedInput, err)
	}

	if len(doc.Parts) == 0 {
		return nil, fmt.Errorf("%w: document has no parts", core.ErrMalformedInput)
	}

	bld := &builder{
		log: log,
		score: &core.Score{
			Title:        "",
			Composer:     "",
			Parts:        nil,
			TimeChanges:  nil,
			KeyChanges:   nil,
			TempoChanges: nil,
			Degradations: nil,
		},
	}

	bld.buildMetadata(&doc)

	names := make(map[string]string, len(doc.ScoreParts))
	for _, scorePart := range doc.ScoreParts {
		names[scorePart.ID] = strings.TrimSpace(scorePart.Name)
	}

	for index := range doc.Parts {
		bld.buildPart(index, &doc.Parts[index], names)
	}

	bld.recordMissingGlobals()
	bld.score.NormalizeAttributeChanges()

	return bld.score, nil
}

// ModelBuilder adapts Build to the core.ScoreBuilder interface for
// callers that rebuild stored notation on demand.
type ModelBuilder struct {
	log *logger.Logger
}

// NewModelBuilder creates a reusable builder logging to log.
func NewModelBuilder(log *logger.Logger) *ModelBuilder {
	return &ModelBuilder{log: log}
}

// Build implements core.ScoreBuilder.
func (m *ModelBuilder) Build(data []byte) (*core.Score, error) {
	return Build(data, m.log)
}

type builder struct {
	log   *logger.Logger
	score *core.Score
}

func (b *builder) degrade(kind core.DegradationKind, detail, barLabel string) {
	b.score.Degradations = append(b.score.Degradations, core.Degradation{
		Kind:     kind,
		Detail:   detail,
		BarLabel: barLabel,
	})

	if kind == core.DegradationMissing {
		b.log.Info("Substituted default for missing %s (bar %s)", detail, barLabel)

		return
	}

	b.log.Warn("Degraded unsupported construct '%s' to a placeholder (bar %s)", detail, barLabel)
}

func (b *builder) buildMetadata(doc *xmlScorePartwise) {
	title := strings.TrimSpace(doc.WorkTitle)
	if title == "" {
		title = strings.TrimSpace(doc.MovementTitle)
	}

	if title == "" {
		title = FallbackTitle
	}

	composer := ""

	for _, creator := range doc.Creators {
		if strings.EqualFold(creator.Type, "composer") {
			composer = strings.TrimSpace(creator.Value)

			break
		}
	}

	if composer == "" && len(doc.Creators) > 0 {
		composer = strings.TrimSpace(doc.Creators[0].Value)
	}

	if composer == "" {
		composer = FallbackComposer
	}

	b.score.Title = title
	b.score.Composer = composer
}

func (b *builder) recordMissingGlobals() {
	if len(b.score.TimeChanges) == 0 {
		b.degrade(core.DegradationMissing, "time signature", "")
	}

	if len(b.score.KeyChanges) == 0 {
		b.degrade(core.DegradationMissing, "key signature", "")
	}

	if len(b.score.TempoChanges) == 0 {
		b.degrade(core.DegradationMissing, "tempo marking", "")
	}
}

func (b *builder) addTempo(change core.TempoChange) {
	b.score.TempoChanges = append(b.score.TempoChanges, change)
}

func (b *builder) buildPart(index int, src *xmlPart, names map[string]string) {
	partBld := &partBuilder{
		b:         b,
		partIndex: index,
		divisions: 0,
		staves:    1,
		bars:      make([][]core.Bar, 1),
		openWedge: "",
	}

	for ordinal := range src.Measures {
		partBld.buildMeasure(ordinal, &src.Measures[ordinal])
	}

	part := core.Part{
		ID:     src.ID,
		Name:   names[src.ID],
		Staves: make([]core.Staff, len(partBld.bars)),
	}
	for staffIdx, bars := range partBld.bars {
		part.Staves[staffIdx] = core.Staff{Bars: bars}
	}

	b.score.Parts = append(b.score.Parts, part)
}

type partBuilder struct {
	b         *builder
	partIndex int
	divisions int
	staves    int
	bars      [][]core.Bar
	openWedge string
}

// pendingElement is an element collected while walking one measure, before
// beat grouping assigns it to a staff's bar.
type pendingElement struct {
	staff int
	elem  core.Element
}

type measureState struct {
	ordinal   int
	label     string
	offset    int
	maxOffset int
	pending   []pendingElement
	lastNote  int
	dynamics  []string
}

func (s *measureState) takeDynamics() []string {
	taken := s.dynamics
	s.dynamics = nil

	return taken
}

func (s *measureState) advance(divs int) {
	s.offset += divs
	if s.offset < 0 {
		s.offset = 0
	}

	if s.offset > s.maxOffset {
		s.maxOffset = s.offset
	}
}

func (p *partBuilder) buildMeasure(ordinal int, measure *xmlMeasure) {
	label := measure.Number
	if label == "" {
		label = strconv.Itoa(ordinal + 1)
	}

	state := &measureState{
		ordinal:   ordinal,
		label:     label,
		offset:    0,
		maxOffset: 0,
		pending:   nil,
		lastNote:  -1,
		dynamics:  nil,
	}

	for i := range measure.Items {
		item := &measure.Items[i]

		switch item.Kind {
		case itemAttributes:
			p.applyAttributes(ordinal, label, item.Attributes)
		case itemDirection:
			state.dynamics = append(state.dynamics, p.applyDirection(state, item.Direction)...)
		case itemSound:
			if item.Sound.Tempo > 0 {
				p.addSoundTempo(state, item.Sound.Tempo, "")
			}
		case itemMove:
			state.advance(item.Move)
		case itemNote:
			p.applyNote(state, item.Note)
		case itemOther:
			p.b.degrade(core.DegradationUnsupported, item.Other, label)
			state.pending = append(state.pending, pendingElement{
				staff: 0,
				elem: core.Element{
					Kind:          core.ElementPlaceholder,
					Pitches:       nil,
					Duration:      core.Duration{Base: core.BaseGrace, Dots: 0, TupletActual: 0, TupletNormal: 0, Divs: 0},
					Tie:           core.TieNone,
					GraceNote:     false,
					Accidental:    false,
					Articulations: nil,
					Dynamics:      nil,
					Placeholder:   item.Other,
					OffsetDivs:    state.offset,
				},
			})
		}
	}

	p.finishMeasure(state, measure.Implicit)
}

func (p *partBuilder) applyAttributes(ordinal int, label string, attrs *xmlAttributes) {
	if attrs.Divisions > 0 {
		p.divisions = attrs.Divisions
	}

	if attrs.Staves > p.staves {
		p.growStaves(attrs.Staves)
	}

	// Global attribute changes come from the leading part; other parts
	// restate the same attributes and would only produce duplicates.
	if p.partIndex != 0 {
		return
	}

	for _, key := range attrs.Keys {
		p.b.score.KeyChanges = append(p.b.score.KeyChanges, core.KeySignatureChange{
			BarOrdinal: ordinal,
			Fifths:     key.Fifths,
		})
	}

	for _, timeSig := range attrs.Times {
		beats, beatsErr := strconv.Atoi(strings.TrimSpace(timeSig.Beats))
		beatType, beatTypeErr := strconv.Atoi(strings.TrimSpace(timeSig.BeatType))

		if beatsErr != nil || beatTypeErr != nil || beats <= 0 || beatType <= 0 {
			detail := fmt.Sprintf("time signature '%s/%s'", timeSig.Beats, timeSig.BeatType)
			p.b.degrade(core.DegradationUnsupported, detail, label)

			continue
		}

		p.b.score.TimeChanges = append(p.b.score.TimeChanges, core.TimeSignatureChange{
			BarOrdinal: ordinal,
			Beats:      beats,
			BeatType:   beatType,
		})
	}
}

func (p *partBuilder) growStaves(count int) {
	for len(p.bars) < count {
		// Backfill the new staff with empty bars matching the ones
		// already built, so ordinals stay aligned across staves.
		backfill := make([]core.Bar, len(p.bars[0]))
		for i, bar := range p.bars[0] {
			backfill[i] = core.Bar{
				Ordinal:        bar.Ordinal,
				Label:          bar.Label,
				Pickup:         bar.Pickup,
				DivsPerQuarter: bar.DivsPerQuarter,
				Divisions:      bar.Divisions,
				Beats:          nil,
			}
		}

		p.bars = append(p.bars, backfill)
	}

	p.staves = count
}

func (p *partBuilder) applyDirection(state *measureState, dir *xmlDirection) []string {
	var (
		dynamics      []string
		words         []string
		metronomeSeen bool
	)

	for _, dirType := range dir.Types {
		for _, w := range dirType.Words {
			if trimmed := strings.TrimSpace(w); trimmed != "" {
				words = append(words, trimmed)
			}
		}

		if dirType.Dynamics != nil {
			for _, mark := range dirType.Dynamics.Marks {
				dynamics = append(dynamics, dynamicWord(mark.XMLName.Local))
			}
		}

		if dirType.Wedge != nil {
			if word := p.wedgeWord(dirType.Wedge.Type); word != "" {
				dynamics = append(dynamics, word)
			}
		}

		if dirType.Metronome != nil {
			metronomeSeen = true

			p.addMetronome(state, dirType.Metronome, strings.Join(words, " "), dir.Sound)
		}
	}

	if !metronomeSeen && dir.Sound != nil && dir.Sound.Tempo > 0 {
		p.addSoundTempo(state, dir.Sound.Tempo, strings.Join(words, " "))
	}

	return dynamics
}

func dynamicWord(mark string) string {
	if word, ok := dynamicWords[mark]; ok {
		return word
	}

	return mark
}

func (p *partBuilder) wedgeWord(wedgeType string) string {
	switch wedgeType {
	case "crescendo", "diminuendo":
		p.openWedge = wedgeType

		return wedgeType
	case "stop":
		open := p.openWedge
		p.openWedge = ""

		if open == "" {
			return ""
		}

		return open + " end"
	default:
		return ""
	}
}

func (p *partBuilder) addMetronome(state *measureState, metronome *xmlMetronome, text string, sound *xmlSound) {
	referent := core.DefaultTempo.Referent
	if base, ok := typeToBase[metronome.BeatUnit]; ok {
		referent = core.Duration{
			Base:         base,
			Dots:         len(metronome.BeatUnitDots),
			TupletActual: 0,
			TupletNormal: 0,
			Divs:         0,
		}
	}

	bpm, err := strconv.ParseFloat(strings.TrimSpace(metronome.PerMinute), 64)
	if err != nil || bpm <= 0 {
		if sound != nil && sound.Tempo > 0 {
			p.addSoundTempo(state, sound.Tempo, text)

			return
		}

		p.b.degrade(core.DegradationMissing, "metronome per-minute", state.label)

		return
	}

	p.b.addTempo(core.TempoChange{
		BarOrdinal: state.ordinal,
		OffsetDivs: state.offset,
		BPM:        bpm,
		Referent:   referent,
		Text:       text,
	})
}

// addSoundTempo records a bare sound tempo, which the format states per
// quarter note.
func (p *partBuilder) addSoundTempo(state *measureState, bpm float64, text string) {
	p.b.addTempo(core.TempoChange{
		BarOrdinal: state.ordinal,
		OffsetDivs: state.offset,
		BPM:        bpm,
		Referent:   core.DefaultTempo.Referent,
		Text:       text,
	})
}

func (p *partBuilder) applyNote(state *measureState, note *xmlNote) {
	if p.divisions == 0 {
		p.divisions = 1

		p.b.degrade(core.DegradationMissing, "divisions", state.label)
	}

	advance := note.Duration
	if note.Grace != nil {
		advance = 0
	}

	switch {
	case note.Cue != nil:
		p.b.degrade(core.DegradationUnsupported, "cue note", state.label)
		state.pending = append(state.pending, pendingElement{
			staff: p.staffIndex(note),
			elem: core.Element{
				Kind:          core.ElementPlaceholder,
				Pitches:       nil,
				Duration:      p.noteDuration(note, state.label),
				Tie:           core.TieNone,
				GraceNote:     false,
				Accidental:    false,
				Articulations: nil,
				Dynamics:      nil,
				Placeholder:   "cue note",
				OffsetDivs:    state.offset,
			},
		})
	case note.Chord != nil && state.lastNote >= 0:
		base := &state.pending[state.lastNote].elem
		if pitch, ok := p.resolvePitch(note, state.label); ok {
			base.Pitches = append(base.Pitches, pitch)
			base.Kind = core.ElementChord

			if note.Accidental != "" || pitch.Alter != 0 {
				base.Accidental = true
			}
		}

		advance = 0
	default:
		p.appendElement(state, note)
	}

	state.advance(advance)
}

func (p *partBuilder) appendElement(state *measureState, note *xmlNote) {
	elem := core.Element{
		Kind:          core.ElementNote,
		Pitches:       nil,
		Duration:      p.noteDuration(note, state.label),
		Tie:           tieState(note.Ties),
		GraceNote:     note.Grace != nil,
		Accidental:    false,
		Articulations: articulationTags(note.Notations),
		Dynamics:      nil,
		Placeholder:   "",
		OffsetDivs:    state.offset,
	}

	switch {
	case note.Rest != nil:
		elem.Kind = core.ElementRest
	case note.Unpitched != nil:
		elem.Kind = core.ElementUnpitched

		step := strings.ToUpper(strings.TrimSpace(note.Unpitched.DisplayStep))
		if _, ok := validSteps[step]; ok {
			elem.Pitches = []core.Pitch{{Step: step, Alter: 0, Octave: note.Unpitched.DisplayOctave}}
		}
	case note.Pitch != nil:
		pitch, ok := p.resolvePitch(note, state.label)
		if !ok {
			elem.Kind = core.ElementPlaceholder
			elem.Placeholder = "unresolvable pitch"

			break
		}

		elem.Pitches = []core.Pitch{pitch}
		elem.Accidental = note.Accidental != "" || pitch.Alter != 0
	default:
		p.b.degrade(core.DegradationUnsupported, "note without pitch or rest", state.label)

		elem.Kind = core.ElementPlaceholder
		elem.Placeholder = "note without pitch or rest"
	}

	if elem.Sounding() {
		elem.Dynamics = state.takeDynamics()
	}

	state.pending = append(state.pending, pendingElement{staff: p.staffIndex(note), elem: elem})

	if elem.Kind == core.ElementNote {
		state.lastNote = len(state.pending) - 1
	} else {
		state.lastNote = -1
	}
}

func (p *partBuilder) staffIndex(note *xmlNote) int {
	idx := note.Staff - 1
	if idx < 0 {
		idx = 0
	}

	if idx >= p.staves {
		idx = p.staves - 1
	}

	return idx
}

func (p *partBuilder) resolvePitch(note *xmlNote, label string) (core.Pitch, bool) {
	if note.Pitch == nil {
		return core.Pitch{Step: "", Alter: 0, Octave: 0}, false
	}

	step := strings.ToUpper(strings.TrimSpace(note.Pitch.Step))
	if _, ok := validSteps[step]; !ok {
		p.b.degrade(core.DegradationUnsupported, fmt.Sprintf("pitch step '%s'", note.Pitch.Step), label)

		return core.Pitch{Step: "", Alter: 0, Octave: 0}, false
	}

	return core.Pitch{
		Step:   step,
		Alter:  int(math.Round(note.Pitch.Alter)),
		Octave: note.Pitch.Octave,
	}, true
}

func (p *partBuilder) noteDuration(note *xmlNote, label string) core.Duration {
	duration := core.Duration{
		Base:         core.BaseGrace,
		Dots:         len(note.Dots),
		TupletActual: 0,
		TupletNormal: 0,
		Divs:         note.Duration,
	}

	if note.TimeMod != nil {
		duration.TupletActual = note.TimeMod.ActualNotes
		duration.TupletNormal = note.TimeMod.NormalNotes
	}

	if note.Grace != nil {
		duration.Divs = 0

		return duration
	}

	if note.Type != "" {
		base, ok := typeToBase[note.Type]
		if ok {
			duration.Base = base

			return duration
		}

		p.b.degrade(core.DegradationUnsupported, fmt.Sprintf("note type '%s'", note.Type), label)
	}

	duration.Base = p.inferBase(note.Duration)

	return duration
}

// inferBase picks the closest modeled base value for notes that state no
// type, such as whole-bar rests.
func (p *partBuilder) inferBase(divs int) core.BaseValue {
	if p.divisions <= 0 || divs <= 0 {
		return core.BaseQuarter
	}

	quarters := float64(divs) / float64(p.divisions)

	switch {
	case quarters >= 4:
		return core.BaseWhole
	case quarters >= 2:
		return core.BaseHalf
	case quarters >= 1:
		return core.BaseQuarter
	case quarters >= 0.5:
		return core.BaseEighth
	case quarters >= 0.25:
		return core.BaseSixteenth
	case quarters >= 0.125:
		return core.BaseThirtySecond
	default:
		return core.BaseSixtyFourth
	}
}

func tieState(ties []xmlTie) core.TieState {
	var start, stop bool

	for _, tie := range ties {
		switch tie.Type {
		case "start":
			start = true
		case "stop":
			stop = true
		}
	}

	switch {
	case start && stop:
		return core.TieContinue
	case start:
		return core.TieStart
	case stop:
		return core.TieStop
	default:
		return core.TieNone
	}
}

func articulationTags(notations []xmlNotations) []string {
	var tags []string

	for _, notation := range notations {
		if notation.Articulations != nil {
			art := notation.Articulations
			if art.Accent != nil {
				tags = append(tags, "accent")
			}

			if art.StrongAccent != nil {
				tags = append(tags, "strong accent")
			}

			if art.Staccato != nil {
				tags = append(tags, "staccato")
			}

			if art.Staccatissimo != nil {
				tags = append(tags, "staccatissimo")
			}

			if art.Tenuto != nil {
				tags = append(tags, "tenuto")
			}
		}

		if notation.Ornaments != nil {
			orn := notation.Ornaments
			if orn.TrillMark != nil {
				tags = append(tags, "trill")
			}

			if orn.Mordent != nil {
				tags = append(tags, "mordent")
			}

			if orn.Turn != nil {
				tags = append(tags, "turn")
			}
		}

		if notation.Fermata != nil {
			tags = append(tags, "fermata")
		}

		if notation.Arpeggiate != nil {
			tags = append(tags, "arpeggio")
		}
	}

	return tags
}

func (p *partBuilder) finishMeasure(state *measureState, implicit bool) {
	timeSig := p.b.score.TimeSignatureAt(state.ordinal)
	beatLen := p.beatLength(timeSig)
	fullBar := beatLen * timeSig.Beats

	pickup := state.ordinal == 0 &&
		(implicit || (state.maxOffset > 0 && state.maxOffset < fullBar))

	for staffIdx := range p.bars {
		var staffElems []core.Element

		for _, pe := range state.pending {
			if pe.staff == staffIdx {
				staffElems = append(staffElems, pe.elem)
			}
		}

		sort.SliceStable(staffElems, func(i, j int) bool {
			return staffElems[i].OffsetDivs < staffElems[j].OffsetDivs
		})

		p.bars[staffIdx] = append(p.bars[staffIdx], core.Bar{
			Ordinal:        state.ordinal,
			Label:          state.label,
			Pickup:         pickup,
			DivsPerQuarter: p.divisions,
			Divisions:      state.maxOffset,
			Beats:          groupBeats(staffElems, beatLen),
		})
	}
}

// beatLength returns divisions per beat for the active time signature.
func (p *partBuilder) beatLength(timeSig core.TimeSignatureChange) int {
	if timeSig.BeatType <= 0 || p.divisions <= 0 {
		if p.divisions > 0 {
			return p.divisions
		}

		return 1
	}

	beatLen := p.divisions * 4 / timeSig.BeatType
	if beatLen <= 0 {
		beatLen = 1
	}

	return beatLen
}

func groupBeats(elems []core.Element, beatLen int) []core.Beat {
	var beats []core.Beat

	for _, elem := range elems {
		number := elem.OffsetDivs/beatLen + 1

		if len(beats) == 0 || beats[len(beats)-1].Number != number {
			beats = append(beats, core.Beat{Number: number, Elements: nil})
		}

		last := &beats[len(beats)-1]
		last.Elements = append(last.Elements, elem)
	}

	return beats
}

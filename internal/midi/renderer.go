// Package midi renders contiguous bar slices of the score model into
// Standard MIDI Files. The tempo map always carries the marking in
// effect at the slice start, scaled by the requested multiplier, so a
// slice after the only tempo change still plays at the right speed.
package midi

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/book-expert/logger"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/book-expert/score-service/internal/core"
)

const (
	ticksPerQuarter = 480

	noteVelocity          = 80
	clickDownbeatVelocity = 100
	clickBeatVelocity     = 80

	// General MIDI percussion: acoustic snare on the downbeat, closed
	// hi-hat on the remaining beats.
	clickChannel     = 9
	clickDownbeatKey = 38
	clickBeatKey     = 42
)

// Renderer builds MIDI artifacts from score slices.
type Renderer struct {
	log *logger.Logger
}

// New creates a MIDI renderer.
func New(log *logger.Logger) *Renderer {
	return &Renderer{log: log}
}

// timedMessage is a track event at an absolute tick, before delta
// encoding. Note-offs sort ahead of simultaneous note-ons.
type timedMessage struct {
	tick uint32
	off  bool
	msg  smf.Message
}

// Render produces one Standard MIDI File for the requested slice,
// selection, tempo multiplier, and click flag.
func (r *Renderer) Render(score *core.Score, req core.AudioRequest) ([]byte, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	if req.EndOrdinal >= score.BarCount() {
		return nil, fmt.Errorf("%w: bar range %d to %d exceeds score length %d",
			core.ErrInvalidOption, req.StartOrdinal, req.EndOrdinal, score.BarCount())
	}

	parts, err := selectParts(score, req)
	if err != nil {
		return nil, err
	}

	grid := buildGrid(score, req.StartOrdinal, req.EndOrdinal)

	document := smf.New()
	document.TimeFormat = smf.MetricTicks(ticksPerQuarter)
	document.Tracks = append(document.Tracks, conductorTrack(score, req, grid))

	for trackIdx, partIdx := range parts {
		track := partTrack(score.Parts[partIdx], req, grid, partChannel(trackIdx))
		document.Tracks = append(document.Tracks, track)
	}

	if req.ClickTrack {
		document.Tracks = append(document.Tracks, clickTrack(score, req, grid))
	}

	var buf bytes.Buffer

	_, err = document.WriteTo(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode standard midi file: %w", core.ErrAudioGeneration, err)
	}

	r.log.Info("Rendered midi slice: bars %d to %d, %d parts, %d bytes",
		req.StartOrdinal, req.EndOrdinal, len(parts), buf.Len())

	return buf.Bytes(), nil
}

// grid maps slice bar ordinals to absolute tick positions using nominal
// bar lengths from the time signature in effect.
type grid struct {
	start     int
	barStarts []uint32
	total     uint32
}

func (g grid) barStart(ordinal int) uint32 {
	return g.barStarts[ordinal-g.start]
}

func buildGrid(score *core.Score, start, end int) grid {
	g := grid{start: start, barStarts: make([]uint32, 0, end-start+1), total: 0}

	tick := uint32(0)
	for ordinal := start; ordinal <= end; ordinal++ {
		g.barStarts = append(g.barStarts, tick)
		tick += nominalBarTicks(score.TimeSignatureAt(ordinal))
	}

	g.total = tick

	return g
}

func nominalBarTicks(ts core.TimeSignatureChange) uint32 {
	if ts.Beats <= 0 || ts.BeatType <= 0 {
		return 4 * ticksPerQuarter
	}

	return uint32(ts.Beats) * beatTicks(ts)
}

func beatTicks(ts core.TimeSignatureChange) uint32 {
	if ts.BeatType <= 0 {
		return ticksPerQuarter
	}

	return uint32(ticksPerQuarter * 4 / ts.BeatType)
}

// conductorTrack carries the sequence name, the meter map, and the
// scaled tempo map for the slice.
func conductorTrack(score *core.Score, req core.AudioRequest, g grid) smf.Track {
	var track smf.Track

	name := score.Title
	if name == "" {
		name = "score"
	}

	track.Add(0, smf.MetaTrackSequenceName(name))

	initialMeter := score.TimeSignatureAt(req.StartOrdinal)
	track.Add(0, smf.MetaMeter(uint8(initialMeter.Beats), uint8(initialMeter.BeatType)))

	var events []timedMessage

	for _, change := range score.TimeChanges {
		if change.BarOrdinal > req.StartOrdinal && change.BarOrdinal <= req.EndOrdinal {
			events = append(events, timedMessage{
				tick: g.barStart(change.BarOrdinal),
				off:  false,
				msg:  smf.MetaMeter(uint8(change.Beats), uint8(change.BeatType)),
			})
		}
	}

	initialTempo := score.TempoAt(req.StartOrdinal)
	track.Add(0, smf.MetaTempo(quarterBPM(initialTempo)*req.TempoMultiplier))

	for _, change := range score.TempoChanges {
		inRange := change.BarOrdinal >= req.StartOrdinal && change.BarOrdinal <= req.EndOrdinal
		if !inRange || (change.BarOrdinal == req.StartOrdinal && change.OffsetDivs == 0) {
			continue
		}

		tick := g.barStart(change.BarOrdinal) + offsetTicks(score, change.BarOrdinal, change.OffsetDivs)
		events = append(events, timedMessage{
			tick: tick,
			off:  false,
			msg:  smf.MetaTempo(quarterBPM(change) * req.TempoMultiplier),
		})
	}

	appendSorted(&track, events)
	track.Close(0)

	return track
}

// quarterBPM converts a tempo marking to quarter-note beats per minute
// by weighting the referent's length in quarters.
func quarterBPM(tc core.TempoChange) float64 {
	quarters, ok := referentQuarters[tc.Referent.Base]
	if !ok || quarters <= 0 {
		quarters = 1
	}

	factor := 1.0
	add := 0.5

	for i := 0; i < tc.Referent.Dots && i < 3; i++ {
		factor += add
		add /= 2
	}

	return tc.BPM * quarters * factor
}

var referentQuarters = map[core.BaseValue]float64{
	core.BaseWhole:        4,
	core.BaseHalf:         2,
	core.BaseQuarter:      1,
	core.BaseEighth:       0.5,
	core.BaseSixteenth:    0.25,
	core.BaseThirtySecond: 0.125,
	core.BaseSixtyFourth:  0.0625,
}

// offsetTicks converts a division offset inside a bar to ticks, using
// the bar's own division resolution from the first part.
func offsetTicks(score *core.Score, ordinal, offsetDivs int) uint32 {
	if offsetDivs <= 0 {
		return 0
	}

	divs := 1

	if len(score.Parts) > 0 && len(score.Parts[0].Staves) > 0 {
		bars := score.Parts[0].Staves[0].Bars
		if ordinal < len(bars) && bars[ordinal].DivsPerQuarter > 0 {
			divs = bars[ordinal].DivsPerQuarter
		}
	}

	return uint32(offsetDivs * ticksPerQuarter / divs)
}

// partTrack renders the notes of every staff of one part onto a single
// channel. Ties chain into held notes; grace notes and unpitched strikes
// are silent in audio.
func partTrack(part core.Part, req core.AudioRequest, g grid, channel uint8) smf.Track {
	var track smf.Track

	name := part.Name
	if name == "" {
		name = part.ID
	}

	track.Add(0, smf.MetaTrackSequenceName(name))
	// Instrument mapping is out of model scope; acoustic grand for all.
	track.Add(0, midi.ProgramChange(channel, 0))

	var events []timedMessage

	held := make(map[uint8]struct{})

	for _, staff := range part.Staves {
		for ordinal := req.StartOrdinal; ordinal <= req.EndOrdinal && ordinal < len(staff.Bars); ordinal++ {
			bar := staff.Bars[ordinal]
			barStart := g.barStart(ordinal)

			for _, elem := range bar.AllElements() {
				events = appendElementEvents(events, elem, bar, barStart, channel, held)
			}
		}
	}

	// Ties left open at the slice boundary close at the slice end.
	for key := range held {
		events = append(events, timedMessage{tick: g.total, off: true, msg: smf.Message(midi.NoteOff(channel, key))})
	}

	appendSorted(&track, events)
	track.Close(0)

	return track
}

func appendElementEvents(
	events []timedMessage,
	elem core.Element,
	bar core.Bar,
	barStart uint32,
	channel uint8,
	held map[uint8]struct{},
) []timedMessage {
	if !elem.Sounding() || elem.GraceNote || elem.Duration.Divs <= 0 {
		return events
	}

	divs := bar.DivsPerQuarter
	if divs <= 0 {
		divs = 1
	}

	onTick := barStart + uint32(elem.OffsetDivs*ticksPerQuarter/divs)
	offTick := onTick + uint32(elem.Duration.Divs*ticksPerQuarter/divs)

	for _, pitch := range elem.PitchesLowToHigh() {
		key := midiKey(pitch)

		switch elem.Tie {
		case core.TieStart, core.TieContinue:
			if _, open := held[key]; !open {
				events = append(events, timedMessage{tick: onTick, off: false, msg: smf.Message(midi.NoteOn(channel, key, noteVelocity))})
				held[key] = struct{}{}
			}
		case core.TieStop:
			if _, open := held[key]; open {
				delete(held, key)
			} else {
				events = append(events, timedMessage{tick: onTick, off: false, msg: smf.Message(midi.NoteOn(channel, key, noteVelocity))})
			}

			events = append(events, timedMessage{tick: offTick, off: true, msg: smf.Message(midi.NoteOff(channel, key))})
		case core.TieNone:
			events = append(events, timedMessage{tick: onTick, off: false, msg: smf.Message(midi.NoteOn(channel, key, noteVelocity))})
			events = append(events, timedMessage{tick: offTick, off: true, msg: smf.Message(midi.NoteOff(channel, key))})
		}
	}

	return events
}

func midiKey(pitch core.Pitch) uint8 {
	key := pitch.Midi()
	if key < 0 {
		key = 0
	}

	if key > 127 {
		key = 127
	}

	return uint8(key)
}

// clickTrack emits the beat grid on the percussion channel: snare on
// each downbeat, hi-hat on the remaining beats.
func clickTrack(score *core.Score, req core.AudioRequest, g grid) smf.Track {
	var track smf.Track

	track.Add(0, smf.MetaTrackSequenceName("click"))

	var events []timedMessage

	for ordinal := req.StartOrdinal; ordinal <= req.EndOrdinal; ordinal++ {
		ts := score.TimeSignatureAt(ordinal)
		barStart := g.barStart(ordinal)
		step := beatTicks(ts)

		beats := ts.Beats
		if beats <= 0 {
			beats = 4
		}

		for beat := 0; beat < beats; beat++ {
			key := uint8(clickBeatKey)
			velocity := uint8(clickBeatVelocity)

			if beat == 0 {
				key = clickDownbeatKey
				velocity = clickDownbeatVelocity
			}

			onTick := barStart + uint32(beat)*step
			events = append(events,
				timedMessage{tick: onTick, off: false, msg: smf.Message(midi.NoteOn(clickChannel, key, velocity))},
				timedMessage{tick: onTick + step, off: true, msg: smf.Message(midi.NoteOff(clickChannel, key))},
			)
		}
	}

	appendSorted(&track, events)
	track.Close(0)

	return track
}

// appendSorted delta-encodes absolute-tick events onto the track.
func appendSorted(track *smf.Track, events []timedMessage) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}

		return events[i].off && !events[j].off
	})

	prev := uint32(0)
	for _, event := range events {
		track.Add(event.tick-prev, event.msg)
		prev = event.tick
	}
}

// selectParts resolves the virtual part selection to concrete part
// indices, preserving score order.
func selectParts(score *core.Score, req core.AudioRequest) ([]int, error) {
	switch req.Selection {
	case core.SelectionAll:
		all := make([]int, len(score.Parts))
		for i := range all {
			all[i] = i
		}

		return all, nil
	case core.SelectionSelected:
		marked, err := markedSet(score, req.Parts)
		if err != nil {
			return nil, err
		}

		return pickParts(score, marked, true)
	case core.SelectionUnselected:
		marked, err := markedSet(score, req.Parts)
		if err != nil {
			return nil, err
		}

		return pickParts(score, marked, false)
	default:
		return nil, fmt.Errorf("%w: selection %q", core.ErrInvalidOption, req.Selection)
	}
}

func markedSet(score *core.Score, parts []int) (map[int]struct{}, error) {
	marked := make(map[int]struct{}, len(parts))

	for _, idx := range parts {
		if idx < 0 || idx >= len(score.Parts) {
			return nil, fmt.Errorf("%w: part index %d out of range", core.ErrInvalidOption, idx)
		}

		marked[idx] = struct{}{}
	}

	return marked, nil
}

func pickParts(score *core.Score, marked map[int]struct{}, wantMarked bool) ([]int, error) {
	var picked []int

	for i := range score.Parts {
		if _, ok := marked[i]; ok == wantMarked {
			picked = append(picked, i)
		}
	}

	if len(picked) == 0 {
		return nil, fmt.Errorf("%w: part selection matches no parts", core.ErrInvalidOption)
	}

	return picked, nil
}

// partChannel assigns sequential channels, skipping the percussion
// channel reserved for the click track.
func partChannel(trackIdx int) uint8 {
	usable := []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15}

	return usable[trackIdx%len(usable)]
}

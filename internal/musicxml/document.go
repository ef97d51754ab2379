package musicxml

import (
	"encoding/xml"
	"fmt"
)

// The decoded subset of a score-partwise document. Measure content is
// order-sensitive (backup and forward move the duration cursor), so
// xmlMeasure decodes its children by hand instead of through struct tags.

type xmlScorePartwise struct {
	XMLName       xml.Name       `xml:"score-partwise"`
	WorkTitle     string         `xml:"work>work-title"`
	MovementTitle string         `xml:"movement-title"`
	Creators      []xmlCreator   `xml:"identification>creator"`
	ScoreParts    []xmlScorePart `xml:"part-list>score-part"`
	Parts         []xmlPart      `xml:"part"`
}

type xmlCreator struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlScorePart struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"part-name"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

type xmlMeasure struct {
	Number   string
	Implicit bool
	Items    []xmlMeasureItem
}

// xmlMeasureItem is one child of a measure in document order. Kind selects
// which field is set; unmodeled constructs keep only their element name.
type xmlMeasureItem struct {
	Kind       string
	Note       *xmlNote
	Move       int
	Attributes *xmlAttributes
	Direction  *xmlDirection
	Sound      *xmlSound
	Other      string
}

const (
	itemNote       = "note"
	itemMove       = "move"
	itemAttributes = "attributes"
	itemDirection  = "direction"
	itemSound      = "sound"
	itemOther      = "other"
)

// Layout-only measure children that carry no musical content.
var ignorableMeasureChildren = map[string]struct{}{
	"print":   {},
	"barline": {},
}

// UnmarshalXML decodes measure children in document order.
func (m *xmlMeasure) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "number":
			m.Number = attr.Value
		case "implicit":
			m.Implicit = attr.Value == "yes"
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("failed to read measure token: %w", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			err = m.decodeChild(decoder, element)
			if err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (m *xmlMeasure) decodeChild(decoder *xml.Decoder, element xml.StartElement) error {
	switch element.Name.Local {
	case "note":
		var note xmlNote

		err := decoder.DecodeElement(&note, &element)
		if err != nil {
			return fmt.Errorf("failed to decode note: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemNote, Note: &note})
	case "backup":
		var move xmlMove

		err := decoder.DecodeElement(&move, &element)
		if err != nil {
			return fmt.Errorf("failed to decode backup: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemMove, Move: -move.Duration})
	case "forward":
		var move xmlMove

		err := decoder.DecodeElement(&move, &element)
		if err != nil {
			return fmt.Errorf("failed to decode forward: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemMove, Move: move.Duration})
	case "attributes":
		var attributes xmlAttributes

		err := decoder.DecodeElement(&attributes, &element)
		if err != nil {
			return fmt.Errorf("failed to decode attributes: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemAttributes, Attributes: &attributes})
	case "direction":
		var direction xmlDirection

		err := decoder.DecodeElement(&direction, &element)
		if err != nil {
			return fmt.Errorf("failed to decode direction: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemDirection, Direction: &direction})
	case "sound":
		var sound xmlSound

		err := decoder.DecodeElement(&sound, &element)
		if err != nil {
			return fmt.Errorf("failed to decode sound: %w", err)
		}

		m.Items = append(m.Items, xmlMeasureItem{Kind: itemSound, Sound: &sound})
	default:
		name := element.Name.Local

		err := decoder.Skip()
		if err != nil {
			return fmt.Errorf("failed to skip element '%s': %w", name, err)
		}

		if _, ignorable := ignorableMeasureChildren[name]; !ignorable {
			m.Items = append(m.Items, xmlMeasureItem{Kind: itemOther, Other: name})
		}
	}

	return nil
}

type xmlMove struct {
	Duration int `xml:"duration"`
}

type xmlAttributes struct {
	Divisions int       `xml:"divisions"`
	Keys      []xmlKey  `xml:"key"`
	Times     []xmlTime `xml:"time"`
	Staves    int       `xml:"staves"`
}

type xmlKey struct {
	Fifths int `xml:"fifths"`
}

// Beats and beat-type stay strings: values like "3+2" must degrade to a
// recorded unsupported feature, not abort the whole decode.
type xmlTime struct {
	Beats    string `xml:"beats"`
	BeatType string `xml:"beat-type"`
}

type xmlDirection struct {
	Types []xmlDirectionType `xml:"direction-type"`
	Sound *xmlSound          `xml:"sound"`
	Staff int                `xml:"staff"`
}

type xmlDirectionType struct {
	Metronome *xmlMetronome `xml:"metronome"`
	Words     []string      `xml:"words"`
	Dynamics  *xmlDynamics  `xml:"dynamics"`
	Wedge     *xmlWedge     `xml:"wedge"`
}

type xmlMetronome struct {
	BeatUnit     string     `xml:"beat-unit"`
	BeatUnitDots []xmlEmpty `xml:"beat-unit-dot"`
	PerMinute    string     `xml:"per-minute"`
}

// xmlDynamics captures the marking as the name of its first child element
// (p, f, mf, sfz, ...).
type xmlDynamics struct {
	Marks []xmlAnyName `xml:",any"`
}

type xmlAnyName struct {
	XMLName xml.Name
}

type xmlWedge struct {
	Type string `xml:"type,attr"`
}

type xmlSound struct {
	Tempo float64 `xml:"tempo,attr"`
}

type xmlNote struct {
	Pitch      *xmlPitch            `xml:"pitch"`
	Unpitched  *xmlUnpitched        `xml:"unpitched"`
	Rest       *xmlEmpty            `xml:"rest"`
	Chord      *xmlEmpty            `xml:"chord"`
	Grace      *xmlEmpty            `xml:"grace"`
	Cue        *xmlEmpty            `xml:"cue"`
	Duration   int                  `xml:"duration"`
	Voice      string               `xml:"voice"`
	Type       string               `xml:"type"`
	Dots       []xmlEmpty           `xml:"dot"`
	Staff      int                  `xml:"staff"`
	Accidental string               `xml:"accidental"`
	Ties       []xmlTie             `xml:"tie"`
	TimeMod    *xmlTimeModification `xml:"time-modification"`
	Notations  []xmlNotations       `xml:"notations"`
}

type xmlEmpty struct{}

// Alter is fractional in the schema (quarter tones); the model rounds to
// whole semitones.
type xmlPitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter"`
	Octave int     `xml:"octave"`
}

type xmlUnpitched struct {
	DisplayStep   string `xml:"display-step"`
	DisplayOctave int    `xml:"display-octave"`
}

type xmlTie struct {
	Type string `xml:"type,attr"`
}

type xmlTimeModification struct {
	ActualNotes int `xml:"actual-notes"`
	NormalNotes int `xml:"normal-notes"`
}

type xmlNotations struct {
	Articulations *xmlArticulations `xml:"articulations"`
	Ornaments     *xmlOrnaments     `xml:"ornaments"`
	Fermata       *xmlEmpty         `xml:"fermata"`
	Arpeggiate    *xmlEmpty         `xml:"arpeggiate"`
}

type xmlArticulations struct {
	Accent        *xmlEmpty `xml:"accent"`
	StrongAccent  *xmlEmpty `xml:"strong-accent"`
	Staccato      *xmlEmpty `xml:"staccato"`
	Staccatissimo *xmlEmpty `xml:"staccatissimo"`
	Tenuto        *xmlEmpty `xml:"tenuto"`
}

type xmlOrnaments struct {
	TrillMark *xmlEmpty `xml:"trill-mark"`
	Mordent   *xmlEmpty `xml:"mordent"`
	Turn      *xmlEmpty `xml:"turn"`
}

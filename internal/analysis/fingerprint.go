package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/book-expert/score-service/internal/core"
)

// Fingerprints are canonical strings: one token per element, joined with
// "|" within a bar and "||" across the bars of a unit. Identical content
// always yields identical strings, so string equality is group equality.

func barFingerprint(bar core.Bar, mode core.CompareMode) string {
	elements := bar.AllElements()
	if len(elements) == 0 {
		return ""
	}

	tokens := make([]string, 0, len(elements))

	switch mode {
	case core.CompareExact:
		for _, elem := range elements {
			tokens = append(tokens, exactToken(elem))
		}
	case core.CompareRhythm:
		for _, elem := range elements {
			tokens = append(tokens, rhythmToken(elem))
		}
	case core.CompareInterval:
		anchor := -1
		for _, elem := range elements {
			token, next := intervalToken(elem, anchor)
			anchor = next

			tokens = append(tokens, token)
		}
	}

	return strings.Join(tokens, "|")
}

func unitFingerprint(bars []core.Bar, mode core.CompareMode) string {
	parts := make([]string, 0, len(bars))
	for _, bar := range bars {
		parts = append(parts, barFingerprint(bar, mode))
	}

	return strings.Join(parts, "||")
}

func exactToken(elem core.Element) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s%d.%d.%d.%d",
		kindTag(elem.Kind),
		elem.Duration.Base, elem.Duration.Dots,
		elem.Duration.TupletActual, elem.Duration.TupletNormal)

	if elem.Sounding() {
		numbers := make([]string, 0, len(elem.Pitches))
		for _, pitch := range elem.PitchesLowToHigh() {
			numbers = append(numbers, strconv.Itoa(pitch.Midi()))
		}

		b.WriteString(":" + strings.Join(numbers, "-"))
	}

	if elem.Kind == core.ElementPlaceholder {
		b.WriteString(":" + elem.Placeholder)
	}

	return b.String()
}

func rhythmToken(elem core.Element) string {
	class := "s"

	switch elem.Kind {
	case core.ElementRest:
		class = "r"
	case core.ElementPlaceholder:
		class = "x"
	}

	return fmt.Sprintf("%s%d.%d.%d.%d",
		class,
		elem.Duration.Base, elem.Duration.Dots,
		elem.Duration.TupletActual, elem.Duration.TupletNormal)
}

// intervalToken renders the semitone distance from the previous sounding
// element's lowest pitch. The first sounding element anchors the bar, so
// transposed copies of a bar share one fingerprint.
func intervalToken(elem core.Element, anchor int) (string, int) {
	switch elem.Kind {
	case core.ElementRest:
		return "r", anchor
	case core.ElementPlaceholder:
		return "x", anchor
	case core.ElementUnpitched:
		return "u", anchor
	}

	if len(elem.Pitches) == 0 {
		return "u", anchor
	}

	lowest := elem.PitchesLowToHigh()[0].Midi()
	if anchor < 0 {
		return "*", lowest
	}

	return strconv.Itoa(lowest - anchor), lowest
}

func kindTag(kind core.ElementKind) string {
	switch kind {
	case core.ElementNote:
		return "n"
	case core.ElementChord:
		return "c"
	case core.ElementRest:
		return "r"
	case core.ElementUnpitched:
		return "u"
	default:
		return "x"
	}
}

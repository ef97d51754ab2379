package core

import "errors"

// Request-level failures. Only these two abort a generation request; every
// other failure class degrades locally and the request completes.
var (
	// ErrMalformedInput indicates the notation container or markup could
	// not be read at all.
	ErrMalformedInput = errors.New("malformed notation input")

	// ErrTimeout indicates the generation exceeded its wall-clock budget.
	ErrTimeout = errors.New("generation timed out")
)

// Localized failures. These degrade a single element, attribute, or audio
// key and are recorded rather than propagated.
var (
	// ErrUnsupportedFeature marks a construct that is recognized but not
	// modeled; the element becomes a placeholder.
	ErrUnsupportedFeature = errors.New("unsupported notation feature")

	// ErrMissingAttribute marks an absent required attribute that was
	// substituted with a documented default.
	ErrMissingAttribute = errors.New("missing required attribute")

	// ErrAudioGeneration marks a failure confined to one audio key; the
	// description bundle is unaffected.
	ErrAudioGeneration = errors.New("audio generation failed")
)

// ErrInvalidOption indicates a render option value outside its enumerated
// set.
var ErrInvalidOption = errors.New("invalid render option")

// DegradationKind classifies a recorded localized degradation.
type DegradationKind string

const (
	// DegradationUnsupported records a construct degraded to a
	// placeholder element.
	DegradationUnsupported DegradationKind = "unsupported"
	// DegradationMissing records a defaulted absent attribute.
	DegradationMissing DegradationKind = "missing"
	// DegradationAudio records a failed audio key.
	DegradationAudio DegradationKind = "audio"
)

// Degradation records one localized failure so the output can surface a
// "processed with N unsupported elements" notice.
type Degradation struct {
	Kind     DegradationKind `json:"kind"`
	Detail   string          `json:"detail"`
	BarLabel string          `json:"bar_label"`
}

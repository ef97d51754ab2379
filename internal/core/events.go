package core

import "github.com/book-expert/events"

// ScoreSubmittedEvent asks the service to process a notation file already
// uploaded to the score object store.
type ScoreSubmittedEvent struct {
	Header   events.EventHeader `json:"header"`
	ScoreKey string             `json:"score_key"`
	FileName string             `json:"file_name"`
	Options  RenderOptions      `json:"options"`
}

// ScoreProcessedEvent reports the stored output bundle for a submission.
// Error is set when the request failed before a bundle was produced.
type ScoreProcessedEvent struct {
	Header           events.EventHeader `json:"header"`
	BundleKey        string             `json:"bundle_key"`
	Title            string             `json:"title"`
	BarCount         int                `json:"bar_count"`
	UnsupportedCount int                `json:"unsupported_count"`
	Error            string             `json:"error,omitempty"`
}

// AudioRequestedEvent asks for one audio artifact of a processed score.
// TempoPercent is the multiplier as a whole percentage (50, 100, 150).
type AudioRequestedEvent struct {
	Header       events.EventHeader `json:"header"`
	ScoreKey     string             `json:"score_key"`
	StartOrdinal int                `json:"start_ordinal"`
	EndOrdinal   int                `json:"end_ordinal"`
	Selection    string             `json:"selection"`
	Parts        []int              `json:"parts"`
	TempoPercent int                `json:"tempo_percent"`
	ClickTrack   bool               `json:"click_track"`
}

// AudioReadyEvent reports the artifact key for an audio request. When the
// key could not be generated, Available is false and the rest of the
// bundle remains usable.
type AudioReadyEvent struct {
	Header    events.EventHeader `json:"header"`
	AudioKey  string             `json:"audio_key"`
	Available bool               `json:"available"`
	Error     string             `json:"error,omitempty"`
}

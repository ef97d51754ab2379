// Package worker provides the NATS worker that serves score submissions
// and on-demand audio requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/score-service/internal/audiocache"
	"github.com/book-expert/score-service/internal/core"
	"github.com/book-expert/score-service/internal/pipeline"
)

// Handler budgets. Score processing carries its own pipeline budget, so
// the outer bound only has to exceed it.
const (
	scoreHandleTimeout = 10 * time.Minute
	audioHandleTimeout = 2 * time.Minute
)

const defaultAudioWorkers = 4

// ErrEmptyScoreKey indicates an event without a notation object key.
var ErrEmptyScoreKey = errors.New("score key cannot be empty")

// Subjects names the two subscriptions the worker serves.
type Subjects struct {
	ScoreSubmitted string
	AudioRequested string
}

// Stores groups the three object store buckets the worker touches.
type Stores struct {
	Score  core.ObjectStore
	Bundle core.ObjectStore
	Audio  core.ObjectStore
}

// NatsWorker listens for score submissions and audio requests on NATS
// subjects and serves both until its context ends.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	stores         Stores
	processor      core.ScoreProcessor
	builder        core.ScoreBuilder
	renderer       core.AudioRenderer
	cache          *audiocache.Cache
	audioSlots     chan struct{}
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. audioWorkers
// bounds the number of simultaneous audio generations.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	stores Stores,
	processor core.ScoreProcessor,
	builder core.ScoreBuilder,
	renderer core.AudioRenderer,
	cache *audiocache.Cache,
	audioWorkers int,
	log *logger.Logger,
) (*NatsWorker, error) {
	if audioWorkers < 1 {
		audioWorkers = defaultAudioWorkers
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		stores:         stores,
		processor:      processor,
		builder:        builder,
		renderer:       renderer,
		cache:          cache,
		audioSlots:     make(chan struct{}, audioWorkers),
		log:            log,
	}, nil
}

// Run starts both subscriptions and blocks until ctx ends, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	scoreSub, err := w.natsConnection.Subscribe(w.subjects.ScoreSubmitted, w.handleScoreSubmitted)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.ScoreSubmitted, err)
	}

	audioSub, err := w.natsConnection.Subscribe(w.subjects.AudioRequested, w.handleAudioRequested)
	if err != nil {
		_ = scoreSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.AudioRequested, err)
	}

	<-ctx.Done()

	for _, sub := range []*nats.Subscription{scoreSub, audioSub} {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleScoreSubmitted(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), scoreHandleTimeout)
	defer cancel()

	var event core.ScoreSubmittedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal submission event: %v", err)
		w.replyScore(msg, event.Header, nil, "", err)

		return
	}

	bundle, bundleKey, err := w.processSubmission(ctx, &event)
	if err != nil {
		w.log.Error("Failed to process submission for workflow %s: %v", event.Header.WorkflowID, err)
		w.replyScore(msg, event.Header, nil, "", err)

		return
	}

	w.replyScore(msg, event.Header, bundle, bundleKey, nil)
}

// processSubmission downloads the notation, runs the pipeline, and stores
// the resulting bundle JSON under a fresh key.
func (w *NatsWorker) processSubmission(
	ctx context.Context,
	event *core.ScoreSubmittedEvent,
) (*core.OutputBundle, string, error) {
	if event.ScoreKey == "" {
		return nil, "", ErrEmptyScoreKey
	}

	notation, err := w.stores.Score.Download(ctx, event.ScoreKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download notation for key '%s': %w", event.ScoreKey, err)
	}

	bundle, err := w.processor.Process(ctx, notation, event.Options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate description: %w", err)
	}

	bundleData, err := json.Marshal(bundle)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal output bundle: %w", err)
	}

	bundleKey := uuid.NewString() + ".json"

	err = w.stores.Bundle.Upload(ctx, bundleKey, bundleData)
	if err != nil {
		return nil, "", fmt.Errorf("failed to upload bundle for key '%s': %w", bundleKey, err)
	}

	return bundle, bundleKey, nil
}

func (w *NatsWorker) replyScore(
	msg *nats.Msg,
	header events.EventHeader,
	bundle *core.OutputBundle,
	bundleKey string,
	cause error,
) {
	if msg.Reply == "" {
		return
	}

	reply := core.ScoreProcessedEvent{
		Header:           header,
		BundleKey:        bundleKey,
		Title:            "",
		BarCount:         0,
		UnsupportedCount: 0,
		Error:            "",
	}

	if bundle != nil {
		reply.Title = bundle.Info.Title
		reply.BarCount = bundle.Info.BarCount
		reply.UnsupportedCount = bundle.UnsupportedCount
	}

	if cause != nil {
		reply.Error = cause.Error()
	}

	w.respond(msg, &reply, header.WorkflowID)
}

// handleAudioRequested hands the request to its own goroutine right away;
// the slot admission happens there, so a full house queues the request
// without ever stalling the subscription dispatcher.
func (w *NatsWorker) handleAudioRequested(msg *nats.Msg) {
	go func() {
		w.audioSlots <- struct{}{}
		defer func() { <-w.audioSlots }()

		w.serveAudio(msg)
	}()
}

func (w *NatsWorker) serveAudio(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), audioHandleTimeout)
	defer cancel()

	var event core.AudioRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal audio request event: %v", err)
		w.replyAudio(msg, event.Header, "", err)

		return
	}

	audioKey, err := w.generateAudio(ctx, &event)
	if err != nil {
		w.log.Error("Failed to generate audio for workflow %s: %v", event.Header.WorkflowID, err)
		w.replyAudio(msg, event.Header, audioKey, err)

		return
	}

	w.replyAudio(msg, event.Header, audioKey, nil)
}

// generateAudio resolves the canonical key for the request and fills the
// cache: stored artifacts are reused, misses rebuild the score and render.
func (w *NatsWorker) generateAudio(ctx context.Context, event *core.AudioRequestedEvent) (string, error) {
	if event.ScoreKey == "" {
		return "", ErrEmptyScoreKey
	}

	notation, err := w.stores.Score.Download(ctx, event.ScoreKey)
	if err != nil {
		return "", fmt.Errorf("failed to download notation for key '%s': %w", event.ScoreKey, err)
	}

	req := core.AudioRequest{
		StartOrdinal:    event.StartOrdinal,
		EndOrdinal:      event.EndOrdinal,
		Selection:       core.PartSelection(event.Selection),
		Parts:           event.Parts,
		TempoMultiplier: float64(event.TempoPercent) / 100,
		ClickTrack:      event.ClickTrack,
	}

	err = req.Validate()
	if err != nil {
		return "", err
	}

	audioKey := req.Key(pipeline.ScoreID(notation))

	_, err = w.cache.Get(ctx, audioKey, func(ctx context.Context) ([]byte, error) {
		return w.renderArtifact(ctx, audioKey, notation, req)
	})
	if err != nil {
		return audioKey, err
	}

	return audioKey, nil
}

func (w *NatsWorker) renderArtifact(
	ctx context.Context,
	audioKey string,
	notation []byte,
	req core.AudioRequest,
) ([]byte, error) {
	stored, err := w.stores.Audio.Download(ctx, audioKey)
	if err == nil {
		return stored, nil
	}

	score, err := w.builder.Build(notation)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild score model: %w", err)
	}

	data, err := w.renderer.Render(score, req)
	if err != nil {
		return nil, fmt.Errorf("failed to render audio artifact: %w", err)
	}

	uploadErr := w.stores.Audio.Upload(ctx, audioKey, data)
	if uploadErr != nil {
		// The in-memory artifact still serves this request.
		w.log.Error("Failed to upload audio artifact '%s': %v", audioKey, uploadErr)
	}

	return data, nil
}

func (w *NatsWorker) replyAudio(msg *nats.Msg, header events.EventHeader, audioKey string, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := core.AudioReadyEvent{
		Header:    header,
		AudioKey:  audioKey,
		Available: cause == nil,
		Error:     "",
	}

	if cause != nil {
		reply.Error = cause.Error()
	}

	w.respond(msg, &reply, header.WorkflowID)
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any, workflowID string) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event for workflow %s: %v", workflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", workflowID, err)
	}
}

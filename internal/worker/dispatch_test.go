package worker

import (
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/score-service/internal/audiocache"
)

// The audio subscription callback must return even when every generation
// slot is taken; a full house queues the request instead of blocking
// message delivery for the subjects the worker serves.
func TestAudioDispatchReturnsWhileSlotsBusy(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	instance, err := NewNatsWorker(
		nil,
		Subjects{ScoreSubmitted: "score.submitted", AudioRequested: "score.audio.requested"},
		Stores{Score: nil, Bundle: nil, Audio: nil},
		nil,
		nil,
		nil,
		audiocache.New(),
		1,
		testLogger,
	)
	require.NoError(t, err)

	// Take the only slot, as a long-running render would.
	instance.audioSlots <- struct{}{}

	returned := make(chan struct{})

	go func() {
		// No reply subject, so the queued handler never touches the
		// nil connection once it gets a slot.
		instance.handleAudioRequested(&nats.Msg{Subject: "score.audio.requested", Data: []byte("{not json")})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("audio dispatch blocked while all generation slots were busy")
	}

	// Free the slot; filling it again synchronizes with the queued
	// handler finishing and releasing its own admission.
	<-instance.audioSlots
	instance.audioSlots <- struct{}{}
}

package job

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/model"
)

func TestBrokerDeliversToJobSubscribers(t *testing.T) {
	b := NewBroker(8)
	jobID := uuid.New()
	otherID := uuid.New()

	ch := b.Subscribe(jobID)
	defer b.Unsubscribe(jobID, ch)
	other := b.Subscribe(otherID)
	defer b.Unsubscribe(otherID, other)

	b.Publish(model.ProgressEvent{JobID: jobID, Sequence: 1, Phase: model.PhaseQueued})

	select {
	case e := <-ch:
		assert.Equal(t, int64(1), e.Sequence)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case e := <-other:
		t.Fatalf("subscriber of another job received event %d", e.Sequence)
	default:
	}
}

func TestBrokerSlowSubscriberKeepsTerminal(t *testing.T) {
	b := NewBroker(2)
	jobID := uuid.New()

	ch := b.Subscribe(jobID)
	defer b.Unsubscribe(jobID, ch)

	// Nobody reading: fill the buffer, then overflow it.
	for seq := int64(1); seq <= 5; seq++ {
		b.Publish(model.ProgressEvent{JobID: jobID, Sequence: seq})
	}
	b.Publish(model.ProgressEvent{JobID: jobID, Sequence: 6, Terminal: true, State: model.JobSucceeded})

	var got []model.ProgressEvent
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.Terminal, "terminal event must survive a full buffer")
	assert.Equal(t, int64(6), last.Sequence)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(8)
	jobID := uuid.New()

	ch := b.Subscribe(jobID)
	b.Unsubscribe(jobID, ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last subscriber left is a no-op.
	b.Publish(model.ProgressEvent{JobID: jobID, Sequence: 1})
}

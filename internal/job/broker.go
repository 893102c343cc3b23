package job

import (
	"sync"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

// Broker fans progress events out to per-job subscribers. The runner
// publishes every event after persisting it, so a subscriber that also
// replays from the store misses nothing.
type Broker struct {
	bufferSize int

	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan model.ProgressEvent]struct{}
}

// NewBroker creates a broker. bufferSize is the per-subscriber channel
// buffer; slow subscribers lose intermediate events once it fills.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]map[chan model.ProgressEvent]struct{}),
	}
}

// Subscribe returns a channel receiving events for one job.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(jobID uuid.UUID) chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent, b.bufferSize)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan model.ProgressEvent]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(jobID uuid.UUID, ch chan model.ProgressEvent) {
	b.mu.Lock()
	if set, ok := b.subs[jobID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, jobID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to every subscriber of its job. A subscriber with
// a full buffer loses intermediate events, but never the terminal one: for
// terminal events the oldest buffered event is evicted to make room, so a
// lagging consumer still learns how the job ended.
func (b *Broker) Publish(e model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			if e.Terminal {
				sendEvicting(ch, e)
			}
			// Intermediate event, subscriber buffer full. Dropped; the
			// stream handler replays gaps from the store on reconnect.
		}
	}
}

// sendEvicting delivers e to a full channel by discarding buffered events
// until the send succeeds. The runner is the only publisher per job, so
// the buffer cannot refill underneath us.
func sendEvicting(ch chan model.ProgressEvent, e model.ProgressEvent) {
	for {
		select {
		case ch <- e:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

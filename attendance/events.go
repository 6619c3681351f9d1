/*
events.go - Outbound event surface

PURPOSE:
  The engine reports every attendance mutation as an event on an
  explicit outbound queue. An external dispatcher drains the queue and
  delivers to notification channels; delivery is best-effort,
  fire-after-commit, and can never fail or block the core mutation.

DELIVERY SEMANTICS:
  - Publish never blocks: when the queue is full the event is dropped
    and counted, with a warning log.
  - Ordering is best-effort. Consumers must not rely on it.
  - A sink error is logged and swallowed; the mutation already committed.

SEE ALSO:
  - session.go: Emits check-in/check-out events
  - engine.go: Emits correction and sweep events
*/
package attendance

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

type EventKind string

const (
	EventCheckInRecorded   EventKind = "checkIn.recorded"
	EventCheckInFailed     EventKind = "checkIn.failed"
	EventCheckOutRecorded  EventKind = "checkOut.recorded"
	EventMilestoneAchieved EventKind = "milestone.achieved"
	EventEngagementChanged EventKind = "engagement.changed"
	EventStatsUpdated      EventKind = "stats.updated"
	EventMemberAtRisk      EventKind = "member.atRisk"
	EventSessionExpired    EventKind = "session.expired"
)

// Event is one outbound notification. Stats is a snapshot taken after
// the mutation committed; Payload carries kind-specific details.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Target    TargetKey      `json:"target"`
	Stats     *Stats         `json:"stats,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(kind EventKind, target TargetKey) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		Timestamp: time.Now().UTC(),
	}
}

// EventSink receives drained events. Implementations deliver to
// webhooks, message buses, or logs.
type EventSink interface {
	Deliver(event Event) error
}

// =============================================================================
// QUEUE - Non-blocking outbound buffer
// =============================================================================

// Queue is the outbound event buffer the engine writes to.
type Queue struct {
	ch      chan Event
	dropped atomic.Int64
	log     *logrus.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(size int, log *logrus.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Queue{
		ch:   make(chan Event, size),
		log:  log,
		done: make(chan struct{}),
	}
}

// Publish enqueues an event without blocking. A full queue drops the
// event; the attendance mutation is already committed either way.
func (q *Queue) Publish(event Event) {
	select {
	case q.ch <- event:
	default:
		n := q.dropped.Add(1)
		q.log.WithFields(logrus.Fields{
			"kind":    event.Kind,
			"target":  event.Target.TargetID,
			"dropped": n,
		}).Warn("event queue full, dropping event")
	}
}

// Dropped returns how many events have been dropped since creation.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Drain starts a goroutine delivering queued events to the sinks until
// Close is called. Sink errors are logged and do not stop draining.
func (q *Queue) Drain(sinks ...EventSink) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case event := <-q.ch:
				q.deliver(event, sinks)
			case <-q.done:
				// Flush whatever is already buffered.
				for {
					select {
					case event := <-q.ch:
						q.deliver(event, sinks)
					default:
						return
					}
				}
			}
		}
	}()
}

func (q *Queue) deliver(event Event, sinks []EventSink) {
	for _, sink := range sinks {
		if err := sink.Deliver(event); err != nil {
			q.log.WithFields(logrus.Fields{
				"kind":  event.Kind,
				"event": event.ID,
			}).WithError(err).Warn("event delivery failed")
		}
	}
}

// Close stops draining after flushing buffered events.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

// =============================================================================
// LOG SINK - Default sink writing events to the structured log
// =============================================================================

type LogSink struct {
	Log *logrus.Logger
}

func (s *LogSink) Deliver(event Event) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"kind":        event.Kind,
		"tenant":      event.Target.TenantID,
		"targetModel": event.Target.TargetModel,
		"targetId":    event.Target.TargetID,
	}).Info("attendance event")
	return nil
}

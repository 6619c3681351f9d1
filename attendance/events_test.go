package attendance_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// collectSink records every delivered event.
type collectSink struct {
	mu     sync.Mutex
	events []attendance.Event
}

func (s *collectSink) Deliver(event attendance.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) kinds() []attendance.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]attendance.EventKind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestQueue_DeliversInOrderAndFlushesOnClose(t *testing.T) {
	// GIVEN: A draining queue
	// WHEN: Events are published and the queue is closed
	// THEN: Every buffered event reaches the sink before Close returns

	queue := attendance.NewQueue(16, quietLogger())
	sink := &collectSink{}
	queue.Drain(sink)

	target := attendance.TargetKey{TenantID: "t1", TargetModel: "Member", TargetID: "m1"}
	queue.Publish(attendance.NewEvent(attendance.EventCheckInRecorded, target))
	queue.Publish(attendance.NewEvent(attendance.EventStatsUpdated, target))
	queue.Publish(attendance.NewEvent(attendance.EventCheckOutRecorded, target))

	queue.Close()

	assert.Equal(t, []attendance.EventKind{
		attendance.EventCheckInRecorded,
		attendance.EventStatsUpdated,
		attendance.EventCheckOutRecorded,
	}, sink.kinds())
	assert.Zero(t, queue.Dropped())
}

func TestQueue_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	// GIVEN: A queue with a one event buffer and no drainer
	// WHEN: Three events are published
	// THEN: Publish returns immediately and the overflow is counted

	queue := attendance.NewQueue(1, quietLogger())
	target := attendance.TargetKey{TenantID: "t1", TargetModel: "Member", TargetID: "m1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			queue.Publish(attendance.NewEvent(attendance.EventCheckInRecorded, target))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, int64(2), queue.Dropped())
}

func TestNewEvent_PopulatesIdentity(t *testing.T) {
	target := attendance.TargetKey{TenantID: "t1", TargetModel: "Member", TargetID: "m1"}
	event := attendance.NewEvent(attendance.EventMilestoneAchieved, target)

	require.NotEmpty(t, event.ID)
	assert.Equal(t, attendance.EventMilestoneAchieved, event.Kind)
	assert.Equal(t, target, event.Target)
	assert.False(t, event.Timestamp.IsZero())
}

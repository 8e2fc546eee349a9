package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"exam-live-service/internal/protocol"
)

type recordingChannel struct {
	mu       sync.Mutex
	received []protocol.Envelope
	fail     bool
	closed   bool
}

func (c *recordingChannel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("channel closed")
	}
	c.received = append(c.received, env)
	return nil
}

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log.WithField("component", "test")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestBroadcastReachesAllChannels(t *testing.T) {
	fanout := NewFanout(3, 0, testLogger())
	defer fanout.CloseAll()

	channels := make([]*recordingChannel, 10)
	for i := range channels {
		channels[i] = &recordingChannel{}
		fanout.Attach(fmt.Sprintf("s%d", i), channels[i])
	}

	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"}))

	waitFor(t, func() bool {
		for _, ch := range channels {
			if ch.count() != 1 {
				return false
			}
		}
		return true
	})
}

func TestBatchesBoundedByConfiguredSize(t *testing.T) {
	targets := make([]peer, 10)
	for i := range targets {
		targets[i] = peer{id: fmt.Sprintf("s%d", i)}
	}

	batches := splitBatches(targets, 3)
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches for 10 peers at size 3, got %d", len(batches))
	}
	seen := 0
	for _, batch := range batches {
		if len(batch) > 3 {
			t.Fatalf("batch exceeds configured size: %d", len(batch))
		}
		for _, p := range batch {
			if p.id != fmt.Sprintf("s%d", seen) {
				t.Fatalf("batch order must follow registration order, got %s at %d", p.id, seen)
			}
			seen++
		}
	}
	if seen != 10 {
		t.Fatalf("expected every peer batched once, got %d", seen)
	}
}

func TestBroadcastsStayOrdered(t *testing.T) {
	fanout := NewFanout(2, 0, testLogger())
	defer fanout.CloseAll()

	ch := &recordingChannel{}
	fanout.Attach("s1", ch)

	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeStart, nil))
	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"}))
	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeFinish, nil))

	waitFor(t, func() bool { return ch.count() == 3 })
	ch.mu.Lock()
	defer ch.mu.Unlock()
	want := []string{protocol.TypeStart, protocol.TypeSync, protocol.TypeFinish}
	for i, typ := range want {
		if ch.received[i].Type != typ {
			t.Fatalf("broadcast order broken: got %s at %d, want %s", ch.received[i].Type, i, typ)
		}
	}
}

func TestDeadChannelsArePruned(t *testing.T) {
	fanout := NewFanout(50, 0, testLogger())
	defer fanout.CloseAll()

	healthy := &recordingChannel{}
	broken := &recordingChannel{fail: true}
	fanout.Attach("ok", healthy)
	fanout.Attach("bad", broken)

	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"}))
	waitFor(t, func() bool { return healthy.count() == 1 })

	// The errored channel is removed on the next delivery pass.
	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"}))
	waitFor(t, func() bool { return healthy.count() == 2 })
	waitFor(t, func() bool { return fanout.Len() == 1 })
}

func TestReattachReplacesChannel(t *testing.T) {
	fanout := NewFanout(50, 0, testLogger())
	defer fanout.CloseAll()

	first := &recordingChannel{}
	second := &recordingChannel{}
	fanout.Attach("s1", first)
	fanout.Attach("s1", second)

	if fanout.Len() != 1 {
		t.Fatalf("reattach duplicated the peer: %d", fanout.Len())
	}
	fanout.Broadcast(protocol.MustEnvelope(protocol.TypeStart, nil))
	waitFor(t, func() bool { return second.count() == 1 })
	if first.count() != 0 {
		t.Fatalf("replaced channel still receiving")
	}
}

func TestReattachDuringBroadcastIsSafe(t *testing.T) {
	fanout := NewFanout(50, 0, testLogger())
	defer fanout.CloseAll()

	current := &recordingChannel{}
	fanout.Attach("s1", current)

	// A participant reconnecting mid-session swaps channels while the
	// dispatcher is delivering; both paths must stay synchronized.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			fanout.Attach("s1", &recordingChannel{})
		}
	}()
	for i := 0; i < 200; i++ {
		fanout.Broadcast(protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"}))
	}
	<-done

	final := &recordingChannel{}
	fanout.Attach("s1", final)
	// The queue may still be draining; re-enqueue until the winner sees it.
	waitFor(t, func() bool {
		fanout.Broadcast(protocol.MustEnvelope(protocol.TypeFinish, nil))
		return countEnvelopes(final, protocol.TypeFinish) >= 1
	})
}

func countEnvelopes(ch *recordingChannel, typ string) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	n := 0
	for _, env := range ch.received {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func TestUnicastSend(t *testing.T) {
	fanout := NewFanout(50, 0, testLogger())
	defer fanout.CloseAll()

	a := &recordingChannel{}
	b := &recordingChannel{}
	fanout.Attach("a", a)
	fanout.Attach("b", b)

	if err := fanout.Send("a", protocol.MustEnvelope(protocol.TypeSync, protocol.Sync{Status: "live"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.count() != 1 || b.count() != 0 {
		t.Fatalf("unicast leaked: a=%d b=%d", a.count(), b.count())
	}
}

func TestCloseAllClosesChannels(t *testing.T) {
	fanout := NewFanout(50, 0, testLogger())
	ch := &recordingChannel{}
	fanout.Attach("s1", ch)

	fanout.CloseAll()
	if !ch.closed {
		t.Fatalf("expected channel closed at teardown")
	}
	if fanout.Len() != 0 {
		t.Fatalf("expected no peers after teardown")
	}
}

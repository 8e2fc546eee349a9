package app

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"exam-live-service/internal/protocol"
)

// Channel is the abstract per-participant duplex transport. Send must not
// block indefinitely; implementations report a closed peer with an error so
// the fan-out engine can prune it.
type Channel interface {
	Send(env protocol.Envelope) error
	Close() error
}

type peer struct {
	id string
	ch Channel
}

// Fanout delivers messages to all open channels of a room without blocking
// the session controller. Broadcasts are queued and drained by a single
// dispatcher goroutine, so successive broadcasts stay totally ordered while
// the control loop never waits on a slow peer. Within one broadcast, channels
// are walked in registration order in fixed-size batches with a yield between
// batches; delivery is best-effort and channels that error are pruned on the
// next pass.
type Fanout struct {
	batchSize int
	yield     time.Duration
	log       *logrus.Entry

	mu    sync.Mutex
	peers []*peer
	dead  map[string]struct{}

	queue chan protocol.Envelope
	once  sync.Once
	done  chan struct{}
}

func NewFanout(batchSize int, yield time.Duration, log *logrus.Entry) *Fanout {
	if batchSize <= 0 {
		batchSize = 50
	}
	f := &Fanout{
		batchSize: batchSize,
		yield:     yield,
		log:       log,
		dead:      make(map[string]struct{}),
		queue:     make(chan protocol.Envelope, 64),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Attach registers a channel under an identifier. A re-attach for the same
// identifier replaces the old channel so a rejoin takes over delivery.
func (f *Fanout) Attach(id string, ch Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dead, id)
	for _, p := range f.peers {
		if p.id == id {
			p.ch = ch
			return
		}
	}
	f.peers = append(f.peers, &peer{id: id, ch: ch})
}

// Detach removes a channel without closing it.
func (f *Fanout) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(id)
}

func (f *Fanout) removeLocked(id string) {
	for i, p := range f.peers {
		if p.id == id {
			f.peers = append(f.peers[:i], f.peers[i+1:]...)
			return
		}
	}
}

// Send delivers a message to one participant's channel.
func (f *Fanout) Send(id string, env protocol.Envelope) error {
	f.mu.Lock()
	var target Channel
	for _, p := range f.peers {
		if p.id == id {
			target = p.ch
			break
		}
	}
	f.mu.Unlock()

	if target == nil {
		return nil
	}
	if err := target.Send(env); err != nil {
		f.markDead(id)
		return err
	}
	return nil
}

// Broadcast queues a message for delivery to every open channel. It never
// blocks the caller; if the queue is saturated the message is dropped and
// logged, which the best-effort contract allows.
func (f *Fanout) Broadcast(env protocol.Envelope) {
	select {
	case <-f.done:
	case f.queue <- env:
	default:
		f.log.WithField("type", env.Type).Warn("broadcast queue full, dropping message")
	}
}

func (f *Fanout) run() {
	for {
		select {
		case <-f.done:
			return
		case env := <-f.queue:
			f.deliver(env)
		}
	}
}

func (f *Fanout) deliver(env protocol.Envelope) {
	f.prune()

	// Snapshot peer values, not pointers: Attach rewrites a peer's channel in
	// place on rejoin, so the dispatcher must not read it outside the lock.
	f.mu.Lock()
	targets := make([]peer, len(f.peers))
	for i, p := range f.peers {
		targets[i] = *p
	}
	f.mu.Unlock()

	batches := splitBatches(targets, f.batchSize)
	for i, batch := range batches {
		for _, p := range batch {
			if err := p.ch.Send(env); err != nil {
				f.markDead(p.id)
			}
		}
		if i < len(batches)-1 && f.yield > 0 {
			time.Sleep(f.yield)
		}
	}
}

func splitBatches(targets []peer, size int) [][]peer {
	var out [][]peer
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		out = append(out, targets[start:end])
	}
	return out
}

func (f *Fanout) markDead(id string) {
	f.mu.Lock()
	f.dead[id] = struct{}{}
	f.mu.Unlock()
}

// prune drops channels that errored during earlier sends. Opportunistic: dead
// peers linger until the next delivery rather than being polled eagerly.
func (f *Fanout) prune() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dead) == 0 {
		return
	}
	kept := f.peers[:0]
	for _, p := range f.peers {
		if _, gone := f.dead[p.id]; gone {
			f.log.WithField("participant", p.id).Debug("pruning dead channel")
			continue
		}
		kept = append(kept, p)
	}
	f.peers = kept
	f.dead = make(map[string]struct{})
}

// CloseAll closes every channel and stops the dispatcher. Called at room
// teardown after the grace window.
func (f *Fanout) CloseAll() {
	f.once.Do(func() { close(f.done) })

	f.mu.Lock()
	peers := f.peers
	f.peers = nil
	f.mu.Unlock()

	for _, p := range peers {
		_ = p.ch.Close()
	}
}

// Len reports the number of attached channels.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/Hadskad/Bloom-Academia-sub003/core/audio"
)

const defaultCompletionMargin = 2 * time.Second

// Scheduler decodes arriving clips and places them gaplessly on the sink's
// playback clock.
//
// Decode-and-place work is strictly single-lane: one worker pulls queued
// clips in arrival order and does not start clip k+1 until clip k has fully
// settled, so a later short clip can never overtake an earlier long one no
// matter how their decode latencies interleave.
//
// One Scheduler is long-lived per listener session; Init resets it at the
// start of every turn and explicitly supersedes any prior turn's audio.
type Scheduler struct {
	sink   Sink
	decode DecodeFunc
	margin time.Duration

	mu          sync.Mutex
	queue       []laneItem
	queueSignal chan struct{}
	closeCh     chan struct{}
	closeOnce   sync.Once

	epoch          uint64
	pendingDecodes int
	activeSources  int
	totalScheduled int
	attempted      int
	finalized      bool
	fired          bool
	lastEnd        time.Duration
	onAllPlayed    func()
	forceTimer     *time.Timer
}

type laneItem struct {
	epoch uint64
	clip  []byte
}

// Stats is a point-in-time snapshot of the scheduler counters.
type Stats struct {
	PendingDecodes int
	ActiveSources  int
	TotalScheduled int
	Attempted      int
}

type SchedulerOption func(*Scheduler)

// WithDecoder replaces the clip decoder. The default decodes WAV clips.
func WithDecoder(decode DecodeFunc) SchedulerOption {
	return func(s *Scheduler) {
		if decode != nil {
			s.decode = decode
		}
	}
}

// WithCompletionMargin tunes the safety margin added to the remaining
// scheduled duration when arming forced completion. The exact value is a
// heuristic, not load-bearing.
func WithCompletionMargin(margin time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if margin > 0 {
			s.margin = margin
		}
	}
}

func NewScheduler(sink Sink, opts ...SchedulerOption) *Scheduler {
	scheduler := &Scheduler{
		sink:        sink,
		decode:      audio.DecodeClip,
		margin:      defaultCompletionMargin,
		queueSignal: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		onAllPlayed: func() {},
	}
	for _, opt := range opts {
		opt(scheduler)
	}

	go scheduler.runLane()
	return scheduler
}

// Init resets the scheduler for a new turn and returns the epoch naming it:
// the clock reference becomes "now", all counters return to zero and the
// completion latch is cleared. Queued work from the previous turn is
// discarded. Idempotent before any chunk is scheduled.
//
// The returned epoch is the turn's token for Schedule, Finalize and
// OnAllPlayed; a call carrying a superseded epoch is a no-op, so a turn that
// dies between its own seq check and the scheduler call can never touch its
// successor's state.
func (s *Scheduler) Init() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.queue = nil
	s.pendingDecodes = 0
	s.activeSources = 0
	s.totalScheduled = 0
	s.attempted = 0
	s.finalized = false
	s.fired = false
	s.lastEnd = s.sink.Now()
	s.onAllPlayed = func() {}
	s.stopForceTimerLocked()
	return s.epoch
}

// OnAllPlayed registers the completion callback for the turn epoch names. It
// fires exactly once, whichever of natural completion or forced timeout
// occurs first, and only after at least one chunk was attempted. A stale
// epoch is ignored.
func (s *Scheduler) OnAllPlayed(epoch uint64, callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}
	if callback == nil {
		callback = func() {}
	}
	s.onAllPlayed = callback
}

// Schedule appends one encoded clip to the decode lane of the turn epoch
// names. Arrival order is playback order; a clip that fails to decode is
// skipped without disturbing the rest of the queue. A clip carrying a
// superseded epoch is dropped silently, never queued.
func (s *Scheduler) Schedule(epoch uint64, clip []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		return fmt.Errorf("scheduler closed")
	}
	if epoch != s.epoch {
		logger.Debug("dropping chunk from a superseded turn")
		return nil
	}
	if s.finalized {
		return fmt.Errorf("scheduler already finalized for this turn")
	}

	s.attempted++
	s.pendingDecodes++
	s.queue = append(s.queue, laneItem{epoch: epoch, clip: clip})
	s.signalQueueLocked()
	return nil
}

// Finalize signals that no more chunks are coming for the turn epoch names;
// a stale epoch is a no-op. If work is still pending or audible, a
// forced-completion timer is armed for the remaining scheduled duration plus
// the safety margin, defending against playback-completion callbacks that
// never arrive.
func (s *Scheduler) Finalize(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.finalized {
		return
	}
	s.finalized = true

	if s.maybeCompleteLocked() {
		return
	}
	if s.pendingDecodes+s.activeSources == 0 {
		return
	}

	remaining := max(s.lastEnd-s.sink.Now(), 0)
	s.forceTimer = time.AfterFunc(remaining+s.margin, func() { s.forceComplete(epoch) })
}

// Stop immediately halts all active playback, discards queued work and
// zeroes the counters. Safe to call when nothing is playing; a superseded
// turn can never fire its completion afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.epoch++
	s.queue = nil
	s.pendingDecodes = 0
	s.activeSources = 0
	s.totalScheduled = 0
	s.attempted = 0
	s.finalized = false
	s.fired = false
	s.onAllPlayed = func() {}
	s.stopForceTimerLocked()
	sink := s.sink
	s.mu.Unlock()

	sink.Stop()
}

// Close releases the lane worker and the sink. The scheduler is unusable
// afterwards; call it only at listener-session teardown.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.epoch++
		s.queue = nil
		s.stopForceTimerLocked()
		s.mu.Unlock()
		close(s.closeCh)
	})
	return s.sink.Close()
}

// Stats returns a snapshot of the counters for the current turn.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		PendingDecodes: s.pendingDecodes,
		ActiveSources:  s.activeSources,
		TotalScheduled: s.totalScheduled,
		Attempted:      s.attempted,
	}
}

func (s *Scheduler) runLane() {
	for {
		item, ok := s.nextItem()
		if !ok {
			return
		}
		s.process(item)
	}
}

func (s *Scheduler) nextItem() (laneItem, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item, true
		}
		s.mu.Unlock()

		select {
		case <-s.closeCh:
			return laneItem{}, false
		case <-s.queueSignal:
		}
	}
}

// process settles one lane item end to end. Decoding happens outside the
// lock; placement re-checks the epoch so a superseded turn's clip is dropped
// even if its decode was already in flight.
func (s *Scheduler) process(item laneItem) {
	pcm, err := s.decode(item.clip)

	s.mu.Lock()
	if item.epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.pendingDecodes--

	if err != nil {
		logger.Warn("skipping chunk that failed to decode", "error", err)
		s.maybeCompleteLocked()
		s.mu.Unlock()
		return
	}
	if pcm.IsZero() {
		logger.Warn("skipping chunk that decoded to no samples")
		s.maybeCompleteLocked()
		s.mu.Unlock()
		return
	}

	start := max(s.lastEnd, s.sink.Now())
	s.lastEnd = start + pcm.Duration()
	s.totalScheduled++
	s.activeSources++
	epoch := s.epoch
	sink := s.sink
	s.mu.Unlock()

	if err := sink.Play(pcm, start, func() { s.sourceDone(epoch) }); err != nil {
		logger.Warn("skipping chunk rejected by playback engine", "error", err)
		s.sourceDone(epoch)
	}
}

func (s *Scheduler) sourceDone(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.activeSources == 0 {
		return
	}
	s.activeSources--
	s.maybeCompleteLocked()
}

func (s *Scheduler) forceComplete(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.fired {
		return
	}

	logger.Warn("forcing playback completion after timeout",
		"pending_decodes", s.pendingDecodes,
		"active_sources", s.activeSources,
	)
	s.pendingDecodes = 0
	s.activeSources = 0
	s.fireLocked()
}

// maybeCompleteLocked fires the completion latch when the turn has been
// finalized, nothing is pending or audible, and at least one chunk was
// attempted. Returns whether it fired.
func (s *Scheduler) maybeCompleteLocked() bool {
	if s.fired || !s.finalized || s.attempted == 0 {
		return false
	}
	if s.pendingDecodes != 0 || s.activeSources != 0 {
		return false
	}

	s.fireLocked()
	return true
}

func (s *Scheduler) fireLocked() {
	s.fired = true
	s.stopForceTimerLocked()
	callback := s.onAllPlayed
	go callback()
}

func (s *Scheduler) stopForceTimerLocked() {
	if s.forceTimer != nil {
		s.forceTimer.Stop()
		s.forceTimer = nil
	}
}

func (s *Scheduler) isClosedLocked() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *Scheduler) signalQueueLocked() {
	select {
	case s.queueSignal <- struct{}{}:
	default:
	}
}

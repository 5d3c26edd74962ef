// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/trackline/trackline/lib/backend"
	"github.com/trackline/trackline/lib/clock"
	"github.com/trackline/trackline/lib/journal"
	"github.com/trackline/trackline/lib/operation"
)

// State is the processor lifecycle phase. Transitions: Idle to Running
// on Start; Running and Failed alternate as sends fail and recover;
// Draining on Stop; Stopped when the loop has exited. A fatal error
// (credential rejection, corrupt journal) jumps straight to Stopped
// with LastError set.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFailed
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrIncompleteDrain is returned by Stop when the journal still holds
// unconfirmed operations at the drain deadline. The data stays on disk
// for a later resume; the error is a signal, not a loss report.
var ErrIncompleteDrain = errors.New("processor: drain incomplete")

// Options configures a Processor. RunID, Journal, and Client are
// required; zero values elsewhere take defaults.
type Options struct {
	RunID   string
	Journal *journal.Journal
	Client  backend.Client

	// MaxBatchCount and MaxBatchBytes bound one journal read.
	// Defaults: 1000 operations, 16 MiB.
	MaxBatchCount int
	MaxBatchBytes int64

	// InitialBackoff and MaxBackoff bound the retry delay sequence.
	// Defaults: 1s and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// FlushInterval is the idle poll period, a safety net for a missed
	// wakeup. Default 5s.
	FlushInterval time.Duration

	// RequestsPerSecond rate-limits sends. Zero means unlimited.
	RequestsPerSecond float64

	// PoisonRetryBudget is how many times a rejected operation is
	// redelivered before being skipped. Default 3.
	PoisonRetryBudget int

	// OnPoison is called (from the processor goroutine) for each
	// operation skipped after exhausting its retry budget.
	OnPoison func(op operation.Operation, reason string)

	// LagThreshold, when positive, triggers OnLag once per busy period
	// when the oldest unconfirmed operation is older than this.
	LagThreshold time.Duration
	OnLag        func(lag time.Duration)

	// NoProgressThreshold, when positive, triggers OnNoProgress once
	// per failure streak after sends have been failing this long.
	NoProgressThreshold time.Duration
	OnNoProgress        func(stalled time.Duration)

	// StopProgressInterval is how often Stop logs the remaining
	// operation count while draining. Default 5s.
	StopProgressInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxBatchCount <= 0 {
		o.MaxBatchCount = 1000
	}
	if o.MaxBatchBytes <= 0 {
		o.MaxBatchBytes = 16 << 20
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.PoisonRetryBudget <= 0 {
		o.PoisonRetryBudget = 3
	}
	if o.StopProgressInterval <= 0 {
		o.StopProgressInterval = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Processor asynchronously delivers one run's journal to the backend.
type Processor struct {
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter

	state   atomic.Int32
	skipped atomic.Uint64

	mu      sync.Mutex
	lastErr error

	cancel   context.CancelFunc
	done     chan struct{}
	drainCh  chan struct{}
	fatalCh  chan struct{}
	stopOnce sync.Once

	// Loop-local delivery state; touched only by the run goroutine.
	retryDelay   *backoff
	rejections   map[uint64]int
	failingSince time.Time
	lagSignaled  bool
	stallWarned  bool
}

// New builds a processor. The journal must already be open; the
// processor does not close it.
func New(opts Options) (*Processor, error) {
	if opts.RunID == "" {
		return nil, errors.New("processor: RunID is required")
	}
	if opts.Journal == nil {
		return nil, errors.New("processor: Journal is required")
	}
	if opts.Client == nil {
		return nil, errors.New("processor: Client is required")
	}
	opts = opts.withDefaults()

	p := &Processor{
		opts:       opts,
		logger:     opts.Logger.With("run_id", opts.RunID),
		done:       make(chan struct{}),
		drainCh:    make(chan struct{}),
		fatalCh:    make(chan struct{}),
		retryDelay: newBackoff(opts.InitialBackoff, opts.MaxBackoff),
		rejections: make(map[uint64]int),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	p.state.Store(int32(StateIdle))
	return p, nil
}

// Start launches the delivery goroutine.
func (p *Processor) Start() error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("processor: cannot start from state %s", p.State())
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
	return nil
}

// State reports the current lifecycle phase.
func (p *Processor) State() State { return State(p.state.Load()) }

// LastError reports the most recent delivery failure, or nil. Cleared
// when delivery recovers; sticky once the processor has stopped on a
// fatal error.
func (p *Processor) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Skipped reports how many operations were abandoned after exhausting
// their rejection retry budget.
func (p *Processor) Skipped() uint64 { return p.skipped.Load() }

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	ticker := p.opts.Clock.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		if err := p.drain(ctx); err != nil {
			p.fail(err)
			return
		}
		if p.State() == StateDraining {
			// drain returns only once the journal is empty, the
			// context is cancelled, or the journal is closed; in all
			// three cases the draining loop is finished.
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.opts.Journal.Notify():
		case <-ticker.C:
		case <-p.drainCh:
		}
	}
}

// drain ships batches until the journal is empty or the context is
// cancelled. A returned error is fatal and stops the processor.
func (p *Processor) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		batch, err := p.opts.Journal.ReadBatch(p.opts.MaxBatchCount, p.opts.MaxBatchBytes)
		if err != nil {
			if errors.Is(err, journal.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading journal: %w", err)
		}
		if len(batch) == 0 {
			p.lagSignaled = false
			return nil
		}
		p.checkLag(batch[0])
		for _, chunk := range partitionBatch(batch) {
			if err := p.deliverChunk(ctx, chunk); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
	return nil
}

// deliverChunk sends one chunk until the backend confirms it, the
// context is cancelled, or a fatal error surfaces. On confirmation the
// journal's ack watermark advances past the chunk.
func (p *Processor) deliverChunk(ctx context.Context, chunk []operation.Operation) error {
	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		results, err := p.opts.Client.Send(ctx, p.opts.RunID, chunk)
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			p.noteFailure(err)
			if !p.sleepBackoff(ctx, backend.RetryAfterHint(err)) {
				return nil
			}
			continue
		}
		p.noteSuccess()

		retry, skipped := p.settle(chunk, results)
		if !retry {
			last := chunk[len(chunk)-1].Sequence
			if err := p.opts.Journal.AdvanceAck(last); err != nil {
				if errors.Is(err, journal.ErrClosed) {
					return nil
				}
				return fmt.Errorf("acknowledging through %d: %w", last, err)
			}
			for seq := range p.rejections {
				if seq <= last {
					delete(p.rejections, seq)
				}
			}
			p.skipped.Add(uint64(skipped))
			return nil
		}
		if !p.sleepBackoff(ctx, 0) {
			return nil
		}
	}
}

// settle applies the backend's verdicts. It returns retry=true when
// the chunk must be redelivered (a retryable verdict, or a rejected
// operation that still has budget). When retry is false, every
// operation is either accepted or skipped; skipped is the count
// abandoned this pass.
func (p *Processor) settle(chunk []operation.Operation, results []backend.Result) (retry bool, skipped int) {
	verdicts := make(map[uint64]backend.Result, len(results))
	for _, r := range results {
		verdicts[r.Sequence] = r
	}
	for _, op := range chunk {
		verdict, ok := verdicts[op.Sequence]
		if !ok {
			// No verdict for an operation we sent: treat as retryable
			// rather than guessing it was applied.
			retry = true
			continue
		}
		switch verdict.Status {
		case backend.StatusAccepted:
		case backend.StatusRetryable:
			retry = true
		case backend.StatusRejected:
			p.rejections[op.Sequence]++
			if p.rejections[op.Sequence] < p.opts.PoisonRetryBudget {
				retry = true
				continue
			}
			skipped++
			p.logger.Warn("abandoning rejected operation",
				"seq", op.Sequence,
				"kind", op.Kind,
				"path", op.Path.String(),
				"reason", verdict.Reason,
				"attempts", p.rejections[op.Sequence])
			if p.opts.OnPoison != nil {
				p.opts.OnPoison(op, verdict.Reason)
			}
		default:
			retry = true
		}
	}
	if retry {
		return true, 0
	}
	return false, skipped
}

func (p *Processor) checkLag(oldest operation.Operation) {
	if p.opts.LagThreshold <= 0 || p.lagSignaled || p.opts.OnLag == nil {
		return
	}
	lag := p.opts.Clock.Now().Sub(oldest.CreatedAt)
	if lag > p.opts.LagThreshold {
		p.lagSignaled = true
		p.opts.OnLag(lag)
	}
}

func (p *Processor) noteFailure(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.setLoopState(StateFailed)

	now := p.opts.Clock.Now()
	if p.failingSince.IsZero() {
		p.failingSince = now
	}
	stalled := now.Sub(p.failingSince)
	p.logger.Warn("batch delivery failed", "error", err, "failing_for", stalled)
	if p.opts.NoProgressThreshold > 0 && !p.stallWarned && stalled >= p.opts.NoProgressThreshold {
		p.stallWarned = true
		if p.opts.OnNoProgress != nil {
			p.opts.OnNoProgress(stalled)
		}
	}
}

func (p *Processor) noteSuccess() {
	p.mu.Lock()
	p.lastErr = nil
	p.mu.Unlock()
	p.setLoopState(StateRunning)
	p.retryDelay.reset()
	p.failingSince = time.Time{}
	p.stallWarned = false
}

// setLoopState moves between Running and Failed without clobbering a
// concurrent transition to Draining or Stopped.
func (p *Processor) setLoopState(s State) {
	for {
		cur := p.state.Load()
		if State(cur) == StateDraining || State(cur) == StateStopped {
			return
		}
		if p.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// sleepBackoff waits the next retry delay (or the server's hint).
// Returns false when the context was cancelled instead.
func (p *Processor) sleepBackoff(ctx context.Context, hint time.Duration) bool {
	d := p.retryDelay.next()
	if hint > 0 {
		d = hint
	}
	select {
	case <-p.opts.Clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// fail records a fatal error and marks the processor stopped. The
// journal keeps its data; a later Sync can retry with fresh
// credentials.
func (p *Processor) fail(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.state.Store(int32(StateStopped))
	close(p.fatalCh)
	p.logger.Error("synchronization stopped", "error", err)
}

// Wait blocks until every operation appended so far is confirmed, the
// context expires, or the processor stops on a fatal error.
func (p *Processor) Wait(ctx context.Context) error {
	if p.State() == StateIdle {
		return errors.New("processor: not started")
	}
	if err := p.opts.Journal.Flush(); err != nil {
		return fmt.Errorf("flushing journal: %w", err)
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		select {
		case <-p.fatalCh:
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	if err := p.opts.Journal.WaitEmpty(waitCtx); err != nil {
		select {
		case <-p.fatalCh:
			return fmt.Errorf("synchronization stopped: %w", p.LastError())
		default:
		}
		return err
	}
	return nil
}

// Stop drains what it can before the context expires, then halts the
// delivery goroutine. Unconfirmed operations stay in the journal and
// ErrIncompleteDrain reports how many. Safe to call more than once.
func (p *Processor) Stop(ctx context.Context) error {
	if p.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return nil
	}
	select {
	case <-p.done:
		p.state.Store(int32(StateStopped))
		return p.LastError()
	default:
	}
	p.setDraining()
	p.stopOnce.Do(func() { close(p.drainCh) })

	drainErr := p.awaitDrain(ctx)
	p.cancel()
	<-p.done
	p.state.Store(int32(StateStopped))
	if drainErr == nil {
		select {
		case <-p.fatalCh:
			return p.LastError()
		default:
		}
	}
	return drainErr
}

func (p *Processor) setDraining() {
	for {
		cur := p.state.Load()
		if State(cur) == StateStopped || State(cur) == StateDraining {
			return
		}
		if p.state.CompareAndSwap(cur, int32(StateDraining)) {
			return
		}
	}
}

// awaitDrain watches the delivery goroutine finish the final drain,
// logging the remaining backlog periodically so a user waiting on
// process exit can see progress.
func (p *Processor) awaitDrain(ctx context.Context) error {
	ticker := p.opts.Clock.NewTicker(p.opts.StopProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return nil
		case <-ticker.C:
			p.logger.Info("waiting for remaining operations",
				"pending", p.opts.Journal.Size())
		case <-ctx.Done():
			pending := p.opts.Journal.Size()
			if pending == 0 {
				return nil
			}
			p.logger.Warn("stopping before all operations were confirmed",
				"pending", pending)
			return fmt.Errorf("%w: %d operations unconfirmed", ErrIncompleteDrain, pending)
		}
	}
}

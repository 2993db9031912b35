// Package scheduler fans segments out to synthesis workers.
//
// Each job runs its own small set of workers, but every backend call first
// takes a slot from the process-wide Pool, so the total number of concurrent
// synthesis calls across all jobs never exceeds the pool capacity. Slots are
// granted in FIFO order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/metrics"
	"github.com/nadzzz/dialogcast/internal/script"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// Pool bounds concurrent backend calls across all jobs.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewPool creates a pool with the given number of slots.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return p.capacity }

// Request describes one job's synthesis work.
type Request struct {
	JobID    string
	Segments []script.Segment
	Voices   voice.Assignment
	Chain    engine.Chain

	// Concurrency is the number of workers for this job.
	Concurrency int

	// Options are passed to every backend call; segment directives override them.
	Options tts.Options

	CallTimeout time.Duration
	Retries     int // extra attempts per backend for transient failures
	RetryDelay  time.Duration

	// OnResult is called once per segment in completion order.
	OnResult func(Result)

	// OnProgress is called after each completed segment with non-decreasing done counts.
	OnProgress func(done, total int)
}

// Result is one synthesized segment. Audio is a validated WAV file.
type Result struct {
	SegmentIndex int
	Audio        []byte
	Engine       string
	Attempts     int
	Duration     time.Duration
}

// ResultSet holds every segment's audio in segment order.
type ResultSet struct {
	Results []Result
}

// Engines returns the distinct engines that produced audio, sorted.
func (rs *ResultSet) Engines() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rs.Results {
		if !seen[r.Engine] {
			seen[r.Engine] = true
			out = append(out, r.Engine)
		}
	}
	sort.Strings(out)
	return out
}

// SegmentError reports a segment that every backend in the chain failed to synthesize.
type SegmentError struct {
	Index    int
	Speaker  string
	Attempts int
	Err      error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d (%s) failed after %d attempts: %v", e.Index, e.Speaker, e.Attempts, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Synthesize renders every segment of req. The first segment to exhaust the
// chain stops the job and its SegmentError is returned. When ctx ends, the
// context cause is returned and completed results are discarded.
func (p *Pool) Synthesize(ctx context.Context, req Request) (*ResultSet, error) {
	total := len(req.Segments)
	if total == 0 {
		return &ResultSet{}, nil
	}
	if len(req.Chain) == 0 {
		return nil, engine.ErrNoEngineAvailable
	}

	logger := slog.With("job_id", req.JobID)
	workers := min(max(req.Concurrency, 1), total)

	queue := make(chan script.Segment, total)
	for _, seg := range req.Segments {
		queue <- seg
	}
	close(queue)

	var (
		mu      sync.Mutex
		results = make([]Result, 0, total)
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for seg := range queue {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := p.segment(gctx, logger, req, seg)
				if err != nil {
					return err
				}

				mu.Lock()
				results = append(results, res)
				done := len(results)
				if req.OnResult != nil {
					req.OnResult(res)
				}
				if req.OnProgress != nil {
					req.OnProgress(done, total)
				}
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SegmentIndex < results[j].SegmentIndex })
	return &ResultSet{Results: results}, nil
}

// segment walks the chain for one segment.
func (p *Pool) segment(ctx context.Context, logger *slog.Logger, req Request, seg script.Segment) (Result, error) {
	profile, ok := req.Voices.Voice(seg.Speaker.Name)
	if !ok {
		return Result{}, &SegmentError{Index: seg.Index, Speaker: seg.Speaker.Name, Err: errors.New("no voice assigned to speaker")}
	}

	opts := req.Options
	if speed, ok := seg.Directives["speed"]; ok {
		opts = opts.Merge(tts.Options{tts.OptSpeed: speed})
	}
	if emotion, ok := seg.Directives["emotion"]; ok {
		opts = opts.Merge(tts.Options{tts.OptEmotion: emotion})
	}

	attempts := 0
	var lastErr error
	for _, b := range req.Chain {
		wav, dur, tries, err := p.attempt(ctx, req, b, seg, profile, opts)
		attempts += tries
		if err == nil {
			metrics.RecordSegment(b.Name(), "success")
			logger.Debug("segment synthesized", "segment", seg.Index, "engine", b.Name(), "attempts", attempts, "duration", dur)
			return Result{SegmentIndex: seg.Index, Audio: wav, Engine: b.Name(), Attempts: attempts, Duration: dur}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = fmt.Errorf("%s: %w", b.Name(), err)
		logger.Debug("backend failed, trying next", "segment", seg.Index, "engine", b.Name(), "error", err)
	}

	metrics.RecordSegment("none", "error")
	logger.Warn("segment exhausted fallback chain", "segment", seg.Index, "speaker", seg.Speaker.Name, "attempts", attempts, "error", lastErr)
	return Result{}, &SegmentError{Index: seg.Index, Speaker: seg.Speaker.Name, Attempts: attempts, Err: lastErr}
}

// attempt calls one backend, retrying transient failures.
func (p *Pool) attempt(ctx context.Context, req Request, b tts.Backend, seg script.Segment, profile voice.Profile, opts tts.Options) ([]byte, time.Duration, int, error) {
	tries := 0
	var dur time.Duration

	op := func() ([]byte, error) {
		// Cancellation checkpoint: no new backend attempt once the job is over.
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, backoff.Permanent(err)
		}
		metrics.WorkerAcquired()
		defer func() {
			p.sem.Release(1)
			metrics.WorkerReleased()
		}()
		tries++

		callCtx, cancel := context.WithCancel(ctx)
		if req.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, req.CallTimeout)
		}
		defer cancel()

		start := time.Now()
		res, err := b.Synthesize(callCtx, seg.Text, profile, opts)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			dur, err = validate(res)
		}

		switch {
		case err == nil:
			metrics.RecordAttempt(b.Name(), "success", elapsed)
			return res.Audio, nil
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			metrics.RecordAttempt(b.Name(), "transient", elapsed)
			return nil, tts.Transient(fmt.Errorf("call timed out after %s: %w", req.CallTimeout, err))
		case tts.IsTransient(err):
			metrics.RecordAttempt(b.Name(), "transient", elapsed)
			return nil, err
		default:
			metrics.RecordAttempt(b.Name(), "permanent", elapsed)
			return nil, backoff.Permanent(err)
		}
	}

	wav, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(req.RetryDelay)),
		backoff.WithMaxTries(uint(max(req.Retries, 0)+1)),
	)
	return wav, dur, tries, err
}

// validate rejects audio that does not decode or holds no samples.
func validate(res *tts.Result) (time.Duration, error) {
	if res == nil || len(res.Audio) == 0 {
		return 0, fmt.Errorf("%w: empty audio", tts.ErrInvalidAudio)
	}
	buf, err := audio.DecodeWAV(res.Audio)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", tts.ErrInvalidAudio, err)
	}
	if buf.Frames() == 0 {
		return 0, fmt.Errorf("%w: no samples", tts.ErrInvalidAudio)
	}
	return buf.Duration(), nil
}

// Package podcast coordinates a rendering job end to end.
//
// A submitted script runs through parse → allocate → synthesize → assemble
// on its own goroutine. Transports only talk to the Service: they submit,
// poll, stream status, download and cancel.
package podcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/job"
	"github.com/nadzzz/dialogcast/internal/metrics"
	"github.com/nadzzz/dialogcast/internal/scheduler"
	"github.com/nadzzz/dialogcast/internal/script"
	"github.com/nadzzz/dialogcast/internal/store"
	"github.com/nadzzz/dialogcast/internal/tts"
	"github.com/nadzzz/dialogcast/internal/voice"
)

// ErrNotFound is returned for unknown jobs and for artifacts of jobs that
// have not completed.
var ErrNotFound = job.ErrNotFound

// Progress bands per phase.
const (
	progressParsed      = 5
	progressAllocated   = 10
	progressSynthesized = 90
)

// Option configures a Service.
type Option func(*Service)

// WithAssembler replaces the assembler built from config.
func WithAssembler(a *audio.Assembler) Option {
	return func(s *Service) { s.assembler = a }
}

// WithPool shares a synthesis pool between services.
func WithPool(p *scheduler.Pool) Option {
	return func(s *Service) { s.pool = p }
}

// WithTracker replaces the job tracker built from config.
func WithTracker(t *job.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// Service renders podcasts.
type Service struct {
	parser      *script.Parser
	catalog     voice.Catalog
	diversity   voice.Diversity
	alternation string

	engines   *engine.Registry
	pool      *scheduler.Pool
	assembler *audio.Assembler
	store     store.Store
	tracker   *job.Tracker
	admission *semaphore.Weighted

	workers       int
	callTimeout   time.Duration
	retries       int
	retryDelay    time.Duration
	retention     time.Duration
	sweepInterval time.Duration

	wg sync.WaitGroup
}

// New builds a service over the given engines and store.
func New(cfg *config.Config, engines *engine.Registry, st store.Store, opts ...Option) *Service {
	seconds := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

	s := &Service{
		parser: script.NewParser(cfg.Speakers.Roles, cfg.Speakers.Genders, script.Limits{
			MaxCharacters:      cfg.Limits.MaxCharacters,
			MaxTextLength:      cfg.Limits.MaxTextLength,
			MaxSegmentDuration: seconds(cfg.Limits.MaxSegmentLength),
			MaxTotalDuration:   seconds(cfg.Limits.MaxTotalDuration),
		}),
		catalog:       voice.CatalogFromConfig(cfg.Voices),
		diversity:     voice.DiversityFromConfig(cfg.Diversity),
		alternation:   cfg.Diversity.EffectiveAlternationMode(),
		engines:       engines,
		store:         st,
		admission:     semaphore.NewWeighted(int64(max(cfg.Performance.MaxConcurrentJobs, 1))),
		workers:       cfg.Performance.MaxWorkers,
		callTimeout:   cfg.Engines.CallTimeout,
		retries:       cfg.Engines.Retries,
		retryDelay:    cfg.Engines.RetryDelay,
		retention:     cfg.Jobs.Retention,
		sweepInterval: cfg.Jobs.SweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.pool == nil {
		s.pool = scheduler.NewPool(cfg.Performance.PoolCapacity)
	}
	if s.assembler == nil {
		ff := audio.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.MP3Bitrate)
		s.assembler = audio.NewAssembler(audio.ConfigFrom(cfg), audio.WithEncoder(ff), audio.WithEffects(ff))
	}
	if s.tracker == nil {
		s.tracker = job.NewTracker(st, cfg.Jobs.Retention, cfg.Jobs.MaxRuntime)
	}
	s.tracker.OnExpire(s.deleteArtifact)
	return s
}

// Subscribe streams a job's status snapshots until it finishes.
func (s *Service) Subscribe(id string) (<-chan job.Job, func(), error) {
	return s.tracker.Subscribe(id)
}

// Engines returns the cached status of every engine.
func (s *Service) Engines() []engine.Status { return s.engines.Statuses() }

// DefaultEngine returns the engine used when a submission names none.
func (s *Service) DefaultEngine() string { return s.engines.Default() }

// Ready reports whether at least one engine can take work.
func (s *Service) Ready() bool { return s.engines.Available() }

// Run drives the job watchdog and retention sweep until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.tracker.Run(ctx, s.sweepInterval)
}

// Submit validates the requested engine, registers a job and starts it in
// the background. The job outlives ctx; use Cancel to stop it.
func (s *Service) Submit(ctx context.Context, raw, engineName string, opts tts.Options) (string, error) {
	if engineName != "" && !s.engines.Known(engineName) {
		return "", fmt.Errorf("%w: %q", engine.ErrUnknownEngine, engineName)
	}
	if engineName == "" {
		engineName = s.engines.Default()
	}

	j := s.tracker.Create(engineName)
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if err := s.tracker.Attach(j.ID, cancel); err != nil {
		cancel(err)
		return "", err
	}

	slog.Info("job submitted", "job_id", j.ID, "engine", engineName, "bytes", len(raw))

	s.wg.Add(1)
	go s.run(jobCtx, cancel, j.ID, raw, engineName, opts)
	return j.ID, nil
}

// Status returns a job snapshot.
func (s *Service) Status(ctx context.Context, id string) (job.Job, error) {
	return s.tracker.Get(ctx, id)
}

// Artifact returns the audio of a completed job.
func (s *Service) Artifact(ctx context.Context, id string) (*audio.Artifact, error) {
	j, err := s.tracker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State != job.Completed {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotFound, id, j.State)
	}

	meta, err := s.store.Get(ctx, artifactKey(id, "meta"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: artifact for job %s expired", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact metadata: %w", err)
	}
	var art audio.Artifact
	if err := json.Unmarshal(meta, &art); err != nil {
		return nil, fmt.Errorf("decoding artifact metadata: %w", err)
	}

	data, err := s.store.Get(ctx, artifactKey(id, "data"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: artifact for job %s expired", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact: %w", err)
	}
	art.Data = data
	return &art, nil
}

// Cancel stops a job. Cancelling a finished job returns job.ErrTerminal.
func (s *Service) Cancel(id string) error {
	return s.tracker.Cancel(id)
}

// Wait blocks until the job is finished or ctx is done and returns its last snapshot.
func (s *Service) Wait(ctx context.Context, id string) (job.Job, error) {
	updates, stop, err := s.tracker.Subscribe(id)
	if errors.Is(err, job.ErrNotFound) {
		// Evicted from memory; the persisted snapshot is terminal.
		return s.tracker.Get(ctx, id)
	}
	if err != nil {
		return job.Job{}, err
	}
	defer stop()

	var last job.Job
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return last, nil
			}
			last = snap
		}
	}
}

// Shutdown waits for running jobs to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, cancel context.CancelCauseFunc, id, raw, engineName string, opts tts.Options) {
	defer s.wg.Done()
	defer cancel(nil)
	logger := slog.With("job_id", id)

	// Jobs stay queued until admitted.
	if err := s.admission.Acquire(ctx, 1); err != nil {
		_ = s.tracker.Fail(id, context.Cause(ctx))
		return
	}
	defer s.admission.Release(1)

	if err := s.tracker.Start(id); err != nil {
		logger.Debug("job not started", "error", err)
		return
	}

	art, enginesUsed, err := s.render(ctx, logger, id, raw, engineName, opts)
	if err == nil {
		err = s.saveArtifact(ctx, id, art)
	}
	if err != nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		logger.Warn("job failed", "error", err)
		_ = s.tracker.Fail(id, err)
		return
	}

	msg := fmt.Sprintf("generated %d segments (%.1fs) with %s", art.Segments, art.Duration.Seconds(), strings.Join(enginesUsed, ", "))
	if err := s.tracker.Complete(id, enginesUsed, msg); err != nil {
		// Cancelled or timed out at the last moment.
		s.deleteArtifact(id)
	}
}

// render runs the pipeline and returns the artifact and the engines used.
func (s *Service) render(ctx context.Context, logger *slog.Logger, id, raw, engineName string, opts tts.Options) (*audio.Artifact, []string, error) {
	progress := func(phase string, pct int, msg string) {
		if err := s.tracker.Progress(id, phase, pct, msg); err != nil {
			logger.Debug("progress not recorded", "error", err)
		}
	}

	progress("parse", 0, "parsing script")
	sc, err := s.parser.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	progress("parse", progressParsed, fmt.Sprintf("parsed %d segments from %d speakers", len(sc.Segments), len(sc.Speakers)))

	chain, err := s.engines.Resolve(engineName)
	if err != nil {
		return nil, nil, err
	}
	if chain[0].Name() != engineName {
		_ = s.tracker.Warn(id, fmt.Sprintf("engine %s unavailable, starting with %s", engineName, chain[0].Name()))
	}

	catalog, catalogEngine := s.voicesFor(chain)
	assignment, err := voice.Allocate(sc.Speakers, catalog, s.diversity)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkAlternation(id, sc.Segments); err != nil {
		return nil, nil, err
	}
	progress("allocate", progressAllocated, fmt.Sprintf("assigned %d voices", assignment.Len()))

	rs, err := s.pool.Synthesize(ctx, scheduler.Request{
		JobID:       id,
		Segments:    sc.Segments,
		Voices:      assignment,
		Chain:       chain,
		Concurrency: s.workers,
		Options:     opts,
		CallTimeout: s.callTimeout,
		Retries:     s.retries,
		RetryDelay:  s.retryDelay,
		OnProgress: func(done, total int) {
			pct := progressAllocated + (progressSynthesized-progressAllocated)*done/total
			progress("synthesize", pct, fmt.Sprintf("synthesized %d/%d segments", done, total))
		},
	})
	if err != nil {
		return nil, nil, err
	}
	s.warnVoiceFallback(id, catalogEngine, rs)

	segs := make([]audio.Segment, len(rs.Results))
	for i, r := range rs.Results {
		seg := sc.Segments[r.SegmentIndex]
		pause := time.Duration(-1)
		if p, ok := seg.Pause(); ok {
			pause = p
		}
		segs[i] = audio.Segment{Index: r.SegmentIndex, WAV: r.Audio, PauseAfter: pause, MaxDuration: seg.MaxDuration}
	}

	progress("assemble", progressSynthesized, "assembling audio")
	start := time.Now()
	art, err := s.assembler.Assemble(ctx, segs)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordAssembly(time.Since(start).Seconds())
	return art, rs.Engines(), nil
}

// voicesFor returns the catalog of the first engine in the chain that has
// one, and that engine's name. Without any catalog every speaker gets a
// generic voice of its gender, which backends map to their own defaults.
func (s *Service) voicesFor(chain engine.Chain) ([]voice.Profile, string) {
	for _, b := range chain {
		if c := s.catalog.For(b.Name()); len(c) > 0 {
			return c, b.Name()
		}
	}
	return []voice.Profile{
		{ID: "default-female", Gender: "FEMALE"},
		{ID: "default-male", Gender: "MALE"},
		{ID: "default-neutral", Gender: voice.GenderNeutral},
	}, ""
}

// warnVoiceFallback records a warning for every engine that synthesized
// segments without the catalog the voices were allocated from. Such an engine
// speaks with its per-gender default, so same-gender speakers sound alike.
func (s *Service) warnVoiceFallback(id, catalogEngine string, rs *scheduler.ResultSet) {
	if catalogEngine == "" {
		return
	}
	counts := make(map[string]int)
	for _, r := range rs.Results {
		if r.Engine != catalogEngine {
			counts[r.Engine]++
		}
	}
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		_ = s.tracker.Warn(id, fmt.Sprintf(
			"%d segment(s) fell back to %s, which does not have the %s voices; its default voice per gender was used",
			counts[name], name, catalogEngine))
	}
}

func (s *Service) checkAlternation(id string, segments []script.Segment) error {
	if s.alternation == voice.AlternationOff {
		return nil
	}
	violations := voice.CheckAlternation(segments)
	if len(violations) == 0 {
		return nil
	}
	if s.alternation == voice.AlternationStrict {
		return violations[0]
	}
	for _, v := range violations {
		_ = s.tracker.Warn(id, v.Error())
	}
	return nil
}

func (s *Service) saveArtifact(ctx context.Context, id string, art *audio.Artifact) error {
	meta, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encoding artifact metadata: %w", err)
	}
	if err := s.store.Set(ctx, artifactKey(id, "data"), art.Data, s.retention); err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}
	if err := s.store.Set(ctx, artifactKey(id, "meta"), meta, s.retention); err != nil {
		return fmt.Errorf("storing artifact metadata: %w", err)
	}
	return nil
}

func (s *Service) deleteArtifact(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, part := range []string{"data", "meta"} {
		if err := s.store.Delete(ctx, artifactKey(id, part)); err != nil {
			slog.Warn("deleting artifact", "job_id", id, "error", err)
		}
	}
}

func artifactKey(id, part string) store.Key { return store.Key{"artifact", id, part} }

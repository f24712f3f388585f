package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
)

const (
	DefaultLookback   = 7 * 24 * time.Hour
	DefaultMaxRunTime = 60 * time.Second
)

var (
	ErrNoStations   = errors.New("no stations configured")
	ErrInvalidRange = errors.New("start date is after end date")
	ErrInvalidOpt   = errors.New("invalid run option")
)

// Fetcher retrieves provider data for one station. Errors are terminal for the
// call; retries happen inside the implementation.
type Fetcher interface {
	FetchStationMetadata(ctx context.Context, stationID string) (models.Station, error)
	FetchHistorical(ctx context.Context, stationID string, start, end time.Time) ([]models.Measurement, error)
	FetchLatest(ctx context.Context, stationID string) ([]models.Measurement, error)
}

// Store is the write side used by the pipeline.
type Store interface {
	UpsertStations(ctx context.Context, stations []models.Station) (int, error)
	UpsertMeasurements(ctx context.Context, measurements []models.Measurement) (int, error)
}

// Settings are fixed for the lifetime of a Pipeline.
type Settings struct {
	Stations      []string
	RecurrentWait time.Duration
	Lookback      time.Duration
	MaxRunTime    time.Duration
	Policy        FailurePolicy
}

type Pipeline struct {
	fetcher  Fetcher
	store    Store
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

func New(fetcher Fetcher, store Store, settings Settings, logger *slog.Logger) (*Pipeline, error) {
	if len(settings.Stations) == 0 {
		return nil, ErrNoStations
	}
	if settings.RecurrentWait < 0 || settings.MaxRunTime < 0 || settings.Lookback < 0 {
		return nil, fmt.Errorf("%w: negative duration in settings", ErrInvalidOpt)
	}
	if settings.Lookback == 0 {
		settings.Lookback = DefaultLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:  fetcher,
		store:    store,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}, nil
}

type runOptions struct {
	start      *time.Time
	end        *time.Time
	maxRunTime *time.Duration
}

// Option overrides a per-run parameter.
type Option func(*runOptions)

// WithStartDate sets the inclusive lower bound of the backfill window.
func WithStartDate(t time.Time) Option {
	return func(o *runOptions) { o.start = &t }
}

// WithEndDate sets the inclusive upper bound of the backfill window.
func WithEndDate(t time.Time) Option {
	return func(o *runOptions) { o.end = &t }
}

// WithMaxRunTime bounds the monitor loop. Zero skips it.
func WithMaxRunTime(d time.Duration) Option {
	return func(o *runOptions) { o.maxRunTime = &d }
}

type window struct {
	start, end time.Time
	budget     time.Duration
}

func (p *Pipeline) resolve(opts []Option) (window, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	w := window{end: p.now().UTC(), budget: p.settings.MaxRunTime}
	if o.end != nil {
		w.end = *o.end
	}
	w.start = w.end.Add(-p.settings.Lookback)
	if o.start != nil {
		w.start = *o.start
	}
	if o.maxRunTime != nil {
		w.budget = *o.maxRunTime
	}

	if w.start.After(w.end) {
		return window{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, w.start.Format(time.RFC3339), w.end.Format(time.RFC3339))
	}
	if w.budget < 0 {
		return window{}, fmt.Errorf("%w: max run time %s", ErrInvalidOpt, w.budget)
	}
	return w, nil
}

// Run executes BOOTSTRAP, BACKFILL and MONITOR_LOOP once and returns the summary.
// Per-station failures are reported in the summary, never as an error. A
// cancelled context ends the run early and the summary is still returned.
func (p *Pipeline) Run(ctx context.Context, opts ...Option) (Summary, error) {
	w, err := p.resolve(opts)
	if err != nil {
		return Summary{}, err
	}

	state := newRunState(p.settings.Stations, p.now())
	logger := p.logger.With("run_id", state.RunID.String())
	logger.Info("run started",
		"stations", state.order,
		"start", w.start.Format(time.RFC3339),
		"end", w.end.Format(time.RFC3339),
		"max_run_time", w.budget.String(),
		"policy", p.settings.Policy.String(),
	)

	p.bootstrap(ctx, logger, state)
	p.backfill(ctx, logger, state, w)
	p.monitor(ctx, logger, state, w.budget)

	state.Phase = PhaseDone
	summary := state.summary(p.now(), ctx.Err() != nil)
	logger.Info("run finished", summary.attrs()...)
	return summary, nil
}

func (p *Pipeline) bootstrap(ctx context.Context, logger *slog.Logger, state *RunState) {
	state.Phase = PhaseBootstrap
	for _, id := range state.order {
		if ctx.Err() != nil {
			return
		}
		err := p.syncStation(ctx, state, id)
		p.record(ctx, logger, state, id, PhaseBootstrap, err)
	}
}

func (p *Pipeline) backfill(ctx context.Context, logger *slog.Logger, state *RunState, w window) {
	state.Phase = PhaseBackfill
	for _, id := range state.order {
		if ctx.Err() != nil {
			return
		}
		if !state.eligible(id, PhaseBackfill, p.settings.Policy) {
			logger.Info("skipping failing station", "station", id, "phase", PhaseBackfill)
			continue
		}
		err := p.syncMeasurements(ctx, state, func(ctx context.Context) ([]models.Measurement, error) {
			return p.fetcher.FetchHistorical(ctx, id, w.start, w.end)
		})
		p.record(ctx, logger, state, id, PhaseBackfill, err)
	}
}

func (p *Pipeline) monitor(ctx context.Context, logger *slog.Logger, state *RunState, budget time.Duration) {
	state.Phase = PhaseMonitor
	for {
		if ctx.Err() != nil {
			return
		}
		if elapsed := p.now().Sub(state.StartedAt); elapsed >= budget {
			logger.Info("run budget reached", "elapsed", elapsed.String(), "iterations", state.Iterations)
			return
		}

		for _, id := range state.order {
			if ctx.Err() != nil {
				return
			}
			if !state.eligible(id, PhaseMonitor, p.settings.Policy) {
				continue
			}
			err := p.syncMeasurements(ctx, state, func(ctx context.Context) ([]models.Measurement, error) {
				return p.fetcher.FetchLatest(ctx, id)
			})
			p.record(ctx, logger, state, id, PhaseMonitor, err)
		}
		state.Iterations++
		logger.Debug("monitor iteration complete", "iteration", state.Iterations)

		if err := sleep(ctx, p.settings.RecurrentWait); err != nil {
			return
		}
	}
}

func (p *Pipeline) syncStation(ctx context.Context, state *RunState, id string) error {
	station, err := p.fetcher.FetchStationMetadata(ctx, id)
	if err != nil {
		return err
	}
	n, err := p.store.UpsertStations(ctx, []models.Station{station})
	if err != nil {
		return err
	}
	state.StationsUpserted += n
	return nil
}

func (p *Pipeline) syncMeasurements(ctx context.Context, state *RunState, fetch func(context.Context) ([]models.Measurement, error)) error {
	rows, err := fetch(ctx)
	if err != nil {
		return err
	}
	n, err := p.store.UpsertMeasurements(ctx, rows)
	if err != nil {
		return err
	}
	state.MeasurementsUpserted += n
	return nil
}

// record folds one attempt into the run state. Failures after the context is
// done are not held against the station.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, state *RunState, id string, phase Phase, err error) {
	if err == nil {
		state.recordSuccess(id, phase)
		return
	}
	if ctx.Err() != nil {
		logger.Warn("station interrupted", "station", id, "phase", phase)
		return
	}
	state.recordFailure(id, phase, err)
	logger.Error("station failed", "station", id, "phase", phase, "err", err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

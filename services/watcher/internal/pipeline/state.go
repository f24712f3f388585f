package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Phase names a step of a run.
type Phase string

const (
	PhaseBootstrap Phase = "BOOTSTRAP"
	PhaseBackfill  Phase = "BACKFILL"
	PhaseMonitor   Phase = "MONITOR_LOOP"
	PhaseDone      Phase = "DONE"
)

// Status is the per-station health inside one run.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusFailing Status = "failing"
)

// FailurePolicy decides whether a BOOTSTRAP failure excludes a station from the
// phases that follow.
type FailurePolicy int

const (
	// PhaseScoped still backfills a station whose metadata fetch failed. A
	// successful backfill makes it healthy again.
	PhaseScoped FailurePolicy = iota
	// ChainAll excludes a station from every later phase once it fails.
	ChainAll
)

func (p FailurePolicy) String() string {
	if p == ChainAll {
		return "chain-all"
	}
	return "phase-scoped"
}

// StationState tracks one station across the run.
type StationState struct {
	Status              Status
	ConsecutiveFailures int
	Successes           int
	LastPhase           Phase
	LastError           error
}

// RunState is owned by a single Run call and discarded once folded into the
// Summary.
type RunState struct {
	RunID                uuid.UUID
	StartedAt            time.Time
	Phase                Phase
	Iterations           int
	Stations             map[string]*StationState
	StationsUpserted     int
	MeasurementsUpserted int

	order []string
}

func newRunState(stations []string, startedAt time.Time) *RunState {
	s := &RunState{
		RunID:     uuid.New(),
		StartedAt: startedAt,
		Phase:     PhaseBootstrap,
		Stations:  make(map[string]*StationState, len(stations)),
	}
	for _, id := range stations {
		if _, ok := s.Stations[id]; ok {
			continue
		}
		s.Stations[id] = &StationState{Status: StatusHealthy}
		s.order = append(s.order, id)
	}
	return s
}

// eligible reports whether the station should be attempted in phase.
func (s *RunState) eligible(id string, phase Phase, policy FailurePolicy) bool {
	st := s.Stations[id]
	if st.Status == StatusHealthy {
		return true
	}
	return phase == PhaseBackfill && policy == PhaseScoped && st.LastPhase == PhaseBootstrap
}

func (s *RunState) recordSuccess(id string, phase Phase) {
	st := s.Stations[id]
	st.Status = StatusHealthy
	st.ConsecutiveFailures = 0
	st.Successes++
	st.LastPhase = phase
	st.LastError = nil
}

func (s *RunState) recordFailure(id string, phase Phase, err error) {
	st := s.Stations[id]
	st.Status = StatusFailing
	st.ConsecutiveFailures++
	st.LastPhase = phase
	st.LastError = err
}

func (s *RunState) failing() []string {
	out := make([]string, 0)
	for id, st := range s.Stations {
		if st.Status == StatusFailing {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RunState) successful() []string {
	out := make([]string, 0)
	for id, st := range s.Stations {
		if st.Successes > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RunState) summary(finishedAt time.Time, interrupted bool) Summary {
	return Summary{
		RunID:                s.RunID.String(),
		StartedAt:            s.StartedAt,
		Runtime:              finishedAt.Sub(s.StartedAt),
		Iterations:           s.Iterations,
		FailedStations:       s.failing(),
		SuccessfulStations:   s.successful(),
		StationsUpserted:     s.StationsUpserted,
		MeasurementsUpserted: s.MeasurementsUpserted,
		Interrupted:          interrupted,
	}
}

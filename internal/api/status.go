package api

import (
	"sync"
	"time"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
	"github.com/zeynepaki/tgv-prototype/internal/convert"
	"github.com/zeynepaki/tgv-prototype/internal/loader"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageIdle       Stage = "idle"
	StageFetching   Stage = "fetching"
	StageConverting Stage = "converting"
	StageShipping   Stage = "shipping"
	StageLoading    Stage = "loading"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Snapshot is the JSON view of a Status.
type Snapshot struct {
	Stage     Stage                `json:"stage"`
	StartedAt time.Time            `json:"started_at,omitempty"`
	UpdatedAt time.Time            `json:"updated_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	Fetch     *archive.FetchReport `json:"fetch,omitempty"`
	// FetchErrors holds the messages of the per-item failures of the fetch stage.
	FetchErrors []string        `json:"fetch_errors,omitempty"`
	Convert     *convert.Report `json:"convert,omitempty"`
	Load        *loader.Result  `json:"load,omitempty"`
}

// Status tracks the progress of one pipeline run. It is safe for concurrent use.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStatus returns an idle Status.
func NewStatus() *Status {
	return &Status{snap: Snapshot{Stage: StageIdle}, now: time.Now}
}

// Enter moves the run to stage. The first non-idle stage stamps the start time.
func (s *Status) Enter(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if s.snap.StartedAt.IsZero() && stage != StageIdle {
		s.snap.StartedAt = now
	}
	s.snap.Stage = stage
	s.snap.UpdatedAt = now
}

// Fail marks the run failed with err.
func (s *Status) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Stage = StageFailed
	s.snap.UpdatedAt = s.now().UTC()
	if err != nil {
		s.snap.Error = err.Error()
	}
}

// RecordFetch stores the fetch report.
func (s *Status) RecordFetch(r archive.FetchReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Fetch = &r
	s.snap.FetchErrors = s.snap.FetchErrors[:0]
	for _, err := range r.Errors {
		s.snap.FetchErrors = append(s.snap.FetchErrors, err.Error())
	}
}

// RecordConvert stores the conversion report.
func (s *Status) RecordConvert(r convert.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Convert = &r
}

// RecordLoad stores the load result.
func (s *Status) RecordLoad(r loader.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Load = &r
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Fetch != nil {
		fetch := *snap.Fetch
		fetch.Errors = append([]error(nil), snap.Fetch.Errors...)
		snap.Fetch = &fetch
	}
	snap.FetchErrors = append([]string(nil), snap.FetchErrors...)
	if snap.Convert != nil {
		conv := *snap.Convert
		snap.Convert = &conv
	}
	if snap.Load != nil {
		load := *snap.Load
		snap.Load = &load
	}
	return snap
}

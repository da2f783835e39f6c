// Package job runs the ingestion pipeline: per-job state machine, progress
// tracking, and orchestration of probe, encode, upload, and publication.
package job

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amillerrr/vod-pipeline/internal/metrics"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

// Stage is the lifecycle position of one job.
type Stage string

const (
	StageInitializing       Stage = "Initializing"
	StageReceivingChunks    Stage = "ReceivingChunks"
	StageQueued             Stage = "QueuedForProcessing"
	StageExtractingMetadata Stage = "ExtractingMetadata"
	StageEncoding           Stage = "Encoding"
	StageUploading          Stage = "Uploading"
	StageCompleted          Stage = "Completed"
	StageFailed             Stage = "Failed"
	StageCancelled          Stage = "Cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Cancellable reports whether a cancel request is honored in this stage.
// Once encoding starts the job owns external processes that run to
// completion or explicit failure, so later stages reject cancellation.
func (s Stage) Cancellable() bool {
	switch s {
	case StageInitializing, StageReceivingChunks, StageQueued:
		return true
	default:
		return false
	}
}

// Snapshot is a point-in-time copy of one job's state. Percentage is scoped
// to the current stage, not the whole pipeline.
type Snapshot struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	Stage      Stage     `json:"stage"`
	Percentage float64   `json:"percentage"`
	Details    []string  `json:"details,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QueueView is the aggregate listing returned by the queue endpoint.
type QueueView struct {
	Jobs      []Snapshot `json:"jobs"`
	Active    int        `json:"active"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
}

type jobState struct {
	snap Snapshot
}

// Tracker is the shared progress table. All mutation goes through its
// methods; readers get copies, never live references. Stage and percentage
// change together under one lock so a reader can never see a new stage with
// the previous stage's percentage.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*jobState
	retention time.Duration

	now func() time.Time
}

// NewTracker creates a tracker. Terminal jobs linger for retention before
// self-removal; zero retention keeps them until explicit removal.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{
		jobs:      make(map[string]*jobState),
		retention: retention,
		now:       time.Now,
	}
}

// Register adds a job in StageInitializing.
func (t *Tracker) Register(id, fileName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.jobs[id]; exists {
		return models.ErrSessionConflict
	}
	now := t.now()
	t.jobs[id] = &jobState{snap: Snapshot{
		ID:        id,
		FileName:  fileName,
		Stage:     StageInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	metrics.ActiveJobs.Inc()
	return nil
}

// SetStage moves a job to a new stage and resets its stage-scoped
// percentage. Transitions out of a terminal stage are ignored.
func (t *Tracker) SetStage(id string, stage Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if state.snap.Stage.Terminal() {
		return models.ErrInvalidState
	}

	state.snap.Stage = stage
	state.snap.Percentage = 0
	state.snap.UpdatedAt = t.now()

	if stage.Terminal() {
		state.snap.Percentage = 100
		metrics.ActiveJobs.Dec()
		t.scheduleRemovalLocked(id)
	}
	return nil
}

// SetProgress updates the stage-scoped percentage. Values that would move
// progress backwards within the current stage are dropped.
func (t *Tracker) SetProgress(id string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok || state.snap.Stage.Terminal() {
		return
	}
	if pct > state.snap.Percentage {
		state.snap.Percentage = pct
		state.snap.UpdatedAt = t.now()
	}
}

// AddDetail appends a human-readable note, such as a skipped auxiliary track.
func (t *Tracker) AddDetail(id, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.jobs[id]; ok {
		state.snap.Details = append(state.snap.Details, note)
		state.snap.UpdatedAt = t.now()
	}
}

// Cancel moves a job to StageCancelled. The cancellable check and the
// transition happen under one lock, so a job advancing concurrently into a
// later stage is rejected rather than marked Cancelled.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if !state.snap.Stage.Cancellable() {
		return fmt.Errorf("%w: job is %s", models.ErrInvalidState, state.snap.Stage)
	}

	state.snap.Stage = StageCancelled
	state.snap.Percentage = 100
	state.snap.UpdatedAt = t.now()
	metrics.ActiveJobs.Dec()
	t.scheduleRemovalLocked(id)
	return nil
}

// Fail moves a job to StageFailed with a reason.
func (t *Tracker) Fail(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok || state.snap.Stage.Terminal() {
		return
	}
	state.snap.Stage = StageFailed
	state.snap.Percentage = 100
	state.snap.Error = reason
	state.snap.UpdatedAt = t.now()
	metrics.ActiveJobs.Dec()
	t.scheduleRemovalLocked(id)
}

// Get returns a copy of one job's state.
func (t *Tracker) Get(id string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return cloneSnapshot(state.snap), true
}

// Stage returns just the current stage.
func (t *Tracker) Stage(id string) (Stage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return "", false
	}
	return state.snap.Stage, true
}

// List returns all tracked jobs ordered by creation time.
func (t *Tracker) List() QueueView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := QueueView{Jobs: make([]Snapshot, 0, len(t.jobs))}
	for _, state := range t.jobs {
		view.Jobs = append(view.Jobs, cloneSnapshot(state.snap))
		switch state.snap.Stage {
		case StageCompleted:
			view.Completed++
		case StageFailed, StageCancelled:
			view.Failed++
		default:
			view.Active++
		}
	}
	sort.Slice(view.Jobs, func(i, j int) bool {
		return view.Jobs[i].CreatedAt.Before(view.Jobs[j].CreatedAt)
	})
	return view
}

// Remove drops a job from the table.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.jobs[id]
	if !ok {
		return false
	}
	if !state.snap.Stage.Terminal() {
		metrics.ActiveJobs.Dec()
	}
	delete(t.jobs, id)
	return true
}

func (t *Tracker) scheduleRemovalLocked(id string) {
	if t.retention <= 0 {
		return
	}
	time.AfterFunc(t.retention, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if state, ok := t.jobs[id]; ok && state.snap.Stage.Terminal() {
			delete(t.jobs, id)
		}
	})
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Details = append([]string(nil), s.Details...)
	return out
}

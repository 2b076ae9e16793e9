package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRunKind   = errors.New("invalid run kind (process, reconcile, report or byte_report)")
	ErrMissingSourceDir = errors.New("source_dir is required")
	ErrMissingDestDir   = errors.New("dest_dir is required for this run kind")
)

// RunStatus represents the current state of a batch run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// RunKind selects which batch operation a run executes
type RunKind string

const (
	RunKindProcess    RunKind = "process"
	RunKindReconcile  RunKind = "reconcile"
	RunKindReport     RunKind = "report"
	RunKindByteReport RunKind = "byte_report"
)

// Valid reports whether k is a known run kind
func (k RunKind) Valid() bool {
	switch k {
	case RunKindProcess, RunKindReconcile, RunKindReport, RunKindByteReport:
		return true
	}
	return false
}

// NeedsDestDir reports whether the run kind pairs a source with a destination directory
func (k RunKind) NeedsDestDir() bool {
	return k != RunKindByteReport
}

// Run represents one batch operation over a directory (or a pair of them)
type Run struct {
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DeleteAt       *time.Time `json:"delete_at,omitempty" db:"delete_at"`
	ProcessingTime *int64     `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	SourceDir      string     `json:"source_dir" db:"source_dir"`
	DestDir        string     `json:"dest_dir,omitempty" db:"dest_dir"`
	Summary        string     `json:"summary,omitempty" db:"summary"`
	Error          string     `json:"error,omitempty" db:"error"`
	WorkerID       string     `json:"worker_id,omitempty" db:"worker_id"`
	Kind           RunKind    `json:"kind" db:"kind"`
	Status         RunStatus  `json:"status" db:"status"`
	ID             uuid.UUID  `json:"id" db:"id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	Processed      int        `json:"processed" db:"processed"`
}

// NewRun creates a new pending run
func NewRun(kind RunKind, sourceDir, destDir string) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    RunStatusPending,
		SourceDir: sourceDir,
		DestDir:   destDir,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateRunRequest represents the request to create a new run
type CreateRunRequest struct {
	Kind      RunKind `json:"kind"`
	SourceDir string  `json:"source_dir"`
	DestDir   string  `json:"dest_dir"`
}

// Validate validates the run creation request
func (r *CreateRunRequest) Validate() error {
	if !r.Kind.Valid() {
		return ErrInvalidRunKind
	}
	if r.SourceDir == "" {
		return ErrMissingSourceDir
	}
	if r.Kind.NeedsDestDir() && r.DestDir == "" {
		return ErrMissingDestDir
	}
	return nil
}

// RunMessage represents a run message in the queue
type RunMessage struct {
	SourceDir string    `json:"source_dir"`
	DestDir   string    `json:"dest_dir,omitempty"`
	Kind      RunKind   `json:"kind"`
	RunID     uuid.UUID `json:"run_id"`
}

// RunListResponse represents a paginated list of runs
type RunListResponse struct {
	Runs       []*Run `json:"runs"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	StreamLength    int64 `json:"stream_length"`
	PendingMessages int64 `json:"pending_messages"`
	ConsumerCount   int64 `json:"consumer_count"`
}

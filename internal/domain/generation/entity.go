package generation

import (
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state. The happy path is
// created -> reserved -> dispatched -> polling -> completed; failed is
// reachable from any non-terminal state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusReserved   Status = "reserved"
	StatusDispatched Status = "dispatched"
	StatusPolling    Status = "polling"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a single image-to-3D generation request. CreditsCost is frozen at
// reservation time from the vendor's price table, so later price changes
// never affect refunds.
type Job struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"-"`
	SourceImageURL    string     `db:"source_image_url" json:"source_image_url"`
	Prompt            string     `db:"prompt" json:"prompt,omitempty"`
	Quality           string     `db:"quality" json:"quality"`
	Provider          string     `db:"provider" json:"provider"`
	CreditsCost       int        `db:"credits_cost" json:"credits_cost"`
	Status            Status     `db:"status" json:"status"`
	VendorTaskID      string     `db:"vendor_task_id" json:"-"`
	VideoURL          string     `db:"video_url" json:"video_url,omitempty"`
	ModelURL          string     `db:"model_url" json:"model_url,omitempty"`
	ThumbnailURL      string     `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	ProcessingSeconds int        `db:"processing_seconds" json:"processing_seconds,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

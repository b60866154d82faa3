package dbsync

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core"
)

// Sync statuses
const (
	StatusIdle       = "IDLE"
	StatusInProgress = "IN_PROGRESS"
	StatusFailed     = "FAILED"
	StatusCompleted  = "COMPLETED"
)

const (
	// LessonHistoryLimit caps the lessons copied per learner on each sync.
	// Older lessons beyond the cap are not copied.
	LessonHistoryLimit = 1000

	defaultFailureMessage = "Synchronization failed"
)

// Config is one synchronization target of one parent.
type Config struct {
	ID           string      `json:"id" db:"id"`
	ParentID     int         `json:"parentId" db:"parent_id"`
	TargetDBURL  string      `json:"targetDbUrl" db:"target_db_url"`
	LastSyncAt   null.Time   `json:"lastSyncAt" db:"last_sync_at"`
	SyncStatus   string      `json:"syncStatus" db:"sync_status"`
	ErrorMessage null.String `json:"errorMessage" db:"error_message"`
	// ContinuousSync is stored for clients; nothing schedules recurring syncs.
	ContinuousSync bool `json:"continuousSync" db:"continuous_sync"`
	// IncrementalSync keeps the target tables and upserts into them, deleting the rows removed
	// from the source. By default every sync drops & recreates the target tables.
	IncrementalSync bool      `json:"incrementalSync" db:"incremental_sync"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// StatusUpdate is what the status tracker writes back on a Config.
type StatusUpdate struct {
	Status       string
	LastSyncAt   null.Time   // left untouched when null
	ErrorMessage null.String // cleared when null
}

// NewConfig contains information needed to create a new Config.
type NewConfig struct {
	TargetDBURL     string `json:"targetDbUrl" validate:"required,pgurl"`
	ContinuousSync  bool   `json:"continuousSync"`
	IncrementalSync bool   `json:"incrementalSync"`
}

func (nc *NewConfig) Validate(validate *validator.Validate) error {
	nc.TargetDBURL = core.CleanString(nc.TargetDBURL)
	return validate.Struct(nc)
}

// UpdateConfig defines what information may be provided to modify an existing Config.
type UpdateConfig struct {
	TargetDBURL     string `json:"targetDbUrl" validate:"omitempty,pgurl"`
	ContinuousSync  *bool  `json:"continuousSync"`
	IncrementalSync *bool  `json:"incrementalSync"`
}

func (uc *UpdateConfig) Validate(validate *validator.Validate) error {
	uc.TargetDBURL = core.CleanString(uc.TargetDBURL)
	return validate.Struct(uc)
}

package reconcile

import (
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
)

// ErrPartialBatch is returned by batch results where some items failed.
var ErrPartialBatch = store.ErrPartialBatch

type MigrateResult struct {
	Migrated int      `json:"migratedCount"`
	Errors   int      `json:"errorCount"`
	Failures []string `json:"failures,omitempty"`
}

func (r *MigrateResult) Err() error {
	if r.Errors == 0 {
		return nil
	}
	return store.PartialBatch(r.Errors, r.Migrated+r.Errors)
}

// Target identifies one image to delete
type Target struct {
	Storage string `json:"storage"`
	Path    string `json:"path"`
}

type DeleteResult struct {
	Requested int `json:"requested"`
	// Removed counts index rows that existed and were deleted
	Removed         int      `json:"removed"`
	Skipped         int      `json:"skipped"`
	BackendFailures int      `json:"backendFailures"`
	PrunedDirs      int      `json:"prunedDirs"`
	Failures        []string `json:"failures,omitempty"`
}

type PruneResult struct {
	Checked  int      `json:"checked"`
	Removed  int      `json:"removed"`
	Errors   int      `json:"errors"`
	Failures []string `json:"failures,omitempty"`
}

func (r *PruneResult) Err() error {
	if r.Errors == 0 {
		return nil
	}
	return store.PartialBatch(r.Errors, r.Checked)
}

// Status compares the index with the local storage tree
type Status struct {
	DBImageCount       int64  `json:"dbImageCount"`
	FSImageCount       int    `json:"fsImageCount"`
	NeedMigrationCount int    `json:"needMigrationCount"`
	DBPath             string `json:"dbPath"`
	Connected          bool   `json:"dbConnected"`
}

type scan struct {
	files   int
	orphans []models.Image
}

package ingest

import (
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
)

// deriveRunStatus sets the catalog status of a loader-owned run: published
// while it satisfies the reviewed invariant, draft otherwise. Runs with a
// workflow state belong to the publisher and are left untouched.
func deriveRunStatus(tx *store.Tx, runID uint) error {
	owned, err := tx.HasRunState(runID)
	if err != nil || owned {
		return err
	}
	run, err := tx.LoadCourseRun(runID)
	if err != nil {
		return err
	}
	status := model.RunStatusDraft
	if len(run.ReviewedGaps()) == 0 {
		status = model.RunStatusPublished
	}
	if run.Status == status {
		return nil
	}
	run.Status = status
	return tx.Save(run)
}

package storage

import (
	"context"

	"rlfit/internal/model"
)

// Store persists fit and recovery runs together with their result tables.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveRecovery(ctx context.Context, runID string, records []model.RecoveryRecord) error
	GetRecovery(ctx context.Context, runID string) ([]model.RecoveryRecord, bool, error)
	SaveSplitRecovery(ctx context.Context, runID string, records []model.SplitRecoveryRecord) error
	GetSplitRecovery(ctx context.Context, runID string) ([]model.SplitRecoveryRecord, bool, error)
	SaveSubjectFits(ctx context.Context, runID string, fits []model.SubjectFitRecord) error
	GetSubjectFits(ctx context.Context, runID string) ([]model.SubjectFitRecord, bool, error)
}

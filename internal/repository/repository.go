package repository

import (
	"context"

	"github.com/sizemap/pkg/model"
)

// ListOptions filters and pages ReportRepository.List.
type ListOptions struct {
	// Artifact keeps only reports of this artifact name when set.
	Artifact string
	// SHA256 keeps only reports of this artifact digest when set.
	SHA256 string
	Limit  int
	Offset int
}

// ReportRepository persists analysis reports and their flattened entries.
type ReportRepository interface {
	// Save stores the report summary and its entries in one transaction.
	Save(ctx context.Context, report *model.Report) error

	// Get returns the summary of one report. A missing report is NOT_FOUND.
	Get(ctx context.Context, id string) (*model.Report, error)

	// List returns report summaries, newest first.
	List(ctx context.Context, opts ListOptions) ([]*model.Report, error)

	// Entries returns the report's entries down to maxDepth in the order
	// they were saved. A maxDepth of zero or less returns all of them.
	Entries(ctx context.Context, id string, maxDepth int) ([]model.Entry, error)

	// Delete removes a report and its entries. A missing report is NOT_FOUND.
	Delete(ctx context.Context, id string) error
}

// DiffReports compares the entries of two stored reports down to maxDepth.
func DiffReports(ctx context.Context, repo ReportRepository, beforeID, afterID string, maxDepth int) ([]model.EntryDelta, error) {
	before, err := repo.Entries(ctx, beforeID, maxDepth)
	if err != nil {
		return nil, err
	}
	after, err := repo.Entries(ctx, afterID, maxDepth)
	if err != nil {
		return nil, err
	}
	return model.Diff(before, after), nil
}

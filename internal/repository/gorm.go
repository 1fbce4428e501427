package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

const entryBatchSize = 500

// GormReportRepository implements ReportRepository using GORM.
type GormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository creates a new GormReportRepository.
func NewGormReportRepository(db *gorm.DB) *GormReportRepository {
	return &GormReportRepository{db: db}
}

// Save stores the report summary and its entries in one transaction.
func (r *GormReportRepository) Save(ctx context.Context, report *model.Report) error {
	if report == nil || report.ID == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "report id is required")
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(FromReport(report)).Error; err != nil {
			return err
		}
		if len(report.Entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(fromEntries(report.ID, report.Entries), entryBatchSize).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save report "+report.ID, err)
	}
	return nil
}

// Get returns the summary of one report.
func (r *GormReportRepository) Get(ctx context.Context, id string) (*model.Report, error) {
	var row SizeReport
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "report not found: %s", id)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get report", err)
	}
	return row.ToModel(), nil
}

// List returns report summaries, newest first.
func (r *GormReportRepository) List(ctx context.Context, opts ListOptions) ([]*model.Report, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := r.db.WithContext(ctx).Model(&SizeReport{})
	if opts.Artifact != "" {
		q = q.Where("artifact = ?", opts.Artifact)
	}
	if opts.SHA256 != "" {
		q = q.Where("sha256 = ?", opts.SHA256)
	}

	var rows []SizeReport
	err := q.Order("created_at DESC").Order("id").Limit(limit).Offset(opts.Offset).Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list reports", err)
	}

	out := make([]*model.Report, len(rows))
	for i := range rows {
		out[i] = rows[i].ToModel()
	}
	return out, nil
}

// Entries returns the report's entries down to maxDepth.
func (r *GormReportRepository) Entries(ctx context.Context, id string, maxDepth int) ([]model.Entry, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Where("report_id = ?", id)
	if maxDepth > 0 {
		q = q.Where("depth <= ?", maxDepth)
	}
	var rows []SizeReportEntry
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to load report entries", err)
	}
	return toEntries(rows), nil
}

// Delete removes a report and its entries.
func (r *GormReportRepository) Delete(ctx context.Context, id string) error {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", id).Delete(&SizeReportEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&SizeReport{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to delete report", err)
	}
	if deleted == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "report not found: %s", id)
	}
	return nil
}

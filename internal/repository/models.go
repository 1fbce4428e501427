// Package repository stores analysis report history in a SQL database.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/sizemap/pkg/model"
)

// SizeReport is one row of the size_reports table.
type SizeReport struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Artifact    string    `gorm:"column:artifact;type:varchar(512);index"`
	SHA256      string    `gorm:"column:sha256;type:char(64);index"`
	Format      string    `gorm:"column:format;type:varchar(16)"`
	Arch        string    `gorm:"column:arch;type:varchar(64)"`
	TotalSize   uint64    `gorm:"column:total_size"`
	SymbolCount int       `gorm:"column:symbol_count"`
	NodeCount   int       `gorm:"column:node_count"`
	MaxDepth    int       `gorm:"column:max_depth"`
	DurationNS  int64     `gorm:"column:duration_ns"`
	OutputFiles JSONField `gorm:"column:output_files;type:json"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

// TableName returns the table name for SizeReport.
func (SizeReport) TableName() string {
	return "size_reports"
}

// SizeReportEntry is one row of the size_report_entries table: a tree node
// flattened to its path.
type SizeReportEntry struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ReportID string `gorm:"column:report_id;type:varchar(36);index:idx_entries_report_depth,priority:1"`
	Path     string `gorm:"column:path;type:text"`
	Depth    int    `gorm:"column:depth;index:idx_entries_report_depth,priority:2"`
	Size     uint64 `gorm:"column:size"`
	OwnSize  uint64 `gorm:"column:own_size"`
}

// TableName returns the table name for SizeReportEntry.
func (SizeReportEntry) TableName() string {
	return "size_report_entries"
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&SizeReport{}, &SizeReportEntry{}}
}

// FromReport converts a report summary to its row. Entries are stored
// separately.
func FromReport(r *model.Report) *SizeReport {
	row := &SizeReport{
		ID:          r.ID,
		Artifact:    r.Artifact,
		SHA256:      r.SHA256,
		Format:      r.Format.String(),
		Arch:        r.Arch,
		TotalSize:   r.TotalSize,
		SymbolCount: r.SymbolCount,
		NodeCount:   r.NodeCount,
		MaxDepth:    r.MaxDepth,
		DurationNS:  int64(r.Duration),
		CreatedAt:   r.CreatedAt,
	}
	if len(r.OutputFiles) > 0 {
		row.OutputFiles, _ = json.Marshal(r.OutputFiles)
	}
	return row
}

// ToModel converts the row back to a report without entries.
func (s *SizeReport) ToModel() *model.Report {
	r := &model.Report{
		ID:          s.ID,
		Artifact:    s.Artifact,
		SHA256:      s.SHA256,
		Format:      model.Format(s.Format),
		Arch:        s.Arch,
		TotalSize:   s.TotalSize,
		SymbolCount: s.SymbolCount,
		NodeCount:   s.NodeCount,
		MaxDepth:    s.MaxDepth,
		Duration:    time.Duration(s.DurationNS),
		CreatedAt:   s.CreatedAt,
	}
	if s.OutputFiles != nil {
		_ = json.Unmarshal(s.OutputFiles, &r.OutputFiles)
	}
	return r
}

func fromEntries(reportID string, entries []model.Entry) []SizeReportEntry {
	rows := make([]SizeReportEntry, len(entries))
	for i, e := range entries {
		rows[i] = SizeReportEntry{ReportID: reportID, Path: e.Path, Depth: e.Depth, Size: e.Size, OwnSize: e.OwnSize}
	}
	return rows
}

func toEntries(rows []SizeReportEntry) []model.Entry {
	out := make([]model.Entry, len(rows))
	for i, r := range rows {
		out[i] = model.Entry{Path: r.Path, Depth: r.Depth, Size: r.Size, OwnSize: r.OwnSize}
	}
	return out
}

// JSONField is a custom type for JSON columns.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return errors.New("unsupported type for JSONField")
	}
	return nil
}

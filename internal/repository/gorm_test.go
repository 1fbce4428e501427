package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(sqlite.Open(":memory:"), 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func testReport(id string, created time.Time) *model.Report {
	return &model.Report{
		ID:          id,
		Artifact:    "app.elf",
		SHA256:      "deadbeef",
		Format:      model.FormatELF,
		Arch:        "EM_X86_64",
		TotalSize:   450,
		SymbolCount: 3,
		NodeCount:   5,
		MaxDepth:    3,
		Duration:    12 * time.Millisecond,
		CreatedAt:   created,
		OutputFiles: []string{"reports/" + id + "/sizemap.json"},
		Entries: []model.Entry{
			{Path: "crate", Depth: 1, Size: 400},
			{Path: "crate::mod", Depth: 2, Size: 400},
			{Path: "crate::mod::f", Depth: 3, Size: 100, OwnSize: 100},
			{Path: "crate::mod::g", Depth: 3, Size: 300, OwnSize: 300},
			{Path: "main", Depth: 1, Size: 50, OwnSize: 50},
		},
	}
}

func TestGormReportRepository_SaveGet(t *testing.T) {
	repo := NewGormReportRepository(setupTestDB(t))
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Get_NotFound", func(t *testing.T) {
		r, err := repo.Get(ctx, "missing")
		assert.Nil(t, r)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("Save_RequiresID", func(t *testing.T) {
		err := repo.Save(ctx, &model.Report{})
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
	})

	t.Run("Save_Success", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, testReport("r1", created)))

		got, err := repo.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "app.elf", got.Artifact)
		assert.Equal(t, model.FormatELF, got.Format)
		assert.Equal(t, uint64(450), got.TotalSize)
		assert.Equal(t, 12*time.Millisecond, got.Duration)
		assert.True(t, created.Equal(got.CreatedAt))
		assert.Equal(t, []string{"reports/r1/sizemap.json"}, got.OutputFiles)
		assert.Empty(t, got.Entries)
	})

	t.Run("Save_Duplicate", func(t *testing.T) {
		err := repo.Save(ctx, testReport("r1", created))
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
	})
}

func TestGormReportRepository_Entries(t *testing.T) {
	repo := NewGormReportRepository(setupTestDB(t))
	ctx := context.Background()
	want := testReport("r1", time.Now())
	require.NoError(t, repo.Save(ctx, want))

	t.Run("All", func(t *testing.T) {
		got, err := repo.Entries(ctx, "r1", 0)
		require.NoError(t, err)
		assert.Equal(t, want.Entries, got)
	})

	t.Run("DepthLimited", func(t *testing.T) {
		got, err := repo.Entries(ctx, "r1", 1)
		require.NoError(t, err)
		assert.Equal(t, []model.Entry{want.Entries[0], want.Entries[4]}, got)
	})

	t.Run("UnknownReport", func(t *testing.T) {
		_, err := repo.Entries(ctx, "nope", 0)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestGormReportRepository_List(t *testing.T) {
	repo := NewGormReportRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := testReport(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour))
		if i%2 == 1 {
			r.Artifact = "lib.so"
		}
		require.NoError(t, repo.Save(ctx, r))
	}

	t.Run("NewestFirst", func(t *testing.T) {
		got, err := repo.List(ctx, ListOptions{})
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, "r4", got[0].ID)
		assert.Equal(t, "r0", got[4].ID)
	})

	t.Run("Paged", func(t *testing.T) {
		got, err := repo.List(ctx, ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r3", got[0].ID)
		assert.Equal(t, "r2", got[1].ID)
	})

	t.Run("ByArtifact", func(t *testing.T) {
		got, err := repo.List(ctx, ListOptions{Artifact: "lib.so"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r3", got[0].ID)
	})
}

func TestGormReportRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormReportRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, testReport("r1", time.Now())))

	require.NoError(t, repo.Delete(ctx, "r1"))

	var n int64
	require.NoError(t, db.Model(&SizeReportEntry{}).Where("report_id = ?", "r1").Count(&n).Error)
	assert.Zero(t, n)

	assert.True(t, apperrors.IsNotFound(repo.Delete(ctx, "r1")))
}

func TestDiffReports(t *testing.T) {
	repo := NewGormReportRepository(setupTestDB(t))
	ctx := context.Background()

	before := testReport("before", time.Now())
	after := testReport("after", time.Now())
	after.Entries = []model.Entry{
		{Path: "crate", Depth: 1, Size: 500},
		{Path: "extra", Depth: 1, Size: 20},
	}
	require.NoError(t, repo.Save(ctx, before))
	require.NoError(t, repo.Save(ctx, after))

	got, err := DiffReports(ctx, repo, "before", "after", 1)
	require.NoError(t, err)
	assert.Equal(t, []model.EntryDelta{
		{Path: "crate", Before: 400, After: 500, Delta: 100},
		{Path: "main", Before: 50, After: 0, Delta: -50},
		{Path: "extra", Before: 0, After: 20, Delta: 20},
	}, got)

	_, err = DiffReports(ctx, repo, "before", "missing", 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestGormReportRepository_DatabaseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveRollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `size_reports`").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := NewGormReportRepository(db).Save(ctx, testReport("r1", time.Now()))
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EntriesFailRollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `size_reports`").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO `size_report_entries`").WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		err := NewGormReportRepository(db).Save(ctx, testReport("r1", time.Now()))
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetQueryError", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT \\* FROM `size_reports`").WillReturnError(errors.New("connection reset"))

		_, err := NewGormReportRepository(db).Get(ctx, "r1")
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
		assert.False(t, apperrors.IsNotFound(err))
	})

	t.Run("ListQueryError", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT \\* FROM `size_reports` WHERE artifact = \\?").
			WillReturnError(errors.New("timeout"))

		_, err := NewGormReportRepository(db).List(ctx, ListOptions{Artifact: "app.elf"})
		assert.Equal(t, apperrors.CodeDatabaseError, apperrors.GetErrorCode(err))
	})
}

func TestDialector(t *testing.T) {
	tests := []struct {
		typ  string
		name string
	}{
		{"sqlite", "sqlite"},
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"mysql", "mysql"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			d, err := Dialector(&DBConfig{Type: tt.typ, Host: "localhost"})
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}

	_, err := Dialector(&DBConfig{Type: "oracle"})
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestNewRepositories(t *testing.T) {
	repos := NewRepositories(setupTestDB(t))
	require.NotNil(t, repos.Reports)
	assert.NoError(t, repos.HealthCheck(context.Background()))
}

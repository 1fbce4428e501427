// Package service wires configuration, storage, the report database, the
// analysis pipeline and the emitters into one application object shared by
// the CLI and the HTTP server.
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sizemap/internal/artifact"
	"github.com/sizemap/internal/emitter"
	"github.com/sizemap/internal/pipeline"
	"github.com/sizemap/internal/repository"
	"github.com/sizemap/internal/storage"
	"github.com/sizemap/pkg/compression"
	"github.com/sizemap/pkg/config"
	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/utils"
)

// Service is the main application service.
type Service struct {
	config  *config.Config
	logger  utils.Logger
	db      *repository.Repositories
	storage storage.Storage
}

// New creates a new Service instance. Nothing is connected until
// Initialize runs.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is nil")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	return &Service{config: cfg, logger: logger}, nil
}

// Option overrides a dependency, mostly for tests.
type Option func(*Service)

// WithStorage uses store instead of the configured backend.
func WithStorage(store storage.Storage) Option {
	return func(s *Service) { s.storage = store }
}

// WithRepositories uses repos instead of opening the configured database.
func WithRepositories(repos *repository.Repositories) Option {
	return func(s *Service) { s.db = repos }
}

// Initialize connects the storage backend and, when enabled, the report
// database. Dependencies injected through opts are kept.
func (s *Service) Initialize(ctx context.Context, opts ...Option) error {
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("Initializing service components...")

	if s.db == nil && s.config.Database.Enabled {
		if err := s.initDatabase(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	if s.storage == nil {
		if err := s.initStorage(); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	return nil
}

func (s *Service) initDatabase() error {
	s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)
	gormDB, err := repository.NewGormDB(repository.DBConfigFrom(&s.config.Database))
	if err != nil {
		return err
	}
	s.db = repository.NewRepositories(gormDB)
	s.logger.Info("Database connection established")
	return nil
}

func (s *Service) initStorage() error {
	s.logger.Debug("Initializing storage (%s)...", s.config.Storage.Type)
	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}
	s.storage = store
	return nil
}

// Config returns the loaded configuration.
func (s *Service) Config() *config.Config { return s.config }

// Storage returns the storage backend, or nil before Initialize.
func (s *Service) Storage() storage.Storage { return s.storage }

// Reports returns the report repository, or nil when the database is
// disabled.
func (s *Service) Reports() repository.ReportRepository {
	if s.db == nil {
		return nil
	}
	return s.db.Reports
}

// PipelineOptions builds pipeline options from the configuration.
func (s *Service) PipelineOptions() *pipeline.Options {
	c := s.config
	format, _ := model.ParseFormat(c.Extract.Format)
	return &pipeline.Options{
		Format:            format,
		Workers:           c.Extract.Workers,
		ParallelThreshold: c.Extract.ParallelThreshold,
		Simplify:          c.Resolver.Simplify,
		KeepParams:        c.Resolver.KeepParams,
		GroupStd:          c.Resolver.GroupStd,
		PruneZero:         c.Tree.PruneZero,
		MinSize:           c.Tree.MinSize,
		Width:             c.Layout.Width,
		Height:            c.Layout.Height,
		EntryDepth:        pipeline.DefaultOptions().EntryDepth,
		Logger:            s.logger,
	}
}

// EmitterOptions builds emitter options from the configuration.
func (s *Service) EmitterOptions() (*emitter.Options, error) {
	ct, err := compression.ParseType(s.config.Output.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid output compression", err)
	}
	opts := emitter.DefaultOptions()
	opts.Compression = ct
	opts.TopN = s.config.Output.TopN
	if s.config.Output.MaxDepth > 0 {
		opts.MaxDepth = s.config.Output.MaxDepth
	}
	opts.Logger = s.logger
	return opts, nil
}

// Open loads an artifact from a local path or a storage:// reference.
func (s *Service) Open(ctx context.Context, ref string) (*artifact.Artifact, error) {
	var store artifact.Downloader
	if s.storage != nil {
		store = s.storage
	}
	return artifact.Load(ctx, ref, store, s.logger)
}

// AnalyzeRequest describes one analysis.
type AnalyzeRequest struct {
	// Pipeline overrides PipelineOptions when set.
	Pipeline *pipeline.Options
	// Formats names the emitters to run. Empty uses output.formats.
	Formats []string
	// OutputDir receives <report-id>/sizemap.<ext>. Empty skips writing.
	OutputDir string
	Upload    bool
	Save      bool
}

// AnalyzeResult is the outcome of Analyze.
type AnalyzeResult struct {
	*pipeline.Result
	// Files are the local paths written.
	Files []string
	// Keys are the storage keys uploaded.
	Keys []string
}

// Analyze runs the pipeline over art, then writes, uploads and records
// the report as req asks.
func (s *Service) Analyze(ctx context.Context, art *artifact.Artifact, req AnalyzeRequest) (*AnalyzeResult, error) {
	popts := req.Pipeline
	if popts == nil {
		popts = s.PipelineOptions()
	}
	res, err := pipeline.New(popts).Run(ctx, art)
	if err != nil {
		return nil, err
	}
	out := &AnalyzeResult{Result: res}
	logger := s.logger.WithField("report", res.Report.ID)

	if req.OutputDir != "" {
		eopts, err := s.EmitterOptions()
		if err != nil {
			return nil, err
		}
		formats := req.Formats
		if len(formats) == 0 {
			formats = s.config.Output.Formats
		}
		dir := filepath.Join(req.OutputDir, res.Report.ID)
		out.Files, err = emitter.NewRegistry(eopts).WriteAll(ctx, dir, formats, res.EmitterInput())
		if err != nil {
			return nil, err
		}
		res.Report.OutputFiles = out.Files
		logger.Info("Wrote %d files to %s", len(out.Files), dir)
	}

	if req.Upload {
		if s.storage == nil {
			return nil, apperrors.New(apperrors.CodeConfigError, "upload requested but no storage is configured")
		}
		if len(out.Files) == 0 {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "upload requested but no files were written")
		}
		out.Keys, err = storage.UploadFiles(ctx, s.storage, res.Report.ID, out.Files, s.config.Extract.Workers)
		if err != nil {
			return nil, err
		}
		res.Report.OutputFiles = out.Keys
		logger.Info("Uploaded %d files", len(out.Keys))
	}

	if req.Save {
		repo := s.Reports()
		if repo == nil {
			return nil, apperrors.New(apperrors.CodeConfigError, "save requested but the database is disabled")
		}
		if err := repo.Save(ctx, res.Report); err != nil {
			return nil, err
		}
		logger.Info("Saved report")
	}
	return out, nil
}

// Diff compares two stored reports down to maxDepth.
func (s *Service) Diff(ctx context.Context, beforeID, afterID string, maxDepth int) ([]model.EntryDelta, error) {
	repo := s.Reports()
	if repo == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "the report database is disabled")
	}
	return repository.DiffReports(ctx, repo, beforeID, afterID, maxDepth)
}

// HealthCheck verifies the database connection, if any.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// Close releases the database connection.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database connection: %v", err)
		return err
	}
	return nil
}

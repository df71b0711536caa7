// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/chunkmap/config"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/mapping"
	"github.com/poiesic/chunkmap/splitter"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/telemetry"
)

// Report summarizes a pipeline run.
type Report struct {
	RunID   uuid.UUID
	Stages  []StageReport
	Elapsed time.Duration
}

// Pipeline sequences the child, parent and mapping stages.
// A Pipeline is not safe for concurrent use.
type Pipeline struct {
	store      storage.RelationalStore
	reconciler *Reconciler
	schema     storage.Schema
	stages     map[Stage]stage
	driver     *mapping.Driver
	progress   *progressConfig
	logger     *slog.Logger
	ready      bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithProgress writes per-stage progress lines to w every interval documents.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		if interval <= 0 {
			return fmt.Errorf("progress interval must be greater than 0, got %d", interval)
		}
		p.progress = &progressConfig{writer: w, interval: interval}
		return nil
	}
}

type progressConfig struct {
	writer   io.Writer
	interval int
}

func (c *progressConfig) tracker(label string, total int) *telemetry.ProgressTracker {
	if c == nil || c.writer == nil {
		return nil
	}
	return telemetry.NewProgressTracker(c.writer, label, total, c.interval)
}

// NewPipeline creates a pipeline for cfg.
// cfg is validated first; an unknown parent version is returned as an error
// wrapping core.ErrUnknownVersion before anything is read or written.
func NewPipeline(texts storage.TextRepository, store storage.RelationalStore, artifacts storage.ArtifactStore, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if texts == nil {
		return nil, ErrTextRepositoryRequired
	}
	if store == nil {
		return nil, ErrRelationalStoreRequired
	}
	if artifacts == nil {
		return nil, ErrArtifactStoreRequired
	}
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parent, err := cfg.ParentTier()
	if err != nil {
		return nil, err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:      store,
		reconciler: NewReconciler(texts, store),
		schema:     schema,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	writer, err := NewWriter(store, artifacts, WithWriterLogger(p.logger.With("component", "writer")))
	if err != nil {
		return nil, err
	}
	childStage, err := p.newChunkStage(texts, writer, Target{
		Tier:   core.TierChild,
		Table:  cfg.Child.Table,
		Prefix: cfg.Child.Prefix,
	}, cfg.Child.Params())
	if err != nil {
		return nil, err
	}
	parentStage, err := p.newChunkStage(texts, writer, Target{
		Tier:   core.TierParent,
		Table:  parent.Table,
		Prefix: parent.Prefix,
	}, parent.Params())
	if err != nil {
		return nil, err
	}

	driverOpts := []mapping.Option{mapping.WithLogger(p.logger.With("stage", StageMapping))}
	if p.progress != nil && p.progress.writer != nil {
		driverOpts = append(driverOpts, mapping.WithProgress(p.progress.writer))
	}
	driver, err := mapping.NewDriver(artifacts, store, mapping.Config{
		BatchSize:       cfg.Mapping.BatchSize,
		Concurrency:     cfg.Mapping.Concurrency,
		InsertBatchSize: cfg.Mapping.InsertBatchSize,
		ReportInterval:  cfg.Mapping.ReportInterval,
	}, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping driver: %w", err)
	}
	p.driver = driver

	p.stages = map[Stage]stage{
		StageChild:  childStage,
		StageParent: parentStage,
		StageMapping: &mappingStage{
			job: mapping.Job{
				ChildPrefix:  cfg.Child.Prefix,
				ParentPrefix: parent.Prefix,
				Version:      cfg.ParentVersion,
				Table:        cfg.Mapping.Table,
			},
			driver: driver,
		},
	}
	return p, nil
}

func (p *Pipeline) newChunkStage(texts storage.TextRepository, writer *Writer, target Target, params core.ChunkParams) (*chunkStage, error) {
	s, err := splitter.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s splitter: %w", target.Tier, err)
	}
	return &chunkStage{
		target:   target,
		splitter: s,
		texts:    texts,
		writer:   writer,
		progress: p.progress,
		logger:   p.logger.With("stage", target.Tier),
	}, nil
}

// Release releases the mapping worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.driver != nil {
		p.driver.Release()
	}
}

// Run executes every stage in order and stops at the first stage error.
// Per-document failures are reported, not returned.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.New()}
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("pipeline run starting")

	for _, name := range Stages() {
		stageReport, err := p.RunStage(ctx, name)
		report.Stages = append(report.Stages, stageReport)
		if err != nil {
			report.Elapsed = time.Since(start)
			logger.Error("pipeline run stopped", "stage", name, "error", err)
			return report, err
		}
	}

	report.Elapsed = time.Since(start)
	logger.Info("pipeline run complete", "elapsed", report.Elapsed)
	return report, nil
}

// RunStage computes the pending set of one stage and processes it.
func (p *Pipeline) RunStage(ctx context.Context, name Stage) (StageReport, error) {
	report := StageReport{Stage: name}
	s, ok := p.stages[name]
	if !ok {
		return report, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}

	start := time.Now()
	pending, err := p.pending(ctx, s)
	if err != nil {
		return report, err
	}
	report.Pending = len(pending)

	logger := p.logger.With("stage", name)
	if len(pending) == 0 {
		logger.Info("nothing pending")
		return report, nil
	}
	logger.Info("stage starting", "pending", len(pending))

	err = s.process(ctx, pending, &report)
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, err
	}

	logger.Info("stage complete",
		"completed", report.Completed,
		"failed", len(report.Failed),
		"rows_written", report.Rows,
		"elapsed", report.Elapsed)
	return report, nil
}

// Pending returns the sorted ids still pending for a stage.
func (p *Pipeline) Pending(ctx context.Context, name Stage) ([]core.DocumentID, error) {
	s, ok := p.stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return p.pending(ctx, s)
}

func (p *Pipeline) pending(ctx context.Context, s stage) ([]core.DocumentID, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	ids, err := p.reconciler.Pending(ctx, s.scope())
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s pending set: %w", s.name(), err)
	}
	return ids, nil
}

// init creates the tables of the active configuration once per pipeline.
func (p *Pipeline) init(ctx context.Context) error {
	if p.ready {
		return nil
	}
	if err := p.store.Init(ctx, p.schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	p.ready = true
	return nil
}

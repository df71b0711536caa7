package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/mapping"
	"github.com/poiesic/chunkmap/splitter"
	"github.com/poiesic/chunkmap/storage"
	"github.com/poiesic/chunkmap/telemetry"
)

// Stage names one resumable step of the pipeline.
type Stage string

const (
	StageChild   Stage = "child"
	StageParent  Stage = "parent"
	StageMapping Stage = "mapping"
)

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{StageChild, StageParent, StageMapping}
}

// ParseStage converts a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(name)))
	for _, s := range Stages() {
		if s == stage {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// StageReport summarizes one stage of a run.
type StageReport struct {
	Stage Stage
	// Pending is the number of documents the stage started with.
	Pending int
	// Completed is the number of documents whose output was persisted.
	Completed int
	// Failed lists documents left pending by an error.
	Failed []core.DocumentID
	// Rows is the number of relational rows written.
	Rows    int
	Elapsed time.Duration
}

// stage processes the pending documents of one step.
// Implementations log and record per-document failures and only return an
// error when the stage itself cannot continue.
type stage interface {
	name() Stage
	scope() storage.Scope
	process(ctx context.Context, ids []core.DocumentID, report *StageReport) error
}

// chunkStage splits documents at one granularity and writes the chunks.
type chunkStage struct {
	target   Target
	splitter *splitter.Splitter
	texts    storage.TextRepository
	writer   *Writer
	progress *progressConfig
	logger   *slog.Logger
}

func (s *chunkStage) name() Stage {
	if s.target.Tier == core.TierParent {
		return StageParent
	}
	return StageChild
}

func (s *chunkStage) scope() storage.Scope {
	return storage.Scope{Table: s.target.Table}
}

func (s *chunkStage) process(ctx context.Context, ids []core.DocumentID, report *StageReport) error {
	tracker := s.progress.tracker(string(s.name()), len(ids))
	if tracker != nil {
		tracker.Start()
		defer tracker.Finish()
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := s.chunkDocument(ctx, id)
		if err != nil {
			s.logger.Error("failed to chunk document", "document_id", id, "error", err)
			report.Failed = append(report.Failed, id)
		} else {
			report.Completed++
			report.Rows += rows
			telemetry.LogMemory(s.logger, "document chunked", "document_id", id, "chunks", rows)
		}
		if tracker != nil {
			tracker.Increment(1)
		}
	}
	return nil
}

func (s *chunkStage) chunkDocument(ctx context.Context, id core.DocumentID) (int, error) {
	text, err := s.texts.GetText(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load text: %w", err)
	}
	texts, err := s.splitter.Split(text)
	if err != nil {
		return 0, fmt.Errorf("split: %w", err)
	}
	if err := s.writer.Write(ctx, s.target, id, texts); err != nil {
		return 0, err
	}
	return len(texts), nil
}

// mappingStage aligns child chunks onto the active parent chunks.
type mappingStage struct {
	job    mapping.Job
	driver *mapping.Driver
}

func (s *mappingStage) name() Stage {
	return StageMapping
}

func (s *mappingStage) scope() storage.Scope {
	return storage.Scope{Table: s.job.Table, Version: s.job.Version}
}

func (s *mappingStage) process(ctx context.Context, ids []core.DocumentID, report *StageReport) error {
	result, err := s.driver.Run(ctx, s.job, ids)
	report.Completed = result.Aligned
	report.Failed = append(report.Failed, result.Failed...)
	report.Rows = result.Written
	return err
}

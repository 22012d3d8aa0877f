// Package etl implements the extract-transform-load pipeline for the TIBC
// (current bank interest rate) open-data series: paginated fetch, record
// normalization, dedup against prior loads, and a transactional commit.
package etl

import (
	"context"
	"errors"
	"iter"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"
)

// Store is the persistence seam the service writes through.
type Store interface {
	EnsureSchema(ctx context.Context) error
	ExistingKeys(ctx context.Context) (map[model.RateKey]struct{}, error)
	Apply(ctx context.Context, actions []model.LoadAction) (model.LoadResult, error)
}

// Source yields raw records from the upstream API.
type Source interface {
	Pages(ctx context.Context, since *civil.Date) iter.Seq2[RawRecord, error]
}

type Service struct {
	source Source
	store  Store
	logger *zap.Logger
}

func NewService(source Source, store Store, logger *zap.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		logger: logger,
	}
}

// Run executes one full extraction-to-load cycle and returns its counts.
// Per-record rejections are absorbed here; any returned error is one of the
// run-aborting kinds and guarantees storage was left untouched.
func (s *Service) Run(ctx context.Context, since *civil.Date) (model.PipelineRun, error) {
	run := model.NewPipelineRun(uuid.NewString())
	s.logger.Info("starting pipeline run", zap.String("batch_id", run.BatchID))

	if err := s.store.EnsureSchema(ctx); err != nil {
		return run, &LoadFailure{Err: err}
	}
	existing, err := s.store.ExistingKeys(ctx)
	if err != nil {
		return run, &LoadFailure{Err: err}
	}

	normalizer := NewNormalizer(run.BatchID)
	var accepted []model.RateRecord

	for raw, err := range s.source.Pages(ctx, since) {
		if err != nil {
			s.logger.Error("extraction aborted", zap.Error(err))
			return run, err
		}
		run.Fetched++

		rec, err := normalizer.Normalize(raw)
		if err != nil {
			var rejection *Rejection
			if !errors.As(err, &rejection) {
				return run, err
			}
			run.CountRejection(string(rejection.Reason))
			s.logger.Warn("record rejected",
				zap.String("reason", string(rejection.Reason)),
				zap.String("field", rejection.Field),
				zap.String("detail", rejection.Detail))
			continue
		}
		if since != nil && rec.ReportDate.Before(*since) {
			// The server-side bound is advisory; enforce it here too.
			run.Skipped++
			continue
		}
		accepted = append(accepted, rec)
	}

	actions := Plan(accepted, existing)
	// Keys that repeated within the batch collapsed into one action each.
	run.Skipped += len(accepted) - len(actions)

	result, err := s.store.Apply(ctx, actions)
	if err != nil {
		s.logger.Error("load aborted, batch rolled back", zap.Error(err))
		return run, &LoadFailure{Err: err}
	}
	run.Inserted = result.Inserted
	run.Updated = result.Updated
	run.Skipped += result.Skipped

	s.logger.Info("pipeline run finished", zap.Object("run", run))
	return run, nil
}

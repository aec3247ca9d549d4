// Package orchestrator runs the release pipeline end to end: build the image,
// publish it, migrate the schema, then update the service. Stages run in that
// order and a failed stage aborts the release; there is no retry or rollback,
// the operator fixes the cause and starts a new release.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/quayops/gantry/internal/dao/lockdao"
	"github.com/quayops/gantry/internal/dao/releasedao"
	gantryerrors "github.com/quayops/gantry/internal/errors"
)

// Request describes one end-to-end release.
type Request struct {
	Service  string // ECS service and repository name
	Env      string // target environment (dev, staging, prod)
	Version  string // version string used as the image tag
	Platform string // target platform, e.g. linux/amd64
}

// State carries stage outputs through the pipeline. Each stage reads what
// earlier stages produced and writes its own results.
type State struct {
	ReleaseID         releasedao.ID
	LocalImage        string // tag produced by the build stage
	ImageURI          string // registry reference produced by the publish stage
	ImageDigest       string // manifest digest, when the registry reports one
	MigrationsApplied int
	TaskDefinitionArn string
}

// Stage is one step of the release pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request, state *State) error
}

// History is the slice of the release DAO the orchestrator writes to.
type History interface {
	Create(ctx context.Context, input releasedao.CreateInput) (releasedao.Record, error)
	UpdateStatus(ctx context.Context, input releasedao.UpdateInput) error
	SetStage(ctx context.Context, pk releasedao.PK, sk, stage string) error
	RecordImage(ctx context.Context, pk releasedao.PK, sk, imageURI, digest string) error
	RecordMigrations(ctx context.Context, pk releasedao.PK, sk string, applied int) error
	RecordTaskDefinition(ctx context.Context, pk releasedao.PK, sk, taskDefinitionArn string) error
}

// Locks is the slice of the lock DAO the orchestrator uses to serialize
// releases per service and environment.
type Locks interface {
	Acquire(ctx context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error)
	Release(ctx context.Context, input lockdao.ReleaseInput) error
}

// Orchestrator manages the release lifecycle: history record, deploy lock,
// stage execution, terminal status.
type Orchestrator struct {
	history History
	locks   Locks
	stages  []Stage
	logger  zerolog.Logger
}

// New creates an Orchestrator running the given stages in order.
func New(history History, locks Locks, logger zerolog.Logger, stages ...Stage) *Orchestrator {
	return &Orchestrator{
		history: history,
		locks:   locks,
		stages:  stages,
		logger:  logger.With().Str("service", "orchestrator").Logger(),
	}
}

// Run executes the pipeline for one release. The release record tracks the
// last stage reached, so a FAILED record names the stage that broke.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*State, error) {
	sk := ksuid.New().String()
	pk := releasedao.NewPK(req.Service, req.Env)

	record, err := o.history.Create(ctx, releasedao.CreateInput{
		Service:  req.Service,
		Env:      req.Env,
		SK:       sk,
		Version:  req.Version,
		Platform: req.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create release record: %w", err)
	}

	releaseID := record.GetID()
	logger := o.logger.With().
		Str("release_id", releaseID.String()).
		Str("env", req.Env).
		Str("version", req.Version).
		Logger()

	lockID := lockdao.NewID(req.Env, req.Service)
	_, acquired, err := o.locks.Acquire(ctx, lockdao.AcquireInput{
		Env:       req.Env,
		Service:   req.Service,
		ReleaseID: releaseID.String(),
	})
	if err != nil {
		err = fmt.Errorf("failed to acquire deploy lock: %w", err)
		o.markFailed(ctx, pk, sk, "", err, logger)
		return nil, err
	}
	if !acquired {
		err = fmt.Errorf("%w: %s/%s", gantryerrors.ErrLockHeld, req.Env, req.Service)
		o.markFailed(ctx, pk, sk, "", err, logger)
		return nil, err
	}

	defer func() {
		// Release even when ctx was cancelled mid-stage.
		releaseCtx := context.WithoutCancel(ctx)
		if err := o.locks.Release(releaseCtx, lockdao.ReleaseInput{ID: lockID, ReleaseID: releaseID.String()}); err != nil {
			logger.Warn().Err(err).Msg("failed to release deploy lock")
		}
	}()

	inProgress := releasedao.ReleaseStatusInProgress
	if err := o.history.UpdateStatus(ctx, releasedao.UpdateInput{PK: pk, SK: sk, Status: &inProgress}); err != nil {
		err = fmt.Errorf("failed to update release status: %w", err)
		o.markFailed(ctx, pk, sk, "", err, logger)
		return nil, err
	}

	state := &State{ReleaseID: releaseID}

	for _, stage := range o.stages {
		name := stage.Name()
		logger.Info().Str("stage", name).Msg("starting stage")

		if err := o.history.SetStage(ctx, pk, sk, name); err != nil {
			err = fmt.Errorf("failed to record stage: %w", err)
			o.markFailed(ctx, pk, sk, name, err, logger)
			return nil, err
		}

		if err := stage.Run(ctx, req, state); err != nil {
			o.markFailed(ctx, pk, sk, name, err, logger)
			return nil, fmt.Errorf("stage %s failed: %w", name, err)
		}

		if err := o.recordStageOutput(ctx, pk, sk, name, state); err != nil {
			o.markFailed(ctx, pk, sk, name, err, logger)
			return nil, err
		}

		logger.Info().Str("stage", name).Msg("stage complete")
	}

	success := releasedao.ReleaseStatusSuccess
	if err := o.history.UpdateStatus(ctx, releasedao.UpdateInput{PK: pk, SK: sk, Status: &success}); err != nil {
		return nil, fmt.Errorf("failed to update release status: %w", err)
	}

	logger.Info().Msg("release complete")

	return state, nil
}

// recordStageOutput persists what a stage produced onto the release record.
func (o *Orchestrator) recordStageOutput(ctx context.Context, pk releasedao.PK, sk, stage string, state *State) error {
	switch stage {
	case releasedao.StagePublish:
		if err := o.history.RecordImage(ctx, pk, sk, state.ImageURI, state.ImageDigest); err != nil {
			return fmt.Errorf("failed to record image: %w", err)
		}
	case releasedao.StageMigrate:
		if err := o.history.RecordMigrations(ctx, pk, sk, state.MigrationsApplied); err != nil {
			return fmt.Errorf("failed to record migrations: %w", err)
		}
	case releasedao.StageDeploy:
		if err := o.history.RecordTaskDefinition(ctx, pk, sk, state.TaskDefinitionArn); err != nil {
			return fmt.Errorf("failed to record task definition: %w", err)
		}
	}
	return nil
}

// markFailed writes the terminal FAILED status, with the stage that broke when
// the failure happened inside a stage. The write uses a non-cancellable context
// so a ctx-cancelled stage still leaves a FAILED record behind.
func (o *Orchestrator) markFailed(ctx context.Context, pk releasedao.PK, sk, stage string, cause error, logger zerolog.Logger) {
	failed := releasedao.ReleaseStatusFailed
	msg := cause.Error()

	input := releasedao.UpdateInput{
		PK:       pk,
		SK:       sk,
		Status:   &failed,
		ErrorMsg: &msg,
	}
	if stage != "" {
		input.Stage = &stage
	}

	if err := o.history.UpdateStatus(context.WithoutCancel(ctx), input); err != nil {
		logger.Error().Err(err).Msg("failed to mark release as failed")
	}
}

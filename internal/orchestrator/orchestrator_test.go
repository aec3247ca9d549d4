package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayops/gantry/internal/dao/lockdao"
	"github.com/quayops/gantry/internal/dao/releasedao"
	gantryerrors "github.com/quayops/gantry/internal/errors"
)

type fakeHistory struct {
	created  []releasedao.CreateInput
	statuses []releasedao.UpdateInput
	stages   []string

	setStageErr    error
	recordImageErr error

	imageURI          string
	imageDigest       string
	migrationsApplied int
	taskDefinitionArn string
}

func (h *fakeHistory) Create(_ context.Context, input releasedao.CreateInput) (releasedao.Record, error) {
	h.created = append(h.created, input)
	return releasedao.Record{
		PK: releasedao.NewPK(input.Service, input.Env),
		SK: input.SK,
	}, nil
}

func (h *fakeHistory) UpdateStatus(_ context.Context, input releasedao.UpdateInput) error {
	h.statuses = append(h.statuses, input)
	return nil
}

func (h *fakeHistory) SetStage(_ context.Context, _ releasedao.PK, _, stage string) error {
	if h.setStageErr != nil {
		return h.setStageErr
	}
	h.stages = append(h.stages, stage)
	return nil
}

func (h *fakeHistory) RecordImage(_ context.Context, _ releasedao.PK, _, imageURI, digest string) error {
	if h.recordImageErr != nil {
		return h.recordImageErr
	}
	h.imageURI = imageURI
	h.imageDigest = digest
	return nil
}

func (h *fakeHistory) RecordMigrations(_ context.Context, _ releasedao.PK, _ string, applied int) error {
	h.migrationsApplied = applied
	return nil
}

func (h *fakeHistory) RecordTaskDefinition(_ context.Context, _ releasedao.PK, _, arn string) error {
	h.taskDefinitionArn = arn
	return nil
}

func (h *fakeHistory) lastStatus() releasedao.ReleaseStatus {
	if len(h.statuses) == 0 {
		return ""
	}
	return *h.statuses[len(h.statuses)-1].Status
}

type fakeLocks struct {
	held      bool // a foreign lock already exists
	acquires  int
	releases  int
	releaseID string
}

func (l *fakeLocks) Acquire(_ context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error) {
	l.acquires++
	if l.held {
		return nil, false, nil
	}
	l.releaseID = input.ReleaseID
	return &lockdao.Record{
		PK:        lockdao.NewPK(input.Env, input.Service),
		SK:        "LOCK",
		ReleaseID: input.ReleaseID,
	}, true, nil
}

func (l *fakeLocks) Release(_ context.Context, _ lockdao.ReleaseInput) error {
	l.releases++
	return nil
}

type fakeStage struct {
	name string
	err  error
	run  func(state *State)
	runs int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(_ context.Context, _ Request, state *State) error {
	s.runs++
	if s.err != nil {
		return s.err
	}
	if s.run != nil {
		s.run(state)
	}
	return nil
}

func testRequest() Request {
	return Request{
		Service:  "myapp",
		Env:      "dev",
		Version:  "1.2.0",
		Platform: "linux/amd64",
	}
}

func TestRun_HappyPath(t *testing.T) {
	history := &fakeHistory{}
	locks := &fakeLocks{}

	build := &fakeStage{name: releasedao.StageBuild, run: func(st *State) {
		st.LocalImage = "myapp:1.2.0"
	}}
	publish := &fakeStage{name: releasedao.StagePublish, run: func(st *State) {
		st.ImageURI = "123456789012.dkr.ecr.us-east-1.amazonaws.com/myapp:1.2.0"
		st.ImageDigest = "sha256:feedface"
	}}
	migrateStage := &fakeStage{name: releasedao.StageMigrate, run: func(st *State) {
		st.MigrationsApplied = 2
	}}
	deploy := &fakeStage{name: releasedao.StageDeploy, run: func(st *State) {
		st.TaskDefinitionArn = "arn:aws:ecs:us-east-1:123456789012:task-definition/myapp:7"
	}}

	o := New(history, locks, zerolog.Nop(), build, publish, migrateStage, deploy)

	state, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, build.runs)
	assert.Equal(t, 1, publish.runs)
	assert.Equal(t, 1, migrateStage.runs)
	assert.Equal(t, 1, deploy.runs)

	assert.Equal(t, []string{
		releasedao.StageBuild,
		releasedao.StagePublish,
		releasedao.StageMigrate,
		releasedao.StageDeploy,
	}, history.stages)

	assert.Equal(t, releasedao.ReleaseStatusSuccess, history.lastStatus())
	assert.Equal(t, state.ImageURI, history.imageURI)
	assert.Equal(t, "sha256:feedface", history.imageDigest)
	assert.Equal(t, 2, history.migrationsApplied)
	assert.Equal(t, state.TaskDefinitionArn, history.taskDefinitionArn)

	assert.Equal(t, 1, locks.acquires)
	assert.Equal(t, 1, locks.releases, "lock must be released after the run")
	assert.Equal(t, state.ReleaseID.String(), locks.releaseID)
}

func TestRun_StageFailureMarksReleaseFailed(t *testing.T) {
	history := &fakeHistory{}
	locks := &fakeLocks{}

	build := &fakeStage{name: releasedao.StageBuild}
	publish := &fakeStage{name: releasedao.StagePublish, err: fmt.Errorf("registry unavailable")}
	deploy := &fakeStage{name: releasedao.StageDeploy}

	o := New(history, locks, zerolog.Nop(), build, publish, deploy)

	_, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage publish failed")

	// Later stages never run
	assert.Equal(t, 1, build.runs)
	assert.Equal(t, 1, publish.runs)
	assert.Equal(t, 0, deploy.runs)

	assert.Equal(t, releasedao.ReleaseStatusFailed, history.lastStatus())

	last := history.statuses[len(history.statuses)-1]
	require.NotNil(t, last.Stage)
	assert.Equal(t, releasedao.StagePublish, *last.Stage)
	require.NotNil(t, last.ErrorMsg)
	assert.Contains(t, *last.ErrorMsg, "registry unavailable")

	assert.Equal(t, 1, locks.releases, "lock must be released after a failed run")
}

func TestRun_LockHeldRefusesRelease(t *testing.T) {
	history := &fakeHistory{}
	locks := &fakeLocks{held: true}

	build := &fakeStage{name: releasedao.StageBuild}

	o := New(history, locks, zerolog.Nop(), build)

	_, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gantryerrors.ErrLockHeld))

	assert.Equal(t, 0, build.runs)
	assert.Equal(t, 0, locks.releases, "a lock we never held must not be released")

	// The record must not sit PENDING forever
	assert.Equal(t, releasedao.ReleaseStatusFailed, history.lastStatus())
	last := history.statuses[len(history.statuses)-1]
	require.NotNil(t, last.ErrorMsg)
	assert.Contains(t, *last.ErrorMsg, "lock is held")
}

func TestRun_SetStageFailureMarksReleaseFailed(t *testing.T) {
	history := &fakeHistory{setStageErr: fmt.Errorf("dynamodb unavailable")}
	locks := &fakeLocks{}

	build := &fakeStage{name: releasedao.StageBuild}

	o := New(history, locks, zerolog.Nop(), build)

	_, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, 0, build.runs)
	assert.Equal(t, releasedao.ReleaseStatusFailed, history.lastStatus())
	assert.Equal(t, 1, locks.releases)
}

func TestRun_RecordOutputFailureMarksReleaseFailed(t *testing.T) {
	history := &fakeHistory{recordImageErr: fmt.Errorf("dynamodb unavailable")}
	locks := &fakeLocks{}

	publish := &fakeStage{name: releasedao.StagePublish, run: func(st *State) {
		st.ImageURI = "123456789012.dkr.ecr.us-east-1.amazonaws.com/myapp:1.2.0"
	}}
	deploy := &fakeStage{name: releasedao.StageDeploy}

	o := New(history, locks, zerolog.Nop(), publish, deploy)

	_, err := o.Run(context.Background(), testRequest())
	require.Error(t, err)

	assert.Equal(t, 1, publish.runs)
	assert.Equal(t, 0, deploy.runs)

	assert.Equal(t, releasedao.ReleaseStatusFailed, history.lastStatus())
	last := history.statuses[len(history.statuses)-1]
	require.NotNil(t, last.Stage)
	assert.Equal(t, releasedao.StagePublish, *last.Stage)
	assert.Equal(t, 1, locks.releases)
}

func TestRun_CreatesReleaseRecord(t *testing.T) {
	history := &fakeHistory{}
	locks := &fakeLocks{}

	o := New(history, locks, zerolog.Nop())

	state, err := o.Run(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, history.created, 1)
	created := history.created[0]
	assert.Equal(t, "myapp", created.Service)
	assert.Equal(t, "dev", created.Env)
	assert.Equal(t, "1.2.0", created.Version)
	assert.Equal(t, "linux/amd64", created.Platform)
	assert.NotEmpty(t, created.SK)

	assert.Equal(t, releasedao.NewID(releasedao.NewPK("myapp", "dev"), created.SK), state.ReleaseID)
}

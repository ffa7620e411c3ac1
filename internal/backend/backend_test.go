package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/storage"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRuns struct {
	runs map[string]*domain.Run
}

func (m *memRuns) CreateRun(_ context.Context, run *domain.Run) error {
	cp := *run
	m.runs[run.RunID] = &cp
	return nil
}

func (m *memRuns) GetRunByID(_ context.Context, runID string) (*domain.Run, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return run, nil
}

func (m *memRuns) FailRun(_ context.Context, runID, code, message string) error {
	run := m.runs[runID]
	run.Status = domain.RunStatusFailed
	run.ErrorCode = &code
	run.ErrorMessage = &message
	return nil
}

func (m *memRuns) ListRuns(_ context.Context, filter storage.RunFilter) ([]domain.Run, error) {
	var out []domain.Run
	for _, r := range m.runs {
		if r.UserID == filter.UserID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	messages []rabbitmq.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg rabbitmq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func newTestBackend(pub Publisher) (*Backend, *memRuns) {
	runs := &memRuns{runs: map[string]*domain.Run{}}
	return NewBackend(runs, pub, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), runs
}

func TestBackend_Trigger(t *testing.T) {
	pub := &recordingPublisher{}
	b, runs := newTestBackend(pub)

	payload := domain.RestorePayload{ImageID: "img-1", UserID: "user-1", ImageCount: 3, Resolution: domain.Resolution2K}
	handle, err := b.Trigger(context.Background(), "user-1", domain.TaskRestoreImage, payload)
	require.NoError(t, err)

	run, ok := runs.runs[handle]
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusPending, run.Status)
	assert.Equal(t, "user-1", run.UserID)
	assert.Equal(t, domain.TaskRestoreImage, run.TaskName)
	assert.Equal(t, int(DefaultMaxDuration/time.Second), run.MaxDurationSeconds)

	var stored domain.RestorePayload
	require.NoError(t, json.Unmarshal(run.Payload, &stored))
	assert.Equal(t, payload, stored)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, handle, msg.ID)
	assert.Equal(t, domain.TaskRestoreImage, msg.Type)

	var body domain.RunMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, handle, body.RunID)
	assert.Equal(t, domain.TaskRestoreImage, body.TaskName)
}

func TestBackend_Trigger_PublishFailureFailsRun(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	b, runs := newTestBackend(pub)

	_, err := b.Trigger(context.Background(), "user-1", domain.TaskRestoreImage, domain.RestorePayload{})
	require.Error(t, err)

	require.Len(t, runs.runs, 1)
	for _, run := range runs.runs {
		assert.Equal(t, domain.RunStatusFailed, run.Status)
		require.NotNil(t, run.ErrorCode)
		assert.Equal(t, domain.CodeInternal, *run.ErrorCode)
	}
}

func TestBackend_Trigger_UnencodablePayload(t *testing.T) {
	b, runs := newTestBackend(&recordingPublisher{})

	_, err := b.Trigger(context.Background(), "user-1", domain.TaskRestoreImage, make(chan int))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, runs.runs)
}

func TestBackend_GetRunStatus(t *testing.T) {
	b, _ := newTestBackend(&recordingPublisher{})

	handle, err := b.Trigger(context.Background(), "user-1", domain.TaskRestoreImage, domain.RestorePayload{})
	require.NoError(t, err)

	run, err := b.GetRunStatus(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, handle, run.RunID)

	_, err = b.GetRunStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

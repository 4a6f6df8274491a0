package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/events"
	"github.com/makkenzo/device-licensing-api/internal/storage/memstorage"
	"github.com/makkenzo/device-licensing-api/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingScheduler struct {
	specs map[string]string
	err   error
}

func (s *recordingScheduler) Register(cronspec string, task *asynq.Task, _ ...asynq.Option) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.specs == nil {
		s.specs = make(map[string]string)
	}
	s.specs[task.Type()] = cronspec
	return "entry-" + task.Type(), nil
}

func TestRegisterPeriodicTasks(t *testing.T) {
	s := &recordingScheduler{}
	require.NoError(t, registerPeriodicTasks(s, "@every 1h", zap.NewNop()))
	assert.Equal(t, map[string]string{
		tasks.TypeTokenPurge: "@every 1h",
		tasks.TypeUsagePurge: "@every 1h",
	}, s.specs)

	t.Run("default schedule", func(t *testing.T) {
		s := &recordingScheduler{}
		require.NoError(t, registerPeriodicTasks(s, "", zap.NewNop()))
		assert.Equal(t, "@every 6h", s.specs[tasks.TypeTokenPurge])
	})

	t.Run("registration failure", func(t *testing.T) {
		err := registerPeriodicTasks(&recordingScheduler{err: errors.New("bad cron")}, "nonsense", zap.NewNop())
		assert.ErrorContains(t, err, "scheduler registration error")
	})
}

func TestServeMuxRoutesPurgeTasks(t *testing.T) {
	cfg := &config.Config{}
	mux := NewServeMux(cfg, memstorage.NewStore(), events.NewLogPublisher(zap.NewNop()), zap.NewNop())

	task, err := tasks.NewUsagePurgeTask()
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))

	err = mux.ProcessTask(context.Background(), asynq.NewTask("unknown:task", nil))
	assert.Error(t, err)
}

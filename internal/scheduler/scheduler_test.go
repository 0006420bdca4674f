package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-server/internal/config"
	"payment-server/internal/jobs"
)

func runnerWith(sched config.SchedulerConfig) *jobs.JobRunner {
	return jobs.NewJobRunner(nil, nil, nil, &config.Config{Scheduler: sched})
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	s, err := NewScheduler(runnerWith(config.SchedulerConfig{
		CreateBatch:   "@every 10s",
		ProcessJobs:   "*/15 * * * * *",
		RouteAccounts: "@every 1m",
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())
}

func TestNewScheduler_WithoutAccountRouting(t *testing.T) {
	s, err := NewScheduler(runnerWith(config.SchedulerConfig{
		CreateBatch: "@every 10s",
		ProcessJobs: "@every 10s",
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(runnerWith(config.SchedulerConfig{
		CreateBatch: "every ten seconds",
		ProcessJobs: "@every 10s",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CreateBatch")
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(runnerWith(config.SchedulerConfig{
		CreateBatch: "@every 1h",
		ProcessJobs: "@every 1h",
	}))
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

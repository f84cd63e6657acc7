package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	runs atomic.Int32
	err  error
}

func (f *fakePruner) Run(context.Context) (services.RetentionReport, error) {
	f.runs.Add(1)
	return services.RetentionReport{Pruned: 7}, f.err
}

func TestNewRetention_Schedules(t *testing.T) {
	for _, sched := range []string{"@daily", "@every 1h", "30 3 * * *"} {
		_, err := NewRetention(&fakePruner{}, sched, logging.Nop())
		assert.NoError(t, err, sched)
	}

	_, err := NewRetention(&fakePruner{}, "every tuesday", logging.Nop())
	assert.Error(t, err)
}

func TestRetention_RunOnce(t *testing.T) {
	p := &fakePruner{}
	r, err := NewRetention(p, "@daily", logging.Nop())
	require.NoError(t, err)

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.Pruned)
	assert.Equal(t, int32(1), p.runs.Load())

	p.err = errors.New("db down")
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRetention_ScheduledRunUsesStartContext(t *testing.T) {
	p := &fakePruner{}
	r, err := NewRetention(p, "@daily", logging.Nop())
	require.NoError(t, err)

	r.runScheduled()
	assert.Zero(t, p.runs.Load(), "not started")

	r.Start(context.Background())
	r.runScheduled()
	assert.Equal(t, int32(1), p.runs.Load())

	r.Stop()
	r.Stop()
}

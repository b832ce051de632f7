package registers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apm-collector/pkg/config"
	"github.com/apm-collector/pkg/monitor"
)

type countingCollector struct {
	collects atomic.Int32
	closed   atomic.Bool
	initErr  error
}

func (c *countingCollector) Name() string { return "counting" }
func (c *countingCollector) Init() error  { return c.initErr }
func (c *countingCollector) Collect(context.Context) error {
	c.collects.Add(1)
	return errors.New("probe failed")
}
func (c *countingCollector) Close() error {
	c.closed.Store(true)
	return nil
}

func TestAgent_StartCollectsAndShutdownCloses(t *testing.T) {
	a := NewAgent(10*time.Millisecond, zaptest.NewLogger(t))
	c := &countingCollector{}
	a.Register(c)

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool { return c.collects.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Shutdown(context.Background()))
	assert.True(t, c.closed.Load())
	n := c.collects.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, c.collects.Load())
}

func TestAgent_InitFailure(t *testing.T) {
	a := NewAgent(time.Second, nil)
	a.Register(&countingCollector{initErr: errors.New("no proc")})
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting")
}

func TestInitPromRegistry(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Monitor.Interval = time.Hour

	tel, err := InitPromRegistry(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Agent.Shutdown(context.Background()) })

	require.NotNil(t, tel.Engine)
	tel.Engine.TickFinished(monitor.OutcomeSuccess, time.Second)

	families, err := tel.Registry.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["apm_collector_ticks_total"])
	assert.True(t, names["apm_collector_process_resident_memory_bytes"])
}

func TestRegisterCollectors_Disabled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Monitor.Process.Enable = false
	a := NewAgent(time.Second, nil)
	assert.Empty(t, RegisterCollectors(a, cfg, nil, zaptest.NewLogger(t)))
}

package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRuntime struct {
	n   int
	err error
}

func (c countingRuntime) CountContainers(context.Context) (int, error) { return c.n, c.err }
func (c countingRuntime) Close() error { return nil }

func TestSystemCollectorProducesValidReport(t *testing.T) {
	c := NewSystemCollector("1.0.0", countingRuntime{n: 4}, "/")

	report, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NoError(t, heartbeat.Validate(report))

	assert.Equal(t, 4, *report.ContainerCount)
	assert.Equal(t, "1.0.0", report.DaemonVersion)
	require.Len(t, report.Disk, 1)
	assert.Equal(t, "/", report.Disk[0].Mount)
}

func TestSystemCollectorCounterError(t *testing.T) {
	c := NewSystemCollector("1.0.0", countingRuntime{err: errors.New("socket gone")}, "/")
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestSystemCollectorUnknownMount(t *testing.T) {
	c := NewSystemCollector("1.0.0", nil, "/definitely/not/mounted")
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-3))
	assert.Equal(t, 100.0, clampPercent(140))
	assert.Equal(t, 42.5, clampPercent(42.5))
}

func TestNewContainerCounterNone(t *testing.T) {
	c, err := NewContainerCounter(configWithRuntime("none"))
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewContainerCounter(configWithRuntime("podman"))
	assert.Error(t, err)
}

func configWithRuntime(runtime string) config.DaemonConfig {
	return config.DaemonConfig{Runtime: runtime}
}

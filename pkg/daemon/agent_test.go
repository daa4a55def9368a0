package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/cuemby/warden/pkg/heartbeat"
	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	calls int
	errs  []error // returned in order, then success
	tasks []*types.Task
}

func (f *fakeSender) Heartbeat(ctx context.Context, nodeID, apiKey string, report *types.HeartbeatReport) (*heartbeat.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	tasks := f.tasks
	f.tasks = nil
	if tasks == nil {
		tasks = []*types.Task{}
	}
	return &heartbeat.Ack{Status: "ok", NodeStatus: types.NodeStatusOnline, Tasks: tasks}, nil
}

type staticCollector struct {
	err error
}

func (s staticCollector) Collect(ctx context.Context) (*types.HeartbeatReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.HeartbeatReport{DaemonVersion: "test"}, nil
}

func TestNewAgentRequiresCredentials(t *testing.T) {
	_, err := NewAgent(&fakeSender{}, staticCollector{}, AgentConfig{NodeID: "n"})
	assert.Error(t, err)

	a, err := NewAgent(&fakeSender{}, staticCollector{}, AgentConfig{NodeID: "n", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, a.cfg.Interval)
}

func TestBeatHandsTasksToHandler(t *testing.T) {
	sender := &fakeSender{tasks: []*types.Task{
		{ID: "t1", Kind: types.TaskKindAssignServer, Payload: map[string]string{"server_id": "s1"}},
		{ID: "t2", Kind: types.TaskKindReinstallDaemon},
	}}

	var handled []string
	a, err := NewAgent(sender, staticCollector{}, AgentConfig{NodeID: "n", APIKey: "k"},
		WithTaskHandler(TaskHandlerFunc(func(_ context.Context, task *types.Task) error {
			handled = append(handled, task.ID)
			if task.ID == "t2" {
				return errors.New("not supported")
			}
			return nil
		})))
	require.NoError(t, err)

	// a failing handler does not fail the heartbeat
	require.NoError(t, a.Beat(context.Background()))
	assert.Equal(t, []string{"t1", "t2"}, handled)

	require.NoError(t, a.Beat(context.Background()))
	assert.Len(t, handled, 2)
}

func TestBeatCollectorError(t *testing.T) {
	sender := &fakeSender{}
	a, err := NewAgent(sender, staticCollector{err: errors.New("boom")}, AgentConfig{NodeID: "n", APIKey: "k"})
	require.NoError(t, err)

	assert.Error(t, a.Beat(context.Background()))
	assert.Equal(t, 0, sender.calls)
}

func TestRunBacksOffAndRecovers(t *testing.T) {
	sender := &fakeSender{errs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errdefs.ErrUnauthorized,
	}}
	a, err := NewAgent(sender, staticCollector{}, AgentConfig{NodeID: "n", APIKey: "k", Interval: 10 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	a.newTimer = func(d time.Duration) (<-chan time.Time, func() bool) {
		waits = append(waits, d)
		if len(waits) == 5 {
			cancel()
		}
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c, func() bool { return true }
	}

	require.NoError(t, a.Run(ctx))
	require.Len(t, waits, 5)

	for _, w := range waits[:3] {
		assert.Less(t, w, 10*time.Second*5+time.Millisecond)
		assert.Greater(t, w, time.Duration(0))
	}
	// back to the normal period once accepted
	assert.Equal(t, 10*time.Second, waits[3])
	assert.Equal(t, 10*time.Second, waits[4])
}

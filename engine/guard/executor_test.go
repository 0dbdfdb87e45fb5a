package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// fakeDocker records capability calls and can fail a number of times.
type fakeDocker struct {
	mu         sync.Mutex
	calls      []string
	failFirst  int
	containers []models.ContainerInfo
	details    map[string]ContainerDetail
	networks   map[string][]string
	block      chan struct{} // when set, operations wait until closed
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		details:  make(map[string]ContainerDetail),
		networks: make(map[string][]string),
	}
}

func (f *fakeDocker) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	shouldFail := f.failFirst > 0
	if shouldFail {
		f.failFirst--
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if shouldFail {
		return errors.New("transient docker error")
	}
	return nil
}

func (f *fakeDocker) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDocker) ListContainers(ctx context.Context) ([]models.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ContainerInfo(nil), f.containers...), nil
}

func (f *fakeDocker) Inspect(ctx context.Context, id string) (ContainerDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return ContainerDetail{}, errors.New("no such container")
}

func (f *fakeDocker) Pause(ctx context.Context, id string) error   { return f.record("pause:" + id) }
func (f *fakeDocker) Unpause(ctx context.Context, id string) error { return f.record("unpause:" + id) }
func (f *fakeDocker) Stop(ctx context.Context, id string, timeout time.Duration) error {
	return f.record("stop:" + id)
}
func (f *fakeDocker) Kill(ctx context.Context, id, signal string) error {
	return f.record("kill:" + id + ":" + signal)
}
func (f *fakeDocker) DisconnectNetwork(ctx context.Context, id, network string) error {
	return f.record("disconnect:" + id + ":" + network)
}
func (f *fakeDocker) Networks(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.networks[id]...), nil
}
func (f *fakeDocker) Close() error { return nil }

func TestExecutorActionMapping(t *testing.T) {
	ctx := context.Background()

	f := newFakeDocker()
	ex := NewExecutor(f, ExecutorOptions{}, nil)
	require.NoError(t, ex.Execute(ctx, "c1", ActionPause, "r"))
	assert.Equal(t, []string{"pause:c1"}, f.callLog())

	f = newFakeDocker()
	ex = NewExecutor(f, ExecutorOptions{}, nil)
	require.NoError(t, ex.Execute(ctx, "c1", ActionStop, "r"))
	assert.Equal(t, []string{"stop:c1"}, f.callLog())

	f = newFakeDocker()
	ex = NewExecutor(f, ExecutorOptions{}, nil)
	require.NoError(t, ex.Execute(ctx, "c1", ActionKill, "r"))
	assert.Equal(t, []string{"kill:c1:SIGKILL"}, f.callLog())

	f = newFakeDocker()
	f.networks["c1"] = []string{"bridge", "backend"}
	ex = NewExecutor(f, ExecutorOptions{}, nil)
	require.NoError(t, ex.Execute(ctx, "c1", ActionDisconnectNetwork, "r"))
	assert.Equal(t, []string{"disconnect:c1:bridge", "disconnect:c1:backend"}, f.callLog())
}

func TestExecutorRetriesWithBackoff(t *testing.T) {
	f := newFakeDocker()
	f.failFirst = 2
	ex := NewExecutor(f, ExecutorOptions{Retries: 3, InitialBackoff: time.Millisecond}, nil)

	require.NoError(t, ex.Execute(context.Background(), "c1", ActionPause, "r"))
	assert.Len(t, f.callLog(), 3)
}

func TestExecutorTerminalFailure(t *testing.T) {
	f := newFakeDocker()
	f.failFirst = 10
	ex := NewExecutor(f, ExecutorOptions{Retries: 3, InitialBackoff: time.Millisecond}, nil)

	err := ex.Execute(context.Background(), "c1", ActionPause, "r")
	require.Error(t, err)
	var ie *models.IronpostError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, models.ErrKindContainer, ie.Kind)
	assert.Equal(t, "c1", ie.Subject)
	assert.Len(t, f.callLog(), 3)
}

func TestExecutorAtMostOnceInFlight(t *testing.T) {
	f := newFakeDocker()
	block := make(chan struct{})
	f.block = block
	ex := NewExecutor(f, ExecutorOptions{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ex.Execute(context.Background(), "c1", ActionPause, "r")
	}()

	// wait until the first request is inside the capability call
	require.Eventually(t, func() bool { return len(f.callLog()) == 1 },
		time.Second, time.Millisecond)

	// second request for the same key short-circuits immediately
	require.NoError(t, ex.Execute(context.Background(), "c1", ActionPause, "r"))
	assert.Len(t, f.callLog(), 1)

	// a different action on the same container is a different key
	done := make(chan struct{})
	go func() {
		_ = ex.Execute(context.Background(), "c1", ActionKill, "r")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(f.callLog()) == 2 },
		time.Second, time.Millisecond)

	close(block)
	wg.Wait()
	<-done
}

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightkeeper/lightkeeper/internal/notifier"
	"github.com/lightkeeper/lightkeeper/internal/state"
	"github.com/lightkeeper/lightkeeper/internal/types"
)

type fakeObserver struct {
	mu  sync.Mutex
	obs types.Observation
	err error
	// block, when non-nil, stalls Observe until closed.
	block chan struct{}
	calls int
}

func (f *fakeObserver) Observe(_ context.Context) (types.Observation, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	obs, err := f.obs, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return obs, err
}

type fakeEvaluator struct {
	decision types.Decision
	panics   bool
	// seen records the history length per call.
	seen []int
}

func (f *fakeEvaluator) Evaluate(_ types.Observation, history []types.Observation) types.Decision {
	f.seen = append(f.seen, len(history))
	if f.panics {
		panic("evaluator exploded")
	}
	return f.decision
}

type fakeNotifier struct {
	name string
	err  error
	sent []string
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(_ context.Context, title, message string, _ types.Severity) error {
	f.sent = append(f.sent, title+": "+message)
	return f.err
}

func alertDecision(fp string) types.Decision {
	return types.Decision{ShouldAlert: true, Severity: types.SeverityHigh, Message: "boom", Fingerprint: fp}
}

func newCoordinatorHelper(t *testing.T, dir string, obs *fakeObserver, eval *fakeEvaluator,
	ns []*fakeNotifier, gate *state.Manager) *Coordinator {
	return newCoordinatorHelperCap(t, dir, obs, eval, ns, gate, 0)
}

func newCoordinatorHelperCap(t *testing.T, dir string, obs *fakeObserver, eval *fakeEvaluator,
	ns []*fakeNotifier, gate *state.Manager, cap int) *Coordinator {
	t.Helper()
	sinks := make([]notifier.Notifier, 0, len(ns))
	for _, n := range ns {
		sinks = append(sinks, n)
	}
	return New("web", obs, eval, sinks, gate, dir, cap, zerolog.Nop())
}

func TestPipelineDeliversAlert(t *testing.T) {
	obs := &fakeObserver{obs: types.NumberObservation(95, nil)}
	eval := &fakeEvaluator{decision: alertDecision("fp-1")}
	n := &fakeNotifier{name: "console"}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, []*fakeNotifier{n},
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	decision, gate, err := c.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, decision.ShouldAlert)
	assert.True(t, gate.Allow)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Lightkeeper: web: boom", n.sent[0])
}

func TestPipelineEvaluatesBeforeAppending(t *testing.T) {
	obs := &fakeObserver{obs: types.NumberObservation(1, nil)}
	eval := &fakeEvaluator{}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, nil,
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	for i := 0; i < 3; i++ {
		_, _, err := c.CheckOnce(context.Background())
		require.NoError(t, err)
	}
	// The current observation must not be part of the history it is
	// evaluated against.
	assert.Equal(t, []int{0, 1, 2}, eval.seen)
}

func TestPipelineObserverErrorSkipsEverything(t *testing.T) {
	obs := &fakeObserver{err: errors.New("probe exploded")}
	eval := &fakeEvaluator{decision: alertDecision("fp-1")}
	n := &fakeNotifier{name: "console"}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, []*fakeNotifier{n},
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	_, _, err := c.CheckOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, eval.seen, "no evaluation without an observation")
	assert.Empty(t, n.sent)
}

func TestPipelineSuppressedDuplicate(t *testing.T) {
	obs := &fakeObserver{obs: types.NumberObservation(95, nil)}
	eval := &fakeEvaluator{decision: alertDecision("fp-1")}
	n := &fakeNotifier{name: "console"}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, []*fakeNotifier{n},
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	_, gate, err := c.CheckOnce(context.Background())
	require.NoError(t, err)
	require.True(t, gate.Allow)

	_, gate, err = c.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, gate.Allow)
	assert.Equal(t, state.ReasonDuplicate, gate.Reason)
	assert.Len(t, n.sent, 1, "suppressed alert must not be delivered")
}

func TestNotifierFailureDoesNotBlockOthers(t *testing.T) {
	obs := &fakeObserver{obs: types.NumberObservation(95, nil)}
	eval := &fakeEvaluator{decision: alertDecision("fp-1")}
	bad := &fakeNotifier{name: "pushover", err: errors.New("api down")}
	good := &fakeNotifier{name: "console"}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, []*fakeNotifier{bad, good},
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	_, gate, err := c.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, gate.Allow)
	assert.Len(t, bad.sent, 1)
	assert.Len(t, good.sent, 1)
}

func TestRunIsolatesPanics(t *testing.T) {
	obs := &fakeObserver{obs: types.NumberObservation(1, nil)}
	eval := &fakeEvaluator{panics: true}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, nil,
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	c.Fire()
	assert.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Fire()
	assert.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.calls >= 2
	}, 2*time.Second, 10*time.Millisecond, "a panicking check must not kill the loop")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestFireCollapsesWhileBusy(t *testing.T) {
	block := make(chan struct{})
	obs := &fakeObserver{obs: types.NumberObservation(1, nil), block: block}
	eval := &fakeEvaluator{}
	c := newCoordinatorHelper(t, t.TempDir(), obs, eval, nil,
		state.NewManager(t.TempDir(), time.Hour, 0, zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Fire()
	assert.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	// One firing queues, the rest drop.
	for i := 0; i < 5; i++ {
		c.Fire()
	}
	close(block)

	assert.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.calls == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.calls, "burst must collapse to one queued run")
}

func TestHistorySurvivesRestartAndTrims(t *testing.T) {
	dir := t.TempDir()
	stateDir := t.TempDir()
	gate := state.NewManager(stateDir, time.Hour, 0, zerolog.Nop())
	obs := &fakeObserver{obs: types.NumberObservation(7, nil)}

	eval1 := &fakeEvaluator{}
	c1 := newCoordinatorHelperCap(t, dir, obs, eval1, nil, gate, 3)
	for i := 0; i < 5; i++ {
		_, _, err := c1.CheckOnce(context.Background())
		require.NoError(t, err)
	}

	// A fresh coordinator sees the persisted, capacity-trimmed window.
	eval2 := &fakeEvaluator{}
	c2 := newCoordinatorHelperCap(t, dir, obs, eval2, nil, gate, 3)
	_, _, err := c2.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3}, eval2.seen)
}

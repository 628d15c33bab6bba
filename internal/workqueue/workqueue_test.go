package workqueue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload(t *testing.T) {
	t.Run("RequiredKeys", func(t *testing.T) {
		p := NewPayload()
		p.SetInt64("row_id", 42)
		p.SetString("local_id", "msg-1")
		p.SetStringSlice("attachments", []string{"a", "b"})

		rowID, err := p.Int64("row_id")
		require.NoError(t, err)
		assert.Equal(t, int64(42), rowID)

		localID, err := p.String("local_id")
		require.NoError(t, err)
		assert.Equal(t, "msg-1", localID)

		atts, err := p.StringSlice("attachments")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, atts)
	})

	t.Run("MissingRequiredKey", func(t *testing.T) {
		p := NewPayload()

		_, err := p.String("absent")
		assert.Error(t, err)

		_, err = p.Int64("absent")
		assert.Error(t, err)
	})

	t.Run("MalformedInteger", func(t *testing.T) {
		p := Payload{"row_id": "not-a-number"}
		_, err := p.Int64("row_id")
		assert.Error(t, err)
	})

	t.Run("OptionalKeys", func(t *testing.T) {
		p := NewPayload()
		assert.Equal(t, "fallback", p.StringOr("absent", "fallback"))

		vals, err := p.StringSlice("absent")
		require.NoError(t, err)
		assert.Nil(t, vals)
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		type opts struct {
			Password string `json:"password"`
			Expires  int64  `json:"expires"`
		}

		p := NewPayload()
		require.NoError(t, p.SetJSON("security", opts{Password: "pw", Expires: 172800}))

		var got opts
		require.NoError(t, p.JSON("security", &got))
		assert.Equal(t, int64(172800), got.Expires)
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		p := Payload{"k": "v"}
		c := p.Clone()
		c["k"] = "changed"
		assert.Equal(t, "v", p["k"])
	})
}

func TestNextDelay(t *testing.T) {
	policy := DefaultBackoff()

	t.Run("ExponentialFromTwentySeconds", func(t *testing.T) {
		// ±10% jitter around 20s, 40s, 80s.
		for attempt, base := range map[int]time.Duration{
			1: 20 * time.Second,
			2: 40 * time.Second,
			3: 80 * time.Second,
		} {
			d := NextDelay(policy, attempt)
			assert.InDelta(t, float64(base), float64(d), float64(base)*0.11,
				"attempt %d", attempt)
		}
	})

	t.Run("CappedAtMax", func(t *testing.T) {
		d := NextDelay(policy, 40)
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/10)
	})

	t.Run("Linear", func(t *testing.T) {
		d := NextDelay(BackoffPolicy{Kind: BackoffLinear, BaseDelay: 10 * time.Second}, 3)
		assert.InDelta(t, float64(30*time.Second), float64(d), float64(3*time.Second))
	})

	t.Run("ZeroAttemptTreatedAsFirst", func(t *testing.T) {
		d := NextDelay(policy, 0)
		assert.InDelta(t, float64(20*time.Second), float64(d), float64(2*time.Second))
	})
}

// recordingExecutor scripts results per attempt and records invocations.
type recordingExecutor struct {
	mu       sync.Mutex
	results  []Result
	attempts []int
	payloads []Payload
}

func (e *recordingExecutor) Execute(ctx context.Context, payload Payload, attempt int) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts = append(e.attempts, attempt)
	e.payloads = append(e.payloads, payload)
	if len(e.results) == 0 {
		return Done()
	}
	res := e.results[0]
	if len(e.results) > 1 {
		e.results = e.results[1:]
	}
	return res
}

func (e *recordingExecutor) invocations() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.attempts...)
}

func startRuntime(t *testing.T, exec Executor, cfg InProcConfig) *InProcRuntime {
	t.Helper()
	rt := NewInProcRuntime(cfg, exec, slog.Default())
	require.NoError(t, rt.Start())
	t.Cleanup(func() { rt.Stop() })
	return rt
}

// fastSpec builds a spec with millisecond backoff so retries run quickly.
func fastSpec(key string) WorkSpec {
	return WorkSpec{
		UniqueKey: key,
		Policy:    ReplaceExisting,
		Backoff:   BackoffPolicy{Kind: BackoffExponential, BaseDelay: time.Millisecond},
		Payload:   Payload{"k": "v"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestInProcRuntime(t *testing.T) {
	t.Run("ExecutesOnce", func(t *testing.T) {
		exec := &recordingExecutor{}
		rt := startRuntime(t, exec, InProcConfig{Workers: 2})

		_, err := rt.EnqueueUnique(context.Background(), fastSpec("msg-1"))
		require.NoError(t, err)

		waitFor(t, func() bool { return rt.Stats()[StateDone] == 1 })
		assert.Equal(t, []int{0}, exec.invocations())
	})

	t.Run("RetriesWithIncrementingAttempt", func(t *testing.T) {
		exec := &recordingExecutor{results: []Result{RetryLater(), RetryLater(), Done()}}
		rt := startRuntime(t, exec, InProcConfig{Workers: 2})

		_, err := rt.EnqueueUnique(context.Background(), fastSpec("msg-2"))
		require.NoError(t, err)

		waitFor(t, func() bool { return rt.Stats()[StateDone] == 1 })
		assert.Equal(t, []int{0, 1, 2}, exec.invocations(),
			"attempt count is the number of prior executions")
	})

	t.Run("TerminalFailureCarriesPayload", func(t *testing.T) {
		failure := Payload{"error": "MessageNotFound"}
		exec := &recordingExecutor{results: []Result{Failed(failure)}}
		rt := startRuntime(t, exec, InProcConfig{Workers: 1})

		_, err := rt.EnqueueUnique(context.Background(), fastSpec("msg-3"))
		require.NoError(t, err)

		waitFor(t, func() bool { return rt.Stats()[StateFailed] == 1 })

		snap := rt.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, failure, snap[0].Failure)
	})

	t.Run("KeepExistingReturnsSameHandle", func(t *testing.T) {
		block := make(chan struct{})
		exec := ExecutorFunc(func(ctx context.Context, p Payload, attempt int) Result {
			<-block
			return Done()
		})
		rt := startRuntime(t, exec, InProcConfig{Workers: 1})
		defer close(block)

		spec := fastSpec("msg-4")
		spec.Policy = KeepExisting

		h1, err := rt.EnqueueUnique(context.Background(), spec)
		require.NoError(t, err)
		h2, err := rt.EnqueueUnique(context.Background(), spec)
		require.NoError(t, err)
		assert.Equal(t, h1.ID, h2.ID)
	})

	t.Run("ReplacePendingSupersedes", func(t *testing.T) {
		block := make(chan struct{})
		var mu sync.Mutex
		var seen []string
		exec := ExecutorFunc(func(ctx context.Context, p Payload, attempt int) Result {
			<-block
			mu.Lock()
			seen = append(seen, p["k"])
			mu.Unlock()
			return Done()
		})
		// One worker; the first unit blocks it so the second stays pending.
		rt := startRuntime(t, exec, InProcConfig{Workers: 1})

		blocker := fastSpec("blocker")
		_, err := rt.EnqueueUnique(context.Background(), blocker)
		require.NoError(t, err)

		first := fastSpec("msg-5")
		first.Payload = Payload{"k": "first"}
		h1, err := rt.EnqueueUnique(context.Background(), first)
		require.NoError(t, err)

		second := fastSpec("msg-5")
		second.Payload = Payload{"k": "second"}
		h2, err := rt.EnqueueUnique(context.Background(), second)
		require.NoError(t, err)
		assert.NotEqual(t, h1.ID, h2.ID, "replacement issues a fresh handle")

		close(block)
		waitFor(t, func() bool { return rt.Stats()[StateDone] == 2 })

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, seen, "second")
		assert.NotContains(t, seen, "first", "replaced payload must never run")
	})

	t.Run("NetworkConstraintDefersWithoutConsumingAttempts", func(t *testing.T) {
		var onlineMu sync.Mutex
		online := false
		exec := &recordingExecutor{}
		rt := startRuntime(t, exec, InProcConfig{
			Workers: 1,
			Online: func() bool {
				onlineMu.Lock()
				defer onlineMu.Unlock()
				return online
			},
			OfflineRecheck: 5 * time.Millisecond,
		})

		spec := fastSpec("msg-6")
		spec.Constraints = []Constraint{ConstraintNetwork}
		_, err := rt.EnqueueUnique(context.Background(), spec)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, exec.invocations(), "unit must not run while offline")

		onlineMu.Lock()
		online = true
		onlineMu.Unlock()

		waitFor(t, func() bool { return rt.Stats()[StateDone] == 1 })
		assert.Equal(t, []int{0}, exec.invocations(),
			"offline waits must not consume attempts")
	})

	t.Run("RejectsEmptyKey", func(t *testing.T) {
		rt := startRuntime(t, &recordingExecutor{}, InProcConfig{Workers: 1})
		_, err := rt.EnqueueUnique(context.Background(), WorkSpec{})
		assert.Error(t, err)
	})
}

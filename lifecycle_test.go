// lifecycle_test.go: lifecycle state machine, rollback and disposal
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_SetupGating(t *testing.T) {
	t.Run("WaitsForDependencies", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend("db")
		lc := ctx.Lifecycle()
		res := &resourceCounter{}
		_, err := ctx.Ensure(res.assurance(ctx))
		require.NoError(t, err)

		lc.Setup()
		assert.Equal(t, StatePending, lc.State())
		assert.Equal(t, []string{"db"}, lc.Missing())
		assert.Equal(t, 0, res.acquired)

		root.Declare("db")
		require.NoError(t, root.Set("db", "conn"))
		assert.Equal(t, StateActive, lc.State(), "a pending lifecycle sets up when its dependency appears")
		assert.Equal(t, 1, res.acquired)
		assert.Empty(t, lc.Missing())
	})

	t.Run("NoDependenciesIsAlwaysReady", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		seen := transitions(ctx.Lifecycle())

		ctx.Lifecycle().Setup()
		assert.Equal(t, StateActive, ctx.Lifecycle().State())
		assert.Equal(t, []string{"pending->loading", "loading->active"}, *seen)
	})

	t.Run("SetupOutsidePendingIsNoop", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		calls := 0
		_, _ = ctx.Ensure(func() error { calls++; return nil })
		ctx.Lifecycle().Setup()
		ctx.Lifecycle().Setup()
		assert.Equal(t, 1, calls)
	})
}

func TestLifecycle_RollbackAndRestore(t *testing.T) {
	root, _ := newTestTree(t)
	root.Declare("db", "conn-1")

	ctx := root.Extend("db")
	lc := ctx.Lifecycle()
	res := &resourceCounter{}
	_, err := ctx.Ensure(res.assurance(ctx))
	require.NoError(t, err)
	lc.Setup()
	require.Equal(t, StateActive, lc.State())
	seen := transitions(lc)

	require.NoError(t, root.Set("db", nil))
	assert.Equal(t, StatePending, lc.State())
	assert.Equal(t, 1, res.released, "each disposal runs exactly once on rollback")
	assert.Equal(t, 0, res.live())
	assert.Equal(t, []string{"active->unloading", "unloading->pending"}, *seen)

	require.NoError(t, root.Set("db", "conn-2"))
	assert.Equal(t, StateActive, lc.State())
	assert.Equal(t, 2, res.acquired, "restoring the dependency re-runs assurances once")
	assert.Equal(t, 1, res.live())

	assert.True(t, root.Remove("db"))
	assert.Equal(t, StatePending, lc.State())
	assert.Equal(t, 0, res.live())

	lc.Dispose()
	assert.Equal(t, 2, res.released, "disposing a pending lifecycle has nothing left to release")
}

func TestLifecycle_Dispose(t *testing.T) {
	t.Run("DoubleDisposeIsNoop", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		res := &resourceCounter{}
		_, _ = ctx.Ensure(res.assurance(ctx))
		ctx.Lifecycle().Setup()

		ctx.Lifecycle().Dispose()
		ctx.Lifecycle().Dispose()
		assert.Equal(t, StateDisposed, ctx.Lifecycle().State())
		assert.Equal(t, 1, res.released)
	})

	t.Run("DisposedLifecycleNeverSetsUpAgain", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend("db")
		calls := 0
		_, _ = ctx.Ensure(func() error { calls++; return nil })
		ctx.Lifecycle().Dispose()

		root.Declare("db", 1)
		ctx.Lifecycle().Setup()
		assert.Equal(t, 0, calls)
		assert.Equal(t, StateDisposed, ctx.Lifecycle().State())
	})

	t.Run("RollbackOnDisposedIsNoop", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		ctx.Lifecycle().Dispose()
		ctx.Lifecycle().Rollback()
		assert.Equal(t, StateDisposed, ctx.Lifecycle().State())
	})

	t.Run("CollectAfterDisposeRunsImmediately", func(t *testing.T) {
		root, logger := newTestTree(t)
		ctx := root.Extend()
		ctx.Lifecycle().Dispose()

		ran := false
		ctx.Collect(func() error { ran = true; return nil })
		assert.True(t, ran)
		assert.True(t, logger.HasMessage("WARN", "disposed lifecycle"))
	})

	t.Run("DisposalErrorsDoNotStopOthers", func(t *testing.T) {
		root, logger := newTestTree(t)
		ctx := root.Extend()
		ran := 0
		ctx.Collect(func() error { ran++; return stderrors.New("close failed") })
		ctx.Collect(func() error { panic("close panicked") })
		ctx.Collect(func() error { ran++; return nil })

		ctx.Lifecycle().Dispose()
		assert.Equal(t, 2, ran)
		assert.Equal(t, 2, logger.Count("WARN"))
	})

	t.Run("RemovedDisposalDoesNotRun", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		ran := false
		off := ctx.Collect(func() error { ran = true; return nil })
		off()
		ctx.Lifecycle().Dispose()
		assert.False(t, ran)
	})

	t.Run("AsyncDisposalIsNotAwaited", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		release := make(chan struct{})
		done := make(chan struct{})
		ctx.CollectAsync(func() error {
			<-release
			close(done)
			return nil
		})

		ctx.Lifecycle().Dispose()
		assert.Equal(t, StateDisposed, ctx.Lifecycle().State())
		close(release)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("async disposal never ran")
		}
	})

	t.Run("DisposeDuringRollbackFinishesDisposal", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", "conn")
		ctx := root.Extend("db")
		lc := ctx.Lifecycle()
		calls := 0
		_, _ = ctx.Ensure(func() error {
			calls++
			ctx.Collect(func() error {
				lc.Dispose()
				return nil
			})
			return nil
		})
		lc.Setup()
		require.Equal(t, StateActive, lc.State())

		lc.Rollback()
		assert.Equal(t, StateDisposed, lc.State())
		assert.Equal(t, 1, calls, "a disposal requested during rollback prevents the new setup")
	})
}

func TestLifecycle_Failure(t *testing.T) {
	t.Run("EveryAssuranceIsAttempted", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		second := false
		_, _ = ctx.Ensure(func() error { return stderrors.New("first failed") })
		_, _ = ctx.Ensure(func() error { second = true; return nil })

		ctx.Lifecycle().Setup()
		assert.True(t, second)
		assert.Equal(t, StateFailed, ctx.Lifecycle().State())
		assert.True(t, HasErrorCode(ctx.Lifecycle().Err(), ErrCodeAssuranceFailed))
	})

	t.Run("FailureReleasesAcquiredResources", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		res := &resourceCounter{}
		_, _ = ctx.Ensure(res.assurance(ctx))
		_, _ = ctx.Ensure(func() error { return stderrors.New("boom") })

		ctx.Lifecycle().Setup()
		assert.Equal(t, StateFailed, ctx.Lifecycle().State())
		assert.Equal(t, 0, res.live())
	})

	t.Run("PanicIsAFailure", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		_, _ = ctx.Ensure(func() error { panic("kaboom") })
		ctx.Lifecycle().Setup()
		assert.Equal(t, StateFailed, ctx.Lifecycle().State())
	})

	t.Run("FailedIgnoresDependencyChanges", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", "conn")
		ctx := root.Extend("db")
		_, _ = ctx.Ensure(func() error { return stderrors.New("boom") })
		ctx.Lifecycle().Setup()
		require.Equal(t, StateFailed, ctx.Lifecycle().State())

		require.NoError(t, root.Set("db", nil))
		require.NoError(t, root.Set("db", "conn"))
		assert.Equal(t, StateFailed, ctx.Lifecycle().State())
	})

	t.Run("DisposalDroppingDependencyKeepsFailure", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", "conn")
		ctx := root.Extend("db")
		runs := 0
		_, _ = ctx.Ensure(func() error {
			runs++
			ctx.Collect(func() error { return root.Set("db", nil) })
			return nil
		})
		_, _ = ctx.Ensure(func() error { return stderrors.New("boom") })

		lc := ctx.Lifecycle()
		lc.Setup()
		assert.Equal(t, StateFailed, lc.State())
		assert.False(t, root.Registry().Present("db"))

		require.NoError(t, root.Set("db", "conn"))
		assert.Equal(t, StateFailed, lc.State(), "a failed lifecycle is only set up again by Retry")
		assert.Equal(t, 1, runs)
	})

	t.Run("Retry", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		broken := true
		_, _ = ctx.Ensure(func() error {
			if broken {
				return stderrors.New("not yet")
			}
			return nil
		})
		lc := ctx.Lifecycle()
		lc.Setup()
		require.Equal(t, StateFailed, lc.State())

		assert.Error(t, lc.Retry())
		assert.Equal(t, StateFailed, lc.State())

		broken = false
		assert.NoError(t, lc.Retry())
		assert.Equal(t, StateActive, lc.State())
		assert.Nil(t, lc.Err())

		err := lc.Retry()
		assert.True(t, HasErrorCode(err, ErrCodeNotRetryable))
	})
}

func TestLifecycle_Ensure(t *testing.T) {
	t.Run("RunsImmediatelyWhenActive", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		ctx.Lifecycle().Setup()

		calls := 0
		_, err := ctx.Ensure(func() error { calls++; return nil })
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("FailureWhileActiveIsReturned", func(t *testing.T) {
		root, logger := newTestTree(t)
		ctx := root.Extend()
		ctx.Lifecycle().Setup()

		_, err := ctx.Ensure(func() error { return stderrors.New("late failure") })
		assert.True(t, HasErrorCode(err, ErrCodeAssuranceFailed))
		assert.Equal(t, StateActive, ctx.Lifecycle().State())
		assert.True(t, logger.HasMessage("ERROR", "Assurance failed on active lifecycle"))
	})

	t.Run("RemovedAssuranceDoesNotRerun", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", 1)
		ctx := root.Extend("db")
		calls := 0
		off, _ := ctx.Ensure(func() error { calls++; return nil })
		ctx.Lifecycle().Setup()
		off()

		ctx.Lifecycle().Rollback()
		assert.Equal(t, StateActive, ctx.Lifecycle().State())
		assert.Equal(t, 1, calls)
	})

	t.Run("EnsureFromAssuranceRunsInSameSetup", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		inner := 0
		_, _ = ctx.Ensure(func() error {
			_, err := ctx.Ensure(func() error { inner++; return stderrors.New("inner failed") })
			return err
		})
		ctx.Lifecycle().Setup()
		assert.Equal(t, 1, inner)
		assert.Equal(t, StateFailed, ctx.Lifecycle().State(), "errors of assurances added while loading fail the setup")
	})

	t.Run("DependencyLostDuringSetup", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", "conn")
		ctx := root.Extend("db")
		later := false
		_, _ = ctx.Ensure(func() error {
			return root.Set("db", nil)
		})
		_, _ = ctx.Ensure(func() error { later = true; return nil })

		ctx.Lifecycle().Setup()
		assert.Equal(t, StatePending, ctx.Lifecycle().State())
		assert.False(t, later, "setup stops once a re-entrant rollback took over")
	})
}

func TestLifecycle_OnReady(t *testing.T) {
	t.Run("QueuedUntilActive", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend("db")
		calls := 0
		ctx.Lifecycle().OnReady(func() { calls++ })
		ctx.Lifecycle().Setup()
		assert.Equal(t, 0, calls)

		root.Declare("db", 1)
		assert.Equal(t, 1, calls)

		require.NoError(t, root.Set("db", nil))
		require.NoError(t, root.Set("db", 2))
		assert.Equal(t, 1, calls, "ready listeners run once")
	})

	t.Run("LateSubscriberRunsImmediately", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		ctx.Lifecycle().Setup()
		ran := false
		ctx.Lifecycle().OnReady(func() { ran = true })
		assert.True(t, ran)
	})

	t.Run("DroppedByDispose", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend("db")
		ran := false
		ctx.Lifecycle().OnReady(func() { ran = true })
		ctx.Lifecycle().Dispose()
		root.Declare("db", 1)
		assert.False(t, ran)
	})

	t.Run("CancelledHandle", func(t *testing.T) {
		root, _ := newTestTree(t)
		ctx := root.Extend()
		ran := false
		off := ctx.Lifecycle().OnReady(func() { ran = true })
		off()
		ctx.Lifecycle().Setup()
		assert.False(t, ran)
	})
}

func TestLifecycle_Fork(t *testing.T) {
	t.Run("ChildInheritsDependencies", func(t *testing.T) {
		root, _ := newTestTree(t)
		parent := root.Extend("db")
		child := parent.Lifecycle().Fork("child", "cache", "db")
		assert.Equal(t, []string{"db", "cache"}, child.Deps())

		p, ok := child.Parent()
		require.True(t, ok)
		assert.Equal(t, parent.Lifecycle().ID(), p.ID())
		assert.Len(t, parent.Lifecycle().Children(), 1)
	})

	t.Run("ParentDisposalCascades", func(t *testing.T) {
		root, _ := newTestTree(t)
		parent := root.Extend()
		child := parent.Lifecycle().Fork("child")
		grandchild := child.Fork("grandchild")
		child.Setup()
		grandchild.Setup()

		parent.Lifecycle().Dispose()
		assert.Equal(t, StateDisposed, child.State())
		assert.Equal(t, StateDisposed, grandchild.State())
		assert.Equal(t, 1, root.rt.lifecycles.Len(), "only the root lifecycle remains")
	})

	t.Run("ChildDisposalDetaches", func(t *testing.T) {
		root, _ := newTestTree(t)
		parent := root.Extend()
		child := parent.Lifecycle().Fork("child")
		disposals := len(parent.Lifecycle().disposals)

		child.Dispose()
		assert.Empty(t, parent.Lifecycle().Children())
		assert.Len(t, parent.Lifecycle().disposals, disposals-1)
	})

	t.Run("ForkOfDisposedIsDisposed", func(t *testing.T) {
		root, _ := newTestTree(t)
		parent := root.Extend()
		parent.Lifecycle().Dispose()
		child := parent.Lifecycle().Fork("late")
		assert.Equal(t, StateDisposed, child.State())
	})

	t.Run("ParentRollbackDisposesChildren", func(t *testing.T) {
		root, _ := newTestTree(t)
		root.Declare("db", 1)
		parent := root.Extend("db")
		parent.Lifecycle().Setup()
		child := parent.Lifecycle().Fork("child")
		child.Setup()

		require.NoError(t, root.Set("db", nil))
		assert.Equal(t, StatePending, parent.Lifecycle().State())
		assert.Equal(t, StateDisposed, child.State())
	})
}

func TestLifecycleState_String(t *testing.T) {
	names := map[LifecycleState]string{
		StatePending:   "pending",
		StateLoading:   "loading",
		StateActive:    "active",
		StateUnloading: "unloading",
		StateFailed:    "failed",
		StateDisposed:  "disposed",
	}
	for state, name := range names {
		assert.Equal(t, name, state.String())
	}
	assert.Equal(t, "unknown", LifecycleState(99).String())
}

// lifecycle.go: dependency-gated state machine supervising a plugin's life
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"time"

	timecache "github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// LifecycleState represents the state of a Lifecycle.
type LifecycleState int

const (
	// StatePending waits for every dependency to be present.
	StatePending LifecycleState = iota
	// StateLoading is running assurances.
	StateLoading
	// StateActive has run every assurance successfully.
	StateActive
	// StateUnloading is running disposals.
	StateUnloading
	// StateFailed had an assurance fail. Only Retry leaves it.
	StateFailed
	// StateDisposed is terminal.
	StateDisposed
)

// String returns a string representation of the lifecycle state.
func (s LifecycleState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateUnloading:
		return "unloading"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Disposal is a cleanup thunk.
type Disposal func() error

// Assurance is an initialization thunk. Assurances run again after every
// rollback, so they must pair each acquisition with a collected disposal.
type Assurance func() error

type disposalEntry struct {
	fn      Disposal
	async   bool
	removed bool
}

type assuranceEntry struct {
	fn      Assurance
	removed bool
}

type readyEntry struct {
	fn      func()
	removed bool
}

// Lifecycle supervises one unit of functionality.
//
// A lifecycle is ready when every key in Deps is a present service slot.
// Setup runs the assurances once ready; losing a dependency while loading or
// active rolls the lifecycle back to pending and sets it up again as soon
// as the dependencies are back.
//
// Lifecycles are stored in a table shared by a context tree; parent and
// children refer to each other by ID.
type Lifecycle struct {
	id     uuid.UUID
	parent uuid.UUID
	name   string
	deps   []string
	table  *lifecycleTable
	logger Logger

	state      LifecycleState
	generation uint64
	changedAt  time.Time
	err        error
	loadErr    error

	disposals  []*disposalEntry
	assurances []*assuranceEntry
	ready      []*readyEntry
	children   []uuid.UUID
	observers  []*func(from, to LifecycleState)

	// set when Dispose is requested during a rollback
	disposeRequested bool
	// unregisters the parent's disposal of this lifecycle
	detach func()
}

// ID returns the identifier of the lifecycle in its table.
func (l *Lifecycle) ID() uuid.UUID { return l.id }

// Name returns the label used in logs and errors.
func (l *Lifecycle) Name() string { return l.name }

// State returns the current state.
func (l *Lifecycle) State() LifecycleState { return l.state }

// ChangedAt returns the time of the last transition.
func (l *Lifecycle) ChangedAt() time.Time { return l.changedAt }

// Err returns the error of the last failed setup, or nil.
func (l *Lifecycle) Err() error { return l.err }

// Deps returns the dependency keys, including those inherited from the parent.
func (l *Lifecycle) Deps() []string {
	out := make([]string, len(l.deps))
	copy(out, l.deps)
	return out
}

// Children returns the lifecycles forked from l that are not disposed.
func (l *Lifecycle) Children() []*Lifecycle {
	out := make([]*Lifecycle, 0, len(l.children))
	for _, id := range l.children {
		if child, ok := l.table.get(id); ok {
			out = append(out, child)
		}
	}
	return out
}

// Parent returns the lifecycle l was forked from.
func (l *Lifecycle) Parent() (*Lifecycle, bool) {
	return l.table.get(l.parent)
}

// IsReady reports whether every dependency is present.
func (l *Lifecycle) IsReady() bool {
	for _, dep := range l.deps {
		if !l.table.registry.Present(dep) {
			return false
		}
	}
	return true
}

// Missing returns the dependencies that are currently absent.
func (l *Lifecycle) Missing() []string {
	var missing []string
	for _, dep := range l.deps {
		if !l.table.registry.Present(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Setup moves a pending, ready lifecycle through loading to active, or to
// failed if any assurance returns an error. Every assurance is attempted.
// In any other situation Setup does nothing.
func (l *Lifecycle) Setup() {
	if l.state != StatePending || !l.IsReady() {
		return
	}
	l.transition(StateLoading)
	gen := l.generation
	l.loadErr = nil

	for _, a := range snapshotAssurances(l.assurances) {
		if l.generation != gen {
			// rolled back or disposed by one of the assurances
			return
		}
		if a.removed {
			continue
		}
		err := safeCall(a.fn)
		l.loadErr = multierr.Append(l.loadErr, err)
	}
	if l.generation != gen {
		return
	}

	if l.loadErr != nil {
		l.fail(NewAssuranceFailedError(l.name, l.loadErr))
		return
	}
	l.err = nil
	l.transition(StateActive)
	l.flushReady(l.generation)
}

func (l *Lifecycle) fail(err error) {
	l.err = err
	l.loadErr = nil
	l.logger.Error("Lifecycle setup failed", "lifecycle", l.name, "error", err)
	l.ready = nil
	// failed before the disposals run, so a rollback they trigger is ignored
	l.transition(StateFailed)
	l.runDisposals()
}

// Rollback runs every disposal, returns to pending and tries Setup again.
// It does nothing when the lifecycle is failed, unloading or disposed.
func (l *Lifecycle) Rollback() {
	switch l.state {
	case StateFailed, StateUnloading, StateDisposed:
		return
	}
	l.transition(StateUnloading)
	l.ready = nil
	l.runDisposals()

	if l.disposeRequested {
		l.finishDispose()
		return
	}
	l.transition(StatePending)
	l.Setup()
}

// Dispose runs every disposal and makes the lifecycle terminal. Disposal
// errors are logged. Asynchronous disposals are started but not awaited.
// Calling Dispose more than once is a no-op.
func (l *Lifecycle) Dispose() {
	switch l.state {
	case StateDisposed:
		return
	case StateUnloading:
		l.disposeRequested = true
		return
	}
	l.transition(StateUnloading)
	l.ready = nil
	l.assurances = nil
	l.runDisposals()
	l.finishDispose()
}

func (l *Lifecycle) finishDispose() {
	l.disposeRequested = false
	l.assurances = nil
	l.transition(StateDisposed)
	l.observers = nil
	if l.detach != nil {
		l.detach()
		l.detach = nil
	}
	l.table.forget(l)
}

// Retry sets up a failed lifecycle again.
func (l *Lifecycle) Retry() error {
	if l.state != StateFailed {
		return NewNotRetryableError(l.name, l.state)
	}
	l.transition(StatePending)
	l.Setup()
	if l.state == StateFailed {
		return l.err
	}
	return nil
}

// Collect registers a disposal and returns a handle that unregisters it
// before it runs. On a disposed lifecycle the disposal runs immediately.
func (l *Lifecycle) Collect(fn Disposal) func() {
	return l.collect(fn, false)
}

// CollectAsync is Collect for disposals that run in their own goroutine.
// Teardown does not wait for them; their errors are only logged.
func (l *Lifecycle) CollectAsync(fn Disposal) func() {
	return l.collect(fn, true)
}

func (l *Lifecycle) collect(fn Disposal, async bool) func() {
	entry := &disposalEntry{fn: fn, async: async}
	if l.state == StateDisposed {
		l.logger.Warn("Disposal collected by a disposed lifecycle, running it now", "lifecycle", l.name)
		l.runDisposal(entry)
		return func() {}
	}
	l.disposals = append(l.disposals, entry)
	return func() {
		if entry.removed {
			return
		}
		entry.removed = true
		l.disposals = removeEntry(l.disposals, entry)
	}
}

// Ensure registers an assurance. When the lifecycle is already loading or
// active the assurance also runs right away; a failure while active is
// logged and returned.
func (l *Lifecycle) Ensure(fn Assurance) (func(), error) {
	entry := &assuranceEntry{fn: fn}
	if l.state == StateDisposed {
		return func() {}, nil
	}
	l.assurances = append(l.assurances, entry)
	remove := func() {
		if entry.removed {
			return
		}
		entry.removed = true
		l.assurances = removeEntry(l.assurances, entry)
	}

	switch l.state {
	case StateLoading:
		// Setup iterates a snapshot, so run it here and fold the error in.
		err := safeCall(fn)
		l.loadErr = multierr.Append(l.loadErr, err)
	case StateActive:
		if err := safeCall(fn); err != nil {
			l.logger.Error("Assurance failed on active lifecycle", "lifecycle", l.name, "error", err)
			return remove, NewAssuranceFailedError(l.name, err)
		}
	}
	return remove, nil
}

// OnReady runs fn once the lifecycle is active: immediately if it already
// is, otherwise on the next activation. Queued callbacks are dropped by
// rollback, failure and disposal. The handle cancels a queued callback.
func (l *Lifecycle) OnReady(fn func()) func() {
	if l.state == StateActive {
		l.runReady(fn)
		return func() {}
	}
	if l.state == StateDisposed {
		return func() {}
	}
	entry := &readyEntry{fn: fn}
	l.ready = append(l.ready, entry)
	return func() {
		if entry.removed {
			return
		}
		entry.removed = true
		l.ready = removeEntry(l.ready, entry)
	}
}

// OnTransition registers an observer of state changes.
func (l *Lifecycle) OnTransition(fn func(from, to LifecycleState)) func() {
	ref := &fn
	l.observers = append(l.observers, ref)
	return func() {
		l.observers = removeEntry(l.observers, ref)
	}
}

// Fork creates a child lifecycle that depends on l's dependencies plus
// extra. Disposing l disposes the child.
func (l *Lifecycle) Fork(name string, extra ...string) *Lifecycle {
	deps := make([]string, 0, len(l.deps)+len(extra))
	seen := make(map[string]bool, len(l.deps)+len(extra))
	for _, list := range [][]string{l.deps, extra} {
		for _, dep := range list {
			if !seen[dep] {
				seen[dep] = true
				deps = append(deps, dep)
			}
		}
	}

	child := l.table.create(name, deps, l.id)
	if l.state == StateDisposed {
		child.Dispose()
		return child
	}
	l.children = append(l.children, child.id)
	child.detach = l.Collect(func() error {
		child.Dispose()
		return nil
	})
	return child
}

func (l *Lifecycle) transition(to LifecycleState) {
	from := l.state
	l.state = to
	l.generation++
	l.changedAt = timecache.CachedTime()
	l.logger.Debug("Lifecycle transition", "lifecycle", l.name, "from", from.String(), "to", to.String())

	for _, obs := range snapshotObservers(l.observers) {
		fn := *obs
		if err := safeCall(func() error { fn(from, to); return nil }); err != nil {
			l.logger.Error("Lifecycle observer panicked", "lifecycle", l.name, "error", err)
		}
	}
}

func (l *Lifecycle) runDisposals() {
	pending := l.disposals
	l.disposals = nil
	for _, d := range pending {
		if d.removed {
			continue
		}
		d.removed = true
		l.runDisposal(d)
	}
}

func (l *Lifecycle) runDisposal(d *disposalEntry) {
	if d.async {
		safeGo(l.logger.With("lifecycle", l.name), "disposal", d.fn)
		return
	}
	if err := safeCall(d.fn); err != nil {
		l.logger.Warn("Disposal failed", "error", NewDisposalFailedError(l.name, err))
	}
}

func (l *Lifecycle) flushReady(gen uint64) {
	pending := l.ready
	l.ready = nil
	for _, r := range pending {
		if l.generation != gen {
			return
		}
		if r.removed {
			continue
		}
		r.removed = true
		l.runReady(r.fn)
	}
}

func (l *Lifecycle) runReady(fn func()) {
	if err := safeCall(func() error { fn(); return nil }); err != nil {
		l.logger.Error("Ready listener panicked", "lifecycle", l.name, "error", err)
	}
}

// lifecycleTable indexes every live lifecycle of a context tree and drives
// them from registry changes.
type lifecycleTable struct {
	registry *ServiceRegistry
	logger   Logger
	entries  map[uuid.UUID]*Lifecycle
	order    []uuid.UUID
}

func newLifecycleTable(registry *ServiceRegistry, logger Logger) *lifecycleTable {
	return &lifecycleTable{
		registry: registry,
		logger:   logger,
		entries:  make(map[uuid.UUID]*Lifecycle),
	}
}

func (t *lifecycleTable) create(name string, deps []string, parent uuid.UUID) *Lifecycle {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	l := &Lifecycle{
		id:        id,
		parent:    parent,
		name:      name,
		deps:      deps,
		table:     t,
		logger:    t.logger,
		state:     StatePending,
		changedAt: timecache.CachedTime(),
	}
	t.entries[id] = l
	t.order = append(t.order, id)
	return l
}

func (t *lifecycleTable) get(id uuid.UUID) (*Lifecycle, bool) {
	l, ok := t.entries[id]
	return l, ok
}

func (t *lifecycleTable) forget(l *Lifecycle) {
	delete(t.entries, l.id)
	for i, id := range t.order {
		if id == l.id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	if parent, ok := t.entries[l.parent]; ok {
		for i, id := range parent.children {
			if id == l.id {
				parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
				break
			}
		}
	}
}

// Len returns the number of live lifecycles.
func (t *lifecycleTable) Len() int { return len(t.entries) }

// onRuntimeChange rolls back lifecycles that lost key and sets up those
// waiting for it.
func (t *lifecycleTable) onRuntimeChange(key string) {
	present := t.registry.Present(key)
	ids := make([]uuid.UUID, len(t.order))
	copy(ids, t.order)

	for _, id := range ids {
		l, ok := t.entries[id]
		if !ok || !dependsOn(l, key) {
			continue
		}
		switch l.state {
		case StateActive, StateLoading:
			if !present {
				l.logger.Info("Dependency lost, rolling back", "lifecycle", l.name, "dependency", key)
				l.Rollback()
			}
		case StatePending:
			if present {
				l.Setup()
			}
		}
	}
}

func dependsOn(l *Lifecycle, key string) bool {
	for _, dep := range l.deps {
		if dep == key {
			return true
		}
	}
	return false
}

func removeEntry[T comparable](list []T, entry T) []T {
	for i, e := range list {
		if e == entry {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func snapshotAssurances(list []*assuranceEntry) []*assuranceEntry {
	out := make([]*assuranceEntry, len(list))
	copy(out, list)
	return out
}

func snapshotObservers(list []*func(from, to LifecycleState)) []*func(from, to LifecycleState) {
	out := make([]*func(from, to LifecycleState), len(list))
	copy(out, list)
	return out
}

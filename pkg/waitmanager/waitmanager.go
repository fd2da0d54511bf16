// Package waitmanager implements the Waiting-Object Manager: batched,
// signal-interruptible waits for a minimum number of objects among a
// requested set to become ready (or error).
//
// Grounded directly on
// original_source/runtime/src/libruntime/waiting_object_manager.cpp:
// the same batch size (1000ms), the same internal per-wait cap
// (990ms), and the same 10ms inter-batch poll are kept as named
// constants below, and WaitUntilReady follows the same
// batch-then-sleep-then-recheck loop as WaitingObjectManager::WaitUntilReady.
package waitmanager

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/objectstore"
	"github.com/cuemby/nimbus/pkg/types"
)

const (
	// BatchWaitTimeout bounds how long one round of GetWaitResult may
	// block before the manager rechecks cancellation signals.
	BatchWaitTimeout = 1000 * time.Millisecond
	// WaitTimeout is the hard cap applied to any single
	// waitingEntity.wait call, even if the caller asked for longer.
	WaitTimeout = 990 * time.Millisecond
	// WaitInternalTimeout is the sleep between unsuccessful batches.
	WaitInternalTimeout = 10 * time.Millisecond
)

// Result is the outcome of a Wait call: which ids are ready, which
// errored (with cause), and which are still unready when the call
// returns early due to timeout.
type Result struct {
	ReadyIDs     []string
	ExceptionIDs map[string]error
	UnreadyIDs   []string
}

// waitingEntity mirrors WaitingEntity: a one-shot latch that fires
// once readyNum+exceptionNum reaches minReady.
type waitingEntity struct {
	mu           sync.Mutex
	minReady     int
	readyNum     int
	exceptionNum int
	readyIDs     []string
	exceptionIDs map[string]error
	done         chan struct{}
	closed       bool
}

func newWaitingEntity(minReady int) *waitingEntity {
	return &waitingEntity{
		minReady:     minReady,
		exceptionIDs: make(map[string]error),
		done:         make(chan struct{}),
	}
}

func (w *waitingEntity) notifyReady(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readyNum++
	w.readyIDs = append(w.readyIDs, id)
	w.maybeFinish()
}

func (w *waitingEntity) notifyError(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exceptionIDs[id] = err
	w.exceptionNum++
	w.maybeFinish()
}

// maybeFinish must be called with w.mu held.
func (w *waitingEntity) maybeFinish() {
	if !w.closed && w.readyNum+w.exceptionNum >= w.minReady {
		w.closed = true
		close(w.done)
	}
}

func (w *waitingEntity) wait(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
	case <-t.C:
	}
}

func (w *waitingEntity) snapshot() (readyIDs []string, exceptionIDs map[string]error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	readyIDs = append([]string(nil), w.readyIDs...)
	exceptionIDs = make(map[string]error, len(w.exceptionIDs))
	for k, v := range w.exceptionIDs {
		exceptionIDs[k] = v
	}
	return
}

// Manager tracks unready object ids and the waitingEntity objects
// blocked on them, mirroring WaitingObjectManager::unreadyObjectMap.
type Manager struct {
	mu           sync.Mutex
	store        *objectstore.Store
	unreadyIndex map[string][]*waitingEntity

	// CheckSignal, if set, is polled between batches; a non-nil error
	// aborts the wait early with that error attached to every
	// outstanding id (mirrors checkSignals_).
	CheckSignal func() error
}

// New wires a Manager to an object store's ready/error events.
func New(store *objectstore.Store) *Manager {
	m := &Manager{store: store, unreadyIndex: make(map[string][]*waitingEntity)}
	store.OnReady(m.setReady)
	store.OnError(m.setError)
	return m
}

func (m *Manager) setReady(id string) {
	m.mu.Lock()
	waiters := m.unreadyIndex[id]
	delete(m.unreadyIndex, id)
	m.mu.Unlock()
	for _, w := range waiters {
		w.notifyReady(id)
	}
}

func (m *Manager) setError(id string, err error) {
	m.mu.Lock()
	waiters := m.unreadyIndex[id]
	delete(m.unreadyIndex, id)
	m.mu.Unlock()
	for _, w := range waiters {
		w.notifyError(id, err)
	}
}

// getWaitResult is one batch round: partitions ids into already
// ready/errored (checked against the store directly) vs. still
// unready, and if minReady is not already satisfied, blocks on a
// fresh waitingEntity for up to min(currentTimeout, WaitTimeout).
// needReturn mirrors GetWaitResult's bool return.
func (m *Manager) getWaitResult(ids []string, currentTimeout time.Duration, minReady int, lastWait bool) (res Result, needReturn bool) {
	res.ExceptionIDs = make(map[string]error)

	var unready []string
	m.mu.Lock()
	for _, id := range ids {
		obj, err := m.store.Get(id)
		if err != nil {
			res.ExceptionIDs[id] = err
			continue
		}
		switch obj.State {
		case types.ObjectStateReady:
			res.ReadyIDs = append(res.ReadyIDs, id)
		case types.ObjectStateError:
			res.ExceptionIDs[id] = obj.Err
		default:
			unready = append(unready, id)
		}
	}
	if len(res.ReadyIDs)+len(res.ExceptionIDs) >= minReady {
		m.mu.Unlock()
		res.UnreadyIDs = unready
		return res, true
	}

	remaining := minReady - len(res.ReadyIDs) - len(res.ExceptionIDs)
	w := newWaitingEntity(remaining)
	for _, id := range unready {
		m.unreadyIndex[id] = append(m.unreadyIndex[id], w)
	}
	m.mu.Unlock()

	wait := currentTimeout
	if wait > WaitTimeout {
		wait = WaitTimeout
	}
	w.wait(wait)

	readyIDs, exceptionIDs := w.snapshot()
	for k, v := range exceptionIDs {
		res.ExceptionIDs[k] = v
	}
	res.ReadyIDs = append(res.ReadyIDs, readyIDs...)

	needReturn = len(res.ReadyIDs)+len(res.ExceptionIDs) >= minReady
	if needReturn || lastWait {
		readySet := make(map[string]struct{}, len(res.ReadyIDs))
		for _, id := range res.ReadyIDs {
			readySet[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := readySet[id]; ok {
				continue
			}
			if _, ok := res.ExceptionIDs[id]; ok {
				continue
			}
			res.UnreadyIDs = append(res.UnreadyIDs, id)
		}
		return res, needReturn
	}
	return res, false
}

// Wait blocks until at least minReady of ids are ready or errored, or
// timeout elapses (timeout < 0 means wait forever). It mirrors
// WaitingObjectManager::WaitUntilReady's batch loop exactly: each
// round waits at most BatchWaitTimeout, then polls CheckSignal, then
// sleeps WaitInternalTimeout before the next round.
func (m *Manager) Wait(ids []string, minReady int, timeout time.Duration) Result {
	remaining := timeout
	forever := timeout < 0

	for {
		currentTimeout := BatchWaitTimeout
		if !forever && remaining < currentTimeout {
			currentTimeout = remaining
		}
		if !forever {
			remaining -= currentTimeout
		}

		res, needReturn := m.getWaitResult(ids, currentTimeout, minReady, false)
		if needReturn {
			sortStrings(res.ReadyIDs)
			return res
		}

		if m.CheckSignal != nil {
			if err := m.CheckSignal(); err != nil {
				res.ExceptionIDs = make(map[string]error, len(ids))
				for _, id := range ids {
					res.ExceptionIDs[id] = err
				}
				return res
			}
		}

		shouldBreak := !forever && remaining <= 0
		if !shouldBreak {
			time.Sleep(WaitInternalTimeout)
		}
		if shouldBreak {
			res, _ = m.getWaitResult(ids, 0, minReady, true)
			return res
		}
	}
}

func sortStrings(s []string) { sort.Strings(s) }

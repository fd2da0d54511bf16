// Package invokeorder implements the Invoke-Order Manager: per-instance
// sequence assignment and out-of-order completion tracking, so an
// instance's caller can report the highest contiguously-finished
// sequence number on the wire without waiting for strict in-order
// completion.
//
// Grounded directly on
// original_source/runtime/src/libruntime/invoke_order_manager.cpp:
// the same orderingCounter/unfinishedSeqNo bookkeeping and the same
// slide-forward-while-contiguous algorithm in NotifyInvokeSuccess.
package invokeorder

import (
	"sort"
	"sync"
)

// instanceOrder tracks one instance's sequencing state.
type instanceOrder struct {
	mu               sync.Mutex
	orderingCounter  int64
	unfinishedSeqNo  int64
	finishedOutOfOrder map[int64]struct{}
}

func newInstanceOrder() *instanceOrder {
	return &instanceOrder{finishedOutOfOrder: make(map[int64]struct{})}
}

// Manager assigns and tracks invocation sequence numbers per instance.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instanceOrder
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{instances: make(map[string]*instanceOrder)}
}

// RegisterInstance creates sequencing state for a new instance. A
// no-op if the instance is already registered.
func (m *Manager) RegisterInstance(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[instanceID]; !ok {
		m.instances[instanceID] = newInstanceOrder()
	}
}

// RemoveInstance drops an instance's sequencing state entirely,
// mirroring RemoveInstance in the original.
func (m *Manager) RemoveInstance(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}

func (m *Manager) get(instanceID string) *instanceOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	io, ok := m.instances[instanceID]
	if !ok {
		io = newInstanceOrder()
		m.instances[instanceID] = io
	}
	return io
}

// Invoke assigns the next sequence number for an invocation against
// instanceID, mirroring Invoke's post-increment of orderingCounter: the
// first invocation on a freshly registered instance returns 0.
func (m *Manager) Invoke(instanceID string) (seq int64) {
	io := m.get(instanceID)
	io.mu.Lock()
	defer io.mu.Unlock()
	seq = io.orderingCounter
	io.orderingCounter++
	return seq
}

// NotifyInvokeSuccess records that seq finished on instanceID, then
// slides unfinishedSeqNo forward through every contiguous finished
// sequence starting at it — the same algorithm as
// InvokeOrderManager::NotifyInvokeSuccess, matching on
// it->first == unfinishedSeqNo rather than unfinishedSeqNo+1 since
// sequence numbers are 0-based.
func (m *Manager) NotifyInvokeSuccess(instanceID string, seq int64) {
	io := m.get(instanceID)
	io.mu.Lock()
	defer io.mu.Unlock()
	io.finishedOutOfOrder[seq] = struct{}{}
	for {
		if _, ok := io.finishedOutOfOrder[io.unfinishedSeqNo]; !ok {
			break
		}
		delete(io.finishedOutOfOrder, io.unfinishedSeqNo)
		io.unfinishedSeqNo++
	}
}

// UnfinishedSeq returns the sequence number that travels on the wire:
// the lowest seq on instanceID that has not yet completed.
func (m *Manager) UnfinishedSeq(instanceID string) int64 {
	io := m.get(instanceID)
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.unfinishedSeqNo
}

// PendingSeqs returns the finished-but-not-yet-contiguous sequence
// numbers for instanceID, sorted ascending — exposed for diagnostics
// and tests, mirroring the original's finishedUnorderedInvokeSpecs.
func (m *Manager) PendingSeqs(instanceID string) []int64 {
	io := m.get(instanceID)
	io.mu.Lock()
	defer io.mu.Unlock()
	out := make([]int64, 0, len(io.finishedOutOfOrder))
	for seq := range io.finishedOutOfOrder {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearInstance resets one instance's ordering state back to zero,
// mirroring KillInstance/KillGroupInstance/killInstanceSync — used
// when an instance is killed and any in-flight invocations against it
// are abandoned.
func (m *Manager) ClearInstance(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}

// ClearAll resets every instance's ordering state, mirroring
// KillAllInstances.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = make(map[string]*instanceOrder)
}

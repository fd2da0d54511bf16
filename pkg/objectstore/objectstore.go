// Package objectstore implements the Object Store Client: a
// content-addressed reference table with global reference counting
// and one-shot ready/error transitions, consumed by the waiting-object
// manager and the invoke adaptor.
//
// Grounded on the ready/error one-shot model in
// original_source/runtime/.../waiting_object_manager.cpp (SetReady /
// SetError only fire once per id) and on this module's boltdb CRUD
// shape for the persisted ref-count table.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nimbus/pkg/types"
)

// ErrCycle is returned by Put when an object's nested IDs form a
// reference cycle back to itself.
var ErrCycle = errors.New("objectstore: reference cycle detected")

// ErrNotFound is returned when an operation targets an unknown object.
var ErrNotFound = errors.New("objectstore: object not found")

// ErrAlreadySettled is returned by SetReady/SetError when the object
// already transitioned out of Unready.
var ErrAlreadySettled = errors.New("objectstore: object already ready or errored")

// ErrNoOwner is returned by Put when id has a reference count of zero:
// no one has declared ownership yet. Callers must
// IncreaseGlobalReference(id) (directly, or via BindObjRefInReq) before
// Put, the same way a return-object placeholder is referenced by its
// invoking request before the producing invocation fills it in.
var ErrNoOwner = errors.New("objectstore: reference count is 0, no owner declared")

// Store is the in-process object reference table. Production
// deployments back it with a raft-replicated KV (pkg/storage); tests
// and single-node operation use it directly.
type Store struct {
	mu      sync.Mutex
	objects map[string]*types.ObjectRef
	onReady []func(id string)
	onError []func(id string, err error)
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]*types.ObjectRef)}
}

// OnReady registers a callback invoked synchronously whenever SetReady
// settles an object. Used by pkg/waitmanager to wake waiters.
func (s *Store) OnReady(fn func(id string)) { s.onReady = append(s.onReady, fn) }

// OnError registers a callback invoked synchronously whenever SetError
// settles an object.
func (s *Store) OnError(fn func(id string, err error)) { s.onError = append(s.onError, fn) }

// GenerateKey derives a content-addressed object ID from an owning
// instance ID and a monotonic sequence number, matching the
// invoke-order manager's per-instance sequencing.
func GenerateKey(instanceID string, seq int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", instanceID, seq, uuid.NewString())))
	return hex.EncodeToString(h[:16])
}

// Put fills in the unready placeholder for id with nestedIDs (objects
// this one transitively holds references to). Fails with ErrNoOwner if
// id's reference count is 0 — no one has declared ownership, so there
// is nothing to fill in. Returns ErrCycle if id appears in its own
// transitive nested set.
func (s *Store) Put(id string, nestedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok || obj.RefCount == 0 {
		return ErrNoOwner
	}
	if s.hasCycle(id, nestedIDs, map[string]bool{}) {
		return ErrCycle
	}
	obj.State = types.ObjectStateUnready
	obj.NestedIDs = nestedIDs
	return nil
}

func (s *Store) hasCycle(root string, nestedIDs []string, visited map[string]bool) bool {
	for _, n := range nestedIDs {
		if n == root {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		if obj, ok := s.objects[n]; ok && s.hasCycle(root, obj.NestedIDs, visited) {
			return true
		}
	}
	return false
}

// Get returns the current snapshot of an object, or ErrNotFound.
func (s *Store) Get(id string) (*types.ObjectRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *obj
	return &cp, nil
}

// AddReturnObject registers the objects returned by one invocation in
// a single call, wiring each as a nested reference of the invoking
// request's result placeholder when parentID is non-empty.
func (s *Store) AddReturnObject(parentID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.objects[id]; !ok {
			s.objects[id] = &types.ObjectRef{ID: id, State: types.ObjectStateUnready}
		}
	}
	if parentID == "" {
		return nil
	}
	parent, ok := s.objects[parentID]
	if !ok {
		return ErrNotFound
	}
	parent.NestedIDs = append(parent.NestedIDs, ids...)
	return nil
}

// SetReady performs the one-shot unready->ready transition and fires
// OnReady callbacks. Returns ErrAlreadySettled if the object was
// already ready or errored.
func (s *Store) SetReady(id string) error {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if obj.State != types.ObjectStateUnready {
		s.mu.Unlock()
		return ErrAlreadySettled
	}
	obj.State = types.ObjectStateReady
	s.mu.Unlock()

	for _, cb := range s.onReady {
		cb(id)
	}
	return nil
}

// SetError performs the one-shot unready->error transition and fires
// OnError callbacks.
func (s *Store) SetError(id string, cause error) error {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if obj.State != types.ObjectStateUnready {
		s.mu.Unlock()
		return ErrAlreadySettled
	}
	obj.State = types.ObjectStateError
	obj.Err = cause
	s.mu.Unlock()

	for _, cb := range s.onError {
		cb(id, cause)
	}
	return nil
}

// IncreaseGlobalReference bumps an object's reference count, creating
// an unready placeholder if it does not yet exist (a reference can
// arrive before the producing invocation registers the object).
func (s *Store) IncreaseGlobalReference(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		obj = &types.ObjectRef{ID: id, State: types.ObjectStateUnready}
		s.objects[id] = obj
	}
	obj.RefCount++
}

// DecreaseGlobalReference drops an object's reference count and
// deletes it once the count reaches zero, reporting whether deletion
// happened.
func (s *Store) DecreaseGlobalReference(id string) (deleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return false
	}
	obj.RefCount--
	if obj.RefCount <= 0 {
		delete(s.objects, id)
		return true
	}
	return false
}

// BoundRequest tracks which object IDs a pending request holds
// references to, so UnbindObjRefInReq can release them all at once on
// request completion or cancellation.
type BoundRequest struct {
	mu  sync.Mutex
	ids map[string][]string // requestID -> object IDs
}

// NewBoundRequest returns an empty binding tracker.
func NewBoundRequest() *BoundRequest {
	return &BoundRequest{ids: make(map[string][]string)}
}

// BindObjRefInReq increases the global reference count for each id and
// records the binding under requestID.
func (b *BoundRequest) BindObjRefInReq(s *Store, requestID string, ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		s.IncreaseGlobalReference(id)
	}
	b.ids[requestID] = append(b.ids[requestID], ids...)
}

// UnbindObjRefInReq releases every object id bound under requestID and
// forgets the binding.
func (b *BoundRequest) UnbindObjRefInReq(s *Store, requestID string) {
	b.mu.Lock()
	ids := b.ids[requestID]
	delete(b.ids, requestID)
	b.mu.Unlock()
	for _, id := range ids {
		s.DecreaseGlobalReference(id)
	}
}

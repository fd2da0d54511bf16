package objectstore_test

import (
	"errors"
	"testing"

	"github.com/cuemby/nimbus/pkg/objectstore"
	"github.com/stretchr/testify/require"
)

func TestSetReadyIsOneShot(t *testing.T) {
	s := objectstore.New()
	s.IncreaseGlobalReference("o1")
	require.NoError(t, s.Put("o1", nil))
	require.NoError(t, s.SetReady("o1"))
	require.ErrorIs(t, s.SetReady("o1"), objectstore.ErrAlreadySettled)
}

func TestSetErrorFiresCallback(t *testing.T) {
	s := objectstore.New()
	var gotID string
	var gotErr error
	s.OnError(func(id string, err error) { gotID = id; gotErr = err })

	s.IncreaseGlobalReference("o1")
	require.NoError(t, s.Put("o1", nil))
	cause := errors.New("boom")
	require.NoError(t, s.SetError("o1", cause))
	require.Equal(t, "o1", gotID)
	require.Equal(t, cause, gotErr)
}

func TestPutFailsWithoutDeclaredOwner(t *testing.T) {
	s := objectstore.New()
	err := s.Put("o1", nil)
	require.ErrorIs(t, err, objectstore.ErrNoOwner)
}

func TestPutDetectsCycle(t *testing.T) {
	s := objectstore.New()
	for _, id := range []string{"a", "b", "c"} {
		s.IncreaseGlobalReference(id)
	}
	require.NoError(t, s.Put("a", []string{"b"}))
	require.NoError(t, s.Put("b", []string{"c"}))
	err := s.Put("c", []string{"a"})
	require.ErrorIs(t, err, objectstore.ErrCycle)
}

func TestReferenceCountingDeletesAtZero(t *testing.T) {
	s := objectstore.New()
	s.IncreaseGlobalReference("o1")
	s.IncreaseGlobalReference("o1")
	require.False(t, s.DecreaseGlobalReference("o1"))
	require.True(t, s.DecreaseGlobalReference("o1"))
	_, err := s.Get("o1")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestBindAndUnbindRequest(t *testing.T) {
	s := objectstore.New()
	b := objectstore.NewBoundRequest()
	b.BindObjRefInReq(s, "req1", []string{"o1", "o2"})

	obj, err := s.Get("o1")
	require.NoError(t, err)
	require.Equal(t, int64(1), obj.RefCount)

	b.UnbindObjRefInReq(s, "req1")
	_, err = s.Get("o1")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

package waitmanager_test

import (
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/objectstore"
	"github.com/cuemby/nimbus/pkg/waitmanager"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsImmediatelyWhenAlreadyReady(t *testing.T) {
	store := objectstore.New()
	store.IncreaseGlobalReference("o1")
	require.NoError(t, store.Put("o1", nil))
	require.NoError(t, store.SetReady("o1"))

	m := waitmanager.New(store)
	res := m.Wait([]string{"o1"}, 1, time.Second)
	require.Equal(t, []string{"o1"}, res.ReadyIDs)
	require.Empty(t, res.UnreadyIDs)
}

func TestWaitUnblocksWhenObjectBecomesReady(t *testing.T) {
	store := objectstore.New()
	store.IncreaseGlobalReference("o1")
	require.NoError(t, store.Put("o1", nil))
	m := waitmanager.New(store)

	go func() {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, store.SetReady("o1"))
	}()

	res := m.Wait([]string{"o1"}, 1, 2*time.Second)
	require.Equal(t, []string{"o1"}, res.ReadyIDs)
}

func TestWaitTimesOutWithPartialResults(t *testing.T) {
	store := objectstore.New()
	store.IncreaseGlobalReference("o1")
	store.IncreaseGlobalReference("o2")
	require.NoError(t, store.Put("o1", nil))
	require.NoError(t, store.Put("o2", nil))
	require.NoError(t, store.SetReady("o1"))

	m := waitmanager.New(store)
	res := m.Wait([]string{"o1", "o2"}, 2, 50*time.Millisecond)
	require.Equal(t, []string{"o1"}, res.ReadyIDs)
	require.Equal(t, []string{"o2"}, res.UnreadyIDs)
}

func TestWaitPropagatesSignalError(t *testing.T) {
	store := objectstore.New()
	store.IncreaseGlobalReference("o1")
	require.NoError(t, store.Put("o1", nil))
	m := waitmanager.New(store)
	m.CheckSignal = func() error { return errCancelled }

	res := m.Wait([]string{"o1"}, 1, 2*time.Second)
	require.ErrorIs(t, res.ExceptionIDs["o1"], errCancelled)
}

var errCancelled = cancelledError{}

type cancelledError struct{}

func (cancelledError) Error() string { return "cancelled" }

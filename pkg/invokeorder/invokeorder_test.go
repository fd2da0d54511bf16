package invokeorder_test

import (
	"testing"

	"github.com/cuemby/nimbus/pkg/invokeorder"
	"github.com/stretchr/testify/require"
)

func TestInvokeAssignsMonotonicSeq(t *testing.T) {
	m := invokeorder.New()
	require.Equal(t, int64(0), m.Invoke("i1"))
	require.Equal(t, int64(1), m.Invoke("i1"))
	require.Equal(t, int64(0), m.Invoke("i2"))
}

func TestNotifyInvokeSuccessSlidesForwardOnlyWhileContiguous(t *testing.T) {
	m := invokeorder.New()
	for i := 0; i < 3; i++ {
		m.Invoke("i1")
	}
	m.NotifyInvokeSuccess("i1", 1)
	require.Equal(t, int64(0), m.UnfinishedSeq("i1"))
	require.Equal(t, []int64{1}, m.PendingSeqs("i1"))

	m.NotifyInvokeSuccess("i1", 0)
	require.Equal(t, int64(2), m.UnfinishedSeq("i1"))
	require.Empty(t, m.PendingSeqs("i1"))

	m.NotifyInvokeSuccess("i1", 2)
	require.Equal(t, int64(3), m.UnfinishedSeq("i1"))
}

func TestClearInstanceResetsState(t *testing.T) {
	m := invokeorder.New()
	m.Invoke("i1")
	m.NotifyInvokeSuccess("i1", 0)
	m.ClearInstance("i1")
	require.Equal(t, int64(0), m.UnfinishedSeq("i1"))
	require.Equal(t, int64(0), m.Invoke("i1"))
}

func TestClearAllResetsEveryInstance(t *testing.T) {
	m := invokeorder.New()
	m.Invoke("i1")
	m.Invoke("i2")
	m.ClearAll()
	require.Equal(t, int64(0), m.Invoke("i1"))
	require.Equal(t, int64(0), m.Invoke("i2"))
}

package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile(t *testing.T) {
	assert.Equal(t, 5, Reconcile(4, 1))
	assert.Equal(t, 0, Reconcile(0, 0))
	assert.Equal(t, 0, Reconcile(-3, 1))
}

func TestUnreadPushUntilNextPull(t *testing.T) {
	var u UnreadCounter
	u.ApplyPull(4)
	u.ApplyPush()
	assert.Equal(t, 5, u.Count())

	u.ApplyPull(3)
	assert.Equal(t, 3, u.Count(), "pull is authoritative")

	u.ApplyPush()
	u.ApplyPush()
	assert.Equal(t, 5, u.Count())
}

func TestUnreadMarkedRead(t *testing.T) {
	var u UnreadCounter
	u.ApplyPull(2)
	u.ApplyPush()
	u.MarkedRead(2)
	assert.Equal(t, 1, u.Count())

	u.MarkedRead(10)
	assert.Equal(t, 0, u.Count())

	u.MarkedRead(-1)
	assert.Equal(t, 0, u.Count())
}

func TestUnreadLabel(t *testing.T) {
	var u UnreadCounter
	assert.Equal(t, "", u.Label(9))

	u.ApplyPull(9)
	assert.Equal(t, "9", u.Label(9))

	u.ApplyPush()
	assert.Equal(t, "9+", u.Label(9))
	assert.Equal(t, 10, u.Count(), "label does not change the count")
	assert.Equal(t, "10", u.Label(0))
}

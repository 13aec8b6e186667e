package chatclient

import "strconv"

// Reconcile is the displayed unread count: the last pull is authoritative,
// pushes observed since then are added on top.
func Reconcile(lastPull, pushesSinceLastPull int) int {
	n := lastPull + pushesSinceLastPull
	if n < 0 {
		return 0
	}
	return n
}

// UnreadCounter merges the periodic pull with pushed message events.
// A push never decrements; only MarkedRead and a fresh pull do.
type UnreadCounter struct {
	lastPull int
	pushes   int
}

func (u *UnreadCounter) Count() int { return Reconcile(u.lastPull, u.pushes) }

// ApplyPull overwrites the count with the server's answer.
func (u *UnreadCounter) ApplyPull(n int) {
	if n < 0 {
		n = 0
	}
	u.lastPull = n
	u.pushes = 0
}

func (u *UnreadCounter) ApplyPush() { u.pushes++ }

// MarkedRead subtracts k messages the user just read, never below zero.
func (u *UnreadCounter) MarkedRead(k int) {
	if k <= 0 {
		return
	}
	n := u.Count() - k
	if n < 0 {
		n = 0
	}
	u.lastPull = n
	u.pushes = 0
}

// Label renders the badge: empty at zero, "<limit>+" above limit.
func (u *UnreadCounter) Label(limit int) string {
	n := u.Count()
	switch {
	case n <= 0:
		return ""
	case limit > 0 && n > limit:
		return strconv.Itoa(limit) + "+"
	default:
		return strconv.Itoa(n)
	}
}

package entity

import "sync/atomic"

// LockToken stands in for "thread identity" in the reentrant lock contract.
// Go exposes no goroutine-id primitive, so callers that need reentrant
// exclusive access obtain one LockToken per goroutine with NewLockToken and
// thread it through every Lock/Unlock/RLock/RUnlock call on that goroutine.
// Reusing the zero value is never valid; it is reserved for "no holder".
type LockToken uint64

var lockTokenSeq uint64

// NewLockToken mints a fresh, process-unique LockToken. Call once per
// goroutine that will hold entity locks and keep the result for the
// lifetime of that goroutine's critical sections.
func NewLockToken() LockToken {
	return LockToken(atomic.AddUint64(&lockTokenSeq, 1))
}

// noLockToken is the zero LockToken, meaning "no holder": the lock rejects
// it and it never satisfies the exclusive-lock check. Mutating without a
// held lock is done through restore mode (Header.SetRestoreMode), which
// also suppresses listener fan-out; any token is accepted while it is on.
const noLockToken LockToken = 0

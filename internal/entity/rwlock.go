package entity

import "sync"

// rwlock is a reentrant shared/exclusive lock: sync.RWMutex is not
// reentrant and Go exposes no goroutine-id primitive,
// so a caller-supplied LockToken stands in for thread identity. A small
// mutex-protected sidecar tracks the current exclusive holder and the
// inner write/read counts; the real RWMutex is only touched at the
// outermost boundary.
type rwlock struct {
	sidecar sync.Mutex
	real    sync.RWMutex

	holder     LockToken
	writeDepth int
	readDepth  int // shared acquires made by the writer-holder's own goroutine
}

func (l *rwlock) holds(token LockToken) bool {
	l.sidecar.Lock()
	defer l.sidecar.Unlock()
	return token != noLockToken && l.holder == token && l.writeDepth > 0
}

// lock acquires the exclusive lock. If token already holds it, this is a
// reentrant acquire: the real lock is not touched again and the inner
// count is incremented.
func (l *rwlock) lock(token LockToken) error {
	if token == noLockToken {
		return newErr(ErrWrongLock, "Lock requires a non-zero LockToken")
	}
	l.sidecar.Lock()
	if l.holder == token && l.writeDepth > 0 {
		l.writeDepth++
		l.sidecar.Unlock()
		return nil
	}
	l.sidecar.Unlock()

	l.real.Lock()

	l.sidecar.Lock()
	l.holder = token
	l.writeDepth = 1
	l.sidecar.Unlock()
	return nil
}

// unlockReportOutermost releases one level of exclusive hold, reporting
// whether this release was the outermost one (and therefore the point at
// which fan-out and the real unlock happen).
func (l *rwlock) unlockReportOutermost(token LockToken) (bool, error) {
	l.sidecar.Lock()
	if l.holder != token || l.writeDepth == 0 {
		l.sidecar.Unlock()
		return false, newErr(ErrWrongLock, "Unlock called without holding the exclusive lock")
	}
	l.writeDepth--
	outermost := l.writeDepth == 0
	if outermost {
		l.holder = noLockToken
	}
	l.sidecar.Unlock()

	if outermost {
		l.real.Unlock()
	}
	return outermost, nil
}

// rlock acquires the shared lock. A goroutine that already holds the
// exclusive lock may also acquire shared without blocking; the acquire is
// simply counted against the sidecar instead of the real RWMutex.
func (l *rwlock) rlock(token LockToken) error {
	l.sidecar.Lock()
	if token != noLockToken && l.holder == token && l.writeDepth > 0 {
		l.readDepth++
		l.sidecar.Unlock()
		return nil
	}
	l.sidecar.Unlock()

	l.real.RLock()
	return nil
}

func (l *rwlock) runlock(token LockToken) error {
	l.sidecar.Lock()
	if token != noLockToken && l.holder == token && l.writeDepth > 0 && l.readDepth > 0 {
		l.readDepth--
		l.sidecar.Unlock()
		return nil
	}
	l.sidecar.Unlock()

	l.real.RUnlock()
	return nil
}

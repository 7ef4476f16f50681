package api

import (
	"sync"
)

// formGuard rejects a second submission of the same form from the same tab
// while the first is in flight. Different forms are independent.
type formGuard struct {
	locks sync.Map
}

func formKey(visitorID, sessionID, form string) string {
	return visitorID + ":" + sessionID + ":" + form
}

// tryLock returns an unlock function, or false when the form is busy.
//
// Only the mutex currently stored under the key counts. A caller that locked
// a mutex already removed by a finished submission drops it and tries again.
func (g *formGuard) tryLock(visitorID, sessionID, form string) (func(), bool) {
	key := formKey(visitorID, sessionID, form)
	for {
		lock, _ := g.locks.LoadOrStore(key, &sync.Mutex{})
		mutex := lock.(*sync.Mutex)
		if !mutex.TryLock() {
			return nil, false
		}
		if current, ok := g.locks.Load(key); ok && current == lock {
			return func() {
				g.locks.Delete(key)
				mutex.Unlock()
			}, true
		}
		mutex.Unlock()
	}
}

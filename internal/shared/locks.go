package shared

import "sync"

var collectionLocks sync.Map

// LockCollection serialises read-modify-write cycles on one stored collection
// within this process. Call the returned func to release.
func LockCollection(key string) (unlock func()) {
	v, _ := collectionLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

package executor

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Per-canonical-path reader-writer locks. The map mutex is held only for
// lookup and insert; the returned lock is held across file I/O. Locks are
// process-wide so two executors editing the same file arbitrate correctly.
var (
	fileLocksMu sync.Mutex
	fileLocks   = make(map[string]*sync.RWMutex)
)

// fileLock returns the shared lock for a canonical path, creating it on
// first use.
func fileLock(canonicalPath string) *sync.RWMutex {
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	if l, ok := fileLocks[canonicalPath]; ok {
		return l
	}
	l := &sync.RWMutex{}
	fileLocks[canonicalPath] = l
	return l
}

// contentHash is a fast non-cryptographic hash used for change detection
// in the optimistic-concurrency write path.
func contentHash(content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("%016x", h.Sum64())
}

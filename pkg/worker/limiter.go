package worker

import "sync"

// UploadLimiter caps the inflight chunks of each upload so one client
// cannot starve the pool. The hard cap takes priority over the fair-share
// cap when both would reject.
type UploadLimiter struct {
	mu       sync.Mutex
	inflight map[string]int
	hardCap  int
	fairCap  int
}

// NewUploadLimiter builds a limiter with a hard and a fair-share cap.
func NewUploadLimiter(hardCap, fairCap int) *UploadLimiter {
	return &UploadLimiter{
		inflight: make(map[string]int),
		hardCap:  hardCap,
		fairCap:  fairCap,
	}
}

// Acquire claims an inflight slot for uploadID or returns a ThrottleError.
func (l *UploadLimiter) Acquire(uploadID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.inflight[uploadID]
	if n >= l.hardCap {
		return &ThrottleError{Reason: ReasonUploadInflight}
	}
	if n >= l.fairCap {
		return &ThrottleError{Reason: ReasonUploadFairShare}
	}
	l.inflight[uploadID] = n + 1
	return nil
}

// Release gives back a slot claimed by Acquire.
func (l *UploadLimiter) Release(uploadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.inflight[uploadID]; n <= 1 {
		delete(l.inflight, uploadID)
	} else {
		l.inflight[uploadID] = n - 1
	}
}

// Inflight reports the current slot count of an upload.
func (l *UploadLimiter) Inflight(uploadID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[uploadID]
}

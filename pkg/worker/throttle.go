// Package worker provides the bounded, resizable pool executing chunk
// persistence, the per-upload admission limiter, and the autoscaler that
// resizes the pool from queue depth and utilization.
package worker

// Throttle reasons, surfaced verbatim in the X-RateLimit-Reason header.
const (
	ReasonQueueFull       = "queue_full"
	ReasonGlobalInflight  = "global_inflight_limit"
	ReasonUploadInflight  = "upload_inflight_limit"
	ReasonUploadFairShare = "upload_fair_share_limit"
)

// ThrottleError reports which admission tier rejected a chunk submission.
type ThrottleError struct {
	Reason string
}

func (e *ThrottleError) Error() string {
	return "chunk admission rejected: " + e.Reason
}

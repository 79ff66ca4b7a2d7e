package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadLimiterFairShareThenHardCap(t *testing.T) {
	l := NewUploadLimiter(4, 2)

	require.NoError(t, l.Acquire("u1"))
	require.NoError(t, l.Acquire("u1"))

	err := l.Acquire("u1")
	var throttle *ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, ReasonUploadFairShare, throttle.Reason)

	// Other uploads are unaffected.
	require.NoError(t, l.Acquire("u2"))

	l.Release("u1")
	require.NoError(t, l.Acquire("u1"))
}

func TestUploadLimiterHardCapPriority(t *testing.T) {
	// hard cap below fair share: the hard cap reason wins
	l := NewUploadLimiter(0, 2)
	err := l.Acquire("u1")
	var throttle *ThrottleError
	require.ErrorAs(t, err, &throttle)
	assert.Equal(t, ReasonUploadInflight, throttle.Reason)
}

func TestUploadLimiterRelease(t *testing.T) {
	l := NewUploadLimiter(8, 8)
	require.NoError(t, l.Acquire("u1"))
	require.NoError(t, l.Acquire("u1"))
	assert.Equal(t, 2, l.Inflight("u1"))
	l.Release("u1")
	l.Release("u1")
	assert.Equal(t, 0, l.Inflight("u1"))
}

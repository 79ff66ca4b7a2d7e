package worker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testScaler(pool *Pool) *Autoscaler {
	return NewAutoscaler(pool, AutoscalerConfig{
		MinWorkers:      2,
		MaxWorkers:      8,
		Cooldown:        time.Second,
		UpQueue:         1,
		UpUtilization:   0.8,
		DownUtilization: 0.2,
	}, zerolog.Nop())
}

func TestAutoscalerDecide(t *testing.T) {
	a := testScaler(nil)

	cases := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"scale up under pressure", Snapshot{Queued: 3, Inflight: 4, Workers: 4}, 5},
		{"respects max workers", Snapshot{Queued: 3, Inflight: 8, Workers: 8}, 8},
		{"scale down when idle", Snapshot{Queued: 0, Inflight: 0, Workers: 4}, 3},
		{"respects min workers", Snapshot{Queued: 0, Inflight: 0, Workers: 2}, 2},
		{"steady under moderate load", Snapshot{Queued: 0, Inflight: 2, Workers: 4}, 4},
		{"no scale up when queue empty", Snapshot{Queued: 0, Inflight: 4, Workers: 4}, 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, a.Decide(tc.snap), tc.name)
	}
}

func TestAutoscalerEvaluateResizesPool(t *testing.T) {
	pool := NewPool(2, 64, 64, nil)
	defer pool.Close()
	a := testScaler(pool)

	// Idle pool at min workers stays put.
	assert.Equal(t, 2, a.Evaluate())
	assert.Equal(t, 2, pool.Snapshot().Workers)
}

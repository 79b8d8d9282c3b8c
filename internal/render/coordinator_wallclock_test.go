package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wallClockCoordinator(t *testing.T) (*Coordinator, *syncBuffer) {
	t.Helper()
	if testing.Short() {
		t.Skip("wall-clock timing test")
	}
	log, buf := testLogger()
	coord := NewCoordinator(&fakeChannel{}, Config{Log: log})
	t.Cleanup(coord.Close)
	return coord, buf
}

func TestWallClockStall(t *testing.T) {
	coord, _ := wallClockCoordinator(t)

	start := time.Now()
	h := coord.Submit(context.Background(), request("wall-stall"), Options{Timeout: 100 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.Wait(ctx)
	elapsed := time.Since(start)

	require.True(t, IsStalled(err), "got %v", err)
	assert.Contains(t, err.Error(), "wall-stall")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWallClockHeartbeat(t *testing.T) {
	coord, _ := wallClockCoordinator(t)

	h := coord.Submit(context.Background(), request("wall-beat"), Options{Timeout: 100 * time.Millisecond})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(400 * time.Millisecond)
	pct := 0.0
beat:
	for {
		select {
		case <-ticker.C:
			pct += 10
			coord.Deliver(progress("wall-beat", min(pct, 100)))
		case <-deadline:
			break beat
		}
	}

	select {
	case <-h.Done():
		_, err := h.Wait(context.Background())
		t.Fatalf("operation resolved despite heartbeats: %v", err)
	default:
	}

	coord.Deliver(success("wall-beat", "/out/wall-beat"))
	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/out/wall-beat", res.OutputPath)
}

func TestWallClockLateResultDropped(t *testing.T) {
	coord, logs := wallClockCoordinator(t)

	h := coord.Submit(context.Background(), request("wall-late"), Options{Timeout: 30 * time.Millisecond})
	_, err := h.Wait(context.Background())
	require.True(t, IsStalled(err))

	coord.Deliver(success("wall-late", "/out/late"))

	_, again := h.Wait(context.Background())
	assert.Same(t, err, again)
	assert.Contains(t, logs.String(), "dropping stale render event")
}

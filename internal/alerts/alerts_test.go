// ABOUTME: Tests for alert debouncing and outage/recovery pairing
// ABOUTME: Uses a recording notifier to observe delivery

package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestAlerterLifecycle(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewAlerter(rec, nil)
	ctx := context.Background()

	a.Startup(ctx, "grimoire-gateway", "1.0.0")
	a.Shutdown(ctx, "grimoire-gateway")

	require.Equal(t, 2, rec.count())
	assert.Contains(t, rec.texts[0], "started")
	assert.Contains(t, rec.texts[1], "shutting down")
}

func TestAlerterDebouncesOutages(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewAlerter(rec, nil)
	ctx := context.Background()
	outage := errors.New("connection refused")

	a.StoreOutage(ctx, outage)
	a.StoreOutage(ctx, outage)
	a.StoreOutage(ctx, outage)

	assert.Equal(t, 1, rec.count(), "repeated outage reports inside the window must be suppressed")
}

func TestAlerterOutageReAlertsAfterWindow(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewAlerter(rec, nil)
	a.debounce = 10 * time.Millisecond
	ctx := context.Background()
	outage := errors.New("connection refused")

	a.StoreOutage(ctx, outage)
	time.Sleep(20 * time.Millisecond)
	a.StoreOutage(ctx, outage)

	assert.Equal(t, 2, rec.count())
}

func TestAlerterRecovery(t *testing.T) {
	rec := &recordingNotifier{}
	a := NewAlerter(rec, nil)
	ctx := context.Background()

	t.Run("recovery without outage is silent", func(t *testing.T) {
		a.StoreRecovered(ctx)
		assert.Equal(t, 0, rec.count())
	})

	t.Run("recovery after outage fires and resets", func(t *testing.T) {
		a.StoreOutage(ctx, errors.New("down"))
		a.StoreRecovered(ctx)
		require.Equal(t, 2, rec.count())
		assert.Contains(t, rec.texts[1], "recovered")

		// A new outage after recovery alerts immediately again.
		a.StoreOutage(ctx, errors.New("down again"))
		assert.Equal(t, 3, rec.count())
	})
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), "hello"))
}

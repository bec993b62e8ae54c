// ABOUTME: Operator alerting for gateway lifecycle and session store outages
// ABOUTME: Notifier interface with slog and Matrix implementations, outage alerts debounced

package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers operator-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogNotifier writes alerts to the structured log. It is the default when
// no external delivery channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "alerts")}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.logger.Warn("alert", "text", text)
	return nil
}

// defaultDebounce suppresses repeated store-outage alerts within the window.
const defaultDebounce = 5 * time.Minute

// Alerter raises gateway alerts through a Notifier. Store-outage alerts
// are debounced so a flapping backend does not flood the channel; a
// recovery alert resets the window.
type Alerter struct {
	notifier Notifier
	logger   *slog.Logger
	debounce time.Duration

	mu          sync.Mutex
	outageSince time.Time
	lastAlert   time.Time
}

// NewAlerter creates an Alerter delivering through the given notifier.
func NewAlerter(notifier Notifier, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Alerter{
		notifier: notifier,
		logger:   logger.With("component", "alerts"),
		debounce: defaultDebounce,
	}
}

// Startup announces the gateway coming up.
func (a *Alerter) Startup(ctx context.Context, name, version string) {
	a.send(ctx, fmt.Sprintf("🟢 %s %s started", name, version))
}

// Shutdown announces a clean shutdown.
func (a *Alerter) Shutdown(ctx context.Context, name string) {
	a.send(ctx, fmt.Sprintf("🔴 %s shutting down", name))
}

// StoreOutage reports the session store unreachable. Repeated reports
// inside the debounce window are suppressed.
func (a *Alerter) StoreOutage(ctx context.Context, err error) {
	a.mu.Lock()
	now := time.Now()
	if a.outageSince.IsZero() {
		a.outageSince = now
	}
	if !a.lastAlert.IsZero() && now.Sub(a.lastAlert) < a.debounce {
		a.mu.Unlock()
		return
	}
	a.lastAlert = now
	a.mu.Unlock()

	a.send(ctx, fmt.Sprintf("⚠️ session store unreachable, admissions failing closed: %v", err))
}

// StoreRecovered reports the session store healthy again. It only fires
// after a reported outage, and resets the debounce window.
func (a *Alerter) StoreRecovered(ctx context.Context) {
	a.mu.Lock()
	if a.outageSince.IsZero() {
		a.mu.Unlock()
		return
	}
	since := a.outageSince
	a.outageSince = time.Time{}
	a.lastAlert = time.Time{}
	a.mu.Unlock()

	a.send(ctx, fmt.Sprintf("✅ session store recovered after %s", time.Since(since).Round(time.Second)))
}

// SessionRevoked reports an operator-initiated revocation.
func (a *Alerter) SessionRevoked(ctx context.Context, sessionID, orgID string) {
	a.send(ctx, fmt.Sprintf("✂️ session %s (org %s) revoked", sessionID, orgID))
}

func (a *Alerter) send(ctx context.Context, text string) {
	if err := a.notifier.Notify(ctx, text); err != nil {
		a.logger.Warn("alert delivery failed", "error", err)
	}
}

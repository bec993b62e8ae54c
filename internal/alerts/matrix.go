// ABOUTME: Matrix-backed alert delivery via mautrix
// ABOUTME: Sends alert text to a configured operations room

package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig holds the Matrix delivery settings.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// MatrixNotifier delivers alerts to a Matrix room.
type MatrixNotifier struct {
	client *mautrix.Client
	roomID id.RoomID
	logger *slog.Logger
}

// NewMatrixNotifier creates a Matrix notifier. The client connects lazily;
// a bad homeserver URL surfaces here, auth failures surface on first send.
func NewMatrixNotifier(cfg MatrixConfig, logger *slog.Logger) (*MatrixNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MatrixNotifier{
		client: client,
		roomID: id.RoomID(cfg.RoomID),
		logger: logger.With("component", "matrix-alerts"),
	}, nil
}

// Notify sends the alert text to the configured room.
func (n *MatrixNotifier) Notify(ctx context.Context, text string) error {
	if _, err := n.client.SendText(ctx, n.roomID, text); err != nil {
		return fmt.Errorf("sending to %s: %w", n.roomID, err)
	}
	n.logger.Debug("alert delivered", "room", n.roomID)
	return nil
}

// ABOUTME: Wrapper around one connected WebSocket peer with serialized writes.
// ABOUTME: Carries a per-connection id so both sides of a relay session correlate in logs.

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// closeWriteTimeout bounds the close-frame write when rejecting or tearing
// down a peer.
const closeWriteTimeout = time.Second

// peer is one occupied connection slot: either the controller or the agent.
type peer struct {
	id     string
	role   string
	conn   *websocket.Conn
	logger *slog.Logger

	// The websocket package allows one concurrent writer; both the read
	// loop and pending-response goroutines write.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newPeer(role string, conn *websocket.Conn, logger *slog.Logger) *peer {
	id := uuid.New().String()
	return &peer{
		id:     id,
		role:   role,
		conn:   conn,
		logger: logger.With("conn_id", id, "role", role),
	}
}

// writeJSON marshals v and sends it as one text frame.
func (p *peer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", p.role, err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame with the given code and reason, then tears
// down the underlying connection. Safe to call more than once.
func (p *peer) closeWith(code int, reason string) {
	p.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(closeWriteTimeout)
		if err := p.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			p.logger.Debug("writing close frame", "error", err)
		}
		_ = p.conn.Close()
	})
}

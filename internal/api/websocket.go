package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/readmodel"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type snapshotMessage struct {
	Type        string           `json:"type"`
	Earthquakes []models.Payload `json:"earthquakes"`
}

type eventMessage struct {
	Type       string         `json:"type"`
	Earthquake models.Payload `json:"earthquake"`
}

// streamEarthquakes sends the last 24 hours of events on connect and again
// whenever the client sends a message, and pushes every newly stored event in
// between.
func (h *Handler) streamEarthquakes(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, events := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)
	slog.Info("websocket client connected", "subscriber_id", id, "remote", c.Request.RemoteAddr)

	// Only this goroutine reads; all writes happen in the loop below.
	requests := make(chan struct{}, 1)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			select {
			case requests <- struct{}{}:
			default:
			}
		}
	}()

	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.sendSnapshot(ctx, conn); err != nil {
		slog.Warn("websocket snapshot failed", "subscriber_id", id, "error", err)
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			slog.Info("websocket client disconnected", "subscriber_id", id)
			return
		case <-requests:
			if err := h.sendSnapshot(ctx, conn); err != nil {
				slog.Warn("websocket snapshot failed", "subscriber_id", id, "error", err)
				return
			}
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(eventMessage{Type: "new_earthquake", Earthquake: e.Payload()}); err != nil {
				slog.Warn("websocket write failed", "subscriber_id", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	recent, err := h.views.Recent(ctx, readmodel.RecentQuery{Window: readmodel.DefaultRecentWindow})
	if err != nil {
		// Keep the stream open; the client still gets live events.
		slog.Warn("error loading websocket snapshot", "error", err)
		recent = []models.Payload{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(snapshotMessage{Type: "snapshot", Earthquakes: recent})
}

package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Waiting-room displays and the status page are served from
		// other origins.
		return true
	},
}

// handleWS streams queue snapshots to a display or status page. The
// connection is read-only for the client; an initial snapshot is sent
// on connect so a fresh display does not wait for the next transition.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 8)}
	h.hub.Register(client)

	if snapshot, err := h.queue.Snapshot(r.Context(), ""); err == nil {
		if payload, err := json.Marshal(snapshot); err == nil {
			select {
			case client.Send <- payload:
			default:
			}
		}
	}

	go h.writePump(client, conn)
	go h.readPump(client, conn)
}

func (h *Handler) writePump(client *hub.Client, conn *websocket.Conn) {
	for message := range client.Send {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
	_ = conn.Close()
}

func (h *Handler) readPump(client *hub.Client, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

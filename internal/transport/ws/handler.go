// Package ws exposes the two websocket surfaces of a room: the command
// channel carrying JSON envelopes, and per-section document channels
// carrying opaque binary CRDT frames.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"coscribe/internal/crdtdoc"
	"coscribe/internal/room"
)

// Handler serves websocket upgrades for rooms and section documents.
type Handler struct {
	hub      *room.Hub
	docs     *crdtdoc.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler. allowedOrigins mirrors the
// CORS configuration; "*" (or an empty list) admits any origin.
func NewHandler(hub *room.Hub, docs *crdtdoc.Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &Handler{
		hub:    hub,
		docs:   docs,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// RoomSocket handles `GET /ws/rooms/{roomID}`: the JSON command channel.
// Text frames are handed to the room coordinator in arrival order; binary
// frames do not belong on this socket and are ignored.
func (h *Handler) RoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	c := newClient(conn, h.logger)
	rm, err := h.hub.Attach(r.Context(), roomID, c)
	if err != nil {
		h.logger.Error("room activation failed", "room_id", roomID, "error", err)
		c.close()
		return
	}
	h.logger.Info("connection joined room", "room_id", roomID, "conn_id", c.ID())

	defer func() {
		rm.Detach(c.ID())
		c.close()
		h.logger.Info("connection left room", "room_id", roomID, "conn_id", c.ID())
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		rm.Submit(c.ID(), data)
	}
}

// SectionSocket handles `GET /ws/rooms/{roomID}/sections/{sectionID}`: the
// binary CRDT channel for one section's prose. The subscriber is seeded
// with the current snapshot; afterwards its frames feed the server replica
// and relay to the section's other subscribers. The coordinator never sees
// this traffic.
func (h *Handler) SectionSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	sectionID := r.PathValue("sectionID")
	if roomID == "" || sectionID == "" {
		http.Error(w, "room and section ids required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		return
	}

	c := newClient(conn, h.logger)
	doc, err := h.docs.Open(r.Context(), roomID, sectionID)
	if err != nil {
		h.logger.Error("document open failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		c.close()
		return
	}
	if err := doc.Subscribe(c.ID(), c); err != nil {
		h.logger.Error("document subscribe failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		c.close()
		return
	}

	defer func() {
		doc.Unsubscribe(c.ID())
		c.close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := doc.HandleFrame(c.ID(), data); err != nil {
			// Frames are best-effort; a bad batch is logged and the
			// stream stays open.
			h.logger.Debug("document frame rejected",
				"room_id", roomID, "section_id", sectionID, "error", err)
		}
	}
}

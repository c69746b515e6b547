// Package handler holds the REST surface. Real-time traffic goes over the
// websocket routes in transport/ws; these endpoints exist for reads that do
// not need a live connection, and for triggering semantic analysis.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"coscribe/internal/analysis"
	"coscribe/internal/crdtdoc"
	"coscribe/internal/httputil"
	"coscribe/internal/models"
	"coscribe/internal/room"
)

type Handler struct {
	hub      *room.Hub
	docs     *crdtdoc.Registry
	analysis *analysis.Client
	logger   *slog.Logger
}

// New creates the REST handler. analysisClient may be nil when no analysis
// service is configured; the analysis endpoint then returns 503.
func New(hub *room.Hub, docs *crdtdoc.Registry, analysisClient *analysis.Client, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		docs:     docs,
		analysis: analysisClient,
		logger:   logger,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetRoomState handles GET /api/rooms/{roomID}. A live room answers from
// its coordinator, an inactive one from the store.
func (h *Handler) GetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	state, err := h.hub.StateSnapshot(r.Context(), roomID)
	if errors.Is(err, models.ErrNotFound) {
		httputil.RespondError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("room state fetch failed", "room_id", roomID, "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "failed to load room state")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, state)
}

// GetSectionText handles GET /api/rooms/{roomID}/sections/{sectionID}/text.
// The text is the server replica's current materialization of the section's
// prose document.
func (h *Handler) GetSectionText(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	sectionID := r.PathValue("sectionID")

	doc, err := h.docs.Open(r.Context(), roomID, sectionID)
	if err != nil {
		h.logger.Error("document open failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "failed to open document")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]string{
		"roomId":    roomID,
		"sectionId": sectionID,
		"text":      doc.PlainText(),
	})
}

// AnalyzeSection handles POST /api/rooms/{roomID}/sections/{sectionID}/analysis.
// It ships the section's current text and the room's outline to the analysis
// service, then projects the returned anchors back onto the text it sent.
func (h *Handler) AnalyzeSection(w http.ResponseWriter, r *http.Request) {
	if h.analysis == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "analysis service not configured")
		return
	}

	roomID := r.PathValue("roomID")
	sectionID := r.PathValue("sectionID")

	state, err := h.hub.StateSnapshot(r.Context(), roomID)
	if errors.Is(err, models.ErrNotFound) {
		httputil.RespondError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("room state fetch failed", "room_id", roomID, "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "failed to load room state")
		return
	}
	if state.Section(sectionID) == nil {
		httputil.RespondError(w, http.StatusNotFound, "section not found")
		return
	}

	doc, err := h.docs.Open(r.Context(), roomID, sectionID)
	if err != nil {
		h.logger.Error("document open failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "failed to open document")
		return
	}
	text := doc.PlainText()

	result, err := h.analysis.Analyze(r.Context(), analysis.Request{
		SectionText:     text,
		OutlineTree:     state.Sections,
		RelatedSections: h.relatedSectionTexts(r.Context(), roomID, sectionID, state),
	})
	if err != nil {
		h.logger.Error("analysis request failed",
			"room_id", roomID, "section_id", sectionID, "error", err)
		httputil.RespondError(w, http.StatusBadGateway, "analysis service error")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"roomId":     roomID,
		"sectionId":  sectionID,
		"highlights": analysis.ProjectFindings(text, result.Findings),
	})
}

// relatedSectionTexts collects the current text of every section joined to
// the analyzed one by a dependency edge, in edge order. Sections without
// prose contribute their outline content instead.
func (h *Handler) relatedSectionTexts(ctx context.Context, roomID, sectionID string, state *models.RoomState) []string {
	out := []string{}
	seen := map[string]bool{sectionID: true}
	for _, dep := range state.Dependencies {
		var otherID string
		switch sectionID {
		case dep.FromSectionID:
			otherID = dep.ToSectionID
		case dep.ToSectionID:
			otherID = dep.FromSectionID
		default:
			continue
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true
		node := state.Section(otherID)
		if node == nil {
			continue
		}
		text := ""
		if doc, err := h.docs.Open(ctx, roomID, otherID); err == nil {
			text = doc.PlainText()
		}
		if text == "" {
			text = node.Content
		}
		out = append(out, text)
	}
	return out
}

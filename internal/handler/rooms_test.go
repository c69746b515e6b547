package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coscribe/internal/analysis"
	"coscribe/internal/anchor"
	"coscribe/internal/crdtdoc"
	"coscribe/internal/models"
	"coscribe/internal/room"
	"coscribe/internal/store"
)

type fixture struct {
	store store.RoomStore
	docs  *crdtdoc.Registry
	hub   *room.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := crdtdoc.NewRegistry(st, logger)
	return &fixture{store: st, docs: docs, hub: room.NewHub(st, docs, logger)}
}

func (f *fixture) mux(analysisClient *analysis.Client) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(f.hub, f.docs, analysisClient, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/rooms/{roomID}", h.GetRoomState)
	mux.HandleFunc("GET /api/rooms/{roomID}/sections/{sectionID}/text", h.GetSectionText)
	mux.HandleFunc("POST /api/rooms/{roomID}/sections/{sectionID}/analysis", h.AnalyzeSection)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	rec := doRequest(t, f.mux(nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetRoomStateNotFound(t *testing.T) {
	f := newFixture(t)
	rec := doRequest(t, f.mux(nil), http.MethodGet, "/api/rooms/absent")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestGetRoomState(t *testing.T) {
	f := newFixture(t)
	state := models.NewRoomState()
	state.Sections = append(state.Sections, models.SectionNode{
		ID: "s1", Kind: models.SectionKindIntent, Content: "the plan",
	})
	require.NoError(t, f.store.SaveRoomState(context.Background(), "r1", state))

	rec := doRequest(t, f.mux(nil), http.MethodGet, "/api/rooms/r1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.RoomState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Sections, 1)
	assert.Equal(t, "the plan", got.Sections[0].Content)
}

func TestGetSectionText(t *testing.T) {
	f := newFixture(t)
	doc, err := f.docs.Open(context.Background(), "r1", "s1")
	require.NoError(t, err)
	_, err = doc.InsertText(0, "current prose")
	require.NoError(t, err)

	rec := doRequest(t, f.mux(nil), http.MethodGet, "/api/rooms/r1/sections/s1/text")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "current prose", got["text"])
}

func TestGetSectionTextEmptyDocument(t *testing.T) {
	f := newFixture(t)
	rec := doRequest(t, f.mux(nil), http.MethodGet, "/api/rooms/r1/sections/untouched/text")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "", got["text"])
}

func TestAnalyzeSectionNotConfigured(t *testing.T) {
	f := newFixture(t)
	rec := doRequest(t, f.mux(nil), http.MethodPost, "/api/rooms/r1/sections/s1/analysis")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyzeSection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := models.NewRoomState()
	state.Sections = append(state.Sections,
		models.SectionNode{ID: "s1", Kind: models.SectionKindWriting},
		models.SectionNode{ID: "s2", Kind: models.SectionKindWriting},
		models.SectionNode{ID: "s3", Kind: models.SectionKindIntent, Content: "outline only"},
		models.SectionNode{ID: "s4", Kind: models.SectionKindWriting, Content: "not related"},
	)
	state.Dependencies = append(state.Dependencies,
		models.DependencyEdge{ID: "d1", FromSectionID: "s1", ToSectionID: "s2", Direction: models.DirectionDirected},
		models.DependencyEdge{ID: "d2", FromSectionID: "s3", ToSectionID: "s1", Direction: models.DirectionBidirectional},
	)
	require.NoError(t, f.store.SaveRoomState(ctx, "r1", state))

	doc, err := f.docs.Open(ctx, "r1", "s1")
	require.NoError(t, err)
	_, err = doc.InsertText(0, "The argument holds up. Something else drifted away.")
	require.NoError(t, err)
	related, err := f.docs.Open(ctx, "r1", "s2")
	require.NoError(t, err)
	_, err = related.InsertText(0, "supporting evidence")
	require.NoError(t, err)

	analysisSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analysis.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.SectionText, "The argument holds up.")
		// Sections joined by an edge ride along, in edge order; prose when
		// a document exists, outline content otherwise. s4 has no edge and
		// stays out.
		assert.Equal(t, []string{"supporting evidence", "outline only"}, req.RelatedSections)
		json.NewEncoder(w).Encode(analysis.Result{Findings: []analysis.Finding{
			{Anchor: anchor.Anchor{Start: "The argument", End: "holds up."}},
			{Anchor: anchor.Anchor{Start: "no such sentence anywhere in this"}},
		}})
	}))
	defer analysisSrv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := analysis.NewClient(analysisSrv.URL, logger)

	rec := doRequest(t, f.mux(client), http.MethodPost, "/api/rooms/r1/sections/s1/analysis")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Highlights []analysis.Highlight `json:"highlights"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	// One resolvable anchor, one dropped.
	require.Len(t, got.Highlights, 1)
	assert.Equal(t, 1, got.Highlights[0].Range.Tier)
}

func TestAnalyzeSectionUnknownRoom(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := analysis.NewClient("http://127.0.0.1:1", logger)

	rec := doRequest(t, f.mux(client), http.MethodPost, "/api/rooms/none/sections/s1/analysis")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

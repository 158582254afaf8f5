package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/vnnguyen/kidshelf/internal/contentstore"
)

func newTestServer(t *testing.T) (*Server, *contentstore.Store) {
	t.Helper()
	store, err := contentstore.NewStore(contentstore.StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewServer(store), store
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateAndListContent(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/content",
		`{"title":"Lullaby","type":"song","content":"hush now"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[contentstore.ContentRecord](t, rec)
	if created.ID != 1 || created.Title != "Lullaby" {
		t.Fatalf("unexpected created record: %+v", created)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/content?deviceId=dev_a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	rows := decodeBody[[]contentstore.ContentWithProgress](t, rec)
	if len(rows) != 1 || rows[0].ReadCount != 0 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestCreateContentRejectsInvalidPayloads(t *testing.T) {
	server, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing title", `{"type":"song","content":"x"}`},
		{"empty title", `{"title":"","type":"song","content":"x"}`},
		{"bad type", `{"title":"A","type":"novel","content":"x"}`},
		{"missing content", `{"title":"A","type":"song"}`},
	}
	for _, tc := range cases {
		rec := doRequest(t, server, http.MethodPost, "/api/content", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
		payload := decodeBody[map[string]string](t, rec)
		if payload["error"] == "" {
			t.Fatalf("%s: expected error message in body", tc.name)
		}
	}
}

func TestUpdateContent(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/api/content",
		`{"title":"Lullaby","type":"song","content":"hush now"}`)

	rec := doRequest(t, server, http.MethodPut, "/api/content",
		`{"id":1,"title":"Evening Lullaby"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[contentstore.ContentRecord](t, rec)
	if updated.Title != "Evening Lullaby" || updated.Content != "hush now" {
		t.Fatalf("unexpected record: %+v", updated)
	}

	rec = doRequest(t, server, http.MethodPut, "/api/content", `{"id":404,"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPut, "/api/content", `{"title":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
}

func TestProgressEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/api/content",
		`{"title":"Lullaby","type":"song","content":"hush now"}`)

	rec := doRequest(t, server, http.MethodPost, "/api/progress",
		`{"deviceId":"dev_a","contentId":1,"action":"markRead"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p := decodeBody[contentstore.ProgressRecord](t, rec)
	if p.ReadCount != 1 {
		t.Fatalf("unexpected progress: %+v", p)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/progress",
		`{"deviceId":"dev_a","contentId":1,"action":"setProgress","value":{"readCount":9,"favorite":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p = decodeBody[contentstore.ProgressRecord](t, rec)
	if p.ReadCount != 9 || !p.Favorite {
		t.Fatalf("unexpected progress after setProgress: %+v", p)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/progress",
		`{"deviceId":"dev_a","contentId":1,"action":"eatDessert"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/progress",
		`{"deviceId":"dev_a","contentId":99,"action":"markRead"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing content, got %d", rec.Code)
	}
}

func TestSeedEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/seed",
		`{"deviceId":"dev_a","items":[
			{"title":"Lullaby","type":"song","content":"hush now","readCount":3,"favorite":true},
			{"title":"The Owl","type":"poem","content":"who who"}
		]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[contentstore.SeedResult](t, rec)
	if !result.Success || result.InsertedContent != 2 || result.UpdatedProgress != 1 {
		t.Fatalf("unexpected seed result: %+v", result)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/content?deviceId=dev_a", "")
	rows := decodeBody[[]contentstore.ContentWithProgress](t, rec)
	if rows[0].ReadCount != 3 || !rows[0].Favorite {
		t.Fatalf("seed progress not applied: %+v", rows[0])
	}

	rec = doRequest(t, server, http.MethodPost, "/api/seed", `{"deviceId":"dev_a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing items, got %d", rec.Code)
	}
}

func TestClearEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/api/content",
		`{"title":"Lullaby","type":"song","content":"hush now"}`)
	doRequest(t, server, http.MethodPost, "/api/progress",
		`{"deviceId":"dev_a","contentId":1,"action":"markRead"}`)

	rec := doRequest(t, server, http.MethodDelete, "/api/clear?deviceId=dev_a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[contentstore.ClearResult](t, rec)
	if result.DeletedContent != 1 || result.DeletedProgress != 1 {
		t.Fatalf("unexpected clear result: %+v", result)
	}

	rec = doRequest(t, server, http.MethodDelete, "/api/clear", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing deviceId, got %d", rec.Code)
	}
}

func TestMethodNotAllowedAndUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodDelete, "/api/content", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodOptions, "/api/content", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	store, err := contentstore.NewStore(contentstore.StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	server := NewServerWithConfig(store, ServerConfig{MaxBodyBytes: 64})

	big := `{"title":"` + strings.Repeat("a", 200) + `","type":"song","content":"x"}`
	rec := doRequest(t, server, http.MethodPost, "/api/content", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestEventsBroadcastOnMutation(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial events feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The dial returns once the handshake completes, slightly before the
	// handler registers its subscriber.
	time.Sleep(100 * time.Millisecond)

	rec := doRequest(t, server, http.MethodPost, "/api/content",
		`{"title":"Lullaby","type":"song","content":"hush now"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msgType != websocket.MessageText || string(data) != "content.created" {
		t.Fatalf("unexpected event: %v %q", msgType, data)
	}
}

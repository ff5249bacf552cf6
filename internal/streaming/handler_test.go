package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *Registry) {
	t.Helper()

	reg := newTestRegistry(t, newFakeLibrary(), &fakeTranscoder{})
	h := NewHandler(reg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func createSession(t *testing.T, srv *httptest.Server, contentID int64) string {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/watch/%d", srv.URL, contentID))
	if err != nil {
		t.Fatalf("GET /watch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("GET /watch status = %d, want 201", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.SessionID == "" {
		t.Fatal("empty session_id")
	}
	return body.SessionID
}

func TestHandler_CreateSession(t *testing.T) {
	srv, reg := newTestServer(t)

	sessionID := createSession(t, srv, 1)
	if _, ok := reg.Get(sessionID); !ok {
		t.Errorf("created session %q not in registry", sessionID)
	}
}

func TestHandler_CreateSession_badID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/watch/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_CreateSession_unknownContent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/watch/99")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandler_Stream_manifestAndSegment(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	resp, err := http.Get(fmt.Sprintf("%s/stream/%s.v,a.m3u8", srv.URL, sessionID))
	if err != nil {
		t.Fatalf("GET manifest: %v", err)
	}
	manifest, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manifest status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != manifestContentType {
		t.Errorf("manifest Content-Type = %q", ct)
	}
	if !strings.HasPrefix(string(manifest), "#EXTM3U") {
		t.Errorf("manifest does not start with #EXTM3U:\n%s", manifest)
	}

	// Fetch the first segment the manifest references.
	lines := manifestMediaLines(string(manifest))
	if len(lines) == 0 {
		t.Fatal("manifest has no media lines")
	}
	resp, err = http.Get(srv.URL + "/stream/" + lines[0])
	if err != nil {
		t.Fatalf("GET segment: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("segment status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != segmentContentType {
		t.Errorf("segment Content-Type = %q", ct)
	}
	if string(data) != "a.mkv/0/v,a" {
		t.Errorf("segment body = %q", data)
	}
}

func TestHandler_Stream_errors(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"bad token", "garbage", http.StatusBadRequest},
		{"unknown session", "nosuch.v.m3u8", http.StatusForbidden},
		{"segment out of range", sessionID + ".50.v.ts", http.StatusNotFound},
	}
	for _, tc := range tests {
		resp, err := http.Get(srv.URL + "/stream/" + tc.token)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestHandler_ListSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()

	var infos []SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(infos) != 1 || infos[0].SessionID != sessionID || infos[0].ContentID != 1 {
		t.Errorf("sessions = %+v", infos)
	}
}

// dialViewer opens a viewer websocket and consumes the initial state push.
func dialViewer(t *testing.T, srv *httptest.Server, sessionID, name string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/ws?name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing viewer socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	initial := readServerMessage(t, conn)
	if initial.Type != typeUpdate || initial.MessageType != MsgUpdate {
		t.Fatalf("initial message = %+v, want state update", initial)
	}
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading server message: %v", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshalling %q: %v", data, err)
	}
	return msg
}

// collectServerMessages reads until the window elapses or the connection
// drops.
func collectServerMessages(conn *websocket.Conn, window time.Duration) []serverMessage {
	var got []serverMessage
	deadline := time.Now().Add(window)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return got
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		got = append(got, msg)
	}
}

// awaitMessage reads until a message of the given type arrives.
func awaitMessage(t *testing.T, conn *websocket.Conn, msgType string) serverMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readServerMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message received", msgType)
	return serverMessage{}
}

func TestViewerSocket_unknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/nosuch/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readServerMessage(t, conn)
	if msg.Type != typeNotification || !strings.Contains(msg.Msg, "invalid") {
		t.Errorf("got %+v, want invalid-session notification", msg)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after invalid-session notification")
	}
}

func TestViewerSocket_pauseFanOut(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	alice := dialViewer(t, srv, sessionID, "alice")
	bob := dialViewer(t, srv, sessionID, "bob")

	// Bob announces himself; once Alice sees the Join broadcast, both viewers
	// are fully subscribed.
	if err := bob.WriteJSON(map[string]any{"type": "Join"}); err != nil {
		t.Fatalf("writing Join: %v", err)
	}
	awaitMessage(t, alice, typeJoin)
	awaitMessage(t, bob, typeJoin)

	pause := map[string]any{
		"type":         "Update",
		"message_type": "Pause",
		"timestamp":    1700000000,
		"video_time":   64.0,
		"state":        "Paused",
	}
	if err := alice.WriteJSON(pause); err != nil {
		t.Fatalf("writing pause: %v", err)
	}

	aliceGot := collectServerMessages(alice, 500*time.Millisecond)
	bobGot := collectServerMessages(bob, 500*time.Millisecond)

	var aliceUpdate, bobUpdate, bobNotified bool
	for _, msg := range aliceGot {
		if msg.Type == typeUpdate && msg.MessageType == MsgPause {
			aliceUpdate = true
		}
		if msg.Type == typeNotification && strings.Contains(msg.Msg, "paused") {
			t.Errorf("originator received its own pause notification: %+v", msg)
		}
	}
	for _, msg := range bobGot {
		if msg.Type == typeUpdate && msg.MessageType == MsgPause {
			bobUpdate = true
		}
		if msg.Type == typeNotification && msg.Msg == "alice paused the video" {
			bobNotified = true
		}
	}

	if !aliceUpdate {
		t.Error("originator did not receive the raw pause update")
	}
	if !bobUpdate {
		t.Error("other viewer did not receive the raw pause update")
	}
	if !bobNotified {
		t.Errorf("other viewer did not receive the pause notification, got %+v", bobGot)
	}
}

func TestViewerSocket_switchToReloadsViewers(t *testing.T) {
	srv, reg := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	alice := dialViewer(t, srv, sessionID, "alice")
	bob := dialViewer(t, srv, sessionID, "bob")

	if err := bob.WriteJSON(map[string]any{"type": "Join"}); err != nil {
		t.Fatalf("writing Join: %v", err)
	}
	awaitMessage(t, alice, typeJoin)
	awaitMessage(t, bob, typeJoin)

	if err := alice.WriteJSON(map[string]any{"type": "SwitchTo", "id": 2}); err != nil {
		t.Fatalf("writing SwitchTo: %v", err)
	}

	awaitMessage(t, alice, typeReload)
	awaitMessage(t, bob, typeReload)

	session, ok := reg.Get(sessionID)
	if !ok {
		t.Fatal("session gone after switch")
	}
	if session.ContentID() != 2 {
		t.Errorf("ContentID = %d after switch, want 2", session.ContentID())
	}
}

func TestViewerSocket_lastViewerRemovesSession(t *testing.T) {
	srv, reg := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	conn := dialViewer(t, srv, sessionID, "alice")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(sessionID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("session still registered after its last viewer left")
}

func TestViewerSocket_malformedMessageClosesConnection(t *testing.T) {
	srv, reg := newTestServer(t)
	sessionID := createSession(t, srv, 1)

	conn := dialViewer(t, srv, sessionID, "alice")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server drops the viewer; as the last one, the session goes with it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(sessionID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("session still registered after a malformed message")
}

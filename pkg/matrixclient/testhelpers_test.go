// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const (
	testUserID = id.UserID("@sign:example.org")
	testToken  = "test-token"
	clientAPI  = "/_matrix/client/v3"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeHomeserver is a test helper that wraps an httptest.Server simulating
// the parts of the Matrix client-server API the session uses. It records
// calls and keeps just enough state to answer consistently.
type fakeHomeserver struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Password is the only password /login accepts.
	Password string
	// AccountData maps account data type to its stored JSON content.
	AccountData map[string]json.RawMessage
	// Timelines maps room ID to its events, oldest first.
	Timelines map[id.RoomID][]json.RawMessage
	// Txns maps "room/txn" to the event ID it produced, for idempotence.
	Txns map[string]id.EventID
	// CreatedRooms lists rooms created through /createRoom.
	CreatedRooms []id.RoomID
	// FailEndpoints causes paths containing a key to return 500.
	FailEndpoints map[string]bool

	nextEvent int
}

func newFakeHomeserver() *fakeHomeserver {
	f := &fakeHomeserver{
		Password:      "hunter2",
		AccountData:   make(map[string]json.RawMessage),
		Timelines:     make(map[id.RoomID][]json.RawMessage),
		Txns:          make(map[string]id.EventID),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHomeserver) Close() {
	f.Server.Close()
}

func (f *fakeHomeserver) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the recorded calls whose path contains fragment.
func (f *fakeHomeserver) CallsTo(method, fragment string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeHomeserver) CalledPath(fragment string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, fragment) {
			return true
		}
	}
	return false
}

// AddMessage appends a text message to a room's timeline.
func (f *fakeHomeserver) AddMessage(roomID id.RoomID, sender id.UserID, body string) {
	f.AddEvent(roomID, map[string]any{
		"type":   "m.room.message",
		"sender": sender,
		"content": map[string]any{
			"msgtype": "m.text",
			"body":    body,
		},
	})
}

// AddEvent appends an arbitrary event to a room's timeline.
func (f *fakeHomeserver) AddEvent(roomID id.RoomID, evt map[string]any) id.EventID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendEventLocked(roomID, evt)
}

func (f *fakeHomeserver) appendEventLocked(roomID id.RoomID, evt map[string]any) id.EventID {
	f.nextEvent++
	eventID := id.EventID(fmt.Sprintf("$event%d", f.nextEvent))
	evt["event_id"] = eventID
	evt["room_id"] = roomID
	evt["origin_server_ts"] = int64(1700000000000) + int64(f.nextEvent)
	raw, _ := json.Marshal(evt)
	f.Timelines[roomID] = append(f.Timelines[roomID], raw)
	return eventID
}

// TimelineLen returns how many events a room has.
func (f *fakeHomeserver) TimelineLen(roomID id.RoomID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Timelines[roomID])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMatrixError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"errcode": code, "error": msg})
}

func (f *fakeHomeserver) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	f.mu.Unlock()

	for fragment := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, fragment) {
			writeMatrixError(w, http.StatusInternalServerError, "M_UNKNOWN", "fake error")
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, clientAPI)
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	switch {
	// POST /login
	case r.Method == http.MethodPost && path == "/login":
		var req struct {
			Password string `json:"password"`
		}
		_ = json.Unmarshal(body, &req)
		if req.Password != f.Password {
			writeMatrixError(w, http.StatusForbidden, "M_FORBIDDEN", "Invalid password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": "logged-in-token",
			"device_id":    "DEVICE",
			"user_id":      string(testUserID),
		})

	// PUT /rooms/{room}/send/{type}/{txn}
	case r.Method == http.MethodPut && len(parts) == 5 && parts[0] == "rooms" && parts[2] == "send":
		roomID := id.RoomID(parts[1])
		key := string(roomID) + "/" + parts[4]
		f.mu.Lock()
		eventID, seen := f.Txns[key]
		if !seen {
			var content map[string]any
			_ = json.Unmarshal(body, &content)
			eventID = f.appendEventLocked(roomID, map[string]any{
				"type":    parts[3],
				"sender":  testUserID,
				"content": content,
			})
			f.Txns[key] = eventID
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"event_id": string(eventID)})

	// POST /rooms/{room}/join
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "rooms" && parts[2] == "join":
		writeJSON(w, http.StatusOK, map[string]string{"room_id": parts[1]})

	// PUT /profile/{user}/displayname, /profile/{user}/avatar_url
	case r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "profile":
		writeJSON(w, http.StatusOK, map[string]string{})

	// GET|PUT /user/{user}/account_data/{type}
	case len(parts) == 4 && parts[0] == "user" && parts[2] == "account_data":
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			f.AccountData[parts[3]] = json.RawMessage(body)
			writeJSON(w, http.StatusOK, map[string]string{})
			return
		}
		data, ok := f.AccountData[parts[3]]
		if !ok {
			writeMatrixError(w, http.StatusNotFound, "M_NOT_FOUND", "Account data not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)

	// POST /createRoom
	case r.Method == http.MethodPost && path == "/createRoom":
		f.mu.Lock()
		roomID := id.RoomID(fmt.Sprintf("!dm%d:example.org", len(f.CreatedRooms)+1))
		f.CreatedRooms = append(f.CreatedRooms, roomID)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"room_id": string(roomID)})

	// GET /rooms/{room}/messages
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "rooms" && parts[2] == "messages":
		f.handleMessages(w, r, id.RoomID(parts[1]))

	default:
		writeMatrixError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}

// handleMessages emulates /messages with tokens "t<N>", where N is the
// number of timeline events before the position.
func (f *fakeHomeserver) handleMessages(w http.ResponseWriter, r *http.Request, roomID id.RoomID) {
	query := r.URL.Query()
	limit := 10
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = l
	}

	f.mu.Lock()
	timeline := f.Timelines[roomID]
	f.mu.Unlock()

	pos := len(timeline)
	if from := query.Get("from"); from != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(from, "t"))
		if err != nil || n < 0 || n > len(timeline) {
			writeMatrixError(w, http.StatusBadRequest, "M_INVALID_PARAM", "bad token")
			return
		}
		pos = n
	}

	resp := map[string]any{"start": fmt.Sprintf("t%d", pos)}
	chunk := []json.RawMessage{}
	if query.Get("dir") == "b" {
		end := pos
		for end > 0 && len(chunk) < limit {
			end--
			chunk = append(chunk, timeline[end])
		}
		if len(chunk) > 0 {
			resp["end"] = fmt.Sprintf("t%d", end)
		}
	} else {
		end := pos
		for end < len(timeline) && len(chunk) < limit {
			chunk = append(chunk, timeline[end])
			end++
		}
		if len(chunk) > 0 {
			resp["end"] = fmt.Sprintf("t%d", end)
		}
	}
	resp["chunk"] = chunk
	writeJSON(w, http.StatusOK, resp)
}

// fixedTime returns a TimeSource that always reports t.
func fixedTime(t time.Time) TimeSource {
	return func() (time.Time, error) {
		return t, nil
	}
}

var testSeed = time.UnixMilli(1700000000000)

// newTestSession creates a session with an access token against the fake.
func newTestSession(t *testing.T, serverURL string) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Homeserver:  serverURL,
		UserID:      testUserID,
		AccessToken: testToken,
	}, fixedTime(testSeed), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

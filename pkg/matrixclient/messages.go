// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MessagesOptions controls a RoomMessages call. The zero value reads
// forward, one event at a time.
type MessagesOptions struct {
	Direction mautrix.Direction
	Limit     int
}

// RoomMessages returns the events that arrived in roomID since the previous
// call. The first call for a room only records the live edge of the timeline
// and returns an empty batch, so old history is never replayed.
func (s *Session) RoomMessages(ctx context.Context, roomID id.RoomID, opts MessagesOptions) (*mautrix.RespMessages, error) {
	var noDirection mautrix.Direction
	dir := opts.Direction
	if dir == noDirection {
		dir = mautrix.DirectionForward
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.syncLimit
	}

	s.cacheMu.Lock()
	from, ok := s.cursors[roomID]
	s.cacheMu.Unlock()

	if !ok {
		// Paginating backwards from nowhere starts at the newest event; its
		// start token is the position new events will follow.
		resp, err := s.Client.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to get messages for %s: %w", roomID, wrapError(err))
		}
		if resp.Start == "" {
			return nil, fmt.Errorf("failed to get messages for %s: %w: no start token", roomID, ErrProtocol)
		}
		s.setCursor(roomID, resp.Start)
		return &mautrix.RespMessages{Start: resp.Start, End: resp.Start}, nil
	}

	resp, err := s.Client.Messages(ctx, roomID, from, "", dir, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for %s: %w", roomID, wrapError(err))
	}
	if resp.End != "" {
		s.setCursor(roomID, resp.End)
	} else if resp.Start != "" {
		s.setCursor(roomID, resp.Start)
	}
	return resp, nil
}

func (s *Session) setCursor(roomID id.RoomID, token string) {
	s.cacheMu.Lock()
	s.cursors[roomID] = token
	s.cacheMu.Unlock()
}

// Pattern decides whether a message body triggers a Matcher. It is either a
// Literal or a Regex.
type Pattern interface {
	// Match returns the captures for body: the body itself for a Literal,
	// the submatches for a Regex.
	Match(body string) ([]string, bool)
	isPattern()
}

// Literal matches a message equal to it, ignoring case and surrounding
// whitespace.
type Literal string

func (l Literal) Match(body string) ([]string, bool) {
	if strings.EqualFold(strings.TrimSpace(body), strings.TrimSpace(string(l))) {
		return []string{body}, true
	}
	return nil, false
}

func (Literal) isPattern() {}

// Regex matches a message containing the expression anywhere.
type Regex struct {
	*regexp.Regexp
}

// MustRegex compiles expr or panics.
func MustRegex(expr string) Regex {
	return Regex{regexp.MustCompile(expr)}
}

func (r Regex) Match(body string) ([]string, bool) {
	groups := r.FindStringSubmatch(body)
	if groups == nil {
		return nil, false
	}
	return groups, true
}

func (Regex) isPattern() {}

// Handler is called with the captures of the matching pattern and the event.
type Handler func(ctx context.Context, captures []string, evt *event.Event)

// Matcher pairs a pattern with the handler to run when it matches.
type Matcher struct {
	Pattern Pattern
	Handler Handler
}

// ReactToMessages fetches the next batch of messages in roomID and runs the
// first matching matcher for each text message. It returns the bodies that
// matched.
func (s *Session) ReactToMessages(ctx context.Context, roomID id.RoomID, matchers []Matcher) ([]string, error) {
	resp, err := s.RoomMessages(ctx, roomID, MessagesOptions{})
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, evt := range resp.Chunk {
		content := textContent(evt)
		if content == nil {
			continue
		}
		for _, matcher := range matchers {
			captures, ok := matcher.Pattern.Match(content.Body)
			if !ok {
				continue
			}
			matched = append(matched, content.Body)
			if matcher.Handler != nil {
				matcher.Handler(ctx, captures, evt)
			}
			break
		}
	}
	return matched, nil
}

// textContent returns the message content of an m.text event, or nil.
func textContent(evt *event.Event) *event.MessageEventContent {
	if evt == nil || evt.Type.Type != event.EventMessage.Type {
		return nil
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		content = &event.MessageEventContent{}
		if err := json.Unmarshal(evt.Content.VeryRaw, content); err != nil {
			return nil
		}
	}
	if content.MsgType != event.MsgText {
		return nil
	}
	return content
}

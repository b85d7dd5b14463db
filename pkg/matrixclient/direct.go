// Copyright 2024-2026 Aiku AI

package matrixclient

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// directChats reads the m.direct index. An account that never had a DM has
// no such account data, which is the same as an empty index.
func (s *Session) directChats(ctx context.Context) (event.DirectChatsEventContent, error) {
	content := event.DirectChatsEventContent{}
	err := s.AccountData(ctx, event.AccountDataDirectChats.Type, &content)
	if err != nil {
		if isNotFound(err) {
			return event.DirectChatsEventContent{}, nil
		}
		return nil, err
	}
	if content == nil {
		content = event.DirectChatsEventContent{}
	}
	return content, nil
}

// DMRoom returns the DM room with userID. It checks the cache, then the
// first room listed for userID in m.direct, and only creates a new room when
// neither has one.
func (s *Session) DMRoom(ctx context.Context, userID id.UserID) (id.RoomID, error) {
	s.cacheMu.Lock()
	cached, ok := s.dmRooms[userID]
	s.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	direct, err := s.directChats(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to look up DM room for %s: %w", userID, err)
	}
	if rooms := direct[userID]; len(rooms) > 0 {
		s.cacheDMRoom(userID, rooms[0])
		return rooms[0], nil
	}
	return s.createDMRoom(ctx, userID, direct)
}

func (s *Session) createDMRoom(ctx context.Context, userID id.UserID, direct event.DirectChatsEventContent) (id.RoomID, error) {
	resp, err := s.Client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		Invite:   []id.UserID{userID},
		IsDirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create DM room for %s: %w", userID, wrapError(err))
	}
	roomID := resp.RoomID
	s.log.Info().Str("target_user_id", string(userID)).Str("room_id", string(roomID)).Msg("Created DM room")

	// The room exists now whether or not the index update lands. Caching it
	// keeps this process from creating a second one.
	s.cacheDMRoom(userID, roomID)
	direct[userID] = append(direct[userID], roomID)
	if err := s.SetAccountData(ctx, event.AccountDataDirectChats.Type, direct); err != nil {
		s.log.Warn().Err(err).Str("room_id", string(roomID)).Msg("Failed to store DM room in m.direct")
	}
	return roomID, nil
}

func (s *Session) cacheDMRoom(userID id.UserID, roomID id.RoomID) {
	s.cacheMu.Lock()
	s.dmRooms[userID] = roomID
	s.cacheMu.Unlock()
}

// SendDMMessage sends a text message to the DM room with userID, creating
// the room if needed.
func (s *Session) SendDMMessage(ctx context.Context, userID id.UserID, text string) (id.EventID, error) {
	roomID, err := s.DMRoom(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.SendRoomMessage(ctx, roomID, text)
}

// DMMessages fetches the next batch of messages from the DM room with userID.
func (s *Session) DMMessages(ctx context.Context, userID id.UserID, opts MessagesOptions) (*mautrix.RespMessages, error) {
	roomID, err := s.DMRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.RoomMessages(ctx, roomID, opts)
}

// ReactToDMMessages runs matchers against new messages in the DM room with
// userID.
func (s *Session) ReactToDMMessages(ctx context.Context, userID id.UserID, matchers []Matcher) ([]string, error) {
	roomID, err := s.DMRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ReactToMessages(ctx, roomID, matchers)
}

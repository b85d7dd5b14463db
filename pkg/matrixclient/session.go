// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixclient is a small Matrix client for bots that send notices
// and read commands by polling room history instead of running a sync loop.
package matrixclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// DefaultSyncLimit bounds how many events a single RoomMessages call pulls
// when the caller does not ask for more.
const DefaultSyncLimit = 1

// DefaultNTPServer is used when the configuration does not name one.
const DefaultNTPServer = "pool.ntp.org"

// Config holds the Matrix account settings.
type Config struct {
	Homeserver  string    `yaml:"homeserver"`
	UserID      id.UserID `yaml:"user_id"`
	AccessToken string    `yaml:"access_token"`
	// Password is used to log in when AccessToken is empty.
	Password    string      `yaml:"password"`
	DisplayName string      `yaml:"displayname"`
	AvatarURL   string      `yaml:"avatar_url"`
	Rooms       []id.RoomID `yaml:"rooms"`
	NTPServer   string      `yaml:"ntp_server"`
	SyncLimit   int         `yaml:"sync_limit"`
}

// Enabled reports whether a homeserver is configured at all.
func (c *Config) Enabled() bool {
	return c.Homeserver != ""
}

// TimeSource returns a trusted current time. It seeds the transaction
// counter once per session.
type TimeSource func() (time.Time, error)

// NTPTimeSource queries an NTP server.
func NTPTimeSource(server string) TimeSource {
	if server == "" {
		server = DefaultNTPServer
	}
	return func() (time.Time, error) {
		return ntp.Time(server)
	}
}

// Session is an authenticated Matrix client with the state the sign needs:
// a transaction counter for idempotent sends, a DM room cache and a
// pagination cursor per room. The caches are best effort; re-resolving a
// stale entry is always safe.
type Session struct {
	Client *mautrix.Client

	cfg       Config
	log       zerolog.Logger
	syncLimit int

	txnID atomic.Int64

	cacheMu sync.Mutex
	dmRooms map[id.UserID]id.RoomID
	cursors map[id.RoomID]string
}

// NewSession creates a session for cfg. The transaction counter is seeded
// from timeSource in milliseconds, so ids from a previous run are in the
// past.
func NewSession(cfg Config, timeSource TimeSource, log zerolog.Logger) (*Session, error) {
	if cfg.Homeserver == "" {
		return nil, fmt.Errorf("matrix homeserver is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("matrix user_id is required")
	}
	if cfg.AccessToken == "" && cfg.Password == "" {
		return nil, fmt.Errorf("matrix access_token or password is required")
	}
	if timeSource == nil {
		timeSource = NTPTimeSource(cfg.NTPServer)
	}
	seed, err := timeSource()
	if err != nil {
		return nil, fmt.Errorf("failed to get trusted time for transaction ids: %w", err)
	}

	client, err := mautrix.NewClient(cfg.Homeserver, cfg.UserID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix").Str("user_id", string(cfg.UserID)).Logger()
	client.Log = log

	syncLimit := cfg.SyncLimit
	if syncLimit <= 0 {
		syncLimit = DefaultSyncLimit
	}
	s := &Session{
		Client:    client,
		cfg:       cfg,
		log:       log,
		syncLimit: syncLimit,
		dmRooms:   make(map[id.UserID]id.RoomID),
		cursors:   make(map[id.RoomID]string),
	}
	s.txnID.Store(seed.UnixMilli())
	return s, nil
}

// UserID returns the account the session acts as.
func (s *Session) UserID() id.UserID {
	return s.Client.UserID
}

// Start logs in if no access token was configured, then applies the profile
// and joins the configured rooms. Only the login is fatal; profile and join
// failures are logged.
func (s *Session) Start(ctx context.Context) error {
	if s.Client.AccessToken == "" {
		if err := s.Login(ctx, s.cfg.UserID.String(), s.cfg.Password); err != nil {
			return err
		}
	}
	if s.cfg.DisplayName != "" {
		if err := s.SetDisplayName(ctx, s.cfg.DisplayName); err != nil {
			s.log.Warn().Err(err).Msg("Failed to set display name")
		}
	}
	if s.cfg.AvatarURL != "" {
		if err := s.SetAvatar(ctx, s.cfg.AvatarURL); err != nil {
			s.log.Warn().Err(err).Msg("Failed to set avatar")
		}
	}
	for _, room := range s.cfg.Rooms {
		if err := s.JoinRoom(ctx, room); err != nil {
			s.log.Warn().Err(err).Str("room_id", string(room)).Msg("Failed to join room")
		}
	}
	return nil
}

// Login exchanges a username and password for an access token, which
// replaces the session's token in place.
func (s *Session) Login(ctx context.Context, username, password string) error {
	resp, err := s.Client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: "roomstatus",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", wrapError(err))
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("failed to log in: %w: no access token in login response", ErrProtocol)
	}
	s.Client.AccessToken = resp.AccessToken
	s.log.Info().Str("device_id", string(resp.DeviceID)).Msg("Logged in to Matrix")
	return nil
}

// NextTransactionID returns the current counter value and advances it.
func (s *Session) NextTransactionID() int64 {
	return s.txnID.Add(1) - 1
}

// SendRoomEvent sends an arbitrary event under a fresh transaction id.
func (s *Session) SendRoomEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) (id.EventID, error) {
	txnID := strconv.FormatInt(s.NextTransactionID(), 10)
	return s.SendRoomEventWithTxn(ctx, roomID, eventType, txnID, content)
}

// SendRoomEventWithTxn sends an event under a caller-chosen transaction id.
// The homeserver ignores a replay of a txnID it already processed, so a
// failed send can be retried with the same id without duplicating it.
func (s *Session) SendRoomEventWithTxn(ctx context.Context, roomID id.RoomID, eventType event.Type, txnID string, content any) (id.EventID, error) {
	resp, err := s.Client.SendMessageEvent(ctx, roomID, eventType, content, mautrix.ReqSendEvent{
		TransactionID: txnID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send %s to %s: %w", eventType.Type, roomID, wrapError(err))
	}
	return resp.EventID, nil
}

// SendRoomMessage sends a plain text message.
func (s *Session) SendRoomMessage(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	return s.SendRoomEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
}

// JoinRoom joins a room by its ID.
func (s *Session) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := s.Client.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, wrapError(err))
	}
	return nil
}

// SetDisplayName sets the account's display name.
func (s *Session) SetDisplayName(ctx context.Context, name string) error {
	if err := s.Client.SetDisplayName(ctx, name); err != nil {
		return fmt.Errorf("failed to set display name: %w", wrapError(err))
	}
	return nil
}

// SetAvatar sets the account's avatar from an mxc:// URI.
func (s *Session) SetAvatar(ctx context.Context, mxc string) error {
	uri, err := id.ParseContentURI(mxc)
	if err != nil {
		return fmt.Errorf("invalid avatar url %q: %w", mxc, err)
	}
	if err := s.Client.SetAvatarURL(ctx, uri); err != nil {
		return fmt.Errorf("failed to set avatar: %w", wrapError(err))
	}
	return nil
}

// AccountData reads the account data of the given type into out.
func (s *Session) AccountData(ctx context.Context, eventType string, out any) error {
	if err := s.Client.GetAccountData(ctx, eventType, out); err != nil {
		return fmt.Errorf("failed to get account data %s: %w", eventType, wrapError(err))
	}
	return nil
}

// SetAccountData replaces the account data of the given type.
func (s *Session) SetAccountData(ctx context.Context, eventType string, content any) error {
	if err := s.Client.SetAccountData(ctx, eventType, content); err != nil {
		return fmt.Errorf("failed to set account data %s: %w", eventType, wrapError(err))
	}
	return nil
}

// isNotFound reports whether err is the homeserver's M_NOT_FOUND.
func isNotFound(err error) bool {
	return errors.Is(err, mautrix.MNotFound) || IsMatrixError(err, mautrix.MNotFound.ErrCode)
}

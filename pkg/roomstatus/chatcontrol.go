// Copyright 2024-2026 Aiku AI

package roomstatus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/roomstatus/pkg/matrixclient"
)

// DefaultControlInterval is how often the control room is read.
const DefaultControlInterval = 5 * time.Second

// DefaultCommands maps chat commands to status keys.
var DefaultCommands = map[string]string{
	"open":     "public_open",
	"internal": "internal_open",
	"close":    "closed",
}

// ControlConfig selects where status commands are read from. Room takes
// precedence over DMUser.
type ControlConfig struct {
	Room         id.RoomID         `yaml:"room"`
	DMUser       id.UserID         `yaml:"dm_user"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	Commands     map[string]string `yaml:"commands"`
}

func (c *ControlConfig) Enabled() bool {
	return c.Room != "" || c.DMUser != ""
}

// MessageReactor runs matchers against new chat messages.
type MessageReactor interface {
	ReactToMessages(ctx context.Context, roomID id.RoomID, matchers []matrixclient.Matcher) ([]string, error)
	ReactToDMMessages(ctx context.Context, userID id.UserID, matchers []matrixclient.Matcher) ([]string, error)
}

// ChatControl turns chat commands into status requests. It is a Poller and
// runs on the loop goroutine.
type ChatControl struct {
	cfg      ControlConfig
	reactor  MessageReactor
	enqueue  func(Request) bool
	matchers []matrixclient.Matcher
	log      zerolog.Logger
}

// NewChatControl validates the command table and builds one literal matcher
// per command, in lexical order.
func NewChatControl(cfg ControlConfig, reactor MessageReactor, enqueue func(Request) bool, log zerolog.Logger) (*ChatControl, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultControlInterval
	}
	commands, err := ParseCommands(cfg.Commands)
	if err != nil {
		return nil, err
	}
	c := &ChatControl{
		cfg:     cfg,
		reactor: reactor,
		enqueue: enqueue,
		log:     log.With().Str("component", "chat_control").Logger(),
	}
	for _, command := range slices.Sorted(maps.Keys(commands)) {
		c.matchers = append(c.matchers, matrixclient.Matcher{
			Pattern: matrixclient.Literal(command),
			Handler: c.handlerFor(commands[command]),
		})
	}
	return c, nil
}

// ParseCommands resolves a command table to statuses. An empty table means
// DefaultCommands. Commands may only select concrete statuses.
func ParseCommands(commands map[string]string) (map[string]RoomStatus, error) {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	parsed := make(map[string]RoomStatus, len(commands))
	for command, key := range commands {
		status, err := ParseStatus(key)
		if err != nil {
			return nil, fmt.Errorf("%w: control.commands.%s: %v", ErrConfig, command, err)
		}
		parsed[command] = status
	}
	return parsed, nil
}

func (c *ChatControl) handlerFor(status RoomStatus) matrixclient.Handler {
	return func(_ context.Context, _ []string, evt *event.Event) {
		c.log.Info().
			Str("sender", string(evt.Sender)).
			Str("event_id", string(evt.ID)).
			Stringer("status", status).
			Msg("Status command received")
		c.enqueue(Request{Status: status, Source: SourceChat})
	}
}

func (c *ChatControl) Interval() time.Duration {
	return c.cfg.PollInterval
}

// Poll reads the next batch of messages and enqueues a request for each
// command found. Errors are logged; the next poll retries.
func (c *ChatControl) Poll(ctx context.Context) {
	var err error
	if c.cfg.Room != "" {
		_, err = c.reactor.ReactToMessages(ctx, c.cfg.Room, c.matchers)
	} else {
		_, err = c.reactor.ReactToDMMessages(ctx, c.cfg.DMUser, c.matchers)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read control messages")
	}
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package roomstatus

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	"maunium.net/go/mautrix/id"
)

// DebounceWindow is the minimum spacing between accepted, non-forced
// transitions.
const DebounceWindow = 3000 * time.Millisecond

const announcementPrefix = "Room Status is now "

// LED is a status indicator output.
type LED interface {
	Set(on bool) error
}

// Announcer sends chat messages to Matrix rooms.
type Announcer interface {
	SendRoomMessage(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error)
}

// StatusPublisher publishes the current status to the broker.
type StatusPublisher interface {
	PublishStatus(status RoomStatus, retain bool) error
}

// Source identifies where a candidate transition came from.
type Source int

const (
	SourceBoot Source = iota
	SourceButton
	SourceNetwork
	SourceChat
)

func (s Source) String() string {
	switch s {
	case SourceBoot:
		return "boot"
	case SourceButton:
		return "button"
	case SourceNetwork:
		return "network"
	case SourceChat:
		return "chat"
	default:
		return "invalid"
	}
}

// Request is a candidate status change.
type Request struct {
	Status RoomStatus
	Source Source
	// Force skips the no-op and debounce checks. Used for authoritative
	// updates from the broker.
	Force bool
}

// publishes reports whether the accepted transition should be announced.
// Network updates are echoes of a status someone else already published.
func (r Request) publishes() bool {
	return r.Source != SourceNetwork && r.Source != SourceBoot
}

// Reason explains a rejected transition.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoOp
	ReasonDebounced
	// ReasonInvalid rejects a request for StatusUnknown once the sign has
	// left it. Force does not override it.
	ReasonInvalid
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoOp:
		return "no-op"
	case ReasonDebounced:
		return "debounced"
	case ReasonInvalid:
		return "invalid_status"
	default:
		return "invalid"
	}
}

// Decision is the outcome of RequestTransition.
type Decision struct {
	Accepted bool
	Reason   Reason
	Previous RoomStatus
}

// OrchestratorParams holds the collaborators of an Orchestrator. Matrix and
// Broker may be nil when the respective channel is not configured.
type OrchestratorParams struct {
	Table  *StatusTable
	LEDs   map[RoomStatus]LED
	Matrix Announcer
	Broker StatusPublisher
	Clock  Clock
	Log    zerolog.Logger
}

// Orchestrator owns the room status and decides which transitions are
// applied. It is not safe for concurrent use; all requests must come from a
// single goroutine (see Loop).
type Orchestrator struct {
	table  *StatusTable
	leds   map[RoomStatus]LED
	matrix Announcer
	broker StatusPublisher
	clock  Clock
	log    zerolog.Logger

	current    RoomStatus
	lastUpdate time.Time
}

// NewOrchestrator creates an orchestrator in the StatusUnknown state.
func NewOrchestrator(params OrchestratorParams) *Orchestrator {
	clock := params.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Orchestrator{
		table:   params.Table,
		leds:    params.LEDs,
		matrix:  params.Matrix,
		broker:  params.Broker,
		clock:   clock,
		log:     params.Log.With().Str("component", "orchestrator").Logger(),
		current: StatusUnknown,
	}
}

// Current returns the status the sign is showing.
func (o *Orchestrator) Current() RoomStatus {
	return o.current
}

// RequestTransition evaluates a candidate status and applies it if accepted.
// State and LEDs are updated before any network call, so a slow or failing
// homeserver or broker never leaves them stale.
func (o *Orchestrator) RequestTransition(ctx context.Context, req Request) Decision {
	old := o.current
	now := o.clock.Now()

	if !req.Status.IsConcrete() {
		// Only the boot request may name StatusUnknown, and only while the
		// sign is still in it.
		if req.Source == SourceBoot && old == StatusUnknown {
			return Decision{Reason: ReasonNoOp, Previous: old}
		}
		o.log.Warn().
			Stringer("candidate", req.Status).
			Stringer("source", req.Source).
			Msg("Ignoring request for a status that cannot be entered")
		return Decision{Reason: ReasonInvalid, Previous: old}
	}
	if !req.Force {
		if req.Status == old {
			return Decision{Reason: ReasonNoOp, Previous: old}
		}
		if !o.lastUpdate.IsZero() && now.Sub(o.lastUpdate) <= DebounceWindow {
			o.log.Debug().
				Stringer("candidate", req.Status).
				Stringer("source", req.Source).
				Msg("Ignoring status change inside debounce window")
			return Decision{Reason: ReasonDebounced, Previous: old}
		}
	}

	o.current = req.Status
	o.lastUpdate = now
	o.log.Info().
		Stringer("old_status", old).
		Stringer("new_status", req.Status).
		Stringer("source", req.Source).
		Bool("forced", req.Force).
		Msg("Room status changed")

	o.syncLEDs()
	if req.publishes() {
		o.publishBroker(req.Status)
		o.announce(ctx, old, req.Status)
	}
	return Decision{Accepted: true, Previous: old}
}

func (o *Orchestrator) syncLEDs() {
	for _, status := range ConcreteStatuses {
		led, ok := o.leds[status]
		if !ok || led == nil {
			continue
		}
		if err := led.Set(status == o.current); err != nil {
			o.log.Warn().Err(err).Stringer("led_status", status).Msg("Failed to set LED")
		}
	}
}

func (o *Orchestrator) publishBroker(status RoomStatus) {
	if o.broker == nil {
		return
	}
	if err := o.broker.PublishStatus(status, true); err != nil {
		o.log.Error().Err(err).Stringer("status", status).Msg("Failed to publish status to broker")
	}
}

func (o *Orchestrator) announce(ctx context.Context, old, candidate RoomStatus) {
	if o.matrix == nil {
		return
	}
	// A closure is told to whoever last saw the room open. Coming from
	// StatusUnknown that is nobody.
	audience := candidate
	if candidate == StatusClosed {
		audience = old
	}
	o.sendAll(ctx, o.table.AnnounceRooms(audience), candidate)

	// Public rooms must not learn that the room went internal rather than
	// closed.
	if candidate == StatusInternalOpen && old == StatusPublicOpen {
		o.sendAll(ctx, o.table.AnnounceRooms(StatusPublicOpen), StatusClosed)
	}
}

func (o *Orchestrator) sendAll(ctx context.Context, rooms []id.RoomID, shown RoomStatus) {
	if len(rooms) == 0 {
		return
	}
	text := announcementPrefix + o.table.HumanName(shown)
	o.log.Debug().
		Array("rooms", exzerolog.ArrayOfStrs(rooms)).
		Str("text", text).
		Msg("Announcing status to Matrix")
	for _, room := range rooms {
		if _, err := o.matrix.SendRoomMessage(ctx, room, text); err != nil {
			o.log.Error().Err(err).Str("room_id", string(room)).Msg("Failed to announce status")
		}
	}
}

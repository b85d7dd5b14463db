// Copyright 2024-2026 Aiku AI

package roomstatus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const (
	publicRoom   = id.RoomID("!public:example.org")
	internalRoom = id.RoomID("!internal:example.org")
	staffRoom    = id.RoomID("!staff:example.org")
	closedRoom   = id.RoomID("!closed:example.org")
)

var errFake = errors.New("fake failure")

// fakeLED records its state and every Set call.
type fakeLED struct {
	mu    sync.Mutex
	on    bool
	calls int
	err   error
}

func (l *fakeLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return l.err
	}
	l.on = on
	return nil
}

func (l *fakeLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *fakeLED) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type sentMessage struct {
	Room id.RoomID
	Text string
}

// fakeAnnouncer records room messages and fails for rooms in FailRooms.
type fakeAnnouncer struct {
	mu        sync.Mutex
	sent      []sentMessage
	FailRooms map[id.RoomID]bool
}

func (a *fakeAnnouncer) SendRoomMessage(_ context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailRooms[roomID] {
		return "", errFake
	}
	a.sent = append(a.sent, sentMessage{Room: roomID, Text: text})
	return id.EventID("$sent"), nil
}

func (a *fakeAnnouncer) Sent() []sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMessage(nil), a.sent...)
}

type publishCall struct {
	Status RoomStatus
	Retain bool
}

// fakePublisher records broker publishes.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishCall
	err       error
}

func (p *fakePublisher) PublishStatus(status RoomStatus, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishCall{Status: status, Retain: retain})
	return nil
}

func (p *fakePublisher) Published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.published...)
}

// fakeButton is pressed while its flag is set.
type fakeButton struct {
	pressed atomic.Bool
}

func (b *fakeButton) Pressed() bool {
	return b.pressed.Load()
}

// testTable returns a status table with distinct rooms per status.
func testTable(t *testing.T) *StatusTable {
	t.Helper()
	table, err := NewStatusTable(map[RoomStatus]StatusConfig{
		StatusPublicOpen:   {HumanName: "Open", BrokerName: "open", LEDPin: "GPIO17", AnnounceRooms: []id.RoomID{publicRoom}},
		StatusInternalOpen: {HumanName: "Internal", BrokerName: "internal", LEDPin: "GPIO27", AnnounceRooms: []id.RoomID{internalRoom, staffRoom}},
		StatusClosed:       {HumanName: "Closed", BrokerName: "closed", LEDPin: "GPIO22", AnnounceRooms: []id.RoomID{closedRoom}},
	})
	if err != nil {
		t.Fatalf("NewStatusTable: %v", err)
	}
	return table
}

// harness wires an orchestrator to fakes and a fake clock.
type harness struct {
	orch   *Orchestrator
	clock  clockwork.FakeClock
	leds   map[RoomStatus]*fakeLED
	matrix *fakeAnnouncer
	broker *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
		leds:   make(map[RoomStatus]*fakeLED),
		matrix: &fakeAnnouncer{FailRooms: make(map[id.RoomID]bool)},
		broker: &fakePublisher{},
	}
	leds := make(map[RoomStatus]LED)
	for _, status := range ConcreteStatuses {
		h.leds[status] = &fakeLED{}
		leds[status] = h.leds[status]
	}
	h.orch = NewOrchestrator(OrchestratorParams{
		Table:  testTable(t),
		LEDs:   leds,
		Matrix: h.matrix,
		Broker: h.broker,
		Clock:  h.clock,
		Log:    zerolog.Nop(),
	})
	return h
}

// litLEDs returns the statuses whose LED is on.
func (h *harness) litLEDs() []RoomStatus {
	var lit []RoomStatus
	for _, status := range ConcreteStatuses {
		if h.leds[status].On() {
			lit = append(lit, status)
		}
	}
	return lit
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

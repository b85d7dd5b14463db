// Copyright 2024-2026 Aiku AI

package roomstatus

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often buttons are sampled.
const DefaultPollInterval = 50 * time.Millisecond

const requestQueueSize = 16

// Button is a status selector input.
type Button interface {
	Pressed() bool
}

// Poller is polled from the loop goroutine at its own interval.
type Poller interface {
	Poll(ctx context.Context)
	Interval() time.Duration
}

// LoopParams holds the collaborators of a Loop.
type LoopParams struct {
	Orchestrator *Orchestrator
	Buttons      map[RoomStatus]Button
	Pollers      []Poller
	Clock        Clock
	PollInterval time.Duration
	// Heartbeat runs after every tick.
	Heartbeat func()
	Log       zerolog.Logger
}

// Loop is the single consumer of transition requests. Buttons, pollers and
// queued requests from other goroutines all reach the orchestrator from the
// goroutine running Run.
type Loop struct {
	orch      *Orchestrator
	buttons   map[RoomStatus]Button
	pollers   []Poller
	clock     Clock
	interval  time.Duration
	heartbeat func()
	log       zerolog.Logger

	requests chan Request
}

func NewLoop(params LoopParams) *Loop {
	clock := params.Clock
	if clock == nil {
		clock = RealClock()
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Loop{
		orch:      params.Orchestrator,
		buttons:   params.Buttons,
		pollers:   params.Pollers,
		clock:     clock,
		interval:  interval,
		heartbeat: params.Heartbeat,
		log:       params.Log.With().Str("component", "loop").Logger(),
		requests:  make(chan Request, requestQueueSize),
	}
}

// Enqueue hands a request to the loop goroutine. It never blocks: when the
// queue is full the request is dropped and false is returned.
func (l *Loop) Enqueue(req Request) bool {
	select {
	case l.requests <- req:
		return true
	default:
		l.log.Warn().
			Stringer("status", req.Status).
			Stringer("source", req.Source).
			Msg("Request queue full, dropping status request")
		return false
	}
}

// Run processes requests until ctx is done. It starts with the boot
// request, which lights nothing and announces nothing.
func (l *Loop) Run(ctx context.Context) {
	l.orch.RequestTransition(ctx, Request{Status: StatusUnknown, Source: SourceBoot})

	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()
	nextPoll := make([]time.Time, len(l.pollers))

	l.log.Info().Dur("poll_interval", l.interval).Int("pollers", len(l.pollers)).Msg("Control loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Control loop stopped")
			return
		case req := <-l.requests:
			l.handle(ctx, req)
		case now := <-ticker.Chan():
			l.checkButtons(ctx)
			for i, poller := range l.pollers {
				if now.Before(nextPoll[i]) {
					continue
				}
				poller.Poll(ctx)
				nextPoll[i] = now.Add(poller.Interval())
			}
			if l.heartbeat != nil {
				l.heartbeat()
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, req Request) {
	decision := l.orch.RequestTransition(ctx, req)
	if !decision.Accepted {
		l.log.Debug().
			Stringer("status", req.Status).
			Stringer("source", req.Source).
			Stringer("reason", decision.Reason).
			Msg("Status request rejected")
	}
}

// checkButtons requests the status of every button held down. Buttons are
// active-low and not edge triggered, so a held button keeps requesting;
// the orchestrator turns the repeats into no-ops.
func (l *Loop) checkButtons(ctx context.Context) {
	for _, status := range ConcreteStatuses {
		button, ok := l.buttons[status]
		if !ok || button == nil || !button.Pressed() {
			continue
		}
		l.handle(ctx, Request{Status: status, Source: SourceButton})
	}
}

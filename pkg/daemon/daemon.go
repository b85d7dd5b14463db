// Copyright 2024-2026 Aiku AI

// Package daemon wires the room status sign together from its config: GPIO,
// Matrix, MQTT and the control loop.
package daemon

import (
	"context"
	"fmt"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/aiku/roomstatus/pkg/hardware"
	"github.com/aiku/roomstatus/pkg/matrixclient"
	"github.com/aiku/roomstatus/pkg/mqttbridge"
	"github.com/aiku/roomstatus/pkg/roomstatus"
)

// Daemon owns every collaborator of a running sign.
type Daemon struct {
	cfg *Config
	log zerolog.Logger

	session   *matrixclient.Session
	transport *mqttbridge.PahoTransport
	bridge    *mqttbridge.Bridge

	Orchestrator *roomstatus.Orchestrator
	Loop         *roomstatus.Loop
}

// New builds the daemon. Hardware and Matrix problems are fatal here; the
// broker is only dialled by Run.
func New(ctx context.Context, cfg *Config, log zerolog.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, log: log}
	table := cfg.StatusTable()

	leds, buttons, err := d.openHardware(table)
	if err != nil {
		return nil, err
	}

	params := roomstatus.OrchestratorParams{
		Table: table,
		LEDs:  leds,
		Log:   log,
	}
	if cfg.Matrix.Enabled() {
		d.session, err = matrixclient.NewSession(cfg.Matrix, matrixclient.NTPTimeSource(cfg.Matrix.NTPServer), log)
		if err != nil {
			return nil, err
		}
		if err = d.session.Start(ctx); err != nil {
			return nil, err
		}
		params.Matrix = d.session
	} else {
		log.Info().Msg("Matrix is not configured, announcements are disabled")
	}
	if cfg.MQTT.Enabled() {
		d.transport = mqttbridge.NewPahoTransport(cfg.MQTT, log)
		d.bridge = mqttbridge.New(d.transport, table, cfg.MQTT.StatusTopic, log)
		params.Broker = d.bridge
	} else {
		log.Info().Msg("MQTT is not configured, broker updates are disabled")
	}
	d.Orchestrator = roomstatus.NewOrchestrator(params)

	// Chat control enqueues into the loop it is polled by.
	enqueue := func(req roomstatus.Request) bool {
		return d.Loop.Enqueue(req)
	}
	var pollers []roomstatus.Poller
	if cfg.Control.Enabled() {
		control, err := roomstatus.NewChatControl(cfg.Control, d.session, enqueue, log)
		if err != nil {
			return nil, err
		}
		pollers = append(pollers, control)
	}
	d.Loop = roomstatus.NewLoop(roomstatus.LoopParams{
		Orchestrator: d.Orchestrator,
		Buttons:      buttons,
		Pollers:      pollers,
		PollInterval: cfg.Hardware.PollInterval,
		Heartbeat:    watchdogHeartbeat(log),
		Log:          log,
	})

	if d.bridge != nil {
		err = d.bridge.Subscribe(func(status roomstatus.RoomStatus) {
			enqueue(roomstatus.Request{Status: status, Source: roomstatus.SourceNetwork, Force: true})
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Daemon) openHardware(table *roomstatus.StatusTable) (map[roomstatus.RoomStatus]roomstatus.LED, map[roomstatus.RoomStatus]roomstatus.Button, error) {
	leds := make(map[roomstatus.RoomStatus]roomstatus.LED)
	buttons := make(map[roomstatus.RoomStatus]roomstatus.Button)
	if !d.cfg.Hardware.Enabled {
		d.log.Info().Msg("Hardware is disabled, running without LEDs and buttons")
		return leds, buttons, nil
	}
	if err := hardware.Init(); err != nil {
		return nil, nil, err
	}
	for _, status := range roomstatus.ConcreteStatuses {
		cfg, _ := table.Lookup(status)
		if cfg.LEDPin != "" {
			led, err := hardware.OpenLED(cfg.LEDPin)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: room_status.%s.led_pin: %v", roomstatus.ErrConfig, status.Key(), err)
			}
			leds[status] = led
		}
		if cfg.ButtonPin != "" {
			button, err := hardware.OpenButton(cfg.ButtonPin)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: room_status.%s.button_pin: %v", roomstatus.ErrConfig, status.Key(), err)
			}
			buttons[status] = button
		}
	}
	return leds, buttons, nil
}

// Run connects to the broker and runs the control loop until ctx is done.
// A broker that is down is not fatal; the client keeps retrying.
func (d *Daemon) Run(ctx context.Context) error {
	if d.transport != nil {
		if err := d.transport.Connect(); err != nil {
			d.log.Warn().Err(err).Msg("Broker not reachable yet, retrying in the background")
		}
	}
	notify(d.log, systemd.SdNotifyReady)
	d.Loop.Run(ctx)
	notify(d.log, systemd.SdNotifyStopping)
	return nil
}

// Close releases the broker connection.
func (d *Daemon) Close() {
	if d.transport != nil {
		d.transport.Close()
	}
}

func notify(log zerolog.Logger, state string) {
	if _, err := systemd.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("Failed to notify systemd")
	}
}

// watchdogHeartbeat returns a loop heartbeat that pets the systemd watchdog
// at half its interval, or nil when no watchdog is configured.
func watchdogHeartbeat(log zerolog.Logger) func() {
	interval, err := systemd.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	log.Info().Dur("interval", interval).Msg("Systemd watchdog enabled")
	var last time.Time
	return func() {
		if time.Since(last) < interval/2 {
			return
		}
		last = time.Now()
		notify(log, systemd.SdNotifyWatchdog)
	}
}

// Copyright 2024-2026 Aiku AI

package roomstatus

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

// ErrConfig marks configuration problems that must stop the process at startup.
var ErrConfig = errors.New("invalid configuration")

// DefaultSection is the room_status section every status inherits from.
const DefaultSection = "_default"

// StatusConfig holds the resolved settings for one concrete status.
type StatusConfig struct {
	HumanName  string `yaml:"human_name"`
	BrokerName string `yaml:"mqtt_name"`
	// LEDPin and ButtonPin are periph pin names such as "GPIO17". Empty
	// means the status has no LED or no button.
	LEDPin        string      `yaml:"led_pin"`
	ButtonPin     string      `yaml:"button_pin"`
	AnnounceRooms []id.RoomID `yaml:"matrix_rooms"`
}

// StatusTable is the read-only lookup of StatusConfig by status.
type StatusTable struct {
	configs map[RoomStatus]StatusConfig
}

// NewStatusTable validates that every concrete status has a usable config
// and that broker names are unique, so payloads map back unambiguously.
func NewStatusTable(configs map[RoomStatus]StatusConfig) (*StatusTable, error) {
	table := &StatusTable{configs: make(map[RoomStatus]StatusConfig, len(ConcreteStatuses))}
	seen := make(map[string]RoomStatus, len(ConcreteStatuses))
	for _, status := range ConcreteStatuses {
		cfg, ok := configs[status]
		if !ok {
			return nil, fmt.Errorf("%w: room_status.%s is missing", ErrConfig, status.Key())
		}
		if cfg.HumanName == "" {
			return nil, fmt.Errorf("%w: room_status.%s.human_name is required", ErrConfig, status.Key())
		}
		if cfg.BrokerName == "" {
			return nil, fmt.Errorf("%w: room_status.%s.mqtt_name is required", ErrConfig, status.Key())
		}
		if other, dup := seen[cfg.BrokerName]; dup {
			return nil, fmt.Errorf("%w: room_status.%s.mqtt_name %q is already used by %s",
				ErrConfig, status.Key(), cfg.BrokerName, other.Key())
		}
		seen[cfg.BrokerName] = status
		cfg.AnnounceRooms = append([]id.RoomID(nil), cfg.AnnounceRooms...)
		table.configs[status] = cfg
	}
	return table, nil
}

// ResolveStatusTable overlays each status section on top of the _default
// section. Keys present in a status section replace the default value; keys
// it omits are inherited.
func ResolveStatusTable(sections map[string]yaml.Node) (*StatusTable, error) {
	var defaults StatusConfig
	if node, ok := sections[DefaultSection]; ok {
		if err := node.Decode(&defaults); err != nil {
			return nil, fmt.Errorf("%w: failed to decode room_status.%s: %v", ErrConfig, DefaultSection, err)
		}
	}
	configs := make(map[RoomStatus]StatusConfig, len(ConcreteStatuses))
	for _, status := range ConcreteStatuses {
		cfg := defaults
		cfg.AnnounceRooms = append([]id.RoomID(nil), defaults.AnnounceRooms...)
		if node, ok := sections[status.Key()]; ok {
			if err := node.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("%w: failed to decode room_status.%s: %v", ErrConfig, status.Key(), err)
			}
			clearNullPins(&node, &cfg)
		}
		configs[status] = cfg
	}
	return NewStatusTable(configs)
}

// clearNullPins drops pins a section explicitly set to null. yaml.v3 leaves
// string fields untouched on null, which would keep the inherited pin.
func clearNullPins(node *yaml.Node, cfg *StatusConfig) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i+1].Tag != "!!null" {
			continue
		}
		switch node.Content[i].Value {
		case "led_pin":
			cfg.LEDPin = ""
		case "button_pin":
			cfg.ButtonPin = ""
		}
	}
}

// Lookup returns the config for a concrete status. StatusUnknown has none.
func (t *StatusTable) Lookup(status RoomStatus) (StatusConfig, bool) {
	cfg, ok := t.configs[status]
	return cfg, ok
}

// HumanName is the display name used in announcements.
func (t *StatusTable) HumanName(status RoomStatus) string {
	if cfg, ok := t.configs[status]; ok {
		return cfg.HumanName
	}
	return "Unknown"
}

// BrokerName is the wire representation of a status. A status without a
// config is reported to the broker as closed.
func (t *StatusTable) BrokerName(status RoomStatus) string {
	if cfg, ok := t.configs[status]; ok {
		return cfg.BrokerName
	}
	return t.configs[StatusClosed].BrokerName
}

// StatusFromBrokerName is the reverse of BrokerName for concrete statuses.
// Payloads that match nothing yield StatusUnknown.
func (t *StatusTable) StatusFromBrokerName(name string) RoomStatus {
	for _, status := range ConcreteStatuses {
		if t.configs[status].BrokerName == name {
			return status
		}
	}
	return StatusUnknown
}

// AnnounceRooms returns the rooms configured for a status, or nil for
// StatusUnknown.
func (t *StatusTable) AnnounceRooms(status RoomStatus) []id.RoomID {
	return t.configs[status].AnnounceRooms
}

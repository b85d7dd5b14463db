// Copyright 2024-2026 Aiku AI

package roomstatus

import (
	"fmt"
	"strings"
)

// RoomStatus is the visibility level shown on the sign.
type RoomStatus int

const (
	// StatusUnknown is the boot state. No transition ever targets it.
	StatusUnknown RoomStatus = iota
	StatusPublicOpen
	StatusInternalOpen
	StatusClosed
)

// ConcreteStatuses lists every status that has a configuration, in the
// order used for LED sync and reverse lookups.
var ConcreteStatuses = []RoomStatus{StatusPublicOpen, StatusInternalOpen, StatusClosed}

// IsConcrete reports whether s is anything other than StatusUnknown.
func (s RoomStatus) IsConcrete() bool {
	switch s {
	case StatusPublicOpen, StatusInternalOpen, StatusClosed:
		return true
	default:
		return false
	}
}

// Key returns the configuration section name for the status.
func (s RoomStatus) Key() string {
	switch s {
	case StatusPublicOpen:
		return "public_open"
	case StatusInternalOpen:
		return "internal_open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s RoomStatus) String() string {
	return s.Key()
}

// ParseStatus maps a configuration section name back to a status.
func ParseStatus(key string) (RoomStatus, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "public_open":
		return StatusPublicOpen, nil
	case "internal_open":
		return StatusInternalOpen, nil
	case "closed":
		return StatusClosed, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown room status %q", key)
	}
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package roomstatus holds the state machine of a room status door sign.
//
// # Core Types
//
// [Orchestrator] owns the current [RoomStatus]. Every candidate change goes
// through [Orchestrator.RequestTransition], which rejects repeats and
// changes inside [DebounceWindow] unless the request is forced. An accepted
// change lights exactly one [LED], then publishes to the broker and
// announces in Matrix when the request came from a button or chat.
//
// [Loop] is the only caller of the orchestrator once the sign runs. It
// samples [Button] inputs on a ticker, runs [Poller] implementations such as
// [ChatControl] at their own intervals, and drains requests queued from
// other goroutines with [Loop.Enqueue].
//
// [StatusTable] is the per status configuration resolved from the
// room_status config section.
package roomstatus

package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultKeep is the number of records retained when Config.Keep is 0.
const DefaultKeep = 1000

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int
}

func (c Config) keep() int {
	if c.Keep <= 0 {
		return DefaultKeep
	}
	return c.Keep
}

// CollectionRecord describes one completed collection.
// Keep it compact and schema-stable.
type CollectionRecord struct {
	At           time.Time     `json:"at"`
	Run          string        `json:"run,omitempty"` // process instance that recorded it
	Epoch        uint64        `json:"epoch"`
	Policy       string        `json:"policy"`
	Reason       string        `json:"reason"`
	LiveSetBytes uint64        `json:"live_set_bytes"`
	TargetBefore uint64        `json:"target_before"`
	TargetAfter  uint64        `json:"target_after"`
	Pause        time.Duration `json:"pause_ns"`
}

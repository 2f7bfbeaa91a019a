package channel

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ripkitten-co/inkwell"
)

// Position is the monotonic, per-channel sequence number of an event. The
// first event of a channel has position 1.
type Position int64

const (
	// Earliest subscribes from the first event of a channel.
	Earliest Position = 0
	// Latest subscribes to events appended after the subscription starts.
	Latest Position = -1
)

// Record is an event as delivered by a transport, before its checksum has
// been verified.
type Record struct {
	Channel   string
	Position  Position
	Timestamp time.Time
	Payload   []byte
	Checksum  uint64
}

// Event is an immutable, verified record.
type Event struct {
	Channel   string
	Position  Position
	Timestamp time.Time
	Payload   []byte
	Checksum  uint64
}

// Checksum computes the integrity checksum of a payload.
func Checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// NewRecord builds a record with a freshly computed checksum. Transports use
// it when appending.
func NewRecord(name string, pos Position, ts time.Time, payload []byte) Record {
	return Record{
		Channel:   name,
		Position:  pos,
		Timestamp: ts,
		Payload:   payload,
		Checksum:  Checksum(payload),
	}
}

// Decode verifies the record checksum and returns the event. A mismatch
// yields an error wrapping inkwell.ErrCorrupt.
func Decode(rec Record) (Event, error) {
	if sum := Checksum(rec.Payload); sum != rec.Checksum {
		return Event{}, fmt.Errorf("channel %s: position %d: checksum %016x, want %016x: %w",
			rec.Channel, rec.Position, sum, rec.Checksum, inkwell.ErrCorrupt)
	}
	return Event(rec), nil
}

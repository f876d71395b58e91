package fluid

import (
	"fmt"
	"time"

	"github.com/nskv/kvsd/pkg/kvserr"
)

const (
	bitsSeq = 10
	bitsID  = 14
	bitsTs  = 40

	maxSeq = (1 << bitsSeq) - 1
	maxID  = (1 << bitsID) - 1
	maxTs  = (1 << bitsTs) - 1
)

// ID is a generated FLUID value.
type ID uint64

// Timestamp extracts the millisecond timestamp embedded in id.
func (id ID) Timestamp() uint64 { return uint64(id) >> (bitsSeq + bitsID) }

// GeneratorID extracts the generator id embedded in id.
func (id ID) GeneratorID() uint16 { return uint16((uint64(id) >> bitsSeq) & maxID) }

// Seq extracts the sequence number embedded in id.
func (id ID) Seq() uint16 { return uint16(uint64(id) & maxSeq) }

// Validate checks that id's fields are within their bit widths. Decoders
// call this after reassembling a value from a string form.
func (id ID) Validate() error {
	if id.Timestamp() > maxTs {
		return fmt.Errorf("%w: fluid timestamp out of range", kvserr.ErrInval)
	}
	return nil
}

// processStart anchors the monotonic clock readings used by currentDS;
// time.Since on a value from time.Now() is backed by the Go runtime's
// monotonic clock reading, matching the CLOCK_MONOTONIC source it mirrors.
var processStart = time.Now()

func currentDS() uint64 {
	return uint64(time.Since(processStart).Milliseconds())
}

// Generator produces strictly increasing FLUID values for one generator id.
type Generator struct {
	id          uint16
	seq         uint16
	clockZero   uint64
	clockOffset uint64
	timestamp   uint64
}

// NewGenerator creates a generator with the given id (< 2^14) and an
// initial timestamp baseline (normally 0, or a restored checkpoint value).
func NewGenerator(id uint32, startingTimestamp uint64) (*Generator, error) {
	if id > maxID {
		return nil, fmt.Errorf("%w: generator id %d exceeds %d bits", kvserr.ErrInval, id, bitsID)
	}
	return &Generator{
		id:          uint16(id),
		clockZero:   currentDS(),
		clockOffset: startingTimestamp,
		timestamp:   startingTimestamp,
	}, nil
}

func (g *Generator) updateTimestamp() error {
	clock := currentDS()
	ts := clock - g.clockZero + g.clockOffset
	if ts > maxTs {
		return fmt.Errorf("%w: fluid timestamp range exhausted", kvserr.ErrOverflow)
	}
	if ts > g.timestamp {
		g.seq = 0
		g.timestamp = ts
	}
	return nil
}

// Generate returns the next strictly increasing ID. It busy-waits, bounded
// by roughly one millisecond, if the 1024-per-ms sequence space for the
// current timestamp is exhausted.
func (g *Generator) Generate() (ID, error) {
	for {
		if err := g.updateTimestamp(); err != nil {
			return 0, err
		}
		if g.seq < (1 << bitsSeq) {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
	val := ID(g.timestamp<<(bitsSeq+bitsID) | uint64(g.id)<<bitsSeq | uint64(g.seq))
	g.seq++
	return val, nil
}

// SaveTimestamp advances the generator's clock and returns the current
// embedded timestamp, without allocating a new ID.
func (g *Generator) SaveTimestamp() (uint64, error) {
	if err := g.updateTimestamp(); err != nil {
		return 0, err
	}
	return g.timestamp, nil
}

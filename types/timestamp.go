package types

import (
	"time"
)

const (
	// BlockIntervalMs is the duration of one production slot
	BlockIntervalMs = 500

	// BlockTimestampEpochMs is the Unix time, in milliseconds, of slot zero
	// (2000-01-01T00:00:00Z).
	BlockTimestampEpochMs = 946684800000
)

// BlockTimestamp counts production slots since the block timestamp epoch.
type BlockTimestamp uint32

// BlockTimestampFromTime returns the slot containing t. Times before the
// epoch map to slot zero.
func BlockTimestampFromTime(t time.Time) BlockTimestamp {
	ms := t.UnixMilli() - BlockTimestampEpochMs
	if ms < 0 {
		return 0
	}
	return BlockTimestamp(ms / BlockIntervalMs)
}

// Time returns the start of the slot
func (ts BlockTimestamp) Time() time.Time {
	return time.UnixMilli(BlockTimestampEpochMs + int64(ts)*BlockIntervalMs).UTC()
}

// Next returns the following slot
func (ts BlockTimestamp) Next() BlockTimestamp {
	return ts + 1
}

// String formats the slot start time
func (ts BlockTimestamp) String() string {
	return ts.Time().Format("2006-01-02T15:04:05.000")
}

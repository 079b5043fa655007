package snowflake

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Epoch is the Discord epoch (2015-01-01T00:00:00Z) in Unix milliseconds.
const Epoch uint64 = 1420070400000

const timestampShift = 22

// ErrOverflow is returned when a decoded time does not fit the target representation.
var ErrOverflow = errors.New("snowflake: timestamp overflow")

// UnixMilli decodes the creation time of a snowflake in Unix milliseconds.
func UnixMilli(id uint64) (uint64, error) {
	ms := id >> timestampShift
	if ms > math.MaxUint64-Epoch {
		return 0, ErrOverflow
	}
	return ms + Epoch, nil
}

// Time decodes the creation time of a snowflake.
func Time(id uint64) (time.Time, error) {
	ms, err := UnixMilli(id)
	if err != nil {
		return time.Time{}, err
	}
	// time.UnixMicro takes an int64; keep the multiplication in range.
	if ms > math.MaxInt64/1000 {
		return time.Time{}, ErrOverflow
	}
	return time.UnixMicro(int64(ms) * 1000).UTC(), nil
}

// Timestamp parses a decimal snowflake and decodes its creation time.
func Timestamp(id string) (time.Time, error) {
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("snowflake: parse %q: %w", id, err)
	}
	return Time(v)
}

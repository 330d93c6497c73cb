// Package timestamp normalizes the timestamp formats providers emit. SaaS
// APIs disagree on how they encode times: RFC 3339 strings, epoch seconds,
// epoch milliseconds, sometimes as JSON numbers and sometimes as numeric
// strings. Everything funnels through Parse into Unix milliseconds, where 0
// means "not set".
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. Zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to UTC time. 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Parse interprets a raw provider value as a timestamp, returning Unix
// milliseconds or 0 when the value is absent or unparseable. Numbers above
// 1e12 are taken as milliseconds, below as seconds; strings try RFC 3339
// first, then numeric forms.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case int32:
		return fromEpoch(int64(v))
	case float64:
		if v > 1e12 {
			return int64(v)
		}
		return int64(v * 1000)
	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return fromEpoch(n)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Parse(f)
		}
		return 0
	case time.Time:
		return ToUnixMs(v)
	case *time.Time:
		if v == nil {
			return 0
		}
		return ToUnixMs(*v)
	default:
		return 0
	}
}

func fromEpoch(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > 1e12 {
		return v
	}
	return v * 1000
}

// IsZero reports whether a timestamp is unset.
func IsZero(ms int64) bool {
	return ms == 0
}

// Since returns the duration since the timestamp, or 0 when unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// Max returns the later of two timestamps, treating unset as earliest.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

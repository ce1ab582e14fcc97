package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedTimestamp marks a timestamp that could not be interpreted.
// The value normalizes to 0 so the message sorts as oldest.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// secondsCutoff separates second epochs from millisecond epochs. Anything
// above it is already in milliseconds.
const secondsCutoff = 9_999_999_999

// Timestamp is a provider timestamp split into seconds and nanoseconds.
type Timestamp struct {
	Seconds     int64
	Nanoseconds int32
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// NormalizeTimestamp converts any supported timestamp shape into a millisecond
// epoch. Rules, in priority order: objects carrying seconds become seconds*1000;
// strings are parsed as dates; numbers above 9,999,999,999 are milliseconds,
// others seconds; missing values are 0. Unparseable values return 0 and
// ErrMalformedTimestamp.
func NormalizeTimestamp(v any) (int64, error) {
	switch ts := v.(type) {
	case nil:
		return 0, nil
	case Timestamp:
		return ts.Seconds * 1000, nil
	case *Timestamp:
		if ts == nil {
			return 0, nil
		}
		return ts.Seconds * 1000, nil
	case time.Time:
		if ts.IsZero() {
			return 0, nil
		}
		return ts.UnixMilli(), nil
	case map[string]any:
		for _, key := range []string{"seconds", "_seconds"} {
			if s, ok := ts[key]; ok {
				n, ok := number(s)
				if !ok {
					return 0, fmt.Errorf("%w: %s is %T", ErrMalformedTimestamp, key, s)
				}
				return int64(n) * 1000, nil
			}
		}
		return 0, fmt.Errorf("%w: object without seconds", ErrMalformedTimestamp)
	case string:
		return parseDate(ts)
	default:
		n, ok := number(v)
		if !ok {
			return 0, fmt.Errorf("%w: unsupported type %T", ErrMalformedTimestamp, v)
		}
		if n > secondsCutoff {
			return int64(n), nil
		}
		return int64(n * 1000), nil
	}
}

// NormalizeTimestampOrZero drops the error from NormalizeTimestamp.
func NormalizeTimestampOrZero(v any) int64 {
	ms, _ := NormalizeTimestamp(v)
	return ms
}

func parseDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

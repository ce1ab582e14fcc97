package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"provider object", map[string]any{"seconds": float64(1700000000), "nanoseconds": float64(5)}, 1700000000000, false},
		{"admin sdk object", map[string]any{"_seconds": float64(1700000000)}, 1700000000000, false},
		{"timestamp struct", Timestamp{Seconds: 1700000000}, 1700000000000, false},
		{"iso string", "2023-11-14T00:00:00Z", 1699920000000, false},
		{"date only", "2023-11-14", 1699920000000, false},
		{"seconds number", float64(1700000000), 1700000000000, false},
		{"seconds int", 1700000000, 1700000000000, false},
		{"millis number", float64(1700000000000), 1700000000000, false},
		{"millis int64", int64(1700000000000), 1700000000000, false},
		{"json number", json.Number("1700000000"), 1700000000000, false},
		{"cutoff is seconds", int64(9_999_999_999), 9_999_999_999_000, false},
		{"missing", nil, 0, false},
		{"time value", time.Unix(1700000000, 0), 1700000000000, false},
		{"garbage string", "yesterday-ish", 0, true},
		{"object without seconds", map[string]any{"nanos": 1}, 0, true},
		{"bool", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeTimestamp(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedTimestamp) {
				t.Errorf("error = %v, want ErrMalformedTimestamp", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeTimestamp(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTimestampDeterministic(t *testing.T) {
	inputs := []any{"2023-11-14T00:00:00Z", float64(1700000000), map[string]any{"seconds": float64(1)}, nil}
	for _, in := range inputs {
		a, _ := NormalizeTimestamp(in)
		b, _ := NormalizeTimestamp(in)
		if a != b {
			t.Errorf("NormalizeTimestamp(%v) not deterministic: %d vs %d", in, a, b)
		}
	}
}

package config

import "time"

// Duration is a time.Duration written as "30m" in TOML and environment values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func orDefault(d Duration, def time.Duration) Duration {
	if d.Duration <= 0 {
		return Duration{def}
	}
	return d
}

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config values can be written either as Go
// duration strings ("250ms", "1h30m") or as bare numeric seconds. Negative
// values are rejected; nothing in the crawler waits a negative amount of
// time.
type Duration struct {
	time.Duration
}

// DurationFrom creates a Duration from a standard time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	return d.setString(string(text))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		d.Duration = 0
		return nil
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("duration should be a string or number: %w", err)
	}
	return d.decode(raw)
}

// MarshalYAML emits duration values as strings.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML accepts either a string duration or numeric seconds.
func (d *Duration) UnmarshalYAML(value func(any) error) error {
	var raw any
	if err := value(&raw); err != nil {
		return err
	}
	return d.decode(raw)
}

func (d *Duration) decode(raw any) error {
	switch v := raw.(type) {
	case nil:
		d.Duration = 0
		return nil
	case string:
		return d.setString(v)
	case int:
		return d.setSeconds(float64(v))
	case int64:
		return d.setSeconds(float64(v))
	case float64:
		return d.setSeconds(v)
	default:
		return fmt.Errorf("unsupported duration type %T", raw)
	}
}

func (d *Duration) setString(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) setSeconds(secs float64) error {
	if secs < 0 {
		return fmt.Errorf("duration %g must not be negative", secs)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// IsZero reports whether the duration is zero.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}

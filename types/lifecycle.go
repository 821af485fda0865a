package types

import (
	"fmt"
	"strings"
	"time"
)

// LifecycleMode selects how long a compose stack lives relative to the tests
// that use it.
type LifecycleMode int

const (
	// LifecycleClass starts one stack for a whole group of tests.
	LifecycleClass LifecycleMode = iota
	// LifecycleMethod starts a fresh stack for every individual test.
	LifecycleMethod
)

func (m LifecycleMode) String() string {
	switch m {
	case LifecycleClass:
		return "class"
	case LifecycleMethod:
		return "method"
	default:
		return fmt.Sprintf("LifecycleMode(%d)", int(m))
	}
}

// ParseLifecycleMode parses "class" or "method" (case-insensitive). The empty
// string yields LifecycleClass.
func ParseLifecycleMode(s string) (LifecycleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "class":
		return LifecycleClass, nil
	case "method":
		return LifecycleMethod, nil
	default:
		return 0, fmt.Errorf("unknown lifecycle %q (want class or method)", s)
	}
}

func (m LifecycleMode) MarshalText() ([]byte, error) {
	switch m {
	case LifecycleClass, LifecycleMethod:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("invalid lifecycle mode %d", int(m))
	}
}

func (m *LifecycleMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLifecycleMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30s", "2m") in YAML, TOML and JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

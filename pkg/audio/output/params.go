// ABOUTME: Per-output configuration parameters
// ABOUTME: Typed accessors over the key/value pairs of an output block
package output

import (
	"fmt"
	"strconv"
	"time"
)

// Params holds the plugin-specific keys of an output block
type Params map[string]string

// Get returns the value for key or def when absent
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Require returns the value for key or an ErrConfig when it is missing
func (p Params) Require(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing %q", ErrConfig, key)
	}
	return v, nil
}

// Bool parses key as a boolean
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch v {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %q is not a boolean: %q", ErrConfig, key, v)
	}
	return b, nil
}

// Int parses key as an integer
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %q is not an integer: %q", ErrConfig, key, v)
	}
	return n, nil
}

// Duration parses key as a Go duration, or as milliseconds when unitless
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %q is not a duration: %q", ErrConfig, key, v)
	}
	return d, nil
}

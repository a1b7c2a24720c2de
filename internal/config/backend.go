package config

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// ConfigBackend abstracts platform-specific config storage: UserDefaults on
// macOS, a JSON file elsewhere. Getters report ok=false for unset keys.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	GetFloat(key string) (val float64, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	SetFloat(key string, val float64) error
	Delete(key string) error
}

// typed converts a stored value. Hand-edited files may hold "4100" where
// 4100 is expected, so strings are accepted for every kind.
func typed[T any](key string, raw any, present bool, conv func(any) (T, error)) (T, bool, error) {
	var zero T
	if !present {
		return zero, false, nil
	}
	v, err := conv(raw)
	if err != nil {
		return zero, true, fmt.Errorf("config key %s: %w", key, err)
	}
	return v, true, nil
}

// toInt rejects fractional numbers, which cast would truncate.
func toInt(raw any) (int, error) {
	if f, ok := raw.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return cast.ToIntE(raw)
}

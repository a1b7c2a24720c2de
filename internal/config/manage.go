package config

import "fmt"

// KeyInfo is one row of `kc config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
		}
	}
	return out
}

// ValidKeys returns the names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SetKey parses value for key's type and stores it in the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored key so its default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func plainSpec(key string) (keySpec, error) {
	s, err := lookupSpec(key)
	if err != nil {
		return s, err
	}
	if s.secret {
		return s, fmt.Errorf("%q is a secret; use `kc config set-secret` (stored in %s) or %s",
			key, secretStoreHint(), s.env)
	}
	return s, nil
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := plainSpec(key)
	if err != nil {
		return err
	}
	v, err := s.typ.parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch v := v.(type) {
	case int:
		return b.SetInt(key, v)
	case bool:
		return b.SetBool(key, v)
	case float64:
		return b.SetFloat(key, v)
	default:
		return b.SetString(key, value)
	}
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := plainSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// Package hyperparams parses user-provided hyperparameter overrides, given as a
// comma-separated configuration string like "kan,batch_size=64,learning_rate=0.01".
//
// Keys without a value parse as boolean true. Values are converted lazily, at the
// point where a typed default is supplied.
package hyperparams

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Set holds parsed configuration entries, still as strings.
type Set map[string]string

// Value enumerates the types a hyperparameter can be read as.
type Value interface {
	~bool | ~string | constraints.Integer | constraints.Float
}

// FromConfig parses a configuration string into a Set.
// Entries are comma-separated; each entry is either "key" or "key=value".
func FromConfig(config string) Set {
	set := make(Set)
	if config == "" {
		return set
	}
	for _, entry := range strings.Split(config, ",") {
		key, value, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			set[key] = ""
			continue
		}
		set[key] = value
	}
	return set
}

// GetOr returns the value of key converted to T, or defaultValue if key is absent.
// A key present with an empty value reads as true for bools.
func GetOr[T Value](set Set, key string, defaultValue T) (T, error) {
	raw, found := set[key]
	if !found {
		return defaultValue, nil
	}
	switch any(defaultValue).(type) {
	case string:
		return any(raw).(T), nil
	case bool:
		if raw == "" {
			return any(true).(T), nil
		}
		v, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return defaultValue, errors.Wrapf(err, "hyperparameter %s=%q is not a bool", key, raw)
		}
		return any(v).(T), nil
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return defaultValue, errors.Wrapf(err, "hyperparameter %s=%q is not an int", key, raw)
		}
		return any(v).(T), nil
	case float32:
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return defaultValue, errors.Wrapf(err, "hyperparameter %s=%q is not a float", key, raw)
		}
		return any(float32(v)).(T), nil
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return defaultValue, errors.Wrapf(err, "hyperparameter %s=%q is not a float", key, raw)
		}
		return any(v).(T), nil
	}
	return defaultValue, errors.Errorf("hyperparameter %s: unsupported type %T", key, defaultValue)
}

// PopOr is GetOr followed by removing key from the Set.
// Popping every consumed key allows CheckConsumed to flag typos at the end.
func PopOr[T Value](set Set, key string, defaultValue T) (T, error) {
	value, err := GetOr(set, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(set, key)
	return value, nil
}

// CheckConsumed returns an error listing any keys left in the Set.
// Call it after all known keys were popped: anything left is a typo or an
// unknown hyperparameter.
func CheckConsumed(set Set) error {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return errors.Errorf("unknown hyperparameters: %s", strings.Join(keys, ", "))
}

// Package options implements the validated, observable configuration
// bag (C1, §4.1) that drives every derived view in the service. It is
// hand-rolled validation over a small fixed key set — the same shape
// as ropper.Options in the original implementation — rather than a
// generic config library, matching the teacher's own avoidance of
// config frameworks (internal/database.DBManager, internal/
// container.ContainerScanner are both plain mutex-guarded structs).
package options

import (
	"sync"

	"ropsvc/internal/badbytes"
	"ropsvc/internal/gadget"
	"ropsvc/internal/rerr"
)

// Key names recognized by the registry (§3).
const (
	InstCount = "inst_count"
	Color     = "color"
	BadBytes  = "badbytes"
	All       = "all"
	Type      = "type"
	Detailed  = "detailed"
)

func defaults() map[string]any {
	return map[string]any{
		InstCount: 6,
		Color:     false,
		BadBytes:  "",
		All:       false,
		Type:      string(gadget.KindFilterAll),
		Detailed:  false,
	}
}

// OnChange is invoked synchronously, exactly once, after a Set call
// validates successfully (§4.1).
type OnChange func(key string, old, new any)

// Options is the C1 configuration registry.
type Options struct {
	mu       sync.RWMutex
	values   map[string]any
	order    []string
	onChange OnChange
}

// New validates and normalizes initial, filling in defaults for any
// key not supplied, and returns the registry. onChange may be nil.
func New(initial map[string]any, onChange OnChange) (*Options, error) {
	merged := defaults()
	for k, v := range initial {
		if _, known := merged[k]; !known {
			return nil, &rerr.UnknownOption{Key: k}
		}
		merged[k] = v
	}
	if err := validateAll(merged); err != nil {
		return nil, err
	}
	order := []string{InstCount, Color, BadBytes, All, Type, Detailed}
	return &Options{values: merged, order: order, onChange: onChange}, nil
}

// Get returns the current validated value of key.
func (o *Options) Get(key string) (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[key]
	if !ok {
		return nil, &rerr.UnknownOption{Key: key}
	}
	return v, nil
}

// GetInt is a typed convenience accessor for int-valued options.
func (o *Options) GetInt(key string) (int, error) {
	v, err := o.Get(key)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// GetBool is a typed convenience accessor for bool-valued options.
func (o *Options) GetBool(key string) (bool, error) {
	v, err := o.Get(key)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// GetString is a typed convenience accessor for string-valued
// options.
func (o *Options) GetString(key string) (string, error) {
	v, err := o.Get(key)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// KindFilter returns the validated "type" option as a gadget.KindFilter.
func (o *Options) KindFilter() gadget.KindFilter {
	v, _ := o.GetString(Type)
	return gadget.KindFilter(v)
}

// Set revalidates key against its own rule and the full map (to catch
// cross-key constraints), then invokes onChange synchronously before
// returning (§4.1). onChange runs after the write lock is released, so
// a handler is free to call back into Get/Set on this same registry
// without deadlocking.
func (o *Options) Set(key string, value any) error {
	o.mu.Lock()

	old, ok := o.values[key]
	if !ok {
		o.mu.Unlock()
		return &rerr.UnknownOption{Key: key}
	}

	if err := validateOne(key, value); err != nil {
		o.mu.Unlock()
		return err
	}
	merged := make(map[string]any, len(o.values))
	for k, v := range o.values {
		merged[k] = v
	}
	merged[key] = value
	if err := validateAll(merged); err != nil {
		o.mu.Unlock()
		return err
	}

	o.values = merged
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(key, old, value)
	}
	return nil
}

// Iter yields every (key, value) pair. Ordering is the fixed
// declaration order from §3, which is stable but not semantically
// significant (§4.1 says ordering is unspecified).
func (o *Options) Iter(yield func(key string, value any) bool) {
	o.mu.RLock()
	snapshot := make(map[string]any, len(o.values))
	for k, v := range o.values {
		snapshot[k] = v
	}
	order := append([]string(nil), o.order...)
	o.mu.RUnlock()

	for _, k := range order {
		if !yield(k, snapshot[k]) {
			return
		}
	}
}

func validateOne(key string, value any) error {
	switch key {
	case InstCount:
		n, ok := value.(int)
		if !ok {
			return &rerr.InvalidOption{Key: key, Reason: "must be an int"}
		}
		if n < 1 {
			return &rerr.InvalidOption{Key: key, Reason: "must be greater than 0"}
		}
	case Color, All, Detailed:
		if _, ok := value.(bool); !ok {
			return &rerr.InvalidOption{Key: key, Reason: "must be a bool"}
		}
	case BadBytes:
		s, ok := value.(string)
		if !ok {
			return &rerr.InvalidOption{Key: key, Reason: "must be a string"}
		}
		if _, err := badbytes.Decode(s); err != nil {
			return &rerr.InvalidOption{Key: key, Reason: err.Error()}
		}
	case Type:
		s, ok := value.(string)
		if !ok {
			return &rerr.InvalidOption{Key: key, Reason: "must be a string"}
		}
		switch gadget.Kind(s) {
		case gadget.KindROP, gadget.KindJOP, gadget.KindSYS:
		default:
			if gadget.KindFilter(s) != gadget.KindFilterAll {
				return &rerr.InvalidOption{Key: key, Reason: `must be "rop", "jop", "sys" or "all"`}
			}
		}
	default:
		return &rerr.UnknownOption{Key: key}
	}
	return nil
}

func validateAll(values map[string]any) error {
	for k, v := range values {
		if err := validateOne(k, v); err != nil {
			return err
		}
	}
	return nil
}

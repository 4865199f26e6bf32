package config

import (
	"fmt"
	"strings"
)

// Obj is a JSON-shaped configuration map: the raw key/value bag the
// service's settings are validated out of. Adapted from Perkeep's
// pkg/jsonconfig: required/optional accessors note which keys they
// touched and accumulate errors instead of failing on the first one, so
// a single Validate() call reports every problem in a misconfigured
// deployment at once.
type Obj map[string]interface{}

func (o Obj) RequiredString(key string) string { return o.str(key, nil) }
func (o Obj) OptionalString(key, def string) string { return o.str(key, &def) }

func (o Obj) str(key string, def *string) string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("missing required config key %q (string)", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a string, got %T", key, v))
		return ""
	}
	return s
}

func (o Obj) RequiredInt(key string) int { return o.int(key, nil) }
func (o Obj) OptionalInt(key string, def int) int { return o.int(key, &def) }

func (o Obj) int(key string, def *int) int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("missing required config key %q (integer)", key))
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		o.appendError(fmt.Errorf("config key %q must be a number, got %T", key, v))
		return 0
	}
}

func (o Obj) OptionalBool(key string, def bool) bool {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a boolean, got %T", key, v))
		return def
	}
	return b
}

// OptionalIntPtr distinguishes "absent/null" from a present integer, for
// settings like mask.overlap.color whose zero value is meaningful.
func (o Obj) OptionalIntPtr(key string) *int {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	default:
		o.appendError(fmt.Errorf("config key %q must be a number or null, got %T", key, v))
		return nil
	}
}

func (o Obj) OptionalList(key string) []string {
	o.noteKnownKey(key)
	v, ok := o[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		o.appendError(fmt.Errorf("config key %q must be a list, got %T", key, v))
		return nil
	}
	out := make([]string, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			o.appendError(fmt.Errorf("config key %q index %d must be a string, got %T", key, i, e))
			return nil
		}
		out[i] = s
	}
	return out
}

func (o Obj) noteKnownKey(key string) {
	kk, _ := o["_knownkeys"].(map[string]bool)
	if kk == nil {
		kk = make(map[string]bool)
		o["_knownkeys"] = kk
	}
	kk[key] = true
}

func (o Obj) appendError(err error) {
	errs, _ := o["_errors"].([]error)
	o["_errors"] = append(errs, err)
}

func (o Obj) lookForUnknownKeys() {
	known, _ := o["_knownkeys"].(map[string]bool)
	for k := range o {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		o.appendError(fmt.Errorf("unknown config key %q", k))
	}
}

// Validate returns a combined error for every problem accumulated by the
// accessor calls above, plus any keys nobody asked for, or nil if the
// configuration is clean. It must be called exactly once, after every
// accessor has run.
func (o Obj) Validate() error {
	o.lookForUnknownKeys()
	errs, _ := o["_errors"].([]error)
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d configuration errors:\n%s", len(errs), strings.Join(msgs, "\n"))
}

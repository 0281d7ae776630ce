// Package command defines the unit of work parsed from a request line: a
// command name plus its ordered key/value parameters.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a parameter key is empty or contains a
// separator character.
var ErrInvalidKey = errors.New("invalid parameter key")

// ErrInvalidPair is returned when a pre-split "key=value" string does not
// contain exactly one non-empty key and one value.
var ErrInvalidPair = errors.New("invalid key=value pair")

// Command is a named request carrying string parameters. Parameters keep
// the order in which their keys were first written. A Command is not safe
// for concurrent mutation; it is built by one goroutine and then handed to
// subscribers read-only.
type Command struct {
	name   string
	keys   []string
	values map[string]string
}

// New builds a Command from a name and already-split "key=value" strings.
func New(name string, pairs ...string) (*Command, error) {
	c := &Command{name: name}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.Contains(value, "=") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, pair)
		}
		if _, err := c.Put(key, value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name returns the command name. An empty name means "no command".
func (c *Command) Name() string {
	return c.name
}

// SetName replaces the command name.
func (c *Command) SetName(name string) {
	c.name = name
}

// Put stores value under key and returns the previous value, if any.
// Overwriting keeps the key's first position.
func (c *Command) Put(key, value string) (string, error) {
	if key == "" || strings.ContainsAny(key, "=&") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if c.values == nil {
		c.values = make(map[string]string)
	}
	prev, exists := c.values[key]
	if !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
	return prev, nil
}

// Get returns the value stored under key.
func (c *Command) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Contains reports whether key is present.
func (c *Command) Contains(key string) bool {
	_, ok := c.values[key]
	return ok
}

// ContainsValue reports whether any parameter holds value.
func (c *Command) ContainsValue(value string) bool {
	for _, v := range c.values {
		if v == value {
			return true
		}
	}
	return false
}

// Remove deletes key and returns its value.
func (c *Command) Remove(key string) (string, bool) {
	v, ok := c.values[key]
	if !ok {
		return "", false
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Len returns the number of parameters.
func (c *Command) Len() int {
	return len(c.keys)
}

// IsEmpty reports whether the command carries no parameters.
func (c *Command) IsEmpty() bool {
	return len(c.keys) == 0
}

// Clear drops all parameters but keeps the name.
func (c *Command) Clear() {
	c.keys = nil
	c.values = nil
}

// Range calls fn for each parameter in insertion order until fn returns false.
func (c *Command) Range(fn func(key, value string) bool) {
	for _, k := range c.keys {
		if !fn(k, c.values[k]) {
			return
		}
	}
}

// Keys returns the parameter keys in insertion order.
func (c *Command) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Values returns the parameter values in key insertion order.
func (c *Command) Values() []string {
	out := make([]string, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.values[k])
	}
	return out
}

// Params returns a copy of the parameters as a plain map.
func (c *Command) Params() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	cp := &Command{name: c.name}
	if len(c.keys) > 0 {
		cp.keys = append([]string(nil), c.keys...)
		cp.values = c.Params()
	}
	return cp
}

// String renders the command as Name[k1=v1 k2=v2] for diagnostics.
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteByte('[')
	for i, k := range c.keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.values[k])
	}
	b.WriteByte(']')
	return b.String()
}

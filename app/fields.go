package app

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Fields holds a profile's free-form metadata as an ordered key/value
// map. Kind 0 content is a JSON object whose key order users notice
// (profile editors round-trip it), so insertion order is preserved
// through marshal and unmarshal instead of letting a Go map shuffle it.
type Fields struct {
	keys   []string
	values map[string]string
}

// NewFields returns an empty ordered field map.
func NewFields() *Fields {
	return &Fields{values: map[string]string{}}
}

// Get returns the value for key, or "".
func (f *Fields) Get(key string) string {
	if f == nil || f.values == nil {
		return ""
	}
	return f.values[key]
}

// Set inserts or updates key, preserving its original position when it
// already exists.
func (f *Fields) Set(key, value string) {
	if f.values == nil {
		f.values = map[string]string{}
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Delete removes key if present.
func (f *Fields) Delete(key string) {
	if f == nil || f.values == nil {
		return
	}
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len reports the number of fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Typed accessors for the fields the engine itself consumes. Everything
// else rides along untouched.

func (f *Fields) Name() string        { return f.Get("name") }
func (f *Fields) DisplayName() string { return f.Get("display_name") }
func (f *Fields) About() string       { return f.Get("about") }
func (f *Fields) Picture() string     { return f.Get("picture") }
func (f *Fields) Email() string       { return f.Get("email") }
func (f *Fields) Nip05() string       { return f.Get("nip05") }

// MarshalJSON emits the object with keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads the object token by token so key order survives.
// Non-string values (lightning addresses arrive as objects from some
// clients) are kept as their compact JSON encoding.
func (f *Fields) UnmarshalJSON(data []byte) error {
	f.keys = nil
	f.values = map[string]string{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("profile fields: expected object, got %v", tok)
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key := kt.(string)
		var raw json.RawMessage
		if err = dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err = json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		f.Set(key, s)
	}
	_, err = dec.Token() // closing brace
	return err
}

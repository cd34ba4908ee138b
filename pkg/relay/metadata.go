// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

// Field is one key-value pair of log metadata. Value is always a string,
// bool or int64.
type Field struct {
	Key   string
	Value any
}

// Metadata is an ordered list of log fields. It marshals to a JSON object
// that keeps insertion order.
type Metadata []Field

// Str appends a string field.
func (md Metadata) Str(key, value string) Metadata {
	return md.with(Field{Key: key, Value: value})
}

// Bool appends a boolean field.
func (md Metadata) Bool(key string, value bool) Metadata {
	return md.with(Field{Key: key, Value: value})
}

// Int appends an integer field.
func (md Metadata) Int(key string, value int64) Metadata {
	return md.with(Field{Key: key, Value: value})
}

// Err appends the error message under "error" and its class under
// "errorKind". A nil error appends nothing.
func (md Metadata) Err(err error) Metadata {
	if err == nil {
		return md
	}
	return md.with(Field{Key: "error", Value: err.Error()}, Field{Key: "errorKind", Value: Kind(err)})
}

// with never writes into md's backing array, so a base Metadata can be
// extended more than once.
func (md Metadata) with(fields ...Field) Metadata {
	return append(md[:len(md):len(md)], fields...)
}

// Get returns the value of the first field with the given key.
func (md Metadata) Get(key string) (any, bool) {
	for _, f := range md {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Apply adds the fields to a zerolog event.
func (md Metadata) Apply(evt *zerolog.Event) *zerolog.Event {
	for _, f := range md {
		switch v := f.Value.(type) {
		case string:
			evt = evt.Str(f.Key, v)
		case bool:
			evt = evt.Bool(f.Key, v)
		case int64:
			evt = evt.Int64(f.Key, v)
		default:
			evt = evt.Interface(f.Key, v)
		}
	}
	return evt
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (md Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range md {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %q: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping the key order. Numbers
// become int64 when integral and strings otherwise; nested values are kept
// as their raw JSON text.
func (md *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*md = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}
	out := Metadata{}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected metadata key %v", tok)
		}
		var raw json.RawMessage
		if err = dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: decodeFieldValue(raw)})
	}
	if _, err = dec.Token(); err != nil {
		return err
	}
	*md = out
	return nil
}

func decodeFieldValue(raw json.RawMessage) any {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return val
	case json.Number:
		if n, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return n
		}
		return val.String()
	default:
		return string(raw)
	}
}

package domain

import (
	"bytes"
	"encoding/json"
)

type optState uint8

const (
	optUnset optState = iota
	optNull
	optValue
)

// Optional distinguishes a field that was never computed (unset) from one
// that was computed and found to have no value (null).
//
// The zero value is unset. With the `omitzero` json tag an unset field is
// omitted from the output while a null field is written as null.
type Optional[T any] struct {
	state optState
	value T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{state: optValue, value: v}
}

// Null returns an Optional explicitly set to no value.
func Null[T any]() Optional[T] {
	return Optional[T]{state: optNull}
}

// IsSet reports whether the field was assigned, either to a value or to null.
func (o Optional[T]) IsSet() bool { return o.state != optUnset }

// IsNull reports whether the field was explicitly set to no value.
func (o Optional[T]) IsNull() bool { return o.state == optNull }

// HasValue reports whether the field holds a value.
func (o Optional[T]) HasValue() bool { return o.state == optValue }

// IsZero reports whether the field is unset.
func (o Optional[T]) IsZero() bool { return o.state == optUnset }

// Get returns the value and whether one is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == optValue
}

// OrElse returns the value, or def when none is present.
func (o Optional[T]) OrElse(def T) T {
	if o.state == optValue {
		return o.value
	}
	return def
}

func (o Optional[T]) String() string {
	switch o.state {
	case optNull:
		return "null"
	case optValue:
		b, err := json.Marshal(o.value)
		if err != nil {
			return "<invalid>"
		}
		return string(b)
	default:
		return "unset"
	}
}

// MarshalJSON writes null for unset and null fields.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.state != optValue {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON treats a literal null as an explicit null. Absent keys never
// reach this method and stay unset.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

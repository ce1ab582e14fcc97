package gateway

import "math"

// Transform is a field value computed by the store from the field's current
// value at write time, inside the atomic batch.
type Transform interface {
	Apply(current any) any
}

// IncrementTransform adds Delta to a numeric field, optionally clamping the
// result to a lower bound.
type IncrementTransform struct {
	Delta int64
	Min   int64
	clamp bool
}

// Increment returns a transform adding delta to the current numeric value.
// Missing or non-numeric values count as 0.
func Increment(delta int64) IncrementTransform {
	return IncrementTransform{Delta: delta}
}

// AtLeast clamps the incremented value to floor.
func (t IncrementTransform) AtLeast(floor int64) IncrementTransform {
	t.Min = floor
	t.clamp = true
	return t
}

// Apply implements Transform.
func (t IncrementTransform) Apply(current any) any {
	v := AsInt(current) + t.Delta
	if t.clamp && v < t.Min {
		v = t.Min
	}
	return v
}

type deleteField struct{}

func (deleteField) Apply(any) any { return nil }

// DeleteField removes the field on update.
var DeleteField Transform = deleteField{}

// IsDeleteField reports whether v is the DeleteField sentinel.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteField)
	return ok
}

// AsInt coerces JSON-decoded numbers into int64. Unknown shapes yield 0.
func AsInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(math.Round(float64(n)))
	case float64:
		return int64(math.Round(n))
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

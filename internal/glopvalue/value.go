// Package glopvalue implements the tagged value model shared by every
// agent's state tree: integers, strings, and nested objects, plus
// dotted-path access over them.
package glopvalue

// Kind tags which variant a Value holds.
type Kind int

const (
	// KindInt marks a Value holding a 32-bit signed integer.
	KindInt Kind = iota
	// KindStr marks a Value holding a UTF-8 string.
	KindStr
	// KindObject marks a Value holding a nested Object.
	KindObject
)

// Value is a tagged variant: exactly one of Int, Str, or Obj is
// meaningful, selected by Kind. Zero Value is the int 0, never used to
// represent "absent" — absence is always modeled as a missing map key.
type Value struct {
	Kind Kind
	Int  int32
	Str  string
	Obj  Object
}

// Object is a mapping from string keys to Value. Insertion order is not
// observable; Go's own map suffices.
type Object map[string]Value

// Int32 builds an integer Value.
func Int32(i int32) Value { return Value{Kind: KindInt, Int: i} }

// String builds a string Value.
func String(s string) Value { return Value{Kind: KindStr, Str: s} }

// FromObject builds an object Value.
func FromObject(o Object) Value { return Value{Kind: KindObject, Obj: o} }

// NewObject returns an empty Object.
func NewObject() Object { return Object{} }

// Equal reports structural equality: same Kind, same content. Values of
// differing Kind are never equal, even if e.g. "1" vs 1 suggests a
// coercion — glop performs none.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == other.Int
	case KindStr:
		return v.Str == other.Str
	case KindObject:
		return v.Obj.Equal(other.Obj)
	default:
		return false
	}
}

// Equal reports deep structural equality between two Objects.
func (o Object) Equal(other Object) bool {
	if len(o) != len(other) {
		return false
	}
	for k, v := range o {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of o, recursing into nested objects so a
// caller may mutate the clone without affecting o.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	if v.Kind == KindObject {
		return FromObject(v.Obj.Clone())
	}
	return v
}

// ToJSON renders v as a plain JSON-marshalable scalar or map, rather
// than a {Kind,Int,Str,Obj} tagged struct — used where a Value crosses
// a wire boundary that expects bare JSON (the admin HTTP snapshot
// endpoints; the script state server has its own encoder).
func (v Value) ToJSON() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindStr:
		return v.Str
	case KindObject:
		return v.Obj.ToJSON()
	default:
		return nil
	}
}

// ToJSON renders o as a plain map[string]any, recursing into nested
// Objects via Value.ToJSON.
func (o Object) ToJSON() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.ToJSON()
	}
	return out
}

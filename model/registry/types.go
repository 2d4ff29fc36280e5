package registry

import (
	"fmt"
	"reflect"

	"github.com/appbaseio/upgrade-assistant/errors"
)

// Value is anything flowing through an expression.
type Value = interface{}

// Typed values report their own type name.
type Typed interface {
	TypeName() string
}

// Wildcard in a cast table matches every type.
const Wildcard = "*"

// CastFn converts a value between two types.
type CastFn func(v Value) (Value, error)

// TypeDef describes a named value type and the casts it knows about.
type TypeDef struct {
	Name string
	Help string
	// Validate rejects malformed values of this type.
	Validate func(v Value) error
	// Serialize and Deserialize convert values for the wire.
	Serialize   func(v Value) (Value, error)
	Deserialize func(v Value) (Value, error)
	// From casts other types into this one, To casts this type into others.
	From map[string]CastFn
	To   map[string]CastFn
}

// Key implements Keyed.
func (t *TypeDef) Key() string {
	return t.Name
}

func lookupCast(table map[string]CastFn, name string) CastFn {
	if fn, ok := table[name]; ok {
		return fn
	}
	return table[Wildcard]
}

// CastsTo reports whether values of this type can be cast to name.
func (t *TypeDef) CastsTo(name string) bool {
	return lookupCast(t.To, name) != nil
}

// CastsFrom reports whether values of type name can be cast to this type.
func (t *TypeDef) CastsFrom(name string) bool {
	return lookupCast(t.From, name) != nil
}

// CastTo casts v, which must be of this type, to the type name.
func (t *TypeDef) CastTo(v Value, name string) (Value, error) {
	from, err := TypeOf(v)
	if err != nil {
		return nil, err
	}
	if from != t.Name {
		return nil, fmt.Errorf("can not cast object of type '%s' using '%s'", from, t.Name)
	}
	fn := lookupCast(t.To, name)
	if fn == nil {
		return nil, errors.NewInvalidCastError(from, name)
	}
	return fn(v)
}

// CastFrom casts v to this type.
func (t *TypeDef) CastFrom(v Value) (Value, error) {
	from, err := TypeOf(v)
	if err != nil {
		return nil, err
	}
	fn := lookupCast(t.From, from)
	if fn == nil {
		return nil, errors.NewInvalidCastError(from, t.Name)
	}
	return fn(v)
}

// TypeOf returns the type name of v.
func TypeOf(v Value) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return "boolean", nil
	case string:
		return "string", nil
	case Typed:
		return t.TypeName(), nil
	case map[string]interface{}:
		if name, ok := t["type"].(string); ok && name != "" {
			return name, nil
		}
		return "", fmt.Errorf("objects must have a type property")
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number", nil
	}
	return "", fmt.Errorf("objects must have a type property, got %T", v)
}

// TypeRegistry holds the type definitions used to cast and serialize values.
type TypeRegistry struct {
	*Registry[*TypeDef]
}

// NewTypeRegistry returns an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{New[*TypeDef]()}
}

// Cast returns v converted to the first of toTypes a cast is known for.
// Values are returned unchanged when toTypes is empty or already lists the
// type of v. For every candidate the source type's To table is tried before
// the candidate's From table.
func (r *TypeRegistry) Cast(v Value, toTypes []string) (Value, error) {
	if len(toTypes) == 0 {
		return v, nil
	}
	from, err := TypeOf(v)
	if err != nil {
		return nil, err
	}
	for _, name := range toTypes {
		if name == from {
			return v, nil
		}
	}
	fromDef, _ := r.Get(from)
	for _, name := range toTypes {
		if fromDef != nil && fromDef.CastsTo(name) {
			return fromDef.CastTo(v, name)
		}
		if toDef, ok := r.Get(name); ok && toDef.CastsFrom(from) {
			return toDef.CastFrom(v)
		}
	}
	return nil, errors.NewInvalidCastError(from, toTypes...)
}

// Serialize prepares v for the wire with its type's Serialize hook.
func (r *TypeRegistry) Serialize(v Value) (Value, error) {
	return r.convert(v, func(def *TypeDef) func(Value) (Value, error) { return def.Serialize })
}

// Deserialize is the inverse of Serialize.
func (r *TypeRegistry) Deserialize(v Value) (Value, error) {
	return r.convert(v, func(def *TypeDef) func(Value) (Value, error) { return def.Deserialize })
}

func (r *TypeRegistry) convert(v Value, hook func(*TypeDef) func(Value) (Value, error)) (Value, error) {
	name, err := TypeOf(v)
	if err != nil {
		return nil, err
	}
	def, ok := r.Get(name)
	if !ok {
		return v, nil
	}
	if fn := hook(def); fn != nil {
		return fn(v)
	}
	return v, nil
}

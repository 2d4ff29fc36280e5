package registry

import (
	"context"
	"fmt"
	"strings"
)

// Resolver interprets one argument value on demand. Without an input it
// uses the input of the function it was passed to.
type Resolver func(ctx context.Context, input ...Value) (Value, error)

// Args holds the resolved arguments of a call keyed by their canonical
// name. Single valued arguments hold the value itself, multi valued ones a
// []Value. Arguments that are not resolved hold a Resolver or a []Resolver.
type Args map[string]Value

// Handlers exposes environment specific helpers to function implementations.
type Handlers map[string]interface{}

// Fn is the implementation of a function.
type Fn func(ctx context.Context, input Value, args Args, handlers Handlers) (Value, error)

// ArgDef describes one argument of a function.
type ArgDef struct {
	Name     string        `json:"name"`
	Required bool          `json:"required,omitempty"`
	Types    []string      `json:"types,omitempty"`
	Default  interface{}   `json:"default"`
	Aliases  []string      `json:"aliases,omitempty"`
	Multi    bool          `json:"multi,omitempty"`
	Resolve  *bool         `json:"resolve,omitempty"`
	Help     string        `json:"help,omitempty"`
	Options  []interface{} `json:"options,omitempty"`
}

// Resolves reports whether the argument is interpreted before the call.
func (a *ArgDef) Resolves() bool {
	return a.Resolve == nil || *a.Resolve
}

func (a *ArgDef) matches(name string) bool {
	if strings.EqualFold(a.Name, name) {
		return true
	}
	for _, alias := range a.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// ContextDef constrains the input a function accepts.
type ContextDef struct {
	Types []string `json:"types,omitempty"`
}

// FnDef describes a function that can be called from an expression.
type FnDef struct {
	Name    string             `json:"name"`
	Aliases []string           `json:"aliases,omitempty"`
	Type    string             `json:"type,omitempty"`
	Help    string             `json:"help,omitempty"`
	Args    map[string]*ArgDef `json:"args"`
	Context ContextDef         `json:"context"`
	Fn      Fn                 `json:"-"`
}

// Key implements Keyed.
func (f *FnDef) Key() string {
	return f.Name
}

// Arg returns the argument definition matching name or one of its aliases.
func (f *FnDef) Arg(name string) (*ArgDef, bool) {
	if def, ok := f.Args[name]; ok {
		return def, true
	}
	for _, def := range f.Args {
		if def.matches(name) {
			return def, true
		}
	}
	return nil, false
}

// Accepts reports whether the function takes input of the named type.
func (f *FnDef) Accepts(typeName string) bool {
	if len(f.Context.Types) == 0 {
		return true
	}
	for _, t := range f.Context.Types {
		if t == typeName {
			return true
		}
	}
	return false
}

// normalize names every argument after its key.
func (f *FnDef) normalize() error {
	if f.Name == "" {
		return fmt.Errorf("function definitions require a name")
	}
	if f.Args == nil {
		f.Args = map[string]*ArgDef{}
	}
	for name, def := range f.Args {
		if def == nil {
			return fmt.Errorf("function %s: argument %s has no definition", f.Name, name)
		}
		def.Name = name
	}
	return nil
}

// FunctionRegistry holds the functions an interpreter can call.
type FunctionRegistry struct {
	*Registry[*FnDef]
}

// NewFunctionRegistry returns an empty function registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{New[*FnDef]()}
}

// Register adds the function definition.
func (r *FunctionRegistry) Register(def *FnDef) error {
	if err := def.normalize(); err != nil {
		return err
	}
	return r.Registry.Register(def)
}

// GetByAlias returns the function registered under name or one of its
// aliases, ignoring case.
func (r *FunctionRegistry) GetByAlias(name string) (*FnDef, bool) {
	if def, ok := r.Get(name); ok {
		return def, true
	}
	for _, def := range r.All() {
		for _, alias := range def.Aliases {
			if strings.EqualFold(alias, name) {
				return def, true
			}
		}
	}
	return nil, false
}

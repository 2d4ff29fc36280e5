package interpreter

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/expression"
	"github.com/appbaseio/upgrade-assistant/model/registry"
)

const logTag = "[interpreter]"

// Interpreter evaluates expression trees against a function and a type registry.
type Interpreter struct {
	types      *registry.TypeRegistry
	functions  *registry.FunctionRegistry
	handlers   registry.Handlers
	production bool
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// Production strips stacks from error values.
func Production(enabled bool) Option {
	return func(i *Interpreter) { i.production = enabled }
}

// New returns an interpreter calling the given functions. Handlers are
// passed to every function implementation.
func New(types *registry.TypeRegistry, functions *registry.FunctionRegistry, handlers registry.Handlers, opts ...Option) *Interpreter {
	if handlers == nil {
		handlers = registry.Handlers{}
	}
	i := &Interpreter{types: types, functions: functions, handlers: handlers}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret evaluates node with input as the initial context. Expressions
// run their chain, literals evaluate to their value. An error is returned
// only for nodes that can not be evaluated; failures while running a chain
// are returned as *registry.ErrorValue.
func (i *Interpreter) Interpret(ctx context.Context, node *expression.Node, input registry.Value) (registry.Value, error) {
	if node == nil {
		return nil, fmt.Errorf("unknown AST object")
	}
	switch node.Kind {
	case expression.ExpressionKind:
		return i.InvokeChain(ctx, node.Chain, input), nil
	case expression.StringKind, expression.NumberKind, expression.BooleanKind, expression.NullKind:
		return node.Value, nil
	}
	return nil, fmt.Errorf("unknown AST object of kind %q", node.Kind)
}

// InvokeChain runs every function of chain in order, feeding each one the
// output of the previous. An empty chain returns input. The first error
// value stops the chain and is returned. It never panics.
func (i *Interpreter) InvokeChain(ctx context.Context, chain []*expression.Node, input registry.Value) registry.Value {
	for _, link := range chain {
		def, ok := i.functions.GetByAlias(link.Name)
		if !ok {
			return i.errorValue(fmt.Errorf("function %s could not be found", link.Name), nil)
		}
		output, err := i.invokeLink(ctx, def, link, input)
		if err != nil {
			return i.errorValue(fmt.Errorf("[%s] > %s", link.Name, err.Error()), err)
		}
		if ev, ok := registry.AsError(output); ok {
			return ev
		}
		input = output
	}
	return input
}

func (i *Interpreter) invokeLink(ctx context.Context, def *registry.FnDef, link *expression.Node, input registry.Value) (output registry.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorln(logTag, ": recovered from panic in function", def.Name, ":", r)
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	args, err := i.resolveArgs(ctx, def, input, link.Args)
	if err != nil {
		return nil, err
	}
	return i.invokeFunction(ctx, def, input, args)
}

// panicError keeps the stack of a recovered panic.
type panicError struct {
	value interface{}
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprint(p.value)
}

func (i *Interpreter) errorValue(err error, cause error) *registry.ErrorValue {
	if i.production {
		return &registry.ErrorValue{Message: err.Error()}
	}
	stack := string(debug.Stack())
	switch c := cause.(type) {
	case *panicError:
		stack = c.stack
	case *registry.ErrorValue:
		if c.Stack != "" {
			stack = c.Stack
		}
	}
	return &registry.ErrorValue{Message: err.Error(), Stack: stack}
}

// Call runs the function registered under name, or one of its aliases,
// with arguments that were resolved by the caller. Arguments left out take
// their defaults. Unknown functions return a *errors.NotFoundError.
func (i *Interpreter) Call(ctx context.Context, name string, input registry.Value, args registry.Args) (registry.Value, error) {
	def, ok := i.functions.GetByAlias(name)
	if !ok {
		return nil, errors.NewNotFoundError("Function %q could not be found.", name)
	}
	resolved := make(registry.Args, len(def.Args))
	for argName, v := range args {
		argDef, ok := def.Arg(argName)
		if !ok {
			return nil, fmt.Errorf("unknown argument '%s' passed to function '%s'", argName, def.Name)
		}
		resolved[argDef.Name] = v
	}
	for argName, argDef := range def.Args {
		if _, ok := resolved[argName]; ok || argDef.Default == nil {
			continue
		}
		node, err := defaultNode(argDef.Default)
		if err != nil {
			return nil, fmt.Errorf("invalid default for argument '%s' of '%s': %v", argName, def.Name, err)
		}
		v, err := i.resolver(node, input, argDef.Types)(ctx)
		if err != nil {
			return nil, err
		}
		if argDef.Multi {
			v = []registry.Value{v}
		}
		resolved[argName] = v
	}
	return i.invokeFunction(ctx, def, input, resolved)
}

// invokeFunction casts input to a type the function accepts, calls it and
// checks the returned value against the declared return type.
func (i *Interpreter) invokeFunction(ctx context.Context, def *registry.FnDef, input registry.Value, args registry.Args) (registry.Value, error) {
	accepted, err := i.types.Cast(input, def.Context.Types)
	if err != nil {
		return nil, err
	}
	if def.Fn == nil {
		return nil, fmt.Errorf("function '%s' has no implementation", def.Name)
	}
	output, err := def.Fn(ctx, accepted, args, i.handlers)
	if err != nil {
		return nil, err
	}
	if def.Type == "" {
		return output, nil
	}

	returned, err := registry.TypeOf(output)
	if err != nil {
		return nil, err
	}
	if returned != def.Type {
		return nil, fmt.Errorf("function '%s' should return '%s', actually returned '%s'", def.Name, def.Type, returned)
	}
	if typeDef, ok := i.types.Get(def.Type); ok && typeDef.Validate != nil {
		if err := typeDef.Validate(output); err != nil {
			return nil, fmt.Errorf("output of '%s' is not a valid type '%s': %v", def.Name, def.Type, err)
		}
	}
	return output, nil
}

// resolveArgs turns the argument trees of a call into the values passed to
// the function: aliases are mapped to canonical names, defaults are filled
// in and every value is interpreted, concurrently, and cast to the types the
// argument accepts. Arguments that opt out of resolution receive resolvers
// instead of values.
func (i *Interpreter) resolveArgs(ctx context.Context, def *registry.FnDef, input registry.Value, passed []expression.Argument) (registry.Args, error) {
	asts := make(map[string][]*expression.Node, len(def.Args))
	for _, arg := range passed {
		argDef, ok := def.Arg(arg.Name)
		if !ok {
			return nil, fmt.Errorf("unknown argument '%s' passed to function '%s'", arg.Name, def.Name)
		}
		asts[argDef.Name] = append(asts[argDef.Name], arg.Values...)
	}

	names := make([]string, 0, len(def.Args))
	for name := range def.Args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		argDef := def.Args[name]
		if _, ok := asts[name]; ok || argDef.Default != nil || !argDef.Required {
			continue
		}
		if len(argDef.Aliases) == 0 {
			return nil, fmt.Errorf("%s requires an argument", def.Name)
		}
		errorArg := name
		if name == "_" {
			errorArg = argDef.Aliases[0]
		}
		return nil, fmt.Errorf("%s requires an \"%s\" argument", def.Name, errorArg)
	}

	for _, name := range names {
		argDef := def.Args[name]
		if _, ok := asts[name]; ok || argDef.Default == nil {
			continue
		}
		node, err := defaultNode(argDef.Default)
		if err != nil {
			return nil, fmt.Errorf("invalid default for argument '%s' of '%s': %v", name, def.Name, err)
		}
		asts[name] = []*expression.Node{node}
	}

	resolvers := make(map[string][]registry.Resolver, len(asts))
	for name, nodes := range asts {
		argDef := def.Args[name]
		for _, node := range nodes {
			resolvers[name] = append(resolvers[name], i.resolver(node, input, argDef.Types))
		}
	}

	values := make(map[string][]registry.Value, len(resolvers))
	g, gctx := errgroup.WithContext(ctx)
	for name, fns := range resolvers {
		if !def.Args[name].Resolves() {
			continue
		}
		resolved := make([]registry.Value, len(fns))
		values[name] = resolved
		for n, fn := range fns {
			n, fn := n, fn
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = &panicError{value: r, stack: string(debug.Stack())}
					}
				}()
				v, err := fn(gctx)
				if err != nil {
					return err
				}
				resolved[n] = v
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	args := make(registry.Args, len(resolvers))
	for name, fns := range resolvers {
		argDef := def.Args[name]
		if !argDef.Resolves() {
			if argDef.Multi {
				args[name] = fns
			} else {
				args[name] = fns[len(fns)-1]
			}
			continue
		}
		if argDef.Multi {
			args[name] = values[name]
		} else {
			args[name] = values[name][len(values[name])-1]
		}
	}
	return args, nil
}

// resolver interprets node against the input given to it, defaulting to
// the input of the call, and casts the result to types. Error values are
// returned as errors.
func (i *Interpreter) resolver(node *expression.Node, callInput registry.Value, types []string) registry.Resolver {
	return func(ctx context.Context, input ...registry.Value) (registry.Value, error) {
		in := callInput
		if len(input) > 0 {
			in = input[0]
		}
		v, err := i.Interpret(ctx, node, in)
		if err != nil {
			return nil, err
		}
		if ev, ok := registry.AsError(v); ok {
			return nil, ev
		}
		return i.types.Cast(v, types)
	}
}

// defaultNode parses string defaults as an argument so that they may hold
// sub expressions. Other defaults are literals.
func defaultNode(def interface{}) (*expression.Node, error) {
	if s, ok := def.(string); ok {
		if s == "" {
			return expression.Literal(s)
		}
		return expression.FromExpression(s, expression.ArgumentRule)
	}
	return expression.Literal(def)
}

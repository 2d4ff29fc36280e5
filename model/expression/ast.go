package expression

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Kind discriminates the variants of Node.
type Kind string

const (
	ExpressionKind Kind = "expression"
	FunctionKind   Kind = "function"
	StringKind     Kind = "string"
	NumberKind     Kind = "number"
	BooleanKind    Kind = "boolean"
	NullKind       Kind = "null"
)

// Node is a parsed expression. Which fields are set depends on Kind:
// an expression has a Chain of function nodes, a function has a Name and
// its Args, and a literal carries its Value (string, float64, bool or nil).
type Node struct {
	Kind  Kind
	Chain []*Node
	Name  string
	Args  []Argument
	Value interface{}
}

// Argument is every value passed to one named argument of a function, in the
// order they appeared. Positional arguments are named "_".
type Argument struct {
	Name   string
	Values []*Node
}

// Literal returns the literal node holding v. Integers are widened to float64.
func Literal(v interface{}) (*Node, error) {
	switch t := v.(type) {
	case nil:
		return &Node{Kind: NullKind}, nil
	case string:
		return &Node{Kind: StringKind, Value: t}, nil
	case bool:
		return &Node{Kind: BooleanKind, Value: t}, nil
	case float64:
		return &Node{Kind: NumberKind, Value: t}, nil
	case float32:
		return &Node{Kind: NumberKind, Value: float64(t)}, nil
	case int:
		return &Node{Kind: NumberKind, Value: float64(t)}, nil
	case int64:
		return &Node{Kind: NumberKind, Value: float64(t)}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NumberKind, Value: f}, nil
	}
	return nil, fmt.Errorf("value of type %T can not be an expression literal", v)
}

// IsLiteral reports whether the node is a string, number, boolean or null.
func (n *Node) IsLiteral() bool {
	switch n.Kind {
	case StringKind, NumberKind, BooleanKind, NullKind:
		return true
	}
	return false
}

// Arg returns the values passed to the named argument, or nil.
func (n *Node) Arg(name string) []*Node {
	for _, arg := range n.Args {
		if arg.Name == name {
			return arg.Values
		}
	}
	return nil
}

// AddArg appends value to the named argument, creating the argument when it
// was not passed yet.
func (n *Node) AddArg(name string, value *Node) {
	for i := range n.Args {
		if n.Args[i].Name == name {
			n.Args[i].Values = append(n.Args[i].Values, value)
			return
		}
	}
	n.Args = append(n.Args, Argument{Name: name, Values: []*Node{value}})
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Kind: n.Kind, Name: n.Name, Value: n.Value}
	if n.Chain != nil {
		c.Chain = make([]*Node, len(n.Chain))
		for i, link := range n.Chain {
			c.Chain[i] = link.Clone()
		}
	}
	if n.Args != nil {
		c.Args = make([]Argument, len(n.Args))
		for i, arg := range n.Args {
			values := make([]*Node, len(arg.Values))
			for j, v := range arg.Values {
				values[j] = v.Clone()
			}
			c.Args[i] = Argument{Name: arg.Name, Values: values}
		}
	}
	return c
}

// MarshalJSON encodes expressions as {"type":"expression","chain":[...]},
// functions as {"type":"function","function":name,"arguments":{...}} and
// literals as plain JSON values. Argument order is preserved.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	switch n.Kind {
	case ExpressionKind:
		buf.WriteString(`{"type":"expression","chain":[`)
		for i, link := range n.Chain {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, err := link.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(raw)
		}
		buf.WriteString(`]}`)
	case FunctionKind:
		name, err := json.Marshal(n.Name)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"type":"function","function":`)
		buf.Write(name)
		buf.WriteString(`,"arguments":{`)
		for i, arg := range n.Args {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(arg.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteString(`:[`)
			for j, v := range arg.Values {
				if j > 0 {
					buf.WriteByte(',')
				}
				raw, err := v.MarshalJSON()
				if err != nil {
					return nil, err
				}
				buf.Write(raw)
			}
			buf.WriteByte(']')
		}
		buf.WriteString(`}}`)
	case StringKind, NumberKind, BooleanKind, NullKind:
		return json.Marshal(n.Value)
	default:
		return nil, fmt.Errorf("unknown AST object of kind %q", n.Kind)
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	decoded, err := decodeNode(data)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}

func decodeNode(data []byte) (*Node, error) {
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: StringKind, Value: s}, nil
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NumberKind, Value: f}, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: BooleanKind, Value: b}, nil
	case jsonparser.Null:
		return &Node{Kind: NullKind}, nil
	case jsonparser.Object:
		return decodeObject(value)
	}
	return nil, fmt.Errorf("unknown AST object: %s", data)
}

func decodeObject(data []byte) (*Node, error) {
	kind, err := jsonparser.GetString(data, "type")
	if err != nil {
		return nil, fmt.Errorf("objects must have a type property")
	}
	switch Kind(kind) {
	case ExpressionKind:
		chain, dataType, _, err := jsonparser.Get(data, "chain")
		if err != nil || dataType != jsonparser.Array {
			return nil, fmt.Errorf("expressions must contain a chain")
		}
		n := &Node{Kind: ExpressionKind, Chain: []*Node{}}
		var inner error
		_, err = jsonparser.ArrayEach(chain, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
			if inner != nil {
				return
			}
			var link *Node
			link, inner = decodeObject(value)
			if inner == nil && link.Kind != FunctionKind {
				inner = fmt.Errorf("expression chains may only contain functions")
			}
			n.Chain = append(n.Chain, link)
		})
		if err != nil {
			return nil, err
		}
		return n, inner

	case FunctionKind:
		name, err := jsonparser.GetString(data, "function")
		if err != nil || name == "" {
			return nil, fmt.Errorf("functions must have a function name")
		}
		n := &Node{Kind: FunctionKind, Name: name, Args: []Argument{}}
		args, dataType, _, err := jsonparser.Get(data, "arguments")
		if err == jsonparser.KeyPathNotFoundError {
			return n, nil
		}
		if err != nil || dataType != jsonparser.Object {
			return nil, fmt.Errorf("arguments can only be an object")
		}
		err = jsonparser.ObjectEach(args, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
			if dataType != jsonparser.Array {
				return fmt.Errorf("argument %s must be a list of values", key)
			}
			var inner error
			_, err := jsonparser.ArrayEach(value, func(item []byte, itemType jsonparser.ValueType, _ int, _ error) {
				if inner != nil {
					return
				}
				if itemType == jsonparser.String {
					// ArrayEach hands out strings without their quotes
					s, err := jsonparser.ParseString(item)
					if err != nil {
						inner = err
						return
					}
					n.AddArg(string(key), &Node{Kind: StringKind, Value: s})
					return
				}
				var v *Node
				v, inner = decodeNode(item)
				if inner == nil {
					n.AddArg(string(key), v)
				}
			})
			if err != nil {
				return err
			}
			return inner
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown AST object of type %q", kind)
}

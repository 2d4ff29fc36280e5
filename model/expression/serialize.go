package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	maxLineLength     = 80
	defaultCacheSize  = 512
	unparsableElement = `markdown
"## Crud.
This element's expression could not be parsed.

**Error:** %s"`
)

type cacheKey struct {
	rule Rule
	text string
}

var parsed *lru.Cache[cacheKey, *Node]

func init() {
	parsed, _ = lru.New[cacheKey, *Node](defaultCacheSize)
}

// FromExpression parses text starting from rule. Parse results are cached;
// every call returns a copy the caller is free to modify.
func FromExpression(text string, rule Rule) (*Node, error) {
	key := cacheKey{rule, text}
	if n, ok := parsed.Get(key); ok {
		return n.Clone(), nil
	}
	n, err := Parse(text, rule)
	if err != nil {
		return nil, fmt.Errorf("unable to parse expression: %s", err.Error())
	}
	parsed.Add(key, n)
	return n.Clone(), nil
}

// SafeElementFromExpression parses text as an expression and never fails:
// unparsable text yields a markdown element describing the parse error.
func SafeElementFromExpression(text string) *Node {
	n, err := FromExpression(text, ExpressionRule)
	if err == nil {
		return n
	}
	fallback := fmt.Sprintf(unparsableElement, escape(err.Error()))
	n, err = FromExpression(fallback, ExpressionRule)
	if err != nil {
		// unreachable, the fallback is a constant expression with an escaped message
		return &Node{Kind: ExpressionKind, Chain: []*Node{}}
	}
	return n
}

// ToExpression renders the node as expression text. With ArgumentRule the
// node is rendered as a single argument value instead.
func ToExpression(n *Node, rule Rule) (string, error) {
	if rule == ArgumentRule {
		return argumentString(n, "", 0)
	}
	switch n.Kind {
	case ExpressionKind:
		if n.Chain == nil {
			return "", fmt.Errorf("expressions must contain a chain")
		}
		return chainString(n.Chain, 0)
	case FunctionKind:
		return functionString(n, 0)
	}
	return "", fmt.Errorf("expression must be an expression or argument function")
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func argumentString(n *Node, name string, level int) (string, error) {
	var value string
	switch n.Kind {
	case StringKind:
		s, _ := n.Value.(string)
		value = `"` + escape(s) + `"`
	case NumberKind:
		f, _ := n.Value.(float64)
		value = formatNumber(f)
	case BooleanKind:
		b, _ := n.Value.(bool)
		value = strconv.FormatBool(b)
	case NullKind:
		value = "null"
	case ExpressionKind:
		inner, err := chainString(n.Chain, level+1)
		if err != nil {
			return "", err
		}
		value = "{" + inner + "}"
	default:
		return "", fmt.Errorf("invalid argument type in AST: %s", n.Kind)
	}
	if name == "" || name == "_" {
		return value, nil
	}
	return name + "=" + value, nil
}

// argumentStrings renders every value of every argument. Only at the top
// level are long argument lists wrapped onto indented lines.
func argumentStrings(fn *Node, level int) ([]string, error) {
	out := make([]string, 0, len(fn.Args))
	for _, arg := range fn.Args {
		acc := ""
		for _, v := range arg.Values {
			s, err := argumentString(v, arg.Name, level)
			if err != nil {
				return nil, err
			}
			line := acc
			if i := strings.LastIndexByte(acc, '\n'); i >= 0 {
				line = acc[i+1:]
			}
			switch {
			case level == 0 && len(line)+len(s) > maxLineLength:
				acc += "\n  " + s
			case len(line) > 0:
				acc += " " + s
			default:
				acc = s
			}
		}
		out = append(out, acc)
	}
	return out, nil
}

func functionString(fn *Node, level int) (string, error) {
	if fn.Name == "" {
		return "", fmt.Errorf("functions must have a function name")
	}
	args, err := argumentStrings(fn, level)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return fn.Name, nil
	}
	return fn.Name + " " + strings.Join(args, " "), nil
}

func chainString(chain []*Node, level int) (string, error) {
	separator := "\n| "
	if level > 0 {
		separator = " | "
	}
	links := make([]string, 0, len(chain))
	for _, link := range chain {
		if link.Kind != FunctionKind {
			return "", fmt.Errorf("expression chains may only contain functions")
		}
		s, err := functionString(link, level)
		if err != nil {
			return "", err
		}
		links = append(links, s)
	}
	return strings.Join(links, separator), nil
}

package expression

import (
	"encoding/json"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func fn(name string, args ...Argument) *Node {
	if args == nil {
		args = []Argument{}
	}
	return &Node{Kind: FunctionKind, Name: name, Args: args}
}

func expr(chain ...*Node) *Node {
	if chain == nil {
		chain = []*Node{}
	}
	return &Node{Kind: ExpressionKind, Chain: chain}
}

func str(s string) *Node   { return &Node{Kind: StringKind, Value: s} }
func num(f float64) *Node  { return &Node{Kind: NumberKind, Value: f} }
func boolean(b bool) *Node { return &Node{Kind: BooleanKind, Value: b} }
func arg(name string, values ...*Node) Argument {
	return Argument{Name: name, Values: values}
}

func TestParse(t *testing.T) {
	Convey("Parsing expressions", t, func() {
		Convey("an empty expression has an empty chain", func() {
			n, err := Parse("  ", ExpressionRule)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, expr())
		})

		Convey("functions are piped", func() {
			n, err := Parse("demodata | pointseries x=time y=price\n| render", ExpressionRule)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, expr(
				fn("demodata"),
				fn("pointseries", arg("x", str("time")), arg("y", str("price"))),
				fn("render"),
			))
		})

		Convey("unquoted literals are typed", func() {
			n, err := Parse("f 1.5 true null 5bears -2", ExpressionRule)
			So(err, ShouldBeNil)
			So(n.Chain[0].Arg("_"), ShouldResemble, []*Node{
				num(1.5), boolean(true), {Kind: NullKind}, str("5bears"), num(-2),
			})
		})

		Convey("repeated arguments keep their order", func() {
			n, err := Parse(`f a=1 b="x" a=2 a = 3`, ExpressionRule)
			So(err, ShouldBeNil)
			So(n.Chain[0].Args, ShouldResemble, []Argument{
				arg("a", num(1), num(2), num(3)),
				arg("b", str("x")),
			})
		})

		Convey("quotes and escapes", func() {
			n, err := Parse(`f "say \"hi\" \\o/" 'it\'s' a\=b`, ExpressionRule)
			So(err, ShouldBeNil)
			So(n.Chain[0].Arg("_"), ShouldResemble, []*Node{
				str(`say "hi" \o/`), str(`it's`), str("a=b"),
			})
		})

		Convey("sub expressions", func() {
			n, err := Parse(`if condition={eq 5} then={string "yes" | upper}`, ExpressionRule)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, expr(fn("if",
				arg("condition", expr(fn("eq", arg("_", num(5))))),
				arg("then", expr(fn("string", arg("_", str("yes"))), fn("upper"))),
			)))
		})

		Convey("the argument rule parses a single value", func() {
			n, err := Parse("{context}", ArgumentRule)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, expr(fn("context")))

			n, err = Parse("42", ArgumentRule)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, num(42))
		})

		Convey("syntax errors", func() {
			for _, text := range []string{`f "open`, `f a=`, `f {g`, `f | `, `f =1`, `f "\x"`} {
				_, err := Parse(text, ExpressionRule)
				So(err, ShouldHaveSameTypeAs, &SyntaxError{})
			}
		})

		Convey("invalid UTF-8 is rejected at its offset", func() {
			_, err := Parse("f a\xffb", ExpressionRule)
			So(err, ShouldHaveSameTypeAs, &SyntaxError{})
			So(err.(*SyntaxError).Offset, ShouldEqual, 3)
			So(err.Error(), ShouldEqual, "expected valid UTF-8 but byte 0xff found at offset 3")
		})
	})
}

func TestFromExpression(t *testing.T) {
	Convey("FromExpression wraps parse errors", t, func() {
		_, err := FromExpression(`f "open`, ExpressionRule)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldStartWith, "unable to parse expression: ")
	})

	Convey("Cached results can be modified by the caller", t, func() {
		first, err := FromExpression("f a=1", ExpressionRule)
		So(err, ShouldBeNil)
		first.Chain[0].Name = "changed"
		first.Chain[0].Args[0].Values[0].Value = 2.0

		second, err := FromExpression("f a=1", ExpressionRule)
		So(err, ShouldBeNil)
		So(second, ShouldResemble, expr(fn("f", arg("a", num(1)))))
	})

	Convey("SafeElementFromExpression falls back to a markdown element", t, func() {
		n := SafeElementFromExpression(`f "open`)
		So(len(n.Chain), ShouldEqual, 1)
		So(n.Chain[0].Name, ShouldEqual, "markdown")
		text, _ := n.Chain[0].Arg("_")[0].Value.(string)
		So(text, ShouldContainSubstring, "unable to parse expression")

		n = SafeElementFromExpression("f")
		So(n, ShouldResemble, expr(fn("f")))
	})
}

func TestToExpression(t *testing.T) {
	Convey("ToExpression", t, func() {
		Convey("renders literals per type", func() {
			n := expr(fn("f",
				arg("_", str(`a "quoted" \ value`)),
				arg("n", num(3), num(0.25)),
				arg("b", boolean(false)),
				arg("z", &Node{Kind: NullKind}),
			))
			s, err := ToExpression(n, ExpressionRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, `f "a \"quoted\" \\ value" n=3 n=0.25 b=false z=null`)
		})

		Convey("top level links go on their own line", func() {
			n := expr(fn("a"), fn("b", arg("x", expr(fn("c"), fn("d")))))
			s, err := ToExpression(n, ExpressionRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "a\n| b x={c | d}")
		})

		Convey("long argument lists wrap at the top level only", func() {
			long := strings.Repeat("x", 50)
			n := expr(fn("f", arg("a", str(long), str(long))))
			s, err := ToExpression(n, ExpressionRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, `f a="`+long+`"`+"\n  "+`a="`+long+`"`)

			nested := expr(fn("g", arg("_", n)))
			s, err = ToExpression(nested, ExpressionRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, `g {f a="`+long+`" a="`+long+`"}`)
		})

		Convey("renders single arguments and functions", func() {
			s, err := ToExpression(num(1e21), ArgumentRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "1e+21")

			s, err = ToExpression(fn("f", arg("_", str("x"))), ExpressionRule)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, `f "x"`)
		})

		Convey("rejects malformed nodes", func() {
			_, err := ToExpression(str("x"), ExpressionRule)
			So(err, ShouldNotBeNil)
			_, err = ToExpression(expr(fn("")), ExpressionRule)
			So(err, ShouldNotBeNil)
			_, err = ToExpression(&Node{Kind: ExpressionKind}, ExpressionRule)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRoundTrip(t *testing.T) {
	sources := []string{
		`demodata | pointseries x=time y="sum(price)" | render`,
		`f 1 2.5 -3 true null "with \"quotes\"" 'single' unquoted\ space`,
		`if condition={eq 5 | not} then={string "a" "b"} else={context}`,
		`f a=` + strings.Repeat(`"long value" `, 12),
		`f "multi
line"`,
		``,
	}
	Convey("Rendered expressions parse back to the same tree", t, func() {
		for _, source := range sources {
			first, err := FromExpression(source, ExpressionRule)
			So(err, ShouldBeNil)
			text, err := ToExpression(first, ExpressionRule)
			So(err, ShouldBeNil)
			second, err := FromExpression(text, ExpressionRule)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
		}
	})
}

func TestJSON(t *testing.T) {
	Convey("Nodes encode to the wire format and back", t, func() {
		n, err := FromExpression(`f b=2 a="x" a={g} | h`, ExpressionRule)
		So(err, ShouldBeNil)

		raw, err := json.Marshal(n)
		So(err, ShouldBeNil)
		So(string(raw), ShouldEqual, `{"type":"expression","chain":[`+
			`{"type":"function","function":"f","arguments":{"b":[2],"a":["x",{"type":"expression","chain":[{"type":"function","function":"g","arguments":{}}]}]}},`+
			`{"type":"function","function":"h","arguments":{}}]}`)

		var decoded Node
		So(json.Unmarshal(raw, &decoded), ShouldBeNil)
		So(&decoded, ShouldResemble, n)
	})

	Convey("Objects without a type are rejected", t, func() {
		var n Node
		So(json.Unmarshal([]byte(`{"chain":[]}`), &n), ShouldNotBeNil)
		So(json.Unmarshal([]byte(`{"type":"expression","chain":[1]}`), &n), ShouldNotBeNil)
	})
}

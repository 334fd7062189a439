package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expr is an arithmetic expression over column names, evaluated in the row
// context during design-matrix construction. Expressions come from I(...)
// terms and from transform calls such as log(x).
type Expr struct {
	root  exprNode
	label string
}

// Text returns the display label of the expression, which is also the name
// of the design-matrix column it produces.
func (e *Expr) Text() string {
	return e.label
}

// Vars returns the distinct column names the expression reads, in order of
// first appearance.
func (e *Expr) Vars() []string {
	seen := make(map[string]bool)
	var vars []string
	e.root.collectVars(func(name string) {
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	})
	return vars
}

// Eval evaluates the expression against one row of values.
func (e *Expr) Eval(row map[string]float64) (float64, error) {
	return e.root.eval(row)
}

// wrapped relabels the expression as fn(...), keeping the same computation.
// Used for I(expr), whose label includes the wrapper.
func (e *Expr) wrapped(fn string) *Expr {
	return &Expr{root: e.root, label: fn + "(" + e.label + ")"}
}

// applied wraps the expression in a call to a known transform function.
func (e *Expr) applied(fn string) (*Expr, error) {
	if _, ok := transformFuncs[fn]; !ok {
		return nil, fmt.Errorf("unknown function %q", fn)
	}
	return &Expr{
		root:  &callNode{fn: fn, arg: e.root},
		label: fn + "(" + e.label + ")",
	}, nil
}

// transformFuncs are the functions usable inside formula expressions.
var transformFuncs = map[string]func(float64) float64{
	"log":   math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"abs":   math.Abs,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

type exprNode interface {
	eval(row map[string]float64) (float64, error)
	text() string
	collectVars(add func(name string))
}

type numNode struct{ value float64 }

func (n *numNode) eval(map[string]float64) (float64, error) { return n.value, nil }
func (n *numNode) text() string                             { return strconv.FormatFloat(n.value, 'g', -1, 64) }
func (n *numNode) collectVars(func(string))                 {}

type varNode struct{ name string }

func (n *varNode) eval(row map[string]float64) (float64, error) {
	v, ok := row[n.name]
	if !ok {
		return 0, fmt.Errorf("column %q is not available in the row context", n.name)
	}
	return v, nil
}
func (n *varNode) text() string                   { return n.name }
func (n *varNode) collectVars(add func(string))   { add(n.name) }

type unaryNode struct{ operand exprNode }

func (n *unaryNode) eval(row map[string]float64) (float64, error) {
	v, err := n.operand.eval(row)
	if err != nil {
		return 0, err
	}
	return -v, nil
}
func (n *unaryNode) text() string                 { return "-" + n.operand.text() }
func (n *unaryNode) collectVars(add func(string)) { n.operand.collectVars(add) }

type binNode struct {
	op          byte // one of + - * / ^
	left, right exprNode
}

func (n *binNode) eval(row map[string]float64) (float64, error) {
	l, err := n.left.eval(row)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(row)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	default:
		return 0, fmt.Errorf("unknown operator %q", string(n.op))
	}
}

func (n *binNode) text() string {
	return n.left.text() + " " + string(n.op) + " " + n.right.text()
}

func (n *binNode) collectVars(add func(string)) {
	n.left.collectVars(add)
	n.right.collectVars(add)
}

type callNode struct {
	fn  string
	arg exprNode
}

func (n *callNode) eval(row map[string]float64) (float64, error) {
	v, err := n.arg.eval(row)
	if err != nil {
		return 0, err
	}
	return transformFuncs[n.fn](v), nil
}
func (n *callNode) text() string                 { return n.fn + "(" + n.arg.text() + ")" }
func (n *callNode) collectVars(add func(string)) { n.arg.collectVars(add) }

// parseExprTokens parses an arithmetic expression from the shared token
// stream, stopping before the first token that cannot extend the
// expression (typically the closing parenthesis).
func parseExprTokens(lex *lexer, src string) (*Expr, error) {
	ep := &exprParser{lex: lex, src: src}
	root, err := ep.parseAdd()
	if err != nil {
		return nil, err
	}
	return &Expr{root: root, label: root.text()}, nil
}

type exprParser struct {
	lex *lexer
	src string
}

func (p *exprParser) errf(format string, args ...interface{}) error {
	return fmt.Errorf("in formula %q: %s", strings.TrimSpace(p.src), fmt.Sprintf(format, args...))
}

func (p *exprParser) parseAdd() (exprNode, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		switch p.lex.peek().kind {
		case tokPlus:
			p.lex.next()
			right, err := p.parseMul()
			if err != nil {
				return nil, err
			}
			left = &binNode{op: '+', left: left, right: right}
		case tokMinus:
			p.lex.next()
			right, err := p.parseMul()
			if err != nil {
				return nil, err
			}
			left = &binNode{op: '-', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseMul() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.lex.peek().kind {
		case tokStar:
			p.lex.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binNode{op: '*', left: left, right: right}
		case tokSlash:
			p.lex.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binNode{op: '/', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.lex.peek().kind == tokMinus {
		p.lex.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (exprNode, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.lex.peek().kind == tokCaret {
		p.lex.next()
		// Right-associative exponent.
		exponent, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binNode{op: '^', left: base, right: exponent}, nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.lex.next()
	switch tok.kind {
	case tokNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errf("invalid number %q", tok.text)
		}
		return &numNode{value: value}, nil

	case tokIdent:
		if p.lex.peek().kind != tokLParen {
			return &varNode{name: tok.text}, nil
		}
		p.lex.next() // consume "("
		if _, ok := transformFuncs[tok.text]; !ok {
			return nil, p.errf("unknown function %q", tok.text)
		}
		arg, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		if closing := p.lex.next(); closing.kind != tokRParen {
			return nil, p.errf("expected ')' after %s(...)", tok.text)
		}
		return &callNode{fn: tok.text, arg: arg}, nil

	case tokLParen:
		inner, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		if closing := p.lex.next(); closing.kind != tokRParen {
			return nil, p.errf("expected ')', got %q", closing.text)
		}
		return inner, nil

	default:
		return nil, p.errf("unexpected %q in expression", tok.text)
	}
}

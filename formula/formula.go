// Package formula implements the symbolic model-formula language and the
// design-matrix builder behind every twidlr entry point.
//
// A formula names an optional response and a set of predictor terms over the
// columns of a dataframe.DataFrame:
//
//	y ~ x1 + x2        response-bearing, two predictors
//	~ x1 + x2          response-less (unsupervised families)
//	~ .                all columns as predictors
//	y ~ .              all columns except the response
//	y ~ a*b            main effects plus interaction: a + b + a:b
//	y ~ a:b            interaction only
//	y ~ . - x2         wildcard with exclusion
//	y ~ x1 + I(x1^2)   arithmetic term evaluated row-wise
//	y ~ log(x1)        transform term
//	y ~ x1 - 1         suppress the intercept (consumed by engines)
//
// Formulas are parsed once and expanded deterministically against a table's
// schema: the same formula and schema always yield the same design-matrix
// columns in the same order.
package formula

import (
	"fmt"
	"strings"

	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// Factor is a single multiplicand of a term: either a plain column reference
// or a derived expression such as I(x1^2) or log(x1).
type Factor struct {
	Name string // column name; empty when Expr is set
	Expr *Expr  // derived expression, evaluated in the row context
}

// Label returns the display label of the factor, which is also its identity
// for exclusion matching.
func (f Factor) Label() string {
	if f.Expr != nil {
		return f.Expr.Text()
	}
	return f.Name
}

// Vars returns the column names the factor reads.
func (f Factor) Vars() []string {
	if f.Expr != nil {
		return f.Expr.Vars()
	}
	return []string{f.Name}
}

// Term is one additive term of a formula. A single factor is a main effect;
// multiple factors form an interaction whose design columns are the
// element-wise products of the factors' expanded columns.
type Term struct {
	Factors []Factor
	Dot     bool // the "." wildcard: all columns not otherwise claimed
}

// Label returns the term's display label, e.g. "x1" or "a:b".
func (t Term) Label() string {
	if t.Dot {
		return "."
	}
	labels := make([]string, len(t.Factors))
	for i, f := range t.Factors {
		labels[i] = f.Label()
	}
	return strings.Join(labels, ":")
}

// Vars returns the column names the term reads.
func (t Term) Vars() []string {
	var vars []string
	for _, f := range t.Factors {
		vars = append(vars, f.Vars()...)
	}
	return vars
}

// Formula is a parsed model formula. The zero value is not usable; obtain
// instances from Parse or MustParse.
type Formula struct {
	src       string
	response  *Factor
	terms     []Term // additive terms in source order, wildcard unresolved
	removed   []Term // exclusion terms (right of a minus)
	intercept bool
}

// AllPredictors returns the implicit default formula "~ .": every column of
// the table as a predictor, no response. Families that permit a missing
// formula use this default.
func AllPredictors() *Formula {
	f, _ := Parse("~ .")
	return f
}

// Parse parses a formula from its textual form.
//
// Returns:
//   - *Formula: the parsed formula
//   - error: a FormulaError describing the first syntax problem
func Parse(src string) (*Formula, error) {
	p := &parser{lex: newLexer(src), src: src}
	f, err := p.parseFormula()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// MustParse is like Parse but panics on error. Intended for statically known
// formulas in tests and examples.
func MustParse(src string) *Formula {
	f, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source text of the formula.
func (f *Formula) String() string {
	return strings.TrimSpace(f.src)
}

// HasResponse reports whether the formula has a left-hand side.
func (f *Formula) HasResponse() bool {
	return f.response != nil
}

// Response returns the response factor, or nil for response-less formulas.
func (f *Formula) Response() *Factor {
	return f.response
}

// Intercept reports whether the formula keeps the implicit intercept.
// The builder never emits an intercept column; engines that fit one consult
// this flag ("y ~ x - 1" suppresses it).
func (f *Formula) Intercept() bool {
	return f.intercept
}

// Terms returns the additive predictor terms in source order. The wildcard
// term, if present, is unresolved; see Resolve.
func (f *Formula) Terms() []Term {
	return f.terms
}

// HasDot reports whether the formula contains the "." wildcard.
func (f *Formula) HasDot() bool {
	for _, t := range f.terms {
		if t.Dot {
			return true
		}
	}
	return false
}

// RequiredColumns returns the distinct column names the formula reads,
// excluding the response. For formulas containing the wildcard the result is
// only meaningful after Resolve.
func (f *Formula) RequiredColumns() []string {
	seen := make(map[string]bool)
	var names []string

	add := func(vars []string) {
		for _, v := range vars {
			if !seen[v] {
				seen[v] = true
				names = append(names, v)
			}
		}
	}

	for _, t := range f.terms {
		if t.Dot {
			continue
		}
		add(t.Vars())
	}
	return names
}

// parser

type parser struct {
	lex *lexer
	src string
}

func (p *parser) errf(format string, args ...interface{}) error {
	return twidlrErrors.NewFormulaError("formula.Parse", p.src, fmt.Sprintf(format, args...))
}

// parseFormula parses: [response] "~" term (("+"|"-") term)*
func (p *parser) parseFormula() (*Formula, error) {
	f := &Formula{src: p.src, intercept: true}

	tok := p.lex.peek()
	if tok.kind == tokEOF {
		return nil, p.errf("empty formula")
	}

	// Left-hand side: a single factor before "~".
	if tok.kind != tokTilde {
		factor, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		if factor == nil {
			return nil, p.errf("response must be a column name or expression")
		}
		f.response = factor
	}

	if tok := p.lex.next(); tok.kind != tokTilde {
		return nil, p.errf("expected '~', got %q", tok.text)
	}

	negate := false
	for {
		terms, interceptMarker, err := p.parseTermGroup()
		if err != nil {
			return nil, err
		}

		switch {
		case interceptMarker != "":
			// "1" keeps the intercept, "0" drops it; "- 1" drops it.
			if negate || interceptMarker == "0" {
				f.intercept = false
			}
		case negate:
			f.removed = append(f.removed, terms...)
		default:
			f.terms = append(f.terms, terms...)
		}

		tok := p.lex.next()
		switch tok.kind {
		case tokEOF:
			if len(f.terms) == 0 {
				return nil, p.errf("formula has no predictor terms")
			}
			return f, nil
		case tokPlus:
			negate = false
		case tokMinus:
			negate = true
		default:
			return nil, p.errf("unexpected %q", tok.text)
		}
	}
}

// parseTermGroup parses one additive term group, expanding the "*" operator:
// a*b yields a, b and a:b. Returns the expanded terms, or an intercept
// marker for the literals "0" and "1".
func (p *parser) parseTermGroup() ([]Term, string, error) {
	if tok := p.lex.peek(); tok.kind == tokNumber && (tok.text == "0" || tok.text == "1") {
		p.lex.next()
		return nil, tok.text, nil
	}

	// Collect "*"-separated parts; each part is a ":"-joined factor list.
	var parts [][]Factor
	for {
		factors, dot, err := p.parseInteraction()
		if err != nil {
			return nil, "", err
		}
		if dot {
			if len(parts) > 0 {
				return nil, "", p.errf("the wildcard '.' cannot appear inside an interaction")
			}
			return []Term{{Dot: true}}, "", nil
		}
		parts = append(parts, factors)

		if tok := p.lex.peek(); tok.kind == tokStar {
			p.lex.next()
			continue
		}
		break
	}

	if len(parts) == 1 {
		return []Term{{Factors: parts[0]}}, "", nil
	}
	return expandStar(parts), "", nil
}

// parseInteraction parses factor (":" factor)*.
func (p *parser) parseInteraction() ([]Factor, bool, error) {
	factor, err := p.parseFactor()
	if err != nil {
		return nil, false, err
	}
	if factor == nil {
		// Wildcard.
		return nil, true, nil
	}

	factors := []Factor{*factor}
	for p.lex.peek().kind == tokColon {
		p.lex.next()
		next, err := p.parseFactor()
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return nil, false, p.errf("the wildcard '.' cannot appear inside an interaction")
		}
		factors = append(factors, *next)
	}
	return factors, false, nil
}

// parseFactor parses a single factor: a column name, a function-call
// transform, or an I(...) arithmetic term. Returns (nil, nil) for the
// wildcard ".".
func (p *parser) parseFactor() (*Factor, error) {
	tok := p.lex.next()
	switch tok.kind {
	case tokDot:
		return nil, nil

	case tokIdent:
		if p.lex.peek().kind != tokLParen {
			return &Factor{Name: tok.text}, nil
		}

		// Function-call factor: I(expr) or a transform like log(x).
		p.lex.next() // consume "("
		expr, err := parseExprTokens(p.lex, p.src)
		if err != nil {
			return nil, err
		}
		if closing := p.lex.next(); closing.kind != tokRParen {
			return nil, p.errf("expected ')' after %s(...)", tok.text)
		}

		if tok.text == "I" {
			return &Factor{Expr: expr.wrapped("I")}, nil
		}
		wrapped, err := expr.applied(tok.text)
		if err != nil {
			return nil, p.errf("%v", err)
		}
		return &Factor{Expr: wrapped}, nil

	default:
		return nil, p.errf("expected a term, got %q", tok.text)
	}
}

// expandStar expands a*b(*c...) into all non-empty factor subsets, ordered
// by subset size then by position, matching the conventional crossing
// expansion: a, b, a:b.
func expandStar(parts [][]Factor) []Term {
	n := len(parts)
	var terms []Term
	for size := 1; size <= n; size++ {
		for mask := 1; mask < 1<<n; mask++ {
			if popcount(mask) != size {
				continue
			}
			var factors []Factor
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					factors = append(factors, parts[i]...)
				}
			}
			terms = append(terms, Term{Factors: factors})
		}
	}
	return terms
}

func popcount(x int) int {
	count := 0
	for x != 0 {
		count += x & 1
		x >>= 1
	}
	return count
}

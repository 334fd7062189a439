package formula

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/core/parallel"
	"github.com/srepho/twidlr/dataframe"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// Rows below this count are assembled sequentially.
const parallelThreshold = 1000

// DesignMatrix holds the numeric matrices produced by expanding a formula
// against a table. Y is nil for response-less formulas.
type DesignMatrix struct {
	X      *mat.Dense
	XNames []string
	Y      *mat.VecDense
	YName  string
}

// NumFeatures returns the number of predictor columns.
func (d *DesignMatrix) NumFeatures() int {
	return len(d.XNames)
}

// Resolve expands the "." wildcard against a table's schema and applies
// exclusion terms, returning an explicit formula whose terms no longer
// depend on the table. The wildcard expands to a main effect for every
// column that is not part of the response and not already named by another
// term, in table order. Duplicate terms keep their first occurrence.
//
// The resolved formula is what fit attaches to the model: rebuilding a
// design matrix from it at prediction time is a pure function of the new
// table's schema.
func (f *Formula) Resolve(df *dataframe.DataFrame) (*Formula, error) {
	responseVars := make(map[string]bool)
	if f.response != nil {
		for _, v := range f.response.Vars() {
			responseVars[v] = true
		}
	}

	claimed := make(map[string]bool)
	for _, t := range f.terms {
		if !t.Dot && len(t.Factors) == 1 && t.Factors[0].Name != "" {
			claimed[t.Factors[0].Name] = true
		}
	}

	removed := make(map[string]bool, len(f.removed))
	for _, t := range f.removed {
		removed[t.Label()] = true
	}

	var resolved []Term
	seen := make(map[string]bool)
	for _, t := range f.terms {
		if t.Dot {
			for _, name := range df.Names() {
				if responseVars[name] || claimed[name] {
					continue
				}
				term := Term{Factors: []Factor{{Name: name}}}
				if removed[term.Label()] || seen[term.Label()] {
					continue
				}
				seen[term.Label()] = true
				resolved = append(resolved, term)
			}
			continue
		}

		if removed[t.Label()] || seen[t.Label()] {
			continue
		}
		seen[t.Label()] = true
		resolved = append(resolved, t)
	}

	if len(resolved) == 0 {
		return nil, twidlrErrors.NewFormulaError("Formula.Resolve", f.src,
			"no predictor terms remain after expansion")
	}

	out := &Formula{
		response:  f.response,
		terms:     resolved,
		intercept: f.intercept,
	}
	out.src = out.render()
	return out, nil
}

// render reconstructs a canonical source form for a resolved formula.
func (f *Formula) render() string {
	var b strings.Builder
	if f.response != nil {
		b.WriteString(f.response.Label())
		b.WriteString(" ")
	}
	b.WriteString("~ ")

	labels := make([]string, len(f.terms))
	for i, t := range f.terms {
		labels[i] = t.Label()
	}
	b.WriteString(strings.Join(labels, " + "))

	if !f.intercept {
		b.WriteString(" - 1")
	}
	return b.String()
}

// Build expands the formula against a table, producing the predictor matrix
// X and, for response-bearing formulas, the response vector Y.
//
// Expansion is deterministic: column order of X is a pure function of the
// formula and the table's schema (including categorical level sets).
// Categorical factors are treatment-coded: levels sorted, first level as
// reference, one 0/1 column per remaining level named "col_level".
//
// Returns:
//   - *DesignMatrix: X with column names, plus Y when the formula has a
//     response
//   - error: a FormulaError if a referenced column is absent or a term
//     cannot be expanded
func (f *Formula) Build(df *dataframe.DataFrame) (*DesignMatrix, error) {
	return f.build(df, true)
}

// BuildPredictors is Build restricted to the predictor side: the response,
// if the formula has one, is neither required nor read. This is the entry
// point used at prediction time, where new data typically lacks the
// response column.
func (f *Formula) BuildPredictors(df *dataframe.DataFrame) (*DesignMatrix, error) {
	return f.build(df, false)
}

func (f *Formula) build(df *dataframe.DataFrame, withResponse bool) (*DesignMatrix, error) {
	resolved, err := f.Resolve(df)
	if err != nil {
		return nil, err
	}

	nRows := df.NumRows()

	var names []string
	var cols [][]float64
	for _, term := range resolved.terms {
		termNames, termCols, err := expandTerm(df, term, f.src)
		if err != nil {
			return nil, err
		}
		names = append(names, termNames...)
		cols = append(cols, termCols...)
	}

	x := mat.NewDense(nRows, len(cols), nil)
	parallel.ParallelizeWithThreshold(nRows, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := range cols {
				x.Set(i, j, cols[j][i])
			}
		}
	})

	dm := &DesignMatrix{X: x, XNames: names}

	if withResponse && resolved.response != nil {
		y, yName, err := buildResponse(df, *resolved.response, f.src)
		if err != nil {
			return nil, err
		}
		dm.Y = y
		dm.YName = yName
	}

	return dm, nil
}

// expandTerm produces the design columns of one term. Interactions are the
// element-wise products of the crossed factor columns, named "left:right".
func expandTerm(df *dataframe.DataFrame, term Term, src string) ([]string, [][]float64, error) {
	names, cols, err := expandFactor(df, term.Factors[0], src)
	if err != nil {
		return nil, nil, err
	}

	for _, factor := range term.Factors[1:] {
		rightNames, rightCols, err := expandFactor(df, factor, src)
		if err != nil {
			return nil, nil, err
		}

		crossedNames := make([]string, 0, len(names)*len(rightNames))
		crossedCols := make([][]float64, 0, len(cols)*len(rightCols))
		for i := range cols {
			for j := range rightCols {
				crossedNames = append(crossedNames, names[i]+":"+rightNames[j])

				product := make([]float64, len(cols[i]))
				for k := range product {
					product[k] = cols[i][k] * rightCols[j][k]
				}
				crossedCols = append(crossedCols, product)
			}
		}
		names, cols = crossedNames, crossedCols
	}

	return names, cols, nil
}

// expandFactor produces the design columns of a single factor: one column
// for numeric, logical and expression factors, and k-1 treatment-coded
// dummy columns for a categorical factor with k levels.
func expandFactor(df *dataframe.DataFrame, factor Factor, src string) ([]string, [][]float64, error) {
	if factor.Expr != nil {
		col, err := evalExprColumn(df, factor.Expr, src)
		if err != nil {
			return nil, nil, err
		}
		return []string{factor.Expr.Text()}, [][]float64{col}, nil
	}

	col, ok := df.Column(factor.Name)
	if !ok {
		return nil, nil, twidlrErrors.NewFormulaError("formula.Build", src,
			fmt.Sprintf("column %q is not present in the data", factor.Name))
	}

	switch col.Type {
	case dataframe.Numeric, dataframe.Logical:
		values, err := df.Numeric(factor.Name)
		if err != nil {
			return nil, nil, err
		}
		return []string{factor.Name}, [][]float64{values}, nil

	case dataframe.Categorical:
		levels, err := df.Levels(factor.Name)
		if err != nil {
			return nil, nil, err
		}
		if len(levels) < 2 {
			return nil, nil, twidlrErrors.NewFormulaError("formula.Build", src,
				fmt.Sprintf("categorical column %q has fewer than 2 levels", factor.Name))
		}

		// Treatment coding against the first (reference) level.
		names := make([]string, 0, len(levels)-1)
		cols := make([][]float64, 0, len(levels)-1)
		for _, level := range levels[1:] {
			dummy := make([]float64, len(col.Strings))
			for i, v := range col.Strings {
				if v == level {
					dummy[i] = 1
				}
			}
			names = append(names, factor.Name+"_"+level)
			cols = append(cols, dummy)
		}
		return names, cols, nil

	default:
		return nil, nil, twidlrErrors.NewFormulaError("formula.Build", src,
			fmt.Sprintf("column %q has unsupported type", factor.Name))
	}
}

// evalExprColumn evaluates a derived expression row by row.
func evalExprColumn(df *dataframe.DataFrame, expr *Expr, src string) ([]float64, error) {
	vars := expr.Vars()
	values := make(map[string][]float64, len(vars))
	for _, name := range vars {
		if !df.Has(name) {
			return nil, twidlrErrors.NewFormulaError("formula.Build", src,
				fmt.Sprintf("column %q is not present in the data", name))
		}
		col, err := df.Numeric(name)
		if err != nil {
			return nil, twidlrErrors.NewFormulaError("formula.Build", src,
				fmt.Sprintf("column %q cannot be used in %s: %v", name, expr.Text(), err))
		}
		values[name] = col
	}

	out := make([]float64, df.NumRows())
	row := make(map[string]float64, len(vars))
	for i := range out {
		for _, name := range vars {
			row[name] = values[name][i]
		}
		v, err := expr.Eval(row)
		if err != nil {
			return nil, twidlrErrors.NewFormulaError("formula.Build", src, err.Error())
		}
		out[i] = v
	}
	return out, nil
}

// buildResponse evaluates the left-hand side into a numeric vector.
// Categorical responses are only accepted with exactly two levels and are
// coded 0/1 against the sorted level order.
func buildResponse(df *dataframe.DataFrame, response Factor, src string) (*mat.VecDense, string, error) {
	if response.Expr != nil {
		col, err := evalExprColumn(df, response.Expr, src)
		if err != nil {
			return nil, "", err
		}
		return mat.NewVecDense(len(col), col), response.Expr.Text(), nil
	}

	col, ok := df.Column(response.Name)
	if !ok {
		return nil, "", twidlrErrors.NewFormulaError("formula.Build", src,
			fmt.Sprintf("response column %q is not present in the data", response.Name))
	}

	switch col.Type {
	case dataframe.Numeric, dataframe.Logical:
		values, err := df.Numeric(response.Name)
		if err != nil {
			return nil, "", err
		}
		return mat.NewVecDense(len(values), values), response.Name, nil

	case dataframe.Categorical:
		levels, err := df.Levels(response.Name)
		if err != nil {
			return nil, "", err
		}
		if len(levels) != 2 {
			return nil, "", twidlrErrors.NewFormulaError("formula.Build", src,
				fmt.Sprintf("categorical response %q must have exactly 2 levels, has %d",
					response.Name, len(levels)))
		}

		values := make([]float64, len(col.Strings))
		for i, v := range col.Strings {
			if v == levels[1] {
				values[i] = 1
			}
		}
		return mat.NewVecDense(len(values), values), response.Name, nil

	default:
		return nil, "", twidlrErrors.NewFormulaError("formula.Build", src,
			fmt.Sprintf("response column %q has unsupported type", response.Name))
	}
}

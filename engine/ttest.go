package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/srepho/twidlr/dataframe"
	"github.com/srepho/twidlr/formula"
	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// TTestConfig holds the options of the two-sample t-test engine.
type TTestConfig struct {
	Mu       float64 // difference in means under the null hypothesis
	VarEqual bool    // pooled variance instead of the Welch approximation
}

// DefaultTTestConfig returns a Welch test of zero difference.
func DefaultTTestConfig() *TTestConfig {
	return &TTestConfig{}
}

// TTestResult is the fitted result of the t-test engine.
type TTestResult struct {
	Statistic float64
	DF        float64
	PValue    float64

	Groups [2]string  // the two group levels, sorted
	Means  [2]float64 // group means in level order
	Method string
}

type ttestDriver struct{}

// Fit runs a two-sample t-test of "y ~ group", where group is a
// categorical or logical column with exactly two levels.
func (ttestDriver) Fit(req *model.FitRequest) (interface{}, error) {
	cfg, _ := req.Config.(*TTestConfig)
	if cfg == nil {
		cfg = DefaultTTestConfig()
	}

	groups, levels, err := splitByGroup(req.Formula, req.Data, "ttest.Fit")
	if err != nil {
		return nil, err
	}
	if len(levels) != 2 {
		return nil, twidlrErrors.NewFormulaError("ttest.Fit", req.Formula.String(),
			fmt.Sprintf("grouping column must have exactly 2 levels, has %d", len(levels)))
	}

	a := groups[levels[0]]
	b := groups[levels[1]]
	if len(a) < 2 || len(b) < 2 {
		return nil, twidlrErrors.NewValueError("ttest.Fit", "each group needs at least 2 observations")
	}

	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	nA, nB := float64(len(a)), float64(len(b))

	var statistic, df float64
	var method string
	if cfg.VarEqual {
		pooled := ((nA-1)*varA + (nB-1)*varB) / (nA + nB - 2)
		se := math.Sqrt(pooled * (1/nA + 1/nB))
		statistic = (meanA - meanB - cfg.Mu) / se
		df = nA + nB - 2
		method = "Two Sample t-test"
	} else {
		seA := varA / nA
		seB := varB / nB
		se := math.Sqrt(seA + seB)
		statistic = (meanA - meanB - cfg.Mu) / se
		df = (seA + seB) * (seA + seB) /
			(seA*seA/(nA-1) + seB*seB/(nB-1))
		method = "Welch Two Sample t-test"
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pValue := 2 * dist.CDF(-math.Abs(statistic))

	return &TTestResult{
		Statistic: statistic,
		DF:        df,
		PValue:    pValue,
		Groups:    [2]string{levels[0], levels[1]},
		Means:     [2]float64{meanA, meanB},
		Method:    method,
	}, nil
}

// splitByGroup evaluates "y ~ group" against the table, returning the
// response values partitioned by group level. The formula must have a
// response and a single plain-column predictor term.
func splitByGroup(f *formula.Formula, df *dataframe.DataFrame, op string) (map[string][]float64, []string, error) {
	if !f.HasResponse() {
		return nil, nil, twidlrErrors.NewFormulaError(op, f.String(), "a response is required")
	}

	resolved, err := f.Resolve(df)
	if err != nil {
		return nil, nil, err
	}
	terms := resolved.Terms()
	if len(terms) != 1 || len(terms[0].Factors) != 1 || terms[0].Factors[0].Name == "" {
		return nil, nil, twidlrErrors.NewFormulaError(op, f.String(),
			"expected a single grouping column on the right-hand side")
	}
	groupName := terms[0].Factors[0].Name

	response := f.Response()
	if response.Name == "" {
		return nil, nil, twidlrErrors.NewFormulaError(op, f.String(),
			"response must be a plain column")
	}
	y, err := df.Numeric(response.Name)
	if err != nil {
		return nil, nil, err
	}

	col, ok := df.Column(groupName)
	if !ok {
		return nil, nil, twidlrErrors.NewFormulaError(op, f.String(),
			fmt.Sprintf("column %q is not present in the data", groupName))
	}

	labels := make([]string, df.NumRows())
	switch col.Type {
	case dataframe.Categorical:
		copy(labels, col.Strings)
	case dataframe.Logical:
		for i, b := range col.Bools {
			labels[i] = fmt.Sprintf("%t", b)
		}
	default:
		return nil, nil, twidlrErrors.NewFormulaError(op, f.String(),
			fmt.Sprintf("grouping column %q must be categorical or logical", groupName))
	}

	groups := make(map[string][]float64)
	var levels []string
	seen := make(map[string]bool)
	for i, label := range labels {
		if !seen[label] {
			seen[label] = true
			levels = append(levels, label)
		}
		groups[label] = append(groups[label], y[i])
	}
	sort.Strings(levels)

	return groups, levels, nil
}

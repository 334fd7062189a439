package engine

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// AnovaResult is the fitted result of the one-way analysis-of-variance
// engine: the classical F table for "y ~ group".
type AnovaResult struct {
	Term   string // name of the grouping column
	Groups int    // number of group levels

	DF        int // between-groups degrees of freedom
	SumSq     float64
	MeanSq    float64
	Statistic float64 // the F statistic
	PValue    float64

	ResidualDF    int
	ResidualSumSq float64
	ResidualMeanSq float64
}

type anovaDriver struct{}

// Fit computes a one-way ANOVA of "y ~ group", partitioning the total sum
// of squares into between- and within-group components.
func (anovaDriver) Fit(req *model.FitRequest) (interface{}, error) {
	groups, levels, err := splitByGroup(req.Formula, req.Data, "anova.Fit")
	if err != nil {
		return nil, err
	}
	if len(levels) < 2 {
		return nil, twidlrErrors.NewFormulaError("anova.Fit", req.Formula.String(),
			fmt.Sprintf("grouping column must have at least 2 levels, has %d", len(levels)))
	}

	var total int
	var grandSum float64
	for _, values := range groups {
		total += len(values)
		for _, v := range values {
			grandSum += v
		}
	}
	grandMean := grandSum / float64(total)

	var between, within float64
	for _, level := range levels {
		values := groups[level]
		mean := stat.Mean(values, nil)
		dev := mean - grandMean
		between += float64(len(values)) * dev * dev
		for _, v := range values {
			within += (v - mean) * (v - mean)
		}
	}

	dfBetween := len(levels) - 1
	dfWithin := total - len(levels)
	if dfWithin < 1 {
		return nil, twidlrErrors.NewValueError("anova.Fit", "not enough observations for residual degrees of freedom")
	}

	meanSqBetween := between / float64(dfBetween)
	meanSqWithin := within / float64(dfWithin)

	result := &AnovaResult{
		Groups:         len(levels),
		DF:             dfBetween,
		SumSq:          between,
		MeanSq:         meanSqBetween,
		ResidualDF:     dfWithin,
		ResidualSumSq:  within,
		ResidualMeanSq: meanSqWithin,
	}
	if resolved, err := req.Formula.Resolve(req.Data); err == nil {
		result.Term = resolved.Terms()[0].Label()
	}

	if meanSqWithin > 0 {
		result.Statistic = meanSqBetween / meanSqWithin
		dist := distuv.F{D1: float64(dfBetween), D2: float64(dfWithin)}
		result.PValue = 1 - dist.CDF(result.Statistic)
	}

	return result, nil
}

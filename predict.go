package twidlr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/srepho/twidlr/core/parallel"
	"github.com/srepho/twidlr/dataframe"
	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// Rows below this count are classified sequentially.
const predictParallelThreshold = 1000

// Predict generates predictions for new data from any fitted model that
// supports prediction:
//
//   - lm, glm: the engine's native prediction on the rebuilt design matrix
//   - prcomp: the engine's native projection into component space
//   - kmeans: nearest-centroid classification, one 1-based cluster index
//     per row
//   - factanal: regression factor scores, one column per factor
//
// The new data is validated against the formula the model was fit with and
// expanded to a predictor matrix whose columns must match the fit-time
// design matrix exactly. Hypothesis-test and ANOVA results have nothing to
// predict and fail with ErrNotImplemented.
func Predict(fitted *model.Fitted, data interface{}) (_ *mat.Dense, err error) {
	defer twidlrErrors.Recover(&err, "twidlr.Predict")
	if fitted == nil {
		return nil, twidlrErrors.NewValueError("twidlr.Predict", "fitted model is nil")
	}

	switch fitted.Family {
	case model.FamilyKMeans:
		clusters, err := PredictClusters(fitted, data)
		if err != nil {
			return nil, err
		}
		out := mat.NewDense(len(clusters), 1, nil)
		for i, c := range clusters {
			out.Set(i, 0, float64(c))
		}
		return out, nil

	case model.FamilyPRComp:
		x, err := rebuildPredictors(fitted, data)
		if err != nil {
			return nil, err
		}
		projector, ok := fitted.Object.(model.Projector)
		if !ok {
			return nil, twidlrErrors.NewValueError("twidlr.Predict",
				"principal-components result does not support projection")
		}
		// Projection semantics belong entirely to the engine; the dispatch
		// layer only guarantees the column schema of x.
		return projector.Project(x)

	case model.FamilyFactanal:
		return predictFactorScores(fitted, data)

	case model.FamilyLM, model.FamilyGLM:
		x, err := rebuildPredictors(fitted, data)
		if err != nil {
			return nil, err
		}
		predictor, ok := fitted.Object.(model.Predictor)
		if !ok {
			return nil, twidlrErrors.NewValueError("twidlr.Predict",
				fmt.Sprintf("%s result does not support prediction", fitted.Family))
		}
		return predictor.Predict(x)

	default:
		return nil, twidlrErrors.NewModelError("twidlr.Predict",
			fmt.Sprintf("family %s has no prediction", fitted.Family),
			twidlrErrors.ErrNotImplemented)
	}
}

// PredictClusters assigns each row of new data to its nearest fitted
// centroid under Euclidean distance. Indices are 1-based, matching the
// centroid ordering of the fit; equidistant rows take the lowest index.
func PredictClusters(fitted *model.Fitted, data interface{}) (_ []int, err error) {
	defer twidlrErrors.Recover(&err, "twidlr.PredictClusters")
	if fitted == nil || fitted.Family != model.FamilyKMeans {
		return nil, twidlrErrors.NewValueError("twidlr.PredictClusters", "not a kmeans model")
	}

	provider, ok := fitted.Object.(model.CenterProvider)
	if !ok {
		return nil, twidlrErrors.NewValueError("twidlr.PredictClusters",
			"clustering result does not expose centroids")
	}
	centers := provider.Centers()
	k, p := centers.Dims()

	x, err := rebuildPredictors(fitted, data)
	if err != nil {
		return nil, err
	}
	rows, cols := x.Dims()
	if cols != p {
		return nil, twidlrErrors.NewDimensionError("twidlr.PredictClusters", p, cols, 1)
	}

	clusters := make([]int, rows)
	parallel.ParallelizeWithThreshold(rows, predictParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			best := 0
			minDist := math.Inf(1)
			for j := 0; j < k; j++ {
				sum := 0.0
				for c := 0; c < p; c++ {
					diff := x.At(i, c) - centers.At(j, c)
					sum += diff * diff
				}
				// Strict comparison keeps the first minimum on ties.
				if dist := math.Sqrt(sum); dist < minDist {
					minDist = dist
					best = j
				}
			}
			clusters[i] = best + 1
		}
	})

	return clusters, nil
}

// PredictFactors computes regression factor scores for new data and
// returns them as a table with one column per factor (Factor1..FactorM).
func PredictFactors(fitted *model.Fitted, data interface{}) (*dataframe.DataFrame, error) {
	scores, err := predictFactorScores(fitted, data)
	if err != nil {
		return nil, err
	}

	rows, m := scores.Dims()
	cols := make([]dataframe.Column, m)
	for j := 0; j < m; j++ {
		values := make([]float64, rows)
		for i := 0; i < rows; i++ {
			values[i] = scores.At(i, j)
		}
		cols[j] = dataframe.Num(fmt.Sprintf("Factor%d", j+1), values)
	}
	return dataframe.New(cols...)
}

// predictFactorScores scores new observations against the predict matrix
// attached at fit time: the new data is standardized column-wise (mean and
// standard deviation computed from the new data itself) and multiplied by
// the scoring matrix.
func predictFactorScores(fitted *model.Fitted, data interface{}) (_ *mat.Dense, err error) {
	defer twidlrErrors.Recover(&err, "twidlr.PredictFactors")
	if fitted == nil || fitted.Family != model.FamilyFactanal {
		return nil, twidlrErrors.NewValueError("twidlr.PredictFactors", "not a factanal model")
	}
	if fitted.Meta.PredictMatrix == nil {
		return nil, twidlrErrors.NewValueError("twidlr.PredictFactors",
			"fitted model carries no predict matrix")
	}

	x, err := rebuildPredictors(fitted, data)
	if err != nil {
		return nil, err
	}

	p, _ := fitted.Meta.PredictMatrix.Dims()
	rows, cols := x.Dims()
	if cols != p {
		return nil, twidlrErrors.NewDimensionError("twidlr.PredictFactors", p, cols, 1)
	}

	scaled := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := 0; i < rows; i++ {
			scaled.Set(i, j, (col[i]-mean)/std)
		}
	}

	_, m := fitted.Meta.PredictMatrix.Dims()
	scores := mat.NewDense(rows, m, nil)
	scores.Mul(scaled, fitted.Meta.PredictMatrix)
	return scores, nil
}

// factorPredictMatrix derives the regression scoring matrix at fit time:
// the covariance of the fit design matrix is normalized to a correlation
// matrix, and correlation * P = Lambda is solved for P. A non-invertible
// correlation matrix (perfectly collinear predictors) fails the fit.
func factorPredictMatrix(x *mat.Dense, lambda *mat.Dense) (*mat.Dense, error) {
	_, p := x.Dims()

	cv := mat.NewSymDense(p, nil)
	stat.CovarianceMatrix(cv, x, nil)

	sds := make([]float64, p)
	for i := 0; i < p; i++ {
		sds[i] = math.Sqrt(cv.At(i, i))
		if sds[i] == 0 {
			return nil, twidlrErrors.NewModelError("twidlr.Factanal",
				fmt.Sprintf("design column %d is constant", i), twidlrErrors.ErrSingularMatrix)
		}
	}

	correlation := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			correlation.Set(i, j, cv.At(i, j)/(sds[i]*sds[j]))
		}
	}

	var pm mat.Dense
	if err := pm.Solve(correlation, lambda); err != nil {
		return nil, twidlrErrors.NewModelError("twidlr.Factanal",
			"correlation matrix is singular", twidlrErrors.ErrSingularMatrix)
	}
	return &pm, nil
}

// rebuildPredictors validates new data against the fitted formula and
// expands it to a predictor matrix, verifying that the columns match the
// fit-time design matrix exactly.
func rebuildPredictors(fitted *model.Fitted, data interface{}) (*mat.Dense, error) {
	f := fitted.Meta.Formula
	if f == nil {
		return nil, twidlrErrors.NewValueError("twidlr.Predict",
			"fitted model carries no formula, cannot rebuild predictors")
	}

	df, err := dataframe.ValidateForPredict(data, f.RequiredColumns())
	if err != nil {
		return nil, err
	}

	dm, err := f.BuildPredictors(df)
	if err != nil {
		return nil, err
	}

	want := fitted.Meta.FeatureNames
	if len(want) > 0 {
		if len(dm.XNames) != len(want) {
			return nil, twidlrErrors.NewSchemaError("twidlr.Predict",
				fmt.Sprintf("new data expands to %d design columns, model was fit with %d",
					len(dm.XNames), len(want)))
		}
		for i := range want {
			if dm.XNames[i] != want[i] {
				return nil, twidlrErrors.NewSchemaError("twidlr.Predict",
					fmt.Sprintf("design column %d is %q, model was fit with %q",
						i, dm.XNames[i], want[i]))
			}
		}
	}

	return dm.X, nil
}

package engine

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
	"github.com/srepho/twidlr/pkg/log"
)

// LinearModel is the fitted result of the ordinary least squares engine.
type LinearModel struct {
	// CoefData holds the fitted coefficients; when HasIntercept is true
	// the intercept is first, matching CoefNames.
	CoefData     []float64
	CoefNames    []string
	HasIntercept bool

	NObs           int
	RSquared       float64
	ResidualStdErr float64
}

// Intercept returns the fitted intercept, or 0 for intercept-free models.
func (m *LinearModel) Intercept() float64 {
	if !m.HasIntercept {
		return 0
	}
	return m.CoefData[0]
}

// Weights returns the predictor coefficients, excluding the intercept.
func (m *LinearModel) Weights() []float64 {
	if m.HasIntercept {
		return m.CoefData[1:]
	}
	return m.CoefData
}

// Predict computes fitted values for a predictor matrix with the same
// columns the model was fit on.
func (m *LinearModel) Predict(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	weights := m.Weights()
	if cols != len(weights) {
		return nil, twidlrErrors.NewDimensionError("LinearModel.Predict", len(weights), cols, 1)
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		pred := m.Intercept()
		for j := 0; j < cols; j++ {
			pred += x.At(i, j) * weights[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

type lmDriver struct{}

// Fit builds the design matrix from the formula and solves the normal
// equations (X^T X)^{-1} X^T y. A non-invertible cross-product matrix
// (perfectly collinear predictors) fails with ErrSingularMatrix.
func (lmDriver) Fit(req *model.FitRequest) (interface{}, error) {
	start := time.Now()

	dm, err := req.Formula.Build(req.Data)
	if err != nil {
		return nil, err
	}
	if dm.Y == nil {
		return nil, twidlrErrors.NewFormulaError("lm.Fit", req.Formula.String(),
			"linear models require a response")
	}

	coef, names, err := solveLeastSquares(dm.X, dm.Y, dm.XNames, req.Formula.Intercept(), "lm.Fit")
	if err != nil {
		return nil, err
	}

	rows, _ := dm.X.Dims()
	fitted := &LinearModel{
		CoefData:     coef,
		CoefNames:    names,
		HasIntercept: req.Formula.Intercept(),
		NObs:         rows,
	}

	// Goodness of fit on the training data.
	preds, err := fitted.Predict(dm.X)
	if err != nil {
		return nil, err
	}
	var yMean float64
	for i := 0; i < rows; i++ {
		yMean += dm.Y.AtVec(i)
	}
	yMean /= float64(rows)

	var tss, rss float64
	for i := 0; i < rows; i++ {
		resid := dm.Y.AtVec(i) - preds.At(i, 0)
		dev := dm.Y.AtVec(i) - yMean
		rss += resid * resid
		tss += dev * dev
	}
	if tss > 0 {
		fitted.RSquared = 1 - rss/tss
	}
	if df := rows - len(coef); df > 0 {
		fitted.ResidualStdErr = math.Sqrt(rss / float64(df))
	}

	lmLogger.Info("Fit completed",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.FeaturesKey, len(dm.XNames),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return fitted, nil
}

var lmLogger = log.GetLoggerWithName("engine").With(
	log.ModelNameKey, "LinearModel",
	log.ComponentKey, "engine",
)

// solveLeastSquares solves (X^T X) b = X^T y, optionally augmenting X with
// an intercept column. Returns the coefficients and their names.
func solveLeastSquares(x *mat.Dense, y *mat.VecDense, xNames []string, intercept bool, op string) ([]float64, []string, error) {
	rows, cols := x.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, twidlrErrors.NewModelError(op, "empty design matrix", twidlrErrors.ErrEmptyData)
	}
	if y.Len() != rows {
		return nil, nil, twidlrErrors.NewDimensionError(op, rows, y.Len(), 0)
	}

	design := x
	names := xNames
	if intercept {
		design = mat.NewDense(rows, cols+1, nil)
		for i := 0; i < rows; i++ {
			design.Set(i, 0, 1)
			for j := 0; j < cols; j++ {
				design.Set(i, j+1, x.At(i, j))
			}
		}
		names = append([]string{"(Intercept)"}, xNames...)
	}

	var xt mat.Dense
	xt.CloneFrom(design.T())

	var xtx mat.Dense
	xtx.Mul(&xt, design)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, nil, twidlrErrors.NewModelError(op, "singular matrix", twidlrErrors.ErrSingularMatrix)
	}

	var xty mat.VecDense
	xty.MulVec(&xt, y)

	coef := mat.NewVecDense(len(names), nil)
	coef.MulVec(&xtxInv, &xty)

	out := make([]float64, coef.Len())
	for i := range out {
		out[i] = coef.AtVec(i)
	}
	return out, names, nil
}

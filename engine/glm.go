package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// GLM response families.
const (
	FamilyGaussian = "gaussian"
	FamilyBinomial = "binomial"
	FamilyPoisson  = "poisson"
)

// GLMConfig holds the options of the generalized-linear-model engine.
type GLMConfig struct {
	Family  string  // gaussian, binomial or poisson; canonical links
	MaxIter int     // IRLS iteration cap
	Tol     float64 // convergence tolerance on the coefficient change
}

// DefaultGLMConfig returns gaussian family, 25 iterations, 1e-8 tolerance.
func DefaultGLMConfig() *GLMConfig {
	return &GLMConfig{Family: FamilyGaussian, MaxIter: 25, Tol: 1e-8}
}

// GLMModel is the fitted result of the GLM engine.
type GLMModel struct {
	CoefData     []float64
	CoefNames    []string
	HasIntercept bool
	FamilyName   string
	NObs         int
	Iterations   int
	Converged    bool
}

// Intercept returns the fitted intercept, or 0 for intercept-free models.
func (m *GLMModel) Intercept() float64 {
	if !m.HasIntercept {
		return 0
	}
	return m.CoefData[0]
}

// Weights returns the predictor coefficients, excluding the intercept.
func (m *GLMModel) Weights() []float64 {
	if m.HasIntercept {
		return m.CoefData[1:]
	}
	return m.CoefData
}

// Predict computes predictions on the response scale (the inverse link
// applied to the linear predictor).
func (m *GLMModel) Predict(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	weights := m.Weights()
	if cols != len(weights) {
		return nil, twidlrErrors.NewDimensionError("GLMModel.Predict", len(weights), cols, 1)
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		eta := m.Intercept()
		for j := 0; j < cols; j++ {
			eta += x.At(i, j) * weights[j]
		}
		predictions.Set(i, 0, inverseLink(m.FamilyName, eta))
	}
	return predictions, nil
}

func inverseLink(family string, eta float64) float64 {
	switch family {
	case FamilyBinomial:
		return 1 / (1 + math.Exp(-eta))
	case FamilyPoisson:
		return math.Exp(eta)
	default:
		return eta
	}
}

type glmDriver struct{}

// Fit estimates the model by iteratively reweighted least squares under
// the family's canonical link. The gaussian family reduces to a single
// least-squares solve.
func (glmDriver) Fit(req *model.FitRequest) (interface{}, error) {
	cfg, _ := req.Config.(*GLMConfig)
	if cfg == nil {
		cfg = DefaultGLMConfig()
	}

	switch cfg.Family {
	case FamilyGaussian, FamilyBinomial, FamilyPoisson:
	default:
		return nil, twidlrErrors.NewValueError("glm.Fit", "unknown family "+cfg.Family)
	}

	dm, err := req.Formula.Build(req.Data)
	if err != nil {
		return nil, err
	}
	if dm.Y == nil {
		return nil, twidlrErrors.NewFormulaError("glm.Fit", req.Formula.String(),
			"generalized linear models require a response")
	}

	rows, _ := dm.X.Dims()
	fitted := &GLMModel{
		CoefNames:    dm.XNames,
		HasIntercept: req.Formula.Intercept(),
		FamilyName:   cfg.Family,
		NObs:         rows,
	}
	if fitted.HasIntercept {
		fitted.CoefNames = append([]string{"(Intercept)"}, dm.XNames...)
	}

	if cfg.Family == FamilyGaussian {
		coef, _, err := solveLeastSquares(dm.X, dm.Y, dm.XNames, fitted.HasIntercept, "glm.Fit")
		if err != nil {
			return nil, err
		}
		fitted.CoefData = coef
		fitted.Iterations = 1
		fitted.Converged = true
		return fitted, nil
	}

	coef, iterations, converged, err := irls(dm.X, dm.Y, fitted.HasIntercept, cfg)
	if err != nil {
		return nil, err
	}
	fitted.CoefData = coef
	fitted.Iterations = iterations
	fitted.Converged = converged
	return fitted, nil
}

// irls runs iteratively reweighted least squares: at each step the working
// response z = eta + (y - mu)/mu' is regressed on X with weights given by
// the variance function, until the coefficients stop moving.
func irls(x *mat.Dense, y *mat.VecDense, intercept bool, cfg *GLMConfig) ([]float64, int, bool, error) {
	rows, cols := x.Dims()

	width := cols
	if intercept {
		width++
	}
	design := mat.NewDense(rows, width, nil)
	for i := 0; i < rows; i++ {
		offset := 0
		if intercept {
			design.Set(i, 0, 1)
			offset = 1
		}
		for j := 0; j < cols; j++ {
			design.Set(i, j+offset, x.At(i, j))
		}
	}

	coef := make([]float64, width)
	eta := make([]float64, rows)
	z := make([]float64, rows)
	w := make([]float64, rows)

	for iter := 1; iter <= cfg.MaxIter; iter++ {
		for i := 0; i < rows; i++ {
			e := 0.0
			for j := 0; j < width; j++ {
				e += design.At(i, j) * coef[j]
			}
			eta[i] = e

			mu := inverseLink(cfg.Family, e)
			var deriv, variance float64
			switch cfg.Family {
			case FamilyBinomial:
				deriv = mu * (1 - mu)
				variance = deriv
			case FamilyPoisson:
				deriv = mu
				variance = mu
			}
			// Clamp away from zero to keep the weighted solve stable.
			if deriv < 1e-10 {
				deriv = 1e-10
			}
			if variance < 1e-10 {
				variance = 1e-10
			}

			z[i] = e + (y.AtVec(i)-mu)/deriv
			w[i] = deriv * deriv / variance
		}

		// Weighted normal equations: (X^T W X) b = X^T W z.
		xtwx := mat.NewDense(width, width, nil)
		xtwz := mat.NewVecDense(width, nil)
		for i := 0; i < rows; i++ {
			for a := 0; a < width; a++ {
				xtwz.SetVec(a, xtwz.AtVec(a)+design.At(i, a)*w[i]*z[i])
				for b := 0; b < width; b++ {
					xtwx.Set(a, b, xtwx.At(a, b)+design.At(i, a)*w[i]*design.At(i, b))
				}
			}
		}

		var inv mat.Dense
		if err := inv.Inverse(xtwx); err != nil {
			return nil, iter, false, twidlrErrors.NewModelError("glm.Fit", "singular matrix", twidlrErrors.ErrSingularMatrix)
		}

		next := mat.NewVecDense(width, nil)
		next.MulVec(&inv, xtwz)

		delta := 0.0
		for j := 0; j < width; j++ {
			delta += math.Abs(next.AtVec(j) - coef[j])
			coef[j] = next.AtVec(j)
		}
		if delta < cfg.Tol {
			return coef, iter, true, nil
		}
	}

	return coef, cfg.MaxIter, false, nil
}

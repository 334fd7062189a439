package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// PCAConfig holds the options of the principal-components engine.
type PCAConfig struct {
	Components int  // number of components to keep; 0 keeps all
	Center     bool // subtract column means before decomposition
	Scale      bool // divide columns by their standard deviation
}

// DefaultPCAConfig returns the engine defaults: all components, centered,
// unscaled.
func DefaultPCAConfig() *PCAConfig {
	return &PCAConfig{Center: true}
}

// PCAModel is the fitted result of the principal-components engine.
type PCAModel struct {
	// RotationData holds the loadings, one row per original variable and
	// one column per component (p by m, row-major).
	RotationData []float64
	NVars        int
	NComponents  int

	// SDev holds the component standard deviations in decreasing order.
	SDev []float64

	// Means and Scales are the fit-time centering and scaling applied to
	// each variable. Scales is nil when scaling was disabled.
	Means  []float64
	Scales []float64
}

// Loadings returns the rotation matrix (p by m).
func (m *PCAModel) Loadings() *mat.Dense {
	return mat.NewDense(m.NVars, m.NComponents, m.RotationData)
}

// Project maps new observations into component space using the rotation
// and the fit-time centering and scaling. This is the engine's native
// prediction: the dispatch layer delegates principal-component prediction
// here entirely.
func (m *PCAModel) Project(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != m.NVars {
		return nil, twidlrErrors.NewDimensionError("PCAModel.Project", m.NVars, cols, 1)
	}

	adjusted := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := x.At(i, j) - m.Means[j]
			if m.Scales != nil {
				v /= m.Scales[j]
			}
			adjusted.Set(i, j, v)
		}
	}

	scores := mat.NewDense(rows, m.NComponents, nil)
	scores.Mul(adjusted, m.Loadings())
	return scores, nil
}

type pcaDriver struct{}

// Fit computes the principal components of the design matrix through a
// thin singular value decomposition of the centered (and optionally
// scaled) data.
func (pcaDriver) Fit(req *model.FitRequest) (interface{}, error) {
	cfg, _ := req.Config.(*PCAConfig)
	if cfg == nil {
		cfg = DefaultPCAConfig()
	}

	rows, cols := req.X.Dims()
	if rows < 2 {
		return nil, twidlrErrors.NewModelError("prcomp.Fit", "need at least 2 rows", twidlrErrors.ErrEmptyData)
	}

	means := make([]float64, cols)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += req.X.At(i, j)
		}
		means[j] = sum / float64(rows)
	}

	var scales []float64
	if cfg.Scale {
		scales = make([]float64, cols)
		for j := 0; j < cols; j++ {
			ss := 0.0
			for i := 0; i < rows; i++ {
				d := req.X.At(i, j) - means[j]
				ss += d * d
			}
			scales[j] = math.Sqrt(ss / float64(rows-1))
			if scales[j] == 0 {
				return nil, twidlrErrors.NewValueError("prcomp.Fit",
					"cannot rescale a constant column to unit variance")
			}
		}
	}

	adjusted := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := req.X.At(i, j)
			if cfg.Center {
				v -= means[j]
			}
			if scales != nil {
				v /= scales[j]
			}
			adjusted.Set(i, j, v)
		}
	}
	if !cfg.Center {
		for j := range means {
			means[j] = 0
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(adjusted, mat.SVDThin); !ok {
		return nil, twidlrErrors.NewModelError("prcomp.Fit", "SVD failed to converge", nil)
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	nComponents := len(singular)
	if cfg.Components > 0 && cfg.Components < nComponents {
		nComponents = cfg.Components
	}

	sdev := make([]float64, nComponents)
	for i := 0; i < nComponents; i++ {
		sdev[i] = singular[i] / math.Sqrt(float64(rows-1))
	}

	rotation := make([]float64, cols*nComponents)
	for i := 0; i < cols; i++ {
		for j := 0; j < nComponents; j++ {
			rotation[i*nComponents+j] = v.At(i, j)
		}
	}

	return &PCAModel{
		RotationData: rotation,
		NVars:        cols,
		NComponents:  nComponents,
		SDev:         sdev,
		Means:        means,
		Scales:       scales,
	}, nil
}

package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// FactanalConfig holds the options of the factor-analysis engine.
type FactanalConfig struct {
	Factors int // number of latent factors to extract
}

// DefaultFactanalConfig returns a single-factor extraction.
func DefaultFactanalConfig() *FactanalConfig {
	return &FactanalConfig{Factors: 1}
}

// FactorModel is the fitted result of the factor-analysis engine.
type FactorModel struct {
	// LoadingsData holds the factor loadings Lambda, one row per observed
	// variable and one column per factor (p by m, row-major).
	LoadingsData []float64
	NVars        int
	NFactors     int

	// Uniquenesses holds the residual variance of each observed variable
	// not explained by the common factors.
	Uniquenesses []float64
}

// Loadings returns Lambda as a p-by-m matrix.
func (m *FactorModel) Loadings() *mat.Dense {
	return mat.NewDense(m.NVars, m.NFactors, m.LoadingsData)
}

type factanalDriver struct{}

// Fit extracts factors by principal-axis factoring: eigendecomposition of
// the correlation matrix, keeping the leading factors scaled by the square
// roots of their eigenvalues.
func (factanalDriver) Fit(req *model.FitRequest) (interface{}, error) {
	cfg, _ := req.Config.(*FactanalConfig)
	if cfg == nil {
		cfg = DefaultFactanalConfig()
	}

	rows, cols := req.X.Dims()
	if cfg.Factors < 1 {
		return nil, twidlrErrors.NewValueError("factanal.Fit", "number of factors must be at least 1")
	}
	if cfg.Factors > cols {
		return nil, twidlrErrors.NewValueError("factanal.Fit", "cannot extract more factors than variables")
	}
	if rows < 3 {
		return nil, twidlrErrors.NewModelError("factanal.Fit", "need at least 3 rows", twidlrErrors.ErrEmptyData)
	}

	corr := mat.NewSymDense(cols, nil)
	stat.CorrelationMatrix(corr, req.X, nil)

	var eigen mat.EigenSym
	if ok := eigen.Factorize(corr, true); !ok {
		return nil, twidlrErrors.NewModelError("factanal.Fit", "eigendecomposition failed", nil)
	}

	values := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	// Order eigenpairs by decreasing eigenvalue.
	order := make([]int, cols)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	loadings := make([]float64, cols*cfg.Factors)
	for f := 0; f < cfg.Factors; f++ {
		idx := order[f]
		scale := math.Sqrt(math.Max(values[idx], 0))
		for v := 0; v < cols; v++ {
			loadings[v*cfg.Factors+f] = vectors.At(v, idx) * scale
		}
	}

	uniquenesses := make([]float64, cols)
	for v := 0; v < cols; v++ {
		communality := 0.0
		for f := 0; f < cfg.Factors; f++ {
			l := loadings[v*cfg.Factors+f]
			communality += l * l
		}
		uniquenesses[v] = math.Max(1-communality, 0)
	}

	return &FactorModel{
		LoadingsData: loadings,
		NVars:        cols,
		NFactors:     cfg.Factors,
		Uniquenesses: uniquenesses,
	}, nil
}

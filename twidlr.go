// Package twidlr presents heterogeneous statistical model families through
// one data-first calling convention: every family is fit with
// F(data, formula, options...) and predicted with Predict(fitted, data),
// including families whose fitting engines have no native prediction
// (clustering, principal components, factor analysis).
//
// Each entry point normalizes the input table, parses and expands the
// model formula, and dispatches to the fitting engine registered for the
// family. Matrix families (KMeans, PRComp, Factanal) get a design matrix
// built for them; formula families (TTest, LM, GLM, Anova) receive the
// formula and table directly. The returned *model.Fitted pairs the
// engine's opaque result with the metadata later prediction needs.
//
// Example:
//
//	df, _ := dataframe.New(
//	    dataframe.Num("x1", []float64{0, 1, 2, 3}),
//	    dataframe.Num("x2", []float64{0, 1, 4, 9}),
//	)
//	fitted, err := twidlr.KMeans(df, "~ x1 + x2", twidlr.WithCenters(2))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	clusters, err := twidlr.PredictClusters(fitted, df)
package twidlr

import (
	"time"

	"github.com/srepho/twidlr/dataframe"
	"github.com/srepho/twidlr/engine"
	"github.com/srepho/twidlr/formula"
	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
	"github.com/srepho/twidlr/pkg/log"
)

var dispatchLogger = log.GetLoggerWithName("twidlr").With(
	log.ComponentKey, "dispatch",
)

// TTestOption configures the t-test engine.
type TTestOption func(*engine.TTestConfig)

// WithMu sets the difference in means under the null hypothesis.
func WithMu(mu float64) TTestOption {
	return func(cfg *engine.TTestConfig) { cfg.Mu = mu }
}

// WithEqualVariance uses the pooled-variance test instead of the Welch
// approximation.
func WithEqualVariance() TTestOption {
	return func(cfg *engine.TTestConfig) { cfg.VarEqual = true }
}

// TTest runs a two-sample t-test of "y ~ group".
func TTest(data interface{}, spec string, opts ...TTestOption) (*model.Fitted, error) {
	cfg := engine.DefaultTTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return fitFormulaFamily("twidlr.TTest", model.FamilyTTest, data, spec, cfg)
}

// LM fits an ordinary least squares linear model.
func LM(data interface{}, spec string) (*model.Fitted, error) {
	return fitFormulaFamily("twidlr.LM", model.FamilyLM, data, spec, nil)
}

// GLMOption configures the generalized-linear-model engine.
type GLMOption func(*engine.GLMConfig)

// WithFamily selects the GLM response family: "gaussian", "binomial" or
// "poisson".
func WithFamily(name string) GLMOption {
	return func(cfg *engine.GLMConfig) { cfg.Family = name }
}

// WithGLMMaxIter caps the IRLS iterations.
func WithGLMMaxIter(n int) GLMOption {
	return func(cfg *engine.GLMConfig) { cfg.MaxIter = n }
}

// GLM fits a generalized linear model under the family's canonical link.
func GLM(data interface{}, spec string, opts ...GLMOption) (*model.Fitted, error) {
	cfg := engine.DefaultGLMConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return fitFormulaFamily("twidlr.GLM", model.FamilyGLM, data, spec, cfg)
}

// Anova runs a one-way analysis of variance of "y ~ group".
func Anova(data interface{}, spec string) (*model.Fitted, error) {
	return fitFormulaFamily("twidlr.Anova", model.FamilyAnova, data, spec, nil)
}

// KMeansOption configures the k-means engine.
type KMeansOption func(*engine.KMeansConfig)

// WithCenters sets the number of clusters.
func WithCenters(k int) KMeansOption {
	return func(cfg *engine.KMeansConfig) { cfg.Centers = k }
}

// WithKMeansSeed fixes the random seed for reproducible fits.
func WithKMeansSeed(seed int64) KMeansOption {
	return func(cfg *engine.KMeansConfig) { cfg.Seed = seed }
}

// WithKMeansMaxIter caps the Lloyd iterations per start.
func WithKMeansMaxIter(n int) KMeansOption {
	return func(cfg *engine.KMeansConfig) { cfg.MaxIter = n }
}

// WithKMeansRestarts sets the number of random restarts.
func WithKMeansRestarts(n int) KMeansOption {
	return func(cfg *engine.KMeansConfig) { cfg.NStart = n }
}

// KMeans clusters the design-matrix rows. A missing formula defaults to
// "~ .": every column as a predictor.
func KMeans(data interface{}, spec string, opts ...KMeansOption) (*model.Fitted, error) {
	cfg := engine.DefaultKMeansConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return fitMatrixFamily("twidlr.KMeans", model.FamilyKMeans, data, spec, cfg)
}

// PCAOption configures the principal-components engine.
type PCAOption func(*engine.PCAConfig)

// WithComponents keeps only the leading components.
func WithComponents(m int) PCAOption {
	return func(cfg *engine.PCAConfig) { cfg.Components = m }
}

// WithPCAScale toggles rescaling of each variable to unit variance.
func WithPCAScale(scale bool) PCAOption {
	return func(cfg *engine.PCAConfig) { cfg.Scale = scale }
}

// WithPCACenter toggles centering of each variable.
func WithPCACenter(center bool) PCAOption {
	return func(cfg *engine.PCAConfig) { cfg.Center = center }
}

// PRComp fits a principal-components decomposition. A missing formula
// defaults to "~ .".
func PRComp(data interface{}, spec string, opts ...PCAOption) (*model.Fitted, error) {
	cfg := engine.DefaultPCAConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return fitMatrixFamily("twidlr.PRComp", model.FamilyPRComp, data, spec, cfg)
}

// FactanalOption configures the factor-analysis engine.
type FactanalOption func(*engine.FactanalConfig)

// WithFactors sets the number of latent factors to extract.
func WithFactors(m int) FactanalOption {
	return func(cfg *engine.FactanalConfig) { cfg.Factors = m }
}

// Factanal fits a factor-analysis model and derives the regression scoring
// matrix used by Predict. A missing formula defaults to "~ .".
//
// The scoring matrix is solved at fit time from the correlation matrix of
// the design matrix; perfectly collinear predictors make that matrix
// singular and fail the fit with ErrSingularMatrix.
func Factanal(data interface{}, spec string, opts ...FactanalOption) (*model.Fitted, error) {
	cfg := engine.DefaultFactanalConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return fitMatrixFamily("twidlr.Factanal", model.FamilyFactanal, data, spec, cfg)
}

// fitFormulaFamily is the default dispatch path for families whose engine
// consumes the formula and table directly. The engine result is returned
// unchanged; the wrapper carries the resolved formula and design-matrix
// column names so native prediction can rebuild its input.
func fitFormulaFamily(op string, family model.Family, data interface{}, spec string, cfg interface{}) (_ *model.Fitted, err error) {
	defer twidlrErrors.Recover(&err, op)
	start := time.Now()

	driver, err := model.Lookup(family)
	if err != nil {
		return nil, err
	}

	df, err := dataframe.Normalize(data)
	if err != nil {
		return nil, err
	}

	if spec == "" {
		return nil, twidlrErrors.NewFormulaError(op, "", "this model family requires a formula with a response")
	}
	f, err := formula.Parse(spec)
	if err != nil {
		return nil, err
	}
	if !f.HasResponse() {
		return nil, twidlrErrors.NewFormulaError(op, spec, "this model family requires a response (use \"y ~ ...\")")
	}

	object, err := driver.Fit(&model.FitRequest{Formula: f, Data: df, Config: cfg})
	if err != nil {
		return nil, err
	}

	resolved, err := f.Resolve(df)
	if err != nil {
		return nil, err
	}
	dm, err := resolved.BuildPredictors(df)
	if err != nil {
		return nil, err
	}

	dispatchLogger.Debug("Fit completed",
		log.OperationKey, log.OperationFit,
		log.FamilyKey, string(family),
		log.FormulaKey, resolved.String(),
		log.SamplesKey, df.NumRows(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return &model.Fitted{
		Family: family,
		Object: object,
		Meta: model.Meta{
			Formula:      resolved,
			FeatureNames: dm.XNames,
		},
	}, nil
}

// fitMatrixFamily is the default dispatch path for families whose engine
// consumes a pre-built numeric matrix. The formula must be response-less;
// a missing formula defaults to "~ .". The resolved formula (and for
// factor analysis the derived predict matrix) is attached to the result as
// out-of-band metadata.
func fitMatrixFamily(op string, family model.Family, data interface{}, spec string, cfg interface{}) (_ *model.Fitted, err error) {
	defer twidlrErrors.Recover(&err, op)
	start := time.Now()

	driver, err := model.Lookup(family)
	if err != nil {
		return nil, err
	}

	df, err := dataframe.Normalize(data)
	if err != nil {
		return nil, err
	}

	var f *formula.Formula
	if spec == "" {
		f = formula.AllPredictors()
	} else {
		if f, err = formula.Parse(spec); err != nil {
			return nil, err
		}
	}
	if f.HasResponse() {
		return nil, twidlrErrors.NewFormulaError(op, spec, "this model family takes no response (use \"~ ...\")")
	}

	resolved, err := f.Resolve(df)
	if err != nil {
		return nil, err
	}
	dm, err := resolved.BuildPredictors(df)
	if err != nil {
		return nil, err
	}

	object, err := driver.Fit(&model.FitRequest{
		Formula: resolved,
		Data:    df,
		X:       dm.X,
		XNames:  dm.XNames,
		Config:  cfg,
	})
	if err != nil {
		return nil, err
	}

	fitted := &model.Fitted{
		Family: family,
		Object: object,
		Meta: model.Meta{
			Formula:      resolved,
			FeatureNames: dm.XNames,
		},
	}

	if family == model.FamilyFactanal {
		provider, ok := object.(model.LoadingsProvider)
		if !ok {
			return nil, twidlrErrors.NewValueError(op, "factor-analysis engine result does not expose loadings")
		}
		pm, err := factorPredictMatrix(dm.X, provider.Loadings())
		if err != nil {
			return nil, err
		}
		fitted.Meta.PredictMatrix = pm
	}

	dispatchLogger.Debug("Fit completed",
		log.OperationKey, log.OperationFit,
		log.FamilyKey, string(family),
		log.FormulaKey, resolved.String(),
		log.SamplesKey, df.NumRows(),
		log.FeaturesKey, len(dm.XNames),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return fitted, nil
}

// Package model defines the fitted-model wrapper and the engine driver
// registry behind the twidlr entry points.
//
// Every family entry point returns a *Fitted: the opaque object produced by
// the family's fitting engine, paired with the metadata the dispatch layer
// needs to make prediction work uniformly: the resolved formula, the
// design-matrix column names recorded at fit time, and (for factor
// analysis) the regression predict matrix derived from the loadings.
//
// Engines register themselves per family, in the manner of database/sql
// drivers. Looking up a family with no registered engine fails with a
// DependencyError before any data is processed.
package model

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/dataframe"
	"github.com/srepho/twidlr/formula"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

// Family identifies a model family served by one registered engine.
type Family string

// The model families twidlr dispatches over.
const (
	FamilyTTest    Family = "ttest"
	FamilyLM       Family = "lm"
	FamilyGLM      Family = "glm"
	FamilyKMeans   Family = "kmeans"
	FamilyPRComp   Family = "prcomp"
	FamilyAnova    Family = "anova"
	FamilyFactanal Family = "factanal"
)

// FitRequest carries the normalized arguments from the dispatch layer to an
// engine. Formula families receive Formula and Data; matrix families
// receive the pre-built design matrix X with its column names. Config holds
// the family-specific options struct assembled by the entry point; engines
// type-assert it.
type FitRequest struct {
	Formula *formula.Formula
	Data    *dataframe.DataFrame
	X       *mat.Dense
	XNames  []string
	Config  interface{}
}

// Driver is a fitting engine for one model family. Fit returns the engine's
// opaque fitted object; any error is propagated to the caller unchanged.
type Driver interface {
	Fit(req *FitRequest) (interface{}, error)
}

// Accessor interfaces the derived predictors require of opaque fitted
// objects. Engines expose only what their family supports.

// CenterProvider exposes cluster centroids as a k-by-p matrix.
type CenterProvider interface {
	Centers() *mat.Dense
}

// Projector exposes a native projection of new observations, used by
// families whose engine already defines correct prediction semantics
// (principal components).
type Projector interface {
	Project(x mat.Matrix) (*mat.Dense, error)
}

// LoadingsProvider exposes factor or component loadings as a p-by-m matrix.
type LoadingsProvider interface {
	Loadings() *mat.Dense
}

// Predictor exposes native prediction on a design matrix, used by linear
// and generalized linear models.
type Predictor interface {
	Predict(x mat.Matrix) (*mat.Dense, error)
}

// Meta is the out-of-band metadata the dispatch layer attaches to a fitted
// object at fit time. It is owned exclusively by the Fitted that carries it
// and is read-only after construction.
type Meta struct {
	// Formula is the resolved formula the model was fit with. Needed to
	// reconstruct the predictor matrix for new data.
	Formula *formula.Formula

	// FeatureNames are the design-matrix columns used at fit time, in
	// order. Prediction verifies the rebuilt matrix matches exactly.
	FeatureNames []string

	// PredictMatrix is the factor-analysis regression scoring matrix
	// (p by m), solved at fit time from the loadings and the fit-data
	// correlation matrix. Nil for other families.
	PredictMatrix *mat.Dense
}

// Fitted pairs an engine's opaque fitted object with its family identifier
// and attached metadata. Fitted values are read-only after construction, so
// concurrent predictions against one Fitted are safe.
type Fitted struct {
	Family Family
	Object interface{}
	Meta   Meta
}

// Registry maps families to their fitting engines.
type Registry struct {
	mu      sync.RWMutex
	drivers map[Family]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Family]Driver)}
}

// Register installs the engine for a family, replacing any previous one.
func (r *Registry) Register(family Family, driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[family] = driver
}

// Lookup returns the engine for a family, or a DependencyError if none is
// registered.
func (r *Registry) Lookup(family Family) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[family]
	if !ok {
		return nil, twidlrErrors.NewDependencyError(string(family))
	}
	return driver, nil
}

var defaultRegistry = NewRegistry()

// Register installs an engine in the default registry. Engines call this
// from init().
func Register(family Family, driver Driver) {
	defaultRegistry.Register(family, driver)
}

// Lookup finds an engine in the default registry.
func Lookup(family Family) (Driver, error) {
	return defaultRegistry.Lookup(family)
}

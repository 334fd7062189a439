package engine

import "github.com/srepho/twidlr/model"

// Engines register with the default driver registry so that the dispatch
// layer finds them by family, and register their fitted-object types for
// persistence.
func init() {
	model.Register(model.FamilyTTest, ttestDriver{})
	model.Register(model.FamilyLM, lmDriver{})
	model.Register(model.FamilyGLM, glmDriver{})
	model.Register(model.FamilyKMeans, kmeansDriver{})
	model.Register(model.FamilyPRComp, pcaDriver{})
	model.Register(model.FamilyAnova, anovaDriver{})
	model.Register(model.FamilyFactanal, factanalDriver{})

	model.RegisterObjectType(&TTestResult{})
	model.RegisterObjectType(&LinearModel{})
	model.RegisterObjectType(&GLMModel{})
	model.RegisterObjectType(&KMeansModel{})
	model.RegisterObjectType(&PCAModel{})
	model.RegisterObjectType(&AnovaResult{})
	model.RegisterObjectType(&FactorModel{})
}

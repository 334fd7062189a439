package twidlr

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/srepho/twidlr/dataframe"
	"github.com/srepho/twidlr/engine"
	"github.com/srepho/twidlr/formula"
	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

func clusterTable(t *testing.T) *dataframe.DataFrame {
	t.Helper()
	df, err := dataframe.New(
		dataframe.Num("x1", []float64{0, 1, 2, 3}),
		dataframe.Num("x2", []float64{0, 1, 4, 9}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return df
}

func TestKMeansEndToEnd(t *testing.T) {
	df := clusterTable(t)

	fitted, err := KMeans(df, "~ x1 + x2", WithCenters(2), WithKMeansSeed(1))
	if err != nil {
		t.Fatalf("KMeans failed: %v", err)
	}
	if fitted.Family != model.FamilyKMeans {
		t.Errorf("Family = %q, want kmeans", fitted.Family)
	}

	km, ok := fitted.Object.(*engine.KMeansModel)
	if !ok {
		t.Fatalf("Object type = %T, want *engine.KMeansModel", fitted.Object)
	}
	k, p := km.Centers().Dims()
	if k != 2 || p != 2 {
		t.Errorf("centers dims = %dx%d, want 2x2", k, p)
	}

	clusters, err := PredictClusters(fitted, df)
	if err != nil {
		t.Fatalf("PredictClusters failed: %v", err)
	}
	if len(clusters) != 4 {
		t.Fatalf("got %d cluster labels, want 4", len(clusters))
	}
	seen := map[int]bool{}
	for i, c := range clusters {
		if c != 1 && c != 2 {
			t.Errorf("cluster %d = %d, want 1 or 2", i, c)
		}
		seen[c] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("clusters = %v, both labels should appear", clusters)
	}

	// Training rows classify to their own assignments.
	for i := range clusters {
		if clusters[i] != km.Labels[i] {
			t.Errorf("row %d reclassifies to %d, fit assigned %d", i, clusters[i], km.Labels[i])
		}
	}
}

// A hand-built fitted model pins down the nearest-centroid law exactly,
// including the tie.
func TestPredictClustersNearestCentroid(t *testing.T) {
	fitted := &model.Fitted{
		Family: model.FamilyKMeans,
		Object: &engine.KMeansModel{
			CentersData: [][]float64{{0, 0}, {10, 10}},
			Labels:      []int{1, 2},
			Sizes:       []int{1, 1},
		},
		Meta: model.Meta{
			Formula:      formula.MustParse("~ x1 + x2"),
			FeatureNames: []string{"x1", "x2"},
		},
	}

	df, err := dataframe.New(
		dataframe.Num("x1", []float64{1, 9, 5}),
		dataframe.Num("x2", []float64{1, 9, 5}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	clusters, err := PredictClusters(fitted, df)
	if err != nil {
		t.Fatalf("PredictClusters failed: %v", err)
	}

	// (5,5) is equidistant from both centroids; the lower index wins.
	want := []int{1, 2, 1}
	for i := range want {
		if clusters[i] != want[i] {
			t.Errorf("clusters = %v, want %v", clusters, want)
			break
		}
	}
}

func TestLMEndToEnd(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("x", []float64{1, 2, 3, 4, 5}),
		dataframe.Num("y", []float64{3, 5, 7, 9, 11}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := LM(df, "y ~ x")
	if err != nil {
		t.Fatalf("LM failed: %v", err)
	}

	newData, err := dataframe.New(dataframe.Num("x", []float64{6, 7}))
	if err != nil {
		t.Fatalf("failed to build new data: %v", err)
	}
	preds, err := Predict(fitted, newData)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	want := []float64{13, 15}
	for i := range want {
		if math.Abs(preds.At(i, 0)-want[i]) > 1e-8 {
			t.Errorf("prediction %d = %v, want %v", i, preds.At(i, 0), want[i])
		}
	}
}

func TestLMCollinearPredictors(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("x1", []float64{1, 2, 3, 4}),
		dataframe.Num("x2", []float64{2, 4, 6, 8}),
		dataframe.Num("y", []float64{3, 5, 7, 9}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	_, err = LM(df, "y ~ x1 + x2")
	if !errors.Is(err, twidlrErrors.ErrSingularMatrix) {
		t.Errorf("error = %v, want ErrSingularMatrix in the chain", err)
	}
}

func TestFormulaShapeValidation(t *testing.T) {
	df := clusterTable(t)

	// Matrix families reject a response.
	_, err := KMeans(df, "x1 ~ x2", WithCenters(2), WithKMeansSeed(1))
	var formulaErr *twidlrErrors.FormulaError
	if !errors.As(err, &formulaErr) {
		t.Errorf("KMeans with response: error = %T, want *FormulaError", err)
	}

	// Formula families require a formula with a response.
	if _, err := LM(df, ""); err == nil {
		t.Error("LM with no formula should fail")
	}
	_, err = LM(df, "~ x1")
	if !errors.As(err, &formulaErr) {
		t.Errorf("LM without response: error = %T, want *FormulaError", err)
	}
}

func TestKMeansDefaultFormula(t *testing.T) {
	// An empty spec means every column is a predictor.
	fitted, err := KMeans(clusterTable(t), "", WithCenters(2), WithKMeansSeed(1))
	if err != nil {
		t.Fatalf("KMeans failed: %v", err)
	}
	want := []string{"x1", "x2"}
	if len(fitted.Meta.FeatureNames) != 2 ||
		fitted.Meta.FeatureNames[0] != want[0] || fitted.Meta.FeatureNames[1] != want[1] {
		t.Errorf("FeatureNames = %v, want %v", fitted.Meta.FeatureNames, want)
	}
}

func TestPredictSchemaMismatch(t *testing.T) {
	fitted, err := KMeans(clusterTable(t), "~ x1 + x2", WithCenters(2), WithKMeansSeed(1))
	if err != nil {
		t.Fatalf("KMeans failed: %v", err)
	}

	// New data lacks x2.
	missing, err := dataframe.New(dataframe.Num("x1", []float64{1, 2}))
	if err != nil {
		t.Fatalf("failed to build new data: %v", err)
	}

	_, err = PredictClusters(fitted, missing)
	if err == nil {
		t.Fatal("expected an error for a missing predictor column")
	}
	var schemaErr *twidlrErrors.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Errorf("error = %T, want *SchemaError", err)
	}
	if schemaErr.Column != "x2" {
		t.Errorf("Column = %q, want x2", schemaErr.Column)
	}
}

func TestPredictUnsupportedFamily(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("y", []float64{1, 2, 3, 7, 8, 9}),
		dataframe.Cat("g", []string{"a", "a", "a", "b", "b", "b"}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := TTest(df, "y ~ g")
	if err != nil {
		t.Fatalf("TTest failed: %v", err)
	}

	_, err = Predict(fitted, df)
	if !errors.Is(err, twidlrErrors.ErrNotImplemented) {
		t.Errorf("error = %v, want ErrNotImplemented in the chain", err)
	}
}

func TestPRCompEndToEnd(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("a", []float64{1, 2, 3, 4, 5}),
		dataframe.Num("b", []float64{5, 3, 8, 2, 7}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := PRComp(df, "~ a + b", WithComponents(1))
	if err != nil {
		t.Fatalf("PRComp failed: %v", err)
	}

	scores, err := Predict(fitted, df)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	rows, cols := scores.Dims()
	if rows != 5 || cols != 1 {
		t.Errorf("score dims = %dx%d, want 5x1", rows, cols)
	}
}

func TestFactanalEndToEnd(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("v1", []float64{1, 2, 3, 4, 5, 6, 7, 8}),
		dataframe.Num("v2", []float64{1.1, 2.2, 2.9, 4.1, 5.2, 5.8, 7.1, 8.2}),
		dataframe.Num("v3", []float64{0.9, 1.8, 3.2, 3.8, 5.1, 6.3, 6.9, 7.8}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := Factanal(df, "~ v1 + v2 + v3", WithFactors(1))
	if err != nil {
		t.Fatalf("Factanal failed: %v", err)
	}
	if fitted.Meta.PredictMatrix == nil {
		t.Fatal("factanal fit should attach a predict matrix")
	}

	scores, err := PredictFactors(fitted, df)
	if err != nil {
		t.Fatalf("PredictFactors failed: %v", err)
	}
	if scores.NumRows() != 8 || scores.NumCols() != 1 {
		t.Fatalf("score dims = %dx%d, want 8x1", scores.NumRows(), scores.NumCols())
	}
	if scores.Names()[0] != "Factor1" {
		t.Errorf("score column = %q, want Factor1", scores.Names()[0])
	}
}

// Factor scoring standardizes new data from its own statistics, so an
// affine rescale of any input column leaves the scores unchanged.
func TestFactanalRescaleInvariance(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("v1", []float64{1, 2, 3, 4, 5, 6, 7, 8}),
		dataframe.Num("v2", []float64{1.1, 2.2, 2.9, 4.1, 5.2, 5.8, 7.1, 8.2}),
		dataframe.Num("v3", []float64{0.9, 1.8, 3.2, 3.8, 5.1, 6.3, 6.9, 7.8}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := Factanal(df, "~ v1 + v2 + v3", WithFactors(1))
	if err != nil {
		t.Fatalf("Factanal failed: %v", err)
	}

	base, err := Predict(fitted, df)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	v1, _ := df.Numeric("v1")
	scaled := make([]float64, len(v1))
	for i, v := range v1 {
		scaled[i] = 100*v + 7
	}
	rescaled, err := dataframe.New(
		dataframe.Num("v1", scaled),
		dataframe.Num("v2", []float64{1.1, 2.2, 2.9, 4.1, 5.2, 5.8, 7.1, 8.2}),
		dataframe.Num("v3", []float64{0.9, 1.8, 3.2, 3.8, 5.1, 6.3, 6.9, 7.8}),
	)
	if err != nil {
		t.Fatalf("failed to build rescaled table: %v", err)
	}

	got, err := Predict(fitted, rescaled)
	if err != nil {
		t.Fatalf("Predict on rescaled data failed: %v", err)
	}

	rows, cols := base.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Abs(got.At(i, j)-base.At(i, j)) > 1e-8 {
				t.Fatalf("score (%d,%d) moved from %v to %v under rescaling",
					i, j, base.At(i, j), got.At(i, j))
			}
		}
	}
}

// Perfectly collinear predictors make the fit-time scoring solve fail; the
// fit itself must fail rather than return a model that cannot score.
func TestFactanalCollinearPredictors(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("v1", []float64{1, 2, 3, 4, 5}),
		dataframe.Num("v2", []float64{2, 4, 6, 8, 10}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	_, err = Factanal(df, "~ v1 + v2", WithFactors(1))
	if !errors.Is(err, twidlrErrors.ErrSingularMatrix) {
		t.Errorf("error = %v, want ErrSingularMatrix in the chain", err)
	}
}

func TestSaveLoadPredictRoundTrip(t *testing.T) {
	df := clusterTable(t)
	fitted, err := KMeans(df, "~ x1 + x2", WithCenters(2), WithKMeansSeed(1))
	if err != nil {
		t.Fatalf("KMeans failed: %v", err)
	}

	before, err := PredictClusters(fitted, df)
	if err != nil {
		t.Fatalf("PredictClusters failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "kmeans.twm")
	if err := model.SaveModel(fitted, path); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	loaded, err := model.LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	after, err := PredictClusters(loaded, df)
	if err != nil {
		t.Fatalf("PredictClusters on the loaded model failed: %v", err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("loaded model disagrees: %v vs %v", before, after)
		}
	}
}

func TestTTestOptions(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("y", []float64{1, 2, 3, 7, 8, 9}),
		dataframe.Cat("g", []string{"a", "a", "a", "b", "b", "b"}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := TTest(df, "y ~ g", WithEqualVariance(), WithMu(0))
	if err != nil {
		t.Fatalf("TTest failed: %v", err)
	}
	result := fitted.Object.(*engine.TTestResult)
	if result.Method != "Two Sample t-test" {
		t.Errorf("Method = %q, want the pooled test", result.Method)
	}
}

func TestNormalizedInputs(t *testing.T) {
	// The same fit through three input shapes.
	raw := [][]float64{
		{0, 0},
		{1, 1},
		{2, 4},
		{3, 9},
	}
	byMap := map[string][]float64{
		"x1": {0, 1, 2, 3},
		"x2": {0, 1, 4, 9},
	}

	fromRows, err := KMeans(raw, "", WithCenters(2), WithKMeansSeed(3))
	if err != nil {
		t.Fatalf("KMeans on rows failed: %v", err)
	}
	if len(fromRows.Meta.FeatureNames) != 2 {
		t.Errorf("FeatureNames = %v, want 2 generated columns", fromRows.Meta.FeatureNames)
	}

	fromMap, err := KMeans(byMap, "~ x1 + x2", WithCenters(2), WithKMeansSeed(3))
	if err != nil {
		t.Fatalf("KMeans on map failed: %v", err)
	}
	if fromMap.Meta.FeatureNames[0] != "x1" {
		t.Errorf("FeatureNames = %v, want named columns", fromMap.Meta.FeatureNames)
	}
}

func TestGLMEndToEnd(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("x", []float64{-2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 2, 2.5}),
		dataframe.Num("y", []float64{0, 0, 0, 1, 0, 1, 0, 1, 1, 1}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	fitted, err := GLM(df, "y ~ x", WithFamily("binomial"))
	if err != nil {
		t.Fatalf("GLM failed: %v", err)
	}

	preds, err := Predict(fitted, df)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	rows, _ := preds.Dims()
	for i := 0; i < rows; i++ {
		p := preds.At(i, 0)
		if p <= 0 || p >= 1 {
			t.Errorf("prediction %d = %v, want a probability", i, p)
		}
	}
}

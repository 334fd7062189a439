package formula

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/srepho/twidlr/dataframe"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

func testTable(t *testing.T) *dataframe.DataFrame {
	t.Helper()
	df, err := dataframe.New(
		dataframe.Num("a", []float64{1, 2, 3, 4}),
		dataframe.Num("b", []float64{10, 20, 30, 40}),
		dataframe.Num("c", []float64{0.5, 1.5, 2.5, 3.5}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return df
}

func TestBuildWildcard(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("~ .").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if dm.Y != nil {
		t.Error("response-less formula should produce nil Y")
	}

	// All columns, in table order.
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(dm.XNames, want) {
		t.Errorf("XNames = %v, want %v", dm.XNames, want)
	}

	r, c := dm.X.Dims()
	if r != 4 || c != 3 {
		t.Errorf("X dims = %dx%d, want 4x3", r, c)
	}
	if dm.X.At(2, 1) != 30 {
		t.Errorf("X[2,1] = %v, want 30", dm.X.At(2, 1))
	}
}

func TestBuildWildcardExcludesResponse(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("a ~ .").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"b", "c"}
	if !reflect.DeepEqual(dm.XNames, want) {
		t.Errorf("XNames = %v, want %v", dm.XNames, want)
	}
	if dm.Y == nil || dm.Y.AtVec(3) != 4 {
		t.Error("Y should hold column a")
	}
}

func TestBuildExclusion(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("~ . - b").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"a", "c"}
	if !reflect.DeepEqual(dm.XNames, want) {
		t.Errorf("XNames = %v, want %v", dm.XNames, want)
	}
}

func TestBuildInteraction(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("~ a*b").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := []string{"a", "b", "a:b"}
	if !reflect.DeepEqual(dm.XNames, want) {
		t.Errorf("XNames = %v, want %v", dm.XNames, want)
	}

	// Interaction column is the element-wise product.
	for i := 0; i < 4; i++ {
		wantProduct := dm.X.At(i, 0) * dm.X.At(i, 1)
		if dm.X.At(i, 2) != wantProduct {
			t.Errorf("row %d: a:b = %v, want %v", i, dm.X.At(i, 2), wantProduct)
		}
	}
}

func TestBuildArithmeticTerm(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("~ a + I(a^2 + b)").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(dm.XNames) != 2 {
		t.Fatalf("XNames = %v, want 2 columns", dm.XNames)
	}
	b, _ := df.Numeric("b")
	for i := 0; i < 4; i++ {
		a := dm.X.At(i, 0)
		if got := dm.X.At(i, 1); got != a*a+b[i] {
			t.Errorf("row %d: I(a^2 + b) = %v, want %v", i, got, a*a+b[i])
		}
	}
}

func TestBuildCategoricalDummies(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Num("y", []float64{1, 2, 3, 4}),
		dataframe.Cat("size", []string{"small", "large", "medium", "small"}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	dm, err := MustParse("y ~ size").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Levels sort to [large, medium, small]; "large" is the reference.
	want := []string{"size_medium", "size_small"}
	if !reflect.DeepEqual(dm.XNames, want) {
		t.Errorf("XNames = %v, want %v", dm.XNames, want)
	}

	wantMedium := []float64{0, 0, 1, 0}
	wantSmall := []float64{1, 0, 0, 1}
	for i := 0; i < 4; i++ {
		if dm.X.At(i, 0) != wantMedium[i] {
			t.Errorf("size_medium[%d] = %v, want %v", i, dm.X.At(i, 0), wantMedium[i])
		}
		if dm.X.At(i, 1) != wantSmall[i] {
			t.Errorf("size_small[%d] = %v, want %v", i, dm.X.At(i, 1), wantSmall[i])
		}
	}
}

func TestBuildCategoricalResponse(t *testing.T) {
	df, err := dataframe.New(
		dataframe.Cat("outcome", []string{"no", "yes", "yes", "no"}),
		dataframe.Num("x", []float64{1, 2, 3, 4}),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}

	dm, err := MustParse("outcome ~ x").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Sorted levels [no, yes]; the second level codes as 1.
	want := []float64{0, 1, 1, 0}
	for i := range want {
		if dm.Y.AtVec(i) != want[i] {
			t.Errorf("Y[%d] = %v, want %v", i, dm.Y.AtVec(i), want[i])
		}
	}
}

func TestBuildDeterminism(t *testing.T) {
	df := testTable(t)
	f := MustParse("a ~ . + I(b/c)")

	first, err := f.Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for run := 0; run < 5; run++ {
		again, err := f.Build(df)
		if err != nil {
			t.Fatalf("repeat Build failed: %v", err)
		}
		if !reflect.DeepEqual(again.XNames, first.XNames) {
			t.Fatalf("run %d: XNames %v != %v", run, again.XNames, first.XNames)
		}
		for i := 0; i < 4; i++ {
			for j := range first.XNames {
				if again.X.At(i, j) != first.X.At(i, j) {
					t.Fatalf("run %d: X[%d,%d] differs", run, i, j)
				}
			}
		}
	}
}

func TestBuildSchemaRoundTrip(t *testing.T) {
	df := testTable(t)
	f := MustParse("a ~ b + I(c^2)")

	fit, err := f.Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Reusing the fit data as its own "new data" must reproduce the
	// predictor schema exactly, response ignored.
	pred, err := f.BuildPredictors(df)
	if err != nil {
		t.Fatalf("BuildPredictors failed: %v", err)
	}

	if !reflect.DeepEqual(fit.XNames, pred.XNames) {
		t.Errorf("predict-time columns %v != fit-time columns %v", pred.XNames, fit.XNames)
	}
	if pred.Y != nil {
		t.Error("BuildPredictors should not populate Y")
	}
}

func TestBuildUnknownColumn(t *testing.T) {
	df := testTable(t)

	_, err := MustParse("~ a + nope").Build(df)
	if err == nil {
		t.Fatal("expected an error for an unknown column")
	}

	var formulaErr *twidlrErrors.FormulaError
	if !errors.As(err, &formulaErr) {
		t.Errorf("error = %T, want *FormulaError", err)
	}
}

func TestBuildTransformTerm(t *testing.T) {
	df := testTable(t)

	dm, err := MustParse("~ log(b)").Build(df)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	b, _ := df.Numeric("b")
	for i := range b {
		if got := dm.X.At(i, 0); math.Abs(got-math.Log(b[i])) > 1e-12 {
			t.Errorf("log(b)[%d] = %v, want %v", i, got, math.Log(b[i]))
		}
	}
}

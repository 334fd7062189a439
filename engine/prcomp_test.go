package engine

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
)

func TestPCAFitPerfectLine(t *testing.T) {
	// All variance lies along x2 = 2*x1, so the second component vanishes.
	x := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 4,
		3, 6,
		4, 8,
	})

	object, err := pcaDriver{}.Fit(&model.FitRequest{X: x})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pca, ok := object.(*PCAModel)
	if !ok {
		t.Fatalf("result type = %T, want *PCAModel", object)
	}

	if pca.NVars != 2 {
		t.Errorf("NVars = %d, want 2", pca.NVars)
	}
	if pca.SDev[0] <= 0 {
		t.Errorf("SDev[0] = %v, want > 0", pca.SDev[0])
	}
	if pca.NComponents > 1 && pca.SDev[1] > 1e-10 {
		t.Errorf("SDev[1] = %v, want ~0 for perfectly collinear data", pca.SDev[1])
	}

	r, c := pca.Loadings().Dims()
	if r != 2 || c != pca.NComponents {
		t.Errorf("loadings dims = %dx%d, want 2x%d", r, c, pca.NComponents)
	}
}

func TestPCAFitTruncatesComponents(t *testing.T) {
	x := mat.NewDense(5, 3, []float64{
		1, 0, 2,
		2, 1, 1,
		3, 3, 5,
		4, 2, 3,
		5, 5, 8,
	})

	object, err := pcaDriver{}.Fit(&model.FitRequest{
		X:      x,
		Config: &PCAConfig{Components: 1, Center: true},
	})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pca := object.(*PCAModel)
	if pca.NComponents != 1 {
		t.Errorf("NComponents = %d, want 1", pca.NComponents)
	}
	if len(pca.SDev) != 1 {
		t.Errorf("SDev length = %d, want 1", len(pca.SDev))
	}
}

func TestPCAProjectMatchesFitScores(t *testing.T) {
	x := mat.NewDense(5, 2, []float64{
		1, 5,
		2, 3,
		3, 8,
		4, 2,
		5, 7,
	})

	object, err := pcaDriver{}.Fit(&model.FitRequest{X: x})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	pca := object.(*PCAModel)

	first, err := pca.Project(x)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	second, err := pca.Project(x)
	if err != nil {
		t.Fatalf("repeat Project failed: %v", err)
	}

	rows, cols := first.Dims()
	if rows != 5 || cols != pca.NComponents {
		t.Fatalf("score dims = %dx%d, want 5x%d", rows, cols, pca.NComponents)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if first.At(i, j) != second.At(i, j) {
				t.Fatalf("projection is not deterministic at (%d,%d)", i, j)
			}
			if math.IsNaN(first.At(i, j)) {
				t.Fatalf("score (%d,%d) is NaN", i, j)
			}
		}
	}
}

func TestPCAProjectDimensionCheck(t *testing.T) {
	pca := &PCAModel{
		RotationData: []float64{1, 0, 0, 1},
		NVars:        2,
		NComponents:  2,
		Means:        []float64{0, 0},
	}

	_, err := pca.Project(mat.NewDense(1, 3, []float64{1, 2, 3}))
	if err == nil {
		t.Fatal("expected an error for a mismatched variable count")
	}
	var dimErr *twidlrErrors.DimensionError
	if !errors.As(err, &dimErr) {
		t.Errorf("error = %T, want *DimensionError", err)
	}
}

func TestPCAFitScaledConstantColumn(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
	})

	_, err := pcaDriver{}.Fit(&model.FitRequest{
		X:      x,
		Config: &PCAConfig{Center: true, Scale: true},
	})
	if err == nil {
		t.Error("expected an error when scaling a constant column")
	}
}

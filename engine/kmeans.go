// Package engine implements the fitting routines behind the twidlr model
// families, backed by gonum. Each family's engine registers itself as a
// model.Driver in init(); the dispatch layer treats the returned objects as
// opaque and interacts with them only through the accessor interfaces in
// the model package.
package engine

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/srepho/twidlr/model"
	twidlrErrors "github.com/srepho/twidlr/pkg/errors"
	"github.com/srepho/twidlr/pkg/log"
)

// KMeansConfig holds the hyperparameters of the k-means engine.
type KMeansConfig struct {
	Centers int   // number of clusters k
	MaxIter int   // maximum Lloyd iterations per start
	NStart  int   // number of random restarts; the best inertia wins
	Seed    int64 // random seed; negative seeds from the clock
}

// DefaultKMeansConfig returns the engine defaults: 2 centers, 100
// iterations, 5 restarts, clock-seeded.
func DefaultKMeansConfig() *KMeansConfig {
	return &KMeansConfig{Centers: 2, MaxIter: 100, NStart: 5, Seed: -1}
}

// KMeansModel is the fitted result of the k-means engine. Fields are plain
// exported types so the model persists through gob.
type KMeansModel struct {
	// CentersData holds the k cluster centroids, one row per cluster.
	CentersData [][]float64

	// Labels holds the 1-based cluster assignment of each training row.
	Labels []int

	// Sizes holds the number of training rows per cluster.
	Sizes []int

	// Inertia is the within-cluster sum of squared distances.
	Inertia float64

	// Iterations is the number of Lloyd iterations of the winning start.
	Iterations int
}

// Centers returns the centroids as a k-by-p matrix.
func (m *KMeansModel) Centers() *mat.Dense {
	k := len(m.CentersData)
	p := len(m.CentersData[0])
	centers := mat.NewDense(k, p, nil)
	for i, row := range m.CentersData {
		centers.SetRow(i, row)
	}
	return centers
}

type kmeansDriver struct{}

// Fit runs Lloyd's algorithm with k-means++ initialization on the design
// matrix of the request.
func (kmeansDriver) Fit(req *model.FitRequest) (interface{}, error) {
	cfg, _ := req.Config.(*KMeansConfig)
	if cfg == nil {
		cfg = DefaultKMeansConfig()
	}

	rows, cols := req.X.Dims()
	if cfg.Centers < 1 {
		return nil, twidlrErrors.NewValueError("kmeans.Fit", "number of centers must be at least 1")
	}
	if rows < cfg.Centers {
		return nil, twidlrErrors.Newf("kmeans.Fit: %d samples cannot support %d clusters", rows, cfg.Centers)
	}

	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	nStart := cfg.NStart
	if nStart < 1 {
		nStart = 1
	}

	start := time.Now()

	best := &KMeansModel{Inertia: math.Inf(1)}
	for run := 0; run < nStart; run++ {
		candidate := lloyd(req.X, cfg.Centers, cfg.MaxIter, rng)
		if candidate.Inertia < best.Inertia {
			best = candidate
		}
	}

	kmeansLogger.Info("Fit completed",
		log.OperationKey, log.OperationFit,
		log.ClustersKey, cfg.Centers,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	return best, nil
}

var kmeansLogger = log.GetLoggerWithName("engine").With(
	log.ModelNameKey, "KMeans",
	log.ComponentKey, "engine",
)

// lloyd performs one full k-means run: k-means++ seeding, then alternating
// assignment and centroid updates until assignments stabilize.
func lloyd(x *mat.Dense, k, maxIter int, rng *rand.Rand) *KMeansModel {
	rows, cols := x.Dims()

	centers := initKMeansPlusPlus(x, k, rng)
	assignments := make([]int, rows)
	for i := range assignments {
		assignments[i] = -1
	}

	var iterations int
	for iter := 0; iter < maxIter; iter++ {
		iterations = iter + 1

		changed := false
		for i := 0; i < rows; i++ {
			sample := mat.Row(nil, i, x)
			nearest := nearestCenter(sample, centers)
			if nearest != assignments[i] {
				assignments[i] = nearest
				changed = true
			}
		}
		if !changed {
			break
		}

		// Recompute centroids as cluster means. Empty clusters keep their
		// previous centroid.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, cols)
		}
		for i := 0; i < rows; i++ {
			c := assignments[i]
			counts[c]++
			for j := 0; j < cols; j++ {
				sums[c][j] += x.At(i, j)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	inertia := 0.0
	sizes := make([]int, k)
	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		sample := mat.Row(nil, i, x)
		c := assignments[i]
		sizes[c]++
		labels[i] = c + 1
		dist := euclideanDistance(sample, centers[c])
		inertia += dist * dist
	}

	return &KMeansModel{
		CentersData: centers,
		Labels:      labels,
		Sizes:       sizes,
		Inertia:     inertia,
		Iterations:  iterations,
	}
}

// initKMeansPlusPlus seeds centroids with the k-means++ scheme: the first
// centroid uniformly at random, each further centroid with probability
// proportional to its squared distance from the nearest chosen centroid.
func initKMeansPlusPlus(x *mat.Dense, k int, rng *rand.Rand) [][]float64 {
	rows, cols := x.Dims()
	centers := make([][]float64, k)

	centers[0] = make([]float64, cols)
	copy(centers[0], mat.Row(nil, rng.IntN(rows), x))

	for c := 1; c < k; c++ {
		distances := make([]float64, rows)
		total := 0.0
		for i := 0; i < rows; i++ {
			sample := mat.Row(nil, i, x)
			minDist := math.Inf(1)
			for j := 0; j < c; j++ {
				if dist := euclideanDistance(sample, centers[j]); dist < minDist {
					minDist = dist
				}
			}
			distances[i] = minDist * minDist
			total += distances[i]
		}

		selected := 0
		if total > 0 {
			target := rng.Float64() * total
			cumulative := 0.0
			for i := 0; i < rows; i++ {
				cumulative += distances[i]
				if cumulative >= target {
					selected = i
					break
				}
			}
		} else {
			selected = rng.IntN(rows)
		}

		centers[c] = make([]float64, cols)
		copy(centers[c], mat.Row(nil, selected, x))
	}

	return centers
}

// nearestCenter returns the index of the closest centroid, first minimum
// on ties.
func nearestCenter(sample []float64, centers [][]float64) int {
	nearest := 0
	minDist := math.Inf(1)
	for c, center := range centers {
		if dist := euclideanDistance(sample, center); dist < minDist {
			minDist = dist
			nearest = c
		}
	}
	return nearest
}

func euclideanDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

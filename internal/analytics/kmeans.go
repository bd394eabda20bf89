package analytics

import (
	"math"
	"math/rand"
)

const (
	kmeansInit    = 10
	kmeansMaxIter = 300
	kmeansTol     = 1e-4
)

// kmeans partitions points into k clusters with k-means++ seeding and keeps
// the best of kmeansInit runs by inertia. The same seed yields the same labels.
func kmeans(points [][]float64, k int, seed int64) []int {
	if len(points) == 0 || k <= 0 {
		return nil
	}
	if k > len(points) {
		k = len(points)
	}
	rng := rand.New(rand.NewSource(seed))

	var best []int
	bestInertia := math.Inf(1)
	for run := 0; run < kmeansInit; run++ {
		labels, inertia := lloyd(points, seedCentroids(points, k, rng))
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return best
}

func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = nearest(p, centroids)
			total += dist[i]
		}
		if total == 0 {
			centroids = append(centroids, clone(points[rng.Intn(len(points))]))
			continue
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range dist {
			target -= d
			if target < 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64) ([]int, float64) {
	labels := make([]int, len(points))
	dim := len(points[0])
	var inertia float64
	for iter := 0; iter < kmeansMaxIter; iter++ {
		inertia = 0
		for i, p := range points {
			bestJ, bestD := 0, math.Inf(1)
			for j, c := range centroids {
				if d := sqDist(p, c); d < bestD {
					bestJ, bestD = j, d
				}
			}
			labels[i] = bestJ
			inertia += bestD
		}

		next := make([][]float64, len(centroids))
		counts := make([]int, len(centroids))
		for j := range next {
			next[j] = make([]float64, dim)
		}
		for i, p := range points {
			counts[labels[i]]++
			for d, v := range p {
				next[labels[i]][d] += v
			}
		}
		shift := 0.0
		for j := range next {
			if counts[j] == 0 {
				// keep an empty cluster's centroid where it was
				copy(next[j], centroids[j])
				continue
			}
			for d := range next[j] {
				next[j][d] /= float64(counts[j])
			}
			shift += sqDist(next[j], centroids[j])
		}
		centroids = next
		if shift <= kmeansTol*kmeansTol {
			break
		}
	}
	return labels, inertia
}

func nearest(p []float64, centroids [][]float64) float64 {
	best := math.Inf(1)
	for _, c := range centroids {
		if d := sqDist(p, c); d < best {
			best = d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}

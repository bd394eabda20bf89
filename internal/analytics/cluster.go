package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stock-outage-alerts/internal/storage"
)

// PincodeStats aggregates one pincode over the lookback window.
type PincodeStats struct {
	Pincode          string  `json:"pincode"`
	TotalChecks      int     `json:"total_checks"`
	Outages          int     `json:"outages"`
	UniqueProducts   int     `json:"unique_products"`
	AvgAvailability  float64 `json:"avg_availability"`
	OutageRate       float64 `json:"outage_rate"`
	ChecksPerProduct float64 `json:"checks_per_product"`
	Cluster          int     `json:"cluster"`
}

// Cluster is one group of pincodes with similar behaviour.
type Cluster struct {
	ClusterID     int      `json:"cluster_id"`
	Pincodes      []string `json:"pincodes"`
	AvgOutageRate float64  `json:"avg_outage_rate"`
	AvgProducts   float64  `json:"avg_products"`
	Description   string   `json:"description"`
}

// ClusterResult is the outcome of AnalyzePincodePatterns.
type ClusterResult struct {
	Clusters       []Cluster      `json:"clusters"`
	PincodeData    []PincodeStats `json:"pincode_data"`
	AnalysisPeriod string         `json:"analysis_period"`
}

// AnalyzePincodePatterns clusters pincodes on standardized
// (outage_rate, checks_per_product, unique_products).
func (a *Analytics) AnalyzePincodePatterns(ctx context.Context) (ClusterResult, error) {
	obs, err := a.lookback(ctx, a.opts.LookbackDays, storage.ObservationFilter{})
	if err != nil {
		return ClusterResult{}, err
	}

	stats := AggregatePincodes(obs)
	if len(stats) < a.opts.MinPincodes {
		return ClusterResult{}, &InsufficientDataError{What: "pincode", Have: len(stats), Need: a.opts.MinPincodes}
	}

	features := make([][]float64, 3)
	for _, s := range stats {
		features[0] = append(features[0], s.OutageRate)
		features[1] = append(features[1], s.ChecksPerProduct)
		features[2] = append(features[2], float64(s.UniqueProducts))
	}
	for i := range features {
		standardize(features[i])
	}
	points := make([][]float64, len(stats))
	for i := range stats {
		points[i] = []float64{features[0][i], features[1][i], features[2][i]}
	}

	k := a.opts.MaxClusters
	if k > len(stats) {
		k = len(stats)
	}
	labels := renumber(kmeans(points, k, a.opts.Seed))

	members := make(map[int][]PincodeStats)
	clusterCount := 0
	for i := range stats {
		stats[i].Cluster = labels[i]
		members[labels[i]] = append(members[labels[i]], stats[i])
		if labels[i]+1 > clusterCount {
			clusterCount = labels[i] + 1
		}
	}

	result := ClusterResult{
		PincodeData: stats,
		AnalysisPeriod: fmt.Sprintf("%s to %s",
			storage.DateKey(a.today().AddDate(0, 0, -a.opts.LookbackDays)), storage.DateKey(a.today())),
	}
	for id := 0; id < clusterCount; id++ {
		group := members[id]
		var rate, products float64
		pincodes := make([]string, 0, len(group))
		for _, s := range group {
			rate += s.OutageRate
			products += float64(s.UniqueProducts)
			pincodes = append(pincodes, s.Pincode)
		}
		rate /= float64(len(group))
		products /= float64(len(group))
		result.Clusters = append(result.Clusters, Cluster{
			ClusterID:     id,
			Pincodes:      pincodes,
			AvgOutageRate: round2(rate * 100),
			AvgProducts:   roundTo(products, 1),
			Description:   DescribeCluster(rate, products),
		})
	}
	return result, nil
}

// AggregatePincodes groups observations per pincode, ordered by total checks
// descending and then by pincode.
func AggregatePincodes(obs []storage.Observation) []PincodeStats {
	type acc struct {
		stats    PincodeStats
		products map[string]struct{}
	}
	byPin := make(map[string]*acc)
	for _, o := range obs {
		a, ok := byPin[o.Pincode]
		if !ok {
			a = &acc{stats: PincodeStats{Pincode: o.Pincode}, products: make(map[string]struct{})}
			byPin[o.Pincode] = a
		}
		a.stats.TotalChecks++
		if !o.IsAvailable {
			a.stats.Outages++
		}
		a.products[o.ProductName] = struct{}{}
	}

	out := make([]PincodeStats, 0, len(byPin))
	for _, a := range byPin {
		s := a.stats
		s.UniqueProducts = len(a.products)
		s.OutageRate = float64(s.Outages) / float64(s.TotalChecks)
		s.AvgAvailability = 1 - s.OutageRate
		s.ChecksPerProduct = float64(s.TotalChecks) / float64(s.UniqueProducts)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalChecks != out[j].TotalChecks {
			return out[i].TotalChecks > out[j].TotalChecks
		}
		return out[i].Pincode < out[j].Pincode
	})
	return out
}

// DescribeCluster labels a cluster by risk and volume tier.
func DescribeCluster(outageRate, avgProducts float64) string {
	stability := "Stable"
	switch {
	case outageRate > 0.3:
		stability = "High-Risk"
	case outageRate > 0.15:
		stability = "Medium-Risk"
	}
	volume := "Low-Volume"
	switch {
	case avgProducts > 50:
		volume = "High-Volume"
	case avgProducts > 20:
		volume = "Medium-Volume"
	}
	return fmt.Sprintf("%s, %s Region", stability, volume)
}

// standardize rescales xs in place to zero mean and unit population variance.
// A constant column becomes all zeros.
func standardize(xs []float64) {
	mean := stat.Mean(xs, nil)
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / float64(len(xs)))
	for i, x := range xs {
		if std == 0 {
			xs[i] = 0
			continue
		}
		xs[i] = (x - mean) / std
	}
}

// renumber relabels clusters in order of first appearance and drops ids
// that never occur.
func renumber(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := mapping[l]
		if !ok {
			id = len(mapping)
			mapping[l] = id
		}
		out[i] = id
	}
	return out
}

package analytics

import (
	"context"
	"errors"
)

// BundleResult combines every dashboard analysis in one payload. Clustering
// that lacks data is reported through ClusteringError instead of failing.
type BundleResult struct {
	Correlation     CorrelationResult `json:"correlation_heatmap"`
	Clustering      *ClusterResult    `json:"pincode_clustering,omitempty"`
	ClusteringError string            `json:"pincode_clustering_error,omitempty"`
	Metrics         AdvancedMetrics   `json:"advanced_metrics"`
	ProductsAtRisk  []ProductRisk     `json:"products_at_risk"`
}

// Bundle runs correlation, clustering, metrics and the per-product scan.
func (a *Analytics) Bundle(ctx context.Context, pincode string, daysAhead int, threshold float64) (BundleResult, error) {
	var out BundleResult
	var err error

	if out.Correlation, err = a.GenerateCorrelationHeatmap(ctx); err != nil {
		return out, err
	}

	clusters, err := a.AnalyzePincodePatterns(ctx)
	var insufficient *InsufficientDataError
	switch {
	case err == nil:
		out.Clustering = &clusters
	case errors.As(err, &insufficient):
		out.ClusteringError = insufficient.Error()
	default:
		return out, err
	}

	if out.Metrics, err = a.AdvancedMetrics(ctx); err != nil {
		return out, err
	}
	if out.ProductsAtRisk, err = a.ForecastOutOfStockProducts(ctx, pincode, daysAhead, threshold); err != nil {
		return out, err
	}
	return out, nil
}

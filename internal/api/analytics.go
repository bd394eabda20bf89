package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"stock-outage-alerts/internal/analytics"
	"stock-outage-alerts/internal/cache"
)

// writeAnalyticsError maps insufficient data to 422 and fit failures to 503.
func writeAnalyticsError(w http.ResponseWriter, err error) {
	var insufficient *analytics.InsufficientDataError
	var fit *analytics.ModelFitError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.As(err, &fit):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *handler) forecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword, pincode := q.Get("keyword"), q.Get("pincode")
	days := parsePositive(q.Get("days"), h.Analytics.Options().ForecastDays)

	key := cache.Key("forecast", keyword, pincode, strconv.Itoa(days))
	result, err := cache.Remember(r.Context(), h.Cache, key, func(ctx context.Context) (analytics.ForecastResult, error) {
		return h.Analytics.GenerateStockForecast(ctx, keyword, pincode, days)
	})
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) forecastProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := h.Analytics.Options()
	pincode := q.Get("pincode")
	days := parsePositive(q.Get("days"), opts.ForecastDays)
	threshold := parseFloat(q.Get("threshold"), opts.ProductThreshold)

	key := cache.Key("products", pincode, strconv.Itoa(days), strconv.FormatFloat(threshold, 'f', -1, 64))
	risks, err := cache.Remember(r.Context(), h.Cache, key, func(ctx context.Context) ([]analytics.ProductRisk, error) {
		return h.Analytics.ForecastOutOfStockProducts(ctx, pincode, days, threshold)
	})
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": risks})
}

func (h *handler) clusters(w http.ResponseWriter, r *http.Request) {
	result, err := cache.Remember(r.Context(), h.Cache, cache.Key("clusters"), h.Analytics.AnalyzePincodePatterns)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) correlation(w http.ResponseWriter, r *http.Request) {
	result, err := cache.Remember(r.Context(), h.Cache, cache.Key("correlation"), h.Analytics.GenerateCorrelationHeatmap)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) metrics(w http.ResponseWriter, r *http.Request) {
	result, err := h.Analytics.AdvancedMetrics(r.Context())
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) bundle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := h.Analytics.Options()
	result, err := h.Analytics.Bundle(r.Context(), q.Get("pincode"),
		parsePositive(q.Get("days"), opts.ForecastDays),
		parseFloat(q.Get("threshold"), opts.ProductThreshold))
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

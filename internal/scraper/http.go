package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const scrapePath = "/scrape"

// HTTPOptions parameterise the scraping backend client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPScraper asks a browser-automation backend for product listings.
type HTTPScraper struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs an HTTP scraper client.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTPScraper {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}

	return &HTTPScraper{
		opts:    opts,
		logger:  logger.With().Str("component", "http_scraper").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Scrape fetches the listing for keyword at pincode.
func (s *HTTPScraper) Scrape(ctx context.Context, keyword, pincode string) ([]Record, error) {
	if strings.TrimSpace(keyword) == "" || strings.TrimSpace(pincode) == "" {
		return nil, errors.New("keyword and pincode required")
	}

	query := url.Values{}
	query.Set("keyword", keyword)
	query.Set("pincode", pincode)
	endpoint := s.baseURL + scrapePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stockwatch/1.0")
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	records, err := decodeRecords(payload)
	if err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}

	s.logger.Debug().
		Str("keyword", keyword).
		Str("pincode", pincode).
		Int("products", len(records)).
		Dur("elapsed", time.Since(started)).
		Msg("scrape completed")
	return records, nil
}

// decodeRecords accepts either a bare array or an object with a products field.
func decodeRecords(payload []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapped struct {
		Products []Record `json:"products"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Products, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Error != "":
			return fmt.Errorf("scraper error (%d): %s", status, apiErr.Error)
		case apiErr.Message != "":
			return fmt.Errorf("scraper error (%d): %s", status, apiErr.Message)
		case apiErr.Detail != "":
			return fmt.Errorf("scraper error (%d): %s", status, apiErr.Detail)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("scraper error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("scraper error (%d)", status)
}

var _ Scraper = (*HTTPScraper)(nil)

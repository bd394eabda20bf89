package scraper

import (
	"context"
	"fmt"
	"strings"

	"stock-outage-alerts/internal/storage"
)

// ErrorVariant marks the out-of-stock slot of a substituted record.
const ErrorVariant = "Error"

// Record is one product as reported by the scraping backend.
type Record struct {
	ProductName        string   `json:"product_name"`
	AvailableVariants  []string `json:"available_variants"`
	OutOfStockVariants []string `json:"out_of_stock_variants"`
	URL                string   `json:"url"`
}

// Scraper returns the products listed for a keyword at a pincode.
type Scraper interface {
	Scrape(ctx context.Context, keyword, pincode string) ([]Record, error)
}

// ErrorRecord is recorded in place of real results when a scrape fails so the
// session still exists. Its only out-of-stock entry is a sentinel and never
// produces observations.
func ErrorRecord(keyword, siteURL string) Record {
	return Record{
		ProductName:        fmt.Sprintf("Error scraping %s", keyword),
		AvailableVariants:  []string{},
		OutOfStockVariants: []string{ErrorVariant},
		URL:                siteURL,
	}
}

// ToProduct flattens variant lists into the stored representation.
func (r Record) ToProduct() storage.Product {
	return storage.Product{
		ProductName:        strings.TrimSpace(r.ProductName),
		AvailableVariants:  JoinVariants(r.AvailableVariants),
		OutOfStockVariants: JoinVariants(r.OutOfStockVariants),
		URL:                r.URL,
	}
}

// JoinVariants joins non-empty variant names with the storage separator.
func JoinVariants(variants []string) string {
	cleaned := make([]string, 0, len(variants))
	for _, v := range variants {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return strings.Join(cleaned, storage.VariantSeparator)
}

package stockledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/stock"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// Default JSONPath expressions applied to the remote ledger's responses.
const (
	DefaultQuantityPath = "$.available"
	DefaultLevelsPath   = "$.levels"
)

// HTTPLedger reads stock from a remote ledger service. Quantities are pulled
// out of the response document with JSONPath expressions, so the engine can
// consume ledger APIs it does not control without a bespoke client per shape.
type HTTPLedger struct {
	client       *http.Client
	endpoint     *url.URL
	apiKey       string
	quantityPath string
	levelsPath   string
	log          *logger.Logger
}

var _ storage.StockLedger = (*HTTPLedger)(nil)

// NewHTTP creates a ledger client for the given endpoint. A nil client gets a
// sane default timeout.
func NewHTTP(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPLedger, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("stockledger-http")
	}
	return &HTTPLedger{
		client:       client,
		endpoint:     parsed,
		apiKey:       strings.TrimSpace(apiKey),
		quantityPath: DefaultQuantityPath,
		levelsPath:   DefaultLevelsPath,
		log:          log,
	}, nil
}

// WithPaths overrides the JSONPath expressions used on response documents.
// Empty arguments keep the current value.
func (l *HTTPLedger) WithPaths(quantityPath, levelsPath string) *HTTPLedger {
	if strings.TrimSpace(quantityPath) != "" {
		l.quantityPath = quantityPath
	}
	if strings.TrimSpace(levelsPath) != "" {
		l.levelsPath = levelsPath
	}
	return l
}

// CurrentStock fetches availability for one variant/warehouse pair.
func (l *HTTPLedger) CurrentStock(ctx context.Context, variantID, warehouseID string) (int, error) {
	doc, err := l.fetch(ctx, url.Values{
		"variant_id":   {variantID},
		"warehouse_id": {warehouseID},
	})
	if err != nil {
		return 0, err
	}

	raw, err := jsonpath.Get(l.quantityPath, doc)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", l.quantityPath, err)
	}
	qty, ok := asInt(raw)
	if !ok {
		return 0, fmt.Errorf("quantity at %s is %T, expected a number", l.quantityPath, raw)
	}
	return qty, nil
}

// StockLevels fetches every warehouse quantity the remote ledger holds for a
// variant. Entries without a warehouse id or numeric quantity are skipped.
func (l *HTTPLedger) StockLevels(ctx context.Context, variantID string) ([]stock.Level, error) {
	doc, err := l.fetch(ctx, url.Values{"variant_id": {variantID}})
	if err != nil {
		return nil, err
	}

	raw, err := jsonpath.Get(l.levelsPath, doc)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", l.levelsPath, err)
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("levels at %s is %T, expected an array", l.levelsPath, raw)
	}

	levels := make([]stock.Level, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		warehouseID, _ := fields["warehouse_id"].(string)
		if warehouseID == "" {
			continue
		}
		qty, ok := asInt(fields["available"])
		if !ok {
			l.log.WithField("warehouse_id", warehouseID).Debug("skipping level with non-numeric quantity")
			continue
		}
		levels = append(levels, stock.Level{
			VariantID:   variantID,
			WarehouseID: warehouseID,
			Available:   qty,
		})
	}
	return levels, nil
}

func (l *HTTPLedger) fetch(ctx context.Context, params url.Values) (interface{}, error) {
	requestURL := *l.endpoint
	query := requestURL.Query()
	for key, values := range params {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	requestURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build ledger request: %w", err)
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger responded with status %d", resp.StatusCode)
	}

	var doc interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	return doc, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

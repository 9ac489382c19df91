package warehousedir

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/reservation"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/domain/warehouse"
	"github.com/Meridian-Commerce/reservation_engine/internal/app/storage"
	"github.com/Meridian-Commerce/reservation_engine/pkg/logger"
)

// HTTPDirectory reads warehouse records from a remote directory service.
// Responses are picked apart with gjson so partial or over-wide payloads
// still map cleanly onto the engine's warehouse view.
type HTTPDirectory struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ storage.WarehouseDirectory = (*HTTPDirectory)(nil)

// NewHTTP creates a directory client for the given endpoint.
func NewHTTP(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPDirectory, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("directory endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse directory endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("warehousedir-http")
	}
	return &HTTPDirectory{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// Warehouse fetches one directory record by id.
func (d *HTTPDirectory) Warehouse(ctx context.Context, id string) (warehouse.Warehouse, error) {
	body, status, err := d.fetch(ctx, url.Values{"id": {id}})
	if err != nil {
		return warehouse.Warehouse{}, err
	}
	if status == http.StatusNotFound {
		return warehouse.Warehouse{}, fmt.Errorf("warehouse %s: %w", id, reservation.ErrNotFound)
	}
	if status != http.StatusOK {
		return warehouse.Warehouse{}, fmt.Errorf("directory responded with status %d", status)
	}

	doc := gjson.ParseBytes(body)
	if doc.Get("id").String() == "" {
		return warehouse.Warehouse{}, fmt.Errorf("warehouse %s: %w", id, reservation.ErrNotFound)
	}
	return warehouseFromJSON(doc), nil
}

// Warehouses fetches the full directory. The remote service wraps the list in
// a "warehouses" field; entries without an id are dropped.
func (d *HTTPDirectory) Warehouses(ctx context.Context) ([]warehouse.Warehouse, error) {
	body, status, err := d.fetch(ctx, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("directory responded with status %d", status)
	}

	list := gjson.GetBytes(body, "warehouses")
	if !list.Exists() {
		return nil, fmt.Errorf("directory response missing warehouses field")
	}

	var out []warehouse.Warehouse
	for _, item := range list.Array() {
		if item.Get("id").String() == "" {
			d.log.Debug("skipping directory entry without id")
			continue
		}
		out = append(out, warehouseFromJSON(item))
	}
	return out, nil
}

func warehouseFromJSON(doc gjson.Result) warehouse.Warehouse {
	wh := warehouse.Warehouse{
		ID:                 doc.Get("id").String(),
		Code:               doc.Get("code").String(),
		Name:               doc.Get("name").String(),
		City:               doc.Get("city").String(),
		Zone:               doc.Get("zone").String(),
		Capacity:           int(doc.Get("capacity").Int()),
		CommittedUnits:     int(doc.Get("committed_units").Int()),
		PerishablePriority: doc.Get("perishable_priority").Bool(),
		Active:             doc.Get("active").Bool(),
	}
	lat, lon := doc.Get("latitude"), doc.Get("longitude")
	if lat.Exists() && lon.Exists() {
		wh.Coordinates = &warehouse.Coordinates{Lat: lat.Float(), Lon: lon.Float()}
	}
	return wh
}

func (d *HTTPDirectory) fetch(ctx context.Context, params url.Values) ([]byte, int, error) {
	requestURL := *d.endpoint
	query := requestURL.Query()
	for key, values := range params {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	requestURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build directory request: %w", err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read directory response: %w", err)
	}
	return body, resp.StatusCode, nil
}

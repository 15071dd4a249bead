package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/models"
)

const apiPath = "/wp-json/wc/v3"

var (
	// ErrOrderNotFound is returned when the storefront has no such order.
	ErrOrderNotFound = errors.New("storefront: order not found")
	// ErrCustomerNotFound is returned when the account behind an order is gone.
	ErrCustomerNotFound = errors.New("storefront: customer not found")

	errNotFound = errors.New("not found")
)

// Storefront is the local order data the pipeline reads.
type Storefront interface {
	// Order returns the order with each line's Product resolved; Product is
	// nil for lines whose product was deleted.
	Order(ctx context.Context, id int64) (models.Order, error)
	Customer(ctx context.Context, id int64) (models.Customer, error)
}

// WooCommerce reads orders through the WooCommerce REST API.
type WooCommerce struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
	log     *zap.Logger
}

func NewWooCommerce(cfg config.StorefrontConfig, httpClient *http.Client, log *zap.Logger) *WooCommerce {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &WooCommerce{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		http:    httpClient,
		log:     log.Named("storefront"),
	}
}

func (w *WooCommerce) Order(ctx context.Context, id int64) (models.Order, error) {
	var order models.Order
	err := w.get(ctx, "/orders/"+strconv.FormatInt(id, 10), &order)
	if errors.Is(err, errNotFound) {
		return models.Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("fetch order %d: %w", id, err)
	}

	products := make(map[string]*models.Product)
	for i := range order.LineItems {
		line := &order.LineItems[i]
		if line.ProductID == 0 {
			continue
		}
		path := productPath(line.ProductID, line.VariationID)
		p, seen := products[path]
		if !seen {
			p, err = w.product(ctx, path)
			if err != nil {
				return models.Order{}, fmt.Errorf("fetch order %d: %w", id, err)
			}
			products[path] = p
		}
		line.Product = p
	}
	return order, nil
}

// productPath addresses the variation when the line has one; the parent of
// a variable product carries no SKU of its own.
func productPath(productID, variationID int64) string {
	path := "/products/" + strconv.FormatInt(productID, 10)
	if variationID != 0 {
		path += "/variations/" + strconv.FormatInt(variationID, 10)
	}
	return path
}

func (w *WooCommerce) product(ctx context.Context, path string) (*models.Product, error) {
	var p models.Product
	err := w.get(ctx, path, &p)
	if errors.Is(err, errNotFound) {
		w.log.Debug("product gone", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", path, err)
	}
	return &p, nil
}

func (w *WooCommerce) Customer(ctx context.Context, id int64) (models.Customer, error) {
	var c models.Customer
	err := w.get(ctx, "/customers/"+strconv.FormatInt(id, 10), &c)
	if errors.Is(err, errNotFound) {
		return models.Customer{}, fmt.Errorf("customer %d: %w", id, ErrCustomerNotFound)
	}
	if err != nil {
		return models.Customer{}, fmt.Errorf("fetch customer %d: %w", id, err)
	}
	return c, nil
}

func (w *WooCommerce) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+apiPath+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(w.key, w.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

package zoho

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/telemetry"
)

const breakerName = "zoho-api"

// Client talks to the Zoho Inventory REST API. Every call is rate limited
// and runs behind a circuit breaker.
type Client struct {
	baseURL  string
	token    string
	orgID    string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	validate *validator.Validate
	log      *zap.Logger
}

// New builds a client from configuration. httpClient may be nil.
func New(cfg config.ZohoConfig, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 100
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	log = log.Named("zoho")

	telemetry.BreakerState.WithLabelValues(breakerName).Set(0)
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			telemetry.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.AuthToken,
		orgID:    cfg.OrganizationID,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
		breaker:  breaker,
		validate: validator.New(),
		log:      log,
	}
}

// ListContacts returns contacts whose name or email matches the filter exactly.
func (c *Client) ListContacts(ctx context.Context, f ContactFilter) ([]Contact, error) {
	q := url.Values{}
	if f.Name != "" {
		q.Set("contact_name", f.Name)
	}
	if f.Email != "" {
		q.Set("email", f.Email)
	}
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.do(ctx, "list_contacts", http.MethodGet, "/contacts", q, nil, &resp); err != nil {
		return nil, err
	}
	for _, contact := range resp.Contacts {
		if err := c.validate.Struct(contact); err != nil {
			return nil, fmt.Errorf("%w: contact: %v", ErrInvalidResponse, err)
		}
	}
	return resp.Contacts, nil
}

// GetContact fetches one contact by id.
func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	var resp struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, "get_contact", http.MethodGet, "/contacts/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return Contact{}, err
	}
	if err := c.validate.Struct(resp.Contact); err != nil {
		return Contact{}, fmt.Errorf("%w: contact: %v", ErrInvalidResponse, err)
	}
	return resp.Contact, nil
}

// CreateContact registers a new customer.
func (c *Client) CreateContact(ctx context.Context, in ContactInput) (Contact, error) {
	var resp struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, "create_contact", http.MethodPost, "/contacts", nil, in, &resp); err != nil {
		return Contact{}, err
	}
	if resp.Contact.ContactID == "" {
		return Contact{}, fmt.Errorf("create contact: %w", ErrMissingIdentifier)
	}
	return resp.Contact, nil
}

// ListItems returns one page of the item listing. Pages start at 1.
func (c *Client) ListItems(ctx context.Context, page int) (ItemPage, error) {
	q := url.Values{}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	var resp struct {
		Items       []Item      `json:"items"`
		PageContext PageContext `json:"page_context"`
	}
	if err := c.do(ctx, "list_items", http.MethodGet, "/items", q, nil, &resp); err != nil {
		return ItemPage{}, err
	}
	for _, item := range resp.Items {
		if err := c.validate.Struct(item); err != nil {
			return ItemPage{}, fmt.Errorf("%w: item: %v", ErrInvalidResponse, err)
		}
	}
	return ItemPage{Items: resp.Items, HasNextPage: resp.PageContext.HasMorePage}, nil
}

// FindItemBySKU looks an item up live. The boolean is false when no item
// carries the sku.
func (c *Client) FindItemBySKU(ctx context.Context, sku string) (Item, bool, error) {
	q := url.Values{}
	q.Set("sku", sku)
	var resp struct {
		Items []Item `json:"items"`
	}
	if err := c.do(ctx, "find_item", http.MethodGet, "/items", q, nil, &resp); err != nil {
		return Item{}, false, err
	}
	for _, item := range resp.Items {
		if item.SKU == sku && item.ItemID != "" {
			return item, true, nil
		}
	}
	return Item{}, false, nil
}

// ListTaxes returns every configured tax rate. The endpoint is not paginated.
func (c *Client) ListTaxes(ctx context.Context) ([]Tax, error) {
	var resp struct {
		Taxes []Tax `json:"taxes"`
	}
	if err := c.do(ctx, "list_taxes", http.MethodGet, "/settings/taxes", nil, nil, &resp); err != nil {
		return nil, err
	}
	for _, tax := range resp.Taxes {
		if err := c.validate.Struct(tax); err != nil {
			return nil, fmt.Errorf("%w: tax: %v", ErrInvalidResponse, err)
		}
	}
	return resp.Taxes, nil
}

// CreateSalesOrder submits a sales order. With ignoreAutoNumber the order
// keeps the SalesOrderNumber given in the input.
func (c *Client) CreateSalesOrder(ctx context.Context, in SalesOrderInput, ignoreAutoNumber bool) (SalesOrder, error) {
	var q url.Values
	if ignoreAutoNumber {
		q = url.Values{}
		q.Set("ignore_auto_number_generation", "true")
	}
	var resp struct {
		SalesOrder SalesOrder `json:"salesorder"`
	}
	if err := c.do(ctx, "create_salesorder", http.MethodPost, "/salesorders", q, in, &resp); err != nil {
		return SalesOrder{}, err
	}
	if err := c.validate.Struct(resp.SalesOrder); err != nil {
		return SalesOrder{}, fmt.Errorf("create sales order: %w", ErrMissingIdentifier)
	}
	return resp.SalesOrder, nil
}

// AddComment attaches a free-text comment to a sales order.
func (c *Client) AddComment(ctx context.Context, salesOrderID, text string) error {
	body := map[string]string{"description": text}
	return c.do(ctx, "add_comment", http.MethodPost, "/salesorders/"+url.PathEscape(salesOrderID)+"/comments", nil, body, nil)
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		telemetry.RemoteCalls.WithLabelValues(op, "throttled").Inc()
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, q, in)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			telemetry.RemoteCalls.WithLabelValues(op, "rejected").Inc()
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		case clientError(err):
			telemetry.RemoteCalls.WithLabelValues(op, "rejected").Inc()
		default:
			telemetry.RemoteCalls.WithLabelValues(op, "failure").Inc()
		}
		c.log.Debug("zoho call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	telemetry.RemoteCalls.WithLabelValues(op, "success").Inc()

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, q url.Values, in any) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	if c.orgID != "" {
		q.Set("organization_id", c.orgID)
	}
	endpoint := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		form := url.Values{}
		form.Set("JSONString", string(payload))
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Zoho-oauthtoken "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, (&APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}).Error())
	}
	if resp.StatusCode >= http.StatusBadRequest || env.Code != 0 {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return raw, nil
}

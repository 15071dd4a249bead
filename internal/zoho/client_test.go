package zoho

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.ZohoConfig{
		BaseURL:           srv.URL,
		AuthToken:         "tok",
		OrganizationID:    "org-1",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 60000,
		Burst:             100,
		BreakerTimeout:    time.Minute,
	}, srv.Client(), zap.NewNop())
}

func TestListItems_PageAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.URL.Query().Get("organization_id"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"code":0,"message":"success",
			"items":[{"item_id":"i1","sku":"A","name":"Apple","rate":1.5,"status":"active"}],
			"page_context":{"page":2,"per_page":200,"has_more_page":true}}`))
	})

	page, err := c.ListItems(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.HasNextPage)
	assert.Equal(t, "A", page.Items[0].SKU)
	assert.True(t, page.Items[0].Rate.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, page.Items[0].Active())
}

func TestListItems_FirstPageOmitsPageParam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("page"))
		_, _ = w.Write([]byte(`{"code":0,"items":[],"page_context":{"has_more_page":false}}`))
	})

	page, err := c.ListItems(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNextPage)
}

func TestListItems_InvalidItemRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"items":[{"sku":"A"}]}`))
	})

	_, err := c.ListItems(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestCreateSalesOrder_FormEncodedPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("ignore_auto_number_generation"))
		require.NoError(t, r.ParseForm())

		var in SalesOrderInput
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("JSONString")), &in))
		assert.Equal(t, "TEST-12", in.SalesOrderNumber)
		assert.Equal(t, "WP-12", in.ReferenceNumber)
		require.Len(t, in.LineItems, 1)
		assert.Equal(t, 2, in.LineItems[0].Quantity)

		_, _ = w.Write([]byte(`{"code":0,"salesorder":{"salesorder_id":"so-1","salesorder_number":"TEST-12"}}`))
	})

	so, err := c.CreateSalesOrder(context.Background(), SalesOrderInput{
		CustomerID:       "c1",
		SalesOrderNumber: "TEST-12",
		ReferenceNumber:  "WP-12",
		LineItems:        []LineItem{{ItemID: "i1", Name: "Apple", Quantity: 2}},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "so-1", so.SalesOrderID)
}

func TestCreateSalesOrder_MissingIdentifier(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"message":"ok"}`))
	})

	_, err := c.CreateSalesOrder(context.Background(), SalesOrderInput{CustomerID: "c1"}, false)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":1002,"message":"Contact does not exist."}`))
	})

	_, err := c.GetContact(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1002, apiErr.Code)
	assert.Equal(t, "Contact does not exist.", apiErr.Message)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestNonZeroCodeWithOKStatusIsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":57,"message":"not authorized"}`))
	})

	err := c.AddComment(context.Background(), "so-1", "hello")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 57, apiErr.Code)
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.ListTaxes(context.Background())
		require.ErrorIs(t, err, ErrUnavailable)
	}
	_, err := c.ListTaxes(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), hits.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":1000,"message":"not found"}`))
	})

	for i := 0; i < 8; i++ {
		_, err := c.GetContact(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, int32(8), hits.Load())
}

func TestListContactsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Acme", r.URL.Query().Get("contact_name"))
		assert.False(t, r.URL.Query().Has("email"))
		_, _ = w.Write([]byte(`{"code":0,"contacts":[{"contact_id":"c9","contact_name":"Acme"}]}`))
	})

	contacts, err := c.ListContacts(context.Background(), ContactFilter{Name: "Acme"})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "c9", contacts[0].ContactID)
}

package models

import (
	"github.com/shopspring/decimal"
)

// Address is a billing or shipping address as stored by the storefront.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone"`
}

// Product is the storefront product behind an order line.
type Product struct {
	ID  int64  `json:"id"`
	SKU string `json:"sku"`
}

// LineItem is one line of a storefront order. Product is nil when the
// underlying product no longer exists. For a variable product it is the
// variation named by VariationID, not the parent.
type LineItem struct {
	ProductID   int64           `json:"product_id"`
	VariationID int64           `json:"variation_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Product   *Product        `json:"product,omitempty"`
}

// Customer is the storefront account that placed an order.
type Customer struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Website string `json:"website,omitempty"`
}

// Order is the local order pushed to the remote accounting service.
type Order struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Billing    Address    `json:"billing"`
	Shipping   Address    `json:"shipping"`
	LineItems  []LineItem `json:"line_items"`
}

package zoho

import (
	"github.com/shopspring/decimal"
)

// Contact is a customer record in the remote accounting service.
type Contact struct {
	ContactID   string `json:"contact_id" validate:"required"`
	ContactName string `json:"contact_name"`
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
}

// Item is a catalog record. Snapshots store items verbatim in this shape.
type Item struct {
	ItemID      string          `json:"item_id" validate:"required"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Rate        decimal.Decimal `json:"rate"`
	TaxID       string          `json:"tax_id"`
	Unit        string          `json:"unit"`
	Status      string          `json:"status"`
}

// Active reports whether the item may be sold.
func (i Item) Active() bool {
	return i.Status == "active"
}

// Tax is a tax rate record.
type Tax struct {
	TaxID         string          `json:"tax_id" validate:"required"`
	TaxName       string          `json:"tax_name"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
}

// PageContext describes the position of a page in a paginated listing.
type PageContext struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	HasMorePage bool `json:"has_more_page"`
}

// ItemPage is one page of the item listing.
type ItemPage struct {
	Items       []Item
	HasNextPage bool
}

// ContactFilter selects contacts by exact name or email.
type ContactFilter struct {
	Name  string
	Email string
}

type Address struct {
	Attention string `json:"attention,omitempty"`
	Address   string `json:"address,omitempty"`
	Street2   string `json:"street2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type ContactPerson struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ContactInput is the payload for creating a contact.
type ContactInput struct {
	ContactName     string          `json:"contact_name"`
	CompanyName     string          `json:"company_name,omitempty"`
	Website         string          `json:"website,omitempty"`
	Email           string          `json:"email,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	BillingAddress  Address         `json:"billing_address"`
	ShippingAddress Address         `json:"shipping_address"`
	ContactPersons  []ContactPerson `json:"contact_persons,omitempty"`
}

// LineItem is a resolved sales order line.
type LineItem struct {
	ItemID      string          `json:"item_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	Quantity    int             `json:"quantity"`
	TaxID       string          `json:"tax_id,omitempty"`
	Unit        string          `json:"unit,omitempty"`
}

// SalesOrderInput is the payload for creating a sales order.
type SalesOrderInput struct {
	CustomerID       string     `json:"customer_id"`
	CustomerName     string     `json:"customer_name,omitempty"`
	SalesOrderNumber string     `json:"salesorder_number,omitempty"`
	Date             string     `json:"date"`
	ReferenceNumber  string     `json:"reference_number"`
	LineItems        []LineItem `json:"line_items"`
	Status           string     `json:"status"`
}

// SalesOrder is a created sales order.
type SalesOrder struct {
	SalesOrderID     string `json:"salesorder_id" validate:"required"`
	SalesOrderNumber string `json:"salesorder_number"`
	ReferenceNumber  string `json:"reference_number"`
	Status           string `json:"status"`
}

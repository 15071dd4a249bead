package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/models"
	"zoho-order-sync/internal/notify"
	"zoho-order-sync/internal/storefront"
	"zoho-order-sync/internal/telemetry"
	"zoho-order-sync/internal/zoho"
)

// PlaceholderSKU is the remote item used when no order line resolves.
const PlaceholderSKU = "PLACEHOLDER"

// Queue records the outcome of each attempt.
type Queue interface {
	UpdateStatus(ctx context.Context, orderID int64, status models.SyncStatus, message string, countAsTry bool) error
}

// Remote is the accounting API as the pipeline uses it.
type Remote interface {
	ListContacts(ctx context.Context, f zoho.ContactFilter) ([]zoho.Contact, error)
	GetContact(ctx context.Context, id string) (zoho.Contact, error)
	CreateContact(ctx context.Context, in zoho.ContactInput) (zoho.Contact, error)
	FindItemBySKU(ctx context.Context, sku string) (zoho.Item, bool, error)
	CreateSalesOrder(ctx context.Context, in zoho.SalesOrderInput, ignoreAutoNumber bool) (zoho.SalesOrder, error)
	AddComment(ctx context.Context, salesOrderID, text string) error
}

// Catalog is the snapshot cache consulted before live item lookups.
type Catalog interface {
	Enabled() bool
	IsValid(ctx context.Context) (bool, error)
	LookupItem(ctx context.Context, sku string) (zoho.Item, bool, error)
}

// RebuildScheduler queues an asynchronous catalog rebuild.
type RebuildScheduler interface {
	ScheduleCatalogRebuild(ctx context.Context) error
}

// Settings are the per-deployment switches the pipeline honours.
type Settings struct {
	TestMode               bool
	Multisite              bool
	SiteID                 string
	NotifySKUMissingRemote bool
	NotifySKUMissingLocal  bool
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		TestMode:               cfg.Sync.TestMode,
		Multisite:              cfg.Sync.Multisite,
		SiteID:                 cfg.Sync.SiteID,
		NotifySKUMissingRemote: cfg.Notify.SKUMissingRemote,
		NotifySKUMissingLocal:  cfg.Notify.SKUMissingLocal,
	}
}

// Pusher turns one local order into one remote sales order.
type Pusher struct {
	queue    Queue
	remote   Remote
	catalog  Catalog
	rebuilds RebuildScheduler
	shop     storefront.Storefront
	notifier notify.Notifier
	settings Settings
	now      func() time.Time
	log      *zap.Logger
}

func NewPusher(
	queue Queue,
	remote Remote,
	catalog Catalog,
	rebuilds RebuildScheduler,
	shop storefront.Storefront,
	notifier notify.Notifier,
	settings Settings,
	log *zap.Logger,
) *Pusher {
	return &Pusher{
		queue:    queue,
		remote:   remote,
		catalog:  catalog,
		rebuilds: rebuilds,
		shop:     shop,
		notifier: notifier,
		settings: settings,
		now:      time.Now,
		log:      log.Named("pipeline"),
	}
}

// Process runs one push attempt and records its outcome on the queue,
// counting exactly one try. The entry must already be enqueued.
func (p *Pusher) Process(ctx context.Context, orderID int64) Result {
	attemptID := uuid.NewString()
	log := p.log.With(zap.Int64("order_id", orderID), zap.String("attempt", attemptID))
	log.Debug("push attempt started")

	a := &attempt{Pusher: p, log: log}
	res := a.run(ctx, orderID)
	res.OrderID = orderID
	res.AttemptID = attemptID

	if err := p.queue.UpdateStatus(ctx, orderID, res.Status, res.Message, true); err != nil {
		log.Error("record push outcome", zap.Error(err))
	}

	if res.OK() {
		telemetry.OrderPushes.WithLabelValues("success").Inc()
		log.Info("order pushed", zap.String("salesorder_id", res.SalesOrderID))
		if a.comment != "" {
			if err := p.remote.AddComment(ctx, res.SalesOrderID, a.comment); err != nil {
				log.Warn("attach order comment", zap.Error(err))
			}
		}
		return res
	}

	telemetry.OrderPushes.WithLabelValues(string(res.Kind)).Inc()
	log.Warn("order push failed", zap.String("kind", string(res.Kind)), zap.String("message", res.Message))
	return res
}

// attempt holds the state of a single Process call.
type attempt struct {
	*Pusher
	log              *zap.Logger
	comment          string
	rebuildRequested bool
}

func (a *attempt) run(ctx context.Context, orderID int64) Result {
	order, err := a.shop.Order(ctx, orderID)
	if err != nil {
		return failed(KindUnexpected, err.Error())
	}
	customer, err := a.customer(ctx, order)
	if err != nil {
		return failed(KindUnexpected, err.Error())
	}

	contact, res, ok := a.resolveContact(ctx, order, customer)
	if !ok {
		return res
	}

	var (
		lines    []zoho.LineItem
		missing  []string
		inactive []string
	)
	for _, line := range order.LineItems {
		if line.Product == nil || line.Product.SKU == "" {
			missing = append(missing, noteLine(line))
			a.log.Info("order line has no sku, adding to notes", zap.String("line", line.Name), zap.Int64("product_id", line.ProductID))
			if a.settings.NotifySKUMissingLocal {
				a.notify(ctx, fmt.Sprintf("SKU of product '%s' not found in the store.", line.Name),
					fmt.Sprintf("SKU of product '%s' (%d) not found in the store. Order %d.", line.Name, line.ProductID, orderID))
			}
			continue
		}

		sku := line.Product.SKU
		item, found, err := a.findItem(ctx, sku)
		if err != nil {
			return failed(KindUnexpected, err.Error())
		}
		switch {
		case !found:
			missing = append(missing, noteLine(line))
			a.log.Info("sku not found remotely, adding to notes", zap.String("sku", sku))
			if a.settings.NotifySKUMissingRemote {
				a.notify(ctx, fmt.Sprintf("SKU '%s' not found in Zoho.", sku),
					fmt.Sprintf("SKU '%s' not found in Zoho. Order %d.", sku, orderID))
			}
		case !item.Active():
			inactive = append(inactive, noteLine(line))
			a.log.Info("remote item inactive, adding to notes", zap.String("sku", sku))
		default:
			lines = append(lines, convertItem(item, line.Quantity))
		}
	}

	if len(lines) == 0 {
		item, found, err := a.findItem(ctx, PlaceholderSKU)
		if err != nil {
			return failed(KindUnexpected, err.Error())
		}
		if !found {
			return failed(KindSubmission, fmt.Sprintf("%s: placeholder item %s not found", MsgSubmissionFailed, PlaceholderSKU))
		}
		a.log.Info("no order line resolved, using placeholder")
		lines = append(lines, convertItem(item, 1))
	}

	a.comment = composeComment(missing, inactive)

	in := zoho.SalesOrderInput{
		CustomerID:      contact.ContactID,
		CustomerName:    firstNonEmpty(contact.CompanyName, contact.ContactName),
		Date:            a.now().Format("2006-01-02"),
		ReferenceNumber: a.referenceNumber(orderID),
		LineItems:       lines,
		Status:          "draft",
	}
	if a.settings.TestMode {
		in.SalesOrderNumber = "TEST-" + strconv.FormatInt(orderID, 10)
	}

	so, err := a.remote.CreateSalesOrder(ctx, in, a.settings.TestMode)
	if err != nil {
		if errors.Is(err, zoho.ErrUnavailable) || ctx.Err() != nil {
			return failed(KindUnexpected, err.Error())
		}
		a.log.Warn("sales order rejected", zap.Error(err))
		return failed(KindSubmission, MsgSubmissionFailed)
	}
	if so.SalesOrderID == "" {
		return failed(KindSubmission, MsgSubmissionFailed)
	}

	return Result{
		Status:        models.StatusSuccess,
		Kind:          KindNone,
		Message:       MsgSuccess,
		SalesOrderID:  so.SalesOrderID,
		MissingLines:  missing,
		InactiveLines: inactive,
	}
}

// customer returns the account behind the order. Guest orders and deleted
// accounts fall back to the billing email.
func (a *attempt) customer(ctx context.Context, order models.Order) (models.Customer, error) {
	fallback := models.Customer{Email: order.Billing.Email}
	if order.CustomerID == 0 {
		return fallback, nil
	}
	c, err := a.shop.Customer(ctx, order.CustomerID)
	if errors.Is(err, storefront.ErrCustomerNotFound) {
		return fallback, nil
	}
	if err != nil {
		return models.Customer{}, err
	}
	if c.Email == "" {
		c.Email = order.Billing.Email
	}
	return c, nil
}

// resolveContact looks the contact up by billing company, then by email,
// and creates it when both miss. ok is false when the attempt must stop.
func (a *attempt) resolveContact(ctx context.Context, order models.Order, customer models.Customer) (zoho.Contact, Result, bool) {
	lookups := []zoho.ContactFilter{}
	if order.Billing.Company != "" {
		lookups = append(lookups, zoho.ContactFilter{Name: order.Billing.Company})
	}
	if customer.Email != "" {
		lookups = append(lookups, zoho.ContactFilter{Email: customer.Email})
	}

	for _, f := range lookups {
		contacts, err := a.remote.ListContacts(ctx, f)
		if err != nil {
			return zoho.Contact{}, failed(KindContact, "contact lookup failed: "+err.Error()), false
		}
		if len(contacts) == 0 {
			continue
		}
		contact, err := a.remote.GetContact(ctx, contacts[0].ContactID)
		if err != nil {
			return zoho.Contact{}, failed(KindContact, "contact lookup failed: "+err.Error()), false
		}
		a.log.Debug("contact found", zap.String("contact_id", contact.ContactID))
		return contact, Result{}, true
	}

	a.log.Info("contact not found, creating", zap.String("company", order.Billing.Company), zap.String("email", customer.Email))
	contact, err := a.remote.CreateContact(ctx, contactInput(order, customer))
	if err != nil {
		a.log.Warn("create contact", zap.Error(err))
		return zoho.Contact{}, failed(KindContact, MsgContactFailed+": "+err.Error()), false
	}
	return contact, Result{}, true
}

// findItem consults the snapshot first when it is usable, then the live API.
// An enabled but stale snapshot triggers one asynchronous rebuild per attempt.
func (a *attempt) findItem(ctx context.Context, sku string) (zoho.Item, bool, error) {
	if a.catalog != nil && a.catalog.Enabled() {
		valid, err := a.catalog.IsValid(ctx)
		if err != nil {
			a.log.Warn("check catalog cache", zap.Error(err))
		}
		if valid {
			item, found, err := a.catalog.LookupItem(ctx, sku)
			if err != nil {
				a.log.Warn("catalog lookup", zap.String("sku", sku), zap.Error(err))
			} else if found {
				return item, true, nil
			}
		} else if err == nil {
			a.requestRebuild(ctx)
		}
	}
	return a.remote.FindItemBySKU(ctx, sku)
}

func (a *attempt) requestRebuild(ctx context.Context) {
	if a.rebuildRequested || a.rebuilds == nil {
		return
	}
	a.rebuildRequested = true
	if err := a.rebuilds.ScheduleCatalogRebuild(ctx); err != nil {
		a.log.Warn("schedule catalog rebuild", zap.Error(err))
	}
}

func (a *attempt) notify(ctx context.Context, subject, body string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(ctx, subject, body); err != nil {
		a.log.Warn("send notification", zap.Error(err))
	}
}

func (p *Pusher) referenceNumber(orderID int64) string {
	ref := "WP-" + strconv.FormatInt(orderID, 10)
	if p.settings.Multisite && p.settings.SiteID != "" {
		ref += "-" + p.settings.SiteID
	}
	return ref
}

func convertItem(item zoho.Item, quantity int) zoho.LineItem {
	return zoho.LineItem{
		ItemID:      item.ItemID,
		Name:        item.Name,
		Description: item.Description,
		Rate:        item.Rate,
		Quantity:    quantity,
		TaxID:       item.TaxID,
		Unit:        item.Unit,
	}
}

func contactInput(order models.Order, customer models.Customer) zoho.ContactInput {
	b, s := order.Billing, order.Shipping
	name := b.Company
	if name == "" {
		name = strings.TrimSpace(b.FirstName + " " + b.LastName)
	}
	return zoho.ContactInput{
		ContactName: name,
		CompanyName: b.Company,
		Website:     customer.Website,
		Email:       customer.Email,
		Notes:       "Created by zoho-order-sync.",
		BillingAddress: zoho.Address{
			Attention: b.Company,
			Address:   b.Address1,
			Street2:   b.Address2,
			City:      b.City,
			State:     b.State,
			Zip:       b.Postcode,
			Country:   b.Country,
			Phone:     b.Phone,
		},
		ShippingAddress: zoho.Address{
			Attention: s.Company,
			Address:   s.Address1,
			Street2:   s.Address2,
			City:      s.City,
			State:     s.State,
			Zip:       s.Postcode,
			Country:   s.Country,
			Phone:     b.Phone,
		},
		ContactPersons: []zoho.ContactPerson{{
			FirstName: b.FirstName,
			LastName:  b.LastName,
			Email:     customer.Email,
			Phone:     b.Phone,
		}},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package pipeline

import (
	"strconv"
	"strings"

	"zoho-order-sync/internal/models"
)

const commentFooter = "Automatically generated by zoho-order-sync."

// noteLine renders an order line that could not become a sales order line.
func noteLine(line models.LineItem) string {
	var b strings.Builder
	b.WriteString(line.Name)
	b.WriteString(" ")
	if line.Product != nil && line.Product.SKU != "" {
		b.WriteString("(" + line.Product.SKU + ") ")
	}
	b.WriteString("| Quantity: " + strconv.Itoa(line.Quantity))
	b.WriteString(" | Total Price: " + line.Total.StringFixed(2))
	return b.String()
}

// composeComment returns the diagnostic comment for the sales order, or ""
// when every line was resolved.
func composeComment(missing, inactive []string) string {
	if len(missing) == 0 && len(inactive) == 0 {
		return ""
	}
	var sections []string
	if len(missing) > 0 {
		sections = append(sections, "Missing products:\n"+strings.Join(missing, "\n")+"\n")
	}
	if len(inactive) > 0 {
		sections = append(sections, "Inactive products:\n"+strings.Join(inactive, "\n")+"\n")
	}
	return strings.Join(sections, "\n") + "\n" + commentFooter
}

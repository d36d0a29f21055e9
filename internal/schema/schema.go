package schema

import (
	"fmt"
	"strings"
	"time"
)

// Column types are semantic hints for the prompt, not database types.
const (
	TypeID        = "id"
	TypeText      = "text"
	TypeNumber    = "number"
	TypeMoney     = "money"
	TypeTimestamp = "timestamp"
)

type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Stats struct {
	RowCount int64      `json:"row_count"`
	MinDate  *time.Time `json:"min_date,omitempty"`
	MaxDate  *time.Time `json:"max_date,omitempty"`
	Currency string     `json:"currency,omitempty"`
}

type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
	// DateColumn and CurrencyColumn name the columns statistics are read
	// from; empty means the statistic does not apply.
	DateColumn     string `json:"-"`
	CurrencyColumn string `json:"-"`
	Stats          *Stats `json:"stats,omitempty"`
}

func (t Table) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return true
		}
	}
	return false
}

// Context is the tenant-scoped description handed to the translator. It is
// built per request or served from a short-lived cache.
type Context struct {
	TenantID     string    `json:"tenant_id"`
	TenantColumn string    `json:"tenant_column"`
	Tables       []Table   `json:"tables"`
	Degraded     bool      `json:"degraded"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Render produces the prompt block. Output depends only on the context
// value, so identical contexts render identically.
func (c Context) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Every table is filtered by %s. Always include %s = $1 for each table you read.\n", c.TenantColumn, c.TenantColumn)
	if c.Degraded {
		b.WriteString("Statistics are currently unavailable.\n")
	}
	for _, table := range c.Tables {
		fmt.Fprintf(&b, "\nTABLE %s", table.Name)
		if table.Description != "" {
			fmt.Fprintf(&b, " -- %s", table.Description)
		}
		b.WriteString("\n")
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  %s %s", column.Name, column.Type)
			if column.Description != "" {
				fmt.Fprintf(&b, " -- %s", column.Description)
			}
			b.WriteString("\n")
		}
		if table.Stats != nil {
			fmt.Fprintf(&b, "  rows: %d", table.Stats.RowCount)
			if table.Stats.MinDate != nil && table.Stats.MaxDate != nil {
				fmt.Fprintf(&b, ", dates: %s to %s",
					table.Stats.MinDate.UTC().Format("2006-01-02"),
					table.Stats.MaxDate.UTC().Format("2006-01-02"))
			}
			if table.Stats.Currency != "" {
				fmt.Fprintf(&b, ", currency: %s", table.Stats.Currency)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// DefaultTables describes the synced store tables.
func DefaultTables() []Table {
	return []Table{
		{
			Name:           "orders",
			Description:    "one row per order",
			DateColumn:     "created_at",
			CurrencyColumn: "currency",
			Columns: []Column{
				{Name: "id", Type: TypeID},
				{Name: "store_id", Type: TypeID},
				{Name: "customer_id", Type: TypeID},
				{Name: "status", Type: TypeText, Description: "pending, processing, completed, refunded, cancelled"},
				{Name: "total", Type: TypeMoney, Description: "order total including tax and shipping"},
				{Name: "subtotal", Type: TypeMoney},
				{Name: "tax_total", Type: TypeMoney},
				{Name: "shipping_total", Type: TypeMoney},
				{Name: "currency", Type: TypeText},
				{Name: "payment_method", Type: TypeText},
				{Name: "created_at", Type: TypeTimestamp},
			},
		},
		{
			Name:        "order_items",
			Description: "line items of each order",
			DateColumn:  "created_at",
			Columns: []Column{
				{Name: "id", Type: TypeID},
				{Name: "store_id", Type: TypeID},
				{Name: "order_id", Type: TypeID},
				{Name: "product_id", Type: TypeID},
				{Name: "product_name", Type: TypeText},
				{Name: "quantity", Type: TypeNumber},
				{Name: "line_total", Type: TypeMoney},
				{Name: "created_at", Type: TypeTimestamp},
			},
		},
		{
			Name:       "products",
			DateColumn: "created_at",
			Columns: []Column{
				{Name: "id", Type: TypeID},
				{Name: "store_id", Type: TypeID},
				{Name: "name", Type: TypeText},
				{Name: "sku", Type: TypeText},
				{Name: "category", Type: TypeText},
				{Name: "price", Type: TypeMoney},
				{Name: "stock_quantity", Type: TypeNumber},
				{Name: "created_at", Type: TypeTimestamp},
			},
		},
		{
			Name:       "customers",
			DateColumn: "created_at",
			Columns: []Column{
				{Name: "id", Type: TypeID},
				{Name: "store_id", Type: TypeID},
				{Name: "email", Type: TypeText},
				{Name: "first_name", Type: TypeText},
				{Name: "last_name", Type: TypeText},
				{Name: "country", Type: TypeText},
				{Name: "orders_count", Type: TypeNumber},
				{Name: "total_spent", Type: TypeMoney},
				{Name: "created_at", Type: TypeTimestamp},
			},
		},
	}
}

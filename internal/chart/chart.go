// Package chart turns an executed result plus the model's chart intent into a
// renderable chart or table configuration.
package chart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wooai/wooai/internal/query"
)

// ErrInsufficientShape is returned when a conversion lacks the rows or
// intent needed to build the requested chart.
var ErrInsufficientShape = errors.New("insufficient data to build chart")

type Type string

const (
	TypeBar      Type = "bar"
	TypeLine     Type = "line"
	TypePie      Type = "pie"
	TypeDoughnut Type = "doughnut"
	TypeNone     Type = "none"
	TypeTable    Type = "table"
)

// ParseType accepts chart types case-insensitively. An empty string is none.
func ParseType(raw string) (Type, error) {
	value := Type(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return TypeNone, nil
	case TypeBar, TypeLine, TypePie, TypeDoughnut, TypeNone, TypeTable:
		return value, nil
	default:
		return "", fmt.Errorf("unknown chart type %q", raw)
	}
}

func (t Type) axis() bool {
	return t == TypeBar || t == TypeLine
}

func (t Type) radial() bool {
	return t == TypePie || t == TypeDoughnut
}

// Intent is the model's description of how to plot a result.
type Intent struct {
	Type     Type   `json:"type"`
	Title    string `json:"title"`
	XLabel   string `json:"xLabel,omitempty"`
	YLabel   string `json:"yLabel,omitempty"`
	DataKey  string `json:"dataKey"`
	LabelKey string `json:"labelKey"`
}

type Dataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BackgroundColor []string  `json:"backgroundColor"`
	BorderColor     []string  `json:"borderColor"`
}

// Config is either an axis/radial chart (Labels and Datasets) or a table
// (Headers and Rows).
type Config struct {
	Type       Type            `json:"type"`
	Title      string          `json:"title,omitempty"`
	Labels     []string        `json:"labels,omitempty"`
	Datasets   []Dataset       `json:"datasets,omitempty"`
	XAxisTitle string          `json:"xAxisTitle,omitempty"`
	YAxisTitle string          `json:"yAxisTitle,omitempty"`
	Headers    []string        `json:"headers"`
	Rows       [][]query.Value `json:"rows"`
}

func (c Config) IsTable() bool {
	return c.Type == TypeTable
}

var palette = []string{
	"#4E79A7",
	"#F28E2B",
	"#E15759",
	"#76B7B2",
	"#59A14F",
	"#EDC948",
	"#B07AA1",
	"#FF9DA7",
	"#9C755F",
	"#BAB0AC",
}

// Color returns the palette entry for a row position.
func Color(index int) string {
	if index < 0 {
		index = -index
	}
	return palette[index%len(palette)]
}

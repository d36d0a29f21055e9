package chart

import (
	"fmt"
	"slices"

	"github.com/wooai/wooai/internal/query"
)

// Resolve builds the chart for a result. A missing or "none" intent, an
// empty result, or keys absent from the result fall back to a table.
func Resolve(result query.Result, intent *Intent) Config {
	if intent == nil || !(intent.Type.axis() || intent.Type.radial()) {
		return Table(result, titleOf(intent))
	}
	if len(result.Rows) == 0 || !hasColumn(result.Rows[0], intent.LabelKey) || !hasColumn(result.Rows[0], intent.DataKey) {
		return Table(result, intent.Title)
	}

	labels := make([]string, 0, len(result.Rows))
	values := make([]float64, 0, len(result.Rows))
	for _, row := range result.Rows {
		label, _ := row.Get(intent.LabelKey)
		labels = append(labels, label.Text())
		value, _ := row.Get(intent.DataKey)
		number, ok := value.Float()
		if !ok {
			number = 0
		}
		values = append(values, number)
	}

	cfg := Config{
		Type:   intent.Type,
		Title:  intent.Title,
		Labels: labels,
		Datasets: []Dataset{{
			Label: firstNonEmpty(intent.YLabel, intent.DataKey),
			Data:  values,
		}},
	}
	if intent.Type.axis() {
		cfg.XAxisTitle = firstNonEmpty(intent.XLabel, intent.LabelKey)
		cfg.YAxisTitle = firstNonEmpty(intent.YLabel, intent.DataKey)
	}
	paint(&cfg)
	return cfg
}

// Table renders a result as headers plus positional rows. Headers follow the
// first row's column order; zero rows give zero headers. Cells are copied by
// position so repeated column names keep their own values.
func Table(result query.Result, title string) Config {
	cfg := Config{
		Type:    TypeTable,
		Title:   title,
		Headers: []string{},
		Rows:    [][]query.Value{},
	}
	if len(result.Rows) == 0 {
		return cfg
	}
	cfg.Headers = slices.Clone(result.Rows[0].Columns)
	for _, row := range result.Rows {
		tuple := slices.Clone(row.Values)
		if len(tuple) > len(cfg.Headers) {
			tuple = tuple[:len(cfg.Headers)]
		}
		for len(tuple) < len(cfg.Headers) {
			tuple = append(tuple, query.Null())
		}
		cfg.Rows = append(cfg.Rows, tuple)
	}
	return cfg
}

// Convert switches an existing chart to another type. Converting to the same
// type returns cfg unchanged. Building a chart out of a table needs the
// original result and an intent naming the label and data keys.
func Convert(cfg Config, target Type, result *query.Result, intent *Intent) (Config, error) {
	if target == TypeNone {
		target = TypeTable
	}
	if !(target.axis() || target.radial() || target == TypeTable) {
		return Config{}, fmt.Errorf("unsupported chart type %q", target)
	}
	if cfg.Type == target {
		return cfg, nil
	}

	switch {
	case target == TypeTable:
		if result != nil {
			return Table(*result, cfg.Title), nil
		}
		return tableFromChart(cfg), nil
	case cfg.IsTable():
		if result == nil || intent == nil || intent.LabelKey == "" || intent.DataKey == "" {
			return Config{}, ErrInsufficientShape
		}
		next := *intent
		next.Type = target
		if next.Title == "" {
			next.Title = cfg.Title
		}
		converted := Resolve(*result, &next)
		if converted.IsTable() {
			return Config{}, ErrInsufficientShape
		}
		return converted, nil
	default:
		return rechart(cfg, target, intent), nil
	}
}

func rechart(cfg Config, target Type, intent *Intent) Config {
	out := Config{
		Type:   target,
		Title:  cfg.Title,
		Labels: slices.Clone(cfg.Labels),
	}
	for _, ds := range cfg.Datasets {
		out.Datasets = append(out.Datasets, Dataset{Label: ds.Label, Data: slices.Clone(ds.Data)})
	}
	if target.axis() {
		out.XAxisTitle = cfg.XAxisTitle
		out.YAxisTitle = cfg.YAxisTitle
		if intent != nil {
			if out.XAxisTitle == "" {
				out.XAxisTitle = firstNonEmpty(intent.XLabel, intent.LabelKey)
			}
			if out.YAxisTitle == "" {
				out.YAxisTitle = firstNonEmpty(intent.YLabel, intent.DataKey)
			}
		}
		if out.YAxisTitle == "" && len(out.Datasets) > 0 {
			out.YAxisTitle = out.Datasets[0].Label
		}
	}
	paint(&out)
	return out
}

func tableFromChart(cfg Config) Config {
	out := Config{
		Type:    TypeTable,
		Title:   cfg.Title,
		Headers: []string{firstNonEmpty(cfg.XAxisTitle, "label")},
		Rows:    [][]query.Value{},
	}
	for _, ds := range cfg.Datasets {
		out.Headers = append(out.Headers, ds.Label)
	}
	for i, label := range cfg.Labels {
		tuple := []query.Value{query.String(label)}
		for _, ds := range cfg.Datasets {
			if i < len(ds.Data) {
				tuple = append(tuple, query.Number(ds.Data[i]))
			} else {
				tuple = append(tuple, query.Null())
			}
		}
		out.Rows = append(out.Rows, tuple)
	}
	return out
}

func paint(cfg *Config) {
	for i := range cfg.Datasets {
		colors := make([]string, len(cfg.Datasets[i].Data))
		for j := range colors {
			colors[j] = Color(j)
		}
		cfg.Datasets[i].BackgroundColor = colors
		cfg.Datasets[i].BorderColor = slices.Clone(colors)
	}
}

func hasColumn(row query.Row, column string) bool {
	if column == "" {
		return false
	}
	_, ok := row.Get(column)
	return ok
}

func titleOf(intent *Intent) string {
	if intent == nil {
		return ""
	}
	return intent.Title
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

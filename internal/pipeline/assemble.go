package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wooai/wooai/internal/chart"
	"github.com/wooai/wooai/internal/nl2sql"
	"github.com/wooai/wooai/internal/query"
)

type ChartPayload struct {
	Config chart.Config `json:"config"`
}

// Answer is the success payload of one question.
type Answer struct {
	Answer         string        `json:"answer"`
	Chart          *ChartPayload `json:"chart"`
	ChartIntent    *chart.Intent `json:"chartIntent,omitempty"`
	Data           []query.Row   `json:"data"`
	Truncated      bool          `json:"truncated,omitempty"`
	SQL            string        `json:"sql,omitempty"`
	ConversationID string        `json:"conversationId"`
}

// Assemble builds the answer from the translation, the rows and the resolved
// chart. A table fallback is still returned as the chart config. sql is
// echoed only when non-empty.
func Assemble(translation nl2sql.Result, result query.Result, cfg chart.Config, sql string) Answer {
	data := result.Rows
	if data == nil {
		data = []query.Row{}
	}

	var text strings.Builder
	text.WriteString(strings.TrimSpace(translation.Explanation))
	switch {
	case len(data) == 0:
		appendSentence(&text, "No matching data was found.")
	case result.Truncated:
		appendSentence(&text, fmt.Sprintf("Showing the first %d rows.", len(data)))
	}
	if text.Len() == 0 {
		text.WriteString("Here is what I found.")
	}

	return Answer{
		Answer:      text.String(),
		Chart:       &ChartPayload{Config: cfg},
		ChartIntent: translation.Chart,
		Data:        data,
		Truncated:   result.Truncated,
		SQL:         sql,
	}
}

func appendSentence(b *strings.Builder, sentence string) {
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	b.WriteString(sentence)
}

// attachment is stored with the assistant turn so a conversation can be
// replayed without re-running the query.
func (a Answer) attachment() json.RawMessage {
	payload := map[string]any{
		"rowCount": len(a.Data),
	}
	if a.Chart != nil {
		payload["chartType"] = a.Chart.Config.Type
	}
	if a.ChartIntent != nil {
		payload["chartIntent"] = a.ChartIntent
	}
	if a.SQL != "" {
		payload["sql"] = a.SQL
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}

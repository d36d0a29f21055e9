package nl2sql

import (
	"fmt"
	"strings"
)

const instructions = `You translate a store owner's question into one read-only PostgreSQL query over their store data.

Rules:
- Write exactly one SELECT statement. No semicolons, no comments, no data changes.
- Read only the tables listed below.
- %[1]s = $1 is bound to the current store automatically. Filter every table you read with %[1]s = $1.
- The outer WHERE clause must include %[1]s = $1 joined by AND. Never combine it with OR.
- Put any other literal values in "params"; they bind to $2, $3, ... in order.
- Prefer aggregates and explicit column aliases. Add LIMIT when listing rows.

Answer with a single JSON object and nothing else:
{"sql": "...", "params": [...], "explanation": "one or two sentences for the store owner", "chartSpec": {"type": "bar|line|pie|doughnut|none", "title": "...", "xLabel": "...", "yLabel": "...", "dataKey": "<numeric column>", "labelKey": "<label column>"}}
Use "chartSpec": null or type "none" when a chart would not help.

Schema:
`

type example struct {
	question string
	answer   string
}

var examples = []example{
	{
		question: "What was my total revenue last month?",
		answer:   `{"sql":"SELECT COALESCE(SUM(total), 0) AS revenue FROM orders WHERE store_id = $1 AND status = 'completed' AND created_at >= date_trunc('month', now()) - interval '1 month' AND created_at < date_trunc('month', now())","params":[],"explanation":"Sum of completed order totals for the previous calendar month.","chartSpec":null}`,
	},
	{
		question: "Show my top 5 products by revenue",
		answer:   `{"sql":"SELECT product_name, SUM(line_total) AS revenue FROM order_items WHERE store_id = $1 GROUP BY product_name ORDER BY revenue DESC LIMIT 5","params":[],"explanation":"Products ranked by the revenue of their order lines.","chartSpec":{"type":"bar","title":"Top 5 products by revenue","xLabel":"Product","yLabel":"Revenue","dataKey":"revenue","labelKey":"product_name"}}`,
	},
	{
		question: "How are my orders split by status since January?",
		answer:   `{"sql":"SELECT status, COUNT(*) AS orders FROM orders WHERE store_id = $1 AND created_at >= $2 GROUP BY status ORDER BY orders DESC","params":["2026-01-01"],"explanation":"Number of orders per status since 1 January.","chartSpec":{"type":"pie","title":"Orders by status","dataKey":"orders","labelKey":"status"}}`,
	},
	{
		question: "Daily sales for the last 14 days",
		answer:   `{"sql":"SELECT date_trunc('day', created_at)::date AS day, SUM(total) AS sales FROM orders WHERE store_id = $1 AND created_at >= now() - interval '14 days' GROUP BY 1 ORDER BY 1","params":[],"explanation":"Order totals per day over the last two weeks.","chartSpec":{"type":"line","title":"Daily sales","xLabel":"Day","yLabel":"Sales","dataKey":"sales","labelKey":"day"}}`,
	},
}

// BuildPrompt assembles the instruction block, the rendered schema, the
// fixed examples, recent turns and the question. The same request always
// yields the same prompt.
func BuildPrompt(req Request) Prompt {
	column := req.Schema.TenantColumn
	if column == "" {
		column = "store_id"
	}
	system := fmt.Sprintf(instructions, column) + req.Schema.Render()

	messages := make([]Message, 0, len(examples)*2+1)
	for _, ex := range examples {
		messages = append(messages,
			Message{Role: "user", Content: ex.question},
			Message{Role: "assistant", Content: ex.answer},
		)
	}

	var question strings.Builder
	if len(req.History) > 0 {
		question.WriteString("Recent conversation:\n")
		for _, turn := range req.History {
			fmt.Fprintf(&question, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
		}
		question.WriteString("\nQuestion: ")
	}
	question.WriteString(strings.TrimSpace(req.Question))
	messages = append(messages, Message{Role: "user", Content: question.String()})

	return Prompt{System: system, Messages: messages}
}

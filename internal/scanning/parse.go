package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnknownStore names the merchant when the receipt header was unreadable
const UnknownStore = "Unknown Store"

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01/02/06",
	"1/2/2006",
	"02-01-2006",
	"Jan 2, 2006",
}

// parseReceiptJSON extracts the JSON object from a model reply and tidies it.
// Models wrap their answer in prose or code fences often enough that only the
// outermost braces are trusted.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var data ReceiptData
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	if data.Store.Name == "" {
		data.Store.Name = UnknownStore
	}
	data.Transaction.Date = Text(normalizeDate(string(data.Transaction.Date)))

	items := data.Items[:0]
	for _, item := range data.Items {
		if item.RawText == "" && item.Brand == "" && item.Item == "" {
			continue
		}
		items = append(items, item)
	}
	data.Items = items

	return &data, nil
}

// normalizeDate rewrites a receipt date to YYYY-MM-DD, defaulting to today
// when the date is missing or unreadable.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}

// replyText strips the code fences some models add despite being asked not to
func replyText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

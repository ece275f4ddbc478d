package events

import (
	"encoding/json"
	"fmt"
)

// TriggerHeader encodes envelopes as an htmx HX-Trigger header value keyed by kind.
// When a kind was published more than once the last payload wins. An empty input yields "".
func TriggerHeader(envelopes []Envelope) (string, error) {
	if len(envelopes) == 0 {
		return "", nil
	}
	payload := make(map[string]any, len(envelopes))
	for _, env := range envelopes {
		payload[string(env.Kind)] = triggerPayload(env.Notification)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("events: encode trigger header: %w", err)
	}
	return string(raw), nil
}

func triggerPayload(n Notification) any {
	switch v := n.(type) {
	case ToastRequested:
		return map[string]any{
			"message":  v.Message,
			"duration": v.Duration.Milliseconds(),
		}
	case Updated:
		items := v.Items
		if items == nil {
			items = emptyItems
		}
		return map[string]any{
			"items":    items,
			"count":    len(items),
			"subtotal": v.Subtotal,
			"budget":   v.Budget,
		}
	default:
		return n
	}
}

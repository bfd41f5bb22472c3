package models

import (
	"encoding/json"
	"time"
)

// Exchange is one message sent to the synthesis endpoint together with the
// reply it produced. The context fields are copied from the reply when the
// synthesis service reports them.
type Exchange struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Question       string          `json:"question"`
	Answer         json.RawMessage `json:"answer"`
	Conditions     []string        `json:"conditions,omitempty"`
	ActiveDrugs    []string        `json:"active_drugs,omitempty"`
	Intent         string          `json:"intent,omitempty"`
	Mode           string          `json:"mode,omitempty"`
	Visualizations json.RawMessage `json:"visualizations,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ApplyReplyContext copies the conversation context carried by a decoded
// synthesis reply onto e. Fields missing from reply, or of the wrong type,
// leave e unchanged.
func (e *Exchange) ApplyReplyContext(reply map[string]any) {
	if reply == nil {
		return
	}

	if conditions, ok := stringList(reply["conditions"]); ok {
		e.Conditions = conditions
	}
	if drugs, ok := stringList(reply["active_drugs"]); ok {
		e.ActiveDrugs = drugs
	}
	if intent, ok := reply["intent"].(string); ok {
		e.Intent = intent
	}
	if mode, ok := reply["mode"].(string); ok {
		e.Mode = mode
	}
	if visualizations, ok := reply["visualizations"]; ok && visualizations != nil {
		if raw, err := json.Marshal(visualizations); err == nil {
			e.Visualizations = raw
		}
	}
}

func stringList(value any) ([]string, bool) {
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

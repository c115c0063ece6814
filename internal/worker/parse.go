package worker

import (
	"github.com/vietddude/relay/internal/core/domain"
)

// validateResponseShape checks the structural contract of the offline-get
// response. It returns a description of the violation, or "" when valid.
func validateResponseShape(response map[string]any) string {
	raw, ok := response["result"]
	if !ok || raw == nil {
		return "missing result field"
	}
	result, ok := raw.(map[string]any)
	if !ok {
		return "result is not an object"
	}
	if pid, ok := result["process_id"]; ok && pid != nil {
		if _, ok := pid.(string); !ok {
			return "result.process_id must be string when present"
		}
	}
	return ""
}

// parseOfflineGet extracts the process id and event items. The upstream has
// shipped the item list under several field names over time.
func parseOfflineGet(response map[string]any) (string, []domain.OfflineEvent) {
	result, ok := response["result"].(map[string]any)
	if !ok {
		return "", nil
	}
	processID, _ := result["process_id"].(string)

	var events []domain.OfflineEvent
	for _, field := range []string{"events", "items", "result"} {
		switch candidate := result[field].(type) {
		case []any:
			for _, raw := range candidate {
				if item, ok := raw.(map[string]any); ok {
					events = append(events, domain.OfflineEvent(item))
				}
			}
		case map[string]any:
			for _, raw := range candidate {
				if item, ok := raw.(map[string]any); ok {
					events = append(events, domain.OfflineEvent(item))
				}
			}
		default:
			continue
		}
		break
	}
	return processID, events
}

// validateEventShape checks one event item. It returns a description of the
// violation, or "" when valid.
func validateEventShape(ev domain.OfflineEvent) string {
	for _, key := range []string{"event", "EVENT"} {
		if v, ok := ev[key]; ok && v != nil {
			if _, ok := v.(string); !ok {
				return "event field must be a string"
			}
		}
	}
	for _, key := range []string{"data", "DATA"} {
		if v, ok := ev[key]; ok && v != nil {
			if _, ok := v.(map[string]any); !ok {
				return "data field must be an object"
			}
		}
	}
	for _, key := range []string{"auth", "AUTH"} {
		if v, ok := ev[key]; ok && v != nil {
			if _, ok := v.(map[string]any); !ok {
				return "auth field must be an object"
			}
		}
	}
	return ""
}

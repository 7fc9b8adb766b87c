package events

import (
	. "github.com/lrp/dvi2mqtt/internal/core/domain"
)

// ReadingFields flattens a Reading into field values. Coils become 0/1.
func ReadingFields(r Reading) map[string]any {
	fields := make(map[string]any, len(r.Coils)+len(r.Inputs)+len(r.Settings))
	for id, on := range r.Coils {
		v := 0
		if on {
			v = 1
		}
		fields[id] = v
	}
	for id, v := range r.Inputs {
		fields[id] = v
	}
	for id, v := range r.Settings {
		fields[id] = v
	}
	return fields
}

// ChangedFields lists the ids whose value differs between two readings.
func ChangedFields(prev, next Reading) []string {
	var changed []string
	for id, v := range next.Coils {
		if old, ok := prev.Coils[id]; !ok || old != v {
			changed = append(changed, id)
		}
	}
	for id, v := range next.Inputs {
		if old, ok := prev.Inputs[id]; !ok || old != v {
			changed = append(changed, id)
		}
	}
	for id, v := range next.Settings {
		if old, ok := prev.Settings[id]; !ok || old != v {
			changed = append(changed, id)
		}
	}
	return changed
}

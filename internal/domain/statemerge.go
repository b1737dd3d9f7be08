package domain

// MergeState performs a deep, additive merge of partial into old and returns
// the result without mutating either input. Nested maps are merged key by key;
// scalar values and non-map types are replaced (last writer wins per key).
// Concurrent writers own disjoint sub-keys, so a partial update must never
// erase keys it does not mention.
func MergeState(old, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(old)+len(partial))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range partial {
		newMap, newIsMap := v.(map[string]any)
		oldMap, oldIsMap := merged[k].(map[string]any)
		if newIsMap && oldIsMap {
			merged[k] = MergeState(oldMap, newMap)
			continue
		}
		merged[k] = v
	}
	return merged
}

// MergePanelState applies a partial update to a panel state blob. The top-level
// isActive and hasBeenViewed flags are owned by the Registry and only change
// when the partial update names them explicitly.
func MergePanelState(old PanelState, partial map[string]any) PanelState {
	out := old
	if v, ok := partial["isActive"].(bool); ok {
		out.IsActive = v
	}
	if v, ok := partial["hasBeenViewed"].(bool); ok {
		out.HasBeenViewed = v
	}
	if custom, ok := partial["customState"].(map[string]any); ok {
		if out.Custom == nil {
			out.Custom = map[string]any{}
		}
		out.Custom = MergeState(out.Custom, custom)
	}
	return out
}

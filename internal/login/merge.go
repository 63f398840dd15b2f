package login

// mergeJSON deep-merges a delta into a base document, both decoded as
// generic JSON values. Objects merge recursively; arrays and scalars
// from the delta replace the base wholesale; an explicit null in the
// delta clears the key. Inputs are never mutated.
func mergeJSON(base, delta map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, dv := range delta {
		if dv == nil {
			delete(out, k)
			continue
		}
		dm, dIsMap := dv.(map[string]any)
		bm, bIsMap := out[k].(map[string]any)
		if dIsMap && bIsMap {
			out[k] = mergeJSON(bm, dm)
			continue
		}
		out[k] = cloneValue(dv)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

package kueri

// FormSpec declares how mutation input is reshaped into the outgoing request
// body. The passes run in a fixed order: rename, add, remove. Rename and
// remove ignore keys absent from the input; add always overwrites.
type FormSpec struct {
	Rename map[string]string
	Add    map[string]any
	Remove []string
}

// Transform applies the spec to input, returning a shallow copy. The input
// map is never mutated.
func (s *FormSpec) Transform(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	if s == nil {
		return out
	}

	for old, renamed := range s.Rename {
		if v, ok := out[old]; ok {
			out[renamed] = v
			delete(out, old)
		}
	}
	for k, v := range s.Add {
		out[k] = v
	}
	for _, k := range s.Remove {
		delete(out, k)
	}
	return out
}

// MergeFormSpecs combines a global and a local spec. Rename and Add merge
// key-wise with the local side winning; Remove is the concatenation of both
// lists with duplicates dropped. Either side may be nil.
func MergeFormSpecs(global, local *FormSpec) *FormSpec {
	if global == nil {
		return local
	}
	if local == nil {
		return global
	}

	merged := &FormSpec{
		Rename: make(map[string]string, len(global.Rename)+len(local.Rename)),
		Add:    make(map[string]any, len(global.Add)+len(local.Add)),
	}
	for k, v := range global.Rename {
		merged.Rename[k] = v
	}
	for k, v := range local.Rename {
		merged.Rename[k] = v
	}
	for k, v := range global.Add {
		merged.Add[k] = v
	}
	for k, v := range local.Add {
		merged.Add[k] = v
	}

	seen := make(map[string]struct{}, len(global.Remove)+len(local.Remove))
	for _, list := range [][]string{global.Remove, local.Remove} {
		for _, k := range list {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged.Remove = append(merged.Remove, k)
		}
	}
	return merged
}

package extract

import "encoding/json"

// Preferences is the structured payload an extraction produces. The core
// schema is typed; fields the model invents land in Extra so callers can
// absorb them without a schema change. A null in the wire payload leaves the
// corresponding field nil, the same as absence.
type Preferences struct {
	Name              *string
	PreferredBranch   *string
	ServicePreference *string
	PainPoints        []string

	// Extra holds open-schema extension fields: scalars and string arrays
	// outside the core schema. Nulls are dropped on decode.
	Extra map[string]any
}

func (p Preferences) IsEmpty() bool {
	return p.Name == nil &&
		p.PreferredBranch == nil &&
		p.ServicePreference == nil &&
		len(p.PainPoints) == 0 &&
		len(p.Extra) == 0
}

func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, val := range raw {
		if string(val) == "null" {
			continue
		}
		switch key {
		case "name":
			if s, ok := decodeString(val); ok {
				p.Name = &s
			}
		case "preferred_branch":
			if s, ok := decodeString(val); ok {
				p.PreferredBranch = &s
			}
		case "service_preference":
			if s, ok := decodeString(val); ok {
				p.ServicePreference = &s
			}
		case "pain_points":
			var points []string
			if err := json.Unmarshal(val, &points); err == nil {
				p.PainPoints = points
			}
		default:
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				continue
			}
			if v == nil {
				continue
			}
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = v
		}
	}
	return nil
}

func (p Preferences) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4+len(p.Extra))
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.PreferredBranch != nil {
		out["preferred_branch"] = *p.PreferredBranch
	}
	if p.ServicePreference != nil {
		out["service_preference"] = *p.ServicePreference
	}
	if len(p.PainPoints) > 0 {
		out["pain_points"] = p.PainPoints
	}
	return json.Marshal(out)
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}

package memory

import "time"

// Profile is the durable cross-session fact set for one user. Scalar facts
// live in Facts; set-valued facts (pain points and friends) live in
// ListFacts and only ever grow.
type Profile struct {
	UserID    string              `json:"user_id"`
	Facts     map[string]string   `json:"facts"`
	ListFacts map[string][]string `json:"list_facts"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func NewProfile(userID string) Profile {
	return Profile{
		UserID:    userID,
		Facts:     make(map[string]string),
		ListFacts: make(map[string][]string),
	}
}

// Clone returns a deep copy so stored profiles never alias caller maps.
func (p Profile) Clone() Profile {
	out := Profile{
		UserID:    p.UserID,
		UpdatedAt: p.UpdatedAt,
		Facts:     make(map[string]string, len(p.Facts)),
		ListFacts: make(map[string][]string, len(p.ListFacts)),
	}
	for k, v := range p.Facts {
		out.Facts[k] = v
	}
	for k, v := range p.ListFacts {
		vv := make([]string, len(v))
		copy(vv, v)
		out.ListFacts[k] = vv
	}
	return out
}

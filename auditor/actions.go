package auditor

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/liamcoop/courseaudit/rules"
)

// mapKeyNamespace scopes the name-based UUIDs used as action map keys.
var mapKeyNamespace = uuid.MustParse("6f0d5c9e-3b7a-5e21-9c44-8d1f2a6b7e30")

// MapKey derives the action map key of a rule outcome on a target. The key
// depends only on its inputs, so unchanged content keeps its keys across
// audits.
func MapKey(ruleKey string, targetID int64) string {
	return uuid.NewSHA1(mapKeyNamespace, []byte(fmt.Sprintf("%s:%d", ruleKey, targetID))).String()
}

// ActionDetails is the descriptor a client uses to call a remediation
// endpoint.
type ActionDetails struct {
	MapKey   string `json:"mapkey"`
	Label    string `json:"label"`
	Endpoint string `json:"endpoint"`
	Params   string `json:"params"`
}

// ActionMap holds action descriptors in insertion order.
type ActionMap struct {
	keys  []string
	byKey map[string]ActionDetails
}

// NewActionMap creates an empty map.
func NewActionMap() *ActionMap {
	return &ActionMap{byKey: make(map[string]ActionDetails)}
}

// Add registers d. It returns false when the key is already present.
func (m *ActionMap) Add(d ActionDetails) bool {
	if _, exists := m.byKey[d.MapKey]; exists {
		return false
	}
	m.keys = append(m.keys, d.MapKey)
	m.byKey[d.MapKey] = d
	return true
}

func (m *ActionMap) Get(mapKey string) (ActionDetails, bool) {
	d, ok := m.byKey[mapKey]
	return d, ok
}

func (m *ActionMap) Len() int { return len(m.keys) }

// List returns the descriptors in insertion order.
func (m *ActionMap) List() []ActionDetails {
	out := make([]ActionDetails, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.byKey[k])
	}
	return out
}

// MarshalJSON encodes the map as an ordered array.
func (m *ActionMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.List())
}

// ActionResolver asks the owning rule of each failed result for its
// remediation action.
type ActionResolver struct {
	registry *rules.Registry
}

// NewActionResolver creates a resolver looking rules up in registry.
func NewActionResolver(registry *rules.Registry) *ActionResolver {
	return &ActionResolver{registry: registry}
}

// ActionFor returns the descriptor for a single result. Passed results, and
// results whose rule has no corrective operation, have none.
func (r *ActionResolver) ActionFor(res rules.Result) (ActionDetails, bool) {
	if res.Status {
		return ActionDetails{}, false
	}
	rule, ok := r.registry.Rule(res.RuleKey)
	if !ok {
		return ActionDetails{}, false
	}
	action := rule.Action(&res)
	if action == nil {
		return ActionDetails{}, false
	}
	return ActionDetails{
		MapKey:   MapKey(res.RuleKey, res.TargetID),
		Label:    action.Label,
		Endpoint: action.Endpoint,
		Params:   action.EncodeParams(),
	}, true
}

package types

// Event is a structured record of a state change, shaped for downstream
// consumers that only understand string attributes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

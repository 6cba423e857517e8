package vectorstore

// Point is a single vector with its payload, ready to upsert. Qdrant
// requires IDs to be UUIDs or unsigned integers; callers supply UUIDs.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is a search or scroll result. Score is zero for scrolled
// points.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// PayloadString reads a string payload field, returning "" when absent or of
// another type.
func (p ScoredPoint) PayloadString(key string) string {
	if p.Payload == nil {
		return ""
	}
	if v, ok := p.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat reads a numeric payload field. JSON numbers decode as
// float64.
func (p ScoredPoint) PayloadFloat(key string) float64 {
	if p.Payload == nil {
		return 0
	}
	if v, ok := p.Payload[key].(float64); ok {
		return v
	}
	return 0
}

// PayloadBool reads a boolean payload field.
func (p ScoredPoint) PayloadBool(key string) bool {
	if p.Payload == nil {
		return false
	}
	if v, ok := p.Payload[key].(bool); ok {
		return v
	}
	return false
}

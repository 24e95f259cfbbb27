package model

// VendorAnalysis is the per-responder portion of a comparison. Scores
// are oracle-assigned on a 0-10 scale; this module never recomputes them.
type VendorAnalysis struct {
	ResponderID       string   `json:"responder_id"`
	ResponderName     string   `json:"responder_name"`
	Strengths         []string `json:"strengths"`
	Weaknesses        []string `json:"weaknesses"`
	PriceScore        float64  `json:"price_score"`
	DeliveryScore     float64  `json:"delivery_score"`
	TermsScore        float64  `json:"terms_score"`
	CompletenessScore float64  `json:"completeness_score"`
	TotalScore        float64  `json:"total_score"`
	RedFlags          []string `json:"red_flags"`
}

type Recommendation struct {
	ResponderID   string  `json:"responder_id"`
	ResponderName string  `json:"responder_name"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
}

// Comparison is ephemeral: recomputed from current proposals on every
// read, never persisted.
type Comparison struct {
	Analyses       []VendorAnalysis `json:"analyses"`
	Recommendation Recommendation   `json:"recommendation"`
	Summary        string           `json:"summary"`
}

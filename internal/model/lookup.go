package model

// Suggestion is a fallback candidate offered when a lookup finds no exact match.
type Suggestion struct {
	SecurityID string `json:"security_id"`
	Name       string `json:"name"`
	Match      int    `json:"match"`
}

// LookupResult is the outcome of resolving one identifier. A miss is a normal
// result with Found=false, not an error.
type LookupResult struct {
	Query       string       `json:"query"`
	Found       bool         `json:"found"`
	Security    *Security    `json:"security,omitempty"`
	Matched     *Identifier  `json:"matched,omitempty"`
	Confidence  Confidence   `json:"confidence,omitempty"`
	DataSources []SourceSync `json:"data_sources,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

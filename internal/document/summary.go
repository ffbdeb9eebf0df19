package document

// MaxKeyFindings bounds Summary.KeyFindings.
const MaxKeyFindings = 5

// Summary is the structured summary of one document.
//
// When the model output cannot be decoded the summary is a fallback: Fallback
// is set, Raw holds the unparsed text and every list is empty.
type Summary struct {
	Type                 string                `json:"type"`
	Causes               []string              `json:"causes"`
	KeyFindings          []string              `json:"key_findings"`
	TreatmentMethods     []TreatmentMethod     `json:"treatment_methods"`
	TreatmentLimitations []TreatmentLimitation `json:"treatment_limitations"`
	LatestTreatments     []LatestTreatment     `json:"latest_treatments"`
	Fallback             bool                  `json:"fallback,omitempty"`
	Raw                  string                `json:"raw,omitempty"`
}

// TreatmentMethod is a common treatment and how it works.
type TreatmentMethod struct {
	Name     string `json:"name"`
	Approach string `json:"approach"`
}

// TreatmentLimitation pairs a limitation with the alternative treatment.
type TreatmentLimitation struct {
	Limitation  string `json:"limitation"`
	Alternative string `json:"alternative"`
}

// LatestTreatment is a recently proposed treatment.
type LatestTreatment struct {
	Name           string `json:"name"`
	Institution    string `json:"institution"`
	Year           string `json:"year"`
	ApprovalStatus string `json:"approval_status"`
	Approach       string `json:"approach"`
}

// NewFallbackSummary builds the summary used when model output is not valid
// structured data.
func NewFallbackSummary(docType, raw string) *Summary {
	return &Summary{
		Type:                 docType,
		Causes:               []string{},
		KeyFindings:          []string{},
		TreatmentMethods:     []TreatmentMethod{},
		TreatmentLimitations: []TreatmentLimitation{},
		LatestTreatments:     []LatestTreatment{},
		Fallback:             true,
		Raw:                  raw,
	}
}

// IsFallback reports whether the summary holds unparsed model text.
func (s *Summary) IsFallback() bool {
	return s != nil && s.Fallback
}

// IsEmpty reports whether a structured summary carries no content at all.
func (s *Summary) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.Causes) == 0 && len(s.KeyFindings) == 0 && len(s.TreatmentMethods) == 0 &&
		len(s.TreatmentLimitations) == 0 && len(s.LatestTreatments) == 0 && s.Raw == ""
}

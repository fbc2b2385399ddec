package inference

import (
	"encoding/json"
	"fmt"
)

// The inference service returns loosely-typed JSON. Each call type has a
// closed result schema that is validated here at the boundary; shape
// mismatches surface as fatal errors instead of propagating untyped data
// inward.

// RawInstance is one detected object as reported by the model. Box is
// [xmin, ymin, xmax, ymax] in the model's normalized [0,1000] space.
type RawInstance struct {
	Label string     `json:"label"`
	Box   [4]float64 `json:"box_2d"`
}

// DetectionResult is the response schema of a "detect all instances of kind
// K in this image" call.
type DetectionResult struct {
	Instances []RawInstance `json:"instances"`
}

// BoxCorrection replaces the box of an existing numbered instance.
// Index refers to the zero-based badge number in the overlay image,
// before any removals of this round are applied.
type BoxCorrection struct {
	Index int        `json:"index"`
	Box   [4]float64 `json:"box_2d"`
}

// VerificationResult is the response schema of a numbered-overlay
// verification call.
type VerificationResult struct {
	Wrong       []int           `json:"wrong,omitempty"`
	Corrections []BoxCorrection `json:"corrections,omitempty"`
	Missing     []RawInstance   `json:"missing,omitempty"`
	Complete    bool            `json:"complete"`
}

// CountEstimateResult is the response schema of a cheap count-estimate call.
type CountEstimateResult struct {
	Count int `json:"count"`
}

// KindFinding is one candidate object category from a discovery call.
type KindFinding struct {
	Label          string `json:"label"`
	Category       string `json:"category"`
	EstimatedCount string `json:"estimated_count"`
	EstimatedSize  string `json:"estimated_size"`
	Segmentation   string `json:"segmentation"`
	Importance     string `json:"importance"`
}

// DiscoveryResult is the response schema of a kind-discovery call.
type DiscoveryResult struct {
	Kinds []KindFinding `json:"kinds"`
}

// ReconciledKind is the verdict on one candidate kind after multi-scale
// reconciliation.
type ReconciledKind struct {
	Label     string   `json:"label"`
	Real      bool     `json:"real"`
	Quadrants []string `json:"quadrants,omitempty"`
	Scope     string   `json:"scope"`
}

// ReconciliationResult is the response schema of the multi-scale
// reconciliation call.
type ReconciliationResult struct {
	Kinds []ReconciledKind `json:"kinds"`
}

// Decode parses the model's JSON text into the given result schema. Any
// shape mismatch is a fatal error: the schema is a contract, not a hint.
func Decode(text string, out any) error {
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fatalErr("response does not match schema", err)
	}
	return nil
}

// Validate checks the parts of a detection result json.Unmarshal cannot.
func (r *DetectionResult) Validate() error {
	for i, in := range r.Instances {
		if in.Label == "" {
			return fatalErr(fmt.Sprintf("instance %d has no label", i), nil)
		}
	}
	return nil
}

// Validate checks index sanity against the number of boxes shown in the
// overlay. Out-of-range indices mean the model is not talking about the
// image we sent.
func (r *VerificationResult) Validate(shown int) error {
	for _, idx := range r.Wrong {
		if idx < 0 || idx >= shown {
			return fatalErr(fmt.Sprintf("removal index %d out of range [0,%d)", idx, shown), nil)
		}
	}
	for _, c := range r.Corrections {
		if c.Index < 0 || c.Index >= shown {
			return fatalErr(fmt.Sprintf("correction index %d out of range [0,%d)", c.Index, shown), nil)
		}
	}
	for i, m := range r.Missing {
		if m.Label == "" {
			return fatalErr(fmt.Sprintf("missing instance %d has no label", i), nil)
		}
	}
	return nil
}

// Validate checks that every discovered kind is usable downstream.
func (r *DiscoveryResult) Validate() error {
	for i, k := range r.Kinds {
		if k.Label == "" {
			return fatalErr(fmt.Sprintf("kind %d has no label", i), nil)
		}
	}
	return nil
}

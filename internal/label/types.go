// Package label defines the domain vocabulary of a labeling run: discovered
// object kinds, concrete detected instances, and the duplicate-merge pass
// shared by the tiler and the global post-processor.
package label

import (
	"strings"

	"github.com/derekphilipau/deep-label/internal/geometry"
)

// CountClass is the coarse per-kind population estimate from discovery.
type CountClass string

const (
	CountFew      CountClass = "few"
	CountModerate CountClass = "moderate"
	CountMany     CountClass = "many"
	CountVeryMany CountClass = "very_many"
)

// SizeClass is the coarse per-kind physical size estimate from discovery.
type SizeClass string

const (
	SizeTiny   SizeClass = "tiny"
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
	SizeGiant  SizeClass = "giant"
)

// Segmentation selects the detection goal for a kind.
type Segmentation string

const (
	// SegmentationExhaustive targets every individual instance.
	SegmentationExhaustive Segmentation = "exhaustive"
	// SegmentationRepresentative accepts a small spatially-diverse sample.
	SegmentationRepresentative Segmentation = "representative"
	// SegmentationAreaMass accepts a few broad region boxes with no
	// per-instance verification.
	SegmentationAreaMass Segmentation = "area_mass"
)

// Importance classifies how central a kind is to the image.
type Importance string

const (
	ImportancePrimary    Importance = "primary"
	ImportanceSecondary  Importance = "secondary"
	ImportanceBackground Importance = "background"
)

// Scope says whether a kind spans the whole image or only some quadrants.
type Scope string

const (
	ScopeFull      Scope = "full"
	ScopeSubregion Scope = "subregion"
)

// Kind is a discovered object category plus the detection-strategy metadata
// chosen for it. Kinds are immutable once discovery finishes.
type Kind struct {
	Label          string       `json:"label"`
	Category       string       `json:"category"`
	EstimatedCount CountClass   `json:"estimatedCount"`
	EstimatedSize  SizeClass    `json:"estimatedSize"`
	Segmentation   Segmentation `json:"segmentation"`
	Importance     Importance   `json:"importance"`
	Scope          Scope        `json:"scope"`
	Regions        []string     `json:"regions,omitempty"`
}

// Instance is one concrete detected object. Instances are created by region
// detection or a verification correction and mutated only by the global
// post-processor (alias merge, score and rank assignment).
type Instance struct {
	Label           string       `json:"label"`
	Type            string       `json:"type"`
	Box             geometry.Box `json:"box"`
	Aliases         []string     `json:"aliases,omitempty"`
	ImportanceScore float64      `json:"importanceScore,omitempty"`
	ImportanceRank  int          `json:"importanceRank,omitempty"`
}

// Family returns the canonical label family used for rarity counting.
func (in Instance) Family() string {
	return strings.ToLower(strings.TrimSpace(in.Label))
}

// HasAlias reports whether the instance already carries the given label,
// either as its primary label or as an alias.
func (in Instance) HasAlias(name string) bool {
	if strings.EqualFold(in.Label, name) {
		return true
	}
	for _, a := range in.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

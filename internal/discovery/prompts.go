package discovery

import (
	"fmt"
	"strings"

	"github.com/derekphilipau/deep-label/internal/inference"
)

const discoveryPrompt = `You are cataloguing every distinct kind of object visible in this image.

List each distinct object category you can see. For each kind report:
- label: a short singular noun phrase ("hound", "sailing ship", "window")
- category: a broad grouping ("animal", "person", "building", "vehicle", "plant", "object")
- estimated_count: few (1-3), moderate (4-10), many (11-40), very_many (40+)
- estimated_size: tiny, small, medium, large, or giant relative to the image
- segmentation: exhaustive if every individual instance should be boxed,
  representative if a small sample is enough (repetitive pattern-like objects),
  area_mass if the kind forms broad masses better boxed as regions (sky, foliage, crowd texture)
- importance: primary for subjects, secondary for supporting elements, background otherwise

Report kinds you are confident about. Do not invent objects.`

const quadrantDiscoveryPrompt = `You are cataloguing object kinds in one quadrant of a larger image. This crop shows the %s portion.

List each distinct object category visible in this crop, with the same fields:
label, category, estimated_count, estimated_size, segmentation, importance.
Count and size are relative to this crop only. Report only what is clearly visible.`

// quadrantNames maps the corner-quadrant label suffix to prose for the prompt.
var quadrantNames = map[string]string{
	"q00": "top-left",
	"q01": "top-right",
	"q10": "bottom-left",
	"q11": "bottom-right",
}

const reconcilePreamble = `Several independent passes catalogued object kinds in this image: one over the full image and one per overlapping corner quadrant. Their findings disagree and may contain artifacts (texture or pattern misreads that only full-image context rules out).

You are shown the full image. For every candidate kind below, decide:
- real: true if the kind is genuinely present in the image, false if it is an artifact
- quadrants: which quadrants (q00 top-left, q01 top-right, q10 bottom-left, q11 bottom-right) genuinely contain it; empty if it appears everywhere
- scope: "full" if the kind spans most of the image, "subregion" if it is confined to the listed quadrants

Candidate kinds:
`

// buildReconcilePrompt lists every per-scale finding for the reconciliation
// call.
func buildReconcilePrompt(full []inference.KindFinding, perQuadrant map[string][]inference.KindFinding) string {
	var b strings.Builder
	b.WriteString(reconcilePreamble)

	b.WriteString("\nFrom the full image:\n")
	writeFindings(&b, full)
	for _, q := range []string{"q00", "q01", "q10", "q11"} {
		findings, ok := perQuadrant[q]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\nFrom the %s quadrant (%s):\n", quadrantNames[q], q)
		writeFindings(&b, findings)
	}

	b.WriteString("\nReturn a verdict for every distinct label above.")
	return b.String()
}

func writeFindings(b *strings.Builder, findings []inference.KindFinding) {
	if len(findings) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, f := range findings {
		fmt.Fprintf(b, "- %s (%s, count %s, size %s, %s importance)\n",
			f.Label, f.Category, f.EstimatedCount, f.EstimatedSize, f.Importance)
	}
}

// discoverySchema is the response schema of a discovery call.
func discoverySchema() map[string]any {
	return inference.SchemaObject(map[string]any{
		"kinds": inference.SchemaArray(inference.SchemaObject(map[string]any{
			"label":           inference.SchemaString(),
			"category":        inference.SchemaString(),
			"estimated_count": inference.SchemaString("few", "moderate", "many", "very_many"),
			"estimated_size":  inference.SchemaString("tiny", "small", "medium", "large", "giant"),
			"segmentation":    inference.SchemaString("exhaustive", "representative", "area_mass"),
			"importance":      inference.SchemaString("primary", "secondary", "background"),
		}, "label", "category", "estimated_count", "estimated_size", "segmentation", "importance")),
	}, "kinds")
}

// reconcileSchema is the response schema of the reconciliation call.
func reconcileSchema() map[string]any {
	return inference.SchemaObject(map[string]any{
		"kinds": inference.SchemaArray(inference.SchemaObject(map[string]any{
			"label":     inference.SchemaString(),
			"real":      inference.SchemaBool(),
			"quadrants": inference.SchemaArray(inference.SchemaString("q00", "q01", "q10", "q11")),
			"scope":     inference.SchemaString("full", "subregion"),
		}, "label", "real", "scope")),
	}, "kinds")
}

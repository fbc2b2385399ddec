package detect

import (
	"fmt"

	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/label"
)

func detectPrompt(kind label.Kind, areaMassMax int) string {
	goal := "Box every individual instance you can see, even partially occluded ones."
	switch kind.Segmentation {
	case label.SegmentationRepresentative:
		goal = "Box a representative sample of clearly visible instances. Prefer large, unoccluded examples spread across the image."
	case label.SegmentationAreaMass:
		goal = fmt.Sprintf("Box the broad areas this kind occupies as at most %d large regions. Do not box individual instances.", areaMassMax)
	}
	return fmt.Sprintf(`Detect all instances of one object kind in this image.

Kind: %s (category: %s)

%s

Report each as a bounding box [xmin, ymin, xmax, ymax] in a normalized 0-1000 coordinate space over this image, with a short label. Only report this kind; ignore everything else. Return an empty list if none are present.`,
		kind.Label, kind.Category, goal)
}

func verifyPrompt(kind label.Kind, shown int) string {
	return fmt.Sprintf(`This image shows %d numbered boxes (badges 0 to %d) claiming to mark instances of: %s (category: %s).

Audit them:
- wrong: badge numbers that do not actually contain this kind
- corrections: badge numbers whose box is badly placed, with a replacement box [xmin, ymin, xmax, ymax] in normalized 0-1000 coordinates
- missing: instances of this kind present in the image but not boxed, as label plus box
- complete: true if, after your removals/corrections/additions, every instance is accounted for

Badge numbers refer to this image exactly as shown. Be conservative: only flag clear mistakes.`,
		shown, shown-1, kind.Label, kind.Category)
}

func countPrompt(kind label.Kind) string {
	return fmt.Sprintf(`Estimate how many distinct instances of this kind are visible in this image: %s (category: %s).

Return your best single-number estimate. A rough count is fine; do not enumerate.`,
		kind.Label, kind.Category)
}

func detectSchema() map[string]any {
	return inference.SchemaObject(map[string]any{
		"instances": inference.SchemaArray(inference.SchemaRawInstance()),
	}, "instances")
}

func verifySchema() map[string]any {
	return inference.SchemaObject(map[string]any{
		"wrong": inference.SchemaArray(inference.SchemaInt()),
		"corrections": inference.SchemaArray(inference.SchemaObject(map[string]any{
			"index":  inference.SchemaInt(),
			"box_2d": inference.SchemaBox(),
		}, "index", "box_2d")),
		"missing":  inference.SchemaArray(inference.SchemaRawInstance()),
		"complete": inference.SchemaBool(),
	}, "complete")
}

func countSchema() map[string]any {
	return inference.SchemaObject(map[string]any{
		"count": inference.SchemaInt(),
	}, "count")
}

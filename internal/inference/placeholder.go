package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/joshuarp/inference-api/internal/domain"
)

// NewPlaceholderRunners returns deterministic stand-in runners for every
// kind. Real model-backed runners (PaddleOCR, YOLOv8, BLIP, BLIP-2) live in
// separate services; these stubs keep the coordination layer runnable and
// testable without them.
func NewPlaceholderRunners() map[domain.Kind]Runner {
	return map[domain.Kind]Runner{
		domain.KindOCR:             RunnerFunc(runPlaceholderOCR),
		domain.KindObjectDetection: RunnerFunc(runPlaceholderDetection),
		domain.KindSceneCaption:    RunnerFunc(runPlaceholderCaption),
		domain.KindMultimodalLLM:   RunnerFunc(runPlaceholderMultimodal),
	}
}

func runPlaceholderOCR(ctx context.Context, resource string, params map[string]string) ([]byte, error) {
	result := domain.OCRResult{Text: "placeholder text", Confidence: 0.42}
	return json.Marshal(result)
}

func runPlaceholderDetection(ctx context.Context, resource string, params map[string]string) ([]byte, error) {
	threshold := 0.25
	if raw, ok := params["confidence_threshold"]; ok && raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("inference: invalid confidence_threshold %q: %w", raw, err)
		}
		threshold = parsed
	}

	objects := []domain.DetectedObject{
		{
			ClassName:  "person",
			Confidence: 0.91,
			BBox:       domain.BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.4, YMax: 0.9},
		},
	}

	filtered := objects[:0]
	for _, object := range objects {
		if object.Confidence >= threshold {
			filtered = append(filtered, object)
		}
	}

	result := domain.DetectionResult{Objects: filtered, TotalObjects: len(filtered)}
	return json.Marshal(result)
}

func runPlaceholderCaption(ctx context.Context, resource string, params map[string]string) ([]byte, error) {
	result := domain.CaptionResult{Caption: "a placeholder scene", Confidence: 0.5}
	return json.Marshal(result)
}

func runPlaceholderMultimodal(ctx context.Context, resource string, params map[string]string) ([]byte, error) {
	confidence := 0.5
	result := domain.MultimodalResult{
		Response:   "placeholder response for: " + params["prompt"],
		Confidence: &confidence,
	}
	return json.Marshal(result)
}

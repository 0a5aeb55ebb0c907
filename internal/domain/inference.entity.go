package domain

// Kind identifies an inference request family. Cache TTLs, lock keys and
// timeout budgets are all configured per kind.
type Kind string

const (
	KindOCR             Kind = "ocr"
	KindObjectDetection Kind = "object_detection"
	KindSceneCaption    Kind = "scene_caption"
	KindMultimodalLLM   Kind = "multimodal_llm"
)

// Kinds lists every supported inference kind.
func Kinds() []Kind {
	return []Kind{KindOCR, KindObjectDetection, KindSceneCaption, KindMultimodalLLM}
}

// Valid reports whether k is a supported inference kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOCR, KindObjectDetection, KindSceneCaption, KindMultimodalLLM:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// OCRResult is the payload produced by an OCR run.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// BoundingBox holds normalized (0-1) object coordinates.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// DetectedObject is a single detection with class, confidence and location.
type DetectedObject struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is the payload produced by an object-detection run.
type DetectionResult struct {
	Objects      []DetectedObject `json:"objects"`
	TotalObjects int              `json:"total_objects"`
}

// CaptionResult is the payload produced by a scene-captioning run.
type CaptionResult struct {
	Caption    string  `json:"caption"`
	Confidence float64 `json:"confidence"`
}

// MultimodalResult is the payload produced by a multimodal LLM run.
type MultimodalResult struct {
	Response   string   `json:"response"`
	Confidence *float64 `json:"confidence,omitempty"`
}

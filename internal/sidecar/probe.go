package sidecar

// Best-effort field probing over payload trees. Extraction never fails:
// absence yields zero values, and detection of operation type returns
// OpUnknown rather than an error, so a malformed payload can never abort
// a scan.

// DetectorKey binds a detector-specific payload key to the operation it
// implies. The table is configuration data so new detector identifiers
// can be added without touching extraction logic; on multiple matches the
// first entry in table order wins.
type DetectorKey struct {
	Key       string        `json:"key"`
	Operation OperationType `json:"operation"`
}

// DefaultDetectorKeys is the built-in detector key table.
func DefaultDetectorKeys() []DetectorKey {
	return []DetectorKey{
		{Key: "Face_detector", Operation: OpFaceDetection},
		{Key: "Object_detector", Operation: OpObjectDetection},
		{Key: "Ball_detector", Operation: OpBallDetection},
		{Key: "Quality_assessor", Operation: OpQualityAssessment},
		{Key: "Game_detector", Operation: OpGameDetection},
		{Key: "yolov8", Operation: OpYolov8},
	}
}

// Well-known payload keys probed during validation.
var (
	detectionArrayKeys = []string{"faces", "objects", "detections"}
	toolNameKeys       = []string{"tool_name", "detector", "model", "algorithm"}
	countNestingKeys   = []string{"data", "result", "detection"}
	toolNestingKeys    = []string{"data", "result", "metadata"}
	filterNestingKeys  = []string{"data", "result"}
	processingTimeKeys = []string{"processing_time", "processing_time_seconds"}
)

func asObject(v Value) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

// ExtractDetectionCount probes a count field, then detection arrays, then
// recurses into common nesting wrappers.
func ExtractDetectionCount(v Value) int {
	obj, ok := asObject(v)
	if !ok {
		return 0
	}
	if n, ok := obj["count"].(float64); ok && n >= 0 {
		return int(n)
	}
	for _, key := range detectionArrayKeys {
		if arr, ok := obj[key].([]any); ok {
			return len(arr)
		}
	}
	for _, key := range countNestingKeys {
		if nested, ok := obj[key]; ok {
			if n := ExtractDetectionCount(nested); n > 0 {
				return n
			}
		}
	}
	return 0
}

// ExtractToolName probes the well-known tool name fields, recursing into
// nesting wrappers. Returns "" when nothing matches.
func ExtractToolName(v Value) string {
	obj, ok := asObject(v)
	if !ok {
		return ""
	}
	for _, key := range toolNameKeys {
		if name, ok := obj[key].(string); ok && name != "" {
			return name
		}
	}
	for _, key := range toolNestingKeys {
		if nested, ok := obj[key]; ok {
			if name := ExtractToolName(nested); name != "" {
				return name
			}
		}
	}
	return ""
}

// ExtractOperation reads sidecar_info.operation_type when present, then
// falls back to the detector key table.
func ExtractOperation(v Value, table []DetectorKey) OperationType {
	obj, ok := asObject(v)
	if !ok {
		return OpUnknown
	}
	if info, ok := asObject(obj["sidecar_info"]); ok {
		if token, ok := info["operation_type"].(string); ok {
			return ParseOperationType(token)
		}
	}
	for _, entry := range table {
		if _, ok := obj[entry.Key]; ok {
			return entry.Operation
		}
	}
	return OpUnknown
}

// ExtractProcessingTime probes for a per-operation processing time in
// seconds, recursing into nesting wrappers. The second return reports
// whether a value was found.
func ExtractProcessingTime(v Value) (float64, bool) {
	obj, ok := asObject(v)
	if !ok {
		return 0, false
	}
	for _, key := range processingTimeKeys {
		if t, ok := obj[key].(float64); ok {
			return t, true
		}
	}
	for _, key := range countNestingKeys {
		if nested, ok := obj[key]; ok {
			if t, found := ExtractProcessingTime(nested); found {
				return t, true
			}
		}
	}
	return 0, false
}

// ContainsOperation reports whether the payload references the operation
// token, either as a top-level key, in sidecar_info.operation_type, or
// inside a nesting wrapper.
func ContainsOperation(v Value, token string) bool {
	obj, ok := asObject(v)
	if !ok {
		return false
	}
	if _, ok := obj[token]; ok {
		return true
	}
	if info, ok := asObject(obj["sidecar_info"]); ok {
		if op, ok := info["operation_type"].(string); ok && op == token {
			return true
		}
	}
	for _, key := range filterNestingKeys {
		if nested, ok := obj[key]; ok {
			if ContainsOperation(nested, token) {
				return true
			}
		}
	}
	return false
}

package sidecar

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the sidecar engine. Batch operations record these
// per item; single-target operations return them wrapped with path context.
var (
	ErrFormatDetection   = errors.New("format detection failed")
	ErrSidecarNotFound   = errors.New("sidecar file not found")
	ErrImageNotFound     = errors.New("image file not found")
	ErrSymlinkResolution = errors.New("symlink resolution failed")
	ErrInvalidOperation  = errors.New("invalid operation type")
)

// OperationType identifies the pipeline operation that produced a sidecar
// payload. It serializes to a fixed lowercase token.
type OperationType string

const (
	OpFaceDetection     OperationType = "face_detection"
	OpObjectDetection   OperationType = "object_detection"
	OpBallDetection     OperationType = "ball_detection"
	OpQualityAssessment OperationType = "quality_assessment"
	OpGameDetection     OperationType = "game_detection"
	OpYolov8            OperationType = "yolov8"
	OpUnified           OperationType = "unified"
	OpUnknown           OperationType = "unknown"
)

// ParseOperationType maps a token to its OperationType. Unrecognized input
// maps to OpUnknown; scans must never abort on an unexpected token.
func ParseOperationType(s string) OperationType {
	switch OperationType(s) {
	case OpFaceDetection, OpObjectDetection, OpBallDetection,
		OpQualityAssessment, OpGameDetection, OpYolov8, OpUnified:
		return OperationType(s)
	default:
		return OpUnknown
	}
}

func (o OperationType) String() string { return string(o) }

// SymlinkInfo describes the symlink resolution performed for an image path.
type SymlinkInfo struct {
	SymlinkPath string `json:"symlink_path"`
	TargetPath  string `json:"target_path"`
	IsSymlink   bool   `json:"is_symlink"`
	Broken      bool   `json:"broken"`
}

// SidecarInfo is a query-time projection of a resolved image/sidecar
// association. The persisted truth is the sidecar file's bytes on disk;
// SidecarInfo is rebuilt fresh on every resolution or creation call.
type SidecarInfo struct {
	ID             uuid.UUID     `json:"id"`
	ImagePath      string        `json:"image_path"`
	SidecarPath    string        `json:"sidecar_path"`
	Operation      OperationType `json:"operation"`
	Symlink        *SymlinkInfo  `json:"symlink_info,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUpdated    time.Time     `json:"last_updated"`
	DataSize       int64         `json:"data_size"`
	IsValid        bool          `json:"is_valid"`
	ProcessingTime *float64      `json:"processing_time,omitempty"`
}

// NewSidecarInfo builds an unvalidated association. IsValid stays false
// until the payload has been loaded and decoded successfully.
func NewSidecarInfo(imagePath, sidecarPath string, op OperationType, symlink *SymlinkInfo) *SidecarInfo {
	now := time.Now().UTC()
	return &SidecarInfo{
		ID:          uuid.New(),
		ImagePath:   imagePath,
		SidecarPath: sidecarPath,
		Operation:   op,
		Symlink:     symlink,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// ValidationResult is produced exactly once per candidate file scanned,
// including failures. Error cases carry zero counts and an error message.
type ValidationResult struct {
	FilePath       string        `json:"file_path"`
	IsValid        bool          `json:"is_valid"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime float64       `json:"processing_time"`
	FileSize       int64         `json:"file_size"`
	DetectionCount int           `json:"detection_count"`
	ToolName       string        `json:"tool_name,omitempty"`
	Operation      OperationType `json:"operation,omitempty"`
}

// ValidationSuccess builds a valid result; detection fields are filled in
// by the caller after probing the payload.
func ValidationSuccess(path string, elapsed float64, size int64) ValidationResult {
	return ValidationResult{
		FilePath:       path,
		IsValid:        true,
		ProcessingTime: elapsed,
		FileSize:       size,
	}
}

// ValidationError builds a failed result carrying the elapsed time and a
// descriptive message.
func ValidationError(path string, err error, elapsed float64) ValidationResult {
	return ValidationResult{
		FilePath:       path,
		ProcessingTime: elapsed,
		Error:          err.Error(),
	}
}

// StatisticsResult aggregates sidecar coverage and per-operation measures
// over one directory tree.
type StatisticsResult struct {
	Directory          string             `json:"directory"`
	TotalImages        int                `json:"total_images"`
	SymlinkCount       int                `json:"symlink_count"`
	BrokenSymlinks     int                `json:"broken_symlinks"`
	TotalSidecars      int                `json:"total_sidecars"`
	CoveragePercentage float64            `json:"coverage_percentage"`
	OperationCounts    map[string]int     `json:"operation_counts"`
	AvgProcessingTimes map[string]float64 `json:"avg_processing_times"`
	SuccessRates       map[string]float64 `json:"success_rate_percentages"`
	AvgDataSizes       map[string]float64 `json:"avg_data_sizes"`
	FilterApplied      string             `json:"filter_applied,omitempty"`
	Sidecars           []*SidecarInfo     `json:"sidecars"`
}

// NewStatisticsResult initializes an empty aggregate for a directory.
func NewStatisticsResult(dir string) *StatisticsResult {
	return &StatisticsResult{
		Directory:          dir,
		OperationCounts:    make(map[string]int),
		AvgProcessingTimes: make(map[string]float64),
		SuccessRates:       make(map[string]float64),
		AvgDataSizes:       make(map[string]float64),
		Sidecars:           []*SidecarInfo{},
	}
}

package parallel

import "github.com/sportball/sidecar/internal/sidecar"

// ValidationSummary aggregates a validation batch. Counts are always
// definite, even when every item failed.
type ValidationSummary struct {
	TotalFiles          int                         `json:"total_files"`
	ValidFiles          int                         `json:"valid_files"`
	InvalidFiles        int                         `json:"invalid_files"`
	ValidPercentage     float64                     `json:"valid_percentage"`
	InvalidPercentage   float64                     `json:"invalid_percentage"`
	TotalProcessingTime float64                     `json:"total_processing_time"`
	AvgProcessingTime   float64                     `json:"avg_processing_time"`
	TotalFileSize       int64                       `json:"total_file_size"`
	AvgFileSize         float64                     `json:"avg_file_size"`
	Operations          map[string]OperationSummary `json:"operation_stats"`
}

// OperationSummary breaks a batch down by detected operation type.
type OperationSummary struct {
	Count             int     `json:"count"`
	ValidCount        int     `json:"valid_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	AvgFileSize       float64 `json:"avg_file_size"`
}

// Summarize folds validation results into batch totals and a
// per-operation breakdown.
func Summarize(results []sidecar.ValidationResult) ValidationSummary {
	summary := ValidationSummary{
		TotalFiles: len(results),
		Operations: make(map[string]OperationSummary),
	}

	type opAccum struct {
		count     int
		valid     int
		totalTime float64
		totalSize int64
	}
	ops := make(map[string]*opAccum)

	for _, r := range results {
		if r.IsValid {
			summary.ValidFiles++
		}
		summary.TotalProcessingTime += r.ProcessingTime
		summary.TotalFileSize += r.FileSize

		if r.Operation == "" {
			continue
		}
		acc, ok := ops[r.Operation.String()]
		if !ok {
			acc = &opAccum{}
			ops[r.Operation.String()] = acc
		}
		acc.count++
		if r.IsValid {
			acc.valid++
		}
		acc.totalTime += r.ProcessingTime
		acc.totalSize += r.FileSize
	}

	summary.InvalidFiles = summary.TotalFiles - summary.ValidFiles
	if summary.TotalFiles > 0 {
		total := float64(summary.TotalFiles)
		summary.ValidPercentage = float64(summary.ValidFiles) / total * 100.0
		summary.InvalidPercentage = float64(summary.InvalidFiles) / total * 100.0
		summary.AvgProcessingTime = summary.TotalProcessingTime / total
		summary.AvgFileSize = float64(summary.TotalFileSize) / total
	}

	for op, acc := range ops {
		summary.Operations[op] = OperationSummary{
			Count:             acc.count,
			ValidCount:        acc.valid,
			SuccessRate:       float64(acc.valid) / float64(acc.count) * 100.0,
			AvgProcessingTime: acc.totalTime / float64(acc.count),
			AvgFileSize:       float64(acc.totalSize) / float64(acc.count),
		}
	}
	return summary
}

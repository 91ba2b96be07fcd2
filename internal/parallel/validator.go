package parallel

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sportball/sidecar/internal/sidecar"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Validator inspects sidecar files in bulk. Files are evaluated
// independently with no shared mutable state: each worker reads one file
// and writes one result slot, so a single file's I/O error can never
// stall or poison the batch.
type Validator struct {
	workers      int
	registry     *sidecar.Registry
	detectorKeys []sidecar.DetectorKey
}

// NewValidator builds a validator with a bounded worker count. A count
// below one falls back to the host CPU core count.
func NewValidator(workers int) *Validator {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Validator{
		workers:      workers,
		registry:     sidecar.NewRegistry(),
		detectorKeys: sidecar.DefaultDetectorKeys(),
	}
}

// ValidateDirectory enumerates every file with a sidecar extension under
// dir and validates each in parallel. Every sidecar file found gets a
// result, whether or not an image still exists for it.
func (v *Validator) ValidateDirectory(ctx context.Context, dir string) ([]sidecar.ValidationResult, error) {
	files, err := findSidecarFiles(dir)
	if err != nil {
		return nil, err
	}
	return v.ValidateFiles(ctx, files), nil
}

// ValidateFiles validates the given paths with the bounded worker pool.
// Exactly one result is produced per input path, in input order. Failures
// at any stage are captured in the result and never propagate.
func (v *Validator) ValidateFiles(ctx context.Context, paths []string) []sidecar.ValidationResult {
	if len(paths) == 0 {
		return nil
	}

	results := make([]sidecar.ValidationResult, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < v.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = v.validateOne(paths[i])
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	logutil.GetLogger(ctx).Debug("validation batch finished",
		zap.Int("files", len(paths)),
		zap.Int("workers", v.workers))
	return results
}

// FilterByOperation keeps paths whose payload references the operation
// token. A file that cannot be read or parsed is conservatively included:
// filtering must never hide a file that downstream validation should see.
func (v *Validator) FilterByOperation(ctx context.Context, paths []string, token string) []string {
	if len(paths) == 0 {
		return nil
	}

	keep := make([]bool, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < v.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				keep[i] = v.matchesOperation(paths[i], token)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]string, 0, len(paths))
	for i, path := range paths {
		if keep[i] {
			out = append(out, path)
		}
	}
	return out
}

func (v *Validator) validateOne(path string) sidecar.ValidationResult {
	start := time.Now()

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sidecar.ValidationError(path, errors.New("file does not exist"), elapsed(start))
		}
		return sidecar.ValidationError(path, err, elapsed(start))
	}
	size := fi.Size()

	data, err := os.ReadFile(path)
	if err != nil {
		return sidecar.ValidationError(path, err, elapsed(start))
	}

	format, ok := sidecar.FormatFromPath(path)
	if !ok {
		format = sidecar.FormatJSON
	}
	value, err := v.registry.Get(format).Decode(data)
	if err != nil {
		result := sidecar.ValidationError(path, err, elapsed(start))
		result.FileSize = size
		return result
	}

	result := sidecar.ValidationSuccess(path, elapsed(start), size)
	result.DetectionCount = sidecar.ExtractDetectionCount(value)
	result.ToolName = sidecar.ExtractToolName(value)
	result.Operation = sidecar.ExtractOperation(value, v.detectorKeys)
	return result
}

func (v *Validator) matchesOperation(path, token string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	format, ok := sidecar.FormatFromPath(path)
	if !ok {
		format = sidecar.FormatJSON
	}
	value, err := v.registry.Get(format).Decode(data)
	if err != nil {
		return true
	}
	return sidecar.ContainsOperation(value, token)
}

func findSidecarFiles(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if sidecar.IsSidecarPath(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}

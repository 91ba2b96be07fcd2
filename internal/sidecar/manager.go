package sidecar

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// DefaultImageExtensions are the image file extensions recognized during
// directory scans, lowercase and without dots.
var DefaultImageExtensions = []string{"jpg", "jpeg", "png", "tiff", "bmp", "webp"}

// Options configures a Manager. Zero fields fall back to defaults, so the
// zero Options is usable.
type Options struct {
	DefaultFormat   Format
	ImageExtensions []string
	DetectorKeys    []DetectorKey
}

// Manager resolves, creates, merges, converts and audits sidecar files
// across a directory tree. It holds no persistent state beyond its
// configuration; every query re-reads the file system.
//
// Writes against the same sidecar path are not safe from multiple
// concurrent callers. Single writer per path is the caller's contract.
type Manager struct {
	registry      *Registry
	imageExts     []string
	detectorKeys  []DetectorKey
	defaultFormat Format
}

// NewManager builds a Manager from options.
func NewManager(opts Options) *Manager {
	m := &Manager{
		registry:      NewRegistry(),
		imageExts:     opts.ImageExtensions,
		detectorKeys:  opts.DetectorKeys,
		defaultFormat: opts.DefaultFormat,
	}
	if len(m.imageExts) == 0 {
		m.imageExts = DefaultImageExtensions
	}
	if len(m.detectorKeys) == 0 {
		m.detectorKeys = DefaultDetectorKeys()
	}
	if m.defaultFormat == "" {
		m.defaultFormat = DefaultFormat
	}
	return m
}

// Registry exposes the codec registry backing this manager.
func (m *Manager) Registry() *Registry { return m.registry }

// DefaultFormat returns the format used for new sidecar files.
func (m *Manager) DefaultFormat() Format { return m.defaultFormat }

// SetDefaultFormat changes the format used for new sidecar files. Not
// safe concurrently with writers; prefer setting it through Options.
func (m *Manager) SetDefaultFormat(f Format) { m.defaultFormat = f }

// Resolve maps an image path to its sidecar under the format priority
// rule. A missing image resolves to nil with no error. Load failure does
// not fail resolution: the returned info has IsValid=false.
func (m *Manager) Resolve(ctx context.Context, imagePath string) (*SidecarInfo, error) {
	if _, err := os.Lstat(imagePath); err != nil {
		return nil, nil
	}

	target, symlink, err := resolveSymlink(imagePath)
	if err != nil {
		return nil, err
	}

	for _, format := range formatPriority {
		sidecarPath := sidecarPathFor(target, format)
		if _, err := os.Stat(sidecarPath); err != nil {
			continue
		}
		info := NewSidecarInfo(imagePath, sidecarPath, m.detectOperation(sidecarPath), symlink)
		m.loadInto(info)
		return info, nil
	}
	return nil, nil
}

// ResolveAll walks the directory tree, resolving a sidecar for every
// image found, then runs a pattern-based pass recovering suffix-tagged
// sidecars whose naming does not mirror the image stem. Results are
// deduplicated by sidecar path: symlink chains sharing a target yield a
// single entry.
func (m *Manager) ResolveAll(ctx context.Context, dir string) ([]*SidecarInfo, error) {
	logger := logutil.GetLogger(ctx)

	images, err := m.findImages(dir)
	if err != nil {
		return nil, err
	}

	claimed := make(map[string]struct{})
	sidecars := make([]*SidecarInfo, 0, len(images))
	for _, image := range images {
		info, err := m.Resolve(ctx, image)
		if err != nil {
			logger.Warn("resolve failed, skipping image",
				zap.String("image", image), zap.Error(err))
			continue
		}
		if info == nil {
			continue
		}
		if _, ok := claimed[info.SidecarPath]; ok {
			continue
		}
		claimed[info.SidecarPath] = struct{}{}
		sidecars = append(sidecars, info)
	}

	pattern, err := m.patternSidecars(dir, claimed)
	if err != nil {
		return nil, err
	}
	sidecars = append(sidecars, pattern...)
	return sidecars, nil
}

// Create writes a new sidecar for the image in the manager's default
// format. Create-or-overwrite; no merge is attempted.
func (m *Manager) Create(ctx context.Context, imagePath string, op OperationType, payload Value) (*SidecarInfo, error) {
	return m.CreateWithFormat(ctx, imagePath, op, payload, m.defaultFormat)
}

// CreateWithFormat writes a new sidecar in an explicit format. The
// payload is wrapped in an envelope carrying creation metadata, and the
// sidecar path is built from the symlink-resolved target.
func (m *Manager) CreateWithFormat(ctx context.Context, imagePath string, op OperationType, payload Value, format Format) (*SidecarInfo, error) {
	if op == "" || op == OpUnknown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if _, err := os.Lstat(imagePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, imagePath)
	}

	target, symlink, err := resolveSymlink(imagePath)
	if err != nil {
		return nil, err
	}

	envelope := map[string]any{
		"sidecar_info": map[string]any{
			"operation_type": op.String(),
			"created_at":     time.Now().UTC().Format(time.RFC3339),
			"image_path":     target,
			"symlink_path":   imagePath,
			"symlink_info":   symlinkValue(symlink),
		},
		"data": payload,
	}

	sidecarPath := sidecarPathFor(target, format)
	data, err := m.registry.Get(format).Encode(envelope)
	if err != nil {
		return nil, fmt.Errorf("create sidecar %s: %w", sidecarPath, err)
	}
	if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write sidecar %s: %w", sidecarPath, err)
	}

	info := NewSidecarInfo(imagePath, sidecarPath, op, symlink)
	info.DataSize = int64(len(data))
	info.IsValid = true
	return info, nil
}

// SaveMerge merges one operation's payload into the image's sidecar.
// Merging is pinned to the binary format regardless of the configured
// default. Repeated calls accumulate sibling top-level operation keys in
// one file; each call is a single whole-file replace.
func (m *Manager) SaveMerge(ctx context.Context, imagePath string, op OperationType, payload Value) (*SidecarInfo, error) {
	if op == "" || op == OpUnknown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if _, err := os.Lstat(imagePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, imagePath)
	}

	target, symlink, err := resolveSymlink(imagePath)
	if err != nil {
		return nil, err
	}

	sidecarPath := sidecarPathFor(target, FormatBinary)

	// A corrupt existing payload degrades to an empty object instead of
	// blocking the update.
	merged := map[string]any{}
	if _, err := os.Stat(sidecarPath); err == nil {
		if existing, _, err := m.loadValue(sidecarPath); err == nil {
			if obj, ok := asObject(existing); ok {
				merged = obj
			}
		}
	}

	merged[op.String()] = payload

	now := time.Now().UTC().Format(time.RFC3339)
	if info, ok := asObject(merged["sidecar_info"]); ok {
		info["last_updated"] = now
		info["last_operation"] = op.String()
	} else {
		merged["sidecar_info"] = map[string]any{
			"created_at":     now,
			"last_updated":   now,
			"last_operation": op.String(),
			"image_path":     target,
			"symlink_path":   imagePath,
			"symlink_info":   symlinkValue(symlink),
		}
	}

	data, err := m.registry.Get(FormatBinary).Encode(merged)
	if err != nil {
		return nil, fmt.Errorf("merge sidecar %s: %w", sidecarPath, err)
	}
	if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write sidecar %s: %w", sidecarPath, err)
	}

	info := NewSidecarInfo(imagePath, sidecarPath, op, symlink)
	info.DataSize = int64(len(data))
	info.IsValid = true
	return info, nil
}

// ConvertFile re-encodes one sidecar under the target format, writing the
// new path before deleting the old one. A file already at the target
// format is returned unchanged.
func (m *Manager) ConvertFile(ctx context.Context, path string, target Format) (string, error) {
	current, ok := FormatFromPath(path)
	if !ok {
		current = FormatJSON
	}
	if current == target {
		return path, nil
	}

	v, _, err := m.loadValue(path)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", path, err)
	}

	data, err := m.registry.Get(target).Encode(v)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", path, err)
	}

	newPath := sidecarPathFor(path, target)
	if err := os.WriteFile(newPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write converted %s: %w", newPath, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove old sidecar %s: %w", path, err)
	}
	return newPath, nil
}

// ConvertDirectory converts every sidecar file in the tree that is not
// already at the target format. Per-file failures are logged and skipped;
// one bad file never aborts the batch. Returns the converted count.
func (m *Manager) ConvertDirectory(ctx context.Context, dir string, target Format) (int, error) {
	logger := logutil.GetLogger(ctx)

	files, err := m.findSidecars(dir)
	if err != nil {
		return 0, err
	}

	converted := 0
	for _, path := range files {
		current, ok := FormatFromPath(path)
		if !ok {
			current = FormatJSON
		}
		if current == target {
			continue
		}
		newPath, err := m.ConvertFile(ctx, path, target)
		if err != nil {
			logger.Warn("convert failed, skipping",
				zap.String("path", path), zap.Error(err))
			continue
		}
		converted++
		logger.Debug("converted sidecar",
			zap.String("from", path),
			zap.String("to", newPath),
			zap.String("format", string(target)))
	}
	return converted, nil
}

// CleanupOrphaned deletes sidecar files that have no matching image of
// any known extension. The delete is unconditional; use OrphanedSidecars
// for a dry run. Returns the number of files removed.
func (m *Manager) CleanupOrphaned(ctx context.Context, dir string) (int, error) {
	logger := logutil.GetLogger(ctx)

	orphans, err := m.OrphanedSidecars(ctx, dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range orphans {
		if err := os.Remove(path); err != nil {
			logger.Warn("remove orphaned sidecar failed",
				zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
		logger.Info("removed orphaned sidecar", zap.String("path", path))
	}
	return removed, nil
}

// OrphanedSidecars returns the sidecar files CleanupOrphaned would
// delete, using the same image stem derivation, without deleting them.
func (m *Manager) OrphanedSidecars(ctx context.Context, dir string) ([]string, error) {
	files, err := m.findSidecars(dir)
	if err != nil {
		return nil, err
	}

	orphans := make([]string, 0)
	for _, path := range files {
		if m.imageForSidecar(path) == "" {
			orphans = append(orphans, path)
		}
	}
	return orphans, nil
}

// Statistics resolves all sidecars and aggregates coverage and
// per-operation measures for the directory.
func (m *Manager) Statistics(ctx context.Context, dir string) (*StatisticsResult, error) {
	stats := NewStatisticsResult(dir)

	sidecars, err := m.ResolveAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	images, err := m.findImages(dir)
	if err != nil {
		return nil, err
	}

	for _, image := range images {
		fi, err := os.Lstat(image)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			continue
		}
		stats.SymlinkCount++
		if _, err := os.Stat(image); err != nil {
			stats.BrokenSymlinks++
		}
	}

	times := make(map[string][]float64)
	sizes := make(map[string][]int64)
	valid := make(map[string]int)
	for _, sc := range sidecars {
		op := sc.Operation.String()
		stats.OperationCounts[op]++
		if sc.ProcessingTime != nil {
			times[op] = append(times[op], *sc.ProcessingTime)
		}
		sizes[op] = append(sizes[op], sc.DataSize)
		if sc.IsValid {
			valid[op]++
		}
	}
	for op, list := range times {
		stats.AvgProcessingTimes[op] = meanFloat(list)
	}
	for op, list := range sizes {
		total := int64(0)
		for _, n := range list {
			total += n
		}
		stats.AvgDataSizes[op] = float64(total) / float64(len(list))
	}
	for op, count := range stats.OperationCounts {
		stats.SuccessRates[op] = float64(valid[op]) / float64(count) * 100.0
	}

	stats.TotalImages = len(images)
	stats.TotalSidecars = len(sidecars)
	if stats.TotalImages > 0 {
		stats.CoveragePercentage = float64(stats.TotalSidecars) / float64(stats.TotalImages) * 100.0
	}
	stats.Sidecars = sidecars
	return stats, nil
}

// FormatStatistics counts sidecar files per format across the tree.
// Files with a sidecar extension always map to a format, so the count
// covers every file found.
func (m *Manager) FormatStatistics(ctx context.Context, dir string) (map[Format]int, error) {
	files, err := m.findSidecars(dir)
	if err != nil {
		return nil, err
	}

	counts := make(map[Format]int)
	for _, path := range files {
		format, ok := FormatFromPath(path)
		if !ok {
			format = FormatJSON
		}
		counts[format]++
	}
	return counts, nil
}

// LoadPayload loads and decodes a sidecar payload, detecting the format
// from the extension with content sniffing as fallback.
func (m *Manager) LoadPayload(ctx context.Context, sidecarPath string) (Value, error) {
	if _, err := os.Stat(sidecarPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSidecarNotFound, sidecarPath)
	}
	v, _, err := m.loadValue(sidecarPath)
	return v, err
}

// loadValue reads and decodes a sidecar file. Extension wins; sniffing is
// the fallback for unrecognized extensions, then a last-resort JSON parse.
func (m *Manager) loadValue(path string) (Value, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read sidecar %s: %w", path, err)
	}

	if format, ok := FormatFromPath(path); ok {
		v, err := m.registry.Get(format).Decode(data)
		if err != nil {
			return nil, format, fmt.Errorf("decode sidecar %s: %w", path, err)
		}
		return v, format, nil
	}

	if format, err := m.registry.DetectContent(data); err == nil {
		v, err := m.registry.Get(format).Decode(data)
		if err != nil {
			return nil, format, fmt.Errorf("decode sidecar %s: %w", path, err)
		}
		return v, format, nil
	}

	v, err := (jsonCodec{}).Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	return v, FormatJSON, nil
}

// loadInto loads the payload behind info, marking it valid and recording
// its size and processing time on success. Load failure leaves the info
// unvalidated; resolution and validation are decoupled.
func (m *Manager) loadInto(info *SidecarInfo) {
	data, err := os.ReadFile(info.SidecarPath)
	if err != nil {
		return
	}
	v, _, err := m.loadValue(info.SidecarPath)
	if err != nil {
		return
	}
	info.DataSize = int64(len(data))
	info.IsValid = true
	if t, ok := ExtractProcessingTime(v); ok {
		info.ProcessingTime = &t
	}
}

// detectOperation is best-effort; any failure yields OpUnknown.
func (m *Manager) detectOperation(sidecarPath string) OperationType {
	v, _, err := m.loadValue(sidecarPath)
	if err != nil {
		return OpUnknown
	}
	return ExtractOperation(v, m.detectorKeys)
}

// patternSidecars recovers sidecars whose file name carries the image
// stem as the token after the last underscore. Only files not already
// claimed by the image-driven pass are considered.
func (m *Manager) patternSidecars(dir string, claimed map[string]struct{}) ([]*SidecarInfo, error) {
	files, err := m.findSidecars(dir)
	if err != nil {
		return nil, err
	}

	out := make([]*SidecarInfo, 0)
	for _, path := range files {
		if _, ok := claimed[path]; ok {
			continue
		}
		image := m.imageForSidecar(path)
		if image == "" {
			continue
		}
		info := NewSidecarInfo(image, path, m.detectOperation(path), nil)
		m.loadInto(info)
		claimed[path] = struct{}{}
		out = append(out, info)
	}
	return out, nil
}

// imageForSidecar derives the candidate image stem from the sidecar file
// name (token after the last underscore) and probes each known image
// extension next to the sidecar. Returns "" when no image exists.
func (m *Manager) imageForSidecar(sidecarPath string) string {
	base := filepath.Base(sidecarPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if idx := strings.LastIndex(stem, "_"); idx >= 0 {
		stem = stem[idx+1:]
	}
	if stem == "" {
		return ""
	}

	dir := filepath.Dir(sidecarPath)
	for _, ext := range m.imageExts {
		candidate := filepath.Join(dir, stem+"."+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findImages walks the tree for files whose extension identifies them as
// images. Symlinks are included; broken ones are counted by Statistics.
func (m *Manager) findImages(dir string) ([]string, error) {
	images := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		for _, known := range m.imageExts {
			if ext == known {
				images = append(images, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return images, nil
}

// findSidecars walks the tree for files carrying a sidecar extension.
func (m *Manager) findSidecars(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if IsSidecarPath(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// sidecarPathFor replaces the path's extension with the format's.
func sidecarPathFor(path string, f Format) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + f.Extension()
}

// symlinkValue renders SymlinkInfo as a payload object, or nil.
func symlinkValue(s *SymlinkInfo) Value {
	if s == nil {
		return nil
	}
	return map[string]any{
		"symlink_path": s.SymlinkPath,
		"target_path":  s.TargetPath,
		"is_symlink":   s.IsSymlink,
		"broken":       s.Broken,
	}
}

func meanFloat(list []float64) float64 {
	if len(list) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range list {
		total += v
	}
	return total / float64(len(list))
}

package sidecar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
}

func writeSidecarFixture(t *testing.T, m *Manager, path string, format Format, raw string) {
	t.Helper()
	data, err := m.Registry().Get(format).Encode(decodeJSON(t, raw))
	require.NoError(t, err)
	writeFixture(t, path, data)
}

func TestResolveFormatPriority(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	image := filepath.Join(dir, "match.jpg")
	writeFixture(t, image, []byte("jpg"))
	writeSidecarFixture(t, m, filepath.Join(dir, "match.json"), FormatJSON, `{"a":1}`)
	writeSidecarFixture(t, m, filepath.Join(dir, "match.bin"), FormatBinary, `{"a":1}`)

	info, err := m.Resolve(context.Background(), image)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, filepath.Join(dir, "match.bin"), info.SidecarPath)
	assert.True(t, info.IsValid)
	assert.Greater(t, info.DataSize, int64(0))
}

func TestResolveMissingImage(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	info, err := m.Resolve(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"))
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestResolveCorruptSidecarStaysInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	image := filepath.Join(dir, "bad.jpg")
	writeFixture(t, image, []byte("jpg"))
	writeFixture(t, filepath.Join(dir, "bad.json"), []byte(`{"broken":`))

	// Resolution and validation are decoupled: the association is still
	// returned, just unvalidated.
	info, err := m.Resolve(context.Background(), image)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.False(t, info.IsValid)
	assert.Equal(t, OpUnknown, info.Operation)
}

func TestResolveAllDedupsSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	target := filepath.Join(dir, "shared.jpg")
	writeFixture(t, target, []byte("jpg"))
	writeSidecarFixture(t, m, filepath.Join(dir, "shared.bin"), FormatBinary, `{"count":1}`)
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "alias1.jpg")))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "alias2.jpg")))

	sidecars, err := m.ResolveAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, sidecars, 1)
	assert.Equal(t, filepath.Join(dir, "shared.bin"), sidecars[0].SidecarPath)
}

func TestResolveAllPatternPass(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	writeFixture(t, filepath.Join(dir, "photo1.jpg"), []byte("jpg"))
	writeSidecarFixture(t, m, filepath.Join(dir, "face_detection_photo1.json"),
		FormatJSON, `{"Face_detector":{"faces":[{}]}}`)

	sidecars, err := m.ResolveAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, sidecars, 1)
	assert.Equal(t, filepath.Join(dir, "photo1.jpg"), sidecars[0].ImagePath)
	assert.Equal(t, OpFaceDetection, sidecars[0].Operation)
	assert.True(t, sidecars[0].IsValid)
}

func TestCreateWritesEnvelope(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	image := filepath.Join(dir, "img.jpg")
	writeFixture(t, image, []byte("jpg"))

	info, err := m.CreateWithFormat(context.Background(), image, OpObjectDetection,
		decodeJSON(t, `{"objects":[{"cls":"ball"}]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "img.json"), info.SidecarPath)
	assert.True(t, info.IsValid)

	payload, err := m.LoadPayload(context.Background(), info.SidecarPath)
	require.NoError(t, err)
	obj, ok := payload.(map[string]any)
	require.True(t, ok)

	meta, ok := obj["sidecar_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object_detection", meta["operation_type"])
	assert.NotEmpty(t, meta["created_at"])
	assert.Equal(t, image, meta["image_path"])

	data, ok := obj["data"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, data["objects"], 1)
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	image := filepath.Join(dir, "img.jpg")
	writeFixture(t, image, []byte("jpg"))
	ctx := context.Background()

	_, err := m.Create(ctx, image, OpUnknown, decodeJSON(t, `{}`))
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = m.SaveMerge(ctx, filepath.Join(dir, "absent.jpg"), OpFaceDetection, decodeJSON(t, `{}`))
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestCreateResolvesSymlinkTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	target := filepath.Join(dir, "real.jpg")
	writeFixture(t, target, []byte("jpg"))
	link := filepath.Join(dir, "link.jpg")
	require.NoError(t, os.Symlink(target, link))

	info, err := m.Create(context.Background(), link, OpFaceDetection, decodeJSON(t, `{}`))
	require.NoError(t, err)

	// The sidecar lands next to the resolved target so all links share it.
	assert.Equal(t, filepath.Join(dir, "real.bin"), info.SidecarPath)
	require.NotNil(t, info.Symlink)
	assert.True(t, info.Symlink.IsSymlink)
	assert.False(t, info.Symlink.Broken)
	assert.Equal(t, target, info.Symlink.TargetPath)
}

func TestSaveMergeAccumulatesOperations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// Merge is pinned to the binary format even with a JSON default.
	m := NewManager(Options{DefaultFormat: FormatJSON})
	image := filepath.Join(dir, "game.jpg")
	writeFixture(t, image, []byte("jpg"))

	ctx := context.Background()
	_, err := m.SaveMerge(ctx, image, OpFaceDetection, decodeJSON(t, `{"faces":[{},{}]}`))
	require.NoError(t, err)
	info, err := m.SaveMerge(ctx, image, OpYolov8, decodeJSON(t, `{"detections":[{}]}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "game.bin"), info.SidecarPath)

	payload, err := m.LoadPayload(ctx, info.SidecarPath)
	require.NoError(t, err)
	obj, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, obj, "face_detection")
	assert.Contains(t, obj, "yolov8")

	meta, ok := obj["sidecar_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "yolov8", meta["last_operation"])
	assert.NotEmpty(t, meta["last_updated"])
}

func TestSaveMergeDegradesOnCorruptExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	image := filepath.Join(dir, "hurt.jpg")
	writeFixture(t, image, []byte("jpg"))
	writeFixture(t, filepath.Join(dir, "hurt.bin"), []byte("garbage, not an envelope"))

	info, err := m.SaveMerge(context.Background(), image, OpBallDetection, decodeJSON(t, `{"count":1}`))
	require.NoError(t, err)

	payload, err := m.LoadPayload(context.Background(), info.SidecarPath)
	require.NoError(t, err)
	obj := payload.(map[string]any)
	assert.Contains(t, obj, "ball_detection")
	assert.Contains(t, obj, "sidecar_info")
}

func TestConvertDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	ctx := context.Background()
	for _, name := range []string{"one", "two"} {
		image := filepath.Join(dir, name+".jpg")
		writeFixture(t, image, []byte("jpg"))
		_, err := m.CreateWithFormat(ctx, image, OpGameDetection, decodeJSON(t, `{"count":2}`), FormatJSON)
		require.NoError(t, err)
	}

	converted, err := m.ConvertDirectory(ctx, dir, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, 2, converted)

	for _, name := range []string{"one", "two"} {
		assert.NoFileExists(t, filepath.Join(dir, name+".json"))
		assert.FileExists(t, filepath.Join(dir, name+".bin"))

		payload, err := m.LoadPayload(ctx, filepath.Join(dir, name+".bin"))
		require.NoError(t, err)
		assert.Contains(t, payload.(map[string]any), "data")
	}

	// Converting again is an idempotent no-op.
	converted, err = m.ConvertDirectory(ctx, dir, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, 0, converted)
}

func TestConvertFileAlreadyAtTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	path := filepath.Join(dir, "same.json")
	writeSidecarFixture(t, m, path, FormatJSON, `{"a":1}`)

	got, err := m.ConvertFile(context.Background(), path, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.FileExists(t, path)
}

func TestConvertDirectorySkipsBadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	writeSidecarFixture(t, m, filepath.Join(dir, "good.json"), FormatJSON, `{"a":1}`)
	writeFixture(t, filepath.Join(dir, "bad.json"), []byte(`{"broken":`))

	// One bad file must never abort the batch.
	converted, err := m.ConvertDirectory(context.Background(), dir, FormatBinary)
	require.NoError(t, err)
	assert.Equal(t, 1, converted)
	assert.FileExists(t, filepath.Join(dir, "good.bin"))
	assert.FileExists(t, filepath.Join(dir, "bad.json"))
}

func TestCleanupOrphaned(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	writeFixture(t, filepath.Join(dir, "valid.jpg"), []byte("jpg"))
	writeSidecarFixture(t, m, filepath.Join(dir, "valid.json"), FormatJSON, `{"a":1}`)
	writeSidecarFixture(t, m, filepath.Join(dir, "orphan.json"), FormatJSON, `{"a":1}`)

	ctx := context.Background()

	orphans, err := m.OrphanedSidecars(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "orphan.json")}, orphans)
	assert.FileExists(t, filepath.Join(dir, "orphan.json"), "dry run must not delete")

	removed, err := m.CleanupOrphaned(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "orphan.json"))
	assert.FileExists(t, filepath.Join(dir, "valid.json"))
}

func TestStatisticsCoverage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	ctx := context.Background()
	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		image := filepath.Join(dir, name+".jpg")
		writeFixture(t, image, []byte("jpg"))
		writeSidecarFixture(t, m, filepath.Join(dir, name+".bin"), FormatBinary,
			`{"sidecar_info":{"operation_type":"face_detection"},"processing_time":0.5}`)
	}

	stats, err := m.Statistics(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalImages)
	assert.Equal(t, 5, stats.TotalSidecars)
	assert.Equal(t, 100.0, stats.CoveragePercentage)
	assert.Equal(t, 5, stats.OperationCounts["face_detection"])
	assert.Equal(t, 0.5, stats.AvgProcessingTimes["face_detection"])
	assert.Equal(t, 100.0, stats.SuccessRates["face_detection"])
	assert.Greater(t, stats.AvgDataSizes["face_detection"], 0.0)
	assert.Len(t, stats.Sidecars, 5)
}

func TestStatisticsEmptyDirectory(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	stats, err := m.Statistics(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalImages)
	// Never divide by zero.
	assert.Equal(t, 0.0, stats.CoveragePercentage)
}

func TestStatisticsCountsBrokenSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	target := filepath.Join(dir, "real.jpg")
	writeFixture(t, target, []byte("jpg"))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "ok.jpg")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.jpg"), filepath.Join(dir, "dangling.jpg")))

	stats, err := m.Statistics(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalImages)
	assert.Equal(t, 2, stats.SymlinkCount)
	assert.Equal(t, 1, stats.BrokenSymlinks)
}

func TestFormatStatistics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	writeSidecarFixture(t, m, filepath.Join(dir, "a.json"), FormatJSON, `{}`)
	writeSidecarFixture(t, m, filepath.Join(dir, "b.json"), FormatJSON, `{}`)
	writeSidecarFixture(t, m, filepath.Join(dir, "c.bin"), FormatBinary, `{}`)

	counts, err := m.FormatStatistics(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[FormatJSON])
	assert.Equal(t, 1, counts[FormatBinary])
	assert.Equal(t, 0, counts[FormatRkyv])
}

func TestResolveSymlinkBrokenStillResolves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	link := filepath.Join(dir, "dangling.jpg")
	missing := filepath.Join(dir, "missing.jpg")
	require.NoError(t, os.Symlink(missing, link))

	target, info, err := resolveSymlink(link)
	require.NoError(t, err)
	assert.Equal(t, missing, target)
	require.NotNil(t, info)
	assert.True(t, info.Broken)
}

func TestLoadPayloadSniffsUnknownExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(Options{})
	data, err := m.Registry().Get(FormatBinary).Encode(decodeJSON(t, `{"count":9}`))
	require.NoError(t, err)
	path := filepath.Join(dir, "mystery.dat")
	writeFixture(t, path, data)

	payload, err := m.LoadPayload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 9, ExtractDetectionCount(payload))
}

package sidecar

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies an on-disk sidecar encoding.
type Format string

const (
	// FormatJSON is human-readable text.
	FormatJSON Format = "json"
	// FormatBinary is a length-prefixed binary envelope around the
	// canonical text rendering. Compact and fast to reject on sniffing.
	FormatBinary Format = "bin"
	// FormatRkyv is reserved for a zero-copy encoding. Today it shares
	// the binary envelope; see rkyvCodec.
	FormatRkyv Format = "rkyv"
)

// DefaultFormat is used for new sidecar files when no format is configured.
const DefaultFormat = FormatBinary

// formatPriority is the probe order used during resolution. Binary-family
// formats are preferred for decode speed.
var formatPriority = []Format{FormatBinary, FormatRkyv, FormatJSON}

// FormatPriority returns the resolution probe order, most preferred first.
func FormatPriority() []Format {
	out := make([]Format, len(formatPriority))
	copy(out, formatPriority)
	return out
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string { return string(f) }

// IsBinary reports whether the format is part of the binary family.
func (f Format) IsBinary() bool { return f == FormatBinary || f == FormatRkyv }

// Description returns a short human-readable label for CLI output.
func (f Format) Description() string {
	switch f {
	case FormatJSON:
		return "JSON (human-readable, slower)"
	case FormatBinary:
		return "Binary (fast, compact)"
	case FormatRkyv:
		return "Rkyv (zero-copy placeholder)"
	default:
		return string(f)
	}
}

// FormatFromExtension maps a file extension (with or without leading dot)
// to a Format. The second return is false for unrecognized extensions.
func FormatFromExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json":
		return FormatJSON, true
	case "bin":
		return FormatBinary, true
	case "rkyv":
		return FormatRkyv, true
	default:
		return "", false
	}
}

// FormatFromPath detects the format from a file path's extension.
func FormatFromPath(path string) (Format, bool) {
	return FormatFromExtension(filepath.Ext(path))
}

// ParseFormat parses a user-supplied format token, accepting the "binary"
// alias used by the CLI.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "bin", "binary":
		return FormatBinary, nil
	case "rkyv":
		return FormatRkyv, nil
	default:
		return "", fmt.Errorf("unsupported format %q, supported: json, bin, rkyv", s)
	}
}

// IsSidecarPath reports whether the path carries one of the sidecar
// extensions.
func IsSidecarPath(path string) bool {
	_, ok := FormatFromPath(path)
	return ok
}

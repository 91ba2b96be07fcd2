package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveSymlink resolves an image path that may be a symlink. Sidecar
// operations always address the resolved target, never the link itself,
// so multiple links pointing at one image share one sidecar.
//
// A broken link (target missing) still resolves: the target path is
// returned as the resolution basis with Broken set. Only an unreadable
// link fails.
func resolveSymlink(path string) (string, *SymlinkInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return path, nil, nil
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return path, nil, nil
	}

	target, err := os.Readlink(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrSymlinkResolution, path, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}

	broken := false
	if _, err := os.Stat(target); err != nil {
		broken = true
	}
	return target, &SymlinkInfo{
		SymlinkPath: path,
		TargetPath:  target,
		IsSymlink:   true,
		Broken:      broken,
	}, nil
}

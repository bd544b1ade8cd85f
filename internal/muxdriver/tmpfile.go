package muxdriver

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// tmpfsMagic is the statfs f_type value for tmpfs on Linux.
const tmpfsMagic = 0x01021994

// TmpfsDir returns a writable shared-memory-backed directory for
// snapshot scratch files, falling back to the standard temp directory
// when no tmpfs mount is writable.
func TmpfsDir() string {
	for _, candidate := range []string{"/dev/shm", "/run/shm"} {
		if isTmpfs(candidate) && writable(candidate) {
			return candidate
		}
	}
	return os.TempDir()
}

func isTmpfs(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return int64(st.Type) == tmpfsMagic
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".wr-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o600)
}

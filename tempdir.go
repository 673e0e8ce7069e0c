package rccar

import (
	"os"
)

// TempDir returns either a temporary directory in /dev/shm (if it exists), or
// otherwise in the OS default temporary directory. Camera recorders write
// frames here, so keeping it in memory saves wear on the SD card.
func TempDir() (string, error) {
	// Check if /dev/shm exists first. Don't want to accidentially create a
	// directory in /dev (if someones runs this as root).
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "rccar")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "rccar")
}

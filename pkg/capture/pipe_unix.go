//go:build unix

package capture

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreatePipe creates a named pipe at path, reusing an existing one, and
// opens it for writing. It blocks until a reader such as
// `wireshark -k -i path` connects.
func CreatePipe(path string) (*os.File, error) {
	err := unix.Mkfifo(path, 0600)
	if err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("mkfifo: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, statErr
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			return nil, fmt.Errorf("%s exists and is not a named pipe", path)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open pipe: %w", err)
	}
	return f, nil
}

// RemovePipe deletes a pipe made by CreatePipe
func RemovePipe(path string) {
	os.Remove(path)
}

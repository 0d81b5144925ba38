//go:build !unix

package capture

import (
	"fmt"
	"os"
)

// CreatePipe is not supported on this platform
func CreatePipe(_ string) (*os.File, error) {
	return nil, fmt.Errorf("named pipes are not supported on this platform")
}

// RemovePipe is a no-op on this platform
func RemovePipe(_ string) {}

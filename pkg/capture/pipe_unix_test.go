//go:build unix

package capture

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ts0710-go/pkg/mux"
)

func TestCreatePipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmux.fifo")

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	ready := make(chan struct{})
	go func() {
		// Wait for the fifo to exist, then play the part of Wireshark
		<-ready
		f, err := os.Open(path)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		done <- result{data: data, err: err}
	}()

	created := make(chan struct {
		f   *os.File
		err error
	}, 1)
	go func() {
		f, err := CreatePipe(path)
		created <- struct {
			f   *os.File
			err error
		}{f, err}
	}()

	require.Eventually(t, func() bool {
		info, err := os.Stat(path)
		return err == nil && info.Mode()&os.ModeNamedPipe != 0
	}, 2*time.Second, 10*time.Millisecond)
	close(ready)

	c := <-created
	require.NoError(t, c.err)

	tap, err := NewTap(c.f, nil)
	require.NoError(t, err)
	tap.TapFrame(mux.DirectionRx, []byte{0xF9, 0x03, 0x73, 0x01, 0xD7, 0xF9})
	require.NoError(t, tap.Close())

	r := <-done
	require.NoError(t, r.err)
	recs := readRecords(t, r.data)
	require.Len(t, recs, 1)
	assert.Equal(t, DirRx, recs[0].dir)

	RemovePipe(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCreatePipeRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err := CreatePipe(path)
	assert.Error(t, err)
}

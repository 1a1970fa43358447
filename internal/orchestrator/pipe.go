package orchestrator

import (
	"io"
	"os"
)

func openMap(path string) (*os.File, error) {
	return os.Open(path)
}

// newPipe connects the Enumerator's writer directly to the Loader's
// reader without ever buffering the whole .raw stream in memory,
// matching spec.md §4.3's "lazy finite byte stream" requirement across
// the enumerate/load boundary.
func newPipe() (*io.PipeReader, *io.PipeWriter) {
	return io.Pipe()
}

//go:build !opus

package audioconv

import (
	"fmt"
	"io"
)

func decodeOggOpus(io.ReadSeeker, int) ([]float32, error) {
	return nil, fmt.Errorf("%w: ogg/opus needs -tags opus", ErrUnsupported)
}

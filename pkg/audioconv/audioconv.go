// Package audioconv decodes audio files into mono float32 PCM at a target
// sample rate, and converts between float and 16-bit little-endian PCM.
package audioconv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for containers or codecs we cannot decode.
var ErrUnsupported = errors.New("audioconv: unsupported format")

type Options struct {
	SampleRate int // target rate, 16000 when zero
	MaxSamples int // 0 = no limit
}

func (o Options) rate() int {
	if o.SampleRate <= 0 {
		return 16000
	}
	return o.SampleRate
}

// Decode reads wav, mp3, ogg/vorbis or ogg/opus from path. Opus needs the
// binary built with -tags opus.
func Decode(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var x []float32
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		x, err = decodeWAV(f, opt.rate())
	case ".mp3":
		x, err = decodeMP3(f, opt.rate())
	case ".ogg", ".oga", ".opus":
		x, err = decodeOgg(f, opt.rate())
	default:
		x, err = sniff(f, opt.rate())
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x, nil
}

func sniff(f io.ReadSeeker, rate int) ([]float32, error) {
	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic) {
	case "RIFF":
		return decodeWAV(f, rate)
	case "OggS":
		return decodeOgg(f, rate)
	}
	return nil, ErrUnsupported
}

func decodeOgg(f io.ReadSeeker, rate int) ([]float32, error) {
	x, err := decodeOggVorbis(f, rate)
	if err == nil {
		return x, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	x, oerr := decodeOggOpus(f, rate)
	if oerr != nil {
		return nil, fmt.Errorf("not vorbis (%v) nor opus: %w", err, oerr)
	}
	return x, nil
}

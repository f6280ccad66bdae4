// Package recognize turns a stream of PCM frames into utterances.
//
// A Recognizer buffers speech, detects the end of an utterance from trailing
// silence (or a length cap), and hands the buffered audio to a Decoder. It is
// driven by exactly one goroutine; nothing here is safe for concurrent use.
//
// Decoders work on whole utterances, so partial results carry no text. They
// only mean the frame was consumed; Buffered reports how much speech is held.
package recognize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"aria/pkg/audioconv"
)

// ErrRecognition wraps decoder failures. The utterance is lost but the
// recognizer stays usable.
var ErrRecognition = errors.New("recognition failed")

// Result is either an advisory partial or a final utterance. A final with
// empty Text means nothing was understood.
type Result struct {
	Text  string
	Final bool
}

// Decoder transcribes mono float32 samples in [-1, 1].
type Decoder interface {
	Decode(samples []float32) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func([]float32) (string, error)

func (f DecoderFunc) Decode(samples []float32) (string, error) { return f(samples) }

type Config struct {
	SampleRate int
	// SilenceRMS is the energy (16-bit sample scale) below which a frame
	// counts as silence.
	SilenceRMS float64
	// EndpointSilence is the trailing silence that ends an utterance.
	EndpointSilence time.Duration
	// MaxUtterance forces an endpoint on long speech.
	MaxUtterance time.Duration
}

var DefaultConfig = Config{
	SampleRate:      16000,
	SilenceRMS:      300,
	EndpointSilence: 600 * time.Millisecond,
	MaxUtterance:    15 * time.Second,
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultConfig.SampleRate
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = DefaultConfig.SilenceRMS
	}
	if c.EndpointSilence <= 0 {
		c.EndpointSilence = DefaultConfig.EndpointSilence
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultConfig.MaxUtterance
	}
	return c
}

type Recognizer struct {
	dec Decoder
	cfg Config

	buf       []byte
	hadSpeech bool
	silence   time.Duration
}

func New(dec Decoder, cfg Config) *Recognizer {
	return &Recognizer{dec: dec, cfg: cfg.withDefaults()}
}

// Accept consumes one frame of 16-bit little-endian mono PCM. It returns a
// final result at an endpoint and an empty partial otherwise.
func (r *Recognizer) Accept(pcm []byte) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, nil
	}

	if rms(pcm) < r.cfg.SilenceRMS {
		if !r.hadSpeech {
			return Result{}, nil
		}
		r.buf = append(r.buf, pcm...)
		r.silence += r.duration(len(pcm))
		if r.silence >= r.cfg.EndpointSilence {
			return r.finish()
		}
		return Result{}, nil
	}

	r.hadSpeech = true
	r.silence = 0
	r.buf = append(r.buf, pcm...)
	if r.duration(len(r.buf)) >= r.cfg.MaxUtterance {
		return r.finish()
	}
	return Result{}, nil
}

// Flush ends the current utterance now and resets all buffers. It always
// returns a final, empty when no speech was buffered.
func (r *Recognizer) Flush() (Result, error) {
	return r.finish()
}

// Buffered is the duration of audio held for the current utterance.
func (r *Recognizer) Buffered() time.Duration {
	return r.duration(len(r.buf))
}

func (r *Recognizer) finish() (Result, error) {
	pcm, speech := r.buf, r.hadSpeech
	r.reset()

	if !speech || len(pcm) == 0 {
		return Result{Final: true}, nil
	}

	text, err := r.dec.Decode(audioconv.PCM16ToFloat32(pcm))
	if err != nil {
		return Result{Final: true}, fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	return Result{Text: strings.TrimSpace(text), Final: true}, nil
}

func (r *Recognizer) reset() {
	r.buf = nil
	r.hadSpeech = false
	r.silence = 0
}

func (r *Recognizer) duration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(r.cfg.SampleRate)
}

func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

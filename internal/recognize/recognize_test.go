package recognize

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

// 100 ms at 16 kHz
const frameSamples = 1600

func frame(amplitude int16) []byte {
	b := make([]byte, frameSamples*2)
	for i := 0; i < frameSamples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

var (
	speech  = frame(4000)
	silence = frame(0)
)

type fakeDecoder struct {
	calls   int
	samples int
	text    string
	err     error
}

func (d *fakeDecoder) Decode(x []float32) (string, error) {
	d.calls++
	d.samples = len(x)
	return d.text, d.err
}

func newTestRecognizer(dec Decoder) *Recognizer {
	return New(dec, Config{
		SampleRate:      16000,
		EndpointSilence: 300 * time.Millisecond,
		MaxUtterance:    time.Second,
	})
}

func TestAccept_SilenceOnlyNeverDecodes(t *testing.T) {
	dec := &fakeDecoder{text: "ghost"}
	r := newTestRecognizer(dec)

	for i := 0; i < 20; i++ {
		res, err := r.Accept(silence)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if res.Final {
			t.Fatalf("silence produced a final at frame %d", i)
		}
	}
	if dec.calls != 0 {
		t.Fatalf("decoder called %d times on silence", dec.calls)
	}
}

func TestAccept_EndpointAfterTrailingSilence(t *testing.T) {
	dec := &fakeDecoder{text: "  what time is it "}
	r := newTestRecognizer(dec)

	for i := 0; i < 3; i++ {
		if res, _ := r.Accept(speech); res.Final {
			t.Fatal("final during speech")
		}
	}
	if res, _ := r.Accept(silence); res.Final {
		t.Fatal("final after 100ms silence")
	}
	if res, _ := r.Accept(silence); res.Final {
		t.Fatal("final after 200ms silence")
	}
	res, err := r.Accept(silence)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Final || res.Text != "what time is it" {
		t.Fatalf("result = %+v, want trimmed final", res)
	}
	if dec.samples != 6*frameSamples {
		t.Fatalf("decoded %d samples, want %d", dec.samples, 6*frameSamples)
	}
	if r.Buffered() != 0 {
		t.Fatalf("buffer not reset after endpoint: %v", r.Buffered())
	}
}

func TestAccept_MaxUtteranceForcesEndpoint(t *testing.T) {
	dec := &fakeDecoder{text: "long"}
	r := newTestRecognizer(dec)

	var finals int
	for i := 0; i < 10; i++ {
		res, err := r.Accept(speech)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if res.Final {
			finals++
			if i != 9 {
				t.Fatalf("forced endpoint at frame %d, want 9", i)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("finals = %d, want 1", finals)
	}
}

func TestFlush(t *testing.T) {
	t.Run("with speech", func(t *testing.T) {
		dec := &fakeDecoder{text: "turn on the lights"}
		r := newTestRecognizer(dec)
		_, _ = r.Accept(speech)

		res, err := r.Flush()
		if err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if !res.Final || res.Text != "turn on the lights" {
			t.Fatalf("Flush = %+v", res)
		}

		// buffers are reset
		res, _ = r.Flush()
		if res.Text != "" || !res.Final {
			t.Fatalf("second Flush = %+v, want empty final", res)
		}
		if dec.calls != 1 {
			t.Fatalf("decoder calls = %d, want 1", dec.calls)
		}
	})

	t.Run("empty", func(t *testing.T) {
		dec := &fakeDecoder{text: "x"}
		r := newTestRecognizer(dec)
		res, err := r.Flush()
		if err != nil || !res.Final || res.Text != "" {
			t.Fatalf("Flush = %+v, %v; want empty final", res, err)
		}
		if dec.calls != 0 {
			t.Fatal("decoder called with no audio")
		}
	})
}

func TestDecoderFailureIsRecognitionError(t *testing.T) {
	dec := &fakeDecoder{err: errors.New("model crashed")}
	r := newTestRecognizer(dec)
	_, _ = r.Accept(speech)

	res, err := r.Flush()
	if !errors.Is(err, ErrRecognition) {
		t.Fatalf("err = %v, want ErrRecognition", err)
	}
	if res.Text != "" {
		t.Fatalf("text on failure = %q", res.Text)
	}

	// still usable afterwards
	dec.err, dec.text = nil, "ok"
	_, _ = r.Accept(speech)
	res, err = r.Flush()
	if err != nil || res.Text != "ok" {
		t.Fatalf("after failure: %+v, %v", res, err)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(silence); got != 0 {
		t.Fatalf("rms(silence) = %v", got)
	}
	if got := rms(speech); got != 4000 {
		t.Fatalf("rms(speech) = %v, want 4000", got)
	}
	if got := rms([]byte{1}); got != 0 {
		t.Fatalf("rms(odd byte) = %v", got)
	}
}

func TestAccept_PartialsCarryNoTextWhileBuffering(t *testing.T) {
	dec := &fakeDecoder{text: "hello"}
	r := newTestRecognizer(dec)

	for i := 1; i <= 3; i++ {
		res, err := r.Accept(speech)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if res.Final || res.Text != "" {
			t.Fatalf("partial = %+v, want empty non-final", res)
		}
		if want := time.Duration(i) * 100 * time.Millisecond; r.Buffered() != want {
			t.Fatalf("Buffered = %v, want %v", r.Buffered(), want)
		}
	}
	if dec.calls != 0 {
		t.Fatalf("decoder ran %d times before an endpoint", dec.calls)
	}
}

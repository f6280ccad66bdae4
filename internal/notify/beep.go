// Package notify plays short audio cues.
package notify

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Earcon is a decoded mp3 cue kept in memory and replayed on demand.
type Earcon struct {
	buf *beep.Buffer

	mu      sync.Mutex
	playing bool
}

var speakerOnce sync.Once

// Load decodes path once and initializes the speaker for its sample rate.
func Load(path string) (*Earcon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open earcon: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode earcon: %w", err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)

	var initErr error
	speakerOnce.Do(func() {
		initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if initErr != nil {
		return nil, fmt.Errorf("init speaker: %w", initErr)
	}

	return &Earcon{buf: buf}, nil
}

// Play starts the cue without waiting for it. Overlapping calls are
// collapsed into the one already playing.
func (e *Earcon) Play() {
	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = true
	e.mu.Unlock()

	s := e.buf.Streamer(0, e.buf.Len())
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
	})))
}

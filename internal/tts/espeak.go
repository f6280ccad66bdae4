// Package tts drives espeak-ng through cgo.
package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
tts_init(const char *voice, int rate)
{
	if (espeak_Initialize(AUDIO_OUTPUT_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	if (voice && voice[0] && espeak_SetVoiceByName(voice) != EE_OK)
	{ return -2; }

	if (rate > 0 && espeak_SetParameter(espeakRATE, rate, 0) != EE_OK)
	{ return -3; }

	return 0;
}

static int
tts_say(const char *text)
{
	if (!text)
	{ return -1; }

	return espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
			espeakCHARS_AUTO, NULL, NULL);
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

const (
	DefaultVoice = "en+f3"
	DefaultRate  = 170
)

// Espeak implements speech.Engine. espeak-ng has a single global
// synthesizer, so only one Espeak should exist per process.
type Espeak struct {
	mu sync.Mutex
}

func NewEspeak(voice string, rate int) (*Espeak, error) {
	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	switch rc := C.tts_init(cvoice, C.int(rate)); rc {
	case 0:
	case -1:
		return nil, fmt.Errorf("espeak: initialize failed")
	case -2:
		C.espeak_Terminate()
		return nil, fmt.Errorf("espeak: unknown voice %q", voice)
	default:
		C.espeak_Terminate()
		return nil, fmt.Errorf("espeak: set rate %d failed", rate)
	}
	return &Espeak{}, nil
}

// Say queues text and waits for playback. Cancelling ctx stops the audio
// immediately.
func (e *Espeak) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.tts_say(ctext); rc != C.EE_OK {
		return fmt.Errorf("espeak_Synth failed: %d", int(rc))
	}

	done := make(chan struct{})
	go func() {
		C.espeak_Synchronize()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		C.espeak_Cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Espeak) Close() error {
	C.espeak_Terminate()
	return nil
}

package cascading

import (
	"context"
	"sync"
	"time"

	iface "github.com/beluga-voice/agentrt/provider/iface"
)

// BackgroundAudioConfig configures a looping filler clip played into the
// room while the agent composes a reply, grounded on the "thinking sound"
// played between user-speech-end and the first TTS audio byte.
type BackgroundAudioConfig struct {
	// PCM is the PCM16 clip looped into the room. Empty PCM disables
	// background audio even if WithBackgroundAudio is set.
	PCM []byte

	// ChunkSize is the number of bytes written to the sink per tick.
	// Defaults to 640 (20ms of 16kHz mono PCM16).
	ChunkSize int

	// Interval is the delay between ticks. Defaults to 10ms.
	Interval time.Duration
}

// backgroundAudio loops a short PCM clip into a sink until stopped. It is
// started when a response begins generating and stopped as soon as the
// agent actually has something to say (first TTS audio byte) or is
// interrupted.
type backgroundAudio struct {
	cfg BackgroundAudioConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	playing bool
}

func newBackgroundAudio(cfg BackgroundAudioConfig) *backgroundAudio {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 640
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	return &backgroundAudio{cfg: cfg}
}

// start begins looping the clip into sink, if not already playing.
func (b *backgroundAudio) start(sink iface.AudioSink) {
	if b == nil || len(b.cfg.PCM) == 0 || sink == nil {
		return
	}
	b.mu.Lock()
	if b.playing {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.playing = true
	b.mu.Unlock()

	go b.loop(ctx, sink)
}

// stop cancels the loop and waits for it to exit. Safe to call repeatedly
// and from multiple goroutines racing to stop the same clip (barge-in,
// first-audio-byte, and turn teardown may all call it).
func (b *backgroundAudio) stop() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if !b.playing {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	b.playing = false
	b.mu.Unlock()

	cancel()
	<-done
}

func (b *backgroundAudio) loop(ctx context.Context, sink iface.AudioSink) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	offset := 0
	clipLen := len(b.cfg.PCM)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			end := offset + b.cfg.ChunkSize
			var chunk []byte
			if end <= clipLen {
				chunk = b.cfg.PCM[offset:end]
				offset = end % clipLen
			} else {
				chunk = make([]byte, 0, b.cfg.ChunkSize)
				chunk = append(chunk, b.cfg.PCM[offset:]...)
				for len(chunk) < b.cfg.ChunkSize {
					chunk = append(chunk, b.cfg.PCM...)
				}
				chunk = chunk[:b.cfg.ChunkSize]
				offset = (offset + b.cfg.ChunkSize) % clipLen
			}
			if err := sink.AddBytes(chunk); err != nil {
				return
			}
		}
	}
}

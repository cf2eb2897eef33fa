package client

import (
	"context"
	"sync"
	"time"
)

// LevelSource yields the instantaneous level of a live audio capture,
// normalized to [0, 1].
type LevelSource interface {
	Level() float64
}

const (
	monitorInterval = 50 * time.Millisecond

	// noiseGate is the floor below which a level counts as silence. Gated
	// levels are rescaled so the audible range still spans [0, 1].
	noiseGate = 0.10
)

// LevelMonitor samples a LevelSource on a fixed interval. Volume ticks are
// continuous; speaking callbacks fire only on silence/speech transitions.
// Stop/Start cycles are safe, including across source swaps.
type LevelMonitor struct {
	onVolume   func(float64)
	onSpeaking func(bool)

	mu       sync.Mutex
	src      LevelSource
	cancel   context.CancelFunc
	speaking bool
}

func NewLevelMonitor(src LevelSource, onVolume func(float64), onSpeaking func(bool)) *LevelMonitor {
	return &LevelMonitor{src: src, onVolume: onVolume, onSpeaking: onSpeaking}
}

func (m *LevelMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
}

// Stop halts sampling. A speaking=false transition is emitted if the monitor
// stopped mid-speech, so observers never stay stuck on speaking.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	wasSpeaking := m.speaking
	m.speaking = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasSpeaking && m.onSpeaking != nil {
		m.onSpeaking(false)
	}
}

// SetSource swaps the sampled capture in place, e.g. on a device switch.
func (m *LevelMonitor) SetSource(src LevelSource) {
	m.mu.Lock()
	m.src = src
	m.mu.Unlock()
}

func (m *LevelMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *LevelMonitor) sample() {
	m.mu.Lock()
	src := m.src
	m.mu.Unlock()
	if src == nil {
		return
	}

	level := gateLevel(src.Level())
	if m.onVolume != nil {
		m.onVolume(level)
	}

	speaking := level > 0
	m.mu.Lock()
	changed := speaking != m.speaking
	m.speaking = speaking
	m.mu.Unlock()
	if changed && m.onSpeaking != nil {
		m.onSpeaking(speaking)
	}
}

func gateLevel(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	if raw <= noiseGate {
		return 0
	}
	return (raw - noiseGate) / (1 - noiseGate)
}

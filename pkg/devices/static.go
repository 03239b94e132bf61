package devices

import (
	"context"
	"sync"
)

// StaticBackend serves a fixed inventory and synthetic tracks. It backs the
// CLI lobby and dev deployments where no real capture layer exists.
type StaticBackend struct {
	inv Inventory

	mu   sync.Mutex
	open int
}

// NewStaticBackend creates a backend over a fixed inventory.
func NewStaticBackend(inv Inventory) *StaticBackend {
	return &StaticBackend{inv: inv}
}

// DefaultInventory 开发环境使用的占位设备清单
func DefaultInventory() Inventory {
	return Inventory{
		Cameras: []Device{
			{ID: "cam-default", Label: "Integrated Camera", Kind: KindCamera},
		},
		Microphones: []Device{
			{ID: "mic-default", Label: "Internal Microphone", Kind: KindMicrophone},
		},
		Speakers: []Device{
			{ID: "spk-default", Label: "Internal Speakers", Kind: KindSpeaker},
		},
	}
}

func (b *StaticBackend) Enumerate(context.Context) (Inventory, error) {
	return b.inv, nil
}

func (b *StaticBackend) OpenTrack(_ context.Context, kind Kind, deviceID string) (Track, error) {
	if deviceID != "" && !b.knows(kind, deviceID) {
		return nil, ErrNoDevice
	}
	b.mu.Lock()
	b.open++
	b.mu.Unlock()
	return &staticTrack{backend: b, kind: kind, deviceID: deviceID}, nil
}

// OpenTracks reports how many synthetic tracks are currently live.
func (b *StaticBackend) OpenTracks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *StaticBackend) knows(kind Kind, deviceID string) bool {
	var pool []Device
	switch kind {
	case KindCamera:
		pool = b.inv.Cameras
	case KindMicrophone:
		pool = b.inv.Microphones
	case KindSpeaker:
		pool = b.inv.Speakers
	}
	for _, d := range pool {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}

type staticTrack struct {
	backend  *StaticBackend
	kind     Kind
	deviceID string

	mu      sync.Mutex
	stopped bool
}

func (t *staticTrack) DeviceID() string { return t.deviceID }
func (t *staticTrack) Kind() Kind       { return t.kind }

func (t *staticTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	t.backend.mu.Lock()
	t.backend.open--
	t.backend.mu.Unlock()
}

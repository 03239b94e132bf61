// Package devices handles the lobby preflight: enumerating capture devices,
// holding a local preview stream and translating the user's toggles into the
// audio/video flags the join call carries.
//
// A denied permission or a missing device never blocks the join; the affected
// kind degrades to disabled and the user enters the meeting muted or without
// video. Every acquired track is released on every exit path, including
// cancellation and errors, not just the successful join.
package devices

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Kind 设备种类
type Kind string

const (
	KindCamera     Kind = "camera"
	KindMicrophone Kind = "microphone"
	KindSpeaker    Kind = "speaker"
)

var (
	// ErrPermissionDenied is returned by backends when the platform refuses
	// access. The session treats it as a degradation, not a failure.
	ErrPermissionDenied = errors.New("device permission denied")
	ErrNoDevice         = errors.New("no such device")
	ErrSessionClosed    = errors.New("device session closed")
)

// Device 一个可选择的本地设备
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Inventory 探测到的全部设备
type Inventory struct {
	Cameras     []Device `json:"cameras"`
	Microphones []Device `json:"microphones"`
	Speakers    []Device `json:"speakers"`
}

// Track is a live local media stream held during the preview. Stop must be
// idempotent; the session may call it during teardown after an earlier stop.
type Track interface {
	DeviceID() string
	Kind() Kind
	Stop()
}

// Backend abstracts the platform media layer so the negotiation logic can be
// exercised without hardware.
type Backend interface {
	Enumerate(ctx context.Context) (Inventory, error)
	// OpenTrack acquires a live stream from one device. deviceID may be empty
	// to pick the platform default.
	OpenTrack(ctx context.Context, kind Kind, deviceID string) (Track, error)
}

// Selection 用户在大厅选择的设备组合；空 ID 表示系统默认
type Selection struct {
	CameraID     string
	MicrophoneID string
	SpeakerID    string
}

// trackState is one kind's slot in the session. A slot can hold a live track
// (enabled), a stopped-but-selected device (disabled) or a degraded marker
// after a permission failure.
type trackState struct {
	deviceID string
	track    Track
	enabled  bool
	degraded bool
}

// Session owns the lobby preview. Exactly one per join attempt; Close releases
// every acquired track.
type Session struct {
	backend Backend
	log     *slog.Logger

	mu     sync.Mutex
	slots  map[Kind]*trackState
	closed bool
}

// NewSession creates an idle session. Nothing is acquired until Preview.
func NewSession(backend Backend, log *slog.Logger) (*Session, error) {
	if backend == nil {
		return nil, errors.New("device backend required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		backend: backend,
		log:     log,
		slots:   map[Kind]*trackState{},
	}, nil
}

// Probe enumerates the available devices. A permission failure yields an
// empty inventory rather than an error so the lobby can still render.
func (s *Session) Probe(ctx context.Context) (Inventory, error) {
	inv, err := s.backend.Enumerate(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.log.Warn("device enumeration denied, continuing with empty inventory")
			return Inventory{}, nil
		}
		return Inventory{}, err
	}
	return inv, nil
}

// Preview acquires camera and microphone tracks for the selection. Denied or
// missing devices degrade their kind to disabled; any other error releases
// everything acquired so far and is returned.
func (s *Session) Preview(ctx context.Context, sel Selection) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.acquire(ctx, KindCamera, sel.CameraID); err != nil {
		s.releaseAll()
		return err
	}
	if err := s.acquire(ctx, KindMicrophone, sel.MicrophoneID); err != nil {
		s.releaseAll()
		return err
	}
	// Speakers need no capture track; the selection is only recorded.
	s.mu.Lock()
	s.slots[KindSpeaker] = &trackState{deviceID: sel.SpeakerID, enabled: true}
	s.mu.Unlock()
	return nil
}

// acquire opens one kind's track, degrading on permission or missing-device
// failures.
func (s *Session) acquire(ctx context.Context, kind Kind, deviceID string) error {
	track, err := s.backend.OpenTrack(ctx, kind, deviceID)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDevice) {
			s.log.Warn("device unavailable, joining with kind disabled",
				"kind", kind, "device", deviceID, "error", err)
			s.mu.Lock()
			s.slots[kind] = &trackState{deviceID: deviceID, degraded: true}
			s.mu.Unlock()
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		track.Stop()
		return ErrSessionClosed
	}
	if prev := s.slots[kind]; prev != nil && prev.track != nil {
		prev.track.Stop()
	}
	s.slots[kind] = &trackState{deviceID: deviceID, track: track, enabled: true}
	s.mu.Unlock()
	return nil
}

// ApplyToggle mutes or re-enables one kind. Disabling keeps the device
// selection but stops the live track; enabling reacquires it. Toggling a
// degraded kind is a no-op so a denied microphone never errors the lobby.
func (s *Session) ApplyToggle(ctx context.Context, kind Kind, enabled bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	st := s.slots[kind]
	if st == nil {
		s.mu.Unlock()
		return ErrNoDevice
	}
	if st.degraded || kind == KindSpeaker {
		st.enabled = enabled && !st.degraded
		s.mu.Unlock()
		return nil
	}
	if !enabled {
		if st.track != nil {
			st.track.Stop()
			st.track = nil
		}
		st.enabled = false
		s.mu.Unlock()
		return nil
	}
	if st.track != nil {
		st.enabled = true
		s.mu.Unlock()
		return nil
	}
	deviceID := st.deviceID
	s.mu.Unlock()

	return s.acquire(ctx, kind, deviceID)
}

// SwitchDevice replaces one kind's device while previewing. Only the affected
// track is torn down; an enabled microphone survives a camera switch. If the
// new device fails the old track is kept so the preview never goes dark on a
// bad switch.
func (s *Session) SwitchDevice(ctx context.Context, kind Kind, deviceID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	st := s.slots[kind]
	if st == nil {
		s.mu.Unlock()
		return ErrNoDevice
	}
	if kind == KindSpeaker {
		st.deviceID = deviceID
		s.mu.Unlock()
		return nil
	}
	wasEnabled := st.enabled && !st.degraded
	s.mu.Unlock()

	if !wasEnabled {
		// Not live: just retarget the slot.
		s.mu.Lock()
		st.deviceID = deviceID
		st.degraded = false
		s.mu.Unlock()
		return nil
	}

	track, err := s.backend.OpenTrack(ctx, kind, deviceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		track.Stop()
		return ErrSessionClosed
	}
	if st.track != nil {
		st.track.Stop()
	}
	st.track = track
	st.deviceID = deviceID
	st.degraded = false
	st.enabled = true
	s.mu.Unlock()
	return nil
}

// JoinMedia reports the flags the join call should carry. Degraded or muted
// kinds map to false.
func (s *Session) JoinMedia() (audioOn, videoOn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mic := s.slots[KindMicrophone]; mic != nil {
		audioOn = mic.enabled && !mic.degraded
	}
	if cam := s.slots[KindCamera]; cam != nil {
		videoOn = cam.enabled && !cam.degraded
	}
	return audioOn, videoOn
}

// Close releases every held track. Idempotent; every lobby exit path funnels
// here (cancel, error, successful join).
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.releaseAll()
}

func (s *Session) releaseAll() {
	s.mu.Lock()
	slots := make([]*trackState, 0, len(s.slots))
	for _, st := range s.slots {
		slots = append(slots, st)
	}
	s.mu.Unlock()
	for _, st := range slots {
		if st.track != nil {
			st.track.Stop()
			st.track = nil
		}
	}
}

package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Loopback is an in-process Provider used in dev deployments and tests.
// Rooms, connections and events all live in memory; it honors the same
// contract a hosted SFU integration would (lazy rooms, credential expiry,
// revocation, per-participant event fan-out).
type Loopback struct {
	mu    sync.Mutex
	rooms map[string]*loopRoom
	// connectSem bounds concurrent connection negotiations; a real provider
	// handshake is a slow operation and the limiter keeps join storms from
	// piling up.
	connectSem *semaphore.Weighted
	now        func() time.Time
	log        *slog.Logger
}

// NewLoopback creates the provider. maxConcurrentConnects <= 0 defaults to 64.
func NewLoopback(maxConcurrentConnects int64, log *slog.Logger) *Loopback {
	if maxConcurrentConnects <= 0 {
		maxConcurrentConnects = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loopback{
		rooms:      map[string]*loopRoom{},
		connectSem: semaphore.NewWeighted(maxConcurrentConnects),
		now:        time.Now,
		log:        log,
	}
}

type loopRoom struct {
	mu        sync.Mutex
	name      string
	revoked   bool
	conns     map[string]*loopConn // keyed by identity
	observers []chan Event
}

// notifyObservers fans an event out to server-side observers without
// blocking on a stalled one.
func (r *loopRoom) notifyObservers(ev Event) {
	r.mu.Lock()
	obs := make([]chan Event, len(r.observers))
	copy(obs, r.observers)
	r.mu.Unlock()
	for _, ch := range obs {
		select {
		case ch <- ev:
		default:
		}
	}
}

type loopConn struct {
	room      *loopRoom
	identity  string
	display   string
	pub, sub  bool
	mu        sync.Mutex
	published map[TrackKind]bool
	events    chan Event
	closed    bool
}

// CreateRoom allocates a room; creating an existing room is an error so the
// orchestrator's single-creator invariant surfaces duplicate-room races.
func (p *Loopback) CreateRoom(_ context.Context, roomName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rooms[roomName]; ok {
		return ErrRoomExists
	}
	p.rooms[roomName] = &loopRoom{name: roomName, conns: map[string]*loopConn{}}
	p.log.Debug("room created", "room", roomName)
	return nil
}

// DestroyRoom disconnects every attached connection with reason room_closed
// and removes the room.
func (p *Loopback) DestroyRoom(_ context.Context, roomName string) error {
	p.mu.Lock()
	r, ok := p.rooms[roomName]
	if ok {
		delete(p.rooms, roomName)
	}
	p.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	conns := make([]*loopConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = map[string]*loopConn{}
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	for _, c := range conns {
		c.deliver(Event{Type: EventDisconnected, RoomName: roomName, ParticipantID: c.identity, Reason: ReasonRoomClosed})
		c.close()
	}
	for _, ch := range observers {
		close(ch)
	}
	p.log.Debug("room destroyed", "room", roomName, "disconnected", len(conns))
	return nil
}

// ObserveRoom attaches a server-side observer to the room's event feed.
func (p *Loopback) ObserveRoom(_ context.Context, roomName string) (<-chan Event, error) {
	p.mu.Lock()
	r, ok := p.rooms[roomName]
	p.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	ch := make(chan Event, 64)
	r.mu.Lock()
	r.observers = append(r.observers, ch)
	r.mu.Unlock()
	return ch, nil
}

// RevokeRoomCredentials rejects any further connects to the room.
func (p *Loopback) RevokeRoomCredentials(_ context.Context, roomName string) error {
	p.mu.Lock()
	r, ok := p.rooms[roomName]
	p.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	r.revoked = true
	r.mu.Unlock()
	return nil
}

// DisconnectParticipant force-detaches one identity (host kick). The kicked
// connection sees reason kicked so the client does not try to reconnect.
func (p *Loopback) DisconnectParticipant(_ context.Context, roomName, identity string, reason DisconnectReason) error {
	p.mu.Lock()
	r, ok := p.rooms[roomName]
	p.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	c, ok := r.conns[identity]
	if ok {
		delete(r.conns, identity)
	}
	others := r.peers(identity)
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	c.deliver(Event{Type: EventDisconnected, RoomName: roomName, ParticipantID: identity, Reason: reason})
	c.close()
	broadcast(others, Event{Type: EventParticipantLeft, RoomName: roomName, ParticipantID: identity})
	r.notifyObservers(Event{Type: EventParticipantLeft, RoomName: roomName, ParticipantID: identity, Reason: reason})
	return nil
}

// Connect negotiates a connection. Existing participants are replayed to the
// new connection as participant_joined events so a late joiner can build its
// roster without a separate snapshot call.
func (p *Loopback) Connect(ctx context.Context, cred Credential) (Conn, error) {
	if err := p.connectSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.connectSem.Release(1)

	if cred.Expired(p.now()) {
		return nil, ErrCredentialExpired
	}

	p.mu.Lock()
	r, ok := p.rooms[cred.RoomName]
	p.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	c := &loopConn{
		room:      r,
		identity:  cred.Identity,
		display:   cred.DisplayName,
		pub:       cred.CanPublish,
		sub:       cred.CanSubscribe,
		published: map[TrackKind]bool{},
		events:    make(chan Event, 32),
	}

	r.mu.Lock()
	if r.revoked {
		r.mu.Unlock()
		return nil, ErrCredentialRevoked
	}
	// Reconnect with the same identity replaces the stale attachment.
	if prev, exists := r.conns[cred.Identity]; exists {
		prev.deliver(Event{Type: EventDisconnected, RoomName: r.name, ParticipantID: cred.Identity, Reason: ReasonNetworkDrop})
		prev.close()
	}
	r.conns[cred.Identity] = c
	others := r.peers(cred.Identity)
	r.mu.Unlock()

	for _, o := range others {
		c.deliver(Event{Type: EventParticipantJoined, RoomName: r.name, ParticipantID: o.identity, DisplayName: o.display})
	}
	broadcast(others, Event{Type: EventParticipantJoined, RoomName: r.name, ParticipantID: cred.Identity, DisplayName: cred.DisplayName})
	r.notifyObservers(Event{Type: EventParticipantJoined, RoomName: r.name, ParticipantID: cred.Identity, DisplayName: cred.DisplayName})
	return c, nil
}

// peers returns every connection except the given identity. Caller holds r.mu.
func (r *loopRoom) peers(except string) []*loopConn {
	out := make([]*loopConn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

func broadcast(conns []*loopConn, ev Event) {
	for _, c := range conns {
		c.deliver(ev)
	}
}

// deliver sends without blocking; a stalled consumer drops events rather
// than wedging the room.
func (c *loopConn) deliver(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *loopConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// PublishTrack marks the track live and notifies subscribed peers.
func (c *loopConn) PublishTrack(kind TrackKind) error {
	if !c.pub {
		return ErrPublishForbidden
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.published[kind] = true
	c.mu.Unlock()

	r := c.room
	r.mu.Lock()
	others := r.peers(c.identity)
	r.mu.Unlock()
	broadcast(others, Event{Type: EventTrackSubscribed, RoomName: r.name, ParticipantID: c.identity, Track: kind})
	return nil
}

// UnpublishTrack stops one track; other published tracks are untouched.
func (c *loopConn) UnpublishTrack(kind TrackKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	delete(c.published, kind)
	return nil
}

// SubscribeTrack attaches to a remote participant's track.
func (c *loopConn) SubscribeTrack(participantID string, kind TrackKind) error {
	if !c.sub {
		return ErrNotConnected
	}
	r := c.room
	r.mu.Lock()
	peer, ok := r.conns[participantID]
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	peer.mu.Lock()
	live := peer.published[kind]
	peer.mu.Unlock()
	if !live {
		return ErrNotConnected
	}
	return nil
}

// Disconnect detaches voluntarily (reason client_left).
func (c *loopConn) Disconnect() error {
	r := c.room
	r.mu.Lock()
	if r.conns[c.identity] == c {
		delete(r.conns, c.identity)
	}
	others := r.peers(c.identity)
	r.mu.Unlock()

	c.deliver(Event{Type: EventDisconnected, RoomName: r.name, ParticipantID: c.identity, Reason: ReasonClientLeft})
	c.close()
	broadcast(others, Event{Type: EventParticipantLeft, RoomName: r.name, ParticipantID: c.identity})
	r.notifyObservers(Event{Type: EventParticipantLeft, RoomName: r.name, ParticipantID: c.identity, Reason: ReasonClientLeft})
	return nil
}

// Events returns the connection's event stream.
func (c *loopConn) Events() <-chan Event {
	return c.events
}

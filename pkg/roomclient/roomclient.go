// Package roomclient attaches a client to an existing transport room and keeps
// a local participant roster in sync with the room's event stream.
//
// The client never creates or destroys rooms; it only exchanges a join
// credential for a live connection. Camera, microphone and screen share are
// independent publish streams so toggling one never tears down another.
package roomclient

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scholarbase/meetsvc/pkg/metrics"
	"github.com/scholarbase/meetsvc/pkg/transport"
)

// DisconnectCause 连接结束的最终原因，客户端据此决定提示语
type DisconnectCause string

const (
	CauseClientLeft   DisconnectCause = "client_left"
	CauseKicked       DisconnectCause = "kicked"
	CauseMeetingEnded DisconnectCause = "meeting_ended"
	// CauseNetworkLost means reconnect attempts were exhausted or the meeting
	// was no longer live when the drop happened.
	CauseNetworkLost DisconnectCause = "network_lost"
)

var (
	ErrAlreadyConnected = errors.New("room client already connected")
	ErrNotAttached      = errors.New("room client not attached")
)

// RemoteParticipant 本地视图中的远端参会者
type RemoteParticipant struct {
	Identity    string
	DisplayName string
	Tracks      map[transport.TrackKind]bool
}

// Options configures a Client.
type Options struct {
	Provider transport.Provider
	// MeetingLive reports whether the meeting is still live on the
	// orchestrator side. Reconnects are only attempted while it returns true.
	MeetingLive func() bool
	// MaxReconnects bounds reconnect attempts after a network drop.
	// <= 0 defaults to 3.
	MaxReconnects int
	// ReconnectBackoff is the delay before each reconnect attempt.
	// <= 0 defaults to 500ms.
	ReconnectBackoff time.Duration
	Logger           *slog.Logger
}

// Client is the per-user room attachment. All methods are safe for concurrent
// use; the event loop runs on its own goroutine between Connect and teardown.
type Client struct {
	provider    transport.Provider
	meetingLive func() bool
	maxRetries  int
	backoff     time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	conn    transport.Conn
	cred    transport.Credential
	roster  map[string]*RemoteParticipant
	tracks  map[transport.TrackKind]bool // locally published
	cause   DisconnectCause
	done    chan struct{}
	closed  bool
	started bool
}

// New creates a detached client.
func New(opts Options) (*Client, error) {
	if opts.Provider == nil {
		return nil, errors.New("transport provider required")
	}
	if opts.MeetingLive == nil {
		opts.MeetingLive = func() bool { return true }
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 3
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		provider:    opts.Provider,
		meetingLive: opts.MeetingLive,
		maxRetries:  opts.MaxReconnects,
		backoff:     opts.ReconnectBackoff,
		log:         opts.Logger,
		roster:      map[string]*RemoteParticipant{},
		tracks:      map[transport.TrackKind]bool{},
		done:        make(chan struct{}),
	}, nil
}

// Connect exchanges the credential for a live connection and starts the event
// loop. Lobby media toggles decide which tracks are published immediately.
func (c *Client) Connect(ctx context.Context, cred transport.Credential, audioOn, videoOn bool) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.started = true
	c.cred = cred
	c.mu.Unlock()

	conn, err := c.provider.Connect(ctx, cred)
	if err != nil {
		c.finish(CauseNetworkLost)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if audioOn {
		if err := c.publish(transport.TrackAudio); err != nil {
			c.log.Warn("initial audio publish failed", "error", err)
		}
	}
	if videoOn {
		if err := c.publish(transport.TrackVideo); err != nil {
			c.log.Warn("initial video publish failed", "error", err)
		}
	}

	go c.eventLoop(conn)
	return nil
}

// eventLoop reconciles the roster from transport events until the connection
// ends. On a network drop it tries to reconnect while the meeting is live.
func (c *Client) eventLoop(conn transport.Conn) {
	for ev := range conn.Events() {
		switch ev.Type {
		case transport.EventParticipantJoined:
			c.upsertRemote(ev.ParticipantID, ev.DisplayName)
		case transport.EventParticipantLeft:
			c.removeRemote(ev.ParticipantID)
		case transport.EventTrackSubscribed:
			c.markRemoteTrack(ev.ParticipantID, ev.Track)
		case transport.EventDisconnected:
			c.onDisconnected(ev.Reason)
			return
		}
	}
	// Channel closed without a disconnect event: treat as room teardown.
	c.finish(CauseMeetingEnded)
}

func (c *Client) onDisconnected(reason transport.DisconnectReason) {
	switch reason {
	case transport.ReasonClientLeft:
		c.finish(CauseClientLeft)
	case transport.ReasonKicked:
		c.finish(CauseKicked)
	case transport.ReasonRoomClosed:
		c.finish(CauseMeetingEnded)
	case transport.ReasonNetworkDrop:
		c.reconnect()
	default:
		c.finish(CauseNetworkLost)
	}
}

// reconnect retries the credential exchange a bounded number of times. Only
// network drops reach here; a kick or an ended meeting is final.
func (c *Client) reconnect() {
	c.mu.Lock()
	cred := c.cred
	wanted := make([]transport.TrackKind, 0, len(c.tracks))
	for kind, on := range c.tracks {
		if on {
			wanted = append(wanted, kind)
		}
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if !c.meetingLive() {
			metrics.RecordTransportReconnect("meeting_ended")
			c.finish(CauseMeetingEnded)
			return
		}
		time.Sleep(c.backoff)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.provider.Connect(ctx, cred)
		cancel()
		if err != nil {
			c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		// The replay of participant_joined events rebuilds the roster.
		c.roster = map[string]*RemoteParticipant{}
		c.conn = conn
		c.mu.Unlock()

		for _, kind := range wanted {
			if err := conn.PublishTrack(kind); err != nil {
				c.log.Warn("republish after reconnect failed", "track", kind, "error", err)
			}
		}

		metrics.RecordTransportReconnect("success")
		c.log.Info("reconnected after network drop", "attempt", attempt, "room", cred.RoomName)
		go c.eventLoop(conn)
		return
	}

	metrics.RecordTransportReconnect("exhausted")
	c.finish(CauseNetworkLost)
}

// SetMicrophone toggles the audio publish stream.
func (c *Client) SetMicrophone(on bool) error { return c.toggle(transport.TrackAudio, on) }

// SetCamera toggles the camera publish stream.
func (c *Client) SetCamera(on bool) error { return c.toggle(transport.TrackVideo, on) }

// SetScreenShare toggles the screen-share publish stream.
func (c *Client) SetScreenShare(on bool) error { return c.toggle(transport.TrackScreen, on) }

func (c *Client) toggle(kind transport.TrackKind, on bool) error {
	if on {
		return c.publish(kind)
	}
	return c.unpublish(kind)
}

func (c *Client) publish(kind transport.TrackKind) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	if err := conn.PublishTrack(kind); err != nil {
		return err
	}
	c.mu.Lock()
	c.tracks[kind] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) unpublish(kind transport.TrackKind) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	if err := conn.UnpublishTrack(kind); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.tracks, kind)
	c.mu.Unlock()
	return nil
}

// Subscribe attaches to a remote participant's track.
func (c *Client) Subscribe(participantID string, kind transport.TrackKind) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	return conn.SubscribeTrack(participantID, kind)
}

// Roster returns a copy of the remote participants, sorted by identity.
func (c *Client) Roster() []RemoteParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RemoteParticipant, 0, len(c.roster))
	for _, p := range c.roster {
		cp := RemoteParticipant{Identity: p.Identity, DisplayName: p.DisplayName, Tracks: map[transport.TrackKind]bool{}}
		for k, v := range p.Tracks {
			cp.Tracks[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Done is closed when the attachment has permanently ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Cause reports why the attachment ended. Empty while still attached.
func (c *Client) Cause() DisconnectCause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Close detaches voluntarily. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed || conn == nil {
		c.finish(CauseClientLeft)
		return nil
	}
	return conn.Disconnect() // event loop observes client_left and finishes
}

func (c *Client) upsertRemote(identity, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.roster[identity]; ok {
		if displayName != "" {
			p.DisplayName = displayName
		}
		return
	}
	c.roster[identity] = &RemoteParticipant{
		Identity:    identity,
		DisplayName: displayName,
		Tracks:      map[transport.TrackKind]bool{},
	}
}

func (c *Client) removeRemote(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roster, identity)
}

func (c *Client) markRemoteTrack(identity string, kind transport.TrackKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.roster[identity]
	if !ok {
		// Track event raced ahead of the join replay; upsert keeps the
		// reconciliation idempotent.
		p = &RemoteParticipant{Identity: identity, Tracks: map[transport.TrackKind]bool{}}
		c.roster[identity] = p
	}
	p.Tracks[kind] = true
}

// finish records the terminal cause once and releases Done waiters.
func (c *Client) finish(cause DisconnectCause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause != "" {
		return
	}
	c.cause = cause
	c.conn = nil
	close(c.done)
}

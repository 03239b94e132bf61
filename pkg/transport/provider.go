// Package transport defines the boundary to the external media-transport
// provider. The service treats the provider as opaque: it creates and
// destroys rooms, exchanges join credentials for live connections and
// consumes participant/track lifecycle events. Media encode/decode never
// crosses this boundary.
package transport

import (
	"context"
	"errors"
	"time"
)

// TrackKind 发布流的种类；摄像头与屏幕共享是相互独立的发布流
type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackVideo  TrackKind = "video"
	TrackScreen TrackKind = "screen"
)

// EventType provider 事件类型
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventTrackSubscribed   EventType = "track_subscribed"
	EventDisconnected      EventType = "disconnected"
)

// DisconnectReason 区分断开原因，客户端据此决定是否允许重连
type DisconnectReason string

const (
	ReasonNetworkDrop DisconnectReason = "network_drop"
	ReasonKicked      DisconnectReason = "kicked"
	ReasonRoomClosed  DisconnectReason = "room_closed"
	ReasonClientLeft  DisconnectReason = "client_left"
)

// Event 传输层生命周期事件
type Event struct {
	Type          EventType
	RoomName      string
	ParticipantID string
	DisplayName   string
	Track         TrackKind
	Reason        DisconnectReason
}

// Credential is the short-lived join credential binding an identity to one
// room with publish/subscribe capabilities. Token is opaque to the provider
// boundary; expiry is enforced on connect.
type Credential struct {
	Token        string
	Identity     string
	DisplayName  string
	RoomName     string
	CanPublish   bool
	CanSubscribe bool
	ExpiresAt    time.Time
}

// Expired reports whether the credential is past its expiry at time now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

var (
	ErrRoomNotFound      = errors.New("transport: room not found")
	ErrRoomExists        = errors.New("transport: room already exists")
	ErrCredentialExpired = errors.New("transport: credential expired")
	ErrCredentialRevoked = errors.New("transport: credential revoked")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrPublishForbidden  = errors.New("transport: credential does not allow publishing")
)

// Provider is the opaque media-transport collaborator. Only the session
// orchestrator creates or destroys rooms; clients exchange a credential for
// a Conn on an existing room.
type Provider interface {
	// CreateRoom allocates the shared room resource for a meeting.
	CreateRoom(ctx context.Context, roomName string) error

	// DestroyRoom tears the room down, disconnecting every attached
	// connection with reason room_closed.
	DestroyRoom(ctx context.Context, roomName string) error

	// RevokeRoomCredentials invalidates outstanding credentials for the
	// room so they cannot be replayed after the meeting ends.
	RevokeRoomCredentials(ctx context.Context, roomName string) error

	// DisconnectParticipant force-detaches one identity from the room (host
	// kick). The affected connection observes the given reason.
	DisconnectParticipant(ctx context.Context, roomName, identity string, reason DisconnectReason) error

	// ObserveRoom returns a server-side feed of the room's lifecycle events
	// (the webhook equivalent of a hosted provider). The channel closes when
	// the room is destroyed.
	ObserveRoom(ctx context.Context, roomName string) (<-chan Event, error)

	// Connect negotiates a live connection using the credential.
	Connect(ctx context.Context, cred Credential) (Conn, error)
}

// Conn is one participant's live attachment to a room.
type Conn interface {
	// PublishTrack starts publishing a local track. Camera and screen share
	// are independent: toggling one never tears down the other.
	PublishTrack(kind TrackKind) error

	// UnpublishTrack stops publishing a local track.
	UnpublishTrack(kind TrackKind) error

	// SubscribeTrack subscribes to a remote participant's track.
	SubscribeTrack(participantID string, kind TrackKind) error

	// Disconnect detaches from the room (reason client_left).
	Disconnect() error

	// Events delivers lifecycle events until the connection closes.
	Events() <-chan Event
}

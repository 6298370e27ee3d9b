package call

import (
	"context"
	"fmt"

	"sakhi/models"
)

// PeerEventType enumerates the events a media connection raises.
type PeerEventType int

const (
	// PeerSignal carries locally generated signaling data (offer, answer
	// or connectivity candidate) that must be published to the peer.
	PeerSignal PeerEventType = iota
	// PeerStream fires when inbound media starts flowing.
	PeerStream
	// PeerClosed fires when the connection shut down.
	PeerClosed
	// PeerError fires on a fatal connection failure.
	PeerError
)

// PeerEvent is one event raised by a media connection.
type PeerEvent struct {
	Type   PeerEventType
	Signal models.Signal
	Err    error
}

// Peer is a single media connection capable of producing and consuming
// offer/answer/candidate payloads. Implementations deliver events on a
// channel the coordinator's event loop consumes, so no callback re-enters
// coordinator state.
type Peer interface {
	// Deliver feeds a remote signal into the connection. Redelivering the
	// same candidate must be tolerated.
	Deliver(sig models.Signal) error
	// Events returns the connection's event channel; it is closed after
	// the peer is destroyed.
	Events() <-chan PeerEvent
	// Destroy tears the connection down and releases its resources.
	Destroy() error
}

// PeerConfig parameterizes a new media connection.
type PeerConfig struct {
	Initiator  bool
	Stream     MediaStream
	ICEServers []string
}

// PeerFactory constructs a media connection. Injected so the negotiation
// core stays independent of the transport implementation.
type PeerFactory func(cfg PeerConfig) (Peer, error)

// MediaDevice acquires local audio/video capture.
type MediaDevice interface {
	Acquire(ctx context.Context) (MediaStream, error)
}

// MediaStream is an acquired local capture; Stop releases the hardware.
type MediaStream interface {
	Stop()
}

// NegotiationError wraps a failure of the media handshake with the stage it
// occurred in. It always triggers the teardown path.
type NegotiationError struct {
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed during %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

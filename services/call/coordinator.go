package call

import (
	"context"
	"errors"
	"sync"
	"time"

	roomRepo "sakhi/database/repository/room"
	"sakhi/models"
	"sakhi/services/booking"

	"go.uber.org/zap"
)

// ErrBookingCompleted is returned when a party tries to join a call whose
// booking reached a terminal state.
var ErrBookingCompleted = errors.New("booking already finished")

// Coordinator drives one side of the media handshake for a single booking.
// It owns the session end to end: created when a party joins, disposed when
// the session ends, never shared across sessions. All state is confined to
// the Run loop's goroutine; the outside world talks to it through End and
// context cancellation.
type Coordinator struct {
	logger    *zap.Logger
	signaling roomRepo.Signaling
	bookings  booking.Service
	device    MediaDevice
	newPeer   PeerFactory

	role       models.CallRole
	bookingID  string
	roomID     string
	iceServers []string

	endCh   chan struct{}
	endOnce sync.Once

	// Loop-confined handshake state.
	peer       Peer
	peerActive bool
	answered   bool
	started    bool
	startedAt  time.Time
	stream     MediaStream
	seen       map[string]struct{}
	pending    []models.Signal
}

// Config collects the collaborators of one negotiation session.
type Config struct {
	Logger     *zap.Logger
	Signaling  roomRepo.Signaling
	Bookings   booking.Service
	Device     MediaDevice
	NewPeer    PeerFactory
	Role       models.CallRole
	BookingID  string
	ICEServers []string
}

// NewCoordinator builds a session coordinator for one booking and role.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		logger:     cfg.Logger,
		signaling:  cfg.Signaling,
		bookings:   cfg.Bookings,
		device:     cfg.Device,
		newPeer:    cfg.NewPeer,
		role:       cfg.Role,
		bookingID:  cfg.BookingID,
		roomID:     booking.RoomID(cfg.BookingID),
		iceServers: cfg.ICEServers,
		endCh:      make(chan struct{}),
		seen:       make(map[string]struct{}),
	}
}

// End requests an active hang-up. Safe to call from any goroutine, once or
// many times.
func (c *Coordinator) End() {
	c.endOnce.Do(func() { close(c.endCh) })
}

// Run executes the negotiation session until it terminates. It returns nil
// on a clean end (local hang-up or remote ended observed) and an error when
// the handshake failed. Local media and all subscriptions are released on
// every exit path.
func (c *Coordinator) Run(ctx context.Context) error {
	b, err := c.bookings.GetByID(ctx, c.bookingID)
	if err != nil {
		return err
	}
	switch b.Status {
	case models.BookingCompleted, models.BookingDeclined, models.BookingExpired:
		return ErrBookingCompleted
	}

	stream, err := c.device.Acquire(ctx)
	if err != nil {
		return &NegotiationError{Stage: "media capture", Err: err}
	}
	c.stream = stream
	defer c.releaseLocal()

	roomUpdates, stopRoom, err := c.signaling.WatchRoom(ctx, c.roomID)
	if err != nil {
		return &NegotiationError{Stage: "room subscription", Err: err}
	}
	defer stopRoom()

	remoteCands, stopCands, err := c.signaling.WatchCandidates(ctx, c.roomID, c.role.Other())
	if err != nil {
		return &NegotiationError{Stage: "candidate subscription", Err: err}
	}
	defer stopCands()

	for {
		// A nil peer yields a nil channel, which never fires.
		var peerEvents <-chan PeerEvent
		if c.peer != nil {
			peerEvents = c.peer.Events()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.endCh:
			c.finishCall(nil)
			return nil

		case room, ok := <-roomUpdates:
			if !ok {
				err := &NegotiationError{Stage: "room subscription", Err: errors.New("subscription closed")}
				c.finishCall(err)
				return err
			}
			if room.Ended {
				// The other side already ran the bookkeeping; only local
				// cleanup remains.
				c.logger.Info("remote ended call", zap.String("roomId", c.roomID))
				return nil
			}
			if err := c.onRoomUpdate(ctx, room); err != nil {
				c.finishCall(err)
				return err
			}

		case cand, ok := <-remoteCands:
			if !ok {
				// A dead candidate stream is survivable once the connection
				// is up; stop selecting on the closed channel.
				c.logger.Warn("candidate stream closed", zap.String("roomId", c.roomID))
				remoteCands = nil
				continue
			}
			if _, dup := c.seen[cand.ID]; dup {
				continue
			}
			c.seen[cand.ID] = struct{}{}
			c.deliverOrHold(cand.Payload)

		case ev, ok := <-peerEvents:
			if !ok {
				c.peer = nil
				continue
			}
			if done, err := c.onPeerEvent(ctx, ev); done {
				c.finishCall(err)
				return err
			}
		}
	}
}

// onRoomUpdate reacts to a change of the shared negotiation record.
func (c *Coordinator) onRoomUpdate(ctx context.Context, room models.CallRoom) error {
	switch c.role {
	case models.RoleInitiator:
		if room.Offer == nil && !c.peerActive {
			if err := c.createPeer(true, nil); err != nil {
				return err
			}
		}
		if room.Answer != nil && c.peer != nil && !c.answered {
			if err := c.peer.Deliver(*room.Answer); err != nil {
				return &NegotiationError{Stage: "answer delivery", Err: err}
			}
			c.answered = true
		}
	case models.RoleResponder:
		if room.Offer != nil && !c.peerActive {
			if err := c.createPeer(false, room.Offer); err != nil {
				return err
			}
		}
	}
	return nil
}

// createPeer opens the local connection. Re-entrant calls while a peer is
// already active are no-ops.
func (c *Coordinator) createPeer(initiator bool, initial *models.Signal) error {
	if c.peerActive || c.stream == nil {
		return nil
	}
	peer, err := c.newPeer(PeerConfig{
		Initiator:  initiator,
		Stream:     c.stream,
		ICEServers: c.iceServers,
	})
	if err != nil {
		return &NegotiationError{Stage: "peer creation", Err: err}
	}
	c.peer = peer
	c.peerActive = true

	if initial != nil {
		if err := peer.Deliver(*initial); err != nil {
			return &NegotiationError{Stage: "offer delivery", Err: err}
		}
	}
	for _, sig := range c.pending {
		if err := peer.Deliver(sig); err != nil {
			return &NegotiationError{Stage: "candidate delivery", Err: err}
		}
	}
	c.pending = nil
	return nil
}

// deliverOrHold feeds a remote candidate to the peer, buffering it when the
// peer does not exist yet (candidates can outrun the offer).
func (c *Coordinator) deliverOrHold(sig models.Signal) {
	if c.peer == nil {
		c.pending = append(c.pending, sig)
		return
	}
	if err := c.peer.Deliver(sig); err != nil {
		c.logger.Warn("candidate delivery failed", zap.Error(err))
	}
}

// onPeerEvent handles a local connection event. It reports done=true when
// the session must terminate.
func (c *Coordinator) onPeerEvent(ctx context.Context, ev PeerEvent) (done bool, err error) {
	switch ev.Type {
	case PeerSignal:
		return false, c.publishSignal(ctx, ev.Signal)

	case PeerStream:
		if c.started {
			// Duplicate stream events must not re-fire the transition.
			return false, nil
		}
		c.started = true
		c.startedAt = time.Now()
		if err := c.bookings.CallStart(ctx, c.bookingID, c.startedAt.UTC()); err != nil {
			// The other party may have raced us through the transition.
			c.logger.Debug("call start transition skipped", zap.Error(err))
		}
		return false, nil

	case PeerClosed:
		return true, nil

	case PeerError:
		return true, &NegotiationError{Stage: "connection", Err: ev.Err}
	}
	return false, nil
}

// publishSignal writes locally generated signaling data to the shared
// record or this side's candidate stream.
func (c *Coordinator) publishSignal(ctx context.Context, sig models.Signal) error {
	switch {
	case sig.IsOffer():
		if err := c.signaling.SetOffer(ctx, c.roomID, sig); err != nil {
			return &NegotiationError{Stage: "offer publish", Err: err}
		}
	case sig.IsAnswer():
		if err := c.signaling.SetAnswer(ctx, c.roomID, sig); err != nil {
			return &NegotiationError{Stage: "answer publish", Err: err}
		}
	case sig.IsCandidate():
		if err := c.signaling.AddCandidate(ctx, c.roomID, c.role, sig); err != nil {
			return &NegotiationError{Stage: "candidate publish", Err: err}
		}
	}
	return nil
}

// finishCall runs the active termination bookkeeping: measure duration,
// complete the booking, broadcast ended, purge the room. Uses a fresh
// context so a cancelled session can still finish its writes.
func (c *Coordinator) finishCall(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	duration := 0
	if c.started {
		duration = int(now.Sub(c.startedAt).Seconds())
	}
	if err := c.bookings.CallEnd(ctx, c.bookingID, now, duration); err != nil {
		c.logger.Debug("call end transition skipped", zap.Error(err))
	}
	if err := c.signaling.EndRoom(ctx, c.roomID); err != nil {
		c.logger.Warn("failed to mark room ended", zap.Error(err))
	}
	if err := c.signaling.ClearRoom(ctx, c.roomID); err != nil {
		c.logger.Warn("failed to clear room", zap.Error(err))
	}

	if cause != nil {
		c.logger.Warn("call terminated by failure",
			zap.String("bookingId", c.bookingID), zap.Error(cause))
	} else {
		c.logger.Info("call ended",
			zap.String("bookingId", c.bookingID), zap.Int("durationSeconds", duration))
	}
}

// releaseLocal destroys the peer and releases the media hardware. Runs on
// every exit path.
func (c *Coordinator) releaseLocal() {
	if c.peer != nil {
		if err := c.peer.Destroy(); err != nil {
			c.logger.Debug("peer destroy failed", zap.Error(err))
		}
		c.peer = nil
	}
	c.peerActive = false
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}

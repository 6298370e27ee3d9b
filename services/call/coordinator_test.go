package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	roomRepo "sakhi/database/repository/room"
	"sakhi/models"
	"sakhi/services/booking"

	"go.uber.org/zap"
)

// memSignaling is an in-memory signaling backend with the same fan-out
// semantics as the mongo change-stream implementation: room watchers get the
// current record first, candidate watchers get the backlog first, and
// re-delivery of candidates is possible.
type memSignaling struct {
	mu         sync.Mutex
	rooms      map[string]*models.CallRoom
	candidates map[string][]models.Candidate
	nextID     int
	roomSubs   map[string][]chan models.CallRoom
	candSubs   map[string][]chan models.Candidate
}

func newMemSignaling() *memSignaling {
	return &memSignaling{
		rooms:      make(map[string]*models.CallRoom),
		candidates: make(map[string][]models.Candidate),
		roomSubs:   make(map[string][]chan models.CallRoom),
		candSubs:   make(map[string][]chan models.Candidate),
	}
}

func candKey(roomID string, side models.CallRole) string {
	return roomID + "/" + string(side)
}

func (s *memSignaling) CreateRoom(ctx context.Context, room *models.CallRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *memSignaling) GetRoom(ctx context.Context, roomID string) (*models.CallRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomRepo.ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *memSignaling) broadcastRoomLocked(roomID string) {
	room := *s.rooms[roomID]
	for _, ch := range s.roomSubs[roomID] {
		select {
		case ch <- room:
		default:
		}
	}
}

func (s *memSignaling) SetOffer(ctx context.Context, roomID string, offer models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return roomRepo.ErrRoomNotFound
	}
	room.Offer = &offer
	s.broadcastRoomLocked(roomID)
	return nil
}

func (s *memSignaling) SetAnswer(ctx context.Context, roomID string, answer models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return roomRepo.ErrRoomNotFound
	}
	room.Answer = &answer
	s.broadcastRoomLocked(roomID)
	return nil
}

func (s *memSignaling) AddCandidate(ctx context.Context, roomID string, side models.CallRole, payload models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return roomRepo.ErrRoomNotFound
	}
	s.nextID++
	cand := models.Candidate{
		ID:      fmt.Sprintf("cand-%d", s.nextID),
		RoomID:  roomID,
		Side:    side,
		Payload: payload,
	}
	key := candKey(roomID, side)
	s.candidates[key] = append(s.candidates[key], cand)
	for _, ch := range s.candSubs[key] {
		select {
		case ch <- cand:
		default:
		}
	}
	return nil
}

// redeliverCandidates rebroadcasts one side's backlog, simulating the
// at-least-once delivery a stream restart produces.
func (s *memSignaling) redeliverCandidates(roomID string, side models.CallRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candKey(roomID, side)
	for _, cand := range s.candidates[key] {
		for _, ch := range s.candSubs[key] {
			select {
			case ch <- cand:
			default:
			}
		}
	}
}

func (s *memSignaling) WatchRoom(ctx context.Context, roomID string) (<-chan models.CallRoom, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil, roomRepo.ErrRoomNotFound
	}
	ch := make(chan models.CallRoom, 64)
	ch <- *room
	s.roomSubs[roomID] = append(s.roomSubs[roomID], ch)
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.roomSubs[roomID]
		for i, sub := range subs {
			if sub == ch {
				s.roomSubs[roomID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, stop, nil
}

func (s *memSignaling) WatchCandidates(ctx context.Context, roomID string, side models.CallRole) (<-chan models.Candidate, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, nil, roomRepo.ErrRoomNotFound
	}
	key := candKey(roomID, side)
	ch := make(chan models.Candidate, 64)
	for _, cand := range s.candidates[key] {
		ch <- cand
	}
	s.candSubs[key] = append(s.candSubs[key], ch)
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.candSubs[key]
		for i, sub := range subs {
			if sub == ch {
				s.candSubs[key] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, stop, nil
}

func (s *memSignaling) EndRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return roomRepo.ErrRoomNotFound
	}
	now := time.Now().UTC()
	room.Ended = true
	room.Status = "ended"
	room.EndedAt = &now
	s.broadcastRoomLocked(roomID)
	return nil
}

func (s *memSignaling) ClearRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return roomRepo.ErrRoomNotFound
	}
	room.Offer = nil
	room.Answer = nil
	delete(s.candidates, candKey(roomID, models.RoleInitiator))
	delete(s.candidates, candKey(roomID, models.RoleResponder))
	return nil
}

// killCandidateStream closes one side's subscriber channels without the
// watcher's consent, the way a dying change stream does.
func (s *memSignaling) killCandidateStream(roomID string, side models.CallRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candKey(roomID, side)
	for _, ch := range s.candSubs[key] {
		close(ch)
	}
	s.candSubs[key] = nil
}

func (s *memSignaling) candidateCount(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates[candKey(roomID, models.RoleInitiator)]) +
		len(s.candidates[candKey(roomID, models.RoleResponder)])
}

// fakeCallBookings implements the booking transitions the coordinator
// drives, with compare-and-set semantics matching the repository.
type fakeCallBookings struct {
	booking.Service

	mu             sync.Mutex
	b              models.Booking
	startSuccesses int
	endSuccesses   int
}

func (f *fakeCallBookings) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.b
	return &cp, nil
}

func (f *fakeCallBookings) CallStart(ctx context.Context, bookingID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.b.Status != models.BookingAccepted {
		return bookingRepo.ErrInvalidTransition
	}
	f.b.Status = models.BookingInCall
	f.b.CallStartedAt = &at
	f.startSuccesses++
	return nil
}

func (f *fakeCallBookings) CallEnd(ctx context.Context, bookingID string, endedAt time.Time, durationSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.b.Status != models.BookingAccepted && f.b.Status != models.BookingInCall {
		return bookingRepo.ErrInvalidTransition
	}
	f.b.Status = models.BookingCompleted
	f.b.CallDurationSeconds = durationSeconds
	f.endSuccesses++
	return nil
}

func (f *fakeCallBookings) snapshot() models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.b
}

func (f *fakeCallBookings) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startSuccesses
}

func (f *fakeCallBookings) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endSuccesses
}

type fakeStream struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDevice struct {
	stream *fakeStream
	err    error
}

func (d *fakeDevice) Acquire(ctx context.Context) (MediaStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// fakePeer scripts one side of the handshake: an initiator emits its offer
// and a candidate on creation, a responder answers when the offer is
// delivered, and media starts once the counterpart payload arrives.
type fakePeer struct {
	initiator bool
	events    chan PeerEvent
	closeOnce sync.Once

	mu         sync.Mutex
	delivered  []models.Signal
	destroyed  bool
	eventPolls int
}

func (p *fakePeer) emit(ev PeerEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *fakePeer) Deliver(sig models.Signal) error {
	p.mu.Lock()
	p.delivered = append(p.delivered, sig)
	p.mu.Unlock()

	switch {
	case sig.IsOffer() && !p.initiator:
		p.emit(PeerEvent{Type: PeerSignal, Signal: models.Signal{Type: "answer", SDP: "sdp-answer"}})
		p.emit(PeerEvent{Type: PeerSignal, Signal: models.Signal{Candidate: json.RawMessage(`{"c":"resp-0"}`)}})
		p.emit(PeerEvent{Type: PeerStream})
	case sig.IsAnswer() && p.initiator:
		p.emit(PeerEvent{Type: PeerStream})
	}
	return nil
}

func (p *fakePeer) Events() <-chan PeerEvent {
	p.mu.Lock()
	p.eventPolls++
	p.mu.Unlock()
	return p.events
}

func (p *fakePeer) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eventPolls
}

func (p *fakePeer) Destroy() error {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.events) })
	return nil
}

func (p *fakePeer) deliveredCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sig := range p.delivered {
		if sig.IsCandidate() {
			n++
		}
	}
	return n
}

func (p *fakePeer) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// peerRegistry collects the peers a factory created so tests can inspect
// them after the fact.
type peerRegistry struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (r *peerRegistry) factory(cfg PeerConfig) (Peer, error) {
	p := &fakePeer{initiator: cfg.Initiator, events: make(chan PeerEvent, 16)}
	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()
	if cfg.Initiator {
		p.emit(PeerEvent{Type: PeerSignal, Signal: models.Signal{Type: "offer", SDP: "sdp-offer"}})
		p.emit(PeerEvent{Type: PeerSignal, Signal: models.Signal{Candidate: json.RawMessage(`{"c":"init-0"}`)}})
	}
	return p, nil
}

func (r *peerRegistry) first() *fakePeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) == 0 {
		return nil
	}
	return r.peers[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func acceptedBooking(id string) models.Booking {
	return models.Booking{
		ID:            id,
		CustomerID:    "cust-1",
		DoctorID:      "doc-1",
		Status:        models.BookingAccepted,
		PaymentStatus: models.PaymentEscrow,
	}
}

func newTestCoordinator(bs *fakeCallBookings, sig *memSignaling, reg *peerRegistry, role models.CallRole, device MediaDevice) *Coordinator {
	return NewCoordinator(Config{
		Logger:    zap.NewNop(),
		Signaling: sig,
		Bookings:  bs,
		Device:    device,
		NewPeer:   reg.factory,
		Role:      role,
		BookingID: bs.b.ID,
	})
}

func provisionRoom(t *testing.T, sig *memSignaling, bookingID string) string {
	t.Helper()
	roomID := booking.RoomID(bookingID)
	err := sig.CreateRoom(context.Background(), &models.CallRoom{
		ID:        roomID,
		BookingID: bookingID,
		DoctorID:  "doc-1",
		Status:    "active",
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return roomID
}

func TestFullHandshake(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	roomID := provisionRoom(t, sig, "b1")

	doctorReg := &peerRegistry{}
	customerReg := &peerRegistry{}
	doctor := newTestCoordinator(bs, sig, doctorReg, models.RoleInitiator, &fakeDevice{stream: &fakeStream{}})
	customer := newTestCoordinator(bs, sig, customerReg, models.RoleResponder, &fakeDevice{stream: &fakeStream{}})

	ctx := context.Background()
	errs := make(chan error, 2)
	go func() { errs <- doctor.Run(ctx) }()
	go func() { errs <- customer.Run(ctx) }()

	// Media flowed on both sides and the booking transitioned once.
	waitFor(t, "call start", func() bool {
		return bs.snapshot().Status == models.BookingInCall
	})
	waitFor(t, "candidate exchange", func() bool {
		d, c := doctorReg.first(), customerReg.first()
		return d != nil && c != nil && d.deliveredCandidates() >= 1 && c.deliveredCandidates() >= 1
	})
	if bs.startCount() != 1 {
		t.Errorf("call start transitions = %d, want 1", bs.startCount())
	}

	doctor.End()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	}

	final := bs.snapshot()
	if final.Status != models.BookingCompleted {
		t.Errorf("final status = %q, want completed", final.Status)
	}
	if bs.endCount() != 1 {
		t.Errorf("call end transitions = %d, want 1", bs.endCount())
	}
	room, err := sig.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if !room.Ended {
		t.Errorf("room not marked ended")
	}
	if room.Offer != nil || room.Answer != nil || sig.candidateCount(roomID) != 0 {
		t.Errorf("room not cleared: offer=%v answer=%v candidates=%d",
			room.Offer, room.Answer, sig.candidateCount(roomID))
	}
	if p := doctorReg.first(); p == nil || !p.isDestroyed() {
		t.Errorf("doctor peer not destroyed")
	}
	if p := customerReg.first(); p == nil || !p.isDestroyed() {
		t.Errorf("customer peer not destroyed")
	}
}

func TestResponderBuffersEarlyCandidatesAndDedupes(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	roomID := provisionRoom(t, sig, "b1")
	ctx := context.Background()

	// Remote candidates land before the offer does.
	for i := 0; i < 3; i++ {
		payload := models.Signal{Candidate: json.RawMessage(fmt.Sprintf(`{"c":"early-%d"}`, i))}
		if err := sig.AddCandidate(ctx, roomID, models.RoleInitiator, payload); err != nil {
			t.Fatalf("AddCandidate: %v", err)
		}
	}

	reg := &peerRegistry{}
	stream := &fakeStream{}
	customer := newTestCoordinator(bs, sig, reg, models.RoleResponder, &fakeDevice{stream: stream})

	done := make(chan error, 1)
	go func() { done <- customer.Run(ctx) }()

	if err := sig.SetOffer(ctx, roomID, models.Signal{Type: "offer", SDP: "sdp-offer"}); err != nil {
		t.Fatalf("SetOffer: %v", err)
	}

	waitFor(t, "buffered candidates delivered", func() bool {
		p := reg.first()
		return p != nil && p.deliveredCandidates() == 3
	})

	// A stream restart redelivers the backlog; the peer must not see the
	// candidates again.
	sig.redeliverCandidates(roomID, models.RoleInitiator)
	time.Sleep(50 * time.Millisecond)
	if got := reg.first().deliveredCandidates(); got != 3 {
		t.Errorf("delivered candidates after redelivery = %d, want 3", got)
	}

	// The answer made it to the shared record.
	room, err := sig.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Answer == nil || !room.Answer.IsAnswer() {
		t.Errorf("answer not published: %+v", room.Answer)
	}

	// The remote side hangs up; the passive exit must skip the bookkeeping.
	if err := sig.EndRoom(ctx, roomID); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil on remote end", err)
	}
	if bs.endCount() != 0 {
		t.Errorf("passive side ran call end %d times, want 0", bs.endCount())
	}
	if !stream.isStopped() {
		t.Errorf("local media not released on passive exit")
	}
}

func TestClosedCandidateStreamDoesNotSpin(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	roomID := provisionRoom(t, sig, "b1")
	ctx := context.Background()

	reg := &peerRegistry{}
	stream := &fakeStream{}
	customer := newTestCoordinator(bs, sig, reg, models.RoleResponder, &fakeDevice{stream: stream})

	done := make(chan error, 1)
	go func() { done <- customer.Run(ctx) }()

	if err := sig.SetOffer(ctx, roomID, models.Signal{Type: "offer", SDP: "sdp-offer"}); err != nil {
		t.Fatalf("SetOffer: %v", err)
	}
	waitFor(t, "call start", func() bool {
		return bs.snapshot().Status == models.BookingInCall
	})

	// The candidate stream dies mid-call. The event loop must stop
	// selecting on the closed channel instead of spinning on it.
	before := reg.first().pollCount()
	sig.killCandidateStream(roomID, models.RoleInitiator)
	time.Sleep(200 * time.Millisecond)
	if polls := reg.first().pollCount() - before; polls > 50 {
		t.Fatalf("event loop iterated %d times after candidate stream closed, want a handful", polls)
	}

	// The session is still live and ends cleanly.
	customer.End()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if bs.snapshot().Status != models.BookingCompleted {
		t.Errorf("status = %q, want completed", bs.snapshot().Status)
	}
	if !stream.isStopped() {
		t.Errorf("local media not released")
	}
}

func TestRunRejectsCompletedBooking(t *testing.T) {
	b := acceptedBooking("b1")
	b.Status = models.BookingCompleted
	bs := &fakeCallBookings{b: b}
	sig := newMemSignaling()
	provisionRoom(t, sig, "b1")

	device := &fakeDevice{stream: &fakeStream{}}
	c := newTestCoordinator(bs, sig, &peerRegistry{}, models.RoleResponder, device)

	if err := c.Run(context.Background()); !errors.Is(err, ErrBookingCompleted) {
		t.Fatalf("err = %v, want ErrBookingCompleted", err)
	}
	if device.stream.isStopped() {
		t.Errorf("stream acquired and stopped for rejected join")
	}
}

func TestMediaAcquisitionFailure(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	provisionRoom(t, sig, "b1")

	c := newTestCoordinator(bs, sig, &peerRegistry{}, models.RoleInitiator,
		&fakeDevice{err: errors.New("camera busy")})

	err := c.Run(context.Background())
	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("err = %v, want *NegotiationError", err)
	}
	if negErr.Stage != "media capture" {
		t.Errorf("stage = %q, want media capture", negErr.Stage)
	}
}

func TestPeerErrorTearsDownSession(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	roomID := provisionRoom(t, sig, "b1")

	stream := &fakeStream{}
	failing := func(cfg PeerConfig) (Peer, error) {
		p := &fakePeer{initiator: cfg.Initiator, events: make(chan PeerEvent, 16)}
		p.emit(PeerEvent{Type: PeerError, Err: errors.New("ice failed")})
		return p, nil
	}
	c := NewCoordinator(Config{
		Logger:    zap.NewNop(),
		Signaling: sig,
		Bookings:  bs,
		Device:    &fakeDevice{stream: stream},
		NewPeer:   failing,
		Role:      models.RoleInitiator,
		BookingID: "b1",
	})

	err := c.Run(context.Background())
	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("err = %v, want *NegotiationError", err)
	}

	// Failure still runs the termination bookkeeping.
	if bs.snapshot().Status != models.BookingCompleted {
		t.Errorf("booking status = %q, want completed", bs.snapshot().Status)
	}
	if bs.snapshot().CallDurationSeconds != 0 {
		t.Errorf("duration = %d, want 0 for a call that never connected", bs.snapshot().CallDurationSeconds)
	}
	room, _ := sig.GetRoom(context.Background(), roomID)
	if !room.Ended {
		t.Errorf("room not marked ended after failure")
	}
	if !stream.isStopped() {
		t.Errorf("local media not released after failure")
	}
}

func TestEndBeforeConnect(t *testing.T) {
	bs := &fakeCallBookings{b: acceptedBooking("b1")}
	sig := newMemSignaling()
	provisionRoom(t, sig, "b1")

	stream := &fakeStream{}
	c := newTestCoordinator(bs, sig, &peerRegistry{}, models.RoleResponder, &fakeDevice{stream: stream})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	c.End()
	c.End() // idempotent
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	final := bs.snapshot()
	if final.Status != models.BookingCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.CallDurationSeconds != 0 {
		t.Errorf("duration = %d, want 0", final.CallDurationSeconds)
	}
	if !stream.isStopped() {
		t.Errorf("local media not released")
	}
}

package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	bookingRepo "sakhi/database/repository/booking"
	ledgerRepo "sakhi/database/repository/ledger"
	roomRepo "sakhi/database/repository/room"
	"sakhi/models"
	"sakhi/services/booking"

	"go.uber.org/zap"
)

// fakeBookingRepo is an in-memory stand-in for the mongo repository. It
// reproduces the compare-and-set semantics of SettleEscrow and
// ExpireWithRefund so concurrency tests exercise the same exactly-once
// guarantee.
type fakeBookingRepo struct {
	bookingRepo.Repository

	mu       sync.Mutex
	bookings map[string]*models.Booking
	balances map[string]map[ledgerRepo.Field]float64
	logs     []models.Transaction
}

func newFakeBookingRepo(bs ...*models.Booking) *fakeBookingRepo {
	r := &fakeBookingRepo{
		bookings: make(map[string]*models.Booking),
		balances: make(map[string]map[ledgerRepo.Field]float64),
	}
	for _, b := range bs {
		r.bookings[b.ID] = b
	}
	return r
}

func (r *fakeBookingRepo) apply(ops []ledgerRepo.BalanceOp, logs []models.Transaction) {
	for _, op := range ops {
		if r.balances[op.AccountID] == nil {
			r.balances[op.AccountID] = make(map[ledgerRepo.Field]float64)
		}
		r.balances[op.AccountID][op.Field] += op.Delta
	}
	r.logs = append(r.logs, logs...)
}

func (r *fakeBookingRepo) balance(accountID string, f ledgerRepo.Field) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[accountID][f]
}

func (r *fakeBookingRepo) FindSettleable(ctx context.Context) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.Status == models.BookingCompleted && b.PaymentStatus == models.PaymentEscrow {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) SettleEscrow(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return bookingRepo.ErrBookingNotFound
	}
	if b.Status != models.BookingCompleted || b.PaymentStatus != models.PaymentEscrow {
		return bookingRepo.ErrSettlementConflict
	}
	b.PaymentStatus = models.PaymentComplete
	r.apply(ops, logs)
	return nil
}

func (r *fakeBookingRepo) FindStaleAccepted(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.Status == models.BookingAccepted && b.UpdatedAt.Before(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) ExpireWithRefund(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return bookingRepo.ErrBookingNotFound
	}
	if b.Status != models.BookingAccepted {
		return bookingRepo.ErrInvalidTransition
	}
	b.Status = models.BookingExpired
	b.PaymentStatus = models.PaymentComplete
	r.apply(ops, logs)
	return nil
}

func newEngine(repo bookingRepo.Repository) *Engine {
	return &Engine{
		Repo:               repo,
		Logger:             zap.NewNop(),
		MinBillableSeconds: 30,
		FeeRate:            0.10,
		AcceptTimeout:      30 * time.Minute,
	}
}

func completedBooking(id string, duration int) *models.Booking {
	return &models.Booking{
		ID:                  id,
		CustomerID:          "cust-1",
		DoctorID:            "doc-1",
		CustomerName:        "Asha",
		AmountPaid:          100,
		Status:              models.BookingCompleted,
		PaymentStatus:       models.PaymentEscrow,
		CallDurationSeconds: duration,
		UpdatedAt:           time.Now().UTC(),
	}
}

func TestSweepReleasesEscrowAtThreshold(t *testing.T) {
	repo := newFakeBookingRepo(completedBooking("b1", 30))
	eng := newEngine(repo)

	settled, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}

	if got := repo.balance("doc-1", ledgerRepo.FieldWaiting); got != -90 {
		t.Errorf("doctor waiting delta = %v, want -90", got)
	}
	if got := repo.balance("doc-1", ledgerRepo.FieldAccumulated); got != 90 {
		t.Errorf("doctor accumulated delta = %v, want 90", got)
	}
	if got := repo.balance(ledgerRepo.PlatformAccountID, ledgerRepo.FieldAccumulated); got != 10 {
		t.Errorf("platform fee = %v, want 10", got)
	}
	if got := repo.balance("cust-1", ledgerRepo.FieldWallet); got != 0 {
		t.Errorf("customer wallet delta = %v, want 0", got)
	}
	if repo.bookings["b1"].PaymentStatus != models.PaymentComplete {
		t.Errorf("paymentStatus = %q, want complete", repo.bookings["b1"].PaymentStatus)
	}
}

func TestSweepRefundsBelowThreshold(t *testing.T) {
	repo := newFakeBookingRepo(completedBooking("b1", 29))
	eng := newEngine(repo)

	if _, err := eng.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if got := repo.balance("cust-1", ledgerRepo.FieldWallet); got != 100 {
		t.Errorf("customer refund = %v, want 100", got)
	}
	if got := repo.balance("doc-1", ledgerRepo.FieldWaiting); got != -90 {
		t.Errorf("doctor waiting delta = %v, want -90", got)
	}
	if got := repo.balance("doc-1", ledgerRepo.FieldAccumulated); got != 0 {
		t.Errorf("doctor accumulated delta = %v, want 0", got)
	}
	if got := repo.balance(ledgerRepo.PlatformAccountID, ledgerRepo.FieldAccumulated); got != 0 {
		t.Errorf("platform fee = %v, want 0 on refund", got)
	}
}

func TestSweepIgnoresNonEscrowBookings(t *testing.T) {
	// Decline leaves paymentStatus at escrow, so the sweep must skip it
	// on status alone.
	declined := completedBooking("b1", 60)
	declined.Status = models.BookingDeclined
	pending := completedBooking("b2", 0)
	pending.Status = models.BookingPending
	alreadySettled := completedBooking("b3", 60)
	alreadySettled.PaymentStatus = models.PaymentComplete

	repo := newFakeBookingRepo(declined, pending, alreadySettled)
	eng := newEngine(repo)

	settled, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if settled != 0 {
		t.Fatalf("settled = %d, want 0", settled)
	}
	if len(repo.logs) != 0 {
		t.Errorf("logs appended for non-settleable bookings: %v", repo.logs)
	}
}

func TestConcurrentSweepsSettleExactlyOnce(t *testing.T) {
	repo := newFakeBookingRepo(completedBooking("b1", 120))
	eng := newEngine(repo)

	const sweeps = 16
	var wg sync.WaitGroup
	results := make([]int, sweeps)
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := eng.Sweep(context.Background())
			if err != nil {
				t.Errorf("Sweep %d: %v", i, err)
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	if total != 1 {
		t.Fatalf("total settled across concurrent sweeps = %d, want 1", total)
	}
	if got := repo.balance("doc-1", ledgerRepo.FieldAccumulated); got != 90 {
		t.Errorf("doctor accumulated delta = %v, want 90 (applied once)", got)
	}
}

func TestExpireStaleRefundsStalledHandshakes(t *testing.T) {
	stale := &models.Booking{
		ID:            "b-stale",
		CustomerID:    "cust-1",
		DoctorID:      "doc-1",
		AmountPaid:    200,
		Status:        models.BookingAccepted,
		PaymentStatus: models.PaymentEscrow,
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	fresh := &models.Booking{
		ID:            "b-fresh",
		CustomerID:    "cust-2",
		DoctorID:      "doc-1",
		AmountPaid:    200,
		Status:        models.BookingAccepted,
		PaymentStatus: models.PaymentEscrow,
		UpdatedAt:     time.Now().UTC(),
	}
	repo := newFakeBookingRepo(stale, fresh)
	eng := newEngine(repo)

	expired, err := eng.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if stale.Status != models.BookingExpired {
		t.Errorf("stale booking status = %q, want expired", stale.Status)
	}
	if fresh.Status != models.BookingAccepted {
		t.Errorf("fresh booking status = %q, want accepted", fresh.Status)
	}
	if got := repo.balance("cust-1", ledgerRepo.FieldWallet); got != 200 {
		t.Errorf("customer refund = %v, want 200", got)
	}
	if got := repo.balance("doc-1", ledgerRepo.FieldWaiting); got != -180 {
		t.Errorf("doctor waiting delta = %v, want -180", got)
	}
}

type fakeExpirySignaling struct {
	roomRepo.Signaling

	mu      sync.Mutex
	ended   []string
	cleared []string
}

func (s *fakeExpirySignaling) EndRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, roomID)
	return nil
}

func (s *fakeExpirySignaling) ClearRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, roomID)
	return nil
}

func TestExpireStaleTearsDownRoom(t *testing.T) {
	stale := &models.Booking{
		ID:            "b-stale",
		CustomerID:    "cust-1",
		DoctorID:      "doc-1",
		AmountPaid:    100,
		Status:        models.BookingAccepted,
		PaymentStatus: models.PaymentEscrow,
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	repo := newFakeBookingRepo(stale)
	sig := &fakeExpirySignaling{}
	eng := newEngine(repo)
	eng.Signaling = sig

	if _, err := eng.ExpireStale(context.Background()); err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}

	wantRoom := booking.RoomID("b-stale")
	if len(sig.ended) != 1 || sig.ended[0] != wantRoom {
		t.Errorf("ended rooms = %v, want [%s]", sig.ended, wantRoom)
	}
	if len(sig.cleared) != 1 || sig.cleared[0] != wantRoom {
		t.Errorf("cleared rooms = %v, want [%s]", sig.cleared, wantRoom)
	}
}

func TestExpireStaleDisabledWithoutTimeout(t *testing.T) {
	repo := newFakeBookingRepo()
	eng := newEngine(repo)
	eng.AcceptTimeout = 0

	expired, err := eng.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0", expired)
	}
}

package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"sakhi/database"
	ledgerRepo "sakhi/database/repository/ledger"
	"sakhi/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoBookingRepo implements Repository on the bookings collection,
// composing money movements with the ledger inside shared sessions.
type MongoBookingRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
	ledger ledgerRepo.Repository
}

// NewMongoBookingRepo constructs the production booking repository.
func NewMongoBookingRepo(ledger ledgerRepo.Repository) *MongoBookingRepo {
	return &MongoBookingRepo{
		client: database.MongoClient,
		coll:   database.DB().Collection("bookings"),
		ledger: ledger,
	}
}

func (r *MongoBookingRepo) withTxn(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("booking repo: failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

func (r *MongoBookingRepo) CreateWithEscrow(ctx context.Context, b *models.Booking, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	return r.withTxn(ctx, func(sessCtx mongo.SessionContext) error {
		if err := r.ledger.ApplyTx(sessCtx, ops, logs); err != nil {
			return err
		}
		if _, err := r.coll.InsertOne(sessCtx, b); err != nil {
			return fmt.Errorf("booking repo: failed to insert booking: %w", err)
		}
		return nil
	})
}

func (r *MongoBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MongoBookingRepo) ListByCustomer(ctx context.Context, customerID string) ([]models.Booking, error) {
	return r.find(ctx, bson.M{"customerId": customerID})
}

func (r *MongoBookingRepo) ListByDoctorStatus(ctx context.Context, doctorID string, statuses []string) ([]models.Booking, error) {
	return r.find(ctx, bson.M{"doctorId": doctorID, "status": bson.M{"$in": statuses}})
}

func (r *MongoBookingRepo) find(ctx context.Context, filter bson.M) ([]models.Booking, error) {
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// cas performs a compare-and-set status transition. Zero matched documents
// means the booking was not in the expected state.
func (r *MongoBookingRepo) cas(ctx context.Context, filter, set bson.M) error {
	set["updatedAt"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *MongoBookingRepo) MarkAccepted(ctx context.Context, id, roomID string) error {
	return r.cas(ctx,
		bson.M{"id": id, "status": models.BookingPending},
		bson.M{"status": models.BookingAccepted, "videoRoomId": roomID},
	)
}

func (r *MongoBookingRepo) MarkInCall(ctx context.Context, id string, startedAt time.Time) error {
	return r.cas(ctx,
		bson.M{"id": id, "status": models.BookingAccepted},
		bson.M{"status": models.BookingInCall, "callStartedAt": startedAt},
	)
}

func (r *MongoBookingRepo) MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSeconds int) error {
	return r.cas(ctx,
		bson.M{"id": id, "status": bson.M{"$in": []string{models.BookingInCall, models.BookingAccepted}}},
		bson.M{
			"status":              models.BookingCompleted,
			"callEndedAt":         endedAt,
			"callDurationSeconds": durationSeconds,
		},
	)
}

func (r *MongoBookingRepo) DeclineWithRefund(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	return r.withTxn(ctx, func(sessCtx mongo.SessionContext) error {
		res, err := r.coll.UpdateOne(sessCtx,
			bson.M{"id": id, "status": models.BookingPending},
			bson.M{"$set": bson.M{"status": models.BookingDeclined, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrInvalidTransition
		}
		return r.ledger.ApplyTx(sessCtx, ops, logs)
	})
}

func (r *MongoBookingRepo) SettleEscrow(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	return r.withTxn(ctx, func(sessCtx mongo.SessionContext) error {
		res, err := r.coll.UpdateOne(sessCtx,
			bson.M{"id": id, "status": models.BookingCompleted, "paymentStatus": models.PaymentEscrow},
			bson.M{"$set": bson.M{"paymentStatus": models.PaymentComplete, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrSettlementConflict
		}
		return r.ledger.ApplyTx(sessCtx, ops, logs)
	})
}

func (r *MongoBookingRepo) ExpireWithRefund(ctx context.Context, id string, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	return r.withTxn(ctx, func(sessCtx mongo.SessionContext) error {
		res, err := r.coll.UpdateOne(sessCtx,
			bson.M{"id": id, "status": models.BookingAccepted},
			bson.M{"$set": bson.M{"status": models.BookingExpired, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrInvalidTransition
		}
		return r.ledger.ApplyTx(sessCtx, ops, logs)
	})
}

func (r *MongoBookingRepo) FindSettleable(ctx context.Context) ([]models.Booking, error) {
	return r.find(ctx, bson.M{
		"status":        models.BookingCompleted,
		"paymentStatus": models.PaymentEscrow,
	})
}

func (r *MongoBookingRepo) FindStaleAccepted(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	return r.find(ctx, bson.M{
		"status":    models.BookingAccepted,
		"updatedAt": bson.M{"$lt": cutoff},
	})
}

func (r *MongoBookingRepo) AppendPrescription(ctx context.Context, id string, p models.Prescription) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{
			"$push": bson.M{"prescriptions": p},
			"$inc":  bson.M{"prescriptionCount": 1},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrBookingNotFound
	}
	return nil
}

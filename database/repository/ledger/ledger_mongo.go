package ledgerRepo

import (
	"context"
	"fmt"
	"time"

	"sakhi/database"
	"sakhi/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedgerRepo implements Repository on the users and transactions
// collections.
type MongoLedgerRepo struct {
	client   *mongo.Client
	userColl *mongo.Collection
	txColl   *mongo.Collection
}

// NewMongoLedgerRepo constructs the production ledger repository.
func NewMongoLedgerRepo() *MongoLedgerRepo {
	db := database.DB()
	return &MongoLedgerRepo{
		client:   database.MongoClient,
		userColl: db.Collection("users"),
		txColl:   db.Collection("transactions"),
	}
}

// Transfer runs the ops and log appends in a dedicated mongo transaction.
func (r *MongoLedgerRepo) Transfer(ctx context.Context, ops []BalanceOp, logs []models.Transaction) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("ledger: failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, r.ApplyTx(sessCtx, ops, logs)
	})
	return err
}

// ApplyTx applies ops and appends logs inside the caller's session. Each
// account is read back under the transaction's snapshot so the floor check
// cannot race a concurrent writer: conflicting transactions abort and the
// caller retries or fails whole.
func (r *MongoLedgerRepo) ApplyTx(sessCtx mongo.SessionContext, ops []BalanceOp, logs []models.Transaction) error {
	for _, op := range ops {
		if op.AccountID == PlatformAccountID {
			if err := r.applyPlatformOp(sessCtx, op); err != nil {
				return err
			}
			continue
		}

		var acct models.User
		err := r.userColl.FindOne(sessCtx, bson.M{"id": op.AccountID}).Decode(&acct)
		if err == mongo.ErrNoDocuments {
			return fmt.Errorf("ledger: %w: %s", ErrAccountNotFound, op.AccountID)
		}
		if err != nil {
			return fmt.Errorf("ledger: failed to read account %s: %w", op.AccountID, err)
		}

		if current(acct, op.Field)+op.Delta < 0 {
			return fmt.Errorf("ledger: %s on %s: %w", op.Field, op.AccountID, ErrInsufficientFunds)
		}

		update := bson.M{
			"$inc": bson.M{string(op.Field): op.Delta},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		}
		if _, err := r.userColl.UpdateOne(sessCtx, bson.M{"id": op.AccountID}, update); err != nil {
			return fmt.Errorf("ledger: failed to apply op on %s: %w", op.AccountID, err)
		}
	}

	for _, entry := range logs {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		if _, err := r.txColl.InsertOne(sessCtx, entry); err != nil {
			return fmt.Errorf("ledger: failed to append transaction log: %w", err)
		}
	}
	return nil
}

// applyPlatformOp credits the reserved platform revenue account, creating
// it on first use. Platform credits are always non-negative.
func (r *MongoLedgerRepo) applyPlatformOp(sessCtx mongo.SessionContext, op BalanceOp) error {
	if op.Delta < 0 {
		return fmt.Errorf("ledger: platform account cannot be debited: %w", ErrInsufficientFunds)
	}
	update := bson.M{
		"$inc": bson.M{string(op.Field): op.Delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
		"$setOnInsert": bson.M{
			"id":        PlatformAccountID,
			"role":      "platform",
			"createdAt": time.Now().UTC(),
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.userColl.UpdateOne(sessCtx, bson.M{"id": PlatformAccountID}, update, opts); err != nil {
		return fmt.Errorf("ledger: failed to credit platform account: %w", err)
	}
	return nil
}

// History returns the most recent transaction log entries for a user.
func (r *MongoLedgerRepo) History(ctx context.Context, userID string, limit int64) ([]models.Transaction, error) {
	opts := options.Find().SetSort(bson.M{"timestamp": -1}).SetLimit(limit)
	cursor, err := r.txColl.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []models.Transaction
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func current(acct models.User, f Field) float64 {
	switch f {
	case FieldWallet:
		return acct.WalletBalance
	case FieldWaiting:
		return acct.WaitingBalance
	case FieldAccumulated:
		return acct.AccumulatedBalance
	}
	return 0
}

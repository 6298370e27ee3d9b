package userRepo

import (
	"context"
	"fmt"
	"time"

	"sakhi/database"
	ledgerRepo "sakhi/database/repository/ledger"
	"sakhi/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoUserRepo implements Repository on the users collection.
type MongoUserRepo struct {
	client     *mongo.Client
	coll       *mongo.Collection
	payoutColl *mongo.Collection
	ledger     ledgerRepo.Repository
}

// NewMongoUserRepo constructs the production user repository.
func NewMongoUserRepo(ledger ledgerRepo.Repository) *MongoUserRepo {
	db := database.DB()
	return &MongoUserRepo{
		client:     database.MongoClient,
		coll:       db.Collection("users"),
		payoutColl: db.Collection("payout_requests"),
		ledger:     ledger,
	}
}

func (r *MongoUserRepo) Create(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		return fmt.Errorf("user repo: failed to insert user: %w", err)
	}
	return nil
}

func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoUserRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"phoneNumber": phone})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := r.coll.FindOne(ctx, filter).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepo) ListOnlineDoctors(ctx context.Context) ([]models.User, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"role": models.RoleDoctor, "online": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var doctors []models.User
	if err := cursor.All(ctx, &doctors); err != nil {
		return nil, err
	}
	return doctors, nil
}

func (r *MongoUserRepo) SetOnline(ctx context.Context, id string, online bool) error {
	return r.set(ctx, id, bson.M{"online": online})
}

func (r *MongoUserRepo) SetSchedule(ctx context.Context, id string, schedule map[string]models.DaySchedule) error {
	return r.set(ctx, id, bson.M{"schedule": schedule})
}

func (r *MongoUserRepo) SetFCMToken(ctx context.Context, id, token string) error {
	return r.set(ctx, id, bson.M{"fcmToken": token})
}

func (r *MongoUserRepo) set(ctx context.Context, id string, fields bson.M) error {
	fields["updatedAt"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepo) CreatePayoutRequest(ctx context.Context, req *models.PayoutRequest, ops []ledgerRepo.BalanceOp, logs []models.Transaction) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.CreatedAt = time.Now().UTC()

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("user repo: failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := r.ledger.ApplyTx(sessCtx, ops, logs); err != nil {
			return nil, err
		}
		if _, err := r.payoutColl.InsertOne(sessCtx, req); err != nil {
			return nil, fmt.Errorf("user repo: failed to insert payout request: %w", err)
		}
		return nil, nil
	})
	return err
}

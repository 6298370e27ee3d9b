package roomRepo

import (
	"context"
	"fmt"
	"time"

	"sakhi/database"
	"sakhi/models"
	"sakhi/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoSignaling implements Signaling on the video_rooms and
// call_candidates collections, using change streams for the live watches.
type MongoSignaling struct {
	roomColl      *mongo.Collection
	candidateColl *mongo.Collection
}

// NewMongoSignaling constructs the production signaling repository.
func NewMongoSignaling() *MongoSignaling {
	db := database.DB()
	return &MongoSignaling{
		roomColl:      db.Collection("video_rooms"),
		candidateColl: db.Collection("call_candidates"),
	}
}

func (r *MongoSignaling) CreateRoom(ctx context.Context, room *models.CallRoom) error {
	room.CreatedAt = time.Now().UTC()
	// Upsert keeps a re-entrant accept from failing on a duplicate key.
	update := bson.M{"$setOnInsert": room}
	opts := options.Update().SetUpsert(true)
	if _, err := r.roomColl.UpdateOne(ctx, bson.M{"id": room.ID}, update, opts); err != nil {
		return fmt.Errorf("signaling: failed to create room %s: %w", room.ID, err)
	}
	return nil
}

func (r *MongoSignaling) GetRoom(ctx context.Context, roomID string) (*models.CallRoom, error) {
	var room models.CallRoom
	err := r.roomColl.FindOne(ctx, bson.M{"id": roomID}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *MongoSignaling) SetOffer(ctx context.Context, roomID string, offer models.Signal) error {
	return r.setField(ctx, roomID, bson.M{"offer": offer})
}

func (r *MongoSignaling) SetAnswer(ctx context.Context, roomID string, answer models.Signal) error {
	return r.setField(ctx, roomID, bson.M{"answer": answer})
}

func (r *MongoSignaling) setField(ctx context.Context, roomID string, fields bson.M) error {
	res, err := r.roomColl.UpdateOne(ctx, bson.M{"id": roomID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *MongoSignaling) AddCandidate(ctx context.Context, roomID string, side models.CallRole, payload models.Signal) error {
	cand := models.Candidate{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Side:      side,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.candidateColl.InsertOne(ctx, cand); err != nil {
		return fmt.Errorf("signaling: failed to append candidate: %w", err)
	}
	return nil
}

// WatchRoom opens a change stream on the room document. The current record
// is delivered first so a late joiner sees an already-written offer.
func (r *MongoSignaling) WatchRoom(ctx context.Context, roomID string) (<-chan models.CallRoom, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"fullDocument.id": roomID}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := r.roomColl.Watch(watchCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("signaling: failed to watch room %s: %w", roomID, err)
	}

	out := make(chan models.CallRoom, 8)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		logger := utils.GetLogger()

		// Snapshot after the stream is open so no update can fall between.
		if room, err := r.GetRoom(watchCtx, roomID); err == nil {
			select {
			case out <- *room:
			case <-watchCtx.Done():
				return
			}
		}

		for stream.Next(watchCtx) {
			var change struct {
				FullDocument models.CallRoom `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				logger.Warn("signaling: failed to decode room change", zap.Error(err))
				continue
			}
			if change.FullDocument.ID == "" {
				continue
			}
			select {
			case out <- change.FullDocument:
			case <-watchCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// WatchCandidates opens a change stream on one side's candidate appends,
// delivering pre-existing candidates first. A candidate racing the snapshot
// may be delivered twice; consumers deduplicate by candidate ID.
func (r *MongoSignaling) WatchCandidates(ctx context.Context, roomID string, side models.CallRole) (<-chan models.Candidate, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"operationType":       "insert",
			"fullDocument.roomId": roomID,
			"fullDocument.side":   side,
		}}},
	}
	stream, err := r.candidateColl.Watch(watchCtx, pipeline)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("signaling: failed to watch candidates %s/%s: %w", roomID, side, err)
	}

	out := make(chan models.Candidate, 32)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		logger := utils.GetLogger()

		findOpts := options.Find().SetSort(bson.M{"createdAt": 1})
		cursor, err := r.candidateColl.Find(watchCtx, bson.M{"roomId": roomID, "side": side}, findOpts)
		if err == nil {
			var existing []models.Candidate
			if err := cursor.All(watchCtx, &existing); err == nil {
				for _, cand := range existing {
					select {
					case out <- cand:
					case <-watchCtx.Done():
						return
					}
				}
			}
		}

		for stream.Next(watchCtx) {
			var change struct {
				FullDocument models.Candidate `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				logger.Warn("signaling: failed to decode candidate change", zap.Error(err))
				continue
			}
			select {
			case out <- change.FullDocument:
			case <-watchCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

func (r *MongoSignaling) EndRoom(ctx context.Context, roomID string) error {
	now := time.Now().UTC()
	return r.setField(ctx, roomID, bson.M{
		"ended":   true,
		"status":  "ended",
		"endedAt": now,
	})
}

func (r *MongoSignaling) ClearRoom(ctx context.Context, roomID string) error {
	if _, err := r.candidateColl.DeleteMany(ctx, bson.M{"roomId": roomID}); err != nil {
		return fmt.Errorf("signaling: failed to purge candidates for %s: %w", roomID, err)
	}
	_, err := r.roomColl.UpdateOne(ctx, bson.M{"id": roomID},
		bson.M{"$unset": bson.M{"offer": "", "answer": ""}},
	)
	if err != nil {
		return fmt.Errorf("signaling: failed to clear room %s: %w", roomID, err)
	}
	return nil
}

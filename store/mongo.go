package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripboard/db"
	"tripboard/metrics"
	"tripboard/models"
)

// tripDocID is the fixed _id of the one document in the collection.
const tripDocID = "trip-data"

type mongoDoc struct {
	ID              string `bson:"_id"`
	models.TripData `bson:",inline"`
}

// MongoStore keeps the document in a single-document collection.
type MongoStore struct {
	opts Options
	coll *mongo.Collection
}

func NewMongoStore(database *mongo.Database, opts Options) *MongoStore {
	return &MongoStore{
		opts: opts.withDefaults(),
		coll: database.Collection(db.TripDataCollection),
	}
}

func (s *MongoStore) Name() string { return "mongo" }

// Close is a no-op; the client is owned by the caller.
func (s *MongoStore) Close() error { return nil }

func (s *MongoStore) Read(ctx context.Context) (models.TripData, error) {
	doc, found, err := s.find(ctx)
	if err == nil && !found {
		doc, err = s.seed(ctx)
	}
	metrics.ObserveStore(s.Name(), "read", err)
	return doc, err
}

func (s *MongoStore) Write(ctx context.Context, doc models.TripData) (models.TripData, error) {
	next, err := s.update(ctx, doc, nil)
	metrics.ObserveStore(s.Name(), "write", err)
	return next, err
}

func (s *MongoStore) WriteIfUnchanged(ctx context.Context, doc models.TripData, expected string) (models.TripData, error) {
	next, err := s.update(ctx, doc, &expected)
	metrics.ObserveStore(s.Name(), "write", err)
	return next, err
}

// LastUpdated projects the stamp only.
func (s *MongoStore) LastUpdated(ctx context.Context) (string, error) {
	var out struct {
		LastUpdated string `bson:"lastUpdated"`
	}
	opts := options.FindOne().SetProjection(bson.M{"lastUpdated": 1})
	err := s.coll.FindOne(ctx, bson.M{"_id": tripDocID}, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		doc, err := s.Read(ctx)
		if err != nil {
			return "", err
		}
		return doc.LastUpdated, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: find stamp: %v", ErrUnavailable, err)
	}
	return out.LastUpdated, nil
}

func (s *MongoStore) find(ctx context.Context) (models.TripData, bool, error) {
	var raw mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": tripDocID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.TripData{}, false, nil
	}
	if err != nil {
		return models.TripData{}, false, fmt.Errorf("%w: find: %v", ErrUnavailable, err)
	}
	doc := raw.TripData.Normalize()
	doc.Sequence = doc.Sequence.Observe(doc)
	return doc, true, nil
}

func (s *MongoStore) seed(ctx context.Context) (models.TripData, error) {
	doc := s.opts.seed()
	_, err := s.coll.InsertOne(ctx, mongoDoc{ID: tripDocID, TripData: doc})
	if mongo.IsDuplicateKeyError(err) {
		// Another instance seeded first.
		existing, _, err := s.find(ctx)
		return existing, err
	}
	if err != nil {
		return models.TripData{}, fmt.Errorf("%w: seed: %v", ErrUnavailable, err)
	}
	return doc, nil
}

// update replaces the document with a filter on the previous stamp. A
// concurrent writer makes the filter miss, the upsert then collides on _id,
// and the loop re-reads and tries again.
func (s *MongoStore) update(ctx context.Context, doc models.TripData, expected *string) (models.TripData, error) {
	for i := 0; i < maxCASRetries; i++ {
		prev, found, err := s.find(ctx)
		if err != nil {
			return models.TripData{}, err
		}
		if expected != nil && *expected != prev.LastUpdated {
			return models.TripData{}, ErrConflict
		}
		next := models.Stamp(doc.Clone(), prev, s.opts.Now())

		filter := bson.M{"_id": tripDocID}
		if found {
			filter["lastUpdated"] = prev.LastUpdated
		}
		res, err := s.coll.ReplaceOne(ctx, filter, mongoDoc{ID: tripDocID, TripData: next},
			options.Replace().SetUpsert(true))
		switch {
		case mongo.IsDuplicateKeyError(err):
			continue
		case err != nil:
			return models.TripData{}, fmt.Errorf("%w: replace: %v", ErrUnavailable, err)
		case res.MatchedCount == 0 && res.UpsertedCount == 0:
			continue
		}
		return next, nil
	}
	if expected != nil {
		return models.TripData{}, ErrConflict
	}
	return models.TripData{}, fmt.Errorf("%w: write kept racing other writers", ErrUnavailable)
}

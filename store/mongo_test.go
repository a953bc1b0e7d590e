package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"tripboard/models"
)

const tripNS = "tripboard.tripdata"

func storedDoc(title, stamp string) bson.D {
	return bson.D{
		{Key: "_id", Value: tripDocID},
		{Key: "tripInfo", Value: bson.D{{Key: "title", Value: title}}},
		{Key: "attendees", Value: bson.A{
			bson.D{{Key: "id", Value: int64(7)}, {Key: "name", Value: "Kim"}, {Key: "confirmed", Value: true}},
		}},
		{Key: "lastUpdated", Value: stamp},
	}
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("read existing document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, tripNS, mtest.FirstBatch, storedDoc("from mongo", "2024-05-01T09:00:00.000Z")))
		s := NewMongoStore(mt.DB, Options{})

		doc, err := s.Read(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, "from mongo", doc.TripInfo.Title)
		assert.Equal(mt, "2024-05-01T09:00:00.000Z", doc.LastUpdated)
		require.Len(mt, doc.Attendees, 1)
		assert.True(mt, doc.Attendees[0].Confirmed)
		assert.NotNil(mt, doc.ChatMessages)
		assert.Equal(mt, int64(7), doc.Sequence.Attendee)
	})

	mt.Run("read seeds empty collection", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, tripNS, mtest.FirstBatch),
			mtest.CreateSuccessResponse(),
		)
		s := NewMongoStore(mt.DB, Options{})

		doc, err := s.Read(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, models.DefaultTripInfo().Title, doc.TripInfo.Title)
		assert.NotEmpty(mt, doc.LastUpdated)
	})

	mt.Run("write replaces with a later stamp", func(mt *mtest.T) {
		prev := "2024-05-01T09:00:00.000Z"
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, tripNS, mtest.FirstBatch, storedDoc("old", prev)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)
		s := NewMongoStore(mt.DB, Options{Now: fixedClock()})

		saved, err := s.Write(ctx, models.TripData{TripInfo: models.TripInfo{Title: "new"}})
		require.NoError(mt, err)
		assert.Equal(mt, "new", saved.TripInfo.Title)
		assert.Greater(mt, saved.LastUpdated, prev)
		assert.Equal(mt, int64(7), saved.Sequence.Attendee)
	})

	mt.Run("write if unchanged detects conflict", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, tripNS, mtest.FirstBatch, storedDoc("old", "2024-05-01T09:00:00.000Z")))
		s := NewMongoStore(mt.DB, Options{})

		_, err := s.WriteIfUnchanged(ctx, models.Default(), "2023-01-01T00:00:00.000Z")
		assert.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("last updated uses projection", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, tripNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: tripDocID}, {Key: "lastUpdated", Value: "2024-05-02T10:00:00.000Z"}}))
		s := NewMongoStore(mt.DB, Options{})

		ts, err := s.LastUpdated(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, "2024-05-02T10:00:00.000Z", ts)
	})

	mt.Run("server error is unavailable", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "boom"}))
		s := NewMongoStore(mt.DB, Options{})

		_, err := s.Read(ctx)
		assert.ErrorIs(mt, err, ErrUnavailable)
	})
}

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

var now = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func TestExclusionFilter(t *testing.T) {
	assert.Equal(t, bson.D{}, exclusionFilter(nil))
	assert.Equal(t,
		bson.D{{Key: "title", Value: bson.D{{Key: "$ne", Value: "Left"}}}},
		exclusionFilter(credential.OriginStaff.Exclusion()))
	assert.Equal(t,
		bson.D{{Key: "isLeave", Value: bson.D{{Key: "$ne", Value: true}}}},
		exclusionFilter(credential.OriginGuardian.Exclusion()))
}

func TestUpdateDocument(t *testing.T) {
	pw := "pw"
	op := upsert.Op{
		UserID: "E1",
		Overwrite: []upsert.Assignment{
			{Field: credential.FieldPassword, Value: &pw},
			{Field: credential.FieldEmail, Value: nil},
		},
		Union:      []string{credential.AppInstitute, credential.AppMentor},
		InsertOnly: upsert.InsertOnly{UserID: "E1", CreatedAt: now},
		UpdatedAt:  now,
	}

	want := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "password", Value: "pw"},
			{Key: "email", Value: nil},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$addToSet", Value: bson.D{
			{Key: "appId", Value: bson.D{{Key: "$each", Value: []string{"InstituteApp", "MentorApp"}}}},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "userId", Value: "E1"},
			{Key: "createdAt", Value: now},
		}},
	}
	assert.Equal(t, want, updateDocument(op))

	model := writeModel(op, nil)
	assert.Equal(t, bson.D{{Key: "userId", Value: "E1"}}, model.Filter)
	require.NotNil(t, model.Upsert)
	assert.True(t, *model.Upsert)
}

func TestWriteModel_TargetsOldestDuplicate(t *testing.T) {
	oldest := primitive.NewObjectIDFromTimestamp(now)
	model := writeModel(upsert.Op{UserID: "D1"}, oldest)
	assert.Equal(t, bson.D{{Key: "_id", Value: oldest}}, model.Filter)
	require.NotNil(t, model.Upsert)
	assert.True(t, *model.Upsert)
}

func TestOldestPipelineShape(t *testing.T) {
	p := oldestPipeline([]string{"D1", "E1"})
	require.Len(t, p, 2)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{
		{Key: "userId", Value: bson.D{{Key: "$in", Value: []string{"D1", "E1"}}}},
	}}}, p[0])
	assert.Equal(t, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$userId"},
		{Key: "ref", Value: bson.D{{Key: "$min", Value: "$_id"}}},
	}}}, p[1])

	_, err := bson.Marshal(bson.D{{Key: "pipeline", Value: p}})
	require.NoError(t, err)
}

func TestUpdateDocument_EmptyUnionEncodesArray(t *testing.T) {
	doc := updateDocument(upsert.Op{UserID: "X"})
	addToSet := doc[1].Value.(bson.D)
	each := addToSet[0].Value.(bson.D)
	assert.Equal(t, []string{}, each[0].Value)

	_, err := bson.Marshal(doc)
	require.NoError(t, err)
}

func TestCollectFailures(t *testing.T) {
	ops := []upsert.Op{{UserID: "E1"}, {UserID: "E2"}, {UserID: "E3"}}
	bwe := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Index: 1, Code: 2, Message: "Cannot apply $addToSet to non-array field"}},
			{WriteError: mongo.WriteError{Index: 7, Code: 11000, Message: "duplicate key"}},
		},
	}

	var res upsert.Result
	collectFailures(&res, ops, bwe)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, upsert.Failure{
		Index:  1,
		UserID: "E2",
		Reason: "code 2: Cannot apply $addToSet to non-array field",
	}, res.Failures[0])
	assert.Equal(t, 7, res.Failures[1].Index)
	assert.Empty(t, res.Failures[1].UserID)
}

func TestAppIDs(t *testing.T) {
	raw := func(v any) bson.RawValue {
		t.Helper()
		typ, data, err := bson.MarshalValue(v)
		require.NoError(t, err)
		return bson.RawValue{Type: typ, Value: data}
	}

	ids, ok := appIDs(raw(bson.A{"ParentApp", "ScholarApp"}))
	assert.True(t, ok)
	assert.Equal(t, []string{"ParentApp", "ScholarApp"}, ids)

	ids, ok = appIDs(raw(bson.A{}))
	assert.True(t, ok)
	assert.Equal(t, []string{}, ids)

	_, ok = appIDs(raw("ParentApp"))
	assert.False(t, ok, "a scalar is not an entitlement list")

	_, ok = appIDs(raw(bson.A{"ParentApp", 3}))
	assert.False(t, ok)

	_, ok = appIDs(bson.RawValue{})
	assert.False(t, ok, "absent appId")
}

func TestRefRoundTrip(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid, parseRef(refString(oid)))
	assert.Equal(t, "legacy-id", parseRef(refString("legacy-id")))
}

func TestCredentialDoc(t *testing.T) {
	url := "https://x"
	typ, data, err := bson.MarshalValue(bson.A{"MentorApp"})
	require.NoError(t, err)

	c := credentialDoc{
		ID:        "abc",
		UserID:    "E1",
		AppID:     bson.RawValue{Type: typ, Value: data},
		URL:       &url,
		CreatedAt: now,
	}.credential()

	assert.Equal(t, "abc", c.Ref)
	assert.Equal(t, "https://x", c.URL)
	assert.Equal(t, "", c.DeviceID)
	assert.True(t, c.CanAccess(credential.AppMentor))
	assert.Equal(t, now, c.CreatedAt)
}

func TestDuplicatePipelineShape(t *testing.T) {
	p := duplicatePipeline()
	require.Len(t, p, 5)
	assert.Equal(t, "$match", p[0][0].Key)
	assert.Equal(t, "$sort", p[1][0].Key, "members must be pushed in _id order")
	assert.Equal(t, "$group", p[2][0].Key)
	assert.Equal(t, "$match", p[3][0].Key)

	_, err := bson.Marshal(bson.D{{Key: "pipeline", Value: p}})
	require.NoError(t, err)
}

func TestWrapErr(t *testing.T) {
	err := wrapErr("ping", fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.True(t, credential.IsUnavailable(err))

	err = wrapErr("ping", mongo.ErrClientDisconnected)
	assert.True(t, credential.IsUnavailable(err))

	err = wrapErr("insert", errors.New("document too large"))
	assert.False(t, credential.IsUnavailable(err))
	assert.EqualError(t, err, "insert: document too large")
}

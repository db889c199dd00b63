package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

// ApplyBatch submits ops as one unordered bulk write.
//
// Write errors reported by the server become per-op failures. The server
// sets updatedAt on every matched op, so Modified counts every match whose
// document changed, including that timestamp.
func (s *Store) ApplyBatch(ctx context.Context, ops []upsert.Op) (upsert.Result, error) {
	var res upsert.Result
	if len(ops) == 0 {
		return res, nil
	}

	oldest, err := s.oldestRefs(ctx, ops)
	if err != nil {
		return res, err
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		models = append(models, writeModel(op, oldest[op.UserID]))
	}

	bulk, err := s.target.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if bulk != nil {
		res.Inserted = bulk.UpsertedCount
		res.Matched = bulk.MatchedCount
		res.Modified = bulk.ModifiedCount
	}
	if err == nil {
		return res, nil
	}
	if unreachable(err) {
		return res, wrapErr("bulk write", err)
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return res, fmt.Errorf("bulk write: %w", err)
	}
	collectFailures(&res, ops, bwe)
	return res, nil
}

// collectFailures records each server write error against its op.
func collectFailures(res *upsert.Result, ops []upsert.Op, bwe mongo.BulkWriteException) {
	for _, we := range bwe.WriteErrors {
		userID := ""
		if we.Index >= 0 && we.Index < len(ops) {
			userID = ops[we.Index].UserID
		}
		res.Fail(we.Index, userID, fmt.Errorf("code %d: %s", we.Code, we.Message))
	}
}

// oldestPipeline finds the lowest _id per userId among userIDs.
func oldestPipeline(userIDs []string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: string(credential.FieldUserID), Value: bson.D{{Key: "$in", Value: userIDs}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + string(credential.FieldUserID)},
			{Key: "ref", Value: bson.D{{Key: "$min", Value: "$_id"}}},
		}}},
	}
}

// oldestRefs maps each identity in ops to its oldest existing document, the
// member the resolver keeps once the write has entitled it.
func (s *Store) oldestRefs(ctx context.Context, ops []upsert.Op) (map[string]any, error) {
	userIDs := make([]string, 0, len(ops))
	for _, op := range ops {
		userIDs = append(userIDs, op.UserID)
	}
	cur, err := s.target.Aggregate(ctx, oldestPipeline(userIDs))
	if err != nil {
		return nil, wrapErr("find oldest credentials", err)
	}
	var rows []struct {
		UserID string `bson:"_id"`
		Ref    any    `bson:"ref"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, wrapErr("find oldest credentials", err)
	}
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.Ref
	}
	return out, nil
}

// writeModel renders op as a conditional upsert:
// $set for owned fields, $addToSet for entitlements, $setOnInsert for identity.
// An existing identity is addressed by the _id of its oldest document so
// owned fields land on the duplicate the resolver keeps.
func writeModel(op upsert.Op, ref any) *mongo.UpdateOneModel {
	filter := bson.D{{Key: string(credential.FieldUserID), Value: op.UserID}}
	if ref != nil {
		filter = bson.D{{Key: "_id", Value: ref}}
	}
	return mongo.NewUpdateOneModel().
		SetFilter(filter).
		SetUpdate(updateDocument(op)).
		SetUpsert(true)
}

func updateDocument(op upsert.Op) bson.D {
	set := make(bson.D, 0, len(op.Overwrite)+1)
	for _, a := range op.Overwrite {
		set = append(set, bson.E{Key: string(a.Field), Value: optionalValue(a.Value)})
	}
	set = append(set, bson.E{Key: string(credential.FieldUpdatedAt), Value: op.UpdatedAt})

	union := op.Union
	if union == nil {
		union = []string{}
	}
	return bson.D{
		{Key: "$set", Value: set},
		{Key: "$addToSet", Value: bson.D{
			{Key: string(credential.FieldAppID), Value: bson.D{{Key: "$each", Value: union}}},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: string(credential.FieldUserID), Value: op.InsertOnly.UserID},
			{Key: string(credential.FieldCreatedAt), Value: op.InsertOnly.CreatedAt},
		}},
	}
}

func optionalValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// InsertCredential stores rec as a new document without looking for an
// existing one, the way an independent writer does.
func (s *Store) InsertCredential(ctx context.Context, rec credential.Record) (string, error) {
	now := s.now()
	appIDs := rec.AppIDs
	if appIDs == nil {
		appIDs = []string{}
	}
	doc := bson.D{
		{Key: string(credential.FieldUserID), Value: rec.UserID},
		{Key: string(credential.FieldPassword), Value: optionalValue(rec.Password)},
		{Key: string(credential.FieldURL), Value: rec.URL},
		{Key: string(credential.FieldFirstName), Value: optionalValue(rec.FirstName)},
		{Key: string(credential.FieldLastName), Value: optionalValue(rec.LastName)},
		{Key: string(credential.FieldTitle), Value: optionalValue(rec.Title)},
		{Key: string(credential.FieldEmail), Value: optionalValue(rec.Email)},
		{Key: string(credential.FieldSchoolID), Value: optionalValue(rec.SchoolID)},
		{Key: string(credential.FieldSchoolGroupID), Value: optionalValue(rec.SchoolGroupID)},
		{Key: string(credential.FieldDeviceID), Value: rec.DeviceID},
		{Key: string(credential.FieldAppID), Value: appIDs},
		{Key: string(credential.FieldCreatedAt), Value: now},
		{Key: string(credential.FieldUpdatedAt), Value: now},
	}
	res, err := s.target.InsertOne(ctx, doc)
	if err != nil {
		return "", wrapErr("insert credential", err)
	}
	return refString(res.InsertedID), nil
}

// AddEntitlements adds appIDs missing from the credential ref.
func (s *Store) AddEntitlements(ctx context.Context, ref string, appIDs []string) error {
	res, err := s.target.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: parseRef(ref)}},
		bson.D{{Key: "$addToSet", Value: bson.D{
			{Key: string(credential.FieldAppID), Value: bson.D{{Key: "$each", Value: appIDs}}},
		}}},
	)
	if err != nil {
		return wrapErr("add entitlements to "+ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("add entitlements to %s: %w", ref, credential.ErrNotFound)
	}
	return nil
}

// DeleteRefs removes the credentials with the given refs.
func (s *Store) DeleteRefs(ctx context.Context, refs []string) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	ids := make(bson.A, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, parseRef(ref))
	}
	res, err := s.target.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, wrapErr("delete credentials", err)
	}
	return res.DeletedCount, nil
}

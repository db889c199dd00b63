package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/credsync/internal/credential"
)

// credentialDoc is the stored shape of a credential. appId is kept raw so
// absent and non-array values can be told apart from an empty array.
type credentialDoc struct {
	ID            any           `bson:"_id"`
	UserID        string        `bson:"userId"`
	AppID         bson.RawValue `bson:"appId"`
	FirstName     *string       `bson:"firstName"`
	LastName      *string       `bson:"lastName"`
	Password      *string       `bson:"password"`
	Email         *string       `bson:"email"`
	Title         *string       `bson:"title"`
	URL           *string       `bson:"url"`
	DeviceID      *string       `bson:"deviceId"`
	SchoolID      *string       `bson:"schoolId"`
	SchoolGroupID *string       `bson:"schoolGroupId"`
	CreatedAt     time.Time     `bson:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt"`
}

func (d credentialDoc) credential() credential.Credential {
	c := credential.Credential{Ref: refString(d.ID)}
	c.UserID = d.UserID
	c.AppIDs, c.HasAppIDs = appIDs(d.AppID)
	c.FirstName = d.FirstName
	c.LastName = d.LastName
	c.Password = d.Password
	c.Email = d.Email
	c.Title = d.Title
	c.SchoolID = d.SchoolID
	c.SchoolGroupID = d.SchoolGroupID
	if d.URL != nil {
		c.URL = *d.URL
	}
	if d.DeviceID != nil {
		c.DeviceID = *d.DeviceID
	}
	c.CreatedAt = d.CreatedAt
	c.UpdatedAt = d.UpdatedAt
	return c
}

// entitledFilter matches documents whose appId array contains appID.
// $elemMatch never matches a scalar appId.
func entitledFilter(appID string) bson.E {
	return bson.E{Key: string(credential.FieldAppID), Value: bson.D{
		{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: appID}}},
	}}
}

// FindByUserID returns the oldest credential for userID.
func (s *Store) FindByUserID(ctx context.Context, userID string) (credential.Credential, error) {
	var doc credentialDoc
	err := s.target.FindOne(ctx,
		bson.D{{Key: string(credential.FieldUserID), Value: userID}},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return credential.Credential{}, fmt.Errorf("find credential %q: %w", userID, credential.ErrNotFound)
	}
	if err != nil {
		return credential.Credential{}, wrapErr("find credential", err)
	}
	return doc.credential(), nil
}

// ListAll returns every credential ordered by userId, then _id.
func (s *Store) ListAll(ctx context.Context) ([]credential.Credential, error) {
	return s.list(ctx, "list credentials", bson.D{})
}

// ListEntitled returns every credential whose appId contains appID.
func (s *Store) ListEntitled(ctx context.Context, appID string) ([]credential.Credential, error) {
	return s.list(ctx, "list entitled credentials", bson.D{entitledFilter(appID)})
}

// CountEntitled counts credentials entitled to appID among userIDs.
func (s *Store) CountEntitled(ctx context.Context, appID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	filter := bson.D{
		{Key: string(credential.FieldUserID), Value: bson.D{{Key: "$in", Value: userIDs}}},
		entitledFilter(appID),
	}
	n, err := s.target.CountDocuments(ctx, filter)
	if err != nil {
		return 0, wrapErr("count entitled credentials", err)
	}
	return n, nil
}

// duplicatePipeline groups credentials by string userId, keeping members in
// _id order, and keeps groups with more than one member.
func duplicatePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "userId", Value: bson.D{{Key: "$type", Value: "string"}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$userId"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "members", Value: bson.D{{Key: "$push", Value: bson.D{
				{Key: "ref", Value: "$_id"},
				{Key: "appId", Value: "$appId"},
			}}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$gt", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

type groupDoc struct {
	UserID  string `bson:"_id"`
	Members []struct {
		Ref   any           `bson:"ref"`
		AppID bson.RawValue `bson:"appId"`
	} `bson:"members"`
}

// DuplicateGroups returns every userId held by more than one credential.
func (s *Store) DuplicateGroups(ctx context.Context) ([]credential.DuplicateGroup, error) {
	cursor, err := s.target.Aggregate(ctx, duplicatePipeline(), options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, wrapErr("aggregate duplicate groups", err)
	}
	defer cursor.Close(ctx)

	groups := []credential.DuplicateGroup{}
	for cursor.Next(ctx) {
		var g groupDoc
		if err := cursor.Decode(&g); err != nil {
			return nil, wrapErr("decode duplicate group", err)
		}
		group := credential.DuplicateGroup{UserID: g.UserID}
		for _, m := range g.Members {
			ids, ok := appIDs(m.AppID)
			group.Members = append(group.Members, credential.Member{
				Ref:       refString(m.Ref),
				AppIDs:    ids,
				HasAppIDs: ok,
			})
		}
		groups = append(groups, group)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr("iterate duplicate groups", err)
	}
	return groups, nil
}

func (s *Store) list(ctx context.Context, op string, filter bson.D) ([]credential.Credential, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: string(credential.FieldUserID), Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.target.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer cursor.Close(ctx)

	creds := []credential.Credential{}
	for cursor.Next(ctx) {
		var doc credentialDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(op, err)
		}
		creds = append(creds, doc.credential())
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return creds, nil
}

// appIDs decodes a raw appId value. ok is false unless it is an array of
// strings.
func appIDs(raw bson.RawValue) (ids []string, ok bool) {
	if raw.Type != bson.TypeArray {
		return nil, false
	}
	values, err := raw.Array().Values()
	if err != nil {
		return nil, false
	}
	ids = make([]string, 0, len(values))
	for _, v := range values {
		s, isString := v.StringValueOK()
		if !isString {
			return nil, false
		}
		ids = append(ids, s)
	}
	return ids, true
}

// refString renders a document _id as an opaque ref.
func refString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// parseRef turns a ref back into an _id value.
func parseRef(ref string) any {
	if oid, err := primitive.ObjectIDFromHex(ref); err == nil {
		return oid
	}
	return ref
}

package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/credsync/internal/credential"
)

// Count returns the number of origin documents passing excl.
func (s *Store) Count(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) (int64, error) {
	coll, err := s.sourceCollection(origin)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, exclusionFilter(excl))
	if err != nil {
		return 0, wrapErr("count "+coll.Name(), err)
	}
	return n, nil
}

// Find returns the origin documents passing excl in natural _id order.
func (s *Store) Find(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) ([]credential.SourceRecord, error) {
	coll, err := s.sourceCollection(origin)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, exclusionFilter(excl), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapErr("find "+coll.Name(), err)
	}
	defer cursor.Close(ctx)

	records := []credential.SourceRecord{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr("decode "+coll.Name(), err)
		}
		rec, err := credential.DecodeSource(origin, map[string]any(doc))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr("iterate "+coll.Name(), err)
	}
	return records, nil
}

// exclusionFilter renders "field is absent or not equal to value".
// $ne matches documents lacking the field, and compares type-strictly.
func exclusionFilter(excl *credential.Exclusion) bson.D {
	if excl == nil {
		return bson.D{}
	}
	return bson.D{{Key: excl.Field, Value: bson.D{{Key: "$ne", Value: excl.Value}}}}
}

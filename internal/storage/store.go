// Package storage is the document-store boundary. Every persisted
// document carries create_time/update_time stamps and a soft-delete
// flag; reads never return soft-deleted documents.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tradecore/pkg/exception"
)

// deleteFlag marks a soft-deleted document. Absent or false means live.
const deleteFlag = "delete"

// Config locates one mongod / replica set.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// URI renders the connection string, credential-escaped.
func (c Config) URI() string {
	if c.Username != "" && c.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
			url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Host, c.Port, c.Database)
	}
	return fmt.Sprintf("mongodb://%s:%d/%s", c.Host, c.Port, c.Database)
}

// Connect opens the client and pings it once.
func Connect(ctx context.Context, cfg Config) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI()))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongodb")
	}
	logs.Info("mongodb connection pool created")
	return client.Database(cfg.Database), nil
}

// Store wraps one collection with the stamp and soft-delete
// conventions. Thin by design; domain logic stays with the caller.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewStore binds a collection.
func NewStore(db *mongo.Database, collection string) *Store {
	return &Store{coll: db.Collection(collection), now: time.Now}
}

// Insert stamps and writes the documents, returning their hex ids.
func (s *Store) Insert(ctx context.Context, docs ...bson.M) ([]string, error) {
	if len(docs) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no documents")
	}
	now := s.now().UnixMilli()
	ids := make([]string, 0, len(docs))
	stamped := make([]any, 0, len(docs))
	for _, doc := range docs {
		id := primitive.NewObjectID()
		copied := make(bson.M, len(doc)+3)
		for k, v := range doc {
			copied[k] = v
		}
		copied["_id"] = id
		copied["create_time"] = now
		copied["update_time"] = now
		ids = append(ids, id.Hex())
		stamped = append(stamped, copied)
	}
	if _, err := s.coll.InsertMany(ctx, stamped); err != nil {
		return nil, errors.Wrap(err, "insert documents")
	}
	return ids, nil
}

// FindOne returns the newest live document matching the filter.
func (s *Store) FindOne(ctx context.Context, filter bson.M, sort bson.D) (bson.M, error) {
	opts := options.FindOne()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	var doc bson.M
	err := s.coll.FindOne(ctx, notDeleted(filter), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, exception.ErrStorageNotFound
		}
		return nil, errors.Wrap(err, "find document")
	}
	return doc, nil
}

// FindList returns live documents matching the filter. A limit is
// always applied so the driver default cannot silently change result
// counts.
func (s *Store) FindList(ctx context.Context, filter bson.M, sort bson.D, skip, limit int64) ([]bson.M, error) {
	if limit <= 0 {
		limit = 9999
	}
	opts := options.Find().SetSkip(skip).SetLimit(limit)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	cursor, err := s.coll.Find(ctx, notDeleted(filter), opts)
	if err != nil {
		return nil, errors.Wrap(err, "find documents")
	}
	defer cursor.Close(ctx)
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode documents")
	}
	return docs, nil
}

// Update sets fields on live documents matching the filter, restamping
// update_time. Returns the modified count.
func (s *Store) Update(ctx context.Context, filter, set bson.M, upsert, multi bool) (int64, error) {
	update := bson.M{"$set": restamp(set, s.now().UnixMilli())}
	opts := options.Update().SetUpsert(upsert)
	if multi {
		result, err := s.coll.UpdateMany(ctx, notDeleted(filter), update, opts)
		if err != nil {
			return 0, errors.Wrap(err, "update documents")
		}
		return result.ModifiedCount, nil
	}
	result, err := s.coll.UpdateOne(ctx, notDeleted(filter), update, opts)
	if err != nil {
		return 0, errors.Wrap(err, "update document")
	}
	return result.ModifiedCount, nil
}

// SoftDelete flags matching documents deleted. They stay on disk but
// drop out of every read path.
func (s *Store) SoftDelete(ctx context.Context, filter bson.M) (int64, error) {
	return s.Update(ctx, filter, bson.M{deleteFlag: true}, false, true)
}

// Count counts live documents matching the filter.
func (s *Store) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, notDeleted(filter))
	if err != nil {
		return 0, errors.Wrap(err, "count documents")
	}
	return n, nil
}

// notDeleted widens a filter to exclude soft-deleted documents without
// mutating the caller's map.
func notDeleted(filter bson.M) bson.M {
	out := bson.M{deleteFlag: bson.M{"$ne": true}}
	for k, v := range filter {
		out[k] = v
	}
	return out
}

// restamp copies the $set fields, forcing a fresh update_time.
func restamp(set bson.M, now int64) bson.M {
	out := make(bson.M, len(set)+1)
	for k, v := range set {
		out[k] = v
	}
	out["update_time"] = now
	return out
}

// TickerCollection maps "BTC/USDT" to "ticker_btc_usdt".
func TickerCollection(symbol string) string {
	return marketCollection("ticker", symbol)
}

// KlineCollection maps "BTC/USDT" to "kline_btc_usdt".
func KlineCollection(symbol string) string {
	return marketCollection("kline", symbol)
}

func marketCollection(prefix, symbol string) string {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return prefix + "_" + strings.ToLower(symbol)
	}
	return prefix + "_" + strings.ToLower(base) + "_" + strings.ToLower(quote)
}

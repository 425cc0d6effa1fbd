// Package mongodb provides a MongoDB-backed append log.
//
// Entries are documents in one collection keyed by (topic, seq); a second
// collection holds one sequence counter per topic. Cursors are the decimal
// sequence numbers. Old entries are trimmed in batches, so a topic may
// briefly hold more than MaxLen entries. Read stops before a sequence
// number that is allocated but not yet inserted, for up to GapTimeout.
//
// Document structure:
//
//	{
//	    "topic": "verity.document.created",
//	    "seq": 42,
//	    "timestamp": ISODate("2026-01-15T10:30:00Z"),
//	    "event": BinData(...),
//	    "inserted_at": ISODate("2026-01-15T10:30:00.120Z")
//	}
//
// MongoDB has no broadcast primitive here, so pair the log with a redis or
// nats notifier.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/eventbus/transport"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDatabaseRequired is returned when no database is provided.
var ErrDatabaseRequired = errors.New("mongodb database is required")

// Default configuration
var (
	DefaultPrefix       = "platform_events"
	DefaultMaxLen int64 = 10000

	// DefaultGapTimeout is how long Read waits for a missing sequence
	// number to be inserted before skipping it.
	DefaultGapTimeout = 5 * time.Second
)

// Log implements transport.Log on MongoDB.
type Log struct {
	status    int32
	db        *mongo.Database
	entries   *mongo.Collection
	counters  *mongo.Collection
	maxLen    int64
	trimEvery  int64
	gapTimeout time.Duration
	logger     *slog.Logger
}

// Option configures the MongoDB log
type Option func(*logOptions)

type logOptions struct {
	prefix     string
	maxLen     int64
	gapTimeout time.Duration
	logger     *slog.Logger
}

// WithPrefix sets the collection name prefix.
func WithPrefix(prefix string) Option {
	return func(o *logOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithMaxLen sets the approximate number of entries kept per topic.
func WithMaxLen(n int64) Option {
	return func(o *logOptions) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

// WithGapTimeout sets how long Read holds back entries behind a missing
// sequence number.
func WithGapTimeout(d time.Duration) Option {
	return func(o *logOptions) {
		if d > 0 {
			o.gapTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *logOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

type entryDoc struct {
	Topic     string    `bson:"topic"`
	Seq       int64     `bson:"seq"`
	Timestamp time.Time `bson:"timestamp"`
	Event     []byte    `bson:"event"`
	Inserted  time.Time `bson:"inserted_at"`
}

type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// New creates a log using "{prefix}_log" and "{prefix}_seq" collections
// in db.
func New(db *mongo.Database, opts ...Option) (*Log, error) {
	if db == nil {
		return nil, ErrDatabaseRequired
	}
	o := &logOptions{prefix: DefaultPrefix, maxLen: DefaultMaxLen, gapTimeout: DefaultGapTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = transport.Logger("transport>mongodb")
	}
	return &Log{
		status:     1,
		db:         db,
		entries:    db.Collection(o.prefix + "_log"),
		counters:   db.Collection(o.prefix + "_seq"),
		maxLen:     o.maxLen,
		trimEvery:  max(o.maxLen/10, 1),
		gapTimeout: o.gapTimeout,
		logger:     o.logger,
	}, nil
}

// Indexes returns the index models for the entries collection.
func (l *Log) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "topic", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("topic_seq"),
		},
	}
}

// EnsureIndexes creates the required indexes. Call it once at startup.
func (l *Log) EnsureIndexes(ctx context.Context) error {
	_, err := l.entries.Indexes().CreateMany(ctx, l.Indexes())
	return err
}

func (l *Log) isOpen() bool {
	return atomic.LoadInt32(&l.status) == 1
}

// Append stores e under the topic's next sequence number.
func (l *Log) Append(ctx context.Context, e transport.Entry) (string, error) {
	if !l.isOpen() {
		return "", transport.ErrTransportClosed
	}

	var counter counterDoc
	err := l.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": e.Topic},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return "", fmt.Errorf("next sequence %s: %w", e.Topic, err)
	}

	_, err = l.entries.InsertOne(ctx, entryDoc{
		Topic:     e.Topic,
		Seq:       counter.Seq,
		Timestamp: e.Timestamp.UTC(),
		Event:     e.Data,
		Inserted:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", e.Topic, err)
	}

	if counter.Seq%l.trimEvery == 0 {
		l.trim(ctx, e.Topic, counter.Seq)
	}
	return strconv.FormatInt(counter.Seq, 10), nil
}

// trim removes entries older than the newest maxLen. Failures are logged;
// the next trim catches up.
func (l *Log) trim(ctx context.Context, name string, seq int64) {
	cutoff := seq - l.maxLen
	if cutoff <= 0 {
		return
	}
	res, err := l.entries.DeleteMany(ctx, bson.M{"topic": name, "seq": bson.M{"$lte": cutoff}})
	if err != nil {
		l.logger.Warn("trim failed", "topic", name, "error", err)
		return
	}
	if res.DeletedCount > 0 {
		l.logger.Debug("trimmed log", "topic", name, "deleted", res.DeletedCount)
	}
}

// Read returns up to count entries of topic after the cursor sequence.
func (l *Log) Read(ctx context.Context, name, cursor string, count int) ([]transport.Entry, error) {
	if !l.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	var after int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, transport.ErrInvalidCursor
		}
		after = n
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if count > 0 {
		opts.SetLimit(int64(count))
	}
	cur, err := l.entries.Find(ctx, bson.M{"topic": name, "seq": bson.M{"$gt": after}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", name, err)
	}
	defer cur.Close(ctx)

	var docs []entryDoc
	for cur.Next(ctx) {
		var doc entryDoc
		if err := cur.Decode(&doc); err != nil {
			l.logger.Warn("skipping undecodable log document", "topic", name, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	afterRetained := false
	if after > 0 && len(docs) > 0 && docs[0].Seq != after+1 {
		n, err := l.entries.CountDocuments(ctx, bson.M{"topic": name, "seq": after}, options.Count().SetLimit(1))
		if err != nil {
			return nil, fmt.Errorf("check cursor %s: %w", name, err)
		}
		afterRetained = n > 0
	}
	docs = visible(after, afterRetained, docs, time.Now(), l.gapTimeout)

	entries := make([]transport.Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, transport.Entry{
			ID:        strconv.FormatInt(doc.Seq, 10),
			Topic:     doc.Topic,
			Timestamp: doc.Timestamp,
			Data:      doc.Event,
		})
	}
	return entries, nil
}

// visible cuts docs at the first sequence hole that may still be filled.
// Sequences are allocated before the insert, so concurrent appends can
// become visible out of order.
//
// A hole right after the cursor counts only while the cursor entry is
// retained; otherwise trimming made it. A hole followed by an entry
// inserted more than gapTimeout ago belongs to a failed append and is
// skipped.
func visible(after int64, afterRetained bool, docs []entryDoc, now time.Time, gapTimeout time.Duration) []entryDoc {
	prev := after
	for i, doc := range docs {
		hole := doc.Seq != prev+1 && (i > 0 || afterRetained)
		if hole && now.Sub(doc.Inserted) < gapTimeout {
			return docs[:i]
		}
		prev = doc.Seq
	}
	return docs
}

// Len returns the number of retained entries for topic.
func (l *Log) Len(ctx context.Context, name string) (int64, error) {
	return l.entries.CountDocuments(ctx, bson.M{"topic": name})
}

// Close marks the log closed. The client is owned by the caller.
func (l *Log) Close(ctx context.Context) error {
	atomic.StoreInt32(&l.status, 0)
	return nil
}

// Health pings the database.
func (l *Log) Health(ctx context.Context) *transport.HealthCheckResult {
	start := time.Now()
	result := &transport.HealthCheckResult{
		CheckedAt: start,
		Details:   map[string]any{"type": "mongodb", "collection": l.entries.Name()},
	}
	if !l.isOpen() {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = "transport is closed"
		result.Latency = time.Since(start)
		return result
	}
	err := l.db.Client().Ping(ctx, nil)
	result.Latency = time.Since(start)
	if err != nil {
		result.Status = transport.HealthStatusUnhealthy
		result.Message = fmt.Sprintf("mongodb ping failed: %v", err)
		return result
	}
	result.Status = transport.HealthStatusHealthy
	result.Message = "mongodb log is healthy"
	result.Details["max_len"] = l.maxLen
	return result
}

// Compile-time interface checks
var (
	_ transport.Log           = (*Log)(nil)
	_ transport.Lengther      = (*Log)(nil)
	_ transport.HealthChecker = (*Log)(nil)
)

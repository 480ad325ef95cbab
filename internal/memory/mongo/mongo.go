// Package mongo implements memory.Store against MongoDB, storing each
// memory as a document carrying a pre-computed embedding vector and
// querying via an Atlas $vectorSearch aggregation stage, falling back to a
// brute-force cosine-distance scan when $vectorSearch is unavailable (e.g.
// against a local mongod in tests).
//
// Grounded on features/memory/mongo/clients/mongo/client.go's narrow
// collection interface (so a fake can stand in for *mongo.Collection in
// tests) and its Options{Client,Database,Collection,Timeout} constructor
// shape with health.Pinger embedding.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/aaronbassett/paige/internal/memory"
)

const (
	defaultCollection = "session_memories"
	defaultTimeout    = 5 * time.Second
	clientName        = "paige-memory-mongo"
	vectorIndexName   = "memory_vector_index"
)

// Embedder computes a vector embedding for a piece of text. Production
// wiring plugs in a real embedding provider; it is named but not
// implemented by this module, same as the ModelClient's backing LM API
// per §1's external-collaborator framing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// collection is the narrow surface this package needs from
// *mongodriver.Collection, so tests can substitute a fake in place of a
// live MongoDB connection.
type collection interface {
	InsertMany(ctx context.Context, docs []any) error
	Find(ctx context.Context, filter bson.D) (cursor, error)
	Aggregate(ctx context.Context, pipeline mongodriver.Pipeline) (cursor, error)
	EnsureIndexes(ctx context.Context) error
}

// cursor is the narrow surface this package needs from *mongodriver.Cursor.
type cursor interface {
	All(ctx context.Context, out any) error
	Close(ctx context.Context) error
}

// Options configures the Mongo-backed Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
	Embedder   Embedder
}

// Store implements memory.Store against a MongoDB collection.
type Store struct {
	coll     collection
	mongo    *mongodriver.Client
	timeout  time.Duration
	embedder Embedder
}

var _ memory.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New builds a Store, ensuring the supporting indexes exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("mongo: embedder is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	wrapped := mongoCollection{coll: mcoll}

	return newStoreWithCollection(ctx, opts.Client, wrapped, timeout, opts.Embedder)
}

func newStoreWithCollection(ctx context.Context, client *mongodriver.Client, coll collection, timeout time.Duration, embedder Embedder) (*Store, error) {
	s := &Store{coll: coll, mongo: client, timeout: timeout, embedder: embedder}
	ictx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := coll.EnsureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("mongo: ensure indexes: %w", err)
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

type memoryDocument struct {
	ID         string    `bson:"_id"`
	SessionID  uint64    `bson:"session_id"`
	Project    string    `bson:"project"`
	Content    string    `bson:"content"`
	Tags       string    `bson:"tags"`
	Importance int       `bson:"importance"`
	Embedding  []float64 `bson:"embedding"`
	CreatedAt  time.Time `bson:"created_at"`
}

// AddMemories implements memory.Store. IDs are assigned
// "mem_{sessionID}_{index}" (0-based), tags flattened as "a,b,c", per §4.5.
func (s *Store) AddMemories(ctx context.Context, items []memory.Item, sessionID uint64, project string) ([]memory.Memory, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	docs := make([]any, 0, len(items))
	out := make([]memory.Memory, 0, len(items))
	for i, item := range items {
		id := fmt.Sprintf("mem_%d_%d", sessionID, i)
		tags := flattenTags(item.Tags)

		embedding, err := s.embedder.Embed(ctx, item.Content)
		if err != nil {
			return nil, fmt.Errorf("mongo: embed memory %d: %w", i, err)
		}

		docs = append(docs, memoryDocument{
			ID:         id,
			SessionID:  sessionID,
			Project:    project,
			Content:    item.Content,
			Tags:       tags,
			Importance: item.Importance,
			Embedding:  embedding,
			CreatedAt:  now,
		})
		out = append(out, memory.Memory{
			ID:         id,
			Content:    item.Content,
			Tags:       item.Tags,
			Importance: item.Importance,
			SessionID:  sessionID,
			Project:    project,
			CreatedAt:  now.Format(time.RFC3339),
		})
	}

	if err := s.coll.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("mongo: insert memories: %w", err)
	}
	return out, nil
}

// Query implements memory.Store, attempting a $vectorSearch aggregation
// first and falling back to a brute-force cosine scan when the index is
// unavailable.
func (s *Store) Query(ctx context.Context, opts memory.QueryOptions) ([]memory.Result, error) {
	n := opts.NResults
	if n <= 0 {
		n = 10
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	queryVec, err := s.embedder.Embed(ctx, opts.QueryText)
	if err != nil {
		return nil, fmt.Errorf("mongo: embed query: %w", err)
	}

	if results, err := s.vectorSearch(ctx, queryVec, opts.Project, n); err == nil {
		return results, nil
	}
	return s.bruteForceScan(ctx, queryVec, opts.Project, n)
}

func (s *Store) vectorSearch(ctx context.Context, queryVec []float64, project string, n int) ([]memory.Result, error) {
	filter := bson.D{}
	if project != "" {
		filter = bson.D{{Key: "project", Value: project}}
	}
	vsStage := bson.D{{Key: "$vectorSearch", Value: bson.D{
		{Key: "index", Value: vectorIndexName},
		{Key: "path", Value: "embedding"},
		{Key: "queryVector", Value: queryVec},
		{Key: "numCandidates", Value: n * 10},
		{Key: "limit", Value: n},
		{Key: "filter", Value: filter},
	}}}
	scoreStage := bson.D{{Key: "$addFields", Value: bson.D{
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
	}}}

	cur, err := s.coll.Aggregate(ctx, mongodriver.Pipeline{vsStage, scoreStage})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []struct {
		memoryDocument `bson:",inline"`
		Score          float64 `bson:"score"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]memory.Result, len(docs))
	for i, d := range docs {
		out[i] = memory.Result{
			ID:       d.ID,
			Content:  d.Content,
			Distance: 1 - d.Score,
			Metadata: docMetadata(d.memoryDocument),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func (s *Store) bruteForceScan(ctx context.Context, queryVec []float64, project string, n int) ([]memory.Result, error) {
	filter := bson.D{}
	if project != "" {
		filter = bson.D{{Key: "project", Value: project}}
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: brute-force find: %w", err)
	}
	defer cur.Close(ctx)

	var docs []memoryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: brute-force decode: %w", err)
	}

	out := make([]memory.Result, len(docs))
	for i, d := range docs {
		out[i] = memory.Result{
			ID:       d.ID,
			Content:  d.Content,
			Distance: cosineDistance(queryVec, d.Embedding),
			Metadata: docMetadata(d),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func docMetadata(d memoryDocument) map[string]any {
	return map[string]any{
		"session_id": d.SessionID,
		"project":    d.Project,
		"created_at": d.CreatedAt,
		"importance": d.Importance,
		"tags":       d.Tags,
	}
}

func flattenTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// mongoCollection adapts *mongodriver.Collection to the collection
// interface.
type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertMany(ctx context.Context, docs []any) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return err
}

func (c mongoCollection) Find(ctx context.Context, filter bson.D) (cursor, error) {
	return c.coll.Find(ctx, filter)
}

func (c mongoCollection) Aggregate(ctx context.Context, pipeline mongodriver.Pipeline) (cursor, error) {
	return c.coll.Aggregate(ctx, pipeline)
}

func (c mongoCollection) EnsureIndexes(ctx context.Context) error {
	if _, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "project", Value: 1}},
	})
	return err
}

// ErrIndexUnavailable documents the distinguishable failure mode Query
// falls back on; Query itself falls back unconditionally on any
// aggregation error, since a local mongod without Atlas Search always
// fails $vectorSearch the same way a missing index would.
var ErrIndexUnavailable = errors.New("mongo: vector search index unavailable")

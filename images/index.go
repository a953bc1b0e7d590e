package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripboard/config"
	"tripboard/db"
	"tripboard/models"
	"tripboard/rdx"
	"tripboard/store"
)

// Index persists the per-category URL lists.
type Index interface {
	Get(ctx context.Context) (models.TrainImageSet, error)
	Put(ctx context.Context, set models.TrainImageSet) error
}

// OpenIndex picks the index variant matching the record store backend.
func OpenIndex(cfg config.Config, conns store.Conns) (Index, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	switch backend {
	case config.BackendRedis:
		if conns.Redis == nil {
			return nil, fmt.Errorf("redis backend selected without a connection")
		}
		return NewRedisIndex(conns.Redis), nil
	case config.BackendMongo:
		if conns.Mongo == nil {
			return nil, fmt.Errorf("mongo backend selected without a connection")
		}
		return NewMongoIndex(conns.Mongo), nil
	case config.BackendFile:
		return NewFileIndex(cfg.ImagesFile), nil
	default:
		return NewMemoryIndex(), nil
	}
}

type MemoryIndex struct {
	mu  sync.Mutex
	set models.TrainImageSet
}

func NewMemoryIndex() *MemoryIndex { return &MemoryIndex{} }

func (m *MemoryIndex) Get(context.Context) (models.TrainImageSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Clone(), nil
}

func (m *MemoryIndex) Put(_ context.Context, set models.TrainImageSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set.Clone()
	return nil
}

// FileIndex keeps the set as a small JSON file next to the data file.
type FileIndex struct {
	path string
	mu   sync.Mutex
}

func NewFileIndex(path string) *FileIndex { return &FileIndex{path: path} }

func (f *FileIndex) Get(context.Context) (models.TrainImageSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.TrainImageSet{}.Normalize(), nil
	}
	if err != nil {
		return models.TrainImageSet{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	var set models.TrainImageSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return models.TrainImageSet{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return set.Normalize(), nil
}

func (f *FileIndex) Put(_ context.Context, set models.TrainImageSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.MarshalIndent(set.Normalize(), "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".train-images-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// RedisIndex stores the set as JSON under the train-images key.
type RedisIndex struct {
	conn *redis.Client
}

func NewRedisIndex(conn *redis.Client) *RedisIndex { return &RedisIndex{conn: conn} }

func (r *RedisIndex) Get(ctx context.Context) (models.TrainImageSet, error) {
	raw, err := r.conn.Get(ctx, rdx.TrainImagesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TrainImageSet{}.Normalize(), nil
	}
	if err != nil {
		return models.TrainImageSet{}, fmt.Errorf("get %s: %w", rdx.TrainImagesKey, err)
	}
	var set models.TrainImageSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return models.TrainImageSet{}, fmt.Errorf("decode %s: %w", rdx.TrainImagesKey, err)
	}
	return set.Normalize(), nil
}

func (r *RedisIndex) Put(ctx context.Context, set models.TrainImageSet) error {
	raw, err := json.Marshal(set.Normalize())
	if err != nil {
		return err
	}
	if err := r.conn.Set(ctx, rdx.TrainImagesKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", rdx.TrainImagesKey, err)
	}
	return nil
}

const imagesDocID = "train-images"

type mongoImages struct {
	ID                   string `bson:"_id"`
	models.TrainImageSet `bson:",inline"`
}

// MongoIndex stores the set as one document in the images collection.
type MongoIndex struct {
	coll *mongo.Collection
}

func NewMongoIndex(database *mongo.Database) *MongoIndex {
	return &MongoIndex{coll: database.Collection(db.ImagesCollection)}
}

func (m *MongoIndex) Get(ctx context.Context) (models.TrainImageSet, error) {
	var doc mongoImages
	err := m.coll.FindOne(ctx, bson.M{"_id": imagesDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.TrainImageSet{}.Normalize(), nil
	}
	if err != nil {
		return models.TrainImageSet{}, fmt.Errorf("find images: %w", err)
	}
	return doc.TrainImageSet.Normalize(), nil
}

func (m *MongoIndex) Put(ctx context.Context, set models.TrainImageSet) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": imagesDocID},
		mongoImages{ID: imagesDocID, TrainImageSet: set.Normalize()},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace images: %w", err)
	}
	return nil
}

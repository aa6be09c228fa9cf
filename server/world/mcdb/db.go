// Package mcdb implements a world.Provider that stores chunks in a leveldb
// database. Chunks are encoded with chunk.Encode, compressed with zstd and
// stored together with a checksum of the encoded data.
package mcdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/dm-vev/chunkstream/server/world"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/fasthash/fnv1a"
)

// ErrChecksum is returned when a stored chunk does not match its checksum.
var ErrChecksum = errors.New("mcdb: chunk checksum mismatch")

const keyChunk byte = 'c'

// Config holds the settings used to open a DB.
type Config struct {
	// Log is the Logger that errors are logged to. If nil, slog.Default() is
	// used.
	Log *slog.Logger
	// Compression is the zstd encoder level used for chunk data. Defaults to
	// zstd.SpeedDefault.
	Compression zstd.EncoderLevel
	// LDBOptions holds the options passed to leveldb. If nil, leveldb
	// defaults are used.
	LDBOptions *opt.Options
}

// DB implements a world.Provider backed by leveldb.
type DB struct {
	conf Config
	ldb  *leveldb.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

var _ world.Provider = (*DB)(nil)

// Open creates a new DB reading and writing from/to the directory passed.
// The directory is created if it does not exist.
func (conf Config) Open(dir string) (*DB, error) {
	ldb, err := leveldb.OpenFile(dir, conf.LDBOptions)
	if err != nil {
		return nil, fmt.Errorf("open db: leveldb: %w", err)
	}
	return conf.wrap(ldb)
}

// OpenStorage creates a DB on top of the leveldb storage passed, for example
// storage.NewMemStorage().
func (conf Config) OpenStorage(stor storage.Storage) (*DB, error) {
	ldb, err := leveldb.Open(stor, conf.LDBOptions)
	if err != nil {
		return nil, fmt.Errorf("open db: leveldb: %w", err)
	}
	return conf.wrap(ldb)
}

func (conf Config) wrap(ldb *leveldb.DB) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Compression == 0 {
		conf.Compression = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(conf.Compression))
	if err != nil {
		_ = ldb.Close()
		return nil, fmt.Errorf("open db: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = ldb.Close()
		return nil, fmt.Errorf("open db: zstd decoder: %w", err)
	}
	return &DB{conf: conf, ldb: ldb, enc: enc, dec: dec}, nil
}

// LoadChunk loads the chunk at pos. An error matching leveldb.ErrNotFound is
// returned if the chunk was never stored.
func (db *DB) LoadChunk(pos world.ChunkPos) (*chunk.Chunk, error) {
	data, err := db.ldb.Get(index(pos), nil)
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("load chunk %v: %w: %d bytes", pos, chunk.ErrCorrupt, len(data))
	}
	raw, err := db.dec.DecodeAll(data[8:], nil)
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: decompress: %w", pos, err)
	}
	if sum := binary.LittleEndian.Uint64(data[:8]); sum != fnv1a.HashBytes64(raw) {
		return nil, fmt.Errorf("load chunk %v: %w", pos, ErrChecksum)
	}
	c, err := chunk.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	return c, nil
}

// StoreChunk stores the chunk at pos, overwriting any chunk stored there.
func (db *DB) StoreChunk(pos world.ChunkPos, c *chunk.Chunk) error {
	raw := chunk.Encode(c)
	data := make([]byte, 8, 8+len(raw)/4)
	binary.LittleEndian.PutUint64(data, fnv1a.HashBytes64(raw))
	data = db.enc.EncodeAll(raw, data)
	if err := db.ldb.Put(index(pos), data, nil); err != nil {
		return fmt.Errorf("store chunk %v: %w", pos, err)
	}
	return nil
}

// DeleteChunk removes the chunk at pos from the database.
func (db *DB) DeleteChunk(pos world.ChunkPos) error {
	if err := db.ldb.Delete(index(pos), nil); err != nil {
		return fmt.Errorf("delete chunk %v: %w", pos, err)
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	db.dec.Close()
	if err := db.enc.Close(); err != nil {
		db.conf.Log.Error("close zstd encoder: " + err.Error())
	}
	return db.ldb.Close()
}

// index returns the key of the chunk at pos.
func index(pos world.ChunkPos) []byte {
	k := make([]byte, 9)
	k[0] = keyChunk
	binary.LittleEndian.PutUint32(k[1:], uint32(pos[0]))
	binary.LittleEndian.PutUint32(k[5:], uint32(pos[1]))
	return k
}

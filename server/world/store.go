package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/dm-vev/chunkstream/server/internal/guard"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Status is the generation status of a chunk position in a Store.
type Status uint8

const (
	// StatusAbsent means the chunk is not held by the Store.
	StatusAbsent Status = iota
	// StatusGenerating means the chunk is being loaded or generated.
	StatusGenerating
	// StatusReady means the chunk is cached and may be read.
	StatusReady
)

// String ...
func (s Status) String() string {
	switch s {
	case StatusGenerating:
		return "generating"
	case StatusReady:
		return "ready"
	default:
		return "absent"
	}
}

const shardCount = 32

// Store owns every chunk kept in memory. Chunks are loaded from a Provider or
// generated on demand, cached while viewers reference them and evicted once
// the last reference is released and a grace period elapses.
//
// Chunks returned by a Store must be treated as read-only. SetBlock replaces
// the cached chunk with a modified copy, so a chunk handed out earlier never
// changes underneath its reader.
type Store struct {
	conf Config

	shards [shardCount]shard
	flight singleflight.Group

	queue   chan generationTask
	closing chan struct{}
	running sync.WaitGroup
	once    sync.Once

	// lastSaturationLog holds the unix nano time of the last backpressure
	// warning so that it is logged at most once per minute.
	lastSaturationLog atomic.Int64
	saturation        atomic.Uint64
}

type shard struct {
	mu      sync.Mutex
	columns map[ChunkPos]*Column
	// waiting counts the callers waiting on a load per position. A column
	// with waiting callers is never evicted.
	waiting map[ChunkPos]int
}

// Column is the entry of a chunk position in a Store. It is guarded by the
// mutex of the shard it lives in.
type Column struct {
	*chunk.Chunk
	status  Status
	viewers map[uuid.UUID]struct{}

	// evictToken is bumped whenever a pending eviction must be cancelled, so a
	// timer firing late finds a token that no longer matches.
	evictToken uint64
	evictTimer *time.Timer
}

type generationTask struct {
	pos    ChunkPos
	result chan generationResult
}

type generationResult struct {
	c   *chunk.Chunk
	err error
}

func (s *Store) shard(pos ChunkPos) *shard {
	return &s.shards[pos.Hash()%shardCount]
}

// GetOrLoad returns the chunk at pos. A cached chunk is returned immediately.
// Otherwise it is loaded from the Provider, or generated if the Provider
// does not have it. Concurrent calls for the same position share a single
// load. GetOrLoad does not add a viewer reference: a chunk nobody acquires is
// evicted after the grace period.
//
// A *GenerationError is returned if the chunk could not be generated.
func (s *Store) GetOrLoad(ctx context.Context, pos ChunkPos) (*chunk.Chunk, error) {
	return s.load(ctx, pos, nil)
}

// Acquire returns the chunk at pos like GetOrLoad and adds a reference to it
// for the viewer passed. The chunk is not evicted until every viewer that
// acquired it called Release. Acquiring a chunk twice for the same viewer
// holds a single reference.
func (s *Store) Acquire(ctx context.Context, pos ChunkPos, viewer uuid.UUID) (*chunk.Chunk, error) {
	return s.load(ctx, pos, func(col *Column) {
		col.viewers[viewer] = struct{}{}
		col.cancelEviction()
	})
}

// load returns the chunk at pos, loading it if needed. use, if not nil, is
// called with the shard lock held on the Ready column the chunk is taken
// from. While the caller waits for a load, the position counts as waited on
// so the column cannot be evicted before use runs.
func (s *Store) load(ctx context.Context, pos ChunkPos, use func(col *Column)) (*chunk.Chunk, error) {
	sh := s.shard(pos)
	waiting := false
	defer func() {
		if waiting {
			s.stopWaiting(sh, pos)
		}
	}()
	for {
		if s.closed() {
			return nil, ErrStoreClosed
		}
		sh.mu.Lock()
		if col, ok := sh.columns[pos]; ok && col.status == StatusReady {
			if use != nil {
				use(col)
			}
			c := col.Chunk
			sh.mu.Unlock()
			return c, nil
		}
		if !waiting {
			sh.waiting[pos]++
			waiting = true
		}
		sh.mu.Unlock()

		ch := s.flight.DoChan(pos.String(), func() (any, error) {
			return nil, s.loadColumn(pos)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			// The column is Ready and pinned by this caller. Loop to use it
			// under the shard lock.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// stopWaiting removes a waiting caller of pos. The last one to leave starts
// the grace period of a column nobody references.
func (s *Store) stopWaiting(sh *shard, pos ChunkPos) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.waiting[pos]--; sh.waiting[pos] > 0 {
		return
	}
	delete(sh.waiting, pos)
	if col, ok := sh.columns[pos]; ok && col.status == StatusReady {
		s.scheduleEviction(pos, col)
	}
}

// loadColumn runs inside a single flight for pos. It checks the cache again,
// since a previous flight may have finished between the caller's lookup and
// this flight starting.
func (s *Store) loadColumn(pos ChunkPos) error {
	sh := s.shard(pos)
	sh.mu.Lock()
	if col, ok := sh.columns[pos]; ok && col.status == StatusReady {
		sh.mu.Unlock()
		return nil
	}
	col := &Column{status: StatusGenerating, viewers: make(map[uuid.UUID]struct{})}
	sh.columns[pos] = col
	sh.mu.Unlock()

	c, err := s.produce(pos)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err == nil && s.closed() {
		// Close already saved and cleared the shards.
		err = ErrStoreClosed
	}
	if err != nil {
		// Back to Absent so that the next request retries.
		if sh.columns[pos] == col {
			delete(sh.columns, pos)
		}
		return err
	}
	col.Chunk, col.status = c, StatusReady
	s.scheduleEviction(pos, col)
	return nil
}

// produce loads the chunk at pos from the Provider, falling back to the
// Generator if the Provider does not have it.
func (s *Store) produce(pos ChunkPos) (*chunk.Chunk, error) {
	c, err := s.conf.Provider.LoadChunk(pos)
	switch {
	case err == nil:
		s.conf.Metrics.IncLoaded()
		return c, nil
	case errors.Is(err, leveldb.ErrNotFound):
	default:
		// A chunk that cannot be read is regenerated rather than left
		// unavailable.
		s.conf.Log.Error("load chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
	}

	var lastErr error
	for attempt := 1; attempt <= s.conf.GenerationRetries; attempt++ {
		c, err := s.generate(pos)
		if err == nil {
			s.conf.Metrics.IncGenerated()
			return c, nil
		}
		if errors.Is(err, ErrStoreClosed) {
			return nil, err
		}
		lastErr = err
		s.conf.Metrics.IncRetry(pos)
		s.conf.Log.Warn("generate chunk: "+err.Error(), "X", pos[0], "Z", pos[1], "attempt", attempt)
	}
	s.conf.Metrics.IncFailure(pos)
	return nil, &GenerationError{Pos: pos, Attempts: s.conf.GenerationRetries, Err: lastErr}
}

// generate hands the position to a generator worker and waits for the
// result for at most Config.GenerationTimeout. The result channel is
// buffered, so a worker finishing after the timeout does not block and its
// chunk is dropped.
func (s *Store) generate(pos ChunkPos) (*chunk.Chunk, error) {
	task := generationTask{pos: pos, result: make(chan generationResult, 1)}
	timeout := time.NewTimer(s.conf.GenerationTimeout)
	defer timeout.Stop()

	select {
	case s.queue <- task:
	default:
		s.handleGeneratorBackpressure()
		select {
		case s.queue <- task:
		case <-timeout.C:
			return nil, ErrGenerationTimeout
		case <-s.closing:
			return nil, ErrStoreClosed
		}
	}
	select {
	case res := <-task.result:
		return res.c, res.err
	case <-timeout.C:
		return nil, ErrGenerationTimeout
	case <-s.closing:
		return nil, ErrStoreClosed
	}
}

// generatorWorker processes generation tasks until the Store is closed.
func (s *Store) generatorWorker() {
	defer s.running.Done()
	for {
		select {
		case task := <-s.queue:
			s.runGenerationTask(task)
		case <-s.closing:
			s.drainGenerationQueue()
			return
		}
	}
}

// runGenerationTask generates the chunk of a task. A panicking Generator
// fails the attempt instead of killing the worker.
func (s *Store) runGenerationTask(task generationTask) {
	c := chunk.New()
	err := guard.Run(s.conf.Log, "generate chunk", func() error {
		return s.conf.Generator.GenerateChunk(task.pos, s.conf.Seed, c)
	}, "X", task.pos[0], "Z", task.pos[1])
	if err != nil {
		c = nil
	}
	task.result <- generationResult{c: c, err: err}
}

// drainGenerationQueue fails every task left in the queue on shutdown.
func (s *Store) drainGenerationQueue() {
	for {
		select {
		case task := <-s.queue:
			task.result <- generationResult{err: ErrStoreClosed}
		default:
			return
		}
	}
}

// handleGeneratorBackpressure counts queue saturation and logs a throttled
// warning when the generator queue is full.
func (s *Store) handleGeneratorBackpressure() {
	count := s.saturation.Add(1)
	s.conf.Metrics.IncBackpressure()
	now := time.Now().UnixNano()
	last := s.lastSaturationLog.Load()
	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !s.lastSaturationLog.CompareAndSwap(last, now) {
		return
	}
	s.conf.Log.Warn(
		"chunk generator queue saturated: chunk generation backlog detected.",
		"queued_tasks", count,
		"queue_size", cap(s.queue),
		"workers", s.conf.GeneratorWorkers,
	)
}

// Release removes the reference viewer holds on the chunk at pos. When the
// last reference is released, the chunk is evicted after the grace period
// unless it is acquired again before then.
func (s *Store) Release(pos ChunkPos, viewer uuid.UUID) {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	col, ok := sh.columns[pos]
	if !ok {
		return
	}
	if _, ok := col.viewers[viewer]; !ok {
		return
	}
	delete(col.viewers, viewer)
	if len(col.viewers) == 0 {
		s.scheduleEviction(pos, col)
	}
}

// scheduleEviction starts the grace period timer of a column without
// viewers. The shard lock must be held.
func (s *Store) scheduleEviction(pos ChunkPos, col *Column) {
	if len(col.viewers) != 0 || s.shard(pos).waiting[pos] > 0 {
		return
	}
	col.cancelEviction()
	token := col.evictToken
	col.evictTimer = time.AfterFunc(max(s.conf.EvictionGrace, 0), func() {
		sh := s.shard(pos)
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if cur, ok := sh.columns[pos]; ok && cur == col && col.evictToken == token {
			s.evictLocked(sh, pos, col)
		}
	})
}

// cancelEviction stops a pending eviction timer. The shard lock must be held.
func (col *Column) cancelEviction() {
	col.evictToken++
	if col.evictTimer != nil {
		col.evictTimer.Stop()
		col.evictTimer = nil
	}
}

// Evict removes the chunk at pos from the cache, saving it first if it was
// modified. It does nothing and returns false if the chunk is not Ready or is
// still referenced by a viewer.
func (s *Store) Evict(pos ChunkPos) bool {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	col, ok := sh.columns[pos]
	if !ok {
		return false
	}
	return s.evictLocked(sh, pos, col)
}

func (s *Store) evictLocked(sh *shard, pos ChunkPos, col *Column) bool {
	if col.status != StatusReady || len(col.viewers) != 0 || sh.waiting[pos] > 0 {
		return false
	}
	col.cancelEviction()
	s.saveChunk(pos, col)
	delete(sh.columns, pos)
	s.conf.Metrics.IncEvicted()
	return true
}

// saveChunk stores a modified chunk in the Provider. The shard lock must be
// held so that a reload of the same position cannot read stale data.
func (s *Store) saveChunk(pos ChunkPos, col *Column) {
	if s.conf.ReadOnly || col.Chunk == nil || !col.Modified() {
		return
	}
	if err := s.conf.Provider.StoreChunk(pos, col.Chunk); err != nil {
		s.conf.Log.Error("save chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		return
	}
	col.MarkClean()
	s.conf.Metrics.IncSaved()
}

// CollectGarbage evicts every Ready chunk without viewers immediately and
// returns the amount of chunks evicted.
func (s *Store) CollectGarbage() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for pos, col := range sh.columns {
			if s.evictLocked(sh, pos, col) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Chunk returns the chunk at pos if it is Ready, without loading it.
func (s *Store) Chunk(pos ChunkPos) (*chunk.Chunk, bool) {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if col, ok := sh.columns[pos]; ok && col.status == StatusReady {
		return col.Chunk, true
	}
	return nil, false
}

// Status returns the generation status of the chunk at pos.
func (s *Store) Status(pos ChunkPos) Status {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if col, ok := sh.columns[pos]; ok {
		return col.status
	}
	return StatusAbsent
}

// Viewers returns the amount of viewers referencing the chunk at pos.
func (s *Store) Viewers(pos ChunkPos) int {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if col, ok := sh.columns[pos]; ok {
		return len(col.viewers)
	}
	return 0
}

// Len returns the amount of Ready chunks in the Store.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, col := range sh.columns {
			if col.status == StatusReady {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// SetBlock sets the block at the world block position passed, loading the
// chunk if needed. ErrBlockOutOfRange is returned if y lies outside the
// vertical range of a chunk. The cached chunk is replaced by a modified copy which is
// saved to the Provider when evicted.
func (s *Store) SetBlock(ctx context.Context, x, y, z int, id uint32) error {
	if y != int(int16(y)) || !chunk.InRange(int16(y)) {
		return ErrBlockOutOfRange
	}
	_, err := s.load(ctx, ChunkPos{int32(x >> 4), int32(z >> 4)}, func(col *Column) {
		c := col.Clone()
		c.SetBlock(uint8(x&15), int16(y), uint8(z&15), id)
		col.Chunk = c
	})
	return err
}

// Metrics returns the Metrics the Store reports to, which may be nil.
func (s *Store) Metrics() *Metrics {
	return s.conf.Metrics
}

func (s *Store) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close stops the generator workers, saves every modified chunk and closes
// the Provider. Pending loads fail with ErrStoreClosed.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		done := make(chan struct{})
		go func() {
			s.running.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.conf.GenerationTimeout):
			// A Generator that never returns keeps its worker alive; it is
			// abandoned like any other timed out attempt.
			s.conf.Log.Warn("close store: generator workers did not stop in time", "workers", s.conf.GeneratorWorkers)
		}

		s.conf.Log.Debug("Saving chunks in memory to disk...")
		for i := range s.shards {
			sh := &s.shards[i]
			sh.mu.Lock()
			for pos, col := range sh.columns {
				col.cancelEviction()
				s.saveChunk(pos, col)
			}
			clear(sh.columns)
			sh.mu.Unlock()
		}
		s.conf.Log.Debug("Closing provider...")
		if err = s.conf.Provider.Close(); err != nil {
			s.conf.Log.Error("close chunk provider: " + err.Error())
		}
	})
	return err
}

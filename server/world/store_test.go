package world

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/dm-vev/chunkstream/server/internal/guard"
	"github.com/dm-vev/chunkstream/server/world/chunk"
	"github.com/google/uuid"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingGenerator counts GenerateChunk calls and fills section 0 with the
// seed so that results can be told apart.
type countingGenerator struct {
	calls atomic.Int32
	gate  chan struct{}
	fail  int32
}

func (g *countingGenerator) GenerateChunk(_ ChunkPos, seed int64, c *chunk.Chunk) error {
	n := g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if n <= g.fail {
		return errors.New("generator failure")
	}
	c.Section(0).Fill(uint32(seed))
	return nil
}

type memProvider struct {
	mu     sync.Mutex
	chunks map[ChunkPos]*chunk.Chunk
	stored atomic.Int32
}

func newMemProvider() *memProvider {
	return &memProvider{chunks: make(map[ChunkPos]*chunk.Chunk)}
}

func (p *memProvider) LoadChunk(pos ChunkPos) (*chunk.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.chunks[pos]; ok {
		return c.Clone(), nil
	}
	return nil, leveldb.ErrNotFound
}

func (p *memProvider) StoreChunk(pos ChunkPos, c *chunk.Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks[pos] = c.Clone()
	p.stored.Add(1)
	return nil
}

func (p *memProvider) Close() error { return nil }

func newTestStore(t *testing.T, conf Config) *Store {
	t.Helper()
	conf.Log = discardLog
	s := conf.New()
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed closing store: %v", err)
		}
	})
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetOrLoadSingleFlight(t *testing.T) {
	gen := &countingGenerator{gate: make(chan struct{})}
	s := newTestStore(t, Config{Generator: gen, Seed: 7})
	pos := ChunkPos{3, -9}

	const callers = 16
	results := make([]*chunk.Chunk, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Acquire(context.Background(), pos, uuid.New())
		}()
	}
	waitFor(t, func() bool { return s.Status(pos) == StatusGenerating }, "chunk never started generating")
	close(gen.gate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different chunk instance", i)
		}
	}
	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("expected generator to run once, ran %d times", got)
	}
	if got := results[0].Section(0).Block(0); got != 7 {
		t.Fatalf("expected seed 7 to reach the generator, got block %d", got)
	}
	if got := s.Viewers(pos); got != callers {
		t.Fatalf("expected %d viewers, got %d", callers, got)
	}
}

func TestTwoViewersGenerateOnce(t *testing.T) {
	gen := &countingGenerator{}
	s := newTestStore(t, Config{Generator: gen})
	pos := ChunkPos{100, 100}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Acquire(context.Background(), pos, uuid.New()); err != nil {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("expected generator to run once, ran %d times", got)
	}
}

func TestGenerationRetries(t *testing.T) {
	gen := &countingGenerator{fail: 2}
	s := newTestStore(t, Config{Generator: gen, GenerationRetries: 3})
	if _, err := s.GetOrLoad(context.Background(), ChunkPos{}); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if got := gen.calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestGenerationFailureIsRetryable(t *testing.T) {
	gen := &countingGenerator{fail: 2}
	metrics := NewMetrics()
	s := newTestStore(t, Config{Generator: gen, GenerationRetries: 2, Metrics: metrics})
	pos := ChunkPos{1, 1}

	_, err := s.GetOrLoad(context.Background(), pos)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !genErr.Temporary() || genErr.Pos != pos || genErr.Attempts != 2 {
		t.Fatalf("unexpected generation error %+v", genErr)
	}
	if got := s.Status(pos); got != StatusAbsent {
		t.Fatalf("expected failed chunk to be absent, got %v", got)
	}
	if _, err := s.GetOrLoad(context.Background(), pos); err != nil {
		t.Fatalf("expected a later request to generate the chunk, got %v", err)
	}
	snap := metrics.Snapshot()
	if snap.Failures != 1 || snap.FailingChunks[pos] != 1 || snap.Generated != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
}

func TestGenerationTimeout(t *testing.T) {
	block := make(chan struct{})
	gen := GeneratorFunc(func(ChunkPos, int64, *chunk.Chunk) error {
		<-block
		return nil
	})
	s := newTestStore(t, Config{Generator: gen, GenerationTimeout: 20 * time.Millisecond, GenerationRetries: 1})
	t.Cleanup(func() { close(block) })

	_, err := s.GetOrLoad(context.Background(), ChunkPos{})
	if !errors.Is(err, ErrGenerationTimeout) || !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected timeout generation error, got %v", err)
	}
	if got := s.Status(ChunkPos{}); got != StatusAbsent {
		t.Fatalf("expected chunk to be absent after timeout, got %v", got)
	}
}

func TestGeneratorPanic(t *testing.T) {
	gen := GeneratorFunc(func(ChunkPos, int64, *chunk.Chunk) error { panic("broken generator") })
	s := newTestStore(t, Config{Generator: gen, GenerationRetries: 1})
	if _, err := s.GetOrLoad(context.Background(), ChunkPos{}); !errors.Is(err, guard.ErrPanic) {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	// The worker must survive the panic.
	s.conf.Generator = NopGenerator{}
	if _, err := s.GetOrLoad(context.Background(), ChunkPos{}); err != nil {
		t.Fatalf("expected worker to keep running, got %v", err)
	}
}

func TestReleaseEvictsAfterGrace(t *testing.T) {
	s := newTestStore(t, Config{EvictionGrace: 20 * time.Millisecond})
	pos, viewer := ChunkPos{5, 5}, uuid.New()
	if _, err := s.Acquire(context.Background(), pos, viewer); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if got := s.Status(pos); got != StatusReady {
		t.Fatalf("referenced chunk must stay ready, got %v", got)
	}
	s.Release(pos, viewer)
	if got := s.Status(pos); got != StatusReady {
		t.Fatalf("expected chunk to stay cached during the grace period, got %v", got)
	}
	waitFor(t, func() bool { return s.Status(pos) == StatusAbsent }, "chunk was never evicted")
}

func TestAcquireCancelsEviction(t *testing.T) {
	s := newTestStore(t, Config{EvictionGrace: 50 * time.Millisecond})
	pos, viewer := ChunkPos{}, uuid.New()
	ctx := context.Background()
	first, _ := s.Acquire(ctx, pos, viewer)
	s.Release(pos, viewer)
	second, err := s.Acquire(ctx, pos, viewer)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first != second {
		t.Fatalf("expected the cached chunk to be reused")
	}
	time.Sleep(100 * time.Millisecond)
	if got := s.Status(pos); got != StatusReady {
		t.Fatalf("expected chunk to survive, got %v", got)
	}
}

func TestEvictIgnoresReferencedChunk(t *testing.T) {
	s := newTestStore(t, Config{})
	pos := ChunkPos{2, 2}
	if _, err := s.Acquire(context.Background(), pos, uuid.New()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if s.Evict(pos) {
		t.Fatalf("evict must be a no-op while the chunk is referenced")
	}
	if s.Evict(ChunkPos{9, 9}) {
		t.Fatalf("evicting an absent chunk must report false")
	}
	if n := s.CollectGarbage(); n != 0 {
		t.Fatalf("expected no chunks collected, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one cached chunk, got %d", s.Len())
	}
}

func TestProviderBeforeGenerator(t *testing.T) {
	prov := newMemProvider()
	stored := chunk.New()
	stored.SetBlock(0, 0, 0, 12)
	stored.MarkClean()
	prov.chunks[ChunkPos{4, 4}] = stored

	gen := &countingGenerator{}
	s := newTestStore(t, Config{Provider: prov, Generator: gen})
	c, err := s.GetOrLoad(context.Background(), ChunkPos{4, 4})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Block(0, 0, 0) != 12 {
		t.Fatalf("expected persisted chunk to be returned")
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator must not run for a persisted chunk")
	}
}

func TestModifiedChunkSavedOnEvict(t *testing.T) {
	prov := newMemProvider()
	s := newTestStore(t, Config{Provider: prov, EvictionGrace: time.Hour})
	ctx := context.Background()

	before, err := s.GetOrLoad(ctx, ChunkPos{0, 0})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.SetBlock(ctx, 3, 70, 4, 9); err != nil {
		t.Fatalf("set block: %v", err)
	}
	if before.Block(3, 70, 4) != 0 {
		t.Fatalf("chunks handed out earlier must not change")
	}
	if err := s.SetBlock(ctx, 0, 1000, 0, 1); !errors.Is(err, ErrBlockOutOfRange) {
		t.Fatalf("expected ErrBlockOutOfRange, got %v", err)
	}
	if !s.Evict(ChunkPos{}) {
		t.Fatalf("expected chunk to be evicted")
	}
	if prov.stored.Load() != 1 {
		t.Fatalf("expected modified chunk to be stored once, got %d", prov.stored.Load())
	}
	c, err := s.GetOrLoad(ctx, ChunkPos{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.Block(3, 70, 4) != 9 {
		t.Fatalf("expected reloaded chunk to contain the saved block")
	}
}

func TestClosedStore(t *testing.T) {
	s := Config{Log: discardLog}.New()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.GetOrLoad(context.Background(), ChunkPos{}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestGetOrLoadContextCancelled(t *testing.T) {
	gen := &countingGenerator{gate: make(chan struct{})}
	s := newTestStore(t, Config{Generator: gen, GenerationTimeout: time.Second})
	t.Cleanup(func() { close(gen.gate) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.GetOrLoad(ctx, ChunkPos{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAcquireWithoutEvictionGrace(t *testing.T) {
	gen := &countingGenerator{}
	s := newTestStore(t, Config{Generator: gen, EvictionGrace: -1})
	pos := ChunkPos{1, 1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	viewers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	errs := make(chan error, len(viewers))
	for _, viewer := range viewers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Acquire(ctx, pos, viewer)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("expected generator to be called once, got %d", n)
	}
	if n := s.Viewers(pos); n != len(viewers) {
		t.Fatalf("expected %d viewers, got %d", len(viewers), n)
	}

	for _, viewer := range viewers {
		s.Release(pos, viewer)
	}
	waitFor(t, func() bool { return s.Status(pos) == StatusAbsent }, "expected chunk to be evicted once released")
}

func TestSetBlockWithoutEvictionGrace(t *testing.T) {
	prov := newMemProvider()
	s := newTestStore(t, Config{Provider: prov, EvictionGrace: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.SetBlock(ctx, 3, 70, 4, 9); err != nil {
		t.Fatalf("set block: %v", err)
	}
	waitFor(t, func() bool { return prov.stored.Load() == 1 }, "expected the modified chunk to be saved on eviction")
	c, err := prov.LoadChunk(ChunkPos{})
	if err != nil {
		t.Fatalf("load saved chunk: %v", err)
	}
	if id := c.Block(3, 70, 4); id != 9 {
		t.Fatalf("expected saved block 9, got %d", id)
	}
}

// gatedProvider blocks LoadChunk until gate is closed.
type gatedProvider struct {
	*memProvider
	loading chan struct{}
	gate    chan struct{}
	closed  atomic.Bool
	late    atomic.Int32
}

func (p *gatedProvider) LoadChunk(pos ChunkPos) (*chunk.Chunk, error) {
	close(p.loading)
	<-p.gate
	c := chunk.New()
	c.SetBlock(0, 0, 0, 1)
	return c, nil
}

func (p *gatedProvider) StoreChunk(pos ChunkPos, c *chunk.Chunk) error {
	if p.closed.Load() {
		p.late.Add(1)
	}
	return p.memProvider.StoreChunk(pos, c)
}

func (p *gatedProvider) Close() error {
	p.closed.Store(true)
	return nil
}

func TestLoadFinishingAfterClose(t *testing.T) {
	prov := &gatedProvider{memProvider: newMemProvider(), loading: make(chan struct{}), gate: make(chan struct{})}
	s := Config{Log: discardLog, Provider: prov, EvictionGrace: -1}.New()

	errs := make(chan error, 1)
	go func() {
		_, err := s.GetOrLoad(context.Background(), ChunkPos{})
		errs <- err
	}()
	<-prov.loading
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(prov.gate)

	if err := <-errs; !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("expected closed store to hold no chunks, got %d", n)
	}
	time.Sleep(20 * time.Millisecond)
	if n := prov.late.Load(); n != 0 {
		t.Fatalf("expected no chunks stored after close, got %d", n)
	}
}

package world

import (
	"log/slog"
	"runtime"
	"time"
)

// Config may be used to create a new Store. It holds the collaborators and
// limits the Store works with. The zero value is usable: withDefaults fills
// every unset field.
type Config struct {
	// Log is the Logger that will be used to log errors and debug messages.
	// If set to nil, slog.Default() is used.
	Log *slog.Logger
	// Provider is the Provider implementation used to load chunks before
	// they are generated and to save modified chunks when they are evicted.
	// If nil, NopProvider is used.
	Provider Provider
	// Generator is the Generator implementation used to generate chunks that
	// the Provider does not have. If nil, NopGenerator is used.
	Generator Generator
	// Seed is passed to the Generator for every chunk generated.
	Seed int64
	// ReadOnly specifies if the Store should avoid saving chunks to the
	// Provider.
	ReadOnly bool
	// GeneratorWorkers is the amount of goroutines generating chunks
	// concurrently. Defaults to the amount of CPUs.
	GeneratorWorkers int
	// GeneratorQueueSize is the capacity of the queue of chunks waiting for a
	// generator worker. Defaults to 256.
	GeneratorQueueSize int
	// GenerationTimeout bounds a single generation attempt. A Generator that
	// takes longer is abandoned and the attempt counts as failed. Defaults
	// to 10 seconds.
	GenerationTimeout time.Duration
	// GenerationRetries is the amount of attempts made to generate a chunk
	// before a GenerationError is returned. Defaults to 3.
	GenerationRetries int
	// EvictionGrace is the time a chunk stays cached after its last viewer
	// released it. Acquiring it again within this period cancels the
	// eviction. Defaults to 30 seconds; a negative value evicts as soon as
	// the last viewer leaves.
	EvictionGrace time.Duration
	// Metrics receives counters of the Store. It may be nil.
	Metrics *Metrics
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		conf.Provider = NopProvider{}
	}
	if conf.Generator == nil {
		conf.Generator = NopGenerator{}
	}
	if conf.GeneratorWorkers <= 0 {
		conf.GeneratorWorkers = runtime.NumCPU()
	}
	if conf.GeneratorQueueSize <= 0 {
		conf.GeneratorQueueSize = 256
	}
	if conf.GenerationTimeout <= 0 {
		conf.GenerationTimeout = time.Second * 10
	}
	if conf.GenerationRetries <= 0 {
		conf.GenerationRetries = 3
	}
	if conf.EvictionGrace < 0 {
		conf.EvictionGrace = 0
	} else if conf.EvictionGrace == 0 {
		conf.EvictionGrace = time.Second * 30
	}
	return conf
}

// New creates a new Store using the Config conf and starts its generator
// workers. Store.Close must be called to stop them.
func (conf Config) New() *Store {
	conf = conf.withDefaults()
	s := &Store{
		conf:    conf,
		queue:   make(chan generationTask, conf.GeneratorQueueSize),
		closing: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].columns = make(map[ChunkPos]*Column)
		s.shards[i].waiting = make(map[ChunkPos]int)
	}
	s.running.Add(conf.GeneratorWorkers)
	for range conf.GeneratorWorkers {
		go s.generatorWorker()
	}
	return s
}

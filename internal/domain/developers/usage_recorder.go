package developers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// FlushInterval is how often buffered last-used times are written.
	FlushInterval = 30 * time.Second

	// MaxBufferSize forces a flush once this many keys are buffered.
	MaxBufferSize = 100
)

// UsageRepository persists last-used times.
type UsageRepository interface {
	TouchAPIKeys(ctx context.Context, usedAt map[string]time.Time) error
}

// UsageRecorder buffers API key last-used times in memory and writes them
// in batches, so authenticating a request does not cost a database write.
// It is safe for concurrent use.
type UsageRecorder struct {
	mu       sync.Mutex
	used     map[string]time.Time
	repo     UsageRepository
	interval time.Duration
	maxSize  int
	ticker   *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
	logger   zerolog.Logger
}

func NewUsageRecorder(repo UsageRepository, logger zerolog.Logger) *UsageRecorder {
	return &UsageRecorder{
		used:     make(map[string]time.Time),
		repo:     repo,
		interval: FlushInterval,
		maxSize:  MaxBufferSize,
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "usage_recorder").Logger(),
	}
}

// Start launches the background flush loop. Calling it again is a no-op.
func (r *UsageRecorder) Start() {
	r.mu.Lock()
	if r.ticker != nil {
		r.mu.Unlock()
		return
	}
	r.ticker = time.NewTicker(r.interval)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop()
	r.logger.Info().Dur("interval", r.interval).Msg("usage recorder started")
}

func (r *UsageRecorder) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

// Record notes that key id was used at t. Later times win.
func (r *UsageRecorder) Record(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.used[id]; !ok || t.After(prev) {
		r.used[id] = t
	}
	if len(r.used) >= r.maxSize && r.ticker != nil {
		snapshot := r.used
		r.used = make(map[string]time.Time)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.write(snapshot)
		}()
	}
}

func (r *UsageRecorder) flush() {
	r.mu.Lock()
	if len(r.used) == 0 {
		r.mu.Unlock()
		return
	}
	snapshot := r.used
	r.used = make(map[string]time.Time)
	r.mu.Unlock()

	r.write(snapshot)
}

func (r *UsageRecorder) write(snapshot map[string]time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.TouchAPIKeys(ctx, snapshot); err != nil {
		r.logger.Error().Err(err).Int("keys", len(snapshot)).Msg("failed to write api key usage")
		return
	}
	r.logger.Debug().Int("keys", len(snapshot)).Msg("api key usage flushed")
}

// Close stops the loop and writes anything still buffered. It is safe to
// call more than once.
func (r *UsageRecorder) Close() error {
	r.shutdown.Do(func() {
		r.mu.Lock()
		started := r.ticker != nil
		if started {
			r.ticker.Stop()
		}
		r.mu.Unlock()

		if started {
			close(r.done)
		}
		r.wg.Wait()
		r.flush()
		r.logger.Info().Msg("usage recorder stopped")
	})
	return nil
}

// Pending returns the number of buffered keys.
func (r *UsageRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}

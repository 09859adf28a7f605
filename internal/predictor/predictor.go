// Package predictor implements a lightweight online hit predictor. It
// estimates P(future hit | key) from bounded per-key access history using
// a single-layer logistic model trained incrementally off the hot path.
package predictor

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/quantcache/quantcache/pkg/errors"
	"github.com/quantcache/quantcache/pkg/types"
)

var _ types.HitPredictor = (*Predictor)(nil)

const (
	numFeatures = 5

	defaultMaxSamples    = 2000
	defaultHistoryPerKey = 50
	defaultMaxKeys       = 8192
	defaultLearningRate  = 0.05

	// frequencyCap bounds the windowed access count used for the capped
	// frequency score feature.
	frequencyCap = 10
)

// Config configures the predictor.
type Config struct {
	Enabled             bool
	PredictionWindow    time.Duration
	ConfidenceThreshold float64
	LearningRate        float64
	MaxSamples          int
	HistoryPerKey       int

	// MaxKeys caps the number of keys with tracked history. Misses for
	// keys that were never stored still record history, so without a cap
	// the map grows with the miss key space.
	MaxKeys int
}

type keyHistory struct {
	accesses []time.Time
}

type sample struct {
	features [numFeatures]float64
	target   float64
}

// Predictor estimates hit probability per key. All methods are safe for
// concurrent use; RecordAccess and Predict are O(window) and cheap, Train
// walks the bounded sample buffer and is meant for the maintenance tick.
type Predictor struct {
	mu        sync.Mutex
	cfg       Config
	logger    *zap.Logger
	histories map[string]*keyHistory
	samples   []sample

	weights  [numFeatures]float64
	bias     float64
	trained  bool
	failures uint64

	now func() time.Time
}

// New creates a predictor. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PredictionWindow <= 0 {
		cfg.PredictionWindow = time.Hour
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaultLearningRate
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = defaultMaxSamples
	}
	if cfg.HistoryPerKey <= 0 {
		cfg.HistoryPerKey = defaultHistoryPerKey
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &Predictor{
		cfg:       cfg,
		logger:    logger,
		histories: make(map[string]*keyHistory),
		samples:   make([]sample, 0, cfg.MaxSamples),
		now:       time.Now,
	}
}

// RecordAccess updates the per-key history and appends a training sample.
// hit reports whether the access found a live entry.
func (p *Predictor) RecordAccess(key string, hit bool) {
	if !p.cfg.Enabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	h, ok := p.histories[key]
	if !ok {
		if len(p.histories) >= p.cfg.MaxKeys {
			p.evictHistoryLocked(now)
		}
		h = &keyHistory{}
		p.histories[key] = h
	}

	// Sample features reflect the state before this access.
	features := p.featuresLocked(key, h, now)
	target := 0.0
	if hit {
		target = 1.0
	}
	p.samples = append(p.samples, sample{features: features, target: target})
	if len(p.samples) > p.cfg.MaxSamples {
		p.samples = p.samples[len(p.samples)-p.cfg.MaxSamples:]
	}

	h.accesses = append(h.accesses, now)
	p.pruneLocked(h, now)
}

// Predict returns the estimated hit probability for a key in [0,1].
// Returns the neutral 0.5 when disabled or not yet trained.
func (p *Predictor) Predict(key string) float64 {
	if !p.cfg.Enabled {
		return 0.5
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.trained {
		return 0.5
	}

	h, ok := p.histories[key]
	if !ok {
		h = &keyHistory{}
	}
	features := p.featuresLocked(key, h, p.now())
	return p.scoreLocked(features)
}

// Train runs one stochastic gradient pass over the sample buffer. On any
// numeric failure the previous weights are retained and the failure is
// counted; the error is informational only.
func (p *Predictor) Train() error {
	if !p.cfg.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.dropStaleLocked(p.now())

	if len(p.samples) == 0 {
		return nil
	}

	prevWeights := p.weights
	prevBias := p.bias

	for _, s := range p.samples {
		pred := p.scoreLocked(s.features)
		grad := s.target - pred
		for i, f := range s.features {
			p.weights[i] += p.cfg.LearningRate * grad * f
		}
		p.bias += p.cfg.LearningRate * grad
	}

	for _, w := range p.weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			p.weights = prevWeights
			p.bias = prevBias
			p.failures++
			p.logger.Warn("predictor training diverged, weights rolled back",
				zap.Uint64("failures", p.failures))
			return errors.New(errors.ErrCodeTrainingFailed, "model weights diverged").
				WithComponent("predictor").WithOperation("train")
		}
	}

	p.trained = true
	return nil
}

// Forget drops the history for a key. Called when the entry is deleted.
func (p *Predictor) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.histories, key)
}

// Reset drops all per-key history and training samples but keeps the
// learned weights.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.histories = make(map[string]*keyHistory)
	p.samples = p.samples[:0]
}

// TrainingFailures returns the number of failed training passes.
func (p *Predictor) TrainingFailures() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// featuresLocked builds the feature vector: normalized key hash, hour of
// day, windowed access frequency, mean inter-access gap relative to the
// window, and a capped frequency score.
func (p *Predictor) featuresLocked(key string, h *keyHistory, now time.Time) [numFeatures]float64 {
	var f [numFeatures]float64

	f[0] = float64(xxhash.Sum64String(key)) / float64(math.MaxUint64)
	f[1] = float64(now.Hour()) / 23.0

	p.pruneLocked(h, now)
	count := len(h.accesses)
	f[2] = math.Min(1, float64(count)/100.0)

	if count >= 2 {
		span := h.accesses[count-1].Sub(h.accesses[0])
		mean := span / time.Duration(count-1)
		f[3] = math.Min(1, float64(mean)/float64(p.cfg.PredictionWindow))
	} else {
		f[3] = 1
	}

	f[4] = math.Min(float64(count), frequencyCap) / frequencyCap
	return f
}

func (p *Predictor) scoreLocked(features [numFeatures]float64) float64 {
	z := p.bias
	for i, w := range p.weights {
		z += w * features[i]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// dropStaleLocked removes histories with no access inside the prediction
// window.
func (p *Predictor) dropStaleLocked(now time.Time) {
	cutoff := now.Add(-p.cfg.PredictionWindow)
	for key, h := range p.histories {
		if len(h.accesses) == 0 || h.accesses[len(h.accesses)-1].Before(cutoff) {
			delete(p.histories, key)
		}
	}
}

// evictHistoryLocked makes room for a new key: stale histories go first,
// then the key with the oldest last access.
func (p *Predictor) evictHistoryLocked(now time.Time) {
	p.dropStaleLocked(now)
	if len(p.histories) < p.cfg.MaxKeys {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, h := range p.histories {
		last := h.accesses[len(h.accesses)-1]
		if oldestKey == "" || last.Before(oldest) {
			oldestKey = key
			oldest = last
		}
	}
	delete(p.histories, oldestKey)
}

// pruneLocked drops accesses outside the prediction window and caps the
// per-key history length.
func (p *Predictor) pruneLocked(h *keyHistory, now time.Time) {
	cutoff := now.Add(-p.cfg.PredictionWindow)
	i := 0
	for i < len(h.accesses) && h.accesses[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.accesses = h.accesses[i:]
	}
	if len(h.accesses) > p.cfg.HistoryPerKey {
		h.accesses = h.accesses[len(h.accesses)-p.cfg.HistoryPerKey:]
	}
}

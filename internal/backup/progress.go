package backup

import (
	"time"

	"backo/internal/repository"
)

// speedWindow bounds the sliding window of throughput samples.
const speedWindow = 10

// Tracker accumulates processed-file and processed-byte counters for one
// execution and keeps a sliding window of instantaneous throughput
// samples. Every Advance persists the counters, making the execution
// record the single source of truth for progress polling.
type Tracker struct {
	repo        *repository.ExecutionRepository
	executionID uint

	startTime      time.Time
	lastUpdate     time.Time
	processedFiles int64
	processedSize  int64
	currentFile    string
	speedSamples   []float64

	now func() time.Time
}

func NewTracker(repo *repository.ExecutionRepository, executionID uint) *Tracker {
	now := time.Now()
	return &Tracker{
		repo:        repo,
		executionID: executionID,
		startTime:   now,
		lastUpdate:  now,
		now:         time.Now,
	}
}

// Advance records one copied file and persists the new counters.
func (t *Tracker) Advance(size int64, currentFile string) error {
	now := t.now()

	// Guard against wall-clock skew: a zero or negative delta would
	// corrupt the average, so the sample is dropped, not the update.
	delta := now.Sub(t.lastUpdate).Seconds()
	if delta > 0 {
		t.speedSamples = append(t.speedSamples, float64(size)/delta)
		if len(t.speedSamples) > speedWindow {
			t.speedSamples = t.speedSamples[1:]
		}
		t.lastUpdate = now
	}

	t.processedFiles++
	t.processedSize += size
	t.currentFile = currentFile

	return t.repo.UpdateProgress(t.executionID, t.processedFiles, t.processedSize, t.currentFile)
}

func (t *Tracker) ProcessedFiles() int64 { return t.processedFiles }
func (t *Tracker) ProcessedSize() int64  { return t.processedSize }

func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.startTime)
}

// AverageSpeed returns the mean of the sample window in bytes/second,
// or 0 when no sample has been taken yet.
func (t *Tracker) AverageSpeed() float64 {
	if len(t.speedSamples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range t.speedSamples {
		sum += s
	}
	return sum / float64(len(t.speedSamples))
}

// ETA estimates the remaining time from the average throughput. It
// returns nil when the throughput is unknown or zero.
func (t *Tracker) ETA(totalSize int64) *time.Duration {
	speed := t.AverageSpeed()
	if speed <= 0 {
		return nil
	}

	remaining := totalSize - t.processedSize
	if remaining < 0 {
		remaining = 0
	}

	eta := time.Duration(float64(remaining) / speed * float64(time.Second))
	return &eta
}

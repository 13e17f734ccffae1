package benchmark

import (
	mrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellect4all/lstore/lstore"
)

// WorkloadType defines the access pattern.
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy" // 95% writes
	WorkloadReadHeavy  WorkloadType = "read-heavy"  // 95% reads
	WorkloadBalanced   WorkloadType = "balanced"    // 50/50
	WorkloadReadOnly   WorkloadType = "read-only"   // 100% reads
	WorkloadWriteOnly  WorkloadType = "write-only"  // 100% writes
)

// Config defines a benchmark scenario against a single lstore.Table.
// NumCols/KeyCol describe the table shape; writes are modeled as
// Query.Update on a key drawn from KeyDistribution over [0, NumKeys) (there
// is no variable-size value to generate, since every column is a
// fixed-width int64). Only keys below PreloadKeys exist, so an update that
// draws a higher key fails and is counted as an error, not a write.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	KeyDistribution KeyDistribution

	NumKeys int // total unique keys in dataset
	NumCols int
	KeyCol  int

	Duration    time.Duration
	Concurrency int

	PreloadKeys int

	Seed int64
}

type Result struct {
	Config Config

	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	Duration  time.Duration
	OpsPerSec float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	// LiveRecords is the number of base RIDs still live at the end of the
	// run, a cheap analog of the teacher's space-amplification metric.
	LiveRecords int
}

// Benchmark drives Query operations against one table, the way the
// teacher's Benchmark drives Put/Get against one common.StorageEngine.
type Benchmark struct {
	table  *lstore.Table
	query  *lstore.Query
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount atomic.Int64
	readCount  atomic.Int64
	errorCount atomic.Int64

	keyGen *KeyGenerator
}

func NewBenchmark(table *lstore.Table, config Config) *Benchmark {
	return &Benchmark{
		table:          table,
		query:          table.Query(),
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		keyGen:         NewKeyGenerator(config.NumKeys, config.KeyDistribution, config.Seed),
	}
}

// Run executes the benchmark: preload, an unmeasured warm-up, then the
// measured phase.
func (b *Benchmark) Run() (*Result, error) {
	if b.config.PreloadKeys > 0 {
		if err := b.preload(); err != nil {
			return nil, err
		}
	}

	b.runWorkload(minDuration(5*time.Second, b.config.Duration))

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount.Store(0)
	b.readCount.Store(0)
	b.errorCount.Store(0)

	startTime := time.Now()
	b.runWorkload(b.config.Duration)
	duration := time.Since(startTime)

	return b.calculateResults(duration), nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (b *Benchmark) preload() error {
	values := make([]int64, b.config.NumCols)
	for i := 0; i < b.config.PreloadKeys; i++ {
		key := b.keyGen.GenerateSequential(i)
		row := append([]int64{}, values...)
		row[b.config.KeyCol] = key
		if _, err := b.query.Insert(row); err != nil {
			return err
		}
	}
	return nil
}

func (b *Benchmark) runWorkload(duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(stop)
		}()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
}

func (b *Benchmark) worker(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			if b.shouldWrite() {
				b.doWrite()
			} else {
				b.doRead()
			}
		}
	}
}

func (b *Benchmark) shouldWrite() bool {
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return b.randFloat() < 0.95
	case WorkloadReadHeavy:
		return b.randFloat() < 0.05
	case WorkloadBalanced:
		return b.randFloat() < 0.50
	default:
		return b.randFloat() < 0.50
	}
}

func (b *Benchmark) doWrite() {
	key := b.keyGen.NextKey()
	start := time.Now()
	v := time.Now().UnixNano() % 1000
	col := (b.config.KeyCol + 1) % b.config.NumCols
	newValues := make([]*int64, b.config.NumCols)
	newValues[col] = &v
	err := b.query.Update(key, newValues)
	latency := time.Since(start)

	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.writeLatencies.Record(latency)
	b.writeCount.Add(1)
}

func (b *Benchmark) doRead() {
	key := b.keyGen.NextKey()
	mask := make([]bool, b.config.NumCols)
	for i := range mask {
		mask[i] = true
	}

	start := time.Now()
	_, err := b.query.Select(key, b.config.KeyCol, mask)
	latency := time.Since(start)

	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.readLatencies.Record(latency)
	b.readCount.Add(1)
}

func (b *Benchmark) calculateResults(duration time.Duration) *Result {
	writeOps := b.writeCount.Load()
	readOps := b.readCount.Load()
	totalOps := writeOps + readOps

	return &Result{
		Config:       b.config,
		TotalOps:     totalOps,
		WriteOps:     writeOps,
		ReadOps:      readOps,
		Duration:     duration,
		OpsPerSec:    float64(totalOps) / duration.Seconds(),
		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),
		LiveRecords:  b.table.LiveRecordCount(),
	}
}

func (b *Benchmark) randFloat() float64 {
	return mrand.Float64()
}

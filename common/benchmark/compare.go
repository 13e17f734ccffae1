package benchmark

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Suite holds a set of workload configs and prints per-workload results
// and a summary table, the single-engine analog of the teacher's
// multi-engine ComparisonSuite (there is only one engine here). It does not
// run workloads itself; the caller runs each config against its own table.
type Suite struct {
	configs []Config
}

func NewSuite() *Suite {
	return &Suite{configs: StandardWorkloads()}
}

func (s *Suite) SetWorkloads(configs []Config) {
	s.configs = configs
}

// StandardWorkloads returns a representative set of scenarios.
func StandardWorkloads() []Config {
	return []Config{
		{
			Name: "write-heavy-uniform", WorkloadType: WorkloadWriteHeavy, KeyDistribution: DistUniform,
			NumKeys: 100000, NumCols: 5, KeyCol: 0, Duration: 10 * time.Second, Concurrency: 8,
			PreloadKeys: 50000, Seed: 12345,
		},
		{
			Name: "read-heavy-zipfian", WorkloadType: WorkloadReadHeavy, KeyDistribution: DistZipfian,
			NumKeys: 100000, NumCols: 5, KeyCol: 0, Duration: 10 * time.Second, Concurrency: 8,
			PreloadKeys: 50000, Seed: 12345,
		},
		{
			Name: "balanced-uniform", WorkloadType: WorkloadBalanced, KeyDistribution: DistUniform,
			NumKeys: 100000, NumCols: 5, KeyCol: 0, Duration: 10 * time.Second, Concurrency: 8,
			PreloadKeys: 50000, Seed: 12345,
		},
		{
			Name: "write-only-sequential", WorkloadType: WorkloadWriteOnly, KeyDistribution: DistSequential,
			NumKeys: 100000, NumCols: 5, KeyCol: 0, Duration: 10 * time.Second, Concurrency: 1,
			PreloadKeys: 100000, Seed: 12345,
		},
	}
}

// QuickWorkloads returns faster-running variants for smoke testing.
func QuickWorkloads() []Config {
	return []Config{
		{
			Name: "quick-write-heavy", WorkloadType: WorkloadWriteHeavy, KeyDistribution: DistUniform,
			NumKeys: 5000, NumCols: 5, KeyCol: 0, Duration: 3 * time.Second, Concurrency: 4,
			PreloadKeys: 2000, Seed: 12345,
		},
		{
			Name: "quick-balanced", WorkloadType: WorkloadBalanced, KeyDistribution: DistUniform,
			NumKeys: 5000, NumCols: 5, KeyCol: 0, Duration: 3 * time.Second, Concurrency: 4,
			PreloadKeys: 2000, Seed: 12345,
		},
		{
			Name: "quick-read-heavy", WorkloadType: WorkloadReadHeavy, KeyDistribution: DistZipfian,
			NumKeys: 5000, NumCols: 5, KeyCol: 0, Duration: 3 * time.Second, Concurrency: 4,
			PreloadKeys: 3000, Seed: 12345,
		},
	}
}

func (s *Suite) Configs() []Config {
	return s.configs
}

func (s *Suite) PrintResult(r *Result) {
	fmt.Printf("\nResults for: %s\n", r.Config.Name)
	fmt.Printf("  Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("  Total Ops: %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)
	fmt.Printf("  Live records: %d\n", r.LiveRecords)

	if r.WriteOps > 0 {
		fmt.Printf("  Write Latency (us): p50=%d p95=%d p99=%d\n",
			r.WriteLatency.P50.Microseconds(), r.WriteLatency.P95.Microseconds(), r.WriteLatency.P99.Microseconds())
	}
	if r.ReadOps > 0 {
		fmt.Printf("  Read Latency (us): p50=%d p95=%d p99=%d\n",
			r.ReadLatency.P50.Microseconds(), r.ReadLatency.P95.Microseconds(), r.ReadLatency.P99.Microseconds())
	}
}

// PrintTable prints a compact throughput summary across every result.
func (s *Suite) PrintTable(results []*Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Workload\tOps/sec\tWrite P99 (us)\tRead P99 (us)")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.0f\t%d\t%d\n",
			r.Config.Name, r.OpsPerSec, r.WriteLatency.P99.Microseconds(), r.ReadLatency.P99.Microseconds())
	}
	w.Flush()
}

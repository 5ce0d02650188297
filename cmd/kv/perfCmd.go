package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/eKV/cmd/util"
	"github.com/ValentinKolb/eKV/lib/common"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the store",
		Long:    util.WrapString("Runs set, get and scan benchmarks against the configured store in a scratch collection that is deleted afterwards."),
		RunE:    util.WithStore(false, runPerf),
		PreRunE: processPerfConfig,
	}
	perfCollection       = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the read benchmarks"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string, s store.IStore) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for the store")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetStoreConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	cleanup := func(test string) {
		if _, err := s.Write(ctx, func(tx store.WriteTxn) error {
			return tx.DeleteAllInCollection(perfCollection)
		}); err != nil {
			log.Warningf("(%s) - error deleting test rows: %v", test, err)
		}
	}
	fill := func(test string, value any) {
		if _, err := s.Write(ctx, func(tx store.WriteTxn) error {
			for i := range perfKeySpread {
				if err := tx.Set(perfCollection, perfKey(test, i), value, nil); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			log.Warningf("(%s) - error setting keys: %v", test, err)
		}
	}

	// writes are serialized by the store, so these run on one goroutine
	setBench := func(test string, value any) testing.BenchmarkResult {
		return testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test) {
				return
			}
			b.Cleanup(func() { cleanup(test) })
			b.ResetTimer()
			for i := range b.N {
				if _, err := s.Write(ctx, func(tx store.WriteTxn) error {
					return tx.Set(perfCollection, perfKey(test, i), value, nil)
				}); err != nil {
					log.Warningf("(%s) - error setting key: %v", test, err)
				}
			}
		})
	}

	results["set"] = setBench("set", map[string]any{"value": "test"})
	printResult("set", results["set"])

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)
	results["set-large"] = setBench("set-large", map[string]any{"value": largeValue})
	printResult("set-large", results["set-large"])

	results["get"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}
		fill("get", map[string]any{"value": "test"})
		b.Cleanup(func() { cleanup("get") })
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				tx := s.BeginRead()
				if _, ok := tx.Get(perfCollection, perfKey("get", counter)); !ok {
					log.Warningf("(get) - missing key %s", perfKey("get", counter))
				}
				tx.Close()
				counter++
			}
		})
	})
	printResult("get", results["get"])

	results["scan"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("scan") {
			return
		}
		fill("scan", map[string]any{"value": "test"})
		b.Cleanup(func() { cleanup("scan") })
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				tx := s.BeginRead()
				for range tx.Rows(perfCollection) {
				}
				tx.Close()
			}
		})
	})
	printResult("scan", results["scan"])

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetStoreConfig()); err != nil {
			return err
		}
	}
	return nil
}

func shouldSkip(test string) bool {
	for _, s := range perfSkip {
		if strings.TrimSpace(s) == test {
			return true
		}
	}
	return false
}

func perfKey(test string, i int) string {
	return fmt.Sprintf("%s-%d", test, i%perfKeySpread)
}

func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.StoreConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Engine", "CacheSize", "Extensions",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			string(config.Engine),
			strconv.Itoa(config.ObjectCacheSize),
			config.ExtensionsFile,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}

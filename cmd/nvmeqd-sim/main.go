package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nvmeqd/nvmeqd"
	"github.com/nvmeqd/nvmeqd/internal/ioworker"
	"github.com/nvmeqd/nvmeqd/internal/logging"
	"github.com/nvmeqd/nvmeqd/internal/transport"
)

func main() {
	var (
		sizeStr        = flag.String("size", "64M", "Size of the simulated namespace (e.g., 64M, 1G)")
		verbose        = flag.Bool("v", false, "Verbose output")
		readPercentage = flag.Int("read-pct", 70, "Percentage of ops that are reads [0,100]")
		ioCount        = flag.Uint64("io-count", 10000, "Number of I/Os to issue (0 = unbounded, bounded by -seconds)")
		seconds        = flag.Uint64("seconds", 10, "Wall-clock budget in seconds (0 = unbounded, capped at 24h)")
		queueDepth     = flag.Int("queue-depth", 32, "Queue depth")
		verifyRead     = flag.Bool("verify-read", true, "Verify reads against the checksum oracle")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}
	sectors := uint64(size) / nvmeqd.SectorSize

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	lb := transport.NewLoopbackTransport()
	lb.AttachNamespace(1, sectors)

	ctx := context.Background()
	driver, err := nvmeqd.Init(ctx, nvmeqd.DriverParams{
		Role:         nvmeqd.RolePrimary,
		Prefix:       fmt.Sprintf("nvmeqd-sim-%d", os.Getpid()),
		TotalSectors: sectors,
		Transport:    lb,
	}, &nvmeqd.Options{Logger: logger})
	if err != nil {
		log.Fatalf("driver init failed: %v", err)
	}
	defer driver.Close()

	if *verifyRead {
		driver.Config(nvmeqd.ConfigVerifyRead)
	}

	qp, err := driver.NewQueuePair(1)
	if err != nil {
		log.Fatalf("queue pair attach failed: %v", err)
	}
	defer qp.Destroy()

	ns := &nvmeqd.Namespace{
		NSID:         1,
		TotalSectors: sectors,
		SectorSize:   nvmeqd.SectorSize,
		MaxXferBytes: 1 << 20,
	}

	worker, err := ioworker.New(qp.Queue, ns, ioworker.Args{
		LBAStart:       0,
		LBASize:        8,
		LBAAlign:       8,
		LBARandom:      true,
		RegionStart:    0,
		RegionEnd:      sectors,
		ReadPercentage: *readPercentage,
		IOCount:        *ioCount,
		Seconds:        *seconds,
		QueueDepth:     *queueDepth,
	}, driver.PRNG())
	if err != nil {
		log.Fatalf("ioworker config rejected: %v", err)
	}

	logger.Info("starting qualification run",
		"size", formatSize(size), "read_pct", *readPercentage, "io_count", *ioCount, "seconds", *seconds)

	start := time.Now()
	rets := worker.Run(ctx)
	elapsed := time.Since(start)

	fmt.Printf("reads=%d writes=%d max_latency_us=%d elapsed_ms=%d status=0x%04x\n",
		rets.IOCountRead, rets.IOCountWrite, rets.LatencyMaxUs, rets.MSeconds, rets.Error)
	fmt.Printf("wall clock: %s\n", elapsed)

	snap := driver.Metrics().Snapshot()
	fmt.Printf("device errors=%d verify failures=%d error rate=%.3f%%\n",
		snap.DeviceErrors, snap.VerifyFailures, snap.ErrorRate)
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}

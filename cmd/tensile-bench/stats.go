package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var watched = []string{
	"tensile_samples_ingested_total",
	"tensile_samples_dropped_total",
	"tensile_queue_length",
	"tensile_wal_size_bytes",
	"tensile_sessions",
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func statsCommand(args []string) error {
	fs := newFlagSet("stats")
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			values, err := scrape(ctx, *url)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Printf("[%s] samples=%.0f dropped=%.0f queue=%.0f wal_bytes=%.0f sessions=%.0f\n",
				time.Now().Format(time.RFC3339),
				values[watched[0]], values[watched[1]], values[watched[2]], values[watched[3]], values[watched[4]])
		}
	}
}

func scrape(ctx context.Context, url string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(watched))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range watched {
			if !strings.HasPrefix(line, key+" ") {
				continue
			}
			var v float64
			if _, err := fmt.Sscanf(line, key+" %g", &v); err == nil {
				values[key] = v
			}
		}
	}
	return values, scanner.Err()
}

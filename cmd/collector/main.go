// Command collector drives the collector library from line-oriented input on
// stdin, one input per line (see parseLine), and delivers the resulting
// events to an ingestion endpoint.
package main

import (
	"bufio"
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"example.com/pulsetrack/internal/collector"
	"example.com/pulsetrack/internal/logging"
)

func main() {
	var (
		endpoint  = flag.String("endpoint", "http://localhost:8080/json/events", "ingestion endpoint URL")
		queueDir  = flag.String("queue-dir", "collector-queue", "directory of the durable event queue (empty keeps it in memory)")
		page      = flag.String("page", "/", "page path reported on every event")
		referrer  = flag.String("referrer", "", "referrer reported on page-enter")
		probeURL  = flag.String("probe-url", "", "image URL fetched once to report imagesEnabled")
		interval  = flag.Duration("flush-interval", collector.DefaultFlushInterval, "periodic flush interval")
		logLevel  = flag.String("log-level", "info", "log level")
		logFormat = flag.String("log-format", "console", "log format (json or console)")
	)
	flag.Parse()
	bootStart := time.Now()

	logger := logging.New(logging.Config{Level: *logLevel, Format: *logFormat, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := collector.OpenBadger(*queueDir)
	if err != nil {
		logger.Error("open queue storage failed", "dir", *queueDir, "error", err)
		os.Exit(1)
	}
	defer storage.Close()
	storageReady := time.Since(bootStart)

	transport := collector.NewHTTPTransport(*endpoint, collector.TransportOptions{}, logger.With("component", "collector.transport"))

	var probes collector.Probes
	if *probeURL != "" {
		probes.Images = func(ctx context.Context) bool { return fetchOK(ctx, *probeURL) }
	}

	c, err := collector.New(collector.Options{
		Page:          *page,
		Referrer:      *referrer,
		Storage:       storage,
		Sender:        transport,
		Beacon:        transport,
		Probes:        probes,
		Logger:        logger,
		FlushInterval: *interval,
	})
	if err != nil {
		logger.Error("create collector failed", "error", err)
		os.Exit(1)
	}

	c.Start(ctx)
	c.Load(hostEnvironment(), collector.NavigationTiming{
		End:    float64(time.Since(bootStart).Milliseconds()),
		Detail: map[string]any{"storageOpen": float64(storageReady.Milliseconds())},
	})
	logger.Info("collector started", "session_id", c.SessionID(), "endpoint", *endpoint, "page", *page, "inputs", c.Registry().Names())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			handleLine(ctx, c, line, logger)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := c.Unload(shutdownCtx)
	if err := transport.Close(shutdownCtx); err != nil {
		logger.Warn("beacons still pending at exit", "error", err)
	}
	logger.Info("collector stopped", "beaconed", res.Delivered, "left_queued", res.Requeued)
}

func hostEnvironment() collector.Environment {
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = "C"
	}
	return collector.Environment{
		UserAgent: "pulsetrack-collector (" + runtime.GOOS + "/" + runtime.GOARCH + ")",
		Language:  lang,
	}
}

func fetchOK(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

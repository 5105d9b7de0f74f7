// Command ingest-server runs the JSON Lines ingest service.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lineforge/jsontable/metrics"
	"github.com/lineforge/jsontable/serve"
)

func main() {
	cfg := serve.DefaultConfig()
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZeroMQ endpoint to bind")
	flag.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "parse block size in bytes")
	flag.BoolVar(&cfg.UseThreads, "threads", cfg.UseThreads, "process blocks on a worker pool")
	metricsAddr := flag.String("metrics-addr", ":9090", "metrics HTTP address")
	flag.Parse()

	service := serve.NewService(cfg)
	log.Printf("Starting ingest service on %s...", cfg.Endpoint)
	if err := service.Start(); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	metricsServer := metrics.NewServer(*metricsAddr)
	metricsServer.StartAsync()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	service.Stop()
	_ = metricsServer.Stop()
	log.Println("Stopped.")
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/server"
	"github.com/sentinelcam/sentinel/server/config"
)

func main() {
	parser := argparse.NewParser("sentinel", "Stateful video track analytics and alerting engine")

	serveCmd := parser.NewCommand("serve", "Run the analytics API server")
	configFile := serveCmd.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "sentinel.json"})
	port := serveCmd.Int("p", "port", &argparse.Options{Help: "Override the HTTP port from the config file", Default: 0})

	batchCmd := parser.NewCommand("batch", "Analyze a recorded frames file and exit")
	framesPath := batchCmd.String("f", "frames", &argparse.Options{Help: "JSONL file of tracked-box frames", Required: true})
	outDir := batchCmd.String("o", "out", &argparse.Options{Help: "Output directory for artifacts", Default: "sentinel-out"})
	dbPath := batchCmd.String("", "db", &argparse.Options{Help: "Event archive database", Default: "sentinel.sqlite"})
	width := batchCmd.Int("", "width", &argparse.Options{Help: "Frame width in pixels", Required: true})
	height := batchCmd.Int("", "height", &argparse.Options{Help: "Frame height in pixels", Required: true})
	fps := batchCmd.Float("", "fps", &argparse.Options{Help: "Frames per second of the recording", Default: 30.0})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if serveCmd.Happened() {
		serve(logger, *configFile, *port)
	} else if batchCmd.Happened() {
		batch(logger, *dbPath, *framesPath, *outDir, *width, *height, *fps)
	}
}

func serve(logger logs.Log, configFile string, port int) {
	cfg, err := config.Load(logger, configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.HTTP.Port = port
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Infof("Received signal %v, shutting down", sig)
		srv.Shutdown()
		os.Exit(0)
	}()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.HTTP.Port); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		os.Exit(1)
	}
}

func batch(logger logs.Log, dbPath, framesPath, outDir string, width, height int, fps float64) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath

	srv, err := server.NewServer(logger, &cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer srv.Shutdown()

	result, err := srv.RunBatch(server.BatchRequestJSON{
		Name:       "cli",
		FramesPath: framesPath,
		OutputDir:  outDir,
		Width:      width,
		Height:     height,
		FPS:        fps,
	})
	if err != nil {
		logger.Errorf("Batch run failed: %v", err)
		os.Exit(1)
	}
	for name, path := range result.Artifacts {
		logger.Infof("Wrote %v: %v", name, path)
	}
}

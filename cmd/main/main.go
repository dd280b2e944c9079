package main

import (
	"flag"
	"fmt"
	"os"

	"chainflow/src/config"
	"chainflow/src/logger"
	"chainflow/src/network"
	"chainflow/src/runtime"
	"chainflow/src/server"
	"chainflow/src/storage"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// 1. Load config from YAML file + environment overrides
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// 3. Shared HTTP manager for polling, backfill and preload
	netMgr := network.NewManager(cfg.MConfig, logger.NewLogger(cfg.LogLevel, "Network"))

	// 4. Optional chain-signal recorder
	recorder, err := storage.NewRecorder(cfg.MConfig, logger.NewLogger(cfg.LogLevel, "Recorder"))
	if err != nil {
		appLogger.Critical("Failed to init recorder: %v", err)
	}
	if err := recorder.Initialize(); err != nil {
		appLogger.Critical("Failed to initialize recorder: %v", err)
	}

	// 5. Status server for the dashboard
	srv := server.NewStatusServer(cfg.MConfig, logger.NewLogger(cfg.LogLevel, "StatusServer"))
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Status server failed: %v", err)
		}
	}()

	// 6. Supervisor runs the pipelines until a termination signal
	supervisor := runtime.NewSupervisor(cfg, appLogger, netMgr, recorder, srv)
	supervisor.Run()
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zacharytamas/clawdbot-mattermost/pkg/bus"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/channels"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/config"
	"github.com/zacharytamas/clawdbot-mattermost/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLoggingWithRotation(
			cfg.LogFilePath(),
			cfg.Logging.RotationEnabled,
			cfg.Logging.MaxSizeMB,
			cfg.Logging.MaxAgeDays,
		); err != nil {
			logger.WarnF("file logging unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := channels.NewManager(cfg, channels.ManagerOptions{
		OnEnvelope: func(envelope bus.Envelope) {
			data, err := json.Marshal(envelope)
			if err != nil {
				return
			}
			fmt.Println(string(data))
		},
	})

	logger.InfoC("main", "starting mattermost gateway")
	if err := manager.StartAll(ctx); err != nil {
		logger.ErrorCF("main", "some accounts failed to start", map[string]interface{}{
			"error": err.Error(),
		})
	}

	<-ctx.Done()
	logger.InfoC("main", "shutting down")
	manager.StopAll()
}

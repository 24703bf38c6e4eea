package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"airsync"
	"airsync/internal/config"
	"airsync/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "airsync",
		Level:       cfg.LogLevel,
	})

	srv, err := airsync.New(airsync.Config{
		KeyPath:       cfg.KeyPath,
		IconCachePath: cfg.IconCachePath,
		Host:          cfg.Host,
		Port:          cfg.Port,
		NoEncrypt:     cfg.NoEncrypt,
		Discovery:     cfg.Discovery,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("airsync: %v", err)
	}

	must := func(err error) {
		if err != nil {
			log.Fatalf("register event: %v", err)
		}
	}

	must(srv.OnEvent(airsync.EventMacInfoRequest, func(ctx context.Context, handlerID string, device map[string]any) (map[string]any, error) {
		logger.Info("providing macInfo", "device", device["name"])
		host, _ := os.Hostname()
		if host == "" {
			host = "AirSync Host"
		}
		return map[string]any{
			"name":               host,
			"type":               "PC",
			"isPlus":             true,
			"isPlusSubscription": true,
		}, nil
	}))

	must(srv.OnEvent(airsync.EventDeviceConnected, func(ctx context.Context, handlerID string, _ map[string]any) (map[string]any, error) {
		logger.Info("device connected", "handler_id", handlerID)
		return nil, nil
	}))

	must(srv.OnEvent(airsync.EventDeviceDisconnected, func(ctx context.Context, handlerID string, _ map[string]any) (map[string]any, error) {
		logger.Info("device disconnected", "handler_id", handlerID)
		return nil, nil
	}))

	must(srv.OnEvent(airsync.EventNotification, func(ctx context.Context, handlerID string, data map[string]any) (map[string]any, error) {
		logger.Info("notification", "app", data["app"], "title", data["title"])
		return nil, nil
	}))

	must(srv.OnEvent(airsync.EventClipboardUpdate, func(ctx context.Context, handlerID string, data map[string]any) (map[string]any, error) {
		logger.Info("clipboard updated", "handler_id", handlerID)
		return nil, nil
	}))

	must(srv.OnEvent(airsync.EventFileTransferComplete, func(ctx context.Context, handlerID string, data map[string]any) (map[string]any, error) {
		logger.Info("file received", "name", data["name"], "path", data["temp_path"], "verified", data["verified"])
		return nil, nil
	}))

	if !cfg.NoEncrypt {
		if art, err := srv.PairingQRText(); err == nil {
			fmt.Println("--- Scan QR Code to Connect ---")
			fmt.Print(art)
			fmt.Println("-------------------------------")
		}
		if uri, err := srv.PairingURI(); err == nil {
			logger.Info("pairing URI ready", "uri", uri)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("airsync: %v", err)
	}
}

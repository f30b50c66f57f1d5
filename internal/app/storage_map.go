package app

import (
	"fmt"
	"strings"

	"jiranotifier/internal/clients"
	"jiranotifier/internal/config"
	"jiranotifier/internal/display"
	"jiranotifier/internal/server"
	"jiranotifier/internal/source"
	"jiranotifier/internal/storage"
)

func mapStorageConfig(cfg *config.Config, s config.Settings) (storage.Config, error) {
	sc := cfg.Storage
	driver := storage.NormalizeDriver(sc.Driver)
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case storage.DriverSQLite, storage.DriverFile:
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: s.StorageBusyTimeout}, nil
}

func mapDisplayConfig(cfg *config.Config, s config.Settings) (display.Config, error) {
	dc := cfg.Display
	driver := display.NormalizeDriver(dc.Driver)
	if driver == display.DriverTelegram {
		if strings.TrimSpace(dc.Telegram.Token) == "" {
			return display.Config{}, fmt.Errorf("display.telegram.token is required when display.driver=telegram")
		}
		if dc.Telegram.ChatID == 0 {
			return display.Config{}, fmt.Errorf("display.telegram.chat_id is required when display.driver=telegram")
		}
	}
	return display.Config{
		Driver:  driver,
		AppName: strings.TrimSpace(dc.AppName),
		Icon:    strings.TrimSpace(dc.Icon),
		Expire:  s.DisplayExpire,
		Telegram: display.TelegramConfig{
			Token:      strings.TrimSpace(dc.Telegram.Token),
			ChatID:     dc.Telegram.ChatID,
			ThreadID:   dc.Telegram.ThreadID,
			RatePerSec: dc.Telegram.RatePerSec,
		},
	}, nil
}

func mapServerConfig(cfg *config.Config, s config.Settings) server.Config {
	return server.Config{
		Addr:            strings.TrimSpace(cfg.Server.Addr),
		ReadTimeout:     s.ServerReadTimeout,
		WriteTimeout:    s.ServerWriteTimeout,
		IdleTimeout:     s.ServerIdleTimeout,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
		Pprof:           cfg.Server.Pprof,
	}
}

func mapClientsConfig(cfg *config.Config, s config.Settings) clients.Config {
	return clients.Config{
		QueueSize:      cfg.Clients.QueueSize,
		WriteTimeout:   s.ClientsWriteTimeout,
		AllowedOrigins: cfg.Clients.AllowedOrigins,
	}
}

func mapSourceConfig(cfg *config.Config) source.Config {
	return source.Config{
		URL:             strings.TrimSpace(cfg.NATS.URL),
		Subject:         strings.TrimSpace(cfg.NATS.Subject),
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
	}
}

package app

import (
	"context"
	"strings"

	"jiranotifier/internal/background"
	"jiranotifier/internal/broadcast"
	"jiranotifier/internal/config"
	"jiranotifier/internal/display"
	"jiranotifier/internal/storage"
	logx "jiranotifier/pkg/logx"
)

// LoadConfig reads and validates the config file for the CLI commands that
// do not start the agent.
func LoadConfig(path string, allowMissing bool) (*config.Config, config.Settings, error) {
	cfg, err := config.NewConfigManager(path).Load(allowMissing)
	if err != nil {
		return nil, config.Settings{}, err
	}
	s, err := cfg.Resolve()
	return cfg, s, err
}

// OpenStore opens the configured store. The caller closes it.
func OpenStore(opts Options, log logx.Logger) (storage.Store, error) {
	cfg, s, err := LoadConfig(opts.ConfigPath, opts.AllowMissingConfig)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg, s)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log.With(logx.String("comp", "storage")))
}

// PushOnce runs one payload through display and persist without starting
// the agent. There are no foreground contexts, so nothing is broadcast.
// The display driver defaults to log. The error covers setup only; step
// failures are reported in the Outcome.
func PushOnce(ctx context.Context, opts Options, raw []byte, log logx.Logger) (background.Outcome, error) {
	cfg, s, err := LoadConfig(opts.ConfigPath, opts.AllowMissingConfig)
	if err != nil {
		return background.Outcome{}, err
	}
	cfg.Display.Driver = display.DriverLog
	if d := strings.TrimSpace(opts.DisplayDriver); d != "" {
		cfg.Display.Driver = d
	}

	sc, err := mapStorageConfig(cfg, s)
	if err != nil {
		return background.Outcome{}, err
	}
	dc, err := mapDisplayConfig(cfg, s)
	if err != nil {
		return background.Outcome{}, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return background.Outcome{}, err
	}
	defer store.Close()
	disp, err := display.New(dc, log.With(logx.String("comp", "display")))
	if err != nil {
		return background.Outcome{}, err
	}
	defer disp.Close()

	h := background.NewPushHandler(background.PushConfig{}, background.PushDeps{
		Display:   disp,
		Store:     store,
		Broadcast: broadcast.New(nil, log),
		Log:       log.With(logx.String("comp", "push")),
	})
	return h.HandlePush(ctx, raw), nil
}

package config

import (
	"reflect"
	"strings"

	logx "jiranotifier/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
			logx.String("storage.maintenance", strings.TrimSpace(newCfg.Storage.Maintenance)),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int64("server.max_payload_bytes", newCfg.Server.MaxPayloadBytes),
		)
	}

	// Display (never log token)
	if oldCfg.Display != newCfg.Display {
		changed = append(changed, "display")
		attrs = append(attrs,
			logx.String("display.driver", strings.TrimSpace(newCfg.Display.Driver)),
			logx.String("display.expire", strings.TrimSpace(newCfg.Display.Expire)),
			logx.Bool("display.telegram.token_set", strings.TrimSpace(newCfg.Display.Telegram.Token) != ""),
			logx.Int64("display.telegram.chat_id", newCfg.Display.Telegram.ChatID),
		)
	}

	if !reflect.DeepEqual(oldCfg.Clients, newCfg.Clients) {
		changed = append(changed, "clients")
		attrs = append(attrs,
			logx.Int("clients.queue_size", newCfg.Clients.QueueSize),
			logx.String("clients.write_timeout", strings.TrimSpace(newCfg.Clients.WriteTimeout)),
		)
	}

	if oldCfg.NATS != newCfg.NATS {
		changed = append(changed, "nats")
		attrs = append(attrs,
			logx.Bool("nats.enabled", newCfg.NATS.Enabled),
			logx.String("nats.subject", strings.TrimSpace(newCfg.NATS.Subject)),
		)
	}

	if oldCfg.Shutdown != newCfg.Shutdown {
		changed = append(changed, "shutdown")
		attrs = append(attrs, logx.String("shutdown.timeout", strings.TrimSpace(newCfg.Shutdown.Timeout)))
	}

	return changed, attrs
}

// RestartRequired reports the changed sections that are not applied live.
// Only logging is hot-reloaded.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}

package events

import "github.com/cuemby/warden/pkg/config"

func configFor(sink string) config.EventsConfig {
	cfg := config.DefaultConfig().Events
	cfg.Sink = sink
	return cfg
}

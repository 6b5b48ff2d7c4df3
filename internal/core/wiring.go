package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/ledger"
	"github.com/JonMunkholm/sheetchunk/internal/sink"
)

// NewServiceFromConfig opens the ledger and sink described by cfg and
// returns a Service over them. tweaks adjust the options after they are
// read from cfg. The returned func closes both.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, tweaks ...func(*Options)) (*Service, func(), error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}

	store, closeLedger, err := ledger.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	out, err := sink.New(ctx, cfg)
	if err != nil {
		closeLedger()
		return nil, nil, err
	}

	svc, err := NewService(out, store, NewLimiter(cfg.Chunk.MaxConcurrent, cfg.Chunk.MaxWaitTime), opts)
	if err != nil {
		out.Close()
		closeLedger()
		return nil, nil, err
	}
	return svc, func() {
		if err := out.Close(); err != nil {
			slog.Warn("closing sink", "error", err)
		}
		closeLedger()
	}, nil
}

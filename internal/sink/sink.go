// Package sink stores finished chunk parts. A part is addressed by its
// identifier, the "<source> - <sheet> - part_<n>.txt" file name.
//
// All sinks are safe for concurrent use; the converter writes different
// tables at the same time.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/sheetchunk/internal/config"
)

// Sink stores parts and releases its connections on Close. Target names
// the destination ("file:/srv/out", "gs://bucket/prefix",
// "mongodb:db/collection") so the ledger can tell destinations apart.
type Sink interface {
	Put(ctx context.Context, id string, content []byte) error
	Target() string
	Close() error
}

// ErrInvalidID is returned for identifiers that cannot name a part.
var ErrInvalidID = errors.New("invalid part id")

// Kinds accepted by New.
const (
	KindFile  = "file"
	KindGCS   = "gcs"
	KindMongo = "mongo"
)

// New builds the sink selected by cfg.Sink.Kind.
func New(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.Sink.Kind {
	case KindFile, "":
		return NewFile(cfg.Chunk.OutputDir)
	case KindGCS:
		return NewGCS(ctx, cfg.Storage, cfg.Sheets.CredentialsFile)
	case KindMongo:
		return NewMongo(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown sink %q (want file, gcs or mongo)", cfg.Sink.Kind)
	}
}

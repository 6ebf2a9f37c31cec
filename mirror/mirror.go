// Package mirror copies loaded products into a Neo4j database with MERGE
// statements keyed on the same natural keys as the SQLite store. The mirror
// is optional and write-only; the SQLite store stays the source of truth.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/bbiangul/agrokg/loader"
)

// Config configures the Neo4j connection. An empty URI disables mirroring.
type Config struct {
	URI      string        `json:"uri" yaml:"uri" mapstructure:"uri"`
	User     string        `json:"user" yaml:"user" mapstructure:"user"`
	Password string        `json:"password" yaml:"password" mapstructure:"password"`
	Database string        `json:"database" yaml:"database" mapstructure:"database"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// Mirror writes snapshots to Neo4j. A nil *Mirror is a valid no-op.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and verifies connectivity. It returns nil, nil when
// cfg.URI is empty.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, nil
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("mirror: verify connectivity: %w", err)
	}
	return &Mirror{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver.
func (m *Mirror) Close(ctx context.Context) error {
	if m == nil || m.driver == nil {
		return nil
	}
	err := m.driver.Close(ctx)
	m.driver = nil
	return err
}

// EnsureSchema creates the natural-key constraints. Failures are logged and
// skipped: the mirror must not block ingestion.
func (m *Mirror) EnsureSchema(ctx context.Context) {
	if m == nil || m.driver == nil {
		return
	}
	session := m.session(ctx)
	defer session.Close(ctx)
	for _, q := range Constraints() {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			slog.Warn("mirror: schema statement failed (continuing)", "statement", q, "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// Sync merges one loaded record into Neo4j in a single write transaction.
func (m *Mirror) Sync(ctx context.Context, snap *loader.Snapshot) error {
	if m == nil || m.driver == nil || snap == nil {
		return nil
	}
	stmts := Plan(snap, time.Now().UTC())
	session := m.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("mirror: syncing %s: %w", snap.RegistrationNumber, err)
	}
	slog.Debug("mirror: product synced", "registration_number", snap.RegistrationNumber, "statements", len(stmts))
	return nil
}

func (m *Mirror) session(ctx context.Context) neo4j.SessionWithContext {
	return m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.database,
	})
}

// Package postgres implements the registry's relational storage adapter:
// two tables, entities and edges, written through idempotent upserts so a
// promoted follower can safely replay its catch-up log.
//
// Grounded on jackc/pgx/v5 usage in MrWong99-glyphoxa and
// emergent-company/server-go, and on pressly/goose/v3 migrations as used by
// server-go for the same entity/edge-adjacent schema-evolution need.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"brain2-backend/domain"
	"brain2-backend/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Adapter is the Postgres-backed storage.Adapter.
type Adapter struct {
	pool          *pgxpool.Pool
	entitiesTable string
	edgesTable    string
}

// Config configures the Postgres adapter; EntityTable/EdgeTable default to
// "entities"/"edges" when empty.
type Config struct {
	ConnectionString string
	EntityTable      string
	EdgeTable        string
}

// Open connects to Postgres and applies pending goose migrations.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.EntityTable == "" {
		cfg.EntityTable = "entities"
	}
	if cfg.EdgeTable == "" {
		cfg.EdgeTable = "edges"
	}

	pool, err := pgxpool.New(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := migrate(cfg.ConnectionString); err != nil {
		pool.Close()
		return nil, err
	}

	return &Adapter{pool: pool, entitiesTable: cfg.EntityTable, edgesTable: cfg.EdgeTable}, nil
}

func migrate(connString string) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set dialect: %w", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", connString)
	if err != nil {
		return fmt.Errorf("postgres: open migration db: %w", err)
	}
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() {
	a.pool.Close()
}

// AddEntity upserts e's row; a duplicate id overwrites the existing content,
// satisfying the idempotency contract.
func (a *Adapter) AddEntity(ctx context.Context, e domain.Entity) error {
	content, err := storage.EncodeEntity(e)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (entity_id, entity_content) VALUES ($1, $2)
		 ON CONFLICT (entity_id) DO UPDATE SET entity_content = EXCLUDED.entity_content`,
		a.entitiesTable)
	_, err = a.pool.Exec(ctx, query, e.ID.String(), content)
	if err != nil {
		return fmt.Errorf("postgres: add entity: %w", err)
	}
	return nil
}

// DeleteEntity removes e's row; deleting an absent row succeeds.
func (a *Adapter) DeleteEntity(ctx context.Context, id domain.ID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE entity_id = $1`, a.entitiesTable)
	_, err := a.pool.Exec(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("postgres: delete entity: %w", err)
	}
	return nil
}

// Connect inserts edge's row; a duplicate triple is a no-op.
func (a *Adapter) Connect(ctx context.Context, edge domain.Edge) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (from_id, to_id, edge_type) VALUES ($1, $2, $3)
		 ON CONFLICT (from_id, to_id, edge_type) DO NOTHING`,
		a.edgesTable)
	_, err := a.pool.Exec(ctx, query, edge.From.String(), edge.To.String(), string(edge.Type))
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	return nil
}

// Disconnect removes edge's row; removing an absent row succeeds.
func (a *Adapter) Disconnect(ctx context.Context, edge domain.Edge) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE from_id = $1 AND to_id = $2 AND edge_type = $3`,
		a.edgesTable)
	_, err := a.pool.Exec(ctx, query, edge.From.String(), edge.To.String(), string(edge.Type))
	if err != nil {
		return fmt.Errorf("postgres: disconnect: %w", err)
	}
	return nil
}

// LoadAll reads every row from both tables for the startup batch-load path.
func (a *Adapter) LoadAll(ctx context.Context) ([]storage.EntityRow, []storage.EdgeRow, error) {
	entityQuery := fmt.Sprintf(`SELECT entity_id, entity_content FROM %s`, a.entitiesTable)
	rows, err := a.pool.Query(ctx, entityQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load entities: %w", err)
	}
	var entities []storage.EntityRow
	for rows.Next() {
		var idStr string
		var content []byte
		if err := rows.Scan(&idStr, &content); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("postgres: scan entity row: %w", err)
		}
		id, err := domain.ParseID(idStr)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("postgres: parse entity id: %w", err)
		}
		entities = append(entities, storage.EntityRow{EntityID: id, EntityContent: content})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres: load entities: %w", err)
	}

	edgeQuery := fmt.Sprintf(`SELECT from_id, to_id, edge_type FROM %s`, a.edgesTable)
	edgeRows, err := a.pool.Query(ctx, edgeQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []storage.EdgeRow
	for edgeRows.Next() {
		var fromStr, toStr, edgeType string
		if err := edgeRows.Scan(&fromStr, &toStr, &edgeType); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan edge row: %w", err)
		}
		from, err := domain.ParseID(fromStr)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: parse from_id: %w", err)
		}
		to, err := domain.ParseID(toStr)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: parse to_id: %w", err)
		}
		edges = append(edges, storage.EdgeRow{FromID: from, ToID: to, Type: domain.EdgeType(edgeType)})
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres: load edges: %w", err)
	}

	return entities, edges, nil
}

var _ storage.Adapter = (*Adapter)(nil)
var _ storage.Loader = (*Adapter)(nil)

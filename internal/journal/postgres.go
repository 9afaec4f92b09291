package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-chronicle/internal/hlc"
	"go-chronicle/internal/layout"
)

// schemaDDL creates the three tables this journal needs if they are not
// already present: entity_layouts (the durable record of every
// EntityLayoutIntroduced event), commands, and events. The shape mirrors
// the teacher event store's own commands/events tables (type, data,
// transaction_id, position columns) extended with the fields this spec's
// wire format requires (id, wall_ms, logical, fingerprint, causation_id).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS entity_layouts (
	fingerprint BYTEA PRIMARY KEY,
	schema      BYTEA NOT NULL,
	introduced_at_tx XID8 NOT NULL DEFAULT pg_current_xact_id()
);

CREATE TABLE IF NOT EXISTS commands (
	id          UUID NOT NULL PRIMARY KEY,
	type        VARCHAR(255) NOT NULL,
	fingerprint BYTEA NOT NULL REFERENCES entity_layouts(fingerprint),
	wall_ms     BIGINT NOT NULL,
	logical     INTEGER NOT NULL,
	data        BYTEA NOT NULL,
	transaction_id XID8 NOT NULL DEFAULT pg_current_xact_id(),
	position    BIGSERIAL NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id           UUID NOT NULL PRIMARY KEY,
	type         VARCHAR(255) NOT NULL,
	fingerprint  BYTEA NOT NULL REFERENCES entity_layouts(fingerprint),
	wall_ms      BIGINT NOT NULL,
	logical      INTEGER NOT NULL,
	data         BYTEA NOT NULL,
	causation_id UUID,
	transaction_id XID8 NOT NULL DEFAULT pg_current_xact_id(),
	position     BIGSERIAL NOT NULL
);

CREATE INDEX IF NOT EXISTS events_wall_ms_logical_idx ON events (wall_ms, logical);
CREATE INDEX IF NOT EXISTS events_type_idx ON events (type);
`

// Postgres is a Journal backed by a pgxpool.Pool, grounded on the teacher
// event store's transaction-per-append and batch-insert shape.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, migrates the journal tables, and returns a ready
// Journal.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("journal: unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("journal: failed to migrate schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("journal: failed to begin transaction: %w", err)
	}
	return &postgresTx{pgTx: tx}, nil
}

func (p *Postgres) KnownFingerprint(ctx context.Context, fp layout.Fingerprint) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entity_layouts WHERE fingerprint = $1)`, fp[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("journal: failed to check fingerprint: %w", err)
	}
	return exists, nil
}

func (p *Postgres) HighestTimestamp(ctx context.Context) (hlc.Timestamp, error) {
	var wallMs int64
	var logical int32
	err := p.pool.QueryRow(ctx, `
		SELECT wall_ms, logical FROM (
			SELECT wall_ms, logical FROM commands
			UNION ALL
			SELECT wall_ms, logical FROM events
		) t ORDER BY wall_ms DESC, logical DESC LIMIT 1
	`).Scan(&wallMs, &logical)
	if err == pgx.ErrNoRows {
		return hlc.Timestamp{}, nil
	}
	if err != nil {
		return hlc.Timestamp{}, fmt.Errorf("journal: failed to read highest timestamp: %w", err)
	}
	return hlc.Timestamp{WallMillis: wallMs, Logical: uint32(logical)}, nil
}

func (p *Postgres) InstalledEventTypes(ctx context.Context) ([]string, error) {
	return p.distinctTypes(ctx, "events")
}

func (p *Postgres) InstalledCommandTypes(ctx context.Context) ([]string, error) {
	return p.distinctTypes(ctx, "commands")
}

func (p *Postgres) distinctTypes(ctx context.Context, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT type FROM %s ORDER BY type`, table))
	if err != nil {
		return nil, fmt.Errorf("journal: failed to list installed types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) IterEvents(ctx context.Context, filter Filter) (EventIterator, error) {
	sql := `SELECT id, type, fingerprint, wall_ms, logical, data, causation_id FROM events WHERE 1=1`
	var args []any
	if filter.From != nil {
		args = append(args, filter.From.WallMillis, filter.From.Logical)
		sql += fmt.Sprintf(" AND (wall_ms, logical) > ($%d, $%d)", len(args)-1, len(args))
	}
	if len(filter.Types) > 0 {
		args = append(args, filter.Types)
		sql += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}
	sql += " ORDER BY wall_ms ASC, logical ASC"

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to iterate events: %w", err)
	}
	return &postgresIterator{rows: rows}, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

type postgresTx struct {
	pgTx pgx.Tx
	done bool
}

func (tx *postgresTx) AppendLayoutIntroduction(ctx context.Context, intro LayoutIntroduction) error {
	_, err := tx.pgTx.Exec(ctx, `
		INSERT INTO entity_layouts (fingerprint, schema) VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO NOTHING
	`, intro.Fingerprint[:], intro.Schema)
	if err != nil {
		return fmt.Errorf("journal: failed to append layout introduction: %w", err)
	}
	return nil
}

func (tx *postgresTx) AppendCommand(ctx context.Context, cmd CommandRecord) error {
	var idBuf pgtype.UUID
	if err := idBuf.Scan(cmd.Meta.ID.String()); err != nil {
		return fmt.Errorf("journal: invalid command id: %w", err)
	}
	_, err := tx.pgTx.Exec(ctx, `
		INSERT INTO commands (id, type, fingerprint, wall_ms, logical, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, idBuf, cmd.Type, cmd.Meta.Fingerprint[:], cmd.Meta.Timestamp.WallMillis, int32(cmd.Meta.Timestamp.Logical), cmd.Payload)
	if err != nil {
		return classifyAppendErr(err, "command")
	}
	return nil
}

func (tx *postgresTx) AppendEvent(ctx context.Context, ev EventRecord) error {
	var idBuf, causeBuf pgtype.UUID
	if err := idBuf.Scan(ev.Meta.ID.String()); err != nil {
		return fmt.Errorf("journal: invalid event id: %w", err)
	}
	if ev.CauseID.String() != "00000000-0000-0000-0000-000000000000" {
		if err := causeBuf.Scan(ev.CauseID.String()); err != nil {
			return fmt.Errorf("journal: invalid cause id: %w", err)
		}
	}
	_, err := tx.pgTx.Exec(ctx, `
		INSERT INTO events (id, type, fingerprint, wall_ms, logical, data, causation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, idBuf, ev.Type, ev.Meta.Fingerprint[:], ev.Meta.Timestamp.WallMillis, int32(ev.Meta.Timestamp.Logical), ev.Payload, causeBuf)
	if err != nil {
		return classifyAppendErr(err, "event")
	}
	return nil
}

// classifyAppendErr surfaces a foreign-key violation against
// entity_layouts(fingerprint) as the contractual ErrUnknownFingerprint
// instead of a raw pgx constraint error.
func classifyAppendErr(err error, kind string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("journal: failed to append %s: %w: %w", kind, ErrUnknownFingerprint, err)
	}
	return fmt.Errorf("journal: failed to append %s: %w", kind, err)
}

func (tx *postgresTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrAborted
	}
	tx.done = true
	if err := tx.pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("journal: commit failed: %w", err)
	}
	return nil
}

func (tx *postgresTx) Abort(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.pgTx.Rollback(ctx)
}

type postgresIterator struct {
	rows pgx.Rows
	cur  EventRecord
	err  error
}

func (it *postgresIterator) Next() bool {
	if !it.rows.Next() {
		return false
	}
	var idBuf, causeBuf pgtype.UUID
	var fp []byte
	var wallMs int64
	var logical int32
	var data []byte
	var typ string
	if err := it.rows.Scan(&idBuf, &typ, &fp, &wallMs, &logical, &data, &causeBuf); err != nil {
		it.err = err
		return false
	}
	it.cur = EventRecord{
		Meta: EntityMeta{
			ID:          pgUUIDToUUID(idBuf),
			Timestamp:   hlc.Timestamp{WallMillis: wallMs, Logical: uint32(logical)},
			Fingerprint: fingerprintFromBytes(fp),
		},
		Type:    typ,
		Payload: data,
		CauseID: pgUUIDToUUID(causeBuf),
	}
	return true
}

func (it *postgresIterator) Event() EventRecord { return it.cur }
func (it *postgresIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}
func (it *postgresIterator) Close() error {
	it.rows.Close()
	return nil
}

package lock

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a distributed Provider backed by PostgreSQL session-level
// advisory locks (pg_advisory_lock/pg_advisory_unlock). Session-level,
// rather than the teacher's transaction-scoped pg_advisory_xact_lock, is
// required here because the command consumer's Locking step happens
// before a journal transaction is opened (spec.md §4.7 runs Locking, then
// Executing, then Appending as distinct steps): the lock must outlive the
// connection that will later host the append transaction, so each Guard
// pins its own dedicated pool connection for its lifetime.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a distributed lock provider over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

type postgresGuard struct {
	conn  *pgxpool.Conn
	names []string
}

func (g *postgresGuard) Release(ctx context.Context) error {
	if g.conn == nil {
		return nil
	}
	conn := g.conn
	g.conn = nil
	defer conn.Release()
	for i := len(g.names) - 1; i >= 0; i-- {
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockKey(g.names[i])); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Acquire(ctx context.Context, names []string) (Guard, error) {
	return p.TryAcquire(ctx, names, 0)
}

func (p *Postgres) TryAcquire(ctx context.Context, names []string, timeout time.Duration) (Guard, error) {
	sorted := SortedNames(names)

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]string, 0, len(sorted))
	for _, name := range sorted {
		if timeout > 0 {
			var ok bool
			if err := conn.QueryRow(acquireCtx, "SELECT pg_try_advisory_lock($1)", lockKey(name)).Scan(&ok); err != nil {
				conn.Release()
				return nil, err
			}
			if !ok {
				// Fall back to a blocking wait bounded by the timeout:
				// pg_try_advisory_lock alone would busy-poll, so retry on
				// a short interval until the deadline.
				acquired := false
				ticker := time.NewTicker(10 * time.Millisecond)
				for !acquired {
					select {
					case <-acquireCtx.Done():
						ticker.Stop()
						g := &postgresGuard{conn: conn, names: held}
						_ = g.Release(ctx)
						return nil, ErrTimeout
					case <-ticker.C:
						if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(name)).Scan(&acquired); err != nil {
							ticker.Stop()
							conn.Release()
							return nil, err
						}
					}
				}
				ticker.Stop()
			}
		} else {
			if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey(name)); err != nil {
				g := &postgresGuard{conn: conn, names: held}
				_ = g.Release(ctx)
				return nil, err
			}
		}
		held = append(held, name)
	}

	return &postgresGuard{conn: conn, names: held}, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-showcase/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ChangeChannel is the NOTIFY channel fired by the catalogs table trigger.
const ChangeChannel = "catalog_changes"

// PostgresDocumentStore keeps one row per catalog with the images inline as
// jsonb. Writes are announced through LISTEN/NOTIFY.
type PostgresDocumentStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresDocumentStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresDocumentStore {
	return &PostgresDocumentStore{pool: pool, logger: logger}
}

func (s *PostgresDocumentStore) Get(ctx context.Context, id string) (*domain.Catalog, error) {
	query := `SELECT id, name, images FROM catalogs WHERE id = $1`

	doc, err := scanCatalog(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get catalog document: %w", err)
	}
	return doc, nil
}

func (s *PostgresDocumentStore) Put(ctx context.Context, doc *domain.Catalog) error {
	images := doc.Images
	if images == nil {
		images = []domain.Image{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	query := `
		INSERT INTO catalogs (id, name, images)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, images = EXCLUDED.images, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, doc.ID, doc.Name, data); err != nil {
		return fmt.Errorf("failed to put catalog document: %w", err)
	}
	return nil
}

func (s *PostgresDocumentStore) Update(ctx context.Context, doc *domain.Catalog) error {
	images := doc.Images
	if images == nil {
		images = []domain.Image{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	query := `UPDATE catalogs SET name = $2, images = $3, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, doc.ID, doc.Name, data)
	if err != nil {
		return fmt.Errorf("failed to update catalog document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresDocumentStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM catalogs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete catalog document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresDocumentStore) List(ctx context.Context) ([]domain.Catalog, error) {
	query := `SELECT id, name, images FROM catalogs ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog documents: %w", err)
	}
	defer rows.Close()

	catalogs := []domain.Catalog{}
	for rows.Next() {
		doc, err := scanCatalog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog document: %w", err)
		}
		catalogs = append(catalogs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog documents: %w", err)
	}
	return catalogs, nil
}

// Watch takes a connection out of the pool for the lifetime of the
// subscription, since LISTEN is bound to a session. A lost connection is
// re-established with exponential backoff; onChange("") then reports that
// notifications may have been missed in between.
func (s *PostgresDocumentStore) Watch(ctx context.Context, onChange func(id string)) (func(), error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := s.receive(watchCtx, conn, onChange)
			if watchCtx.Err() != nil {
				return
			}
			s.logger.Warn("Catalog listener lost, reconnecting", zap.Error(err))

			retry := backoff.NewExponentialBackOff()
			retry.MaxInterval = 30 * time.Second
			retry.MaxElapsedTime = 0
			conn, err = backoff.RetryNotifyWithData(func() (*pgx.Conn, error) {
				return s.listen(watchCtx)
			}, backoff.WithContext(retry, watchCtx), func(err error, wait time.Duration) {
				s.logger.Debug("Catalog listener reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
			})
			if err != nil {
				return
			}
			s.logger.Info("Catalog listener reconnected")
			onChange("")
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return stop, nil
}

func (s *PostgresDocumentStore) listen(ctx context.Context) (*pgx.Conn, error) {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}
	return conn, nil
}

// receive forwards notifications until the connection fails or ctx ends,
// and always closes conn.
func (s *PostgresDocumentStore) receive(ctx context.Context, conn *pgx.Conn, onChange func(id string)) error {
	defer conn.Close(context.Background())
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		onChange(n.Payload)
	}
}

func (s *PostgresDocumentStore) Close() error {
	s.pool.Close()
	return nil
}

func scanCatalog(row pgx.Row) (*domain.Catalog, error) {
	var (
		doc    domain.Catalog
		images []byte
	)
	if err := row.Scan(&doc.ID, &doc.Name, &images); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &doc.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images of %q: %w", doc.ID, err)
	}
	if doc.Images == nil {
		doc.Images = []domain.Image{}
	}
	return &doc, nil
}

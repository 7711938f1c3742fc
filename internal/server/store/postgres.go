package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"profkeeper/internal/protocol"
	"profkeeper/internal/server/store/migrations"
)

// PostgresStore keeps accounts in a database table. Registration order is
// the serial primary key; content is a nullable bytea so an absent blob
// stays distinct from an empty one. Rows are durable as soon as they commit,
// so Persist is a successful no-op.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) Create(ctx context.Context, user, pass string) error {
	query := `INSERT INTO accounts (username, password) VALUES ($1, $2)`

	_, err := s.db.ExecContext(ctx, query, user, []byte(pass))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return protocol.ErrUserExists
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Authenticate(ctx context.Context, user, pass string) error {
	query := `SELECT password FROM accounts WHERE username = $1`

	var stored []byte
	err := s.db.QueryRowContext(ctx, query, user).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.ErrLogin
	}
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if subtle.ConstantTimeCompare(stored, []byte(pass)) != 1 {
		return protocol.ErrLogin
	}
	return nil
}

func (s *PostgresStore) SetContent(ctx context.Context, user string, content []byte) error {
	// NULL marks an account that never had content; an empty SET stores an
	// empty bytea instead.
	if content == nil {
		content = []byte{}
	}
	query := `UPDATE accounts SET content = $2 WHERE username = $1`

	res, err := s.db.ExecContext(ctx, query, user, content)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n == 0 {
		return protocol.ErrNoUser
	}
	return nil
}

func (s *PostgresStore) GetContent(ctx context.Context, user string) ([]byte, error) {
	query := `SELECT content FROM accounts WHERE username = $1`

	var content []byte
	err := s.db.QueryRowContext(ctx, query, user).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.ErrNoUser
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	if content == nil {
		return nil, protocol.ErrNoData
	}
	return content, nil
}

func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
	query := `SELECT username FROM accounts ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error performing sql request: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return names, nil
}

func (s *PostgresStore) Persist(ctx context.Context) error { return nil }

func (s *PostgresStore) Close() error { return s.db.Close() }

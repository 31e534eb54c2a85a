package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/shopchat/message"
)

// PostgresStore implements Store on an append-only PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "shopchat",
		SSLMode: "disable",
	}
}

// NewPostgresStore creates a new PostgreSQL-backed conversation store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

// createTable creates the turns table if it doesn't exist. The serial id
// column preserves insertion order.
func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id BIGSERIAL PRIMARY KEY,
		conversation_id VARCHAR(255) NOT NULL,
		turn JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_turns_conversation_id
		ON conversation_turns(conversation_id, id);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Append inserts a turn at the end of the conversation's log.
func (s *PostgresStore) Append(ctx context.Context, conversationID string, turn *message.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (conversation_id, turn) VALUES ($1, $2)`,
		conversationID, string(data))
	if err != nil {
		return fmt.Errorf("failed to append turn to PostgreSQL: %w", err)
	}
	return nil
}

// Read returns the conversation's turns in insertion order.
func (s *PostgresStore) Read(ctx context.Context, conversationID string) ([]*message.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn FROM conversation_turns WHERE conversation_id = $1 ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	defer rows.Close()

	turns := make([]*message.Turn, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn message.Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Ping checks if the PostgreSQL connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

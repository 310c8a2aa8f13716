package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite; both accept $N placeholders.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenStore opens a database for the given driver ("postgres" or "sqlite").
func OpenStore(driver, dsn string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "":
		return nil, ErrNoStore
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single connection keeps in-memory databases shared across calls
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS api_specs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	spec_text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS safety_verdicts (
	id TEXT PRIMARY KEY,
	api_spec_id TEXT REFERENCES api_specs(id),
	user_intent TEXT NOT NULL,
	verdict_json TEXT NOT NULL,
	ui_contract_json TEXT NOT NULL,
	risk_score DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	rule TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL
);
`

// Init creates the audit tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init audit schema: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) InsertAPISpec(ctx context.Context, name, specText string) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO api_specs (id, name, spec_text, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, id, name, specText, s.now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert api spec: %w", err)
	}
	return id, nil
}

func (s *SQLStore) InsertVerdict(ctx context.Context, rec VerdictRecord) (string, error) {
	verdictJSON, err := json.Marshal(rec.Verdict)
	if err != nil {
		return "", fmt.Errorf("encode verdict: %w", err)
	}
	contractJSON, err := json.Marshal(rec.UIContract)
	if err != nil {
		return "", fmt.Errorf("encode ui contract: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	specID := sql.NullString{String: rec.APISpecID, Valid: rec.APISpecID != ""}

	id := uuid.NewString()
	query := `
		INSERT INTO safety_verdicts (id, api_spec_id, user_intent, verdict_json, ui_contract_json, risk_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		id, specID, rec.UserIntent, string(verdictJSON), string(contractJSON), rec.RiskScore, createdAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert verdict: %w", err)
	}
	return id, nil
}

func (s *SQLStore) ActivePolicies(ctx context.Context) ([]Policy, error) {
	query := `SELECT id, name, description, rule FROM policies WHERE active = TRUE ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Policy
	for rows.Next() {
		p := Policy{Active: true}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Rule); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return out, nil
}

// InsertPolicy stores a policy and returns its id. An empty ID is generated.
func (s *SQLStore) InsertPolicy(ctx context.Context, p Policy) (string, error) {
	if strings.TrimSpace(p.Name) == "" {
		return "", fmt.Errorf("policy name is required")
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO policies (id, name, description, rule, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, id, p.Name, p.Description, p.Rule, p.Active, s.now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert policy: %w", err)
	}
	return id, nil
}

// VerdictCount returns the number of stored verdicts.
func (s *SQLStore) VerdictCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM safety_verdicts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count verdicts: %w", err)
	}
	return n, nil
}

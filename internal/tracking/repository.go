package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// declarationsColumns is the column list for the declarations table.
// Used instead of SELECT * so scans stay stable when the schema grows.
const declarationsColumns = `id, reference, declaration_type, status, registered_at, last_checked_at, cleared_at`

const declarationsSchema = `
CREATE TABLE IF NOT EXISTS declarations (
	id               TEXT PRIMARY KEY,
	reference        TEXT NOT NULL UNIQUE,
	declaration_type TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	registered_at    INTEGER NOT NULL,
	last_checked_at  INTEGER,
	cleared_at       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_declarations_status ON declarations(status);
`

// ErrNotFound is returned when a declaration does not exist.
var ErrNotFound = errors.New("declaration not found")

// Repository handles declaration database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a declaration repository and ensures the schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Exec(declarationsSchema); err != nil {
		return nil, fmt.Errorf("failed to create declarations schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "declarations").Logger(),
	}, nil
}

// Add inserts a new declaration. The reference must be unique; re-adding an
// existing reference returns an error.
func (r *Repository) Add(reference, declarationType string) (*Declaration, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("reference is required")
	}

	decl := &Declaration{
		ID:              uuid.NewString(),
		Reference:       reference,
		DeclarationType: declarationType,
		Status:          StatusPending,
		RegisteredAt:    time.Now(),
	}

	_, err := r.db.Exec(`
		INSERT INTO declarations (id, reference, declaration_type, status, registered_at)
		VALUES (?, ?, ?, ?, ?)
	`, decl.ID, decl.Reference, decl.DeclarationType, decl.Status, decl.RegisteredAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert declaration %s: %w", reference, err)
	}

	return decl, nil
}

// GetByReference returns a declaration by its reference.
func (r *Repository) GetByReference(reference string) (*Declaration, error) {
	row := r.db.QueryRow(
		`SELECT `+declarationsColumns+` FROM declarations WHERE reference = ?`, reference)
	return scanDeclaration(row)
}

// ListPending returns all declarations that have not cleared yet, oldest first.
func (r *Repository) ListPending() ([]Declaration, error) {
	rows, err := r.db.Query(`
		SELECT `+declarationsColumns+`
		FROM declarations
		WHERE status != ?
		ORDER BY registered_at ASC
	`, StatusCleared)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending declarations: %w", err)
	}
	defer rows.Close()

	return scanDeclarations(rows)
}

// UpdateStatus transitions a declaration and stamps the check time.
// When the new status is cleared, cleared_at is stamped as well.
func (r *Repository) UpdateStatus(reference, status string) error {
	now := time.Now().Unix()

	var clearedAt interface{}
	if status == StatusCleared {
		clearedAt = now
	}

	res, err := r.db.Exec(`
		UPDATE declarations
		SET status = ?, last_checked_at = ?, cleared_at = COALESCE(?, cleared_at)
		WHERE reference = ?
	`, status, now, clearedAt, reference)
	if err != nil {
		return fmt.Errorf("failed to update declaration %s: %w", reference, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Preview returns declarations matching the given filters, newest first.
// This is the read-heavy query the result cache sits in front of.
func (r *Repository) Preview(filters PreviewFilters) ([]Declaration, error) {
	query := `SELECT ` + declarationsColumns + ` FROM declarations WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	if filters.DeclarationType != "" {
		query += ` AND declaration_type = ?`
		args = append(args, filters.DeclarationType)
	}
	if filters.Reference != "" {
		query += ` AND reference LIKE ?`
		args = append(args, "%"+filters.Reference+"%")
	}

	query += ` ORDER BY registered_at DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query declarations preview: %w", err)
	}
	defer rows.Close()

	return scanDeclarations(rows)
}

// Count returns the total number of tracked declarations.
func (r *Repository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM declarations`).Scan(&count)
	return count, err
}

func scanDeclaration(row *sql.Row) (*Declaration, error) {
	var d Declaration
	var registeredAt int64
	var lastCheckedAt, clearedAt sql.NullInt64

	err := row.Scan(&d.ID, &d.Reference, &d.DeclarationType, &d.Status,
		&registeredAt, &lastCheckedAt, &clearedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan declaration: %w", err)
	}

	d.RegisteredAt = time.Unix(registeredAt, 0)
	if lastCheckedAt.Valid {
		t := time.Unix(lastCheckedAt.Int64, 0)
		d.LastCheckedAt = &t
	}
	if clearedAt.Valid {
		t := time.Unix(clearedAt.Int64, 0)
		d.ClearedAt = &t
	}
	return &d, nil
}

func scanDeclarations(rows *sql.Rows) ([]Declaration, error) {
	declarations := make([]Declaration, 0)
	for rows.Next() {
		var d Declaration
		var registeredAt int64
		var lastCheckedAt, clearedAt sql.NullInt64

		if err := rows.Scan(&d.ID, &d.Reference, &d.DeclarationType, &d.Status,
			&registeredAt, &lastCheckedAt, &clearedAt); err != nil {
			return nil, fmt.Errorf("failed to scan declaration row: %w", err)
		}

		d.RegisteredAt = time.Unix(registeredAt, 0)
		if lastCheckedAt.Valid {
			t := time.Unix(lastCheckedAt.Int64, 0)
			d.LastCheckedAt = &t
		}
		if clearedAt.Valid {
			t := time.Unix(clearedAt.Int64, 0)
			d.ClearedAt = &t
		}
		declarations = append(declarations, d)
	}
	return declarations, rows.Err()
}

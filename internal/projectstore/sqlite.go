package projectstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/store"
)

// SQLite stores projects in a single database file.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) buildlab.db under dataDir.
func NewSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "buildlab.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLite{db: db, path: dbPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		owners_json TEXT NOT NULL DEFAULT '[]',
		tree_json TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at DESC);

	CREATE TABLE IF NOT EXISTS turns (
		project_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		turn_json TEXT NOT NULL,
		PRIMARY KEY (project_id, seq),
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		email TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chats_project ON chats(project_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrConnection, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, name, description string, owners []string) (*domain.Project, error) {
	n, err := validName(name)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &domain.Project{
		ID:          NewID(),
		Name:        n,
		Description: description,
		Owners:      cleanOwners(owners),
		Tree:        domain.ProjectTree{},
		Turns:       []domain.Turn{},
		Chats:       []domain.ChatMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ownersJSON, err := json.Marshal(p.Owners)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owners_json, tree_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?)
	`, p.ID, p.Name, p.Description, string(ownersJSON), p.CreatedAt, p.UpdatedAt)
	if isUnique(err) {
		return nil, &store.AlreadyExistsError{Entity: "project", Name: n}
	}
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

const projectColumns = `id, name, description, owners_json, tree_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner, withTree bool) (*domain.Project, error) {
	var p domain.Project
	var ownersJSON, treeJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &ownersJSON, &treeJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ownersJSON), &p.Owners); err != nil {
		return nil, fmt.Errorf("decode owners: %w", err)
	}
	if withTree {
		if err := json.Unmarshal([]byte(treeJSON), &p.Tree); err != nil {
			return nil, fmt.Errorf("decode tree: %w", err)
		}
	}
	return &p, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*domain.Project, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return s.full(ctx, row, id)
}

func (s *SQLite) GetByName(ctx context.Context, name string) (*domain.Project, error) {
	n, err := validName(name)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, n)
	return s.full(ctx, row, n)
}

func (s *SQLite) full(ctx context.Context, row *sql.Row, key string) (*domain.Project, error) {
	p, err := scanProject(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p.Turns, err = s.turns(ctx, p.ID); err != nil {
		return nil, err
	}
	if p.Chats, err = s.chats(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLite) turns(ctx context.Context, id string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT turn_json FROM turns WHERE project_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []domain.Turn{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t domain.Turn
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", len(turns), err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLite) chats(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, message, timestamp FROM chats WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []domain.ChatMessage{}
	for rows.Next() {
		var c domain.ChatMessage
		if err := rows.Scan(&c.Email, &c.Message, &c.Timestamp); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *SQLite) List(ctx context.Context, filter store.Filter) ([]*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1 = 1`
	var args []any
	if filter.Owner != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(projects.owners_json) WHERE value = ?)`
		args = append(args, domain.NormalizeName(filter.Owner))
	}
	if filter.Search != "" {
		query += ` AND instr(name, ?) > 0`
		args = append(args, domain.NormalizeName(filter.Search))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows, false)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLite) LoadProject(ctx context.Context, id string) (domain.ProjectTree, []domain.Turn, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p.Tree, p.Turns, nil
}

func (s *SQLite) SaveProject(ctx context.Context, id string, tree domain.ProjectTree, turns []domain.Turn) error {
	if err := validID(id); err != nil {
		return err
	}
	if tree == nil {
		tree = domain.ProjectTree{}
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE projects SET tree_json = ?, updated_at = ? WHERE id = ?`,
		string(treeJSON), s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO turns (project_id, seq, turn_json) VALUES (?, ?, ?)`,
			id, i, string(data)); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendChat(ctx context.Context, id string, msg domain.ChatMessage) error {
	if err := validID(id); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (project_id, email, message, timestamp) VALUES (?, ?, ?, ?)`,
		id, msg.Email, msg.Message, msg.Timestamp.UTC()); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

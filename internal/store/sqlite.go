package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	panelMu sync.Mutex // Mutex for panel state writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		worktree_path TEXT NOT NULL DEFAULT '',
		display_order INTEGER NOT NULL DEFAULT 0,
		is_main_repo INTEGER NOT NULL DEFAULT 0,
		auto_commit INTEGER NOT NULL DEFAULT 0,
		tool_type TEXT NOT NULL DEFAULT '',
		active_panel_id TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_viewed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id) WHERE archived = 0;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_main_repo
		ON sessions(project_id) WHERE is_main_repo = 1 AND archived = 0;

	CREATE TABLE IF NOT EXISTS panels (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		state_json TEXT NOT NULL DEFAULT '{}',
		settings_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_panels_session ON panels(session_id);

	CREATE TABLE IF NOT EXISTS session_outputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		panel_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outputs_panel ON session_outputs(panel_id, id);
	CREATE INDEX IF NOT EXISTS idx_outputs_session ON session_outputs(session_id, id);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		panel_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_panel ON conversation_messages(panel_id, id);

	CREATE TABLE IF NOT EXISTS prompt_markers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		panel_id TEXT NOT NULL DEFAULT '',
		prompt_text TEXT NOT NULL,
		output_index INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		completion_timestamp INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_markers_panel ON prompt_markers(panel_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateProject inserts a project row.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.Name, project.Path, project.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id. Returns (nil, nil) when missing.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id)

	var p domain.Project
	var createdAt int64
	err := row.Scan(&p.ID, &p.Name, &p.Path, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// CreateFolder inserts a folder row.
func (s *SQLiteStore) CreateFolder(ctx context.Context, folder *domain.Folder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (id, project_id, name, display_order, created_at) VALUES (?, ?, ?, ?, ?)`,
		folder.ID, folder.ProjectID, folder.Name, folder.DisplayOrder, folder.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// MaxDisplayOrder returns the highest display order across sessions and
// folders of a project, or -1 when neither exists.
func (s *SQLiteStore) MaxDisplayOrder(ctx context.Context, projectID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(display_order), -1) FROM (
			SELECT display_order FROM sessions WHERE project_id = ? AND archived = 0
			UNION ALL
			SELECT display_order FROM folders WHERE project_id = ?
		)`, projectID, projectID)

	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("scan max display order: %w", err)
	}
	return max, nil
}

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, project_id, name, status, worktree_path, display_order,
			is_main_repo, auto_commit, tool_type, active_panel_id, archived,
			error_text, created_at, updated_at, last_viewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.Name, string(session.Status),
		session.WorktreePath, session.DisplayOrder,
		boolToInt(session.IsMainRepo), boolToInt(session.AutoCommit),
		session.ToolType, nullString(session.ActivePanelID), boolToInt(session.Archived),
		session.ErrorText, session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		nullTime(session.LastViewedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. Returns (nil, nil) when missing.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, worktree_path, display_order,
		       is_main_repo, auto_commit, tool_type, active_panel_id, archived,
		       error_text, created_at, updated_at, last_viewed_at
		FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns the sessions of a project in display order.
func (s *SQLiteStore) ListSessions(ctx context.Context, projectID string, includeArchived bool) ([]*domain.Session, error) {
	query := `
		SELECT id, project_id, name, status, worktree_path, display_order,
		       is_main_repo, auto_commit, tool_type, active_panel_id, archived,
		       error_text, created_at, updated_at, last_viewed_at
		FROM sessions WHERE project_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY display_order, created_at`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SetSessionStatus updates the stored status and error text and bumps
// updated_at so completed_unviewed derivation sees the change.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errorText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_text = ?, updated_at = ? WHERE id = ?`,
		string(status), errorText, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return requireRow(res, &domain.NotFoundError{Resource: "session", ID: id})
}

// SetSessionArchived marks the session archived. One-way.
func (s *SQLiteStore) SetSessionArchived(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return requireRow(res, &domain.NotFoundError{Resource: "session", ID: id})
}

// SetActivePanel re-points the session's active panel and flips the isActive
// flag on every panel row of the session in one transaction.
func (s *SQLiteStore) SetActivePanel(ctx context.Context, sessionID, panelID string) error {
	s.panelMu.Lock()
	defer s.panelMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active panel: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET active_panel_id = ?, updated_at = ? WHERE id = ?`,
		panelID, time.Now().Unix(), sessionID,
	); err != nil {
		return fmt.Errorf("update active panel reference: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE panels SET state_json = json_set(state_json, '$.isActive', json(CASE WHEN id = ? THEN 'true' ELSE 'false' END))
		 WHERE session_id = ?`,
		panelID, sessionID,
	); err != nil {
		return fmt.Errorf("update panel active flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set active panel: %w", err)
	}
	return nil
}

// MarkSessionViewed stamps last_viewed_at without bumping updated_at, so a
// view does not itself flip a session back to completed_unviewed.
func (s *SQLiteStore) MarkSessionViewed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_viewed_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("mark session viewed: %w", err)
	}
	return requireRow(res, &domain.NotFoundError{Resource: "session", ID: id})
}

// TouchSession bumps updated_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CreatePanel inserts a panel row.
func (s *SQLiteStore) CreatePanel(ctx context.Context, panel *domain.Panel) error {
	stateJSON, err := json.Marshal(panel.State)
	if err != nil {
		return fmt.Errorf("marshal panel state: %w", err)
	}
	settingsJSON, err := json.Marshal(orEmptyMap(panel.Settings))
	if err != nil {
		return fmt.Errorf("marshal panel settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO panels (id, session_id, type, title, state_json, settings_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		panel.ID, panel.SessionID, string(panel.Type), panel.Title,
		string(stateJSON), string(settingsJSON), panel.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert panel: %w", err)
	}
	return nil
}

// GetPanel retrieves a panel by id. Returns (nil, nil) when missing.
func (s *SQLiteStore) GetPanel(ctx context.Context, id string) (*domain.Panel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, type, title, state_json, settings_json, created_at
		FROM panels WHERE id = ?`, id)

	panel, err := scanPanel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan panel row: %w", err)
	}
	return panel, nil
}

// ListPanels returns the panels of a session in creation order.
func (s *SQLiteStore) ListPanels(ctx context.Context, sessionID string) ([]*domain.Panel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, type, title, state_json, settings_json, created_at
		FROM panels WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query panels: %w", err)
	}
	defer rows.Close()

	var panels []*domain.Panel
	for rows.Next() {
		panel, err := scanPanel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan panel row: %w", err)
		}
		panels = append(panels, panel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panels: %w", err)
	}
	return panels, nil
}

// UpdatePanelState replaces the stored state blob. Merge semantics live in
// the lifecycle service under a per-panel lock; the store write is atomic.
func (s *SQLiteStore) UpdatePanelState(ctx context.Context, id string, state domain.PanelState) error {
	s.panelMu.Lock()
	defer s.panelMu.Unlock()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal panel state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE panels SET state_json = ? WHERE id = ?`, string(stateJSON), id)
	if err != nil {
		return fmt.Errorf("update panel state: %w", err)
	}
	return requireRow(res, &domain.NotFoundError{Resource: "panel", ID: id})
}

// UpdatePanelSettings replaces the stored settings blob.
func (s *SQLiteStore) UpdatePanelSettings(ctx context.Context, id string, settings map[string]any) error {
	settingsJSON, err := json.Marshal(orEmptyMap(settings))
	if err != nil {
		return fmt.Errorf("marshal panel settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE panels SET settings_json = ? WHERE id = ?`, string(settingsJSON), id)
	if err != nil {
		return fmt.Errorf("update panel settings: %w", err)
	}
	return requireRow(res, &domain.NotFoundError{Resource: "panel", ID: id})
}

// DeletePanel removes a panel row. Output records are kept for history.
func (s *SQLiteStore) DeletePanel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM panels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete panel: %w", err)
	}
	return nil
}

// AppendOutput inserts an output record and returns its insertion index.
func (s *SQLiteStore) AppendOutput(ctx context.Context, rec *domain.OutputRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_outputs (session_id, panel_id, kind, payload, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.PanelID, string(rec.Kind), rec.Payload, rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert output record: %w", err)
	}
	idx, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("output record insert id: %w", err)
	}
	rec.Index = idx
	return idx, nil
}

// ListOutputs returns output records in insertion order. When panelID is
// empty, records are matched by session id (legacy single-panel sessions).
// A positive limit returns the most recent N records, still in insertion order.
func (s *SQLiteStore) ListOutputs(ctx context.Context, sessionID, panelID string, limit int) ([]*domain.OutputRecord, error) {
	query := `SELECT id, session_id, panel_id, kind, payload, timestamp FROM session_outputs`
	args := []any{}
	if panelID != "" {
		query += ` WHERE panel_id = ?`
		args = append(args, panelID)
	} else {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	if limit > 0 {
		// Keep insertion order while returning only the tail.
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var recs []*domain.OutputRecord
	for rows.Next() {
		var rec domain.OutputRecord
		var kind string
		var ts int64
		if err := rows.Scan(&rec.Index, &rec.SessionID, &rec.PanelID, &kind, &rec.Payload, &ts); err != nil {
			return nil, fmt.Errorf("scan output row: %w", err)
		}
		rec.Kind = domain.OutputKind(kind)
		rec.Timestamp = time.UnixMilli(ts)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return recs, nil
}

// AppendConversationMessage inserts a derived conversation turn.
func (s *SQLiteStore) AppendConversationMessage(ctx context.Context, msg *domain.ConversationMessage) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (session_id, panel_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.PanelID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// ListConversationMessages returns the conversation turns in insertion order.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, sessionID, panelID string) ([]*domain.ConversationMessage, error) {
	query := `SELECT id, session_id, panel_id, role, content, timestamp FROM conversation_messages`
	args := []any{}
	if panelID != "" {
		query += ` WHERE panel_id = ?`
		args = append(args, panelID)
	} else {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.ConversationMessage
	for rows.Next() {
		var msg domain.ConversationMessage
		var role string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.PanelID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		msg.Role = domain.MessageRole(role)
		msg.Timestamp = time.UnixMilli(ts)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages: %w", err)
	}
	return msgs, nil
}

// OpenPromptMarker inserts a new, open marker.
func (s *SQLiteStore) OpenPromptMarker(ctx context.Context, marker *domain.PromptMarker) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_markers (session_id, panel_id, prompt_text, output_index, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		marker.SessionID, marker.PanelID, marker.PromptText, marker.OutputIndex, marker.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert prompt marker: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		marker.ID = id
	}
	return nil
}

// CloseLatestPromptMarker stamps the completion timestamp on the most
// recently opened marker that is still open. Pairing is positional, not by
// id: overlapping turns from a misbehaving tool close the wrong marker.
func (s *SQLiteStore) CloseLatestPromptMarker(ctx context.Context, sessionID, panelID string) error {
	query := `
		UPDATE prompt_markers SET completion_timestamp = ?
		WHERE id = (
			SELECT id FROM prompt_markers
			WHERE completion_timestamp IS NULL AND `
	args := []any{time.Now().UnixMilli()}
	if panelID != "" {
		query += `panel_id = ?`
		args = append(args, panelID)
	} else {
		query += `session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT 1)`

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("close prompt marker: %w", err)
	}
	return nil
}

// ListPromptMarkers returns markers in open order.
func (s *SQLiteStore) ListPromptMarkers(ctx context.Context, sessionID, panelID string) ([]*domain.PromptMarker, error) {
	query := `SELECT id, session_id, panel_id, prompt_text, output_index, timestamp, completion_timestamp FROM prompt_markers`
	args := []any{}
	if panelID != "" {
		query += ` WHERE panel_id = ?`
		args = append(args, panelID)
	} else {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompt markers: %w", err)
	}
	defer rows.Close()

	var markers []*domain.PromptMarker
	for rows.Next() {
		var m domain.PromptMarker
		var ts int64
		var completion sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.PanelID, &m.PromptText, &m.OutputIndex, &ts, &completion); err != nil {
			return nil, fmt.Errorf("scan prompt marker: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if completion.Valid {
			t := time.UnixMilli(completion.Int64)
			m.CompletionTimestamp = &t
		}
		markers = append(markers, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt markers: %w", err)
	}
	return markers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	var activePanel sql.NullString
	var isMainRepo, autoCommit, archived int
	var createdAt, updatedAt int64
	var lastViewed sql.NullInt64

	err := row.Scan(
		&s.ID, &s.ProjectID, &s.Name, &status, &s.WorktreePath, &s.DisplayOrder,
		&isMainRepo, &autoCommit, &s.ToolType, &activePanel, &archived,
		&s.ErrorText, &createdAt, &updatedAt, &lastViewed,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.SessionStatus(status)
	s.ActivePanelID = activePanel.String
	s.IsMainRepo = isMainRepo != 0
	s.AutoCommit = autoCommit != 0
	s.Archived = archived != 0
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	if lastViewed.Valid {
		t := time.Unix(lastViewed.Int64, 0)
		s.LastViewedAt = &t
	}
	return &s, nil
}

func scanPanel(row rowScanner) (*domain.Panel, error) {
	var p domain.Panel
	var typ, stateJSON, settingsJSON string
	var createdAt int64

	err := row.Scan(&p.ID, &p.SessionID, &typ, &p.Title, &stateJSON, &settingsJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Type = domain.PanelType(typ)
	p.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(stateJSON), &p.State); err != nil {
		return nil, fmt.Errorf("unmarshal panel state: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &p.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal panel settings: %w", err)
	}
	return &p, nil
}

func requireRow(res sql.Result, missing error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

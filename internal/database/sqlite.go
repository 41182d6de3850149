package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"drive-go/internal/database/migrations"
	"drive-go/internal/drive"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the drive.Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and brings its schema up to
// date. path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured
// and migrated.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// User operations

const userColumns = `id, username, root_name, display_name, email, quota_bytes, used_bytes, is_admin, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*drive.User, error) {
	var u drive.User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.RootName, &u.DisplayName, &u.Email,
		&u.QuotaBytes, &u.UsedBytes, &u.IsAdmin, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func (s *SQLiteDatabase) findUser(where string, arg any) (*drive.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return u, nil
}

func (s *SQLiteDatabase) FindUserByID(id int64) (*drive.User, error) {
	u, err := s.findUser("id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding user by id: %w", err)
	}
	return u, nil
}

func (s *SQLiteDatabase) FindUserByUsername(username string) (*drive.User, error) {
	u, err := s.findUser("username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("finding user by username: %w", err)
	}
	return u, nil
}

func (s *SQLiteDatabase) FindUserByRootName(rootName string) (*drive.User, error) {
	u, err := s.findUser("root_name = ?", rootName)
	if err != nil {
		return nil, fmt.Errorf("finding user by root name: %w", err)
	}
	return u, nil
}

func (s *SQLiteDatabase) CreateUser(u *drive.User) error {
	res, err := s.db.Exec(`
		INSERT INTO users (username, root_name, display_name, email, quota_bytes, used_bytes, is_admin, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.RootName, u.DisplayName, u.Email, u.QuotaBytes, u.UsedBytes, u.IsAdmin, u.CreatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	u.ID = id
	return nil
}

func (s *SQLiteDatabase) TouchUserLogin(id int64, at time.Time, displayName, email string) error {
	_, err := s.db.Exec(`UPDATE users SET last_login_at = ?, display_name = ?, email = ? WHERE id = ?`,
		at, displayName, email, id)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListUsers() ([]*drive.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*drive.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteDatabase) AddUsedBytes(id int64, delta int64) (int64, error) {
	var used int64
	err := s.db.QueryRow(`UPDATE users SET used_bytes = MAX(0, used_bytes + ?) WHERE id = ? RETURNING used_bytes`,
		delta, id).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", id, drive.ErrNotFound)
		}
		return 0, fmt.Errorf("adding used bytes: %w", err)
	}
	return used, nil
}

func (s *SQLiteDatabase) SetUsedBytes(id int64, used int64) error {
	return s.updateUser("used_bytes", id, max(0, used))
}

func (s *SQLiteDatabase) SetQuotaBytes(id int64, quota int64) error {
	return s.updateUser("quota_bytes", id, quota)
}

func (s *SQLiteDatabase) updateUser(column string, id int64, value int64) error {
	res, err := s.db.Exec(`UPDATE users SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", id, drive.ErrNotFound)
	}
	return nil
}

// Star operations

func (s *SQLiteDatabase) FindStar(userID int64, path string) (*drive.Star, error) {
	var st drive.Star
	err := s.db.QueryRow(`SELECT id, user_id, path, is_dir, created_at FROM stars WHERE user_id = ? AND path = ?`,
		userID, path).Scan(&st.ID, &st.UserID, &st.Path, &st.IsDir, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding star: %w", err)
	}
	return &st, nil
}

func (s *SQLiteDatabase) CreateStar(st *drive.Star) error {
	res, err := s.db.Exec(`INSERT INTO stars (user_id, path, is_dir, created_at) VALUES (?, ?, ?, ?)`,
		st.UserID, st.Path, st.IsDir, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating star: %w", err)
	}
	st.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDatabase) DeleteStar(userID int64, path string) error {
	if _, err := s.db.Exec(`DELETE FROM stars WHERE user_id = ? AND path = ?`, userID, path); err != nil {
		return fmt.Errorf("deleting star: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListStars(userID int64) ([]*drive.Star, error) {
	rows, err := s.db.Query(`SELECT id, user_id, path, is_dir, created_at FROM stars WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	defer rows.Close()

	var stars []*drive.Star
	for rows.Next() {
		var st drive.Star
		if err := rows.Scan(&st.ID, &st.UserID, &st.Path, &st.IsDir, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning star: %w", err)
		}
		stars = append(stars, &st)
	}
	return stars, rows.Err()
}

// Recent operations

func (s *SQLiteDatabase) UpsertRecent(r *drive.Recent) error {
	err := s.db.QueryRow(`
		INSERT INTO recents (user_id, path, is_dir, accessed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, path) DO UPDATE SET accessed_at = excluded.accessed_at, is_dir = excluded.is_dir
		RETURNING id`,
		r.UserID, r.Path, r.IsDir, r.AccessedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("upserting recent: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) PruneRecents(userID int64, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM recents WHERE user_id = ? AND id NOT IN (
			SELECT id FROM recents WHERE user_id = ? ORDER BY accessed_at DESC, id DESC LIMIT ?
		)`, userID, userID, keep)
	if err != nil {
		return fmt.Errorf("pruning recents: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListRecents(userID int64, limit int) ([]*drive.Recent, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, path, is_dir, accessed_at FROM recents
		WHERE user_id = ? ORDER BY accessed_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recents: %w", err)
	}
	defer rows.Close()

	var recents []*drive.Recent
	for rows.Next() {
		var r drive.Recent
		if err := rows.Scan(&r.ID, &r.UserID, &r.Path, &r.IsDir, &r.AccessedAt); err != nil {
			return nil, fmt.Errorf("scanning recent: %w", err)
		}
		recents = append(recents, &r)
	}
	return recents, rows.Err()
}

func (s *SQLiteDatabase) DeleteRecent(userID int64, path string) error {
	if _, err := s.db.Exec(`DELETE FROM recents WHERE user_id = ? AND path = ?`, userID, path); err != nil {
		return fmt.Errorf("deleting recent: %w", err)
	}
	return nil
}

// Path bookkeeping

// underPath matches path itself and everything below it. substr is used
// instead of LIKE so the comparison stays case-sensitive and '%' or '_' in
// names carry no meaning.
const underPath = `(path = ? OR substr(path, 1, length(?) + 1) = ? || '/')`

func (s *SQLiteDatabase) DeleteActivityUnder(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stars", "recents"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+underPath, path, path, path); err != nil {
			return fmt.Errorf("deleting %s under %s: %w", table, path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) RewriteActivityPaths(oldPath, newPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stars", "recents"} {
		if err := rewritePaths(tx, table, "", oldPath, newPath); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) RewriteSharePaths(ownerID int64, oldPath, newPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	owner := fmt.Sprintf("owner_id = %d AND ", ownerID)
	if newPath == "" {
		if _, err := tx.Exec(`DELETE FROM shares WHERE `+owner+underPath, oldPath, oldPath, oldPath); err != nil {
			return fmt.Errorf("deleting shares under %s: %w", oldPath, err)
		}
		return tx.Commit()
	}
	if err := rewritePaths(tx, "shares", owner, oldPath, newPath); err != nil {
		return err
	}
	return tx.Commit()
}

// rewritePaths replaces the oldPath prefix with newPath. Rows that would
// collide with an existing row at the new path are dropped.
func rewritePaths(tx *sql.Tx, table, filter, oldPath, newPath string) error {
	_, err := tx.Exec(`UPDATE OR IGNORE `+table+` SET path = ? || substr(path, length(?) + 1) WHERE `+filter+underPath,
		newPath, oldPath, oldPath, oldPath, oldPath)
	if err != nil {
		return fmt.Errorf("rewriting %s paths: %w", table, err)
	}
	if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+filter+underPath, oldPath, oldPath, oldPath); err != nil {
		return fmt.Errorf("dropping conflicting %s: %w", table, err)
	}
	return nil
}

// Share operations

const shareSelect = `
	SELECT s.id, s.owner_id, s.grantee_id, s.path, s.access_level, s.expires_at, s.created_at, s.updated_at,
	       o.username, o.root_name, g.username
	FROM shares s
	JOIN users o ON o.id = s.owner_id
	JOIN users g ON g.id = s.grantee_id`

func scanShare(row interface{ Scan(...any) error }) (*drive.Share, error) {
	var sh drive.Share
	var expires sql.NullTime
	if err := row.Scan(&sh.ID, &sh.OwnerID, &sh.GranteeID, &sh.Path, &sh.Level, &expires,
		&sh.CreatedAt, &sh.UpdatedAt, &sh.OwnerUsername, &sh.OwnerRootName, &sh.GranteeUsername); err != nil {
		return nil, err
	}
	if expires.Valid {
		sh.ExpiresAt = &expires.Time
	}
	return &sh, nil
}

func (s *SQLiteDatabase) listShares(where string, arg any) ([]*drive.Share, error) {
	rows, err := s.db.Query(shareSelect+` WHERE `+where+` ORDER BY s.created_at DESC, s.id DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []*drive.Share
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (s *SQLiteDatabase) UpsertShare(sh *drive.Share) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`SELECT id FROM shares WHERE owner_id = ? AND grantee_id = ? AND path = ?`,
		sh.OwnerID, sh.GranteeID, sh.Path).Scan(&id)
	created := errors.Is(err, sql.ErrNoRows)
	switch {
	case created:
		res, err := tx.Exec(`
			INSERT INTO shares (owner_id, grantee_id, path, access_level, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sh.OwnerID, sh.GranteeID, sh.Path, sh.Level, sh.ExpiresAt, sh.CreatedAt, sh.UpdatedAt)
		if err != nil {
			return false, fmt.Errorf("inserting share: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return false, fmt.Errorf("reading share id: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("finding share: %w", err)
	default:
		if _, err := tx.Exec(`UPDATE shares SET access_level = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
			sh.Level, sh.ExpiresAt, sh.UpdatedAt, id); err != nil {
			return false, fmt.Errorf("updating share: %w", err)
		}
		if err := tx.QueryRow(`SELECT created_at FROM shares WHERE id = ?`, id).Scan(&sh.CreatedAt); err != nil {
			return false, fmt.Errorf("reading share: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing share: %w", err)
	}
	sh.ID = id
	return created, nil
}

func (s *SQLiteDatabase) FindShareByID(id int64) (*drive.Share, error) {
	sh, err := scanShare(s.db.QueryRow(shareSelect+` WHERE s.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding share: %w", err)
	}
	return sh, nil
}

func (s *SQLiteDatabase) ListSharesForGrantee(granteeID int64) ([]*drive.Share, error) {
	shares, err := s.listShares("s.grantee_id = ?", granteeID)
	if err != nil {
		return nil, fmt.Errorf("listing shares for grantee: %w", err)
	}
	return shares, nil
}

func (s *SQLiteDatabase) ListSharesByOwner(ownerID int64) ([]*drive.Share, error) {
	shares, err := s.listShares("s.owner_id = ?", ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing shares by owner: %w", err)
	}
	return shares, nil
}

func (s *SQLiteDatabase) UpdateShare(sh *drive.Share) error {
	res, err := s.db.Exec(`UPDATE shares SET access_level = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		sh.Level, sh.ExpiresAt, sh.UpdatedAt, sh.ID)
	if err != nil {
		return fmt.Errorf("updating share: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("share %d: %w", sh.ID, drive.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteShare(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM shares WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting share: %w", err)
	}
	return nil
}

// Notification operations

func (s *SQLiteDatabase) CreateNotification(n *drive.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, user_id, title, message, type, link, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.Link, n.ReadAt, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListNotifications(userID int64, limit int) ([]*drive.Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, message, type, link, read_at, created_at FROM notifications
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var list []*drive.Notification
	for rows.Next() {
		var n drive.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Link, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		list = append(list, &n)
	}
	return list, rows.Err()
}

func (s *SQLiteDatabase) MarkNotificationRead(userID int64, id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?`,
		at, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("notification %s: %w", id, drive.ErrNotFound)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements drive.Database interface
var _ drive.Database = (*SQLiteDatabase)(nil)

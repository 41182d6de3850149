package drive

import "time"

// User is an authenticated principal together with its quota counters.
// UsedBytes is advisory between reconciliations; QuotaBytes <= 0 means unlimited.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	RootName    string     `json:"-"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	QuotaBytes  int64      `json:"quota_bytes"`
	UsedBytes   int64      `json:"used_bytes"`
	IsAdmin     bool       `json:"is_admin"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Identity is what the identity provider hands over after a successful login.
type Identity struct {
	Username    string
	DisplayName string
	Email       string
}

// EntryKind distinguishes files from directories in a listing.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// DirectoryEntry is a display projection of one filesystem node.
// Size and MimeType are only set for files.
type DirectoryEntry struct {
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	Kind          EntryKind  `json:"type"`
	Size          *int64     `json:"size"`
	SizeFormatted string     `json:"size_formatted,omitempty"`
	MimeType      string     `json:"mime_type,omitempty"`
	ModifiedAt    time.Time  `json:"modified_at"`
	Starred       bool       `json:"starred"`
	Trash         *TrashInfo `json:"trash,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e DirectoryEntry) IsDir() bool { return e.Kind == KindDirectory }

// TrashInfo is attached to entries listed from a trash folder.
type TrashInfo struct {
	StoredName    string    `json:"stored_name"`
	OriginalName  string    `json:"original_name"`
	DeletedAt     time.Time `json:"deleted_at"`
	DaysRemaining int       `json:"days_remaining"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	Total       int  `json:"total"`
	LastPage    int  `json:"last_page"`
	HasMore     bool `json:"has_more"`
}

// Listing is a paginated directory listing.
type Listing struct {
	Path       string           `json:"path"`
	Items      []DirectoryEntry `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// Star marks a path as a favorite of a user. Paths are absolute (users/{root}/files/...).
type Star struct {
	ID        int64
	UserID    int64
	Path      string
	IsDir     bool
	CreatedAt time.Time
}

// Recent is an access-log entry; one row per (user, path) holding the latest access.
type Recent struct {
	ID         int64
	UserID     int64
	Path       string
	IsDir      bool
	AccessedAt time.Time
}

// AccessLevel is the permission carried by a share.
type AccessLevel string

const (
	AccessView AccessLevel = "view"
	AccessEdit AccessLevel = "edit"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	return l == AccessView || l == AccessEdit
}

// Satisfies reports whether a grant at level l covers the required level.
// A view grant never satisfies an edit requirement.
func (l AccessLevel) Satisfies(required AccessLevel) bool {
	if required == AccessView {
		return l.Valid()
	}
	return l == AccessEdit
}

// Share grants a grantee access to a path (relative to the owner's root) and
// everything nested under it.
type Share struct {
	ID        int64       `json:"id"`
	OwnerID   int64       `json:"owner_id"`
	GranteeID int64       `json:"grantee_id"`
	Path      string      `json:"path"`
	Level     AccessLevel `json:"access_level"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	// Populated by queries that join the users table.
	OwnerUsername   string `json:"owner_username,omitempty"`
	OwnerRootName   string `json:"-"`
	GranteeUsername string `json:"grantee_username,omitempty"`
}

// Active reports whether the share is still in effect at now.
func (s *Share) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// Notification is a message for a user, written when something happens to
// them (a share was created).
type Notification struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

package drive

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	usersDir = "users"
	filesDir = "files"

	// TrashDirName is the reserved child of every user root holding trashed items.
	TrashDirName = ".trash"
)

var rootNameFilter = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeRootName maps an external username onto the directory name of its
// namespace. It returns "" when nothing usable is left.
func SanitizeRootName(username string) string {
	name := rootNameFilter.ReplaceAllString(username, "_")
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// UserRoot returns the absolute logical root of a user's namespace:
// users/{root}/files.
func UserRoot(u *User) string {
	name := u.RootName
	if name == "" {
		name = SanitizeRootName(u.Username)
	}
	if name == "" {
		name = fmt.Sprintf("%d", u.ID)
	}
	return usersDir + "/" + name + "/" + filesDir
}

// PathResolver turns logical paths into validated absolute paths inside the
// volume and answers which user owns an absolute path.
type PathResolver struct {
	database Database
}

// NewPathResolver creates a PathResolver. The database is only used by OwnerOf.
func NewPathResolver(database Database) *PathResolver {
	return &PathResolver{database: database}
}

// Resolve validates logical and returns the absolute path it designates.
// Empty and "/" resolve to the user's root. Paths starting with "users/" are
// absolute references into another namespace and are returned unchanged once
// validated; access to them is checked by the caller.
func (r *PathResolver) Resolve(u *User, logical string) (string, error) {
	if logical == "" || logical == "/" {
		return UserRoot(u), nil
	}
	if strings.HasPrefix(logical, usersDir+"/") {
		return ValidateAbsolute(logical)
	}
	clean, err := CleanRelative(logical)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return UserRoot(u), nil
	}
	return UserRoot(u) + "/" + clean, nil
}

// OwnerOf returns the user whose namespace contains abs.
func (r *PathResolver) OwnerOf(abs string) (*User, error) {
	parts := strings.SplitN(abs, "/", 4)
	if len(parts) < 3 || parts[0] != usersDir || parts[2] != filesDir || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q is not inside a user namespace", ErrInvalidPath, abs)
	}
	owner, err := r.database.FindUserByRootName(parts[1])
	if err != nil {
		return nil, fmt.Errorf("looking up owner of %s: %w", abs, err)
	}
	if owner == nil {
		return nil, fmt.Errorf("owner of %s: %w", abs, ErrNotFound)
	}
	return owner, nil
}

// RelativeTo returns abs relative to the user's root, and false when abs is
// outside that root.
func RelativeTo(u *User, abs string) (string, bool) {
	root := UserRoot(u)
	if abs == root {
		return "", true
	}
	if strings.HasPrefix(abs, root+"/") {
		return abs[len(root)+1:], true
	}
	return "", false
}

// ValidateAbsolute checks a users/{owner}/files/... path. It must already be
// in normal form; any difference from its own normalization is rejected.
func ValidateAbsolute(p string) (string, error) {
	if err := checkUnsafe(p); err != nil {
		return "", err
	}
	if normalizeSlashes(p) != p {
		return "", fmt.Errorf("%w: %q is not normalized", ErrInvalidPath, p)
	}
	segments := strings.Split(p, "/")
	if len(segments) < 3 || segments[0] != usersDir || segments[2] != filesDir {
		return "", fmt.Errorf("%w: %q is not inside a user namespace", ErrInvalidPath, p)
	}
	if SanitizeRootName(segments[1]) != segments[1] {
		return "", fmt.Errorf("%w: invalid namespace %q", ErrInvalidPath, segments[1])
	}
	for _, seg := range segments[3:] {
		if err := checkSegment(seg); err != nil {
			return "", err
		}
	}
	return p, nil
}

// CleanRelative validates a path relative to a user root and returns its
// normal form (forward slashes, no duplicate, leading or trailing slash).
func CleanRelative(p string) (string, error) {
	if err := checkUnsafe(p); err != nil {
		return "", err
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) || hasDriveLetter(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	clean := normalizeSlashes(p)
	if clean == "" {
		return "", nil
	}
	for _, seg := range strings.Split(clean, "/") {
		if err := checkSegment(seg); err != nil {
			return "", err
		}
	}
	return clean, nil
}

// checkUnsafe rejects traversal in raw, decoded and double-decoded form, as
// well as null bytes and control characters.
func checkUnsafe(p string) error {
	forms := []string{p}
	if once, err := url.PathUnescape(p); err == nil {
		forms = append(forms, once)
		if twice, err := url.PathUnescape(once); err == nil {
			forms = append(forms, twice)
		}
	}
	for _, f := range forms {
		if strings.Contains(f, "..") {
			return fmt.Errorf("%w: %q contains traversal", ErrInvalidPath, p)
		}
		if strings.ContainsRune(f, 0) {
			return fmt.Errorf("%w: %q contains a null byte", ErrInvalidPath, p)
		}
	}
	if hasControl(p) {
		return fmt.Errorf("%w: %q contains control characters", ErrInvalidPath, p)
	}
	return nil
}

func checkSegment(seg string) error {
	if seg == "." {
		return fmt.Errorf("%w: %q segment", ErrInvalidPath, seg)
	}
	if isReservedDeviceName(seg) {
		return fmt.Errorf("%w: %q is a reserved name", ErrInvalidPath, seg)
	}
	return nil
}

func normalizeSlashes(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// joinLogical appends name to a logical directory path.
func joinLogical(dir, name string) string {
	if dir == "" || dir == "/" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// parentLogical returns the parent of a logical path; the parent of a
// top-level entry is the root "".
func parentLogical(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// baseName returns the last segment of a slash-separated path.
func baseName(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}

// isWithin reports whether p equals dir or is nested below it.
func isWithin(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// volumePath maps an absolute logical path onto the volume filesystem.
func volumePath(abs string) string {
	return "/" + abs
}

// isUserRoot reports whether abs is exactly some users/{root}/files.
func isUserRoot(abs string) bool {
	return strings.Count(abs, "/") == 2
}

// inTrash reports whether abs is a trash folder or something inside one.
func inTrash(abs string) bool {
	parts := strings.SplitN(abs, "/", 5)
	return len(parts) >= 4 && parts[3] == TrashDirName
}

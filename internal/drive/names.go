package drive

import (
	"fmt"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

const maxNameLength = 255

// maxCollisionProbes bounds the "name (N)" search.
const maxCollisionProbes = 10000

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

var dangerousExtensions = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "com": true, "pif": true,
	"scr": true, "vbs": true, "js": true, "jar": true, "msi": true,
	"dll": true, "sh": true, "bash": true,
}

const forbiddenNameChars = `<>:"|?*/\`

// ValidateName checks a single file or folder name supplied by a user.
// Failures are returned as ErrInvalidName; names are never corrected here.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	// The limit is in bytes, as NAME_MAX is.
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name is longer than %d bytes", ErrInvalidName, maxNameLength)
	}
	if name == "." || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains traversal", ErrInvalidName, name)
	}
	if hasControl(name) {
		return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return fmt.Errorf("%w: %q contains one of %s", ErrInvalidName, name, forbiddenNameChars)
	}
	if strings.EqualFold(name, TrashDirName) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if isReservedDeviceName(name) {
		return fmt.Errorf("%w: %q is a reserved device name", ErrInvalidName, name)
	}
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")); dangerousExtensions[ext] {
		return fmt.Errorf("%w: files with extension .%s are not allowed", ErrInvalidName, ext)
	}
	return nil
}

func isReservedDeviceName(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	return reservedDeviceNames[strings.ToUpper(strings.TrimSpace(stem))]
}

// SanitizeName repairs a name by stripping everything ValidateName would
// reject, falling back to a generated file_{unix}_{random} name. It is a
// repair helper for names the system produces itself; user operations
// validate instead.
func SanitizeName(name string, clock Clock, idgen IDGenerator) string {
	name = baseName(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(forbiddenNameChars, r) {
			return -1
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, " .")
	for len(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	if name == "" || ValidateName(name) != nil {
		random := strings.ReplaceAll(idgen.New(), "-", "")
		if len(random) > 8 {
			random = random[:8]
		}
		return fmt.Sprintf("file_%d_%s", clock.Now().Unix(), random)
	}
	return name
}

// UniqueName returns name if dir (an absolute logical path) has no child by
// that name, otherwise the first free "stem (N).ext".
func UniqueName(fsys afero.Fs, dir, name string) (string, error) {
	exists, err := afero.Exists(fsys, volumePath(dir+"/"+name))
	if err != nil {
		return "", ioFailure("stat", dir+"/"+name, err)
	}
	if !exists {
		return name, nil
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	for i := 1; i <= maxCollisionProbes; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		_, err := fsys.Stat(volumePath(dir + "/" + candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", ioFailure("stat", dir+"/"+candidate, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %q in %s", ErrAlreadyExists, name, dir)
}

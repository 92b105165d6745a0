package entity

import (
	"fmt"
	"path"
	"strings"

	"github.com/jgivc/manifestsync/internal/common"
)

// ManifestFile is one published file of a release.
type ManifestFile struct {
	Path string `json:"path"` // Relative, forward-slash separated
	Size uint64 `json:"size"`
	Hash string `json:"hash"` // Lowercase hex sha256
}

// Manifest describes one published version of a game. It is treated as immutable,
// a new version is a new Manifest value.
type Manifest struct {
	Files                  []ManifestFile `json:"files"`
	ExecutableRelativePath string         `json:"executablePath"`
	Version                string         `json:"version"`
	GameName               string         `json:"gameName"`
	VersionLabel           string         `json:"versionName"`
}

// TotalBytes returns the size of the whole release.
func (m *Manifest) TotalBytes() uint64 {
	var total uint64
	for i := range m.Files {
		total += m.Files[i].Size
	}

	return total
}

/*
Validate checks the invariants every manifest must hold before it touches the disk:
paths are unique, none is the parent directory of another, and none can escape the install root.
*/
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Files))

	for i := range m.Files {
		p := m.Files[i].Path
		if err := ValidatePath(p); err != nil {
			return err
		}

		key := path.Clean(p)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("%w: %s", common.ErrDuplicatePath, p)
		}
		seen[key] = struct{}{}
	}

	for key := range seen {
		for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
			if _, exists := seen[dir]; exists {
				return fmt.Errorf("%w: %s and %s", common.ErrPathConflict, dir, key)
			}
		}
	}

	if m.ExecutableRelativePath != "" {
		if err := ValidatePath(strings.TrimPrefix(m.ExecutableRelativePath, "/")); err != nil {
			return fmt.Errorf("executable path: %w", err)
		}
	}

	return nil
}

// ValidatePath rejects empty, absolute and parent-relative manifest paths.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty path", common.ErrUnsafePath)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: %s is absolute", common.ErrUnsafePath, p)
	case strings.Contains(p, "\\"):
		return fmt.Errorf("%w: %s contains a backslash", common.ErrUnsafePath, p)
	case len(p) > 1 && p[1] == ':':
		return fmt.Errorf("%w: %s has a volume name", common.ErrUnsafePath, p)
	}

	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %s", common.ErrUnsafePath, p)
		}
	}

	if path.Clean(p) == "." {
		return fmt.Errorf("%w: %s does not name a file", common.ErrUnsafePath, p)
	}

	return nil
}

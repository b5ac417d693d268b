package chrome

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bnema/gmail-fleet/internal/domain"
)

// CloneDir is the per-account cloned browser install searched first for an
// executable.
func (c Config) CloneDir(id domain.AccountID) string {
	return filepath.Join(c.CloneRoot, id.SafeToken())
}

// ProfileDir is the per-account user-data directory. It is created lazily
// on first launch and persists across runs; nothing here ever removes it.
func (c Config) ProfileDir(id domain.AccountID) string {
	return filepath.Join(c.ProfileRoot, id.SafeToken())
}

// findExecutable locates the browser binary for an account: the account's
// cloned install first, then the shared fallback install. Each candidate
// directory is walked because packaged installs nest the binary at varying
// depths.
func (c Config) findExecutable(id domain.AccountID) (string, error) {
	for _, dir := range []string{c.CloneDir(id), c.FallbackInstallDir} {
		if dir == "" {
			continue
		}
		if path := findBinary(dir, c.ExecutableName); path != "" {
			return path, nil
		}
	}

	return "", domain.ErrProfileUnavailable
}

func findBinary(root, name string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return filepath.SkipAll
		}
		return nil
	})

	if found == "" {
		return ""
	}
	if info, err := os.Stat(found); err != nil || info.Mode()&0o111 == 0 {
		return ""
	}
	return found
}

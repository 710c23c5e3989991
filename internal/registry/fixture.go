// Package registry ships the reference data set (securities master, sample
// corporate actions, conflicts, users and audit history) and seeds it into a
// store.
package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/model"
)

//go:embed fixtures/*.json
var embedded embed.FS

// Fixture file names, relative to a fixtures directory.
const (
	SecuritiesFile = "securities.json"
	ActionsFile    = "actions.json"
	ConflictsFile  = "conflicts.json"
	UsersFile      = "users.json"
	AuditFile      = "audit.json"
	SyncsFile      = "syncs.json"
)

// Fixtures is a complete reference data set.
type Fixtures struct {
	Securities []model.Security
	Actions    []model.CorporateAction
	Conflicts  []model.Conflict
	Users      []model.User
	Audit      []model.AuditEntry
	Syncs      []model.SyncEntry
}

// Load returns the embedded reference data set.
func Load() (*Fixtures, error) {
	sub, err := fs.Sub(embedded, "fixtures")
	if err != nil {
		return nil, eris.Wrap(err, "registry: open embedded fixtures")
	}
	return loadFS(sub)
}

// LoadFromDir reads a fixture set from dir. Every file is optional; a
// missing file leaves that collection empty.
func LoadFromDir(dir string) (*Fixtures, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrap(err, "registry: stat fixtures dir")
	}
	if !info.IsDir() {
		return nil, eris.Errorf("registry: %s is not a directory", dir)
	}
	return loadFS(os.DirFS(filepath.Clean(dir)))
}

func loadFS(fsys fs.FS) (*Fixtures, error) {
	f := &Fixtures{}
	files := []struct {
		name string
		dst  any
	}{
		{SecuritiesFile, &f.Securities},
		{ActionsFile, &f.Actions},
		{ConflictsFile, &f.Conflicts},
		{UsersFile, &f.Users},
		{AuditFile, &f.Audit},
		{SyncsFile, &f.Syncs},
	}
	for _, file := range files {
		if err := readFixture(fsys, file.name, file.dst); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func readFixture(fsys fs.FS, name string, dst any) error {
	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "registry: read %s fixture", name)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return eris.Wrapf(err, "registry: unmarshal %s fixture", name)
	}
	return nil
}

// Validate checks every security and action and that actions and conflicts
// reference known securities.
func (f *Fixtures) Validate() error {
	known := make(map[string]bool, len(f.Securities))
	for i := range f.Securities {
		if err := f.Securities[i].Validate(); err != nil {
			return eris.Wrap(err, "registry: invalid security")
		}
		known[f.Securities[i].ID] = true
	}
	for i := range f.Actions {
		a := &f.Actions[i]
		if err := a.Validate(); err != nil {
			return eris.Wrap(err, "registry: invalid action")
		}
		if !known[a.SecurityID] {
			return eris.Errorf("registry: action %s references unknown security %s", a.ID, a.SecurityID)
		}
	}
	for _, c := range f.Conflicts {
		if !known[c.SecurityID] {
			return eris.Errorf("registry: conflict %s references unknown security %s", c.ID, c.SecurityID)
		}
		if len(c.Sources) < 2 {
			return eris.Errorf("registry: conflict %s needs at least two sources", c.ID)
		}
	}
	return nil
}

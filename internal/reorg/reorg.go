// Package reorg moves files of a working folder into subfolders following a
// plan file.
//
// A plan lists folders in order, each with the entries moved into it:
//
//	folders:
//	  - name: app
//	    files: [app.py, sheets_reader.py]
//	  - name: data
//	    files: [Transcripts]
//
// YAML, JSON and TOML plans are read through viper; the format follows the
// file extension. Entries that do not exist are reported, not treated as
// errors, so the same plan can be applied more than once.
package reorg

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Folder is one target folder of a plan.
type Folder struct {
	Name  string   `mapstructure:"name"`
	Files []string `mapstructure:"files"`
}

// Plan is a parsed plan file.
type Plan struct {
	Folders []Folder `mapstructure:"folders"`
}

// LoadPlan reads the plan at path.
func LoadPlan(path string) (Plan, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}

	var p Plan
	if err := v.Unmarshal(&p); err != nil {
		return Plan{}, fmt.Errorf("decode plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects folder names and entries that would leave the base folder.
func (p Plan) Validate() error {
	if len(p.Folders) == 0 {
		return errors.New("no folders")
	}
	var errs []error
	for i, f := range p.Folders {
		if !isLocal(f.Name) {
			errs = append(errs, fmt.Errorf("folder %d: invalid name %q", i+1, f.Name))
		}
		for _, entry := range f.Files {
			if !isLocal(entry) {
				errs = append(errs, fmt.Errorf("folder %q: invalid entry %q", f.Name, entry))
			}
		}
	}
	return errors.Join(errs...)
}

func isLocal(name string) bool {
	return strings.TrimSpace(name) != "" && filepath.IsLocal(name)
}

// Move is one entry that was moved.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Result reports what Apply did.
type Result struct {
	Moved   []Move   `json:"moved"`
	Missing []string `json:"missing,omitempty"`
}

// Apply creates every folder of p under base and moves the listed entries
// that exist into it, keeping their base names. A failed move does not stop
// the others; all failures are returned together.
func Apply(base string, p Plan) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if info, err := os.Stat(base); err != nil {
		return Result{}, err
	} else if !info.IsDir() {
		return Result{}, fmt.Errorf("%s is not a directory", base)
	}

	var (
		res  Result
		errs []error
	)
	for _, f := range p.Folders {
		dir := filepath.Join(base, f.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, err)
			continue
		}

		for _, entry := range f.Files {
			src := filepath.Join(base, entry)
			if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
				res.Missing = append(res.Missing, entry)
				slog.Debug("plan entry not found", "entry", entry)
				continue
			}
			dst := filepath.Join(dir, filepath.Base(entry))
			if err := os.Rename(src, dst); err != nil {
				errs = append(errs, fmt.Errorf("move %s: %w", entry, err))
				continue
			}
			res.Moved = append(res.Moved, Move{From: src, To: dst})
			slog.Info("moved", "from", src, "to", dst)
		}
	}
	return res, errors.Join(errs...)
}

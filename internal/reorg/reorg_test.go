package reorg

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file    string
		content string
	}{
		{"plan.yaml", "folders:\n  - name: App\n    files: [app.py, util.py]\n  - name: data\n    files: [Transcripts]\n"},
		{"plan.json", `{"folders":[{"name":"App","files":["app.py","util.py"]},{"name":"data","files":["Transcripts"]}]}`},
		{"plan.toml", "[[folders]]\nname = \"App\"\nfiles = [\"app.py\", \"util.py\"]\n\n[[folders]]\nname = \"data\"\nfiles = [\"Transcripts\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			write(t, path, tt.content)

			p, err := LoadPlan(path)
			if err != nil {
				t.Fatalf("LoadPlan() error = %v", err)
			}
			if len(p.Folders) != 2 || p.Folders[0].Name != "App" || len(p.Folders[0].Files) != 2 {
				t.Errorf("plan = %+v", p)
			}
		})
	}
}

func TestLoadPlan_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"missing file", "absent.yaml", ""},
		{"no folders", "empty.yaml", "other: 1\n"},
		{"escaping folder", "up.yaml", "folders:\n  - name: ../out\n    files: [a]\n"},
		{"absolute entry", "abs.yaml", "folders:\n  - name: x\n    files: [/etc/passwd]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				write(t, path, tt.content)
			}
			if _, err := LoadPlan(path); err == nil {
				t.Error("LoadPlan() should fail")
			}
		})
	}
}

func TestApply(t *testing.T) {
	base := t.TempDir()
	write(t, filepath.Join(base, "app.py"), "print()")
	write(t, filepath.Join(base, "Transcripts", "one.txt"), "x")

	plan := Plan{Folders: []Folder{
		{Name: "app", Files: []string{"app.py", "gone.py"}},
		{Name: "data", Files: []string{"Transcripts"}},
		{Name: "docs"},
	}}

	res, err := Apply(base, plan)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Moved) != 2 || len(res.Missing) != 1 || res.Missing[0] != "gone.py" {
		t.Errorf("result = %+v", res)
	}
	for _, p := range []string{"app/app.py", "data/Transcripts/one.txt"} {
		if _, err := os.Stat(filepath.Join(base, p)); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if info, err := os.Stat(filepath.Join(base, "docs")); err != nil || !info.IsDir() {
		t.Error("empty folders should still be created")
	}

	// applying again finds nothing left to move
	res, err = Apply(base, plan)
	if err != nil || len(res.Moved) != 0 || len(res.Missing) != 3 {
		t.Errorf("second Apply() = %+v, %v", res, err)
	}
}

func TestApply_BaseMustExist(t *testing.T) {
	plan := Plan{Folders: []Folder{{Name: "a"}}}
	if _, err := Apply(filepath.Join(t.TempDir(), "nope"), plan); err == nil {
		t.Error("Apply() on missing base should fail")
	}
}

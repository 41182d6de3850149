package drive

import "testing"

func TestNewNameFilter(t *testing.T) {
	t.Run("skips blank lines, comments and bad patterns", func(t *testing.T) {
		t.Parallel()
		f := NewNameFilter([]string{"", "  ", "# comment", "*.exe", "[x"})
		if len(f.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(f.patterns))
		}
		if f.patterns[0].pattern != "*.exe" {
			t.Errorf("expected *.exe, got %s", f.patterns[0].pattern)
		}
	})

	t.Run("classifies path vs basename patterns", func(t *testing.T) {
		t.Parallel()
		f := NewNameFilter([]string{"*.exe", "bin/*"})
		if f.patterns[0].matchPath {
			t.Error("*.exe should not be a path pattern")
		}
		if !f.patterns[1].matchPath {
			t.Error("bin/* should be a path pattern")
		}
	})
}

func TestNameFilter_Blocked(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"basename glob matches name", []string{"*.exe"}, "setup.exe", true},
		{"match ignores case", []string{"*.exe"}, "SETUP.EXE", true},
		{"pattern case is ignored", []string{"*.MSI"}, "tool.msi", true},
		{"basename glob matches inside folder upload", []string{"*.bat"}, "scripts/run.bat", true},
		{"different extension passes", []string{"*.exe"}, "report.pdf", false},
		{"double extension uses the last one", []string{"*.exe"}, "report.exe.pdf", false},
		{"path pattern matches relative path", []string{"bin/*"}, "bin/tool", true},
		{"path pattern does not match other folder", []string{"bin/*"}, "src/tool", false},
		{"backslashes are folder separators", []string{"bin/*"}, `bin\tool`, true},
		{"exact name", []string{"thumbs.db"}, "Thumbs.db", true},
		{"no patterns blocks nothing", nil, "virus.exe", false},
		{"empty path", []string{"*.exe"}, "", false},
		{"second pattern matches", []string{"*.exe", "*.dll"}, "lib.dll", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewNameFilter(tt.patterns).Blocked(tt.path)
			if got != tt.want {
				t.Errorf("Blocked(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNameFilter_NilBlocksNothing(t *testing.T) {
	var f *NameFilter
	if f.Blocked("virus.exe") {
		t.Error("nil filter blocked a name")
	}
}

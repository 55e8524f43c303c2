package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleYAML = `
/tmp/testdir :
    name : Access log watcher
    recurse : false
    filemasks :
      somefile.* :
        actions :
          - processFile :
              args:
                - $filename
                - YYYYMMDD
              cmd: echo
          - archiveFile :
              cmd: /usr/bin/true
              args: []
              start_time: "20:00:00"
              end_time: "21:30:15"
/tmp/otherdir :
    name : Other
    local_tz : US/Eastern
    ignore : ["*.swp"]
    filemasks :
      data_YYYYMMDD.txt :
        actions :
          - a : { cmd: echo, args: [x] }
            b : { cmd: echo, args: [y] }
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := cfg.Paths(); !reflect.DeepEqual(got, []string{"/tmp/otherdir", "/tmp/testdir"}) {
		t.Fatalf("Unexpected paths: %v", got)
	}

	w := cfg["/tmp/testdir"]
	if w.Name != "Access log watcher" || w.Recurse {
		t.Errorf("Unexpected watch: %+v", w)
	}

	actions := w.Filemasks["somefile.*"].Actions
	if len(actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(actions))
	}

	first := actions[0]
	if first.Name != "processFile" || first.Cmd != "echo" {
		t.Errorf("Unexpected first action: %+v", first)
	}
	if !reflect.DeepEqual(first.Args, []string{"$filename", "YYYYMMDD"}) {
		t.Errorf("Unexpected args: %v", first.Args)
	}
	if first.HasWindow() {
		t.Error("First action should have no window")
	}

	second := actions[1]
	if second.Args == nil || len(second.Args) != 0 {
		t.Errorf("Explicit empty args should be non-nil and empty, got %#v", second.Args)
	}
	if !second.HasWindow() {
		t.Fatal("Second action should have a window")
	}
	if *second.Start != (TimeOfDay{20, 0, 0}) || *second.End != (TimeOfDay{21, 30, 15}) {
		t.Errorf("Unexpected window: %v - %v", second.Start, second.End)
	}

	other := cfg["/tmp/otherdir"]
	if other.LocalTZ != "US/Eastern" || !reflect.DeepEqual(other.Ignore, []string{"*.swp"}) {
		t.Errorf("Unexpected other watch: %+v", other)
	}
	// One list item with two labels yields two actions in document order.
	multi := other.Filemasks["data_YYYYMMDD.txt"].Actions
	if len(multi) != 2 || multi[0].Name != "a" || multi[1].Name != "b" {
		t.Errorf("Unexpected multi-label actions: %+v", multi)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Sample config should validate: %v", err)
	}
}

func TestParseMissingArgs(t *testing.T) {
	cfg, err := Parse([]byte(`
/tmp/x:
  name: x
  filemasks:
    "*":
      actions:
        - a: { cmd: echo }
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args := cfg["/tmp/x"].Filemasks["*"].Actions[0].Args; args != nil {
		t.Errorf("Absent args should decode as nil, got %#v", args)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		empty bool
	}{
		{"empty document", "", true},
		{"comment only", "# nothing\n", true},
		{"empty mapping", "{}\n", true},
		{"list at top", "- a\n- b\n", false},
		{"bad time", "/x:\n  name: x\n  filemasks:\n    a:\n      actions:\n        - a: {cmd: echo, args: [], start_time: '25:00:00', end_time: '26:00:00'}\n", false},
		{"actions not a list", "/x:\n  name: x\n  filemasks:\n    a:\n      actions: {a: b}\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, ErrEmpty); got != tt.empty {
				t.Errorf("errors.Is(err, ErrEmpty) = %v, want %v (err: %v)", got, tt.empty, err)
			}
		})
	}
}

func TestLoadAndFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cronify.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	src := FileSource(path)
	cfg, err := src()
	if err != nil {
		t.Fatalf("FileSource failed: %v", err)
	}
	if len(cfg) != 2 {
		t.Errorf("Expected 2 watches, got %d", len(cfg))
	}

	// Source re-reads on every call.
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatalf("Failed to truncate config: %v", err)
	}
	if _, err := src(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty after truncation, got %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
		err  bool
	}{
		{"16:01:00", TimeOfDay{16, 1, 0}, false},
		{"00:00:00", TimeOfDay{0, 0, 0}, false},
		{"23:59:59", TimeOfDay{23, 59, 59}, false},
		{" 7:05:09 ", TimeOfDay{7, 5, 9}, false},
		{"24:00:00", TimeOfDay{}, true},
		{"12:60:00", TimeOfDay{}, true},
		{"12:00", TimeOfDay{}, true},
		{"noon", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseTimeOfDay(%q) error = %v, want error %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if s := (TimeOfDay{7, 5, 9}).String(); s != "07:05:09" {
		t.Errorf("String() = %q", s)
	}
}

func TestWatchLocation(t *testing.T) {
	loc, err := Watch{}.Location()
	if err != nil || loc == nil {
		t.Fatalf("Unset zone should give time.Local, got %v, %v", loc, err)
	}

	loc, err = Watch{LocalTZ: "US/Pacific"}.Location()
	if err != nil {
		t.Fatalf("Location failed: %v", err)
	}
	if loc.String() != "US/Pacific" {
		t.Errorf("Unexpected zone %s", loc)
	}

	if _, err := (Watch{LocalTZ: "Mars/Olympus"}).Location(); err == nil {
		t.Error("Expected error for unknown zone")
	}
}

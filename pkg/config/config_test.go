package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nanovm.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.GC.MemoryInterval != 0 || c.Loop.Backend != "" || c.Debug.Log {
		t.Fatalf("expected zero-value default, got %+v %+v %+v", c.GC, c.Loop, c.Debug)
	}
}

func TestLoadParsesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanovm.yaml")
	if err := os.WriteFile(path, []byte("gc:\n  memoryInterval: 65536\ndebug:\n  log: true\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.GC.MemoryInterval != 65536 {
		t.Fatalf("expected memoryInterval 65536, got %d", c.GC.MemoryInterval)
	}
	if !c.Debug.Log {
		t.Fatalf("expected debug.log true")
	}
	if c.Loop == nil {
		t.Fatalf("expected Loop section to be defaulted, not left nil")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nanovm.yaml")
	want := Default()
	want.GC.MemoryInterval = 8192
	want.Loop.Backend = "epoll"
	want.Debug.Log = true

	if err := Save(want, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.GC.MemoryInterval != want.GC.MemoryInterval || got.Loop.Backend != want.Loop.Backend || got.Debug.Log != want.Debug.Log {
		t.Fatalf("round trip mismatch: got %+v %+v %+v", got.GC, got.Loop, got.Debug)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := Default()
	c.Loop.Backend = "sendfile"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestValidateAcceptsKnownBackends(t *testing.T) {
	for _, name := range []string{"", "epoll", "kqueue", "iocp", "poll"} {
		c := Default()
		c.Loop.Backend = name
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%q): unexpected error %v", name, err)
		}
	}
}

func TestCheckBackendMismatch(t *testing.T) {
	c := Default()
	c.Loop.Backend = "kqueue"
	if err := c.CheckBackend("epoll"); err == nil {
		t.Fatalf("expected mismatch error")
	}
	if err := c.CheckBackend("kqueue"); err != nil {
		t.Fatalf("expected matching backend to pass, got %v", err)
	}
}

func TestCheckBackendEmptyRequestAlwaysPasses(t *testing.T) {
	c := Default()
	if err := c.CheckBackend("poll"); err != nil {
		t.Fatalf("expected no-override request to pass, got %v", err)
	}
}

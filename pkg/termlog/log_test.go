package termlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelError,
		"":        LevelError,
	}
	for s, want := range cases {
		if got := ParseLevel(s); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestFileSinkRespectsItsOwnLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termcamng.log")
	l, err := New(path, LevelError, LevelDebug)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Debugf("debug line %d", 1)
	l.Errorf("error line %d", 2)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "debug line 1") {
		t.Fatalf("expected debug line to reach the file sink (fileLevel=Debug), got: %q", content)
	}
	if !strings.Contains(content, "error line 2") {
		t.Fatalf("expected error line in file sink, got: %q", content)
	}
}

func TestDiscardDropsEverythingWithoutPanicking(t *testing.T) {
	l := Discard()
	l.Errorf("should vanish %d", 1)
	l.Debugf("also vanish %d", 2)
}

func TestNewWithEmptyPathHasNoFileSink(t *testing.T) {
	l, err := New("", LevelInfo, LevelInfo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()
	l.Infof("fine, no file sink configured")
}

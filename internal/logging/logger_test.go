package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "dispatcher-migrate.log")
	l, err := New("dispatcher-migrate", Options{Console: &console, File: path, Level: zerolog.InfoLevel, NoColor: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug().Msg("hidden")
	l.Info().Str("rule", "consolidate-filters").Msg("rule finished")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(console.String(), "rule finished") || strings.Contains(console.String(), "hidden") {
		t.Fatalf("console output = %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"rule":"consolidate-filters"`) || !strings.Contains(string(data), `"app":"dispatcher-migrate"`) {
		t.Fatalf("file output = %q", data)
	}
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	l, err := New("x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if l.GetLevel() != zerolog.Disabled {
		t.Fatalf("expected disabled logger, got %s", l.GetLevel())
	}
}

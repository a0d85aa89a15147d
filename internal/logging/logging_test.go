package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != zerolog.DebugLevel {
		t.Errorf("expected debug level")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Errorf("expected info fallback")
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", false)
	log.Info().Msg("hidden")
	log.Warn().Str("schedule_id", "s1").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"schedule_id":"s1"`) {
		t.Errorf("expected structured field, got %s", out)
	}
}

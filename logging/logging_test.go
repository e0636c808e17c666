package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevelNamesAndAliases(t *testing.T) {
	cases := []struct {
		name string
		want zerolog.Level
	}{
		{"none", zerolog.Disabled},
		{"error", zerolog.ErrorLevel},
		{"warning", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"info", zerolog.InfoLevel},
		{"verbose", zerolog.DebugLevel},
		{"verb", zerolog.DebugLevel},
		{"debug", zerolog.TraceLevel},
		{"INFO", zerolog.InfoLevel},
		{" verbose ", zerolog.DebugLevel},
	}
	for _, c := range cases {
		got, err := parseLevel(c.name)
		if err != nil {
			t.Errorf("parseLevel(%q) failed: %v", c.name, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := parseLevel("chatty"); err == nil {
		t.Error("expected an error for an unknown level name")
	}
}

func TestSetLevelApplied(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel(DefaultLevel) })

	if err := SetLevel("error"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("global level not applied, got %v", zerolog.GlobalLevel())
	}
}

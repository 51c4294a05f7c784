package crontab

import (
	"strings"
	"testing"
	"time"
)

func sampleEntry() Entry {
	return Entry{
		Schedule:   "0 3 * * *",
		BinaryPath: "/usr/local/bin/spacebak",
		ConfigPath: "/home/me/.spacebak/config.yaml",
		LogPath:    "/home/me/.spacebak/spacebak.log",
		WorkDir:    "/home/me",
	}
}

func TestLine(t *testing.T) {
	line, err := sampleEntry().Line()
	if err != nil {
		t.Fatalf("Line failed: %v", err)
	}

	expected := "0 3 * * * cd /home/me && /usr/local/bin/spacebak run --config /home/me/.spacebak/config.yaml >> /home/me/.spacebak/spacebak.log 2>&1"
	if line != expected {
		t.Errorf("Line() =\n%s\nexpected\n%s", line, expected)
	}
}

func TestLineWithoutConfig(t *testing.T) {
	e := sampleEntry()
	e.ConfigPath = ""

	line, err := e.Line()
	if err != nil {
		t.Fatalf("Line failed: %v", err)
	}
	if strings.Contains(line, "--config") {
		t.Errorf("Line() = %q, expected no --config flag", line)
	}
}

func TestLineQuotesPaths(t *testing.T) {
	e := sampleEntry()
	e.WorkDir = "/media/My Backups"
	e.LogPath = "/tmp/it's.log"

	line, err := e.Line()
	if err != nil {
		t.Fatalf("Line failed: %v", err)
	}
	if !strings.Contains(line, "cd '/media/My Backups' &&") {
		t.Errorf("Line() = %q, expected quoted working directory", line)
	}
	if !strings.Contains(line, `>> '/tmp/it'\''s.log' 2>&1`) {
		t.Errorf("Line() = %q, expected escaped quote in log path", line)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"daily", "0 3 * * *", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"descriptor", "@daily", false},
		{"six fields", "0 0 3 * * *", true},
		{"garbage", "whenever", true},
		{"empty", "", true},
		{"minute out of range", "61 3 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleEntry()
			e.Schedule = tt.schedule
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if _, err := e.Line(); err == nil {
					t.Error("Line should fail for an invalid schedule")
				}
			}
		})
	}
}

func TestValidateMissingFields(t *testing.T) {
	e := sampleEntry()
	e.BinaryPath = ""
	if err := e.Validate(); err == nil {
		t.Error("Validate should fail without a binary path")
	}
}

func TestNext(t *testing.T) {
	from := time.Date(2024, 12, 15, 2, 30, 0, 0, time.UTC)

	times, err := sampleEntry().Next(from, 3)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	expected := []time.Time{
		time.Date(2024, 12, 15, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 16, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 17, 3, 0, 0, 0, time.UTC),
	}
	if len(times) != len(expected) {
		t.Fatalf("Next returned %d times, expected %d", len(times), len(expected))
	}
	for i := range times {
		if !times[i].Equal(expected[i]) {
			t.Errorf("times[%d] = %v, expected %v", i, times[i], expected[i])
		}
	}
}

func TestNextInvalid(t *testing.T) {
	e := sampleEntry()
	e.Schedule = "nope"
	if _, err := e.Next(time.Now(), 3); err == nil {
		t.Error("Next should fail for an invalid schedule")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"/usr/bin/spacebak", "/usr/bin/spacebak"},
		{"", "''"},
		{"a b", "'a b'"},
		{"$HOME", "'$HOME'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.expected {
			t.Errorf("quote(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestLogPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := LogPath(); got != "/home/tester/.spacebak/spacebak.log" {
		t.Errorf("LogPath() = %q", got)
	}
}

package logging

import "testing"

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Debug(format string, args ...any) { l.lines = append(l.lines, "debug") }
func (l *recordingLogger) Info(format string, args ...any)  { l.lines = append(l.lines, "info") }
func (l *recordingLogger) Warn(format string, args ...any)  { l.lines = append(l.lines, "warn") }
func (l *recordingLogger) Error(format string, args ...any) { l.lines = append(l.lines, "error") }

func TestMulti(t *testing.T) {
	t.Parallel()

	a := &recordingLogger{}
	b := &recordingLogger{}

	logger := Multi(a, nil, Multi(b))
	logger.Info("hello %s", "world")
	logger.Error("oops")

	for _, l := range []*recordingLogger{a, b} {
		if len(l.lines) != 2 || l.lines[0] != "info" || l.lines[1] != "error" {
			t.Fatalf("fan-out lines = %v", l.lines)
		}
	}

	if got := Multi(); got != Nop() {
		t.Fatalf("Multi() with no loggers = %T, want nop", got)
	}
	if got := Multi(a); got != Logger(a) {
		t.Fatalf("Multi(a) = %T, want a itself", got)
	}
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	if OrNop(nil) != Nop() {
		t.Fatalf("OrNop(nil) is not the nop logger")
	}
	l := &recordingLogger{}
	if OrNop(l) != Logger(l) {
		t.Fatalf("OrNop(l) did not return l")
	}
}

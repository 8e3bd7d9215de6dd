package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(tst *testing.T) {
	var buf bytes.Buffer
	logger := New("skylink", Warn, &buf)

	logger.Info("hidden %d", 1)
	logger.Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		tst.Errorf("Expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN  [skylink] shown 2") {
		tst.Errorf("Expected warn line, got %q", out)
	}
}

func TestLoggerNamed(tst *testing.T) {
	var buf bytes.Buffer
	logger := New("skylink", Debug, &buf).Named("store").Named("memory")

	logger.Debug("hello")
	if !strings.Contains(buf.String(), "[skylink/store/memory] hello") {
		tst.Errorf("Expected nested name, got %q", buf.String())
	}
}

func TestParse(tst *testing.T) {
	for input, want := range map[string]LogLevel{
		"debug": Debug, "": Info, "WARNING": Warn, "error": Error,
	} {
		got, err := Parse(input)
		if err != nil {
			tst.Fatalf("Parse(%q) failed: %v", input, err)
		}
		if got != want {
			tst.Errorf("Expected %v, got %v", want, got)
		}
	}

	if _, err := Parse("loud"); err == nil {
		tst.Errorf("Expected error for unknown level")
	}
}

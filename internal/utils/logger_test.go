package utils

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestNewWriterLoggerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(LoggingConfig{Level: "warn", Encoding: "json", ServiceName: "synthesize"}, &buf)

	logger.Info("dropped")
	logger.Sugar().Warnw("synthesis request rejected", "status", 500)
	logger.Sync()

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "synthesis request rejected") || !strings.Contains(out, `"status":500`) {
		t.Fatalf("expected warn line in buffer, got %q", out)
	}
	if !strings.Contains(out, `"service":"synthesize"`) {
		t.Fatalf("expected service field, got %q", out)
	}
}

func TestLoggerConcurrentWithNewLogger(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if Logger() == nil {
				t.Error("Logger returned nil")
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := NewLogger(LoggingConfig{Level: "error", Output: "stderr"}); err != nil {
				t.Errorf("NewLogger: %v", err)
			}
		}()
	}
	wg.Wait()

	built, err := NewLogger(LoggingConfig{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if Logger() != built {
		t.Fatalf("Logger should return the last built logger")
	}
}

package xlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalHandlerWritesLevelAndMessage(t *testing.T) {
	out := new(bytes.Buffer)
	l := New(NewTerminalHandler(out, LevelInfo))
	l.Info("batch chunk complete", "chunk", 3, "cached", 97)

	have := out.String()
	if !strings.Contains(have, "INFO") || !strings.Contains(have, "batch chunk complete") {
		t.Fatalf("unexpected log line: %q", have)
	}
	if !strings.Contains(have, "chunk=3") || !strings.Contains(have, "cached=97") {
		t.Fatalf("missing structured fields: %q", have)
	}
}

func TestTerminalHandlerFiltersBelowLevel(t *testing.T) {
	out := new(bytes.Buffer)
	l := New(NewTerminalHandler(out, LevelWarn))
	l.Info("should not appear")
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestWithAttachesAttrsToSubsequentLines(t *testing.T) {
	out := new(bytes.Buffer)
	l := New(NewTerminalHandler(out, LevelInfo)).With("component", "batch")
	l.Info("starting")
	if !strings.Contains(out.String(), "component=batch") {
		t.Fatalf("expected inherited attr, got %q", out.String())
	}
}

func TestTerminalHandlerAppliesColorWhenEnabled(t *testing.T) {
	out := new(bytes.Buffer)
	h := &terminalHandler{w: out, level: LevelInfo, useColor: true}
	l := New(h)
	l.Error("boom")

	have := out.String()
	if !strings.Contains(have, levelColors[LevelError]) || !strings.Contains(have, colorReset) {
		t.Fatalf("expected ANSI color codes around the level name, got %q", have)
	}
}

func TestTerminalHandlerOmitsColorWhenDisabled(t *testing.T) {
	out := new(bytes.Buffer)
	h := &terminalHandler{w: out, level: LevelInfo, useColor: false}
	l := New(h)
	l.Error("boom")

	if strings.Contains(out.String(), "\x1b[") {
		t.Fatalf("expected no ANSI escapes when useColor is false, got %q", out.String())
	}
}

func TestLogLinesCarryCallerAttribute(t *testing.T) {
	out := new(bytes.Buffer)
	l := New(NewTerminalHandler(out, LevelInfo))
	l.Info("hello")

	have := out.String()
	if !strings.Contains(have, "caller=xlog_test.go:") {
		t.Fatalf("expected a caller=file:line attribute pointing back to the call site, got %q", have)
	}
}

func TestCallSiteReturnsFileAndLine(t *testing.T) {
	site := CallSite(0)
	if !strings.Contains(site, "xlog_test.go:") {
		t.Fatalf("expected CallSite to resolve to this test file, got %q", site)
	}
}

func TestRateLimitedSuppressesRepeats(t *testing.T) {
	out := new(bytes.Buffer)
	base := New(NewTerminalHandler(out, LevelInfo))
	rl := NewRateLimited(base, 0)
	rl.Warn("cache unavailable")
	rl.Warn("cache unavailable")

	count := strings.Count(out.String(), "cache unavailable")
	if count != 2 {
		// window is 0 so both should pass; this asserts allow() doesn't
		// wedge shut permanently.
		t.Fatalf("expected 2 lines with zero window, got %d", count)
	}
}

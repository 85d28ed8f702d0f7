package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestBuildArgsFull(t *testing.T) {
	opts := Options{
		Referer:         "https://legislature.example.gov/",
		Origin:          "https://legislature.example.gov",
		SocketTimeout:   30 * time.Second,
		FragmentRetries: 10,
		InsecureTLS:     true,
	}
	got := buildArgs("https://media.example.gov/hearing.m3u8", opts)
	want := []string{
		"--quiet", "--no-warnings", "--no-progress", "--no-part", "-o", "-",
		"--socket-timeout", "30",
		"--fragment-retries", "10",
		"--referer", "https://legislature.example.gov/",
		"--add-header", "Origin:https://legislature.example.gov",
		"--no-check-certificate",
		"https://media.example.gov/hearing.m3u8",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got args %v, want %v", got, want)
	}
}

func TestBuildArgsMinimal(t *testing.T) {
	got := buildArgs("https://media.example.gov/a.mp4", Options{})
	want := []string{"--quiet", "--no-warnings", "--no-progress", "--no-part", "-o", "-", "https://media.example.gov/a.mp4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got args %v, want %v", got, want)
	}
}

// TestKillUnblocksWait covers the abandoned-consumer path: the upload side
// stops reading mid-stream and kills the process. Wait must still settle so
// the child is reaped and the copy goroutine exits.
func TestKillUnblocksWait(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "flood.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nwhile :; do printf 'xxxxxxxxxxxxxxxx'; done\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := &CommandRunner{Binary: script}
	p, err := r.Start(context.Background(), "https://ignored.example/stream", Options{})
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64*1024)
	if _, err := io.ReadFull(p.Output(), buf); err != nil {
		t.Fatalf("partial read: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}

	waits := make(chan error, 1)
	go func() { waits <- p.Wait() }()
	select {
	case err := <-waits:
		if err == nil {
			t.Error("killed process should report a failure")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not settle after Kill")
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := &tailBuffer{max: 10}
	tb.Write([]byte("0123456789"))
	tb.Write([]byte("ERROR: 403"))
	if got := tb.String(); got != "ERROR: 403" {
		t.Errorf("got %q, want only the tail", got)
	}
}

func TestTailBufferTrimsWhitespace(t *testing.T) {
	tb := &tailBuffer{max: 64}
	tb.Write([]byte("  something failed\n"))
	if got := tb.String(); strings.HasSuffix(got, "\n") || strings.HasPrefix(got, " ") {
		t.Errorf("got %q, want trimmed output", got)
	}
}

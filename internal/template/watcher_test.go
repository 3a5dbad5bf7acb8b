package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Template, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(tmpl Template) { changes <- tmpl }, nil)
	}()

	updated := []byte("name: Updated\nsteps:\n  - title: Solo\n")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case tmpl := <-changes:
			if tmpl.Name != "Updated" {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep rewriting.
			if err := os.WriteFile(path, updated, 0o644); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for reload")
		}
	}
}

func TestWatchRequiresHandler(t *testing.T) {
	if err := Watch(context.Background(), "flow.yaml", nil, nil); err == nil {
		t.Fatalf("expected error without handler")
	}
}

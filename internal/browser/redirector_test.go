package browser

import (
	"context"
	"testing"
	"time"
)

func TestRedirectorUnreachableBrowser(t *testing.T) {
	r := NewRedirector("ws://127.0.0.1:1/devtools/browser/none")
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.Redirect(ctx, "T1", "http://127.0.0.1:8190/blocked?url=x"); err == nil {
		t.Fatal("Redirect() = nil error; want attach failure")
	}
	if got := r.TabCount(); got != 0 {
		t.Fatalf("TabCount() = %d; want 0 after failed attach", got)
	}
	r.Forget("T1")
}

package browser

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestLaunchArgs(t *testing.T) {
	args := launchArgs(LaunchConfig{
		CDPAddress: "127.0.0.1",
		CDPPort:    9220,
		ProfileDir: "/tmp/profile",
		StartURL:   "about:blank",
		ExtraArgs:  []string{"--headless=new"},
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--remote-debugging-port=9220",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=/tmp/profile",
		"--headless=new",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "about:blank" {
		t.Fatalf("last arg = %q; want start url", args[len(args)-1])
	}
}

func TestDetectBrowserOverrideMissing(t *testing.T) {
	if _, err := detectBrowser("/nonexistent/chromium-for-tests"); err == nil {
		t.Fatal("detectBrowser() = nil error for missing override")
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestLaunchSkipsWhenCDPAlreadyListening(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	host, port := splitHostPort(t, srv.Listener.Addr().String())

	l := NewLauncher(LaunchConfig{CDPAddress: host, CDPPort: port, BinaryPath: "/nonexistent/chromium-for-tests"})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.Running() {
		t.Fatal("Running() = true; want false when reusing an existing browser")
	}
	l.Stop()
}

func TestWaitForCDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/140"}`))
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.Listener.Addr().String())

	if err := waitForCDP(context.Background(), host, port, 2*time.Second); err != nil {
		t.Fatalf("waitForCDP() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := waitForCDP(ctx, "127.0.0.1", 1, time.Second); err == nil {
		t.Fatal("waitForCDP() = nil error on canceled context")
	}
}

func TestLauncherWaitWithoutProcess(t *testing.T) {
	l := NewLauncher(LaunchConfig{CDPAddress: "127.0.0.1", CDPPort: 1})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Wait(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() error = %v; want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrBrowserExited is returned by Wait when a launched browser process ends
// while the guard is still running.
var ErrBrowserExited = errors.New("launched browser exited")

// LaunchConfig holds browser launch configuration.
type LaunchConfig struct {
	CDPAddress string
	CDPPort    int
	ProfileDir string
	StartURL   string
	// BinaryPath overrides browser detection when set.
	BinaryPath  string
	ExtraArgs   []string
	ReadyWithin time.Duration
}

// Launcher owns a guarded browser process started with remote debugging
// enabled. A browser that was already listening is adopted, not owned.
type Launcher struct {
	cfg LaunchConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewLauncher(cfg LaunchConfig) *Launcher {
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	if cfg.ReadyWithin <= 0 {
		cfg.ReadyWithin = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser(override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("browser binary %q: %w", override, err)
		}
		return path, nil
	}
	candidates := []string{"chromium-browser", "chromium", "google-chrome"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func launchArgs(cfg LaunchConfig) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(cfg.CDPPort),
		"--remote-debugging-address=" + cfg.CDPAddress,
		"--user-data-dir=" + cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
	}
	args = append(args, cfg.ExtraArgs...)
	return append(args, cfg.StartURL)
}

// cdpListening checks whether the CDP port already accepts connections.
func cdpListening(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser unless something already listens on the CDP port.
func (l *Launcher) Launch(ctx context.Context) error {
	if cdpListening(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}

	browserPath, err := detectBrowser(l.cfg.BinaryPath)
	if err != nil {
		return err
	}
	slog.Info("detected browser", "path", browserPath)

	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(browserPath, launchArgs(l.cfg)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	exited := make(chan struct{})
	l.mu.Lock()
	l.cmd, l.exited = cmd, exited
	l.mu.Unlock()
	slog.Info("browser process started", "pid", cmd.Process.Pid, "profile_dir", l.cfg.ProfileDir)

	go func() {
		err := cmd.Wait()
		slog.Info("browser process exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()

	if err := waitForCDP(ctx, l.cfg.CDPAddress, l.cfg.CDPPort, l.cfg.ReadyWithin); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
	return nil
}

// waitForCDP polls /json/version until it answers 200.
func waitForCDP(ctx context.Context, address string, port int, within time.Duration) error {
	url := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(address, strconv.Itoa(port)))
	deadline := time.After(within)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", within, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser that is still alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	exited := l.exited
	l.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// Wait blocks until ctx is done or the launched browser exits. Without a
// launched process it only waits for ctx.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	exited := l.exited
	l.mu.Unlock()
	if exited == nil {
		<-ctx.Done()
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-exited:
		return ErrBrowserExited
	}
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
func (l *Launcher) Stop() {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()
	if cmd == nil || !l.Running() {
		return
	}
	slog.Info("stopping browser", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-exited
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/navguard/internal/classifier"
	"github.com/dgnsrekt/navguard/internal/config"
)

func writeBlocklist(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocklist.yaml")
	if err := os.WriteFile(path, []byte("domains:\n  - evil.example\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}
	return path
}

func TestBuildClassifierModes(t *testing.T) {
	blocklist := writeBlocklist(t)

	remote, err := buildClassifier(&config.Config{ClassifierMode: config.ModeRemote, ClassifierURL: "http://127.0.0.1:1/check-url"})
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if _, ok := remote.(*classifier.HTTP); !ok {
		t.Fatalf("remote classifier = %T; want *classifier.HTTP", remote)
	}

	static, err := buildClassifier(&config.Config{ClassifierMode: config.ModeStatic, BlocklistFile: blocklist})
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	v, err := static.Classify(context.Background(), "https://login.evil.example/")
	if err != nil || !v.Malicious {
		t.Fatalf("static verdict = %+v, %v; want malicious", v, err)
	}

	chain, err := buildClassifier(&config.Config{ClassifierMode: config.ModeChain, BlocklistFile: blocklist, ClassifierURL: "http://127.0.0.1:1/check-url"})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if c, ok := chain.(classifier.Chain); !ok || len(c) != 2 {
		t.Fatalf("chain classifier = %#v", chain)
	}
	// the blocklist answers before the unreachable remote is consulted
	if v, err := chain.Classify(context.Background(), "https://evil.example/"); err != nil || !v.Malicious {
		t.Fatalf("chain verdict = %+v, %v; want malicious", v, err)
	}
}

func TestBuildClassifierMissingBlocklist(t *testing.T) {
	_, err := buildClassifier(&config.Config{ClassifierMode: config.ModeStatic, BlocklistFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("buildClassifier() = nil error; want missing blocklist error")
	}
}

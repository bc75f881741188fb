package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.addr != "127.0.0.1:5000" {
		t.Fatalf("unexpected default addr %q", cfg.addr)
	}
	if cfg.seed == 0 {
		t.Fatalf("expected a clock seed")
	}
}

func TestParseFlagsRejectsZeroInterval(t *testing.T) {
	if _, err := parseFlags([]string{"-interval", "0s"}); err == nil {
		t.Fatalf("expected zero interval to fail")
	}
}

func TestRunServesUntilCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, simConfig{addr: addr, interval: 10 * time.Millisecond, camera: true, seed: 1}, zerolog.Nop())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/get_initial_state")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulator never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("simulator did not stop")
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/orion-pds/orion/internal/config"
)

func TestOptions(t *testing.T) {
	opts, err := Options(config.RedisConfig{
		URL:          "redis://:pw@cache.internal:6380/2",
		PoolSize:     7,
		MinIdleConns: 2,
		DialTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Options() error: %v", err)
	}
	if opts.Addr != "cache.internal:6380" {
		t.Errorf("Addr = %q, want cache.internal:6380", opts.Addr)
	}
	if opts.DB != 2 {
		t.Errorf("DB = %d, want 2", opts.DB)
	}
	if opts.Password != "pw" {
		t.Errorf("Password = %q, want pw", opts.Password)
	}
	if opts.PoolSize != 7 || opts.MinIdleConns != 2 {
		t.Errorf("pool = %d/%d, want 7/2", opts.PoolSize, opts.MinIdleConns)
	}
	if opts.DialTimeout != time.Second {
		t.Errorf("DialTimeout = %v, want 1s", opts.DialTimeout)
	}
}

func TestOptions_InvalidURL(t *testing.T) {
	if _, err := Options(config.RedisConfig{URL: "http://not-redis"}); err == nil {
		t.Error("Options() expected error for non-redis scheme")
	}
}

func TestConnect_Disabled(t *testing.T) {
	client, err := Connect(context.Background(), config.RedisConfig{})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if client != nil {
		t.Error("Connect() returned a client for empty URL")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Error("Connect() expected error for unreachable server")
	}
}

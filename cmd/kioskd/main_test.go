package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmerrifield20/kiosktrust/internal/platform/redisclient"
)

var unreachableRedis = redisclient.Config{
	URL:         "redis://127.0.0.1:1/0",
	DialTimeout: 50 * time.Millisecond,
}

func TestConnectRedis_unreachableFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	rdb, err := connectRedis(context.Background(), unreachableRedis, false, zap.New(core))
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if rdb != nil {
		t.Fatal("expected no client")
	}
	if logs.FilterMessage("redis unreachable, falling back to in-process stores").Len() != 1 {
		t.Errorf("expected one fallback warning, got %v", logs.All())
	}
}

func TestConnectRedis_unreachableRequired(t *testing.T) {
	if _, err := connectRedis(context.Background(), unreachableRedis, true, zap.NewNop()); err == nil {
		t.Error("expected an error when redis.required is set")
	}
}

func TestConnectRedis_invalidURL(t *testing.T) {
	_, err := connectRedis(context.Background(), redisclient.Config{URL: "http://nope"}, false, zap.NewNop())
	if !errors.Is(err, redisclient.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestConnectRedis_notConfigured(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rdb, err := connectRedis(context.Background(), redisclient.Config{}, true, zap.New(core))
	if rdb != nil || err != nil {
		t.Errorf("got %v, %v; want nil, nil", rdb, err)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected warnings %v", logs.All())
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"http://a", " * "}) {
		t.Error("expected wildcard")
	}
	if containsWildcard([]string{"http://a"}) {
		t.Error("unexpected wildcard")
	}
}

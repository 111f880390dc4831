package redisclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/kiosktrust/internal/platform/redisclient"
)

func TestNew_emptyURL(t *testing.T) {
	c, err := redisclient.New(context.Background(), redisclient.Config{})
	if err != nil || c != nil {
		t.Errorf("New with empty URL = %v, %v; want nil, nil", c, err)
	}
}

func TestNew_badURL(t *testing.T) {
	if _, err := redisclient.New(context.Background(), redisclient.Config{URL: "http://nope"}); !errors.Is(err, redisclient.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL for non-redis scheme, got %v", err)
	}
}

func TestNew_unreachable(t *testing.T) {
	_, err := redisclient.New(context.Background(), redisclient.Config{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 50 * time.Millisecond,
	})
	if err == nil || errors.Is(err, redisclient.ErrInvalidURL) {
		t.Errorf("expected ping failure for unreachable server, got %v", err)
	}
}

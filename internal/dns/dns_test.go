package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubResolver(fn func(ctx context.Context, host, server string) ([]string, error)) *Resolver {
	r := NewResolver()
	r.Servers = []string{"a", "b", "c"}
	r.LocalTimeout = 100 * time.Millisecond
	r.RemoteTimeout = 200 * time.Millisecond
	r.lookup = fn
	return r
}

func TestLookup_IPLiteral(t *testing.T) {
	var calls atomic.Int32
	r := stubResolver(func(context.Context, string, string) ([]string, error) {
		calls.Add(1)
		return nil, errors.New("unexpected")
	})

	for _, host := range []string{"127.0.0.1", "::1"} {
		ip, err := r.Lookup(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, host, ip)
	}
	assert.Zero(t, calls.Load())
}

func TestLookup_LocalPrefersIPv4(t *testing.T) {
	r := stubResolver(func(_ context.Context, _ string, server string) ([]string, error) {
		require.Empty(t, server, "fallback used although local lookup succeeded")
		return []string{"2001:db8::1", "192.0.2.7"}, nil
	})

	ip, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", ip)
}

func TestLookup_FallsBackToPublicServers(t *testing.T) {
	r := stubResolver(func(_ context.Context, _ string, server string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("no such host")
		case "b":
			return []string{"2001:db8::2"}, nil
		default:
			return nil, errors.New("refused")
		}
	})

	ip, err := r.Lookup(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::2", ip)
}

func TestLookup_AllFail(t *testing.T) {
	r := stubResolver(func(context.Context, string, string) ([]string, error) {
		return nil, nil
	})

	_, err := r.Lookup(context.Background(), "relay.example.com")
	assert.ErrorContains(t, err, "all 3 public DNS servers failed")
}

func TestLookup_RaceTimesOut(t *testing.T) {
	r := stubResolver(func(ctx context.Context, _ string, server string) ([]string, error) {
		if server == "" {
			return nil, errors.New("no such host")
		}
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	})

	_, err := r.Lookup(context.Background(), "relay.example.com")
	assert.ErrorContains(t, err, "timed out")
}

func TestLookup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := stubResolver(func(ctx context.Context, _ string, server string) ([]string, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := r.Lookup(ctx, "relay.example.com")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	r := stubResolver(func(context.Context, string, string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	})
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("relay.example.com", port))
	require.NoError(t, err)
	conn.Close()

	_, err = r.DialContext(context.Background(), "tcp", "missing-port")
	assert.Error(t, err)
}

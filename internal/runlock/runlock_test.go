package runlock

import (
	"context"
	"testing"
)

func TestOpen_EmptyURLIsNop(t *testing.T) {
	l, err := Open(context.Background(), "", "quotedesk:stage")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := l.(Nop); !ok {
		t.Fatalf("Open(\"\") = %T, want Nop", l)
	}
	if err := l.Lock(context.Background()); err != nil {
		t.Errorf("Lock() error = %v", err)
	}
	if err := l.Unlock(context.Background()); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestOpen_BadURL(t *testing.T) {
	if _, err := Open(context.Background(), "not a url", "quotedesk:stage"); err == nil {
		t.Fatal("Open() expected error for malformed url")
	}
}

func TestNewRedis_DistinctTokens(t *testing.T) {
	a := NewRedis(nil, "k", DefaultTTL)
	b := NewRedis(nil, "k", DefaultTTL)
	if a.token == "" || a.token == b.token {
		t.Errorf("tokens = %q, %q; want distinct non-empty", a.token, b.token)
	}
}

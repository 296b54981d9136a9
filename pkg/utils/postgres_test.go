package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 4 || got.MaxIdleConns != 2 || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", got)
	}

	custom := PostgresPoolConfig{MaxOpenConns: 10, PingTimeout: time.Second}.withDefaults()
	if custom.MaxOpenConns != 10 || custom.PingTimeout != time.Second {
		t.Fatalf("explicit values must be kept, got %+v", custom)
	}
}

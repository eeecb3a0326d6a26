package app

import (
	"errors"
	"testing"
)

func TestDBPoolConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		url     string
		max     int32
		min     int32
		wantMax int32
		wantMin int32
	}{
		{"explicit", "postgres://u:p@localhost:5432/docrelay", 8, 1, 8, 1},
		{"max below listen floor", "postgres://u:p@localhost:5432/docrelay", 1, 0, 2, 0},
		{"min clamped to max", "postgres://u:p@localhost:5432/docrelay", 3, 9, 3, 3},
		{"pool size from url", "postgres://u:p@localhost:5432/docrelay?pool_max_conns=5", 0, 0, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pcfg, err := dbPoolConfig(Config{DatabaseURL: tc.url, DBMaxConns: tc.max, DBMinConns: tc.min})
			if err != nil {
				t.Fatalf("dbPoolConfig: %v", err)
			}
			if pcfg.MaxConns != tc.wantMax || pcfg.MinConns != tc.wantMin {
				t.Fatalf("max=%d min=%d want %d/%d", pcfg.MaxConns, pcfg.MinConns, tc.wantMax, tc.wantMin)
			}
			if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != "docrelay" {
				t.Fatalf("application_name=%q", got)
			}
			if pcfg.ConnConfig.ConnectTimeout != dbConnectTimeout {
				t.Fatalf("connect timeout=%s", pcfg.ConnConfig.ConnectTimeout)
			}
		})
	}
}

func TestDBPoolConfig_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := dbPoolConfig(Config{DatabaseURL: "postgres://%zz"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"poolescrow/crypto"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesEscrowSection(t *testing.T) {
	alice := crypto.AccountAddress(crypto.DeriveAccount("alice")).String()
	path := writeConfig(t, `DataDir = "/var/lib/escrow"
JournalDSN = "journal.db"

[Log]
Level = "debug"

[RPC]
ListenAddress = "127.0.0.1:9000"
RateLimit = 5.0
JWTSecret = "s3cret"
AllowedOrigins = ["wallet.example.org"]

[Telemetry]
Enabled = true
Headers = "api-key=abc"
SampleRatio = 0.5

[Escrow]
FundingLimit = "20000000000000000000000000"
ExpiresAt = 2030-01-02T03:04:05Z
MetadataURL = "ipfs://pool"

[[Genesis]]
Account = "`+alice+`"
Amount = "1000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/escrow" || cfg.Service.Name != DefaultServiceName {
		t.Fatalf("unexpected top-level settings: %+v", cfg)
	}
	rpc := cfg.RPC
	if rpc.ListenAddress != "127.0.0.1:9000" || rpc.RateLimit != 5.0 || rpc.Burst != DefaultRateBurst {
		t.Fatalf("unexpected rpc settings: %+v", rpc)
	}
	if rpc.JWTSecret != "s3cret" || len(rpc.AllowedOrigins) != 1 || rpc.AllowedOrigins[0] != "wallet.example.org" {
		t.Fatalf("unexpected rpc auth settings: %+v", rpc)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.SampleRatio != 0.5 {
		t.Fatalf("unexpected telemetry settings: %+v", cfg.Telemetry)
	}

	params, err := cfg.EscrowParams()
	if err != nil {
		t.Fatalf("escrow params: %v", err)
	}
	if params.FundingLimit.Dec() != "20000000000000000000000000" {
		t.Fatalf("funding limit = %s", params.FundingLimit.Dec())
	}
	if want := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC).Unix(); params.ExpiresAt != want {
		t.Fatalf("expires at = %d, want %d", params.ExpiresAt, want)
	}
	if params.Self != crypto.DeriveAccount("escrow") || params.MetadataURL != "ipfs://pool" {
		t.Fatalf("unexpected escrow identity: %+v", params)
	}

	allocs, err := cfg.Allocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Account != crypto.DeriveAccount("alice") || allocs[0].Amount.Uint64() != 1000 {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "escrowd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Escrow.FundingLimit != DefaultFundingLimit || cfg.RPC.StreamBuffer != DefaultStreamBuffer {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Telemetry.Enabled {
		t.Fatalf("telemetry enabled by default")
	}
	if cfg.Escrow.ExpiresAt.IsZero() {
		t.Fatalf("default expiry not set")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !cfg.Escrow.ExpiresAt.Equal(reloaded.Escrow.ExpiresAt) {
		t.Fatalf("persisted expiry changed: %s != %s", cfg.Escrow.ExpiresAt, reloaded.Escrow.ExpiresAt)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"low limit": {
			body: "[Escrow]\nFundingLimit = \"1\"\nExpiresAt = 2030-01-01T00:00:00Z\n",
			want: "below token reserve",
		},
		"bad amount": {
			body: "[Escrow]\nFundingLimit = \"ten\"\nExpiresAt = 2030-01-01T00:00:00Z\n",
			want: "invalid amount",
		},
		"missing expiry": {
			body: "DataDir = \"x\"\n",
			want: "expires_at required",
		},
		"unknown key": {
			body: "Bogus = 1\n",
			want: "unknown key",
		},
		"bad sample ratio": {
			body: "[Telemetry]\nSampleRatio = 1.5\n[Escrow]\nExpiresAt = 2030-01-01T00:00:00Z\n",
			want: "sample_ratio",
		},
		"bad level": {
			body: "[Log]\nLevel = \"loud\"\n[Escrow]\nExpiresAt = 2030-01-01T00:00:00Z\n",
			want: "unknown level",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

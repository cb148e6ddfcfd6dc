package config

import (
	"fmt"

	"poolescrow/native/escrow"
	"poolescrow/observability/logging"
)

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc: rate_limit < 0")
	}
	if c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: burst < 0")
	}
	if c.RPC.StreamBuffer < 0 {
		return fmt.Errorf("rpc: stream_buffer < 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	if c.Escrow.ExpiresAt.IsZero() {
		return fmt.Errorf("escrow: expires_at required")
	}
	params, err := c.EscrowParams()
	if err != nil {
		return err
	}
	if params.FundingLimit.Lt(escrow.TokenReserve()) {
		return fmt.Errorf("escrow: funding limit %s below token reserve %s", params.FundingLimit.Dec(), escrow.TokenReserve().Dec())
	}
	if params.Self == params.DAOFactory || params.Self == params.TokenFactory || params.DAOFactory == params.TokenFactory {
		return fmt.Errorf("escrow: escrow and factory accounts must differ")
	}
	if _, err := c.Allocations(); err != nil {
		return err
	}
	return nil
}

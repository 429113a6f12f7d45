package decision

import (
	"fmt"
	"time"
)

// Config holds the decision thresholds.
type Config struct {
	// AutoApplyThreshold is the minimum confidence applied without review.
	AutoApplyThreshold float64 `koanf:"auto_apply_threshold"`

	// ProposalThreshold is the minimum confidence that creates a proposal.
	ProposalThreshold float64 `koanf:"proposal_threshold"`

	// ProposalTTL is how long a proposal stays PENDING.
	ProposalTTL time.Duration `koanf:"proposal_ttl"`

	// SweepBatchSize caps proposals expired per store round trip.
	SweepBatchSize int `koanf:"sweep_batch_size"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold: 0.85,
		ProposalThreshold:  0.50,
		ProposalTTL:        7 * 24 * time.Hour,
		SweepBatchSize:     500,
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	if c.AutoApplyThreshold <= 0 || c.AutoApplyThreshold > 1 {
		return fmt.Errorf("auto_apply_threshold must be in (0,1], got %v", c.AutoApplyThreshold)
	}
	if c.ProposalThreshold <= 0 || c.ProposalThreshold > c.AutoApplyThreshold {
		return fmt.Errorf("proposal_threshold must be in (0,auto_apply_threshold], got %v", c.ProposalThreshold)
	}
	if c.ProposalTTL <= 0 {
		return fmt.Errorf("proposal_ttl must be positive, got %s", c.ProposalTTL)
	}
	if c.SweepBatchSize < 0 {
		return fmt.Errorf("sweep_batch_size must not be negative, got %d", c.SweepBatchSize)
	}
	return nil
}

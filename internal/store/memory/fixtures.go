package memory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// ReadFixtures decodes a JSON file holding an array of market snapshots.
func ReadFixtures(path string) ([]domain.MarketSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read fixtures %s: %w", path, err)
	}
	var snaps []domain.MarketSnapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("memory: decode fixtures %s: %w", path, err)
	}
	for _, snap := range snaps {
		if err := validateSnapshot(snap); err != nil {
			return nil, fmt.Errorf("memory: fixtures %s: %w", path, err)
		}
	}
	return snaps, nil
}

// validateSnapshot rejects bets the bets table would refuse.
func validateSnapshot(snap domain.MarketSnapshot) error {
	for _, b := range snap.Bets {
		if !b.Stake.IsPositive() {
			return fmt.Errorf("market %s bet %s stake %s: %w", snap.Market.ID, b.ID, b.Stake, domain.ErrInvalidStake)
		}
	}
	return nil
}

// LoadFixtures seeds s from a fixtures file and returns the number of markets
// loaded. Nothing is seeded when any bet in the file is invalid.
func (s *SettlementStore) LoadFixtures(path string) (int, error) {
	snaps, err := ReadFixtures(path)
	if err != nil {
		return 0, err
	}
	for _, snap := range snaps {
		if err := s.Seed(snap); err != nil {
			return 0, err
		}
	}
	return len(snaps), nil
}

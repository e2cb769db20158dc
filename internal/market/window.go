package market

import (
	"context"
	"time"
)

// MultiAssetWindow is a snapshot of combined OHLCV+macro rows for a set
// of assets, the shape strategies' Analyze receives.
type MultiAssetWindow struct {
	Assets map[string][]CombinedBar
}

// GetWindow pulls a `days`-long combined window for every asset.
func (s *Store) GetWindow(ctx context.Context, assets []string, days int) (MultiAssetWindow, error) {
	w := MultiAssetWindow{Assets: make(map[string][]CombinedBar, len(assets))}
	for _, asset := range assets {
		rows, err := s.GetCombined(ctx, asset, days)
		if err != nil {
			return w, err
		}
		w.Assets[asset] = rows
	}
	return w, nil
}

// GetWindowAsOf pulls the point-in-time combined window for every asset:
// bars with timestamp <= asOf, trimmed to the trailing `days`. The
// backtest engine uses this to step through history without lookahead.
func (s *Store) GetWindowAsOf(ctx context.Context, assets []string, asOf time.Time, days int) (MultiAssetWindow, error) {
	w := MultiAssetWindow{Assets: make(map[string][]CombinedBar, len(assets))}
	for _, asset := range assets {
		rows, err := s.GetCombinedAsOf(ctx, asset, asOf, days)
		if err != nil {
			return w, err
		}
		w.Assets[asset] = rows
	}
	return w, nil
}

package vault

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bitfsorg/libpdv-go/ledger"
)

// VerifyLedgers verifies the three chains concurrently. roleID selects the
// role whose valid signatures are counted in each report.
func (v *Vault) VerifyLedgers(ctx context.Context, roleID uuid.UUID) (map[ledger.Category]*ledger.Report, error) {
	var (
		mu      sync.Mutex
		reports = make(map[ledger.Category]*ledger.Report, len(ledger.Categories))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range ledger.Categories {
		g.Go(func() error {
			r, err := v.Ledger.Verify(gctx, cat, roleID, v.Store.Roles())
			if err != nil {
				return err
			}
			mu.Lock()
			reports[cat] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// LedgerEntries returns one chain in chain order.
func (v *Vault) LedgerEntries(ctx context.Context, cat ledger.Category) ([]*ledger.Entry, error) {
	return v.Ledger.Entries(ctx, cat)
}

package wallet

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the committed balance of a wallet held by the in-memory repository.
func SeedBalance(repo Repository, walletID string, amount decimal.Decimal) {
	if mem, ok := repo.(*MemoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.byID[walletID]
		w.Balance = amount
		mem.byID[walletID] = w
	}
}

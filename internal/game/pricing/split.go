package pricing

import "github.com/shopspring/decimal"

// Split is the division of a settled pool between the winner and the next round.
type Split struct {
	Pool     decimal.Decimal
	Winner   decimal.Decimal
	Rollover decimal.Decimal
}

// SplitPool divides pool using winnerRatio.
// The winner share is rounded to cents and the rollover takes the remainder,
// so rounding dust always stays in the game and Winner+Rollover == Pool.
func SplitPool(pool, winnerRatio decimal.Decimal) Split {
	winner := pool.Mul(winnerRatio).Round(2)
	return Split{
		Pool:     pool,
		Winner:   winner,
		Rollover: pool.Sub(winner),
	}
}

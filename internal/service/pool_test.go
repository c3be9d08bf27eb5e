package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"riddle-pool-bot/internal/repository"
)

func openPool(t require.TestingT, store *fakeRoundStore, acc *PoolAccumulator, seed decimal.Decimal) int64 {
	var roundID int64
	err := store.InTx(context.Background(), func(tx repository.Tx) error {
		rd, err := tx.OpenRound(context.Background(), repository.NewRound{SourceKey: "k", Prompt: "p", OpenedAt: time.Now()})
		if err != nil {
			return err
		}
		roundID = rd.ID
		_, err = acc.Open(context.Background(), tx, rd.ID, seed)
		return err
	})
	require.NoError(t, err)
	return roundID
}

func TestPoolAccumulator_OpenAndRead(t *testing.T) {
	store := newFakeRoundStore()
	acc := NewPoolAccumulator(store, dec("20.00"), dec("0.80"))
	ctx := context.Background()

	roundID := openPool(t, store, acc, dec("4.26"))
	total, err := acc.Read(ctx, roundID)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("4.26")))

	p := store.pool(roundID)
	assert.True(t, p.BaseAmount.Equal(p.PoolAmount))

	// Missing pool reports the base prize pool
	total, err = acc.Read(ctx, 999)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("20.00")))
}

func TestPoolAccumulator_OpenRejectsNegativeSeed(t *testing.T) {
	store := newFakeRoundStore()
	acc := NewPoolAccumulator(store, dec("20.00"), dec("0.80"))

	err := store.InTx(context.Background(), func(tx repository.Tx) error {
		_, err := acc.Open(context.Background(), tx, 1, dec("-0.01"))
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPoolAccumulator_CreditRejectsNonPositive(t *testing.T) {
	store := newFakeRoundStore()
	acc := NewPoolAccumulator(store, dec("20.00"), dec("0.80"))
	roundID := openPool(t, store, acc, dec("20.00"))

	for _, amount := range []string{"0", "-0.50"} {
		err := store.InTx(context.Background(), func(tx repository.Tx) error {
			_, err := acc.Credit(context.Background(), tx, roundID, dec(amount))
			return err
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.True(t, store.pool(roundID).PoolAmount.Equal(dec("20.00")))
}

func TestPoolAccumulator_SettleFreezesPool(t *testing.T) {
	store := newFakeRoundStore()
	acc := NewPoolAccumulator(store, dec("20.00"), dec("0.80"))
	ctx := context.Background()
	roundID := openPool(t, store, acc, dec("21.32"))

	err := store.InTx(ctx, func(tx repository.Tx) error {
		split, err := acc.Settle(ctx, tx, roundID, 7, time.Now())
		if err != nil {
			return err
		}
		assert.True(t, split.Winner.Equal(dec("17.06")))
		assert.True(t, split.Rollover.Equal(dec("4.26")))
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx repository.Tx) error {
		_, err := acc.Credit(ctx, tx, roundID, dec("0.50"))
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	err = store.InTx(ctx, func(tx repository.Tx) error {
		_, err := acc.Settle(ctx, tx, roundID, 8, time.Now())
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	p := store.pool(roundID)
	require.NotNil(t, p.WinnerPlayerID)
	assert.Equal(t, int64(7), *p.WinnerPlayerID)
	assert.True(t, p.PoolAmount.Equal(dec("21.32")))
}

// TestPoolAccumulationProperty tests that the pool always equals the seed plus
// every credited amount, and that the settlement split conserves it exactly.
func TestPoolAccumulationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seedCents := rapid.Int64Range(0, 1000000).Draw(t, "seedCents")
		credits := rapid.SliceOfN(rapid.Int64Range(1, 10000), 1, 200).Draw(t, "creditCents")

		store := newFakeRoundStore()
		acc := NewPoolAccumulator(store, dec("20.00"), dec("0.80"))
		ctx := context.Background()
		seed := decimal.New(seedCents, -2)
		roundID := openPool(t, store, acc, seed)

		expected := seed
		for _, c := range credits {
			amount := decimal.New(c, -2)
			expected = expected.Add(amount)
			err := store.InTx(ctx, func(tx repository.Tx) error {
				_, err := acc.Credit(ctx, tx, roundID, amount)
				return err
			})
			if err != nil {
				t.Fatalf("credit failed: %v", err)
			}
		}

		total, err := acc.Read(ctx, roundID)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !total.Equal(expected) {
			t.Fatalf("pool %s, expected %s", total, expected)
		}
		if total.LessThan(seed) {
			t.Fatalf("pool %s fell below base %s", total, seed)
		}

		err = store.InTx(ctx, func(tx repository.Tx) error {
			split, err := acc.Settle(ctx, tx, roundID, 1, time.Now())
			if err != nil {
				return err
			}
			if !split.Winner.Add(split.Rollover).Equal(total) {
				t.Fatalf("split %s + %s != %s", split.Winner, split.Rollover, total)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("settle failed: %v", err)
		}
	})
}

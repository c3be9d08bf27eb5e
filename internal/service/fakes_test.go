package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/payment"
	"riddle-pool-bot/internal/repository"
)

// ============================================================================
// In-memory round store
// ============================================================================

// fakeRoundStore serializes transactions behind one mutex and restores a
// snapshot when a transaction fails, which is enough to model row locks and
// rollback for the engine.
type fakeRoundStore struct {
	mu       sync.Mutex
	nextID   int64
	rounds   map[int64]model.Round
	pools    map[int64]model.PrizePool
	attempts []model.Attempt
	refs     map[uuid.UUID]struct{}

	failInsertAttempt error
	failRecordPayout  error
	// missLocks makes the next LockActiveRound calls find nothing, as when
	// the locked row was settled by a transaction that committed meanwhile.
	missLocks int
	lockCalls int
}

func newFakeRoundStore() *fakeRoundStore {
	return &fakeRoundStore{
		rounds: make(map[int64]model.Round),
		pools:  make(map[int64]model.PrizePool),
		refs:   make(map[uuid.UUID]struct{}),
	}
}

// Attempts are append-only, so a snapshot only needs their count.
type fakeSnapshot struct {
	nextID      int64
	rounds      map[int64]model.Round
	pools       map[int64]model.PrizePool
	numAttempts int
}

func (s *fakeRoundStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		nextID:      s.nextID,
		rounds:      make(map[int64]model.Round, len(s.rounds)),
		pools:       make(map[int64]model.PrizePool, len(s.pools)),
		numAttempts: len(s.attempts),
	}
	for k, v := range s.rounds {
		snap.rounds[k] = v
	}
	for k, v := range s.pools {
		snap.pools[k] = v
	}
	return snap
}

func (s *fakeRoundStore) restore(snap fakeSnapshot) {
	s.nextID = snap.nextID
	s.rounds = snap.rounds
	s.pools = snap.pools
	for _, a := range s.attempts[snap.numAttempts:] {
		delete(s.refs, a.ChargeRef)
	}
	s.attempts = s.attempts[:snap.numAttempts]
}

func (s *fakeRoundStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	// pgx refuses to begin on a canceled context
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&fakeTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeRoundStore) activeLocked() (*model.Round, error) {
	for _, rd := range s.rounds {
		if rd.Status == model.RoundActive {
			rd := rd
			return &rd, nil
		}
	}
	return nil, repository.ErrNoActiveRound
}

func (s *fakeRoundStore) ActiveRound(ctx context.Context) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *fakeRoundStore) RoundByID(ctx context.Context, id int64) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rd, ok := s.rounds[id]
	if !ok {
		return nil, repository.ErrRoundNotFound
	}
	return &rd, nil
}

func (s *fakeRoundStore) PoolByRound(ctx context.Context, roundID int64) (*model.PrizePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[roundID]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	return &p, nil
}

func (s *fakeRoundStore) LastSourceKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last model.Round
	for _, rd := range s.rounds {
		if rd.ID > last.ID {
			last = rd
		}
	}
	return last.SourceKey, nil
}

func (s *fakeRoundStore) CountAttempts(ctx context.Context, roundID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.attempts {
		if a.RoundID == roundID {
			n++
		}
	}
	return n, nil
}

func (s *fakeRoundStore) RecordPayout(ctx context.Context, roundID int64, status model.PayoutStatus, reason *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecordPayout != nil {
		return s.failRecordPayout
	}
	p, ok := s.pools[roundID]
	if !ok || !p.Settled() {
		return repository.ErrPoolNotFound
	}
	p.PayoutStatus = status
	p.PaidOut = status == model.PayoutSucceeded
	p.PayoutError = reason
	s.pools[roundID] = p
	return nil
}

func (s *fakeRoundStore) UnpaidPools(ctx context.Context, limit int) ([]*model.PrizePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PrizePool
	for _, p := range s.pools {
		if p.PayoutStatus == model.PayoutPending || p.PayoutStatus == model.PayoutFailed {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundID < out[j].RoundID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Test helpers

func (s *fakeRoundStore) pool(roundID int64) model.PrizePool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools[roundID]
}

func (s *fakeRoundStore) round(roundID int64) model.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[roundID]
}

func (s *fakeRoundStore) allAttempts() []model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Attempt(nil), s.attempts...)
}

func (s *fakeRoundStore) missNextLocks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missLocks = n
	s.lockCalls = 0
}

func (s *fakeRoundStore) lockCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockCalls
}

func (s *fakeRoundStore) roundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rounds)
}

func (s *fakeRoundStore) settledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rd := range s.rounds {
		if rd.Status == model.RoundSettled {
			n++
		}
	}
	return n
}

// fakeTx runs with the store mutex already held by InTx.
type fakeTx struct {
	s *fakeRoundStore
}

func (t *fakeTx) LockActiveRound(ctx context.Context) (*model.Round, error) {
	t.s.lockCalls++
	if t.s.missLocks > 0 {
		t.s.missLocks--
		return nil, repository.ErrNoActiveRound
	}
	return t.s.activeLocked()
}

func (t *fakeTx) LockPool(ctx context.Context, roundID int64) (*model.PrizePool, error) {
	p, ok := t.s.pools[roundID]
	if !ok {
		return nil, repository.ErrPoolNotFound
	}
	return &p, nil
}

func (t *fakeTx) OpenRound(ctx context.Context, nr repository.NewRound) (*model.Round, error) {
	if _, err := t.s.activeLocked(); err == nil {
		return nil, repository.ErrRoundConflict
	}
	t.s.nextID++
	rd := model.Round{
		ID:               t.s.nextID,
		SourceKey:        nr.SourceKey,
		Prompt:           nr.Prompt,
		AnswerCommitment: nr.AnswerCommitment,
		Status:           model.RoundActive,
		OpenedAt:         nr.OpenedAt,
	}
	t.s.rounds[rd.ID] = rd
	return &rd, nil
}

func (t *fakeTx) CreatePool(ctx context.Context, roundID int64, seed decimal.Decimal) (*model.PrizePool, error) {
	t.s.nextID++
	p := model.PrizePool{
		ID:           t.s.nextID,
		RoundID:      roundID,
		PoolAmount:   seed,
		BaseAmount:   seed,
		PayoutStatus: model.PayoutNone,
	}
	t.s.pools[roundID] = p
	return &p, nil
}

func (t *fakeTx) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	if t.s.failInsertAttempt != nil {
		return t.s.failInsertAttempt
	}
	if _, dup := t.s.refs[a.ChargeRef]; dup {
		return errDuplicateChargeRef
	}
	t.s.refs[a.ChargeRef] = struct{}{}
	t.s.nextID++
	a.ID = t.s.nextID
	t.s.attempts = append(t.s.attempts, *a)
	return nil
}

func (t *fakeTx) CreditPool(ctx context.Context, roundID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	p, ok := t.s.pools[roundID]
	if !ok {
		return decimal.Zero, repository.ErrPoolNotFound
	}
	if p.Settled() {
		return decimal.Zero, repository.ErrPoolSettled
	}
	next := p.PoolAmount.Add(amount)
	if next.LessThan(p.BaseAmount) {
		return decimal.Zero, errBelowBase
	}
	p.PoolAmount = next
	t.s.pools[roundID] = p
	return next, nil
}

func (t *fakeTx) SettlePool(ctx context.Context, roundID int64, st model.Settlement) error {
	p, ok := t.s.pools[roundID]
	if !ok {
		return repository.ErrPoolNotFound
	}
	if p.Settled() {
		return repository.ErrPoolSettled
	}
	at := st.SettledAt
	winner := st.WinnerPlayerID
	p.WinnerPlayerID = &winner
	p.WinnerShare = decimal.NewNullDecimal(st.WinnerShare)
	p.RolloverShare = decimal.NewNullDecimal(st.RolloverShare)
	p.SettledAt = &at
	p.PayoutStatus = model.PayoutPending
	t.s.pools[roundID] = p
	return nil
}

func (t *fakeTx) CloseRound(ctx context.Context, roundID int64, closedAt time.Time) error {
	rd, ok := t.s.rounds[roundID]
	if !ok || rd.Status != model.RoundActive {
		return repository.ErrNoActiveRound
	}
	rd.Status = model.RoundSettled
	rd.ClosedAt = &closedAt
	t.s.rounds[roundID] = rd
	return nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const (
	errDuplicateChargeRef = fakeError("duplicate charge_ref")
	errBelowBase          = fakeError("pool below base")
)

// ============================================================================
// In-memory player store
// ============================================================================

type fakePlayerStore struct {
	mu      sync.Mutex
	nextID  int64
	players map[int64]*model.Player // by telegram id
}

func newFakePlayerStore() *fakePlayerStore {
	return &fakePlayerStore{players: make(map[int64]*model.Player)}
}

// add registers a connected player and returns a copy.
func (s *fakePlayerStore) add(telegramID int64, token, walletID string) model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := &model.Player{ID: s.nextID, TelegramID: telegramID, Username: "player"}
	if token != "" {
		p.AccessToken = &token
	}
	if walletID != "" {
		p.WalletID = &walletID
	}
	s.players[telegramID] = p
	return *p
}

// get returns a copy of the stored player.
func (s *fakePlayerStore) get(telegramID int64) *model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.players[telegramID]
	return &cp
}

func (s *fakePlayerStore) GetByTelegramID(ctx context.Context, telegramID int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[telegramID]
	if !ok {
		return nil, repository.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePlayerStore) GetByID(ctx context.Context, id int64) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPlayerNotFound
}

func (s *fakePlayerStore) GetOrCreate(ctx context.Context, telegramID int64, username string) (*model.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[telegramID]; ok {
		cp := *p
		return &cp, false, nil
	}
	s.nextID++
	p := &model.Player{ID: s.nextID, TelegramID: telegramID, Username: username}
	s.players[telegramID] = p
	cp := *p
	return &cp, true, nil
}

func (s *fakePlayerStore) Connect(ctx context.Context, telegramID int64, accessToken, walletID string, expiresAt *time.Time) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[telegramID]
	if !ok {
		s.nextID++
		p = &model.Player{ID: s.nextID, TelegramID: telegramID}
		s.players[telegramID] = p
	}
	p.AccessToken = &accessToken
	if walletID != "" {
		p.WalletID = &walletID
	}
	p.TokenExpiresAt = expiresAt
	cp := *p
	return &cp, nil
}

func (s *fakePlayerStore) SetWalletID(ctx context.Context, playerID int64, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.ID == playerID {
			p.WalletID = &walletID
			return nil
		}
	}
	return repository.ErrPlayerNotFound
}

func (s *fakePlayerStore) ClearCredential(ctx context.Context, playerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.ID == playerID {
			p.AccessToken = nil
			p.TokenExpiresAt = nil
			return nil
		}
	}
	return repository.ErrPlayerNotFound
}

// ============================================================================
// Payment providers
// ============================================================================

// mockProvider is a testify mock of payment.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Charge(ctx context.Context, req payment.ChargeRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockProvider) Payout(ctx context.Context, req payment.PayoutRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockProvider) Balance(ctx context.Context, acct payment.Account) (*payment.Balance, error) {
	args := m.Called(ctx, acct)
	bal, _ := args.Get(0).(*payment.Balance)
	return bal, args.Error(1)
}

func (m *mockProvider) Validate(ctx context.Context, acct payment.Account) error {
	return m.Called(ctx, acct).Error(0)
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*payment.Credential, error) {
	args := m.Called(ctx, code)
	cred, _ := args.Get(0).(*payment.Credential)
	return cred, args.Error(1)
}

// countingProvider accepts every call. Used where call volume makes mock
// bookkeeping the bottleneck.
type countingProvider struct {
	charges atomic.Int64
	payouts atomic.Int64
	refs    sync.Map // uuid.UUID -> struct{}
}

func (p *countingProvider) Charge(ctx context.Context, req payment.ChargeRequest) error {
	p.charges.Add(1)
	p.refs.Store(req.Reference, struct{}{})
	return nil
}

func (p *countingProvider) Payout(ctx context.Context, req payment.PayoutRequest) error {
	p.payouts.Add(1)
	return nil
}

func (p *countingProvider) Balance(ctx context.Context, acct payment.Account) (*payment.Balance, error) {
	return &payment.Balance{Raw: "0", WalletID: acct.WalletID}, nil
}

func (p *countingProvider) Validate(ctx context.Context, acct payment.Account) error { return nil }

func (p *countingProvider) ExchangeCode(ctx context.Context, code string) (*payment.Credential, error) {
	return &payment.Credential{AccessToken: "tok-" + code}, nil
}

func (p *countingProvider) seen(ref uuid.UUID) bool {
	_, ok := p.refs.Load(ref)
	return ok
}

// ============================================================================
// Clock
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

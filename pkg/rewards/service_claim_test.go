package rewards

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClaimCreditsDefaultRewardForNewUser(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 1001)

	result, err := service.Claim(context.Background(), userID, nil, nil)
	if err != nil {
		test.Fatalf("claim: %v", err)
	}
	if got := result.Balance.String(); got != "0.003" {
		test.Fatalf("expected balance 0.003, got %s", got)
	}
	if got := len(store.rewardLogs); got != 1 {
		test.Fatalf("expected 1 reward log row, got %d", got)
	}
	if store.rewardLogs[0].userID != userID.Int64() {
		test.Fatalf("reward log recorded for wrong user: %d", store.rewardLogs[0].userID)
	}
}

func TestClaimUsesClientAmountWhenNoAdGiven(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 1002)
	amount := mustAmount(test, "0.005")

	result, err := service.Claim(context.Background(), userID, &amount, nil)
	if err != nil {
		test.Fatalf("claim: %v", err)
	}
	if got := result.Balance.String(); got != "0.005" {
		test.Fatalf("expected balance 0.005, got %s", got)
	}
}

func TestClaimPrefersCatalogRewardOverClientAmount(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	adID := store.seedAd(test, "intro", "https://cdn.example/intro.mp4", "0.01", 16)
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 1003)
	inflated := mustAmount(test, "99")

	result, err := service.Claim(context.Background(), userID, &inflated, &adID)
	if err != nil {
		test.Fatalf("claim: %v", err)
	}
	if got := result.Balance.String(); got != "0.01" {
		test.Fatalf("expected catalog reward 0.01, got %s", got)
	}
	if store.rewardLogs[0].adID == nil || *store.rewardLogs[0].adID != adID.Int64() {
		test.Fatalf("expected reward log bound to ad %d", adID.Int64())
	}
}

func TestClaimUnknownAdRejectedWithoutWrites(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 1004)
	adID := mustAdID(test, 404)

	_, err := service.Claim(context.Background(), userID, nil, &adID)
	if !errors.Is(err, ErrUnknownAd) {
		test.Fatalf("expected ErrUnknownAd, got %v", err)
	}
	if len(store.rewardLogs) != 0 {
		test.Fatalf("rejected claim must not append reward logs, got %d", len(store.rewardLogs))
	}
	if _, exists := store.users[userID.Int64()]; exists {
		test.Fatalf("rejected claim must not create the user row")
	}
}

func TestClaimRejectsWithinCooldown(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := newTestClock()
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, 1005)

	if _, err := service.Claim(context.Background(), userID, nil, nil); err != nil {
		test.Fatalf("first claim: %v", err)
	}

	clock.advance(5 * time.Second)
	_, err := service.Claim(context.Background(), userID, nil, nil)
	if !errors.Is(err, ErrClaimCooldown) {
		test.Fatalf("expected cooldown rejection, got %v", err)
	}
	var cooldownError CooldownError
	if !errors.As(err, &cooldownError) {
		test.Fatalf("expected CooldownError, got %T", err)
	}
	if cooldownError.SecondsLeft != 11 {
		test.Fatalf("expected 11 seconds left, got %d", cooldownError.SecondsLeft)
	}
	if got := len(store.rewardLogs); got != 1 {
		test.Fatalf("rejected claim wrote a reward log, have %d rows", got)
	}

	clock.advance(12 * time.Second)
	if _, err := service.Claim(context.Background(), userID, nil, nil); err != nil {
		test.Fatalf("claim after cooldown: %v", err)
	}
	if got := len(store.rewardLogs); got != 2 {
		test.Fatalf("expected 2 reward log rows, got %d", got)
	}
}

func TestClaimAllowsExactCooldownElapsed(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := newTestClock()
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, 1006)

	if _, err := service.Claim(context.Background(), userID, nil, nil); err != nil {
		test.Fatalf("first claim: %v", err)
	}
	clock.advance(testCooldown)
	if _, err := service.Claim(context.Background(), userID, nil, nil); err != nil {
		test.Fatalf("claim at exact cooldown boundary: %v", err)
	}
}

func TestClaimRepeatedAtSameInstantCreditsOnce(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := newTestClock()
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, 1007)

	if _, err := service.Claim(context.Background(), userID, nil, nil); err != nil {
		test.Fatalf("first claim: %v", err)
	}
	_, err := service.Claim(context.Background(), userID, nil, nil)
	var cooldownError CooldownError
	if !errors.As(err, &cooldownError) {
		test.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldownError.SecondsLeft != int64(testCooldown/time.Second) {
		test.Fatalf("expected full cooldown remaining, got %d", cooldownError.SecondsLeft)
	}
	balance := mustBalanceOf(test, store, userID)
	if balance.String() != "0.003" {
		test.Fatalf("expected single credit of 0.003, got %s", balance.String())
	}
}

func TestClaimPaysReferralCommission(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	referrerID := mustUserID(test, 2001)
	referredID := mustUserID(test, 2002)

	if _, err := service.InitUser(context.Background(), referredID, "viewer", &referrerID); err != nil {
		test.Fatalf("init user: %v", err)
	}
	amount := mustAmount(test, "1")
	if _, err := service.Claim(context.Background(), referredID, &amount, nil); err != nil {
		test.Fatalf("claim: %v", err)
	}

	referrerBalance := mustBalanceOf(test, store, referrerID)
	if referrerBalance.String() != "0.1" {
		test.Fatalf("expected referrer commission 0.1, got %s", referrerBalance.String())
	}
	if got := len(store.commissions); got != 1 {
		test.Fatalf("expected 1 commission row, got %d", got)
	}
	commission := store.commissions[0]
	if commission.referrerID != referrerID.Int64() || commission.referredID != referredID.Int64() {
		test.Fatalf("commission attributed to wrong pair: %+v", commission)
	}
	if commission.source != CommissionSourceAdReward {
		test.Fatalf("expected source %q, got %q", CommissionSourceAdReward, commission.source)
	}
}

func TestClaimSkipsCommissionWhenItRoundsToZero(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	referrerID := mustUserID(test, 2003)
	referredID := mustUserID(test, 2004)

	if _, err := service.InitUser(context.Background(), referredID, "", &referrerID); err != nil {
		test.Fatalf("init user: %v", err)
	}
	tiny := mustAmount(test, "0.000001")
	if _, err := service.Claim(context.Background(), referredID, &tiny, nil); err != nil {
		test.Fatalf("claim: %v", err)
	}
	if len(store.commissions) != 0 {
		test.Fatalf("expected no commission rows, got %d", len(store.commissions))
	}
}

func TestClaimSelfReferralPaysNoCommission(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 2005)

	// Referral attribution cannot normally point at the user themselves; seed
	// the corrupt row directly to verify the claim path tolerates it.
	self := userID.Int64()
	store.users[self] = &memoryUser{balance: decimal.Zero, referredBy: &self}

	amount := mustAmount(test, "1")
	if _, err := service.Claim(context.Background(), userID, &amount, nil); err != nil {
		test.Fatalf("claim: %v", err)
	}
	if len(store.commissions) != 0 {
		test.Fatalf("self referral must not pay commission, got %d rows", len(store.commissions))
	}
	balance := mustBalanceOf(test, store, userID)
	if balance.String() != "1" {
		test.Fatalf("expected balance 1, got %s", balance.String())
	}
}

func TestClaimRollsBackWhenCommissionInsertFails(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	injected := errors.New("commission insert refused")
	store.failures["InsertReferralCommission"] = injected
	service := mustNewService(test, store, newTestClock())
	referrerID := mustUserID(test, 2006)
	referredID := mustUserID(test, 2007)

	if _, err := service.InitUser(context.Background(), referredID, "", &referrerID); err != nil {
		test.Fatalf("init user: %v", err)
	}
	amount := mustAmount(test, "1")
	_, err := service.Claim(context.Background(), referredID, &amount, nil)
	if !errors.Is(err, injected) {
		test.Fatalf("expected injected failure, got %v", err)
	}

	balance := mustBalanceOf(test, store, referredID)
	if !balance.Decimal().IsZero() {
		test.Fatalf("credit must roll back with the failed commission, balance %s", balance.String())
	}
	if len(store.rewardLogs) != 0 {
		test.Fatalf("reward log must roll back, got %d rows", len(store.rewardLogs))
	}
	referrerBalance := mustBalanceOf(test, store, referrerID)
	if !referrerBalance.Decimal().IsZero() {
		test.Fatalf("referrer credit must roll back, balance %s", referrerBalance.String())
	}
}

func TestBalanceReadsZeroForUnknownUser(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	service := mustNewService(test, store, newTestClock())
	userID := mustUserID(test, 3001)

	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if !balance.Decimal().IsZero() {
		test.Fatalf("expected zero balance, got %s", balance.String())
	}
}

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := newTestClock()
	config := testConfig(test)

	if _, err := NewService(nil, clock.now, config); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil store, got %v", err)
	}
	if _, err := NewService(store, nil, config); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil clock, got %v", err)
	}

	broken := config
	broken.ClaimCooldown = 0
	if _, err := NewService(store, clock.now, broken); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for zero cooldown, got %v", err)
	}
	broken = config
	broken.MinWithdraw = Amount{}
	if _, err := NewService(store, clock.now, broken); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for unset minimum withdrawal, got %v", err)
	}
}

const testCooldown = 16 * time.Second

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *testClock) now() time.Time {
	return clock.current
}

func (clock *testClock) advance(delta time.Duration) {
	clock.current = clock.current.Add(delta)
}

func testConfig(test *testing.T) Config {
	test.Helper()
	return Config{
		ClaimCooldown: testCooldown,
		ReferralRate:  mustReferralRate(test, "0.10"),
		MinWithdraw:   mustAmount(test, "1"),
		DefaultReward: mustAmount(test, "0.003"),
	}
}

func mustNewService(test *testing.T, store Store, clock *testClock) *Service {
	test.Helper()
	service, err := NewService(store, clock.now, testConfig(test))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw int64) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustAdID(test *testing.T, raw int64) AdID {
	test.Helper()
	value, err := NewAdID(raw)
	if err != nil {
		test.Fatalf("ad id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	value, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return value
}

func mustReferralRate(test *testing.T, raw string) ReferralRate {
	test.Helper()
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("rate %q: %v", raw, err)
	}
	value, err := NewReferralRate(parsed)
	if err != nil {
		test.Fatalf("rate %q: %v", raw, err)
	}
	return value
}

func mustBalanceOf(test *testing.T, store *memoryStore, userID UserID) Balance {
	test.Helper()
	balance, err := store.GetBalance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance of %d: %v", userID.Int64(), err)
	}
	return balance
}

type memoryUser struct {
	balance    decimal.Decimal
	username   string
	referredBy *int64
}

type memoryRewardLog struct {
	id        int64
	userID    int64
	adID      *int64
	amount    decimal.Decimal
	createdAt time.Time
}

type memoryCommission struct {
	referrerID int64
	referredID int64
	source     string
	amount     decimal.Decimal
	createdAt  time.Time
}

type memoryWithdrawal struct {
	id        int64
	userID    int64
	amount    decimal.Decimal
	method    string
	address   string
	status    string
	createdAt time.Time
}

// memoryStore keeps the whole state in maps and slices and emulates
// transaction rollback by restoring a deep copy when the WithTx callback
// fails. Entries in failures make the named method return that error.
type memoryStore struct {
	users       map[int64]*memoryUser
	rewardLogs  []memoryRewardLog
	commissions []memoryCommission
	withdrawals []memoryWithdrawal
	ads         map[int64]Ad
	failures    map[string]error
	nextRowID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[int64]*memoryUser),
		ads:      make(map[int64]Ad),
		failures: make(map[string]error),
	}
}

func (store *memoryStore) seedAd(test *testing.T, title string, mediaURL string, reward string, durationSec int) AdID {
	test.Helper()
	store.nextRowID++
	adID := mustAdID(test, store.nextRowID)
	store.ads[adID.Int64()] = Ad{
		ID:          adID,
		Title:       title,
		MediaURL:    mediaURL,
		Reward:      mustAmount(test, reward),
		DurationSec: durationSec,
	}
	return adID
}

func (store *memoryStore) snapshot() *memoryStore {
	users := make(map[int64]*memoryUser, len(store.users))
	for id, user := range store.users {
		copied := *user
		if user.referredBy != nil {
			referrer := *user.referredBy
			copied.referredBy = &referrer
		}
		users[id] = &copied
	}
	return &memoryStore{
		users:       users,
		rewardLogs:  append([]memoryRewardLog(nil), store.rewardLogs...),
		commissions: append([]memoryCommission(nil), store.commissions...),
		withdrawals: append([]memoryWithdrawal(nil), store.withdrawals...),
		ads:         store.ads,
		failures:    store.failures,
		nextRowID:   store.nextRowID,
	}
}

func (store *memoryStore) restore(saved *memoryStore) {
	store.users = saved.users
	store.rewardLogs = saved.rewardLogs
	store.commissions = saved.commissions
	store.withdrawals = saved.withdrawals
	store.nextRowID = saved.nextRowID
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	saved := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(saved)
		return err
	}
	return nil
}

func (store *memoryStore) LockUserClaims(ctx context.Context, userID UserID) error {
	return store.failures["LockUserClaims"]
}

func (store *memoryStore) EnsureUser(ctx context.Context, userID UserID) error {
	if err := store.failures["EnsureUser"]; err != nil {
		return err
	}
	if _, exists := store.users[userID.Int64()]; !exists {
		store.users[userID.Int64()] = &memoryUser{balance: decimal.Zero}
	}
	return nil
}

func (store *memoryStore) InitUser(ctx context.Context, userID UserID, username string, referredBy *UserID) error {
	if err := store.failures["InitUser"]; err != nil {
		return err
	}
	user, exists := store.users[userID.Int64()]
	if !exists {
		user = &memoryUser{balance: decimal.Zero}
		store.users[userID.Int64()] = user
	}
	if username != "" {
		user.username = username
	}
	if user.referredBy == nil && referredBy != nil {
		referrer := referredBy.Int64()
		user.referredBy = &referrer
	}
	return nil
}

func (store *memoryStore) GetBalance(ctx context.Context, userID UserID) (Balance, error) {
	if err := store.failures["GetBalance"]; err != nil {
		return Balance{}, err
	}
	user, exists := store.users[userID.Int64()]
	if !exists {
		return ZeroBalance(), nil
	}
	return NewBalance(user.balance)
}

func (store *memoryStore) GetBalanceForUpdate(ctx context.Context, userID UserID) (Balance, error) {
	if err := store.failures["GetBalanceForUpdate"]; err != nil {
		return Balance{}, err
	}
	return store.GetBalance(ctx, userID)
}

func (store *memoryStore) AddToBalance(ctx context.Context, userID UserID, amount Amount) (Balance, error) {
	if err := store.failures["AddToBalance"]; err != nil {
		return Balance{}, err
	}
	user, exists := store.users[userID.Int64()]
	if !exists {
		return Balance{}, errors.New("user row missing")
	}
	user.balance = user.balance.Add(amount.Decimal())
	return NewBalance(user.balance)
}

func (store *memoryStore) SubtractFromBalance(ctx context.Context, userID UserID, amount Amount) (Balance, error) {
	if err := store.failures["SubtractFromBalance"]; err != nil {
		return Balance{}, err
	}
	user, exists := store.users[userID.Int64()]
	if !exists {
		return Balance{}, errors.New("user row missing")
	}
	updated := user.balance.Sub(amount.Decimal())
	if updated.IsNegative() {
		return Balance{}, ErrInsufficientBalance
	}
	user.balance = updated
	return NewBalance(user.balance)
}

func (store *memoryStore) LastRewardAt(ctx context.Context, userID UserID) (time.Time, bool, error) {
	if err := store.failures["LastRewardAt"]; err != nil {
		return time.Time{}, false, err
	}
	for index := len(store.rewardLogs) - 1; index >= 0; index-- {
		if store.rewardLogs[index].userID == userID.Int64() {
			return store.rewardLogs[index].createdAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (store *memoryStore) InsertRewardLog(ctx context.Context, userID UserID, adID *AdID, amount Amount, at time.Time) error {
	if err := store.failures["InsertRewardLog"]; err != nil {
		return err
	}
	store.nextRowID++
	var adIDValue *int64
	if adID != nil {
		value := adID.Int64()
		adIDValue = &value
	}
	store.rewardLogs = append(store.rewardLogs, memoryRewardLog{
		id:        store.nextRowID,
		userID:    userID.Int64(),
		adID:      adIDValue,
		amount:    amount.Decimal(),
		createdAt: at,
	})
	return nil
}

func (store *memoryStore) ReferredBy(ctx context.Context, userID UserID) (*UserID, error) {
	if err := store.failures["ReferredBy"]; err != nil {
		return nil, err
	}
	user, exists := store.users[userID.Int64()]
	if !exists || user.referredBy == nil {
		return nil, nil
	}
	referrerID, err := NewUserID(*user.referredBy)
	if err != nil {
		return nil, err
	}
	return &referrerID, nil
}

func (store *memoryStore) InsertReferralCommission(ctx context.Context, referrerID UserID, referredID UserID, source string, amount Amount, at time.Time) error {
	if err := store.failures["InsertReferralCommission"]; err != nil {
		return err
	}
	store.commissions = append(store.commissions, memoryCommission{
		referrerID: referrerID.Int64(),
		referredID: referredID.Int64(),
		source:     source,
		amount:     amount.Decimal(),
		createdAt:  at,
	})
	return nil
}

func (store *memoryStore) InsertWithdrawal(ctx context.Context, userID UserID, amount Amount, method string, address string, at time.Time) (WithdrawalRequest, error) {
	if err := store.failures["InsertWithdrawal"]; err != nil {
		return WithdrawalRequest{}, err
	}
	store.nextRowID++
	store.withdrawals = append(store.withdrawals, memoryWithdrawal{
		id:        store.nextRowID,
		userID:    userID.Int64(),
		amount:    amount.Decimal(),
		method:    method,
		address:   address,
		status:    WithdrawalStatusPending,
		createdAt: at,
	})
	return WithdrawalRequest{
		ID:        store.nextRowID,
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Address:   address,
		Status:    WithdrawalStatusPending,
		CreatedAt: at,
	}, nil
}

func (store *memoryStore) ListWithdrawals(ctx context.Context, userID UserID, limit int) ([]WithdrawalRequest, error) {
	if err := store.failures["ListWithdrawals"]; err != nil {
		return nil, err
	}
	requests := make([]WithdrawalRequest, 0)
	for index := len(store.withdrawals) - 1; index >= 0 && len(requests) < limit; index-- {
		row := store.withdrawals[index]
		if row.userID != userID.Int64() {
			continue
		}
		amount, err := NewAmount(row.amount)
		if err != nil {
			return nil, err
		}
		requests = append(requests, WithdrawalRequest{
			ID:        row.id,
			UserID:    userID,
			Amount:    amount,
			Method:    row.method,
			Address:   row.address,
			Status:    row.status,
			CreatedAt: row.createdAt,
		})
	}
	return requests, nil
}

func (store *memoryStore) GetAd(ctx context.Context, adID AdID) (Ad, error) {
	if err := store.failures["GetAd"]; err != nil {
		return Ad{}, err
	}
	ad, exists := store.ads[adID.Int64()]
	if !exists {
		return Ad{}, ErrUnknownAd
	}
	return ad, nil
}

func (store *memoryStore) ListActiveAds(ctx context.Context, limit int) ([]Ad, error) {
	if err := store.failures["ListActiveAds"]; err != nil {
		return nil, err
	}
	ads := make([]Ad, 0, len(store.ads))
	for _, ad := range store.ads {
		ads = append(ads, ad)
	}
	sort.Slice(ads, func(left, right int) bool {
		return ads[left].ID.Int64() > ads[right].ID.Int64()
	})
	if len(ads) > limit {
		ads = ads[:limit]
	}
	return ads, nil
}

func (store *memoryStore) ReferralSummary(ctx context.Context, referrerID UserID) (ReferralSummary, error) {
	if err := store.failures["ReferralSummary"]; err != nil {
		return ReferralSummary{}, err
	}
	summary := ReferralSummary{TotalCommission: decimal.Zero}
	for _, commission := range store.commissions {
		if commission.referrerID == referrerID.Int64() {
			summary.TotalCommission = summary.TotalCommission.Add(commission.amount)
		}
	}
	referredIDs := make([]int64, 0)
	for id, user := range store.users {
		if user.referredBy != nil && *user.referredBy == referrerID.Int64() {
			referredIDs = append(referredIDs, id)
		}
	}
	sort.Slice(referredIDs, func(left, right int) bool { return referredIDs[left] > referredIDs[right] })
	for _, id := range referredIDs {
		user := store.users[id]
		referredID, err := NewUserID(id)
		if err != nil {
			return ReferralSummary{}, err
		}
		activity := ReferralActivity{
			UserID:     referredID,
			Username:   user.username,
			Earned:     decimal.Zero,
			Commission: decimal.Zero,
		}
		for _, entry := range store.rewardLogs {
			if entry.userID == id {
				activity.Earned = activity.Earned.Add(entry.amount)
				if activity.JoinedAt == nil {
					joined := entry.createdAt
					activity.JoinedAt = &joined
				}
			}
		}
		for _, commission := range store.commissions {
			if commission.referredID == id && commission.referrerID == referrerID.Int64() {
				activity.Commission = activity.Commission.Add(commission.amount)
			}
		}
		summary.Referrals = append(summary.Referrals, activity)
	}
	return summary, nil
}

package rewards

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of fractional digits carried by monetary values.
const AmountPrecision = 6

// UserID identifies a user by their Telegram numeric id.
type UserID struct {
	value int64
}

// AdID identifies an ad catalog entry.
type AdID struct {
	value int64
}

// Amount is a positive monetary value with at most six fractional digits.
type Amount struct {
	value decimal.Decimal
}

// Balance is a non-negative monetary value with at most six fractional digits.
type Balance struct {
	value decimal.Decimal
}

// ReferralRate is the commission fraction paid to a referrer, in [0, 1).
type ReferralRate struct {
	value decimal.Decimal
}

// NewUserID validates a raw Telegram user id.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return UserID{}, ErrInvalidUserID
	}
	return UserID{value: raw}, nil
}

// Int64 returns the numeric identifier.
func (id UserID) Int64() int64 {
	return id.value
}

// NewAdID validates a raw ad id.
func NewAdID(raw int64) (AdID, error) {
	if raw <= 0 {
		return AdID{}, ErrInvalidAdID
	}
	return AdID{value: raw}, nil
}

// Int64 returns the numeric identifier.
func (id AdID) Int64() int64 {
	return id.value
}

// NewAmount validates a decimal amount: strictly positive, at most six fractional digits.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if !raw.IsPositive() {
		return Amount{}, ErrInvalidAmount
	}
	if !raw.Equal(raw.Round(AmountPrecision)) {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{value: raw}, nil
}

// NewAmountFromFloat converts a client-supplied float, rounding to six fractional digits.
func NewAmountFromFloat(raw float64) (Amount, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return Amount{}, ErrInvalidAmount
	}
	return NewAmount(decimal.NewFromFloat(raw).Round(AmountPrecision))
}

// ParseAmount parses a decimal string, e.g. a NUMERIC column read as text.
func ParseAmount(raw string) (Amount, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	return NewAmount(value)
}

// Decimal returns the underlying decimal value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// Float64 returns the nearest float, for JSON display only.
func (amount Amount) Float64() float64 {
	value, _ := amount.value.Float64()
	return value
}

// String renders the amount with full precision.
func (amount Amount) String() string {
	return amount.value.String()
}

// Fraction returns amount * rate rounded to six fractional digits.
// The result can be zero when the product rounds away; callers must check IsZero.
func (amount Amount) Fraction(rate ReferralRate) decimal.Decimal {
	return amount.value.Mul(rate.value).Round(AmountPrecision)
}

// NewBalance validates a decimal balance: non-negative.
func NewBalance(raw decimal.Decimal) (Balance, error) {
	if raw.IsNegative() {
		return Balance{}, ErrInvalidBalance
	}
	return Balance{value: raw}, nil
}

// ParseBalance parses a decimal string into a Balance.
func ParseBalance(raw string) (Balance, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Balance{}, ErrInvalidBalance
	}
	return NewBalance(value)
}

// ZeroBalance is the balance of an unknown or freshly created user.
func ZeroBalance() Balance {
	return Balance{value: decimal.Zero}
}

// Decimal returns the underlying decimal value.
func (balance Balance) Decimal() decimal.Decimal {
	return balance.value
}

// Float64 returns the nearest float, for JSON display only.
func (balance Balance) Float64() float64 {
	value, _ := balance.value.Float64()
	return value
}

// String renders the balance with full precision.
func (balance Balance) String() string {
	return balance.value.String()
}

// Covers reports whether the balance is sufficient for the given amount.
func (balance Balance) Covers(amount Amount) bool {
	return balance.value.GreaterThanOrEqual(amount.value)
}

// NewReferralRate validates a commission fraction.
func NewReferralRate(raw decimal.Decimal) (ReferralRate, error) {
	if raw.IsNegative() || raw.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ReferralRate{}, ErrInvalidReferralRate
	}
	return ReferralRate{value: raw}, nil
}

// Decimal returns the underlying fraction.
func (rate ReferralRate) Decimal() decimal.Decimal {
	return rate.value
}

// Ad is one entry of the ad catalog; Reward is the authoritative credit amount.
type Ad struct {
	ID          AdID
	Title       string
	MediaURL    string
	Reward      Amount
	DurationSec int
}

// RewardLogEntry is one immutable line of the reward history.
type RewardLogEntry struct {
	ID        int64
	UserID    UserID
	AdID      *AdID
	Amount    Amount
	CreatedAt time.Time
}

// WithdrawalRequest is a pending (or later resolved) payout request.
type WithdrawalRequest struct {
	ID        int64
	UserID    UserID
	Amount    Amount
	Method    string
	Address   string
	Status    string
	CreatedAt time.Time
}

// ReferralActivity summarizes one referred user for the referrer view.
type ReferralActivity struct {
	UserID     UserID
	Username   string
	Earned     decimal.Decimal
	Commission decimal.Decimal
	JoinedAt   *time.Time
}

// ReferralSummary aggregates a referrer's direct referrals and commission total.
type ReferralSummary struct {
	Referrals       []ReferralActivity
	TotalCommission decimal.Decimal
}

// ClaimResult reports the balance after a successful claim.
type ClaimResult struct {
	Balance Balance
}

// Store is the persistence contract used by Service. All mutations performed
// through a store handed to a WithTx callback commit or roll back together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LockUserClaims serializes concurrent claim transactions for one user.
	// Held until the surrounding transaction ends.
	LockUserClaims(ctx context.Context, userID UserID) error
	EnsureUser(ctx context.Context, userID UserID) error
	InitUser(ctx context.Context, userID UserID, username string, referredBy *UserID) error
	GetBalance(ctx context.Context, userID UserID) (Balance, error)
	GetBalanceForUpdate(ctx context.Context, userID UserID) (Balance, error)
	AddToBalance(ctx context.Context, userID UserID, amount Amount) (Balance, error)
	SubtractFromBalance(ctx context.Context, userID UserID, amount Amount) (Balance, error)
	LastRewardAt(ctx context.Context, userID UserID) (time.Time, bool, error)
	InsertRewardLog(ctx context.Context, userID UserID, adID *AdID, amount Amount, at time.Time) error
	ReferredBy(ctx context.Context, userID UserID) (*UserID, error)
	InsertReferralCommission(ctx context.Context, referrerID UserID, referredID UserID, source string, amount Amount, at time.Time) error
	InsertWithdrawal(ctx context.Context, userID UserID, amount Amount, method string, address string, at time.Time) (WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, userID UserID, limit int) ([]WithdrawalRequest, error)
	GetAd(ctx context.Context, adID AdID) (Ad, error)
	ListActiveAds(ctx context.Context, limit int) ([]Ad, error)
	ReferralSummary(ctx context.Context, referrerID UserID) (ReferralSummary, error)
}

package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config carries the externally tunable reward parameters.
type Config struct {
	// ClaimCooldown is the minimum interval between two successful claims per user.
	ClaimCooldown time.Duration
	// ReferralRate is the commission fraction paid to the direct referrer.
	ReferralRate ReferralRate
	// MinWithdraw is the smallest accepted withdrawal amount.
	MinWithdraw Amount
	// DefaultReward is credited when a claim names neither an ad nor an amount.
	DefaultReward Amount
}

func (config Config) validate() error {
	if config.ClaimCooldown <= 0 {
		return fmt.Errorf("%w: claim cooldown must be positive", ErrInvalidServiceConfig)
	}
	if !config.MinWithdraw.value.IsPositive() {
		return fmt.Errorf("%w: minimum withdrawal is not set", ErrInvalidServiceConfig)
	}
	if !config.DefaultReward.value.IsPositive() {
		return fmt.Errorf("%w: default reward is not set", ErrInvalidServiceConfig)
	}
	return nil
}

// Service contains the reward domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	config Config
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, config Config, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	service := &Service{store: store, nowFn: now, config: config}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Claim credits one ad-view reward if the user's cooldown has elapsed.
//
// The credited amount is resolved server-side: the catalog reward when adID is
// given, the supplied amount otherwise, the configured default when neither is
// present. The eligibility check and the credit run inside a single store
// transaction under a per-user claim lock, so concurrent claims within one
// cooldown window credit at most once. A rejected claim performs no writes.
func (service *Service) Claim(requestContext context.Context, userID UserID, requested *Amount, adID *AdID) (ClaimResult, error) {
	var result ClaimResult
	credited := service.config.DefaultReward
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockUserClaims(ctx, userID); err != nil {
			return err
		}
		amount := service.config.DefaultReward
		if adID != nil {
			ad, err := transactionStore.GetAd(ctx, *adID)
			if err != nil {
				return err
			}
			amount = ad.Reward
		} else if requested != nil {
			amount = *requested
		}
		credited = amount
		now := service.nowFn()
		lastRewardAt, hasPriorReward, err := transactionStore.LastRewardAt(ctx, userID)
		if err != nil {
			return err
		}
		if hasPriorReward {
			elapsed := now.Sub(lastRewardAt)
			if elapsed < service.config.ClaimCooldown {
				return CooldownError{SecondsLeft: ceilSeconds(service.config.ClaimCooldown - elapsed)}
			}
		}
		if err := transactionStore.EnsureUser(ctx, userID); err != nil {
			return err
		}
		balance, err := transactionStore.AddToBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		if err := transactionStore.InsertRewardLog(ctx, userID, adID, amount, now); err != nil {
			return err
		}
		if err := service.payReferralCommission(ctx, transactionStore, userID, amount, now); err != nil {
			return err
		}
		result = ClaimResult{Balance: balance}
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation:   operationClaim,
		UserID:      userID,
		AdID:        adID,
		Amount:      credited,
		SecondsLeft: cooldownSecondsLeft(operationError),
		Error:       operationError,
	})
	return result, operationError
}

// Balance reports the user's current balance; zero for unknown users.
func (service *Service) Balance(requestContext context.Context, userID UserID) (Balance, error) {
	return service.store.GetBalance(requestContext, userID)
}

func (service *Service) payReferralCommission(ctx context.Context, transactionStore Store, userID UserID, amount Amount, now time.Time) error {
	referrerID, err := transactionStore.ReferredBy(ctx, userID)
	if err != nil {
		return err
	}
	if referrerID == nil || *referrerID == userID {
		return nil
	}
	commissionValue := amount.Fraction(service.config.ReferralRate)
	if commissionValue.IsZero() {
		return nil
	}
	commission, err := NewAmount(commissionValue)
	if err != nil {
		return err
	}
	if err := transactionStore.EnsureUser(ctx, *referrerID); err != nil {
		return err
	}
	if _, err := transactionStore.AddToBalance(ctx, *referrerID, commission); err != nil {
		return err
	}
	return transactionStore.InsertReferralCommission(ctx, *referrerID, userID, CommissionSourceAdReward, commission, now)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case errors.Is(entry.Error, ErrClaimCooldown):
			entry.Status = operationStatusCooldown
		default:
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func ceilSeconds(remaining time.Duration) int64 {
	return int64(math.Ceil(remaining.Seconds()))
}

func cooldownSecondsLeft(err error) int64 {
	var cooldownError CooldownError
	if errors.As(err, &cooldownError) {
		return cooldownError.SecondsLeft
	}
	return 0
}

package rewards

import (
	"context"
	"strings"
)

// InitUser creates the user row if absent and records referral attribution.
// referred_by is set at most once and never to the user themselves; repeated
// calls only refresh the username. Returns the user's current balance.
func (service *Service) InitUser(requestContext context.Context, userID UserID, username string, referredBy *UserID) (Balance, error) {
	if referredBy != nil && *referredBy == userID {
		referredBy = nil
	}
	var balance Balance
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InitUser(ctx, userID, strings.TrimSpace(username), referredBy); err != nil {
			return err
		}
		current, err := transactionStore.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		balance = current
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationInitUser,
		UserID:    userID,
		Error:     operationError,
	})
	return balance, operationError
}

// Withdraw debits the balance and records a pending payout request. The read
// and the debit share one transaction with the user row locked, so concurrent
// withdrawals cannot double-spend.
func (service *Service) Withdraw(requestContext context.Context, userID UserID, amount Amount, method string, address string) (WithdrawalRequest, Balance, error) {
	var (
		request WithdrawalRequest
		balance Balance
	)
	method = strings.TrimSpace(method)
	address = strings.TrimSpace(address)
	if address == "" {
		return WithdrawalRequest{}, Balance{}, ErrInvalidWithdrawTarget
	}
	if amount.value.LessThan(service.config.MinWithdraw.value) {
		return WithdrawalRequest{}, Balance{}, ErrBelowMinimumWithdraw
	}
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.EnsureUser(ctx, userID); err != nil {
			return err
		}
		current, err := transactionStore.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !current.Covers(amount) {
			return ErrInsufficientBalance
		}
		remaining, err := transactionStore.SubtractFromBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		created, err := transactionStore.InsertWithdrawal(ctx, userID, amount, method, address, service.nowFn())
		if err != nil {
			return err
		}
		request = created
		balance = remaining
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationWithdraw,
		UserID:    userID,
		Amount:    amount,
		Error:     operationError,
	})
	return request, balance, operationError
}

// Withdrawals lists the user's most recent payout requests, newest first.
func (service *Service) Withdrawals(requestContext context.Context, userID UserID) ([]WithdrawalRequest, error) {
	return service.store.ListWithdrawals(requestContext, userID, defaultWithdrawalsLimit)
}

// ActiveAds lists the current ad catalog, newest first.
func (service *Service) ActiveAds(requestContext context.Context) ([]Ad, error) {
	return service.store.ListActiveAds(requestContext, defaultAdListLimit)
}

// Referrals summarizes the user's direct referrals and total commission earned.
func (service *Service) Referrals(requestContext context.Context, userID UserID) (ReferralSummary, error) {
	return service.store.ReferralSummary(requestContext, userID)
}

package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/watchads/rewardd/pkg/rewards"
)

const (
	constraintBalanceNonNegative = "users_balance_non_negative"
	pgCheckViolationCode         = "23514"
	errorOperationStore          = "store"
	errorSubjectSchema           = "schema"
	errorSubjectUser             = "user"
	errorSubjectBalance          = "balance"
	errorSubjectRewardLog        = "reward_log"
	errorSubjectCommission       = "commission"
	errorSubjectWithdrawal       = "withdrawal"
	errorSubjectAd               = "ad"
	errorSubjectReferral         = "referral"
	errorSubjectTransaction      = "transaction"
	errorSubjectClaimLock        = "claim_lock"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeAcquire             = "acquire"
	errorCodeEnsure              = "ensure"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeUpdate              = "update"
	errorCodeUpsert              = "upsert"

	sqlEnsureSchema = `
		create table if not exists users (
			id bigint primary key,
			username text,
			balance numeric(18,6) not null default 0
				constraint users_balance_non_negative check (balance >= 0),
			referred_by bigint,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create table if not exists ad_reward_logs (
			id bigserial primary key,
			user_id bigint not null,
			ad_id bigint,
			amount numeric(18,6) not null,
			created_at timestamptz not null default now()
		);
		create index if not exists idx_ad_reward_logs_user_id
			on ad_reward_logs (user_id, id desc);
		create table if not exists referral_commissions (
			id bigserial primary key,
			referrer_id bigint not null,
			referred_id bigint not null,
			source text not null,
			amount numeric(18,6) not null,
			created_at timestamptz not null default now()
		);
		create index if not exists idx_referral_commissions_referrer
			on referral_commissions (referrer_id);
		create table if not exists withdrawals (
			id bigserial primary key,
			user_id bigint not null,
			amount numeric(18,6) not null,
			method text,
			address text,
			status text not null default 'pending',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create index if not exists idx_withdrawals_user_id
			on withdrawals (user_id, id desc);
		create table if not exists ads (
			id bigserial primary key,
			title text,
			media_url text not null,
			reward numeric(18,6) not null,
			duration_sec integer not null default 16,
			active boolean not null default true,
			created_at timestamptz not null default now()
		);
	`

	sqlClaimLock = `
		select pg_advisory_xact_lock(hashtextextended('ad_claim:' || $1::text, 0))
	`

	sqlInsertUserIfAbsent = `
		insert into users (id, balance) values ($1, 0)
		on conflict (id) do nothing
	`

	sqlInitUser = `
		insert into users (id, username, referred_by)
		values ($1, nullif($2, ''), $3)
		on conflict (id) do update set
			username = coalesce(nullif(excluded.username, ''), users.username),
			referred_by = coalesce(users.referred_by, excluded.referred_by),
			updated_at = now()
	`

	sqlSelectBalance = `
		select coalesce(balance, 0)::text from users where id = $1
	`

	sqlSelectBalanceForUpdate = `
		select coalesce(balance, 0)::text from users where id = $1 for update
	`

	sqlAddToBalance = `
		update users
		set balance = balance + $2::numeric, updated_at = now()
		where id = $1
		returning balance::text
	`

	sqlSubtractFromBalance = `
		update users
		set balance = balance - $2::numeric, updated_at = now()
		where id = $1
		returning balance::text
	`

	sqlLastRewardAt = `
		select created_at from ad_reward_logs
		where user_id = $1
		order by id desc
		limit 1
	`

	sqlInsertRewardLog = `
		insert into ad_reward_logs (user_id, ad_id, amount, created_at)
		values ($1, $2, $3::numeric, $4)
	`

	sqlSelectReferredBy = `
		select referred_by from users where id = $1
	`

	sqlInsertCommission = `
		insert into referral_commissions (referrer_id, referred_id, source, amount, created_at)
		values ($1, $2, $3, $4::numeric, $5)
	`

	sqlInsertWithdrawal = `
		insert into withdrawals (user_id, amount, method, address, status, created_at, updated_at)
		values ($1, $2::numeric, nullif($3, ''), $4, $5, $6, $6)
		returning id, status, created_at
	`

	sqlListWithdrawals = `
		select id, amount::text, coalesce(method, ''), coalesce(address, ''), status, created_at
		from withdrawals
		where user_id = $1
		order by id desc
		limit $2
	`

	sqlSelectAd = `
		select id, coalesce(title, ''), media_url, reward::text, duration_sec
		from ads
		where id = $1 and active
	`

	sqlListActiveAds = `
		select id, coalesce(title, ''), media_url, reward::text, duration_sec
		from ads
		where active
		order by id desc
		limit $1
	`

	sqlReferralActivity = `
		select u.id,
			coalesce(u.username, '-') as username,
			coalesce(sum(arl.amount), 0)::text as earned,
			coalesce(sum(case when rc.referrer_id = $1 then rc.amount else 0 end), 0)::text as commission,
			min(arl.created_at) as joined_at
		from users u
		left join ad_reward_logs arl on arl.user_id = u.id
		left join referral_commissions rc on rc.referred_id = u.id
		where u.referred_by = $1
		group by u.id, u.username
		order by joined_at desc nulls last, u.id desc
	`

	sqlReferralTotal = `
		select coalesce(sum(amount), 0)::text
		from referral_commissions
		where referrer_id = $1
	`
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements rewards.Store on a pgx connection pool. The Store handed to
// a WithTx callback runs on the open transaction instead of the pool.
type Store struct {
	pool   *pgxpool.Pool
	runner querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, runner: pool}
}

// EnsureSchema creates tables and indexes if absent. Idempotent; called once
// at startup.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.runner.Exec(ctx, sqlEnsureSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rewards.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{runner: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LockUserClaims(ctx context.Context, userID rewards.UserID) error {
	if _, err := store.runner.Exec(ctx, sqlClaimLock, userID.Int64()); err != nil {
		return wrapStoreError(errorSubjectClaimLock, errorCodeAcquire, err)
	}
	return nil
}

func (store *Store) EnsureUser(ctx context.Context, userID rewards.UserID) error {
	if _, err := store.runner.Exec(ctx, sqlInsertUserIfAbsent, userID.Int64()); err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) InitUser(ctx context.Context, userID rewards.UserID, username string, referredBy *rewards.UserID) error {
	var referredByValue *int64
	if referredBy != nil {
		value := referredBy.Int64()
		referredByValue = &value
	}
	if _, err := store.runner.Exec(ctx, sqlInitUser, userID.Int64(), username, referredByValue); err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID rewards.UserID) (rewards.Balance, error) {
	return store.scanBalance(ctx, sqlSelectBalance, userID)
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, userID rewards.UserID) (rewards.Balance, error) {
	return store.scanBalance(ctx, sqlSelectBalanceForUpdate, userID)
}

func (store *Store) scanBalance(ctx context.Context, query string, userID rewards.UserID) (rewards.Balance, error) {
	var balanceValue string
	err := store.runner.QueryRow(ctx, query, userID.Int64()).Scan(&balanceValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return rewards.ZeroBalance(), nil
	}
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := rewards.ParseBalance(balanceValue)
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) AddToBalance(ctx context.Context, userID rewards.UserID, amount rewards.Amount) (rewards.Balance, error) {
	return store.applyBalanceDelta(ctx, sqlAddToBalance, userID, amount)
}

func (store *Store) SubtractFromBalance(ctx context.Context, userID rewards.UserID, amount rewards.Amount) (rewards.Balance, error) {
	return store.applyBalanceDelta(ctx, sqlSubtractFromBalance, userID, amount)
}

func (store *Store) applyBalanceDelta(ctx context.Context, query string, userID rewards.UserID, amount rewards.Amount) (rewards.Balance, error) {
	var balanceValue string
	err := store.runner.QueryRow(ctx, query, userID.Int64(), amount.String()).Scan(&balanceValue)
	if isBalanceCheckViolation(err) {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, rewards.ErrInsufficientBalance)
	}
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	balance, err := rewards.ParseBalance(balanceValue)
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) LastRewardAt(ctx context.Context, userID rewards.UserID) (time.Time, bool, error) {
	var lastRewardAt time.Time
	err := store.runner.QueryRow(ctx, sqlLastRewardAt, userID.Int64()).Scan(&lastRewardAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapStoreError(errorSubjectRewardLog, errorCodeGet, err)
	}
	return lastRewardAt, true, nil
}

func (store *Store) InsertRewardLog(ctx context.Context, userID rewards.UserID, adID *rewards.AdID, amount rewards.Amount, at time.Time) error {
	var adIDValue *int64
	if adID != nil {
		value := adID.Int64()
		adIDValue = &value
	}
	if _, err := store.runner.Exec(ctx, sqlInsertRewardLog, userID.Int64(), adIDValue, amount.String(), at); err != nil {
		return wrapStoreError(errorSubjectRewardLog, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ReferredBy(ctx context.Context, userID rewards.UserID) (*rewards.UserID, error) {
	var referredByValue *int64
	err := store.runner.QueryRow(ctx, sqlSelectReferredBy, userID.Int64()).Scan(&referredByValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	if referredByValue == nil {
		return nil, nil
	}
	referrerID, err := rewards.NewUserID(*referredByValue)
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return &referrerID, nil
}

func (store *Store) InsertReferralCommission(ctx context.Context, referrerID rewards.UserID, referredID rewards.UserID, source string, amount rewards.Amount, at time.Time) error {
	_, err := store.runner.Exec(ctx, sqlInsertCommission,
		referrerID.Int64(),
		referredID.Int64(),
		source,
		amount.String(),
		at,
	)
	if err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertWithdrawal(ctx context.Context, userID rewards.UserID, amount rewards.Amount, method string, address string, at time.Time) (rewards.WithdrawalRequest, error) {
	var (
		requestID   int64
		statusValue string
		createdAt   time.Time
	)
	err := store.runner.QueryRow(ctx, sqlInsertWithdrawal,
		userID.Int64(),
		amount.String(),
		method,
		address,
		rewards.WithdrawalStatusPending,
		at,
	).Scan(&requestID, &statusValue, &createdAt)
	if err != nil {
		return rewards.WithdrawalRequest{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInsert, err)
	}
	return rewards.WithdrawalRequest{
		ID:        requestID,
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Address:   address,
		Status:    statusValue,
		CreatedAt: createdAt,
	}, nil
}

func (store *Store) ListWithdrawals(ctx context.Context, userID rewards.UserID, limit int) ([]rewards.WithdrawalRequest, error) {
	rows, err := store.runner.Query(ctx, sqlListWithdrawals, userID.Int64(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeList, err)
	}
	defer rows.Close()
	requests := make([]rewards.WithdrawalRequest, 0, limit)
	for rows.Next() {
		var (
			requestID    int64
			amountValue  string
			methodValue  string
			addressValue string
			statusValue  string
			createdAt    time.Time
		)
		if err := rows.Scan(&requestID, &amountValue, &methodValue, &addressValue, &statusValue, &createdAt); err != nil {
			return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
		}
		amount, err := rewards.ParseAmount(amountValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
		}
		requests = append(requests, rewards.WithdrawalRequest{
			ID:        requestID,
			UserID:    userID,
			Amount:    amount,
			Method:    methodValue,
			Address:   addressValue,
			Status:    statusValue,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeList, err)
	}
	return requests, nil
}

func (store *Store) GetAd(ctx context.Context, adID rewards.AdID) (rewards.Ad, error) {
	ad, err := scanAd(store.runner.QueryRow(ctx, sqlSelectAd, adID.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return rewards.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, rewards.ErrUnknownAd)
	}
	if err != nil {
		return rewards.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, err)
	}
	return ad, nil
}

func (store *Store) ListActiveAds(ctx context.Context, limit int) ([]rewards.Ad, error) {
	rows, err := store.runner.Query(ctx, sqlListActiveAds, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	defer rows.Close()
	ads := make([]rewards.Ad, 0, limit)
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAd, errorCodeInvalid, err)
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	return ads, nil
}

func (store *Store) ReferralSummary(ctx context.Context, referrerID rewards.UserID) (rewards.ReferralSummary, error) {
	rows, err := store.runner.Query(ctx, sqlReferralActivity, referrerID.Int64())
	if err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	defer rows.Close()
	referrals := make([]rewards.ReferralActivity, 0, 8)
	for rows.Next() {
		var (
			referredValue   int64
			usernameValue   string
			earnedValue     string
			commissionValue string
			joinedAt        *time.Time
		)
		if err := rows.Scan(&referredValue, &usernameValue, &earnedValue, &commissionValue, &joinedAt); err != nil {
			return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		referredID, err := rewards.NewUserID(referredValue)
		if err != nil {
			return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		earned, err := decimalFromText(earnedValue)
		if err != nil {
			return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		commission, err := decimalFromText(commissionValue)
		if err != nil {
			return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		referrals = append(referrals, rewards.ReferralActivity{
			UserID:     referredID,
			Username:   usernameValue,
			Earned:     earned,
			Commission: commission,
			JoinedAt:   joinedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	var totalValue string
	if err := store.runner.QueryRow(ctx, sqlReferralTotal, referrerID.Int64()).Scan(&totalValue); err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeGet, err)
	}
	total, err := decimalFromText(totalValue)
	if err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
	}
	return rewards.ReferralSummary{Referrals: referrals, TotalCommission: total}, nil
}

func scanAd(row pgx.Row) (rewards.Ad, error) {
	var (
		adIDValue     int64
		titleValue    string
		mediaURLValue string
		rewardValue   string
		durationSec   int
	)
	if err := row.Scan(&adIDValue, &titleValue, &mediaURLValue, &rewardValue, &durationSec); err != nil {
		return rewards.Ad{}, err
	}
	adID, err := rewards.NewAdID(adIDValue)
	if err != nil {
		return rewards.Ad{}, err
	}
	reward, err := rewards.ParseAmount(rewardValue)
	if err != nil {
		return rewards.Ad{}, err
	}
	return rewards.Ad{
		ID:          adID,
		Title:       titleValue,
		MediaURL:    mediaURLValue,
		Reward:      reward,
		DurationSec: durationSec,
	}, nil
}

func decimalFromText(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(raw)
}

func wrapStoreError(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, err)
}

func isBalanceCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode && pgErr.ConstraintName == constraintBalanceNonNegative
	}
	return false
}

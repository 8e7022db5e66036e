package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/watchads/rewardd/pkg/rewards"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dialectPostgres = "postgres"

	pgCheckViolationCode         = "23514"
	constraintBalanceNonNegative = "users_balance_non_negative"
	sqliteConstraintCode         = 19

	errorOperationStore    = "store"
	errorSubjectSchema     = "schema"
	errorSubjectUser       = "user"
	errorSubjectBalance    = "balance"
	errorSubjectRewardLog  = "reward_log"
	errorSubjectCommission = "commission"
	errorSubjectWithdrawal = "withdrawal"
	errorSubjectAd         = "ad"
	errorSubjectReferral   = "referral"
	errorSubjectClaimLock  = "claim_lock"
	errorCodeMigrate       = "migrate"
	errorCodeAcquire       = "acquire"
	errorCodeEnsure        = "ensure"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeUpdate        = "update"
	errorCodeUpsert        = "upsert"

	sqlAdvisoryClaimLock = `select pg_advisory_xact_lock(hashtextextended('ad_claim:' || ?::text, 0))`

	sqlReferralActivity = `
		select u.id,
			coalesce(u.username, '-') as username,
			coalesce(sum(arl.amount), 0) as earned,
			coalesce(sum(case when rc.referrer_id = ? then rc.amount else 0 end), 0) as commission,
			min(arl.created_at) as joined_at
		from users u
		left join ad_reward_logs arl on arl.user_id = u.id
		left join referral_commissions rc on rc.referred_id = u.id
		where u.referred_by = ?
		group by u.id, u.username
		order by joined_at desc nulls last, u.id desc
	`
)

// Store implements rewards.Store using GORM. It backs the sqlite development
// deployment and runs schema migrations for both drivers.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema. Idempotent; called once at startup.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&User{}, &AdRewardLog{}, &ReferralCommission{}, &Withdrawal{}, &Ad{})
	if err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rewards.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockUserClaims serializes claim transactions per user. On postgres this is a
// transaction-scoped advisory lock. sqlite permits a single writer at a time,
// which already serializes the claim's read-check-credit sequence.
func (store *Store) LockUserClaims(ctx context.Context, userID rewards.UserID) error {
	if store.db.Dialector.Name() != dialectPostgres {
		return nil
	}
	if err := store.db.WithContext(ctx).Exec(sqlAdvisoryClaimLock, userID.Int64()).Error; err != nil {
		return wrapStoreError(errorSubjectClaimLock, errorCodeAcquire, err)
	}
	return nil
}

func (store *Store) EnsureUser(ctx context.Context, userID rewards.UserID) error {
	user := User{ID: userID.Int64(), Balance: decimal.Zero}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) InitUser(ctx context.Context, userID rewards.UserID, username string, referredBy *rewards.UserID) error {
	var usernameValue *string
	if username != "" {
		usernameValue = &username
	}
	var referredByValue *int64
	if referredBy != nil {
		value := referredBy.Int64()
		referredByValue = &value
	}
	user := User{ID: userID.Int64(), Username: usernameValue, Balance: decimal.Zero, ReferredBy: referredByValue}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"username":    clause.Expr{SQL: "coalesce(nullif(excluded.username, ''), users.username)"},
				"referred_by": clause.Expr{SQL: "coalesce(users.referred_by, excluded.referred_by)"},
				"updated_at":  time.Now().UTC(),
			}),
		}).
		Create(&user).Error
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID rewards.UserID) (rewards.Balance, error) {
	return store.readBalance(ctx, userID, false)
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, userID rewards.UserID) (rewards.Balance, error) {
	return store.readBalance(ctx, userID, true)
}

func (store *Store) readBalance(ctx context.Context, userID rewards.UserID, locked bool) (rewards.Balance, error) {
	query := store.db.WithContext(ctx)
	if locked && store.db.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user User
	err := query.Select("balance").Take(&user, "id = ?", userID.Int64()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rewards.ZeroBalance(), nil
	}
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := rewards.NewBalance(user.Balance)
	if err != nil {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) AddToBalance(ctx context.Context, userID rewards.UserID, amount rewards.Amount) (rewards.Balance, error) {
	return store.applyBalanceDelta(ctx, userID, gorm.Expr("balance + ?", amount.Decimal()))
}

func (store *Store) SubtractFromBalance(ctx context.Context, userID rewards.UserID, amount rewards.Amount) (rewards.Balance, error) {
	return store.applyBalanceDelta(ctx, userID, gorm.Expr("balance - ?", amount.Decimal()))
}

func (store *Store) applyBalanceDelta(ctx context.Context, userID rewards.UserID, delta clause.Expr) (rewards.Balance, error) {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID.Int64()).
		UpdateColumns(map[string]interface{}{
			"balance":    delta,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		if isBalanceCheckViolation(result.Error) {
			return rewards.Balance{}, rewards.WrapError(errorOperationStore, errorSubjectBalance, errorCodeUpdate, rewards.ErrInsufficientBalance)
		}
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return rewards.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, gorm.ErrRecordNotFound)
	}
	return store.readBalance(ctx, userID, false)
}

func (store *Store) LastRewardAt(ctx context.Context, userID rewards.UserID) (time.Time, bool, error) {
	var entry AdRewardLog
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Order("id desc").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapStoreError(errorSubjectRewardLog, errorCodeGet, err)
	}
	return entry.CreatedAt, true, nil
}

func (store *Store) InsertRewardLog(ctx context.Context, userID rewards.UserID, adID *rewards.AdID, amount rewards.Amount, at time.Time) error {
	var adIDValue *int64
	if adID != nil {
		value := adID.Int64()
		adIDValue = &value
	}
	entry := AdRewardLog{
		UserID:    userID.Int64(),
		AdID:      adIDValue,
		Amount:    amount.Decimal(),
		CreatedAt: at,
	}
	if err := store.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return wrapStoreError(errorSubjectRewardLog, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ReferredBy(ctx context.Context, userID rewards.UserID) (*rewards.UserID, error) {
	var user User
	err := store.db.WithContext(ctx).Select("referred_by").Take(&user, "id = ?", userID.Int64()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	if user.ReferredBy == nil {
		return nil, nil
	}
	referrerID, err := rewards.NewUserID(*user.ReferredBy)
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return &referrerID, nil
}

func (store *Store) InsertReferralCommission(ctx context.Context, referrerID rewards.UserID, referredID rewards.UserID, source string, amount rewards.Amount, at time.Time) error {
	commission := ReferralCommission{
		ReferrerID: referrerID.Int64(),
		ReferredID: referredID.Int64(),
		Source:     source,
		Amount:     amount.Decimal(),
		CreatedAt:  at,
	}
	if err := store.db.WithContext(ctx).Create(&commission).Error; err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertWithdrawal(ctx context.Context, userID rewards.UserID, amount rewards.Amount, method string, address string, at time.Time) (rewards.WithdrawalRequest, error) {
	var methodValue *string
	if method != "" {
		methodValue = &method
	}
	withdrawal := Withdrawal{
		UserID:    userID.Int64(),
		Amount:    amount.Decimal(),
		Method:    methodValue,
		Address:   address,
		Status:    rewards.WithdrawalStatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := store.db.WithContext(ctx).Create(&withdrawal).Error; err != nil {
		return rewards.WithdrawalRequest{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInsert, err)
	}
	return rewards.WithdrawalRequest{
		ID:        withdrawal.ID,
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Address:   address,
		Status:    withdrawal.Status,
		CreatedAt: withdrawal.CreatedAt,
	}, nil
}

func (store *Store) ListWithdrawals(ctx context.Context, userID rewards.UserID, limit int) ([]rewards.WithdrawalRequest, error) {
	var rows []Withdrawal
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeList, err)
	}
	requests := make([]rewards.WithdrawalRequest, 0, len(rows))
	for _, row := range rows {
		request, err := mapWithdrawal(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (store *Store) GetAd(ctx context.Context, adID rewards.AdID) (rewards.Ad, error) {
	var row Ad
	err := store.db.WithContext(ctx).
		Where("id = ? and active", adID.Int64()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rewards.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, rewards.ErrUnknownAd)
	}
	if err != nil {
		return rewards.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, err)
	}
	ad, err := mapAd(row)
	if err != nil {
		return rewards.Ad{}, wrapStoreError(errorSubjectAd, errorCodeInvalid, err)
	}
	return ad, nil
}

func (store *Store) ListActiveAds(ctx context.Context, limit int) ([]rewards.Ad, error) {
	var rows []Ad
	err := store.db.WithContext(ctx).
		Where("active").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	ads := make([]rewards.Ad, 0, len(rows))
	for _, row := range rows {
		ad, err := mapAd(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAd, errorCodeInvalid, err)
		}
		ads = append(ads, ad)
	}
	return ads, nil
}

func (store *Store) ReferralSummary(ctx context.Context, referrerID rewards.UserID) (rewards.ReferralSummary, error) {
	var rows []referralActivityRow
	err := store.db.WithContext(ctx).
		Raw(sqlReferralActivity, referrerID.Int64(), referrerID.Int64()).
		Scan(&rows).Error
	if err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeList, err)
	}
	referrals := make([]rewards.ReferralActivity, 0, len(rows))
	for _, row := range rows {
		referredID, err := rewards.NewUserID(row.ID)
		if err != nil {
			return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeInvalid, err)
		}
		referrals = append(referrals, rewards.ReferralActivity{
			UserID:     referredID,
			Username:   row.Username,
			Earned:     row.Earned,
			Commission: row.Commission,
			JoinedAt:   row.JoinedAt,
		})
	}
	var total totalRow
	err = store.db.WithContext(ctx).
		Model(&ReferralCommission{}).
		Select("coalesce(sum(amount), 0) as total").
		Where("referrer_id = ?", referrerID.Int64()).
		Scan(&total).Error
	if err != nil {
		return rewards.ReferralSummary{}, wrapStoreError(errorSubjectReferral, errorCodeGet, err)
	}
	return rewards.ReferralSummary{Referrals: referrals, TotalCommission: total.Total}, nil
}

type referralActivityRow struct {
	ID         int64
	Username   string
	Earned     decimal.Decimal
	Commission decimal.Decimal
	JoinedAt   *time.Time
}

type totalRow struct {
	Total decimal.Decimal
}

func mapWithdrawal(row Withdrawal) (rewards.WithdrawalRequest, error) {
	userID, err := rewards.NewUserID(row.UserID)
	if err != nil {
		return rewards.WithdrawalRequest{}, err
	}
	amount, err := rewards.NewAmount(row.Amount)
	if err != nil {
		return rewards.WithdrawalRequest{}, err
	}
	method := ""
	if row.Method != nil {
		method = *row.Method
	}
	return rewards.WithdrawalRequest{
		ID:        row.ID,
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Address:   row.Address,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
	}, nil
}

func mapAd(row Ad) (rewards.Ad, error) {
	adID, err := rewards.NewAdID(row.ID)
	if err != nil {
		return rewards.Ad{}, err
	}
	reward, err := rewards.NewAmount(row.Reward)
	if err != nil {
		return rewards.Ad{}, err
	}
	title := ""
	if row.Title != nil {
		title = *row.Title
	}
	return rewards.Ad{
		ID:          adID,
		Title:       title,
		MediaURL:    row.MediaURL,
		Reward:      reward,
		DurationSec: row.DurationSec,
	}, nil
}

func isBalanceCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode && pgErr.ConstraintName == constraintBalanceNonNegative
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func wrapStoreError(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, err)
}

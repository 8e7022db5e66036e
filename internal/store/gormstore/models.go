package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// User mirrors the users table. The id is the Telegram user id, never generated.
type User struct {
	ID         int64           `gorm:"primaryKey;autoIncrement:false"`
	Username   *string         `gorm:""`
	Balance    decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0;check:users_balance_non_negative,balance >= 0"`
	ReferredBy *int64          `gorm:"index"`
	CreatedAt  time.Time       `gorm:"not null"`
	UpdatedAt  time.Time       `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// AdRewardLog mirrors the ad_reward_logs table; rows are append-only.
type AdRewardLog struct {
	ID        int64           `gorm:"primaryKey"`
	UserID    int64           `gorm:"not null;index:idx_ad_reward_logs_user_id,priority:1"`
	AdID      *int64          `gorm:""`
	Amount    decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	CreatedAt time.Time       `gorm:"not null;index:idx_ad_reward_logs_user_id,priority:2"`
}

func (AdRewardLog) TableName() string { return "ad_reward_logs" }

// ReferralCommission mirrors the referral_commissions side-ledger.
type ReferralCommission struct {
	ID         int64           `gorm:"primaryKey"`
	ReferrerID int64           `gorm:"not null;index"`
	ReferredID int64           `gorm:"not null;index"`
	Source     string          `gorm:"not null"`
	Amount     decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

func (ReferralCommission) TableName() string { return "referral_commissions" }

// Withdrawal mirrors the withdrawals table.
type Withdrawal struct {
	ID        int64           `gorm:"primaryKey"`
	UserID    int64           `gorm:"not null;index:idx_withdrawals_user_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	Method    *string         `gorm:""`
	Address   string          `gorm:""`
	Status    string          `gorm:"not null;default:'pending'"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// Ad mirrors the ads catalog table.
type Ad struct {
	ID          int64           `gorm:"primaryKey"`
	Title       *string         `gorm:""`
	MediaURL    string          `gorm:"not null"`
	Reward      decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	DurationSec int             `gorm:"not null;default:16"`
	Active      bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (Ad) TableName() string { return "ads" }

package rewards

const (
	operationClaim    = "claim"
	operationInitUser = "init_user"
	operationWithdraw = "withdraw"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusCooldown = "cooldown"

	// CommissionSourceAdReward tags commissions originating from ad-view claims.
	CommissionSourceAdReward = "ad_reward"

	// WithdrawalStatusPending is the status every new payout request starts in.
	WithdrawalStatusPending = "pending"

	defaultAdListLimit      = 50
	defaultWithdrawalsLimit = 20
)

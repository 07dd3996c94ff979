package session

// Mode identifies what kind of trading session is active.
type Mode string

const (
	ModeIdle   Mode = "idle"
	ModeManual Mode = "manual"
	ModeSmart  Mode = "smart"
)

// Session is the mutable state of one trading run. The controller is its
// only mutator; everything else sees copies via Snapshot.
type Session struct {
	Mode              Mode
	CurrentTradeCount int
	MaxTradeCount     int // 0 = unlimited
	BaseAmount        float64
	BuyAmountRatio    float64 // 1.0 or 0.5, set by the policy in smart mode
}

// Snapshot is the read-only view served on /status.
type Snapshot struct {
	Mode              Mode    `json:"mode"`
	IsRunning         bool    `json:"is_running"`
	CurrentTradeCount int     `json:"current_trade_count"`
	MaxTradeCount     int     `json:"max_trade_count"`
	BaseAmount        float64 `json:"base_amount"`
	BuyAmountRatio    float64 `json:"buy_amount_ratio"`
	CanStartBuying    bool    `json:"can_start_buying"`
	DailyCount        int     `json:"daily_count"`
}

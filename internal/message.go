package internal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Inbound event types.
const (
	EventIdentifyUser = "identify_user"
	EventPlaceBet     = "place_bet"
	EventCancelBet    = "cancel_bet"
	EventAdminCommand = "admin_command"
)

// Outbound event types.
const (
	EventNewRound       = "new_round"
	EventCountdown      = "countdown_update"
	EventBetsClosed     = "bets_closed"
	EventSpinResult     = "spin_result"
	EventRoundComplete  = "round_complete"
	EventRoundCancelled = "round_cancelled"
	EventGameState      = "game_state"
	EventBetConfirmed   = "bet_confirmed"
	EventBetFailed      = "bet_failed"
	EventBetCancelled   = "bet_cancelled"
	EventPayoutReceived = "payout_received"
	EventPendingPayout  = "pending_payout"
	EventAdminFeedback  = "admin_feedback"
	EventAdminStats     = "admin_stats"
	EventAdminError     = "admin_error"
	EventAdminNewBet    = "admin_new_bet"
	EventAdminClearBets = "admin_clear_bets"
)

const (
	AdminForceSpin  = "force_spin"
	AdminGetStats   = "get_stats"
	AdminStartRound = "start_round"

	// AdminSpinNow is the older operator panel's name for force_spin.
	AdminSpinNow = "spin_now"
)

// BetValue accepts both `17` and `"17"` / `"red"` on the wire.
type BetValue string

func (v *BetValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = BetValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("bet value must be a string or number: %w", err)
	}
	*v = BetValue(n.String())
	return nil
}

type IdentifyUserData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type PlaceBetData struct {
	Type   string          `json:"type"`
	Value  BetValue        `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

type CancelBetData struct {
	BetID string `json:"betId"`
}

type AdminCommandData struct {
	Secret       string `json:"secret"`
	Command      string `json:"command"`
	ForcedNumber *int   `json:"forcedNumber,omitempty"`
}

type NewRoundData struct {
	RoundNumber int64     `json:"roundNumber"`
	Countdown   int       `json:"countdown"`
	Phase       GamePhase `json:"phase"`
}

type CountdownData struct {
	Countdown int       `json:"countdown"`
	Phase     GamePhase `json:"phase"`
}

type PhaseData struct {
	Phase GamePhase `json:"phase"`
}

type SpinResultData struct {
	Number int       `json:"number"`
	Phase  GamePhase `json:"phase"`
}

type RoundCompleteData struct {
	RoundNumber   int64           `json:"roundNumber"`
	WinningNumber int             `json:"winningNumber"`
	TotalBets     decimal.Decimal `json:"totalBets"`
	TotalPayouts  decimal.Decimal `json:"totalPayouts"`
}

type GameStateData struct {
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	Balance     decimal.Decimal `json:"balance"`
	RoundNumber int64           `json:"roundNumber"`
	Phase       GamePhase       `json:"phase"`
	Countdown   int             `json:"countdown"`
	Bets        []Bet           `json:"bets"`
}

type BetConfirmedData struct {
	BetID      string          `json:"betId"`
	Type       BetKind         `json:"type"`
	Value      string          `json:"value"`
	Amount     decimal.Decimal `json:"amount"`
	Multiplier int64           `json:"multiplier"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type BetCancelledData struct {
	BetID      string          `json:"betId"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type FeedbackData struct {
	Message string `json:"message"`
}

type RoundCancelledData struct {
	RoundNumber int64     `json:"roundNumber"`
	Phase       GamePhase `json:"phase"`
	Refunded    int       `json:"refunded"`
}

type PayoutReceivedData struct {
	Amount      decimal.Decimal `json:"amount"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	RoundNumber int64           `json:"roundNumber"`
}

type PendingPayoutData struct {
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type AdminNewBetData struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Type     BetKind         `json:"type"`
	Value    string          `json:"value"`
	Amount   decimal.Decimal `json:"amount"`
}

type AdminStatsData struct {
	RoundNumber       int64           `json:"roundNumber"`
	Phase             GamePhase       `json:"phase"`
	Countdown         int             `json:"countdown"`
	ConnectedClients  int             `json:"connectedClients"`
	IdentifiedUsers   int             `json:"identifiedUsers"`
	Sessions          int             `json:"sessions"`
	BetsThisRound     int             `json:"betsThisRound"`
	StakeThisRound    decimal.Decimal `json:"stakeThisRound"`
	RoundsCompleted   int64           `json:"roundsCompleted"`
	PersistenceErrors int64           `json:"persistenceErrors"`
	Discrepancies     int             `json:"discrepancies"`
}

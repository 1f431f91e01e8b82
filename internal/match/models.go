package match

import "time"

type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// Valid reports whether m is one of the three playable moves.
func (m Move) Valid() bool {
	switch m {
	case Rock, Paper, Scissors:
		return true
	}
	return false
}

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusRefunded
}

// WinnerDraw is stored in WinnerID when neither player wins.
const WinnerDraw = "draw"

type Match struct {
	ID           string
	CreatorID    string
	OpponentID   string
	Stake        int64
	CreatorMove  Move
	OpponentMove Move
	Status       Status
	WinnerID     string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Payout is a credit owed to a participant when a match closes.
type Payout struct {
	UserID string
	Amount int64
}

// IsParticipant reports whether userID is the creator or the opponent.
func (m Match) IsParticipant(userID string) bool {
	return userID != "" && (userID == m.CreatorID || userID == m.OpponentID)
}

// Pot is the total staked into the match once both players have entered.
func (m Match) Pot() int64 {
	if m.OpponentID == "" {
		return m.Stake
	}
	return 2 * m.Stake
}

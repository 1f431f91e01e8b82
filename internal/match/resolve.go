package match

type Outcome int

const (
	OutcomeDraw Outcome = iota
	OutcomeAWins
	OutcomeBWins
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAWins:
		return "a_wins"
	case OutcomeBWins:
		return "b_wins"
	default:
		return "draw"
	}
}

var beats = map[Move]Move{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// Resolve decides a round between move a and move b. Both moves must be valid.
func Resolve(a, b Move) Outcome {
	switch {
	case a == b:
		return OutcomeDraw
	case beats[a] == b:
		return OutcomeAWins
	default:
		return OutcomeBWins
	}
}

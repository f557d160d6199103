package workflow

// State is the processing stage of a billing record version
type State string

const (
	StateRaw       State = "RAW"
	StateExtracted State = "EXTRACTED"
	StateTipped    State = "TIPPED"
	StateTopical   State = "TOPICAL"
	StateFinal     State = "FINAL"
)

// stateRank orders the stages along the enrichment progression
var stateRank = map[State]int{
	StateRaw:       0,
	StateExtracted: 1,
	StateTipped:    2,
	StateTopical:   3,
	StateFinal:     4,
}

// IsTerminal returns true if no further enrichment is possible
func (s State) IsTerminal() bool {
	return s == StateFinal
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known stage
func (s State) IsValid() bool {
	_, ok := stateRank[s]
	return ok
}

// Reached reports whether s is at or beyond other in the progression
func (s State) Reached(other State) bool {
	return s.IsValid() && other.IsValid() && stateRank[s] >= stateRank[other]
}

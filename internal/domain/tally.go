package domain

// Tally is the displayed score of a request, derived from ledger facts.
type Tally struct {
	RequestID int64 `json:"request_id,string"`
	Up        int   `json:"up"`
	Down      int   `json:"down"`
	Boost     int   `json:"boost"`
	Total     int   `json:"total"`
}

// NewTally computes Total as Up - Down + Boost.
func NewTally(requestID int64, up, down, boost int) Tally {
	return Tally{RequestID: requestID, Up: up, Down: down, Boost: boost, Total: up - down + boost}
}

// ValidDirection reports whether d is a known vote direction.
func ValidDirection(d string) bool {
	return d == DirectionUp || d == DirectionDown
}

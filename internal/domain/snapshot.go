package domain

// Seat class names used throughout the engine. Priority ordering comes from
// the target configuration, not from this list.
const (
	SeatBusiness    = "business"
	SeatFirst       = "first"
	SeatSecond      = "second"
	SeatAdvSleeper  = "advanced_soft_sleeper"
	SeatSoftSleeper = "soft_sleeper"
	SeatHardSleeper = "hard_sleeper"
	SeatSoftSeat    = "soft_seat"
	SeatHardSeat    = "hard_seat"
	SeatStanding    = "standing"
)

// CountPlentiful is the normalized stand-in for the upstream's
// "plentiful" marker. Sold-out and blank markers normalize to 0.
const CountPlentiful = 999

// SeatSnapshot is one poll's normalized view of a single train.
// Never mutated after creation.
type SeatSnapshot struct {
	TrainCode   string
	SecretStr   string // session-scoped submit secret from the query row
	FromStation string
	ToStation   string
	DepartTime  string
	ArriveTime  string
	Date        string
	CanWebBuy   bool
	Counts      map[string]int // seat class -> normalized count
}

// Count returns the normalized count for a seat class, 0 if absent.
func (s *SeatSnapshot) Count(class string) int {
	return s.Counts[class]
}

// ChangeEvent is emitted when a fingerprint's normalized count differs from
// the last observed count. Previous is -1 on the first observation.
type ChangeEvent struct {
	Fingerprint Fingerprint
	Previous    int
	Current     int
	HasTicket   bool
	Snapshot    *SeatSnapshot
}

package domain

import "time"

// Fingerprint identifies one unit of change detection and order locking:
// a (train, travel date, seat class) tuple.
type Fingerprint struct {
	TrainCode string
	Date      string // YYYY-MM-DD
	SeatClass string
}

func (f Fingerprint) String() string {
	return f.TrainCode + "/" + f.Date + "/" + f.SeatClass
}

// MonitorTarget describes one watched route. Immutable after loading.
type MonitorTarget struct {
	Date        string   `json:"date"` // YYYY-MM-DD
	FromCode    string   `json:"from_code"`
	ToCode      string   `json:"to_code"`
	TrainCodes  []string `json:"train_codes"`  // empty = all trains
	SeatClasses []string `json:"seat_classes"` // priority order, highest first
	Priority    int      `json:"priority"`
	Passengers  []string `json:"passengers"` // passenger names to book for
}

// WantsTrain reports whether the target watches the given train code.
// An empty TrainCodes list matches every train.
func (t *MonitorTarget) WantsTrain(code string) bool {
	if len(t.TrainCodes) == 0 {
		return true
	}
	for _, c := range t.TrainCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Expired reports whether the target's travel date is already in the past.
func (t *MonitorTarget) Expired(now time.Time) bool {
	d, err := time.ParseInLocation("2006-01-02", t.Date, now.Location())
	if err != nil {
		return false
	}
	// A target stays live through the whole travel day.
	return now.After(d.Add(24 * time.Hour))
}

// Fingerprint builds the lock/detection key for one of the target's seat classes.
func (t *MonitorTarget) Fingerprint(trainCode, seatClass string) Fingerprint {
	return Fingerprint{TrainCode: trainCode, Date: t.Date, SeatClass: seatClass}
}

package domain

import "time"

// MonitorRecord is the persisted form of a ChangeEvent (append-only).
type MonitorRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TrainCode string `gorm:"index" json:"train_code"`
	Date      string `json:"date"`
	SeatClass string `json:"seat_class"`
	Previous  int    `json:"previous"`
	Current   int    `json:"current"`
	HasTicket bool   `json:"has_ticket"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderRecord is the persisted form of an OrderResult (append-only, status
// may be updated later from the payment flow).
type OrderRecord struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	TrainCode   string `gorm:"index" json:"train_code"`
	Date        string `json:"date"`
	SeatClass   string `json:"seat_class"`
	Success     bool   `json:"success"`
	OrderNo     string `gorm:"index" json:"order_no"`
	Price       string `json:"price"`
	FailureKind string `json:"failure_kind"`
	Message     string `json:"message"`
	Attempts    int    `json:"attempts"`
	Status      string `json:"status"` // "pending_payment", "paid", "cancelled"
	CreatedAt   time.Time `json:"created_at"`
}

// PassengerRecord caches account passengers so VALIDATING does not have to
// re-fetch them on every attempt.
type PassengerRecord struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"index" json:"name"`
	IDType string `json:"id_type"`
	IDNo   string `json:"id_no"`
	Mobile string `json:"mobile"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

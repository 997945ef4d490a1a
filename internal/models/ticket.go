package models

import "time"

type Ticket struct {
	TicketID  string    `json:"ticket_id"`
	PatientID *string   `json:"patient_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	VisitDate string    `json:"visit_date"`
	Session   string    `json:"session"`
	SeqNo     int       `json:"seq_no"`
	Done      bool      `json:"done"`
	Notified  bool      `json:"notified"`
}

const (
	SessionAM = "AM"
	SessionPM = "PM"
)

const (
	StatusWaiting = "waiting"
	StatusServed  = "served"
)

// Status derives the queue state from the done flag. There is no explicit
// in-progress state; the most recently served ticket is "now serving".
func (t Ticket) Status() string {
	if t.Done {
		return StatusServed
	}
	return StatusWaiting
}

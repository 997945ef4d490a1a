package store

import (
	"context"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
)

type RegisterPatientInput struct {
	Name           string
	Kana           string
	PetName        string
	Phone          string
	BirthDate      string
	Email          string
	CardNo         string
	CredentialHash string
	CreatedAt      time.Time
}

type CheckInInput struct {
	PatientID string
	Name      string
	VisitDate string
	Session   string
	CreatedAt time.Time
}

type ManualAddInput struct {
	Name      string
	VisitDate string
	Session   string
	CreatedAt time.Time
}

// Store is the repository contract for the queue core. All ticket state
// changes go through CheckInTicket, CallNextTicket, UndoLastTicket and
// ManualAddTicket; no other code path flips done or assigns seq_no.
type Store interface {
	RegisterPatient(ctx context.Context, input RegisterPatientInput) (models.Patient, error)
	GetPatient(ctx context.Context, patientID string) (models.Patient, bool, error)
	GetPatientByCard(ctx context.Context, cardNo string) (models.Patient, bool, error)

	// CheckInTicket returns the open ticket for (patient, visit date) if
	// one exists, otherwise allocates the next sequence number for the
	// date and creates a waiting ticket. The bool reports creation.
	CheckInTicket(ctx context.Context, input CheckInInput) (models.Ticket, bool, error)
	ManualAddTicket(ctx context.Context, input ManualAddInput) (models.Ticket, error)

	// CallNextTicket marks the smallest-sequence waiting ticket of the
	// date as served and returns it. ErrNoTicket when the queue is empty.
	CallNextTicket(ctx context.Context, visitDate string) (models.Ticket, error)
	// UndoLastTicket reverts the largest-sequence served ticket of the
	// date back to waiting. The notified flag is left untouched.
	UndoLastTicket(ctx context.Context, visitDate string) (models.Ticket, error)

	ListWaiting(ctx context.Context, visitDate string) ([]models.Ticket, error)
	LastServed(ctx context.Context, visitDate string) (models.Ticket, bool, error)
	ListRecentServed(ctx context.Context, visitDate string, limit int) ([]models.Ticket, error)

	MarkNotified(ctx context.Context, ticketID string) error
}

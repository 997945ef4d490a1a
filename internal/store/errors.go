package store

import "errors"

var (
	ErrNoTicket        = errors.New("no ticket available")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrDuplicateCard   = errors.New("card number already registered")
	ErrClinicClosed    = errors.New("clinic closed")
)

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/clock"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/metrics"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"
)

const recentServedLimit = 5

// Notifier is evaluated after each successful call-next transition. It
// must swallow its own failures; the transition has already happened.
type Notifier interface {
	AfterServe(ctx context.Context, served models.Ticket)
}

// Broadcaster receives the encoded queue snapshot after every state
// change, for live displays.
type Broadcaster interface {
	Broadcast(payload []byte)
}

type Snapshot struct {
	VisitDate    string          `json:"visit_date"`
	NowServing   *models.Ticket  `json:"now_serving"`
	Waiting      []models.Ticket `json:"waiting"`
	RecentServed []models.Ticket `json:"recent_served"`
}

// Service is the queue state machine. Every ticket mutation in the
// system goes through CheckIn, CallNext, UndoLast or ManualAdd.
type Service struct {
	store    store.Store
	clock    clock.Clock
	notifier Notifier
	hub      Broadcaster
	metrics  *metrics.Metrics
}

func NewService(st store.Store, clk clock.Clock, notifier Notifier, hub Broadcaster, m *metrics.Metrics) *Service {
	return &Service{
		store:    st,
		clock:    clk,
		notifier: notifier,
		hub:      hub,
		metrics:  m,
	}
}

// CheckIn finds or creates today's ticket for the card holder. Re-submits
// return the existing open ticket unchanged.
func (s *Service) CheckIn(ctx context.Context, cardNo string) (models.Ticket, bool, error) {
	patient, found, err := s.store.GetPatientByCard(ctx, cardNo)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !found {
		return models.Ticket{}, false, store.ErrPatientNotFound
	}

	today := s.clock.Today()
	session := s.clock.CurrentSession()
	if closed, reason := s.clock.IsClosed(today, session); closed {
		return models.Ticket{}, false, fmt.Errorf("%w: %s", store.ErrClinicClosed, reason)
	}

	ticket, created, err := s.store.CheckInTicket(ctx, store.CheckInInput{
		PatientID: patient.PatientID,
		Name:      patient.Name,
		VisitDate: today,
		Session:   session,
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if created {
		s.metrics.TicketsCreated.WithLabelValues("checkin").Inc()
		s.broadcast(ctx, today)
	} else {
		s.metrics.TicketsReused.Inc()
	}
	return ticket, created, nil
}

// CallNext serves the front of today's queue. Notification evaluation
// runs only on a successful transition and cannot abort it.
func (s *Service) CallNext(ctx context.Context) (models.Ticket, error) {
	today := s.clock.Today()
	ticket, err := s.store.CallNextTicket(ctx, today)
	if err != nil {
		return models.Ticket{}, err
	}
	s.metrics.TicketsCalled.Inc()
	log.Printf("call-next ticket=%s seq=%d status=%s", ticket.TicketID, ticket.SeqNo, ticket.Status())
	if s.notifier != nil {
		s.notifier.AfterServe(ctx, ticket)
	}
	s.broadcast(ctx, today)
	return ticket, nil
}

// UndoLast reverts the most recent serve. The notified flag of the
// reverted ticket is not cleared.
func (s *Service) UndoLast(ctx context.Context) (models.Ticket, error) {
	today := s.clock.Today()
	ticket, err := s.store.UndoLastTicket(ctx, today)
	if err != nil {
		return models.Ticket{}, err
	}
	s.metrics.TicketsUndone.Inc()
	log.Printf("undo ticket=%s seq=%d status=%s", ticket.TicketID, ticket.SeqNo, ticket.Status())
	s.broadcast(ctx, today)
	return ticket, nil
}

// ManualAdd appends an unowned ticket to today's queue.
func (s *Service) ManualAdd(ctx context.Context, name string) (models.Ticket, error) {
	today := s.clock.Today()
	ticket, err := s.store.ManualAddTicket(ctx, store.ManualAddInput{
		Name:      name,
		VisitDate: today,
		Session:   s.clock.CurrentSession(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	s.metrics.TicketsCreated.WithLabelValues("manual").Inc()
	s.broadcast(ctx, today)
	return ticket, nil
}

func (s *Service) Snapshot(ctx context.Context, visitDate string) (Snapshot, error) {
	if visitDate == "" {
		visitDate = s.clock.Today()
	}
	waiting, err := s.store.ListWaiting(ctx, visitDate)
	if err != nil {
		return Snapshot{}, err
	}
	recent, err := s.store.ListRecentServed(ctx, visitDate, recentServedLimit)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{
		VisitDate:    visitDate,
		Waiting:      waiting,
		RecentServed: recent,
	}
	last, found, err := s.store.LastServed(ctx, visitDate)
	if err != nil {
		return Snapshot{}, err
	}
	if found {
		snapshot.NowServing = &last
	}
	return snapshot, nil
}

func (s *Service) broadcast(ctx context.Context, visitDate string) {
	if s.hub == nil {
		return
	}
	snapshot, err := s.Snapshot(ctx, visitDate)
	if err != nil {
		log.Printf("queue broadcast snapshot: %v", err)
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("queue broadcast encode: %v", err)
		return
	}
	s.hub.Broadcast(payload)
}

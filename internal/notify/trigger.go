package notify

import (
	"context"
	"log"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/metrics"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"
)

const DefaultLeadDistance = 2

// Trigger sends a one-shot proximity notice after each successful
// call-next. It is an edge trigger keyed by ticket: no background
// polling, no re-evaluation without another queue advance.
type Trigger struct {
	store    store.Store
	mailer   Mailer
	composer Composer
	metrics  *metrics.Metrics
	lead     int
	timeout  time.Duration
}

type Options struct {
	LeadDistance int
	Timeout      time.Duration
	Composer     Composer
}

func NewTrigger(st store.Store, mailer Mailer, m *metrics.Metrics, options Options) *Trigger {
	lead := options.LeadDistance
	if lead <= 0 {
		lead = DefaultLeadDistance
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Trigger{
		store:    st,
		mailer:   mailer,
		composer: options.Composer,
		metrics:  m,
		lead:     lead,
		timeout:  timeout,
	}
}

// AfterServe evaluates the waiting list as it stands after the serve and
// notifies the ticket at the lead position, once per ticket ever. Errors
// never escape: a failed dispatch leaves the notified flag unset so the
// next advance retries, and a target that has left the window is simply
// never notified.
func (t *Trigger) AfterServe(ctx context.Context, served models.Ticket) {
	waiting, err := t.store.ListWaiting(ctx, served.VisitDate)
	if err != nil {
		log.Printf("notify list waiting: %v", err)
		return
	}
	if len(waiting) < t.lead {
		return
	}
	target := waiting[t.lead-1]
	if target.Notified {
		return
	}
	if target.PatientID == nil {
		return
	}
	patient, found, err := t.store.GetPatient(ctx, *target.PatientID)
	if err != nil {
		log.Printf("notify patient lookup: %v", err)
		return
	}
	if !found || patient.Email == "" {
		return
	}

	subject, body := t.composer.ComposeLeadNotice(target, patient.Name, t.lead)

	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.mailer.Send(sendCtx, patient.Email, subject, body); err != nil {
		// Flag stays false; the next call-next retries against the
		// same ticket while it remains inside the lead window.
		log.Printf("notify dispatch ticket=%s seq=%d: %v", target.TicketID, target.SeqNo, err)
		t.metrics.Notifications.WithLabelValues("failed").Inc()
		return
	}
	if err := t.store.MarkNotified(ctx, target.TicketID); err != nil {
		log.Printf("notify mark ticket=%s: %v", target.TicketID, err)
	}
	t.metrics.Notifications.WithLabelValues("sent").Inc()
	log.Printf("notified ticket=%s seq=%d to=%s", target.TicketID, target.SeqNo, patient.Email)
}

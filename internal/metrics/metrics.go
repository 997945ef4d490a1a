package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TicketsCreated *prometheus.CounterVec
	TicketsReused  prometheus.Counter
	TicketsCalled  prometheus.Counter
	TicketsUndone  prometheus.Counter
	Notifications  *prometheus.CounterVec
	HTTPRequests   prometheus.Counter
	HTTPErrors     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qtime_tickets_created_total",
			Help: "Tickets created, by source.",
		}, []string{"source"}),
		TicketsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtime_tickets_reused_total",
			Help: "Check-ins that reused an existing open ticket.",
		}),
		TicketsCalled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtime_tickets_called_total",
			Help: "Successful call-next transitions.",
		}),
		TicketsUndone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtime_tickets_undone_total",
			Help: "Successful undo transitions.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qtime_notifications_total",
			Help: "Notification dispatch outcomes.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtime_http_requests_total",
			Help: "HTTP requests served.",
		}),
		HTTPErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qtime_http_request_errors_total",
			Help: "HTTP responses with status >= 400.",
		}),
	}
	reg.MustRegister(
		m.TicketsCreated,
		m.TicketsReused,
		m.TicketsCalled,
		m.TicketsUndone,
		m.Notifications,
		m.HTTPRequests,
		m.HTTPErrors,
	)
	return m
}

// NewTesting returns metrics bound to a throwaway registry.
func NewTesting() *Metrics {
	return New(prometheus.NewRegistry())
}

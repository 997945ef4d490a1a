package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			patient_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			kana TEXT NOT NULL DEFAULT '',
			pet_name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			birth_date TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			card_no TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id UUID PRIMARY KEY,
			patient_id UUID REFERENCES patients(patient_id),
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			visit_date DATE NOT NULL,
			session TEXT NOT NULL,
			seq_no INTEGER,
			done BOOLEAN NOT NULL DEFAULT FALSE,
			notified BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_date_seq
			ON tickets (visit_date, seq_no)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_patient_open
			ON tickets (patient_id, visit_date) WHERE NOT done AND patient_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS ticket_sequences (
			visit_date DATE PRIMARY KEY,
			next_seq INTEGER NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error) {
	patient := models.Patient{
		PatientID:      uuid.NewString(),
		Name:           input.Name,
		Kana:           input.Kana,
		PetName:        input.PetName,
		Phone:          input.Phone,
		BirthDate:      input.BirthDate,
		Email:          input.Email,
		CardNo:         input.CardNo,
		CredentialHash: input.CredentialHash,
		CreatedAt:      input.CreatedAt,
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (patient_id, name, kana, pet_name, phone, birth_date, email, card_no, credential_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, patient.PatientID, patient.Name, patient.Kana, patient.PetName, patient.Phone, patient.BirthDate, patient.Email, patient.CardNo, patient.CredentialHash, patient.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Patient{}, store.ErrDuplicateCard
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, bool, error) {
	return s.getPatient(ctx, `WHERE patient_id = $1`, patientID)
}

func (s *Store) GetPatientByCard(ctx context.Context, cardNo string) (models.Patient, bool, error) {
	return s.getPatient(ctx, `WHERE card_no = $1`, cardNo)
}

func (s *Store) getPatient(ctx context.Context, where string, arg any) (models.Patient, bool, error) {
	var patient models.Patient
	row := s.pool.QueryRow(ctx, `
		SELECT patient_id, name, kana, pet_name, phone, birth_date, email, card_no, credential_hash, created_at
		FROM patients `+where, arg)
	if err := row.Scan(&patient.PatientID, &patient.Name, &patient.Kana, &patient.PetName, &patient.Phone, &patient.BirthDate, &patient.Email, &patient.CardNo, &patient.CredentialHash, &patient.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, false, nil
		}
		return models.Patient{}, false, err
	}
	return patient, true, nil
}

func (s *Store) CheckInTicket(ctx context.Context, input store.CheckInInput) (models.Ticket, bool, error) {
	existing, found, err := s.findOpenTicket(ctx, input.PatientID, input.VisitDate)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		return existing, false, nil
	}

	ticket, err := s.insertTicket(ctx, &input.PatientID, input.Name, input.VisitDate, input.Session, input.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost the race against a concurrent check-in for the same
			// patient; the open ticket it created is ours to reuse.
			existing, found, err := s.findOpenTicket(ctx, input.PatientID, input.VisitDate)
			if err != nil {
				return models.Ticket{}, false, err
			}
			if found {
				return existing, false, nil
			}
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ManualAddTicket(ctx context.Context, input store.ManualAddInput) (models.Ticket, error) {
	ticket, err := s.insertTicket(ctx, nil, input.Name, input.VisitDate, input.Session, input.CreatedAt)
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) insertTicket(ctx context.Context, patientID *string, name, visitDate, session string, createdAt time.Time) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextSeqNo(ctx, tx, visitDate)
	if err != nil {
		return models.Ticket{}, err
	}

	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ticket := models.Ticket{
		TicketID:  uuid.NewString(),
		PatientID: patientID,
		Name:      name,
		CreatedAt: createdAt,
		VisitDate: visitDate,
		Session:   session,
		SeqNo:     seq,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, patient_id, name, created_at, visit_date, session, seq_no, done, notified)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,FALSE,FALSE)
	`, ticket.TicketID, patientID, ticket.Name, ticket.CreatedAt, visitDate, session, seq)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// nextSeqNo atomically advances the per-date counter and returns the new
// value. Allocation and ticket insert share one transaction, so no two
// tickets on a date can observe the same number.
func nextSeqNo(ctx context.Context, tx pgx.Tx, visitDate string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (visit_date, next_seq)
		VALUES ($1::date, 1)
		ON CONFLICT (visit_date)
		DO UPDATE SET next_seq = ticket_sequences.next_seq + 1
		RETURNING next_seq
	`, visitDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) findOpenTicket(ctx context.Context, patientID, visitDate string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, ticketSelect+`
		WHERE patient_id = $1 AND visit_date = $2::date AND NOT done
		LIMIT 1
	`, patientID, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CallNextTicket(ctx context.Context, visitDate string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE visit_date = $1::date AND NOT done
			ORDER BY seq_no ASC NULLS LAST, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET done = TRUE
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING tickets.ticket_id, tickets.patient_id, tickets.name, tickets.created_at, tickets.visit_date::text, tickets.session, tickets.seq_no, tickets.done, tickets.notified
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) UndoLastTicket(ctx context.Context, visitDate string) (models.Ticket, error) {
	// The notified flag is deliberately not cleared: a patient notified
	// before an undo is not notified again later the same day.
	row := s.pool.QueryRow(ctx, `
		WITH last_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE visit_date = $1::date AND done
			ORDER BY seq_no DESC NULLS FIRST, created_at DESC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET done = FALSE
		FROM last_ticket
		WHERE tickets.ticket_id = last_ticket.ticket_id
		RETURNING tickets.ticket_id, tickets.patient_id, tickets.name, tickets.created_at, tickets.visit_date::text, tickets.session, tickets.seq_no, tickets.done, tickets.notified
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, visitDate string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, ticketSelect+`
		WHERE visit_date = $1::date AND NOT done
		ORDER BY seq_no ASC NULLS LAST, created_at ASC
	`, visitDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) LastServed(ctx context.Context, visitDate string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, ticketSelect+`
		WHERE visit_date = $1::date AND done
		ORDER BY seq_no DESC NULLS FIRST, created_at DESC
		LIMIT 1
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListRecentServed(ctx context.Context, visitDate string, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, ticketSelect+`
		WHERE visit_date = $1::date AND done
		ORDER BY seq_no DESC NULLS FIRST, created_at DESC
		LIMIT $2
	`, visitDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) MarkNotified(ctx context.Context, ticketID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET notified = TRUE
		WHERE ticket_id = $1
	`, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

const ticketSelect = `
	SELECT ticket_id, patient_id, name, created_at, visit_date::text, session, seq_no, done, notified
	FROM tickets`

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (models.Ticket, error) {
	var ticket models.Ticket
	var patientIDNull sql.NullString
	var seqNoNull sql.NullInt64
	if err := row.Scan(&ticket.TicketID, &patientIDNull, &ticket.Name, &ticket.CreatedAt, &ticket.VisitDate, &ticket.Session, &seqNoNull, &ticket.Done, &ticket.Notified); err != nil {
		return models.Ticket{}, err
	}
	if patientIDNull.Valid {
		value := patientIDNull.String
		ticket.PatientID = &value
	}
	if seqNoNull.Valid {
		ticket.SeqNo = int(seqNoNull.Int64)
	}
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store is the embedded default backend. A single write connection
// serializes sequence allocation; sqlite has no row locks to lean on.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			patient_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kana TEXT NOT NULL DEFAULT '',
			pet_name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			birth_date TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			card_no TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			patient_id TEXT REFERENCES patients(patient_id),
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			visit_date TEXT NOT NULL,
			session TEXT NOT NULL,
			seq_no INTEGER,
			done INTEGER NOT NULL DEFAULT 0,
			notified INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_date_seq
			ON tickets (visit_date, seq_no)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_patient_open
			ON tickets (patient_id, visit_date) WHERE done = 0 AND patient_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS ticket_sequences (
			visit_date TEXT PRIMARY KEY,
			next_seq INTEGER NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (patient_id, name, kana, pet_name, phone, birth_date, email, card_no, credential_hash, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, patient.PatientID, patient.Name, patient.Kana, patient.PetName, patient.Phone, patient.BirthDate, patient.Email, patient.CardNo, patient.CredentialHash, patient.CreatedAt.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Patient{}, store.ErrDuplicateCard
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, bool, error) {
	return s.getPatient(ctx, `WHERE patient_id = ?`, patientID)
}

func (s *Store) GetPatientByCard(ctx context.Context, cardNo string) (models.Patient, bool, error) {
	return s.getPatient(ctx, `WHERE card_no = ?`, cardNo)
}

func (s *Store) getPatient(ctx context.Context, where string, arg any) (models.Patient, bool, error) {
	var patient models.Patient
	var createdAt string
	row := s.db.QueryRowContext(ctx, `
		SELECT patient_id, name, kana, pet_name, phone, birth_date, email, card_no, credential_hash, created_at
		FROM patients `+where, arg)
	if err := row.Scan(&patient.PatientID, &patient.Name, &patient.Kana, &patient.PetName, &patient.Phone, &patient.BirthDate, &patient.Email, &patient.CardNo, &patient.CredentialHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Patient{}, false, nil
		}
		return models.Patient{}, false, err
	}
	patient.CreatedAt = parseTime(createdAt)
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
		if isUniqueViolation(err) {
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
	return s.insertTicket(ctx, nil, input.Name, input.VisitDate, input.Session, input.CreatedAt)
}

func (s *Store) insertTicket(ctx context.Context, patientID *string, name, visitDate, session string, createdAt time.Time) (models.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int
	row := tx.QueryRowContext(ctx, `
		INSERT INTO ticket_sequences (visit_date, next_seq)
		VALUES (?, 1)
		ON CONFLICT (visit_date)
		DO UPDATE SET next_seq = next_seq + 1
		RETURNING next_seq
	`, visitDate)
	if err = row.Scan(&seq); err != nil {
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (ticket_id, patient_id, name, created_at, visit_date, session, seq_no, done, notified)
		VALUES (?,?,?,?,?,?,?,0,0)
	`, ticket.TicketID, patientID, ticket.Name, ticket.CreatedAt.Format(timeLayout), visitDate, session, seq)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) findOpenTicket(ctx context.Context, patientID, visitDate string) (models.Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, ticketSelect+`
		WHERE patient_id = ? AND visit_date = ? AND done = 0
		LIMIT 1
	`, patientID, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CallNextTicket(ctx context.Context, visitDate string) (models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tickets
		SET done = 1
		WHERE ticket_id = (
			SELECT ticket_id
			FROM tickets
			WHERE visit_date = ? AND done = 0
			ORDER BY seq_no IS NULL, seq_no ASC, created_at ASC
			LIMIT 1
		)
		RETURNING ticket_id, patient_id, name, created_at, visit_date, session, seq_no, done, notified
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) UndoLastTicket(ctx context.Context, visitDate string) (models.Ticket, error) {
	// notified is left as-is on purpose; an undone ticket is not
	// re-notified when served again.
	row := s.db.QueryRowContext(ctx, `
		UPDATE tickets
		SET done = 0
		WHERE ticket_id = (
			SELECT ticket_id
			FROM tickets
			WHERE visit_date = ? AND done = 1
			ORDER BY seq_no IS NOT NULL DESC, seq_no DESC, created_at DESC
			LIMIT 1
		)
		RETURNING ticket_id, patient_id, name, created_at, visit_date, session, seq_no, done, notified
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context, visitDate string) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, ticketSelect+`
		WHERE visit_date = ? AND done = 0
		ORDER BY seq_no IS NULL, seq_no ASC, created_at ASC
	`, visitDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) LastServed(ctx context.Context, visitDate string) (models.Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, ticketSelect+`
		WHERE visit_date = ? AND done = 1
		ORDER BY seq_no IS NOT NULL DESC, seq_no DESC, created_at DESC
		LIMIT 1
	`, visitDate)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, ticketSelect+`
		WHERE visit_date = ? AND done = 1
		ORDER BY seq_no IS NOT NULL DESC, seq_no DESC, created_at DESC
		LIMIT ?
	`, visitDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) MarkNotified(ctx context.Context, ticketID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET notified = 1
		WHERE ticket_id = ?
	`, ticketID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

const ticketSelect = `
	SELECT ticket_id, patient_id, name, created_at, visit_date, session, seq_no, done, notified
	FROM tickets`

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (models.Ticket, error) {
	var ticket models.Ticket
	var patientIDNull sql.NullString
	var seqNoNull sql.NullInt64
	var createdAt string
	var done, notified int
	if err := row.Scan(&ticket.TicketID, &patientIDNull, &ticket.Name, &createdAt, &ticket.VisitDate, &ticket.Session, &seqNoNull, &done, &notified); err != nil {
		return models.Ticket{}, err
	}
	if patientIDNull.Valid {
		value := patientIDNull.String
		ticket.PatientID = &value
	}
	if seqNoNull.Valid {
		ticket.SeqNo = int(seqNoNull.Int64)
	}
	ticket.CreatedAt = parseTime(createdAt)
	ticket.Done = done == 1
	ticket.Notified = notified == 1
	return ticket, nil
}

func collectTickets(rows *sql.Rows) ([]models.Ticket, error) {
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

func parseTime(value string) time.Time {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

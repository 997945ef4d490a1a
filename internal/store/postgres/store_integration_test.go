package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDate = "2026-08-28"

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(pool.Close)

	st := NewStore(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE tickets, ticket_sequences, patients`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return st
}

func registerPatient(t *testing.T, ctx context.Context, st *Store, name string) models.Patient {
	t.Helper()
	patient, err := st.RegisterPatient(ctx, store.RegisterPatientInput{
		Name:           name,
		PetName:        "Pochi",
		CardNo:         uuid.NewString(),
		CredentialHash: "x",
	})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return patient
}

func TestConcurrentCheckInsIntegration(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	const n = 24

	patients := make([]models.Patient, n)
	for i := range patients {
		patients[i] = registerPatient(t, ctx, st, fmt.Sprintf("patient-%d", i))
	}

	var wg sync.WaitGroup
	seqs := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p models.Patient) {
			defer wg.Done()
			ticket, _, err := st.CheckInTicket(ctx, store.CheckInInput{
				PatientID: p.PatientID,
				Name:      p.Name,
				VisitDate: testDate,
				Session:   models.SessionAM,
			})
			if err != nil {
				t.Errorf("concurrent check in: %v", err)
				return
			}
			seqs <- ticket.SeqNo
		}(patients[i])
	}
	wg.Wait()
	close(seqs)

	var got []int
	for seq := range seqs {
		got = append(got, seq)
	}
	sort.Ints(got)
	if len(got) != n {
		t.Fatalf("expected %d tickets, got %d", n, len(got))
	}
	for i, seq := range got {
		if seq != i+1 {
			t.Fatalf("sequence numbers not contiguous: %v", got)
		}
	}
}

func TestConcurrentSameCardCheckInIntegration(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	patient := registerPatient(t, ctx, st, "patient")

	const n = 8
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, _, err := st.CheckInTicket(ctx, store.CheckInInput{
				PatientID: patient.PatientID,
				Name:      patient.Name,
				VisitDate: testDate,
				Session:   models.SessionAM,
			})
			if err != nil {
				t.Errorf("check in: %v", err)
				return
			}
			ids <- ticket.TicketID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("same patient received %d distinct tickets", len(seen))
	}
}

func TestQueueRoundTripIntegration(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	for i := 0; i < 3; i++ {
		_, _, err := st.CheckInTicket(ctx, store.CheckInInput{
			PatientID: registerPatient(t, ctx, st, fmt.Sprintf("patient-%d", i)).PatientID,
			Name:      fmt.Sprintf("patient-%d", i),
			VisitDate: testDate,
			Session:   models.SessionAM,
		})
		if err != nil {
			t.Fatalf("check in: %v", err)
		}
	}

	served, err := st.CallNextTicket(ctx, testDate)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if served.SeqNo != 1 {
		t.Fatalf("served seq = %d, want 1", served.SeqNo)
	}

	undone, err := st.UndoLastTicket(ctx, testDate)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.SeqNo != 1 || undone.Done {
		t.Fatalf("unexpected undone ticket: %+v", undone)
	}

	if _, err := st.UndoLastTicket(ctx, testDate); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"

	"github.com/google/uuid"
)

const testDate = "2026-08-28"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "qtime.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func registerPatient(t *testing.T, st *Store, name string) models.Patient {
	t.Helper()
	patient, err := st.RegisterPatient(context.Background(), store.RegisterPatientInput{
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

func checkIn(t *testing.T, st *Store, patient models.Patient) models.Ticket {
	t.Helper()
	ticket, _, err := st.CheckInTicket(context.Background(), store.CheckInInput{
		PatientID: patient.PatientID,
		Name:      patient.Name,
		VisitDate: testDate,
		Session:   models.SessionAM,
	})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	return ticket
}

func TestSequenceContiguousFromOne(t *testing.T) {
	st := newTestStore(t)
	for i := 1; i <= 4; i++ {
		ticket := checkIn(t, st, registerPatient(t, st, fmt.Sprintf("patient-%d", i)))
		if ticket.SeqNo != i {
			t.Fatalf("ticket %d got seq %d", i, ticket.SeqNo)
		}
	}
}

func TestCheckInIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	patient := registerPatient(t, st, "patient")

	first := checkIn(t, st, patient)
	second, created, err := st.CheckInTicket(context.Background(), store.CheckInInput{
		PatientID: patient.PatientID,
		Name:      patient.Name,
		VisitDate: testDate,
		Session:   models.SessionAM,
	})
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if created {
		t.Fatalf("second check-in created a new ticket")
	}
	if second.TicketID != first.TicketID {
		t.Fatalf("second check-in returned %s, want %s", second.TicketID, first.TicketID)
	}
}

func TestConcurrentCheckInsAllocateUniqueContiguousSeqs(t *testing.T) {
	st := newTestStore(t)
	const n = 16

	patients := make([]models.Patient, n)
	for i := range patients {
		patients[i] = registerPatient(t, st, fmt.Sprintf("patient-%d", i))
	}

	var wg sync.WaitGroup
	seqs := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p models.Patient) {
			defer wg.Done()
			ticket, _, err := st.CheckInTicket(context.Background(), store.CheckInInput{
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

func TestCallNextServesSmallestSeq(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		checkIn(t, st, registerPatient(t, st, fmt.Sprintf("patient-%d", i)))
	}

	served, err := st.CallNextTicket(ctx, testDate)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if served.SeqNo != 1 || !served.Done {
		t.Fatalf("unexpected served ticket: %+v", served)
	}

	waiting, err := st.ListWaiting(ctx, testDate)
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(waiting) != 2 || waiting[0].SeqNo != 2 || waiting[1].SeqNo != 3 {
		t.Fatalf("unexpected waiting list: %+v", waiting)
	}
}

func TestCallNextOnEmptyDay(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.CallNextTicket(context.Background(), testDate); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if _, err := st.UndoLastTicket(context.Background(), testDate); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket on undo, got %v", err)
	}
}

func TestUndoRestoresFrontOfQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		checkIn(t, st, registerPatient(t, st, fmt.Sprintf("patient-%d", i)))
	}
	if _, err := st.CallNextTicket(ctx, testDate); err != nil {
		t.Fatalf("call next: %v", err)
	}

	undone, err := st.UndoLastTicket(ctx, testDate)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.SeqNo != 1 || undone.Done {
		t.Fatalf("unexpected undone ticket: %+v", undone)
	}

	waiting, err := st.ListWaiting(ctx, testDate)
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(waiting) != 3 || waiting[0].SeqNo != 1 {
		t.Fatalf("undone ticket not back at front: %+v", waiting)
	}
}

func TestUndoKeepsNotifiedFlag(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ticket := checkIn(t, st, registerPatient(t, st, "patient"))

	if err := st.MarkNotified(ctx, ticket.TicketID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if _, err := st.CallNextTicket(ctx, testDate); err != nil {
		t.Fatalf("call next: %v", err)
	}
	undone, err := st.UndoLastTicket(ctx, testDate)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !undone.Notified {
		t.Fatalf("undo cleared the notified flag")
	}
}

func TestManualAddContinuesSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		checkIn(t, st, registerPatient(t, st, fmt.Sprintf("patient-%d", i)))
	}

	ticket, err := st.ManualAddTicket(ctx, store.ManualAddInput{
		Name:      "walk-in",
		VisitDate: testDate,
		Session:   models.SessionPM,
	})
	if err != nil {
		t.Fatalf("manual add: %v", err)
	}
	if ticket.SeqNo != 6 {
		t.Fatalf("manual ticket seq = %d, want 6", ticket.SeqNo)
	}
	if ticket.PatientID != nil {
		t.Fatalf("manual ticket should have no owning patient")
	}
}

func TestSequencesAreIndependentPerDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	checkIn(t, st, registerPatient(t, st, "patient"))

	other, err := st.ManualAddTicket(ctx, store.ManualAddInput{
		Name:      "walk-in",
		VisitDate: "2026-08-29",
		Session:   models.SessionAM,
	})
	if err != nil {
		t.Fatalf("manual add: %v", err)
	}
	if other.SeqNo != 1 {
		t.Fatalf("new date should restart at 1, got %d", other.SeqNo)
	}
}

func TestLastServedAndRecentHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		checkIn(t, st, registerPatient(t, st, fmt.Sprintf("patient-%d", i)))
	}
	for i := 0; i < 6; i++ {
		if _, err := st.CallNextTicket(ctx, testDate); err != nil {
			t.Fatalf("call next %d: %v", i, err)
		}
	}

	last, found, err := st.LastServed(ctx, testDate)
	if err != nil || !found {
		t.Fatalf("last served: found=%v err=%v", found, err)
	}
	if last.SeqNo != 6 {
		t.Fatalf("last served seq = %d, want 6", last.SeqNo)
	}

	recent, err := st.ListRecentServed(ctx, testDate, 5)
	if err != nil {
		t.Fatalf("recent served: %v", err)
	}
	if len(recent) != 5 || recent[0].SeqNo != 6 || recent[4].SeqNo != 2 {
		t.Fatalf("unexpected recent history: %+v", recent)
	}
}

func TestRegisterDuplicateCard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	input := store.RegisterPatientInput{
		Name:           "patient",
		PetName:        "Tama",
		CardNo:         "C-0001",
		CredentialHash: "x",
	}
	if _, err := st.RegisterPatient(ctx, input); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := st.RegisterPatient(ctx, input); !errors.Is(err, store.ErrDuplicateCard) {
		t.Fatalf("expected ErrDuplicateCard, got %v", err)
	}
}

func TestGetPatientByCard(t *testing.T) {
	st := newTestStore(t)
	patient := registerPatient(t, st, "patient")

	got, found, err := st.GetPatientByCard(context.Background(), patient.CardNo)
	if err != nil || !found {
		t.Fatalf("get by card: found=%v err=%v", found, err)
	}
	if got.PatientID != patient.PatientID {
		t.Fatalf("got patient %s, want %s", got.PatientID, patient.PatientID)
	}

	_, found, err = st.GetPatientByCard(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if found {
		t.Fatalf("expected missing card to not be found")
	}
}

package notify

import (
	"strings"
	"testing"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
)

func TestComposeLeadNoticeJapanese(t *testing.T) {
	composer := Composer{
		Clinic:    "ひらいずみ動物病院",
		Tel:       "0191-00-0000",
		StatusURL: "https://example.com/status",
	}
	ticket := models.Ticket{SeqNo: 7, Session: models.SessionAM, VisitDate: "2026-02-03"}

	subject, body := composer.ComposeLeadNotice(ticket, "佐藤", 2)

	if !strings.Contains(subject, "あと2名") {
		t.Fatalf("subject = %q, want the lead count", subject)
	}
	if !strings.Contains(subject, "受付No.7") {
		t.Fatalf("subject = %q, want the seq no", subject)
	}
	for _, want := range []string{"佐藤 様", "ひらいずみ動物病院", "0191-00-0000", "https://example.com/status", "2026-02-03"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(subject+body, "{") {
		t.Fatalf("unreplaced placeholder left in message:\n%s\n%s", subject, body)
	}
}

func TestComposeLeadNoticeEnglish(t *testing.T) {
	composer := Composer{Clinic: "Hiraizumi Animal Clinic", Lang: "en"}
	ticket := models.Ticket{SeqNo: 3, Session: models.SessionPM, VisitDate: "2026-02-03"}

	subject, body := composer.ComposeLeadNotice(ticket, "Smith", 2)

	if !strings.Contains(subject, "2 ahead") {
		t.Fatalf("subject = %q, want the lead count", subject)
	}
	if !strings.Contains(body, "Dear Smith") {
		t.Fatalf("body = %q, want the patient name", body)
	}
}

func TestComposeLeadNoticeFallbackName(t *testing.T) {
	composer := Composer{Clinic: "clinic"}
	_, body := composer.ComposeLeadNotice(models.Ticket{SeqNo: 1}, "", 2)
	if !strings.Contains(body, "お客様") {
		t.Fatalf("body = %q, want the fallback salutation", body)
	}

	composer.Lang = "en"
	_, body = composer.ComposeLeadNotice(models.Ticket{SeqNo: 1}, "", 2)
	if !strings.Contains(body, "Dear Patient") {
		t.Fatalf("body = %q, want the fallback salutation", body)
	}
}

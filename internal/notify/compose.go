package notify

import (
	"fmt"
	"strings"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
)

type Composer struct {
	Clinic    string
	Tel       string
	StatusURL string
	Lang      string // "ja" (default) or "en"
}

// ComposeLeadNotice builds the "your turn is near" mail for the given
// ticket. The lead count is baked into the text so the message matches
// the configured trigger distance.
func (c Composer) ComposeLeadNotice(ticket models.Ticket, patientName string, lead int) (string, string) {
	if patientName == "" {
		patientName = c.fallbackName()
	}
	subject := c.template("subject")
	body := c.template("body")
	values := map[string]string{
		"{name}":       patientName,
		"{seq_no}":     fmt.Sprintf("%d", ticket.SeqNo),
		"{session}":    ticket.Session,
		"{visit_date}": ticket.VisitDate,
		"{lead}":       fmt.Sprintf("%d", lead),
		"{clinic}":     c.Clinic,
		"{tel}":        c.Tel,
		"{status_url}": c.StatusURL,
	}
	for placeholder, value := range values {
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}
	return subject, body
}

func (c Composer) fallbackName() string {
	if c.Lang == "en" {
		return "Patient"
	}
	return "お客様"
}

func (c Composer) template(kind string) string {
	if c.Lang == "en" {
		switch kind {
		case "subject":
			return "[{clinic}] Your turn is coming up ({lead} ahead / ticket No.{seq_no})"
		case "body":
			return "Dear {name},\n\n" +
				"This is {clinic}.\n" +
				"There are {lead} visitors ahead of you today.\n\n" +
				"- Ticket number: {seq_no} ({session})\n" +
				"- Date: {visit_date}\n" +
				"- Current queue: {status_url}\n\n" +
				"Please come to the clinic soon.\n" +
				"If you cannot make it, please call us.\n\n" +
				"--\n{clinic}\nTEL: {tel}\nThis is a send-only address."
		}
		return ""
	}
	switch kind {
	case "subject":
		return "【{clinic}】まもなく診察です（あと{lead}名／受付No.{seq_no}）"
	case "body":
		return "{name} 様\n\n" +
			"{clinic}です。\n" +
			"本日の診察が あと{lead}名 でご案内となります。\n\n" +
			"- 受付番号:{seq_no}({session})\n" +
			"- 日付:{visit_date}\n" +
			"- 現在の進行状況:{status_url}\n\n" +
			"お早めに当院へお越しください。\n" +
			"来院が難しい場合は、お手数ですがお電話にてご連絡ください。\n\n" +
			"--\n{clinic}\nTEL:{tel}\nこのメールは送信専用です。返信には対応しておりません。"
	}
	return ""
}

// Package render подставляет переменные в шаблоны сообщений ({{name}}, {{userName}}, {{queue}} …).
package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/model"
)

type Vars struct {
	Contact    *model.Contact
	User       *model.User
	Queue      *model.Queue
	Connection *model.Whatsapp
	TicketID   uint64
	Now        time.Time
}

// ForTicket collects the variables of a loaded ticket graph.
func ForTicket(t *model.Ticket, now time.Time) Vars {
	return Vars{Contact: t.Contact, User: t.User, Queue: t.Queue, Connection: t.Whatsapp, TicketID: t.ID, Now: now}
}

// Greeting returns the Portuguese salutation for the hour of now.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Bom dia"
	case h < 18:
		return "Boa tarde"
	}
	return "Boa noite"
}

// Text renders tpl. Unknown placeholders are left untouched.
func Text(tpl string, v Vars) string {
	if tpl == "" || !strings.ContainsAny(tpl, "{$") {
		return tpl
	}
	var name, firstName, userName, queue, connection string
	if v.Contact != nil {
		name = v.Contact.Name
		if f := strings.Fields(name); len(f) > 0 {
			firstName = f[0]
		}
	}
	if v.User != nil {
		userName = v.User.Name
	}
	if v.Queue != nil {
		queue = v.Queue.Name
	}
	if v.Connection != nil {
		connection = v.Connection.Name
	}
	id := strconv.FormatUint(v.TicketID, 10)
	r := strings.NewReplacer(
		"{{name}}", name,
		"{{firstName}}", firstName,
		"{{userName}}", userName,
		"{{queue}}", queue,
		"{{queueName}}", queue,
		"${queue.name}}", queue,
		"${queue.name}", queue,
		"{{connection}}", connection,
		"{{ticket_id}}", id,
		"{{protocol}}", v.Now.Format("20060102")+id,
		"{{ms}}", Greeting(v.Now),
		"{{hour}}", v.Now.Format("15:04"),
		"{{date}}", v.Now.Format("02/01/2006"),
	)
	return r.Replace(tpl)
}

package gormstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(&model.Contact{}, &model.Queue{}, &model.QueueOption{}, &model.Whatsapp{},
		&model.Ticket{}, &model.TicketTracking{}, &model.Message{}, &model.CompanySettings{},
		&model.LogTicket{}, &model.UserRating{}, &model.User{})
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_ticket_open_pair ON tickets (contact_id, whatsapp_id)
		WHERE status IN ('open', 'pending', 'group')`).Error; err != nil {
		t.Fatalf("partial index: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return New(db)
}

func TestCreateMessage_DeduplicatesByWID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := &model.Message{CompanyID: 1, WID: "ABC", TicketID: 7, Body: "hello"}
		created, err := s.CreateMessage(ctx, m)
		if err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
		if created != (i == 0) {
			t.Fatalf("create #%d: created=%v", i, created)
		}
		if m.ID == 0 {
			t.Fatalf("create #%d: id not populated", i)
		}
	}

	var n int64
	s.db.Model(&model.Message{}).Where("wid = ?", "ABC").Count(&n)
	if n != 1 {
		t.Fatalf("stored %d messages, want 1", n)
	}

	// same wid in another company is a different message
	created, err := s.CreateMessage(ctx, &model.Message{CompanyID: 2, WID: "ABC", TicketID: 8})
	if err != nil || !created {
		t.Fatalf("other company: created=%v err=%v", created, err)
	}
}

func TestRaiseAck_OnlyMovesForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := &model.Message{CompanyID: 1, WID: "W1", TicketID: 1}
	if _, err := s.CreateMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		level   int
		changed bool
		want    int
	}{
		{model.AckRead, true, model.AckRead},
		{model.AckDelivered, false, model.AckRead},
		{model.AckRead, false, model.AckRead},
		{model.AckPlayed, true, model.AckPlayed},
		{model.AckSent, false, model.AckPlayed},
	}
	for _, st := range steps {
		changed, err := s.RaiseAck(ctx, m.ID, st.level)
		if err != nil {
			t.Fatal(err)
		}
		if changed != st.changed {
			t.Fatalf("RaiseAck(%d) changed=%v, want %v", st.level, changed, st.changed)
		}
		got, _ := s.GetMessage(ctx, m.ID)
		if got.Ack != st.want {
			t.Fatalf("after RaiseAck(%d) ack=%d, want %d", st.level, got.Ack, st.want)
		}
	}
}

func TestFindMessageForAck_LookupOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	byLocal := &model.Message{CompanyID: 1, WID: "WID-1", LocalID: "local-1", TicketID: 1}
	byWID := &model.Message{CompanyID: 1, WID: "WID-2", TicketID: 1}
	for _, m := range []*model.Message{byLocal, byWID} {
		if _, err := s.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		id   string
		want uint64
	}{
		{"local-1", byLocal.ID},
		{"WID-2", byWID.ID},
		{"WID-1", byLocal.ID},
	}
	for _, tt := range tests {
		got, err := s.FindMessageForAck(ctx, 1, tt.id)
		if err != nil {
			t.Fatalf("%s: %v", tt.id, err)
		}
		if got.ID != tt.want {
			t.Fatalf("%s: got message %d, want %d", tt.id, got.ID, tt.want)
		}
	}
	if _, err := s.FindMessageForAck(ctx, 1, "missing"); !errors.Is(err, errs.ErrMessageNotFound) {
		t.Fatalf("missing: err=%v", err)
	}
}

func TestFindMessageForAck_DatabaseErrorIsReturned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateMessage(ctx, &model.Message{CompanyID: 1, WID: "W1", TicketID: 1}); err != nil {
		t.Fatal(err)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.Close()

	_, err = s.FindMessageForAck(ctx, 1, "W1")
	if err == nil || errors.Is(err, errs.ErrMessageNotFound) {
		t.Fatalf("err = %v, want the database error", err)
	}
}

func TestCreateTicket_OneOpenPerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wa := uint64(3)

	first := &model.Ticket{CompanyID: 1, ContactID: 10, WhatsappID: &wa, Status: model.TicketStatusPending}
	if err := s.CreateTicket(ctx, first); err != nil {
		t.Fatal(err)
	}
	tr, err := s.Tracking(ctx, first)
	if err != nil || tr.TicketID != first.ID {
		t.Fatalf("tracking row: %+v err=%v", tr, err)
	}

	second := &model.Ticket{CompanyID: 1, ContactID: 10, WhatsappID: &wa, Status: model.TicketStatusOpen}
	if err := s.CreateTicket(ctx, second); !errors.Is(err, errs.ErrDuplicate) {
		t.Fatalf("second open ticket: err=%v, want ErrDuplicate", err)
	}

	first.Status = model.TicketStatusClosed
	if err := s.SaveTicket(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTicket(ctx, second); err != nil {
		t.Fatalf("after close: %v", err)
	}
	open, err := s.FindOpenTicket(ctx, 10, &wa)
	if err != nil || open.ID != second.ID {
		t.Fatalf("FindOpenTicket = %+v, %v", open, err)
	}
}

func TestUpsertContact_KeepsName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.UpsertContact(ctx, &model.Contact{CompanyID: 1, Number: "5511999", Name: "5511999"})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s.UpsertContact(ctx, &model.Contact{CompanyID: 1, Number: "5511999", Name: "Ana", LID: "123@lid"})
	if err != nil {
		t.Fatal(err)
	}
	if c2.ID != c.ID || c2.Name != "Ana" || c2.LID != "123@lid" {
		t.Fatalf("upsert = %+v", c2)
	}
	c3, _ := s.UpsertContact(ctx, &model.Contact{CompanyID: 1, Number: "5511999", Name: "Push Name"})
	if c3.Name != "Ana" {
		t.Fatalf("name overwritten: %q", c3.Name)
	}
	got, err := s.FindContactByLID(ctx, 1, "123@lid")
	if err != nil || got.ID != c.ID {
		t.Fatalf("FindContactByLID = %+v, %v", got, err)
	}
}

func TestSettings_DefaultsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	cs, err := s.Settings(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if cs.CompanyID != 42 || cs.ScheduleType != model.ScheduleDisabled || cs.ChatBotType != model.ChatBotText {
		t.Fatalf("defaults = %+v", cs)
	}
}

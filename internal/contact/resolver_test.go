package contact

import (
	"context"
	"testing"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/psds-microservice/chat-ticket-service/internal/store/memstore"
)

func TestNumber(t *testing.T) {
	tests := map[string]string{
		"5511999@s.whatsapp.net":    "5511999",
		"5511999:12@s.whatsapp.net": "5511999",
		"120363@g.us":               "120363",
		"+5511":                     "5511",
		"987@lid":                   "987",
	}
	for in, want := range tests {
		if got := Number(in); got != want {
			t.Errorf("Number(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	st := memstore.New(clock.Real())
	r := NewResolver(st)
	ctx := context.Background()

	a, err := r.Resolve(ctx, Input{CompanyID: 1, JID: "5511999@s.whatsapp.net", Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(ctx, Input{CompanyID: 1, JID: "5511999:3@s.whatsapp.net", Name: "Someone else"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("same number resolved to %d and %d", a.ID, b.ID)
	}
	if b.Name != "Ana" {
		t.Fatalf("name overwritten: %q", b.Name)
	}
	if a.RemoteJid != "5511999@s.whatsapp.net" {
		t.Fatalf("remote jid = %q", a.RemoteJid)
	}
}

func TestResolve_AliasRewrittenToCanonical(t *testing.T) {
	st := memstore.New(clock.Real())
	r := NewResolver(st)
	ctx := context.Background()

	phone, err := r.Resolve(ctx, Input{CompanyID: 1, JID: "5511999@s.whatsapp.net"})
	if err != nil {
		t.Fatal(err)
	}
	aliased, err := r.Resolve(ctx, Input{
		CompanyID: 1,
		JID:       "987@lid",
		Aliases:   map[string]string{"987@lid": "5511999@s.whatsapp.net"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if aliased.ID != phone.ID || aliased.LID != "987@lid" {
		t.Fatalf("alias contact = %+v, want id %d with lid", aliased, phone.ID)
	}

	// later events without the mapping still land on the same contact
	again, err := r.Resolve(ctx, Input{CompanyID: 1, JID: "987@lid"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != phone.ID {
		t.Fatalf("unmapped alias resolved to %d, want %d", again.ID, phone.ID)
	}
}

func TestResolve_Group(t *testing.T) {
	r := NewResolver(memstore.New(clock.Real()))
	c, err := r.Resolve(context.Background(), Input{CompanyID: 1, JID: "120363@g.us", Name: "Equipe"})
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsGroup || c.RemoteJid != "120363@g.us" {
		t.Fatalf("group contact = %+v", c)
	}
}

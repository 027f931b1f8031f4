// Package contact превращает идентификатор отправителя транспорта в стабильный Contact.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psds-microservice/chat-ticket-service/internal/errs"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
)

const (
	suffixUser  = "@s.whatsapp.net"
	suffixGroup = "@g.us"
	suffixLID   = "@lid"
)

type Input struct {
	CompanyID uint64
	// JID is the raw sender or chat id, e.g. 5511999@s.whatsapp.net, 1203@g.us or 987@lid.
	JID     string
	Name    string
	IsGroup bool
	// Aliases maps alias jids to canonical phone jids, as reported by the transport.
	Aliases map[string]string
}

type Resolver struct {
	store store.ContactStore
}

func NewResolver(s store.ContactStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve upserts the contact behind in.JID. Alias ids are rewritten to the canonical phone id when the
// transport supplies a mapping; otherwise a contact already linked to the alias is reused.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*model.Contact, error) {
	jid := strings.TrimSpace(in.JID)
	if jid == "" {
		return nil, fmt.Errorf("contact: empty jid")
	}
	var lid string
	if strings.HasSuffix(jid, suffixLID) {
		lid = jid
		canonical, ok := in.Aliases[jid]
		if !ok || canonical == "" {
			c, err := r.store.FindContactByLID(ctx, in.CompanyID, lid)
			if err == nil {
				return c, nil
			}
			if !errors.Is(err, errs.ErrContactNotFound) {
				return nil, err
			}
			canonical = jid
		}
		jid = canonical
	}

	number := Number(jid)
	if number == "" {
		return nil, fmt.Errorf("contact: cannot normalize %q", in.JID)
	}
	isGroup := in.IsGroup || strings.HasSuffix(jid, suffixGroup)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = number
	}
	remote := ""
	if !strings.HasSuffix(jid, suffixLID) {
		remote = number + suffixUser
		if isGroup {
			remote = number + suffixGroup
		}
	}
	return r.store.UpsertContact(ctx, &model.Contact{
		CompanyID:          in.CompanyID,
		Number:             number,
		Name:               name,
		RemoteJid:          remote,
		LID:                lid,
		IsGroup:            isGroup,
		AcceptAudioMessage: true,
	})
}

// Number strips the server part and device suffix of a jid: "5511999:12@s.whatsapp.net" -> "5511999".
func Number(jid string) string {
	user := jid
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return strings.TrimPrefix(strings.TrimSpace(user), "+")
}

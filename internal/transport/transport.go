// Package transport описывает нормализованные события WhatsApp-адаптера и исходящую отправку.
package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Content types recognised by the router. Anything else is reported as unknown.
const (
	TypeConversation        = "conversation"
	TypeExtendedText        = "extendedTextMessage"
	TypeImage               = "imageMessage"
	TypeVideo               = "videoMessage"
	TypeAudio               = "audioMessage"
	TypePTV                 = "ptvMessage"
	TypeDocument            = "documentMessage"
	TypeDocumentWithCaption = "documentWithCaptionMessage"
	TypeSticker             = "stickerMessage"
	TypeLocation            = "locationMessage"
	TypeLiveLocation        = "liveLocationMessage"
	TypeContact             = "contactMessage"
	TypeContactsArray       = "contactsArrayMessage"
	TypeButtonsResponse     = "buttonsResponseMessage"
	TypeListResponse        = "listResponseMessage"
	TypeTemplateReply       = "templateButtonReplyMessage"
	TypeInteractiveResponse = "interactiveResponseMessage"
	TypeReaction            = "reactionMessage"
	TypeEphemeral           = "ephemeralMessage"
	TypeViewOnce            = "viewOnceMessage"
	TypeViewOnceV2          = "viewOnceMessageV2"
	TypeEdited              = "editedMessage"
	TypeProtocol            = "protocolMessage"
	TypePollCreation        = "pollCreationMessage"
	TypePollUpdate          = "pollUpdateMessage"
	TypeAdReply             = "adMetaPreview"
	TypeEvent               = "eventMessage"
	TypeMessageContextInfo  = "messageContextInfo"
)

var knownTypes = map[string]bool{
	TypeConversation: true, TypeExtendedText: true, TypeImage: true, TypeVideo: true, TypeAudio: true,
	TypePTV: true, TypeDocument: true, TypeDocumentWithCaption: true, TypeSticker: true, TypeLocation: true,
	TypeLiveLocation: true, TypeContact: true, TypeContactsArray: true, TypeButtonsResponse: true,
	TypeListResponse: true, TypeTemplateReply: true, TypeInteractiveResponse: true, TypeReaction: true,
	TypeEphemeral: true, TypeViewOnce: true, TypeViewOnceV2: true, TypeEdited: true, TypeProtocol: true,
	TypePollCreation: true, TypePollUpdate: true, TypeAdReply: true, TypeEvent: true, TypeMessageContextInfo: true,
}

// KnownType reports whether t is in the allow-list of content types.
func KnownType(t string) bool { return knownTypes[t] }

// IsMediaType reports whether t carries a downloadable attachment.
func IsMediaType(t string) bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypePTV, TypeDocument, TypeDocumentWithCaption, TypeSticker:
		return true
	}
	return false
}

// InboundEvent — одно нормализованное входящее событие адаптера.
type InboundEvent struct {
	CompanyID    uint64 `json:"company_id"`
	ConnectionID uint64 `json:"connection_id"`
	// ID is the transport message id (wid).
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	// Participant is the author inside a group chat.
	Participant string `json:"participant,omitempty"`
	PushName    string `json:"push_name,omitempty"`
	FromMe      bool   `json:"from_me"`
	IsGroup     bool   `json:"is_group"`
	Type        string `json:"type"`
	Body        string `json:"body"`
	MediaURL    string `json:"media_url,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
	// EditedID points at the original message for edit/protocol events.
	EditedID string `json:"edited_id,omitempty"`
	// SelectedID is the row/button id of an interactive reply.
	SelectedID string `json:"selected_id,omitempty"`
	// Aliases maps alias identifiers (lid) to canonical phone jids.
	Aliases    map[string]string `json:"aliases,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Historical bool              `json:"historical,omitempty"`
	Raw        json.RawMessage   `json:"raw,omitempty"`
}

// IsBroadcast reports status@broadcast and other broadcast lists.
func (e *InboundEvent) IsBroadcast() bool {
	return strings.HasSuffix(e.ChatID, "@broadcast")
}

// Text returns the reply the contact chose: the selected interactive id when present, the body otherwise.
func (e *InboundEvent) Text() string {
	if e.SelectedID != "" {
		return strings.TrimSpace(e.SelectedID)
	}
	return strings.TrimSpace(e.Body)
}

// Receipt — событие подтверждения доставки.
type Receipt struct {
	CompanyID    uint64 `json:"company_id"`
	ConnectionID uint64 `json:"connection_id"`
	MessageID    string `json:"message_id"`
	// Status is the raw transport status code.
	Status int `json:"status"`
}

// Payload is an outbound message. Exactly one of Text, List or Buttons is the primary shape;
// Text doubles as the fallback body for the others.
type Payload struct {
	Text    string   `json:"text,omitempty"`
	List    *List    `json:"list,omitempty"`
	Buttons *Buttons `json:"buttons,omitempty"`
}

// Body returns the text shown to the contact, whatever the shape.
func (p Payload) Body() string {
	switch {
	case p.List != nil && p.List.Body != "":
		return p.List.Body
	case p.Buttons != nil && p.Buttons.Body != "":
		return p.Buttons.Body
	}
	return p.Text
}

type List struct {
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	ButtonText string        `json:"button_text"`
	Sections   []ListSection `json:"sections"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Buttons struct {
	Body    string   `json:"body"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
}

type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// OutboundRequest — одна отправка через адаптер. Ref — логический id, назначенный до отправки.
type OutboundRequest struct {
	ConnectionID uint64  `json:"connection_id"`
	To           string  `json:"to"`
	Ref          string  `json:"ref"`
	Payload      Payload `json:"payload"`
}

// Sender delivers an outbound message and returns the transport id assigned to it.
type Sender interface {
	Send(ctx context.Context, req OutboundRequest) (wid string, err error)
}

// Handler receives events from a transport.
type Handler interface {
	HandleInbound(ctx context.Context, ev InboundEvent) error
	HandleReceipt(ctx context.Context, r Receipt) error
}

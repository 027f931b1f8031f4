package model

import (
	"time"

	"gorm.io/datatypes"
)

type TicketStatus string

const (
	TicketStatusPending     TicketStatus = "pending"
	TicketStatusOpen        TicketStatus = "open"
	TicketStatusClosed      TicketStatus = "closed"
	TicketStatusNPS         TicketStatus = "nps"
	TicketStatusGroup       TicketStatus = "group"
	TicketStatusLGPD        TicketStatus = "lgpd"
	TicketStatusInterrupted TicketStatus = "interrupted"
)

// OpenStatuses — статусы, из которых у пары (contact, whatsapp) может существовать не более одного тикета.
var OpenStatuses = []TicketStatus{TicketStatusOpen, TicketStatusPending, TicketStatusGroup}

// IsOpen reports whether s counts against the one-open-ticket-per-contact rule.
func (s TicketStatus) IsOpen() bool {
	return s == TicketStatusOpen || s == TicketStatusPending || s == TicketStatusGroup
}

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusOpen, TicketStatusClosed, TicketStatusNPS,
		TicketStatusGroup, TicketStatusLGPD, TicketStatusInterrupted:
		return true
	}
	return false
}

type Ticket struct {
	ID                  uint64       `gorm:"primaryKey" json:"id"`
	UUID                string       `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	CompanyID           uint64       `gorm:"index;not null" json:"company_id"`
	ContactID           uint64       `gorm:"index;not null" json:"contact_id"`
	WhatsappID          *uint64      `gorm:"index" json:"whatsapp_id,omitempty"`
	Status              TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	QueueID             *uint64      `gorm:"index" json:"queue_id,omitempty"`
	UserID              *uint64      `gorm:"index" json:"user_id,omitempty"`
	QueueOptionID       *uint64      `json:"queue_option_id,omitempty"`
	IsBot               bool         `json:"is_bot"`
	IsGroup             bool         `json:"is_group"`
	AmountUsedBotQueues int          `json:"amount_used_bot_queues"`
	IsOutOfHour         bool         `json:"is_out_of_hour"`
	UseIntegration      bool         `json:"use_integration"`
	IntegrationID       *uint64      `json:"integration_id,omitempty"`
	LastMessage         string       `gorm:"type:text" json:"last_message"`
	UnreadMessages      int          `json:"unread_messages"`

	LastFlowID  string         `gorm:"type:varchar(64)" json:"last_flow_id,omitempty"`
	HashFlowID  string         `gorm:"type:varchar(64)" json:"hash_flow_id,omitempty"`
	FlowStopped string         `gorm:"type:varchar(64)" json:"flow_stopped,omitempty"`
	FlowWebhook bool           `json:"flow_webhook"`
	DataWebhook datatypes.JSON `json:"data_webhook,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Contact  *Contact  `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
	Queue    *Queue    `gorm:"foreignKey:QueueID" json:"queue,omitempty"`
	Whatsapp *Whatsapp `gorm:"foreignKey:WhatsappID" json:"whatsapp,omitempty"`
	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TicketTracking хранит временные метки жизненного цикла тикета. Nil означает «событие ещё не произошло»:
// ChatbotAt: якорь cool-down бота. RatingAt: оценка запрошена. StartedAt: агент принял тикет.
type TicketTracking struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	TicketID   uint64     `gorm:"uniqueIndex;not null" json:"ticket_id"`
	CompanyID  uint64     `gorm:"index;not null" json:"company_id"`
	WhatsappID *uint64    `json:"whatsapp_id,omitempty"`
	QueueID    *uint64    `json:"queue_id,omitempty"`
	UserID     *uint64    `json:"user_id,omitempty"`
	QueuedAt   *time.Time `json:"queued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	RatingAt   *time.Time `json:"rating_at,omitempty"`
	ChatbotAt  *time.Time `json:"chatbot_at,omitempty"`
	Rated      bool       `json:"rated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AwaitingRating reports whether the tracked ticket was closed by an agent and still waits for its one NPS answer.
func (t *TicketTracking) AwaitingRating() bool {
	return t != nil && t.ClosedAt != nil && t.RatingAt == nil && t.FinishedAt == nil && t.UserID != nil
}

type Contact struct {
	ID                 uint64 `gorm:"primaryKey" json:"id"`
	CompanyID          uint64 `gorm:"uniqueIndex:ux_contact_number_company,priority:2;not null" json:"company_id"`
	Number             string `gorm:"type:varchar(64);uniqueIndex:ux_contact_number_company,priority:1;not null" json:"number"`
	Name               string `gorm:"type:varchar(255)" json:"name"`
	RemoteJid          string `gorm:"type:varchar(128)" json:"remote_jid"`
	LID                string `gorm:"column:lid;type:varchar(128);index" json:"lid,omitempty"`
	IsGroup            bool   `json:"is_group"`
	DisableBot         bool   `json:"disable_bot"`
	AcceptAudioMessage bool   `gorm:"default:true" json:"accept_audio_message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ack levels stored on messages.
const (
	AckSent      = 0
	AckDelivered = 2
	AckRead      = 3
	AckPlayed    = 4
)

type Message struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	CompanyID uint64         `gorm:"uniqueIndex:ux_message_wid_company,priority:2;not null" json:"company_id"`
	WID       string         `gorm:"column:wid;type:varchar(128);uniqueIndex:ux_message_wid_company,priority:1;not null" json:"wid"`
	LocalID   string         `gorm:"type:varchar(64);index" json:"local_id,omitempty"`
	TicketID  uint64         `gorm:"index;not null" json:"ticket_id"`
	ContactID *uint64        `json:"contact_id,omitempty"`
	Ack       int            `json:"ack"`
	Body      string         `gorm:"type:text" json:"body"`
	FromMe    bool           `json:"from_me"`
	IsPrivate bool           `json:"is_private"`
	IsEdited  bool           `json:"is_edited"`
	MediaType string         `gorm:"type:varchar(64)" json:"media_type,omitempty"`
	MediaURL  string         `gorm:"type:text" json:"media_url,omitempty"`
	DataJSON  datatypes.JSON `json:"data_json,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Ticket  *Ticket  `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	Contact *Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

type Queue struct {
	ID                uint64         `gorm:"primaryKey" json:"id"`
	CompanyID         uint64         `gorm:"index;not null" json:"company_id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	GreetingMessage   string         `gorm:"type:text" json:"greeting_message"`
	OutOfHoursMessage string         `gorm:"type:text" json:"out_of_hours_message"`
	CloseTicket       bool           `json:"close_ticket"`
	FileListID        *uint64        `json:"file_list_id,omitempty"`
	OrderQueue        int            `json:"order_queue"`
	Schedules         datatypes.JSON `json:"schedules,omitempty"`

	Chatbots []QueueOption `gorm:"foreignKey:QueueID" json:"chatbots,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueOption — пункт подменю чат-бота очереди. ParentID == nil означает корневой уровень.
type QueueOption struct {
	ID             uint64  `gorm:"primaryKey" json:"id"`
	QueueID        uint64  `gorm:"index;not null" json:"queue_id"`
	ParentID       *uint64 `gorm:"index" json:"parent_id,omitempty"`
	Title          string  `gorm:"type:varchar(255);not null" json:"title"`
	Message        string  `gorm:"type:text" json:"message"`
	SortOrder      int     `json:"sort_order"`
	ForwardQueueID *uint64 `json:"forward_queue_id,omitempty"`
	CloseTicket    bool    `json:"close_ticket"`
}

type Whatsapp struct {
	ID                        uint64         `gorm:"primaryKey" json:"id"`
	CompanyID                 uint64         `gorm:"index;not null" json:"company_id"`
	Name                      string         `gorm:"type:varchar(255)" json:"name"`
	AllowGroup                bool           `json:"allow_group"`
	GreetingMessage           string         `gorm:"type:text" json:"greeting_message"`
	CompletionMessage         string         `gorm:"type:text" json:"completion_message"`
	OutOfHoursMessage         string         `gorm:"type:text" json:"out_of_hours_message"`
	RatingMessage             string         `gorm:"type:text" json:"rating_message"`
	TransferMessage           string         `gorm:"type:text" json:"transfer_message"`
	MaxUseBotQueues           int            `json:"max_use_bot_queues"`
	TimeUseBotQueues          int            `json:"time_use_bot_queues"`
	TimeCreateNewTicket       int            `json:"time_create_new_ticket"`
	ExpiresTicket             int            `json:"expires_ticket"`
	ExpiresInactiveMessage    string         `gorm:"type:text" json:"expires_inactive_message"`
	IntegrationID             *uint64        `json:"integration_id,omitempty"`
	CollectiveVacationStart   *time.Time     `json:"collective_vacation_start,omitempty"`
	CollectiveVacationEnd     *time.Time     `json:"collective_vacation_end,omitempty"`
	CollectiveVacationMessage string         `gorm:"type:text" json:"collective_vacation_message"`
	Schedules                 datatypes.JSON `json:"schedules,omitempty"`

	Queues []Queue `gorm:"many2many:whatsapp_queues" json:"queues,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Company struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(255)" json:"name"`
	Schedules datatypes.JSON `json:"schedules,omitempty"`
}

// Schedule types for CompanySettings.ScheduleType.
const (
	ScheduleDisabled   = "disabled"
	ScheduleCompany    = "company"
	ScheduleQueue      = "queue"
	ScheduleConnection = "connection"
)

// Chatbot rendering styles for CompanySettings.ChatBotType.
const (
	ChatBotText    = "text"
	ChatBotList    = "list"
	ChatBotButtons = "button"
)

type CompanySettings struct {
	CompanyID                    uint64 `gorm:"primaryKey" json:"company_id"`
	ScheduleType                 string `gorm:"type:varchar(32)" json:"schedule_type"`
	UserRating                   bool   `json:"user_rating"`
	SendQueuePosition            bool   `json:"send_queue_position"`
	CloseTicketOnTransfer        bool   `json:"close_ticket_on_transfer"`
	ChatBotType                  string `gorm:"type:varchar(32)" json:"chat_bot_type"`
	SendGreetingMessageOneQueues bool   `json:"send_greeting_message_one_queues"`
	SendMsgTransfTicket          bool   `json:"send_msg_transf_ticket"`
	SendFarewellWaitingTicket    bool   `json:"send_farewell_waiting_ticket"`
	AcceptAudioMessageContact    bool   `json:"accept_audio_message_contact"`
}

// DefaultSettings возвращает настройки компании, у которой ещё нет строки в company_settings.
func DefaultSettings(companyID uint64) *CompanySettings {
	return &CompanySettings{
		CompanyID:                 companyID,
		ScheduleType:              ScheduleDisabled,
		ChatBotType:               ChatBotText,
		AcceptAudioMessageContact: true,
	}
}

type User struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	CompanyID uint64 `gorm:"index;not null" json:"company_id"`
	Name      string `gorm:"type:varchar(255)" json:"name"`
}

// Integration types handled by the delegate registry.
const (
	IntegrationOpenAI      = "openai"
	IntegrationWebhook     = "webhook"
	IntegrationN8N         = "n8n"
	IntegrationTypebot     = "typebot"
	IntegrationDialogflow  = "dialogflow"
	IntegrationFlowBuilder = "flowbuilder"
)

type QueueIntegration struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	CompanyID uint64 `gorm:"index;not null" json:"company_id"`
	Type      string `gorm:"type:varchar(32);not null" json:"type"`
	Name      string `gorm:"type:varchar(255)" json:"name"`
	URL       string `gorm:"type:text" json:"url,omitempty"`
	APIKey    string `gorm:"type:text" json:"-"`
	Model     string `gorm:"type:varchar(64)" json:"model,omitempty"`
	Prompt    string `gorm:"type:text" json:"prompt,omitempty"`
}

// Log types written by the ticket lifecycle.
const (
	LogCreate           = "create"
	LogPending          = "pending"
	LogOpen             = "open"
	LogReopen           = "reopen"
	LogClosed           = "closed"
	LogTransfered       = "transfered"
	LogReceivedTransfer = "receivedTransfer"
	LogQueue            = "queue"
	LogChatbot          = "chatBot"
	LogNPS              = "nps"
)

type LogTicket struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TicketID  uint64    `gorm:"index;not null" json:"ticket_id"`
	UserID    *uint64   `json:"user_id,omitempty"`
	QueueID   *uint64   `json:"queue_id,omitempty"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type UserRating struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	TicketID  uint64    `gorm:"index;not null" json:"ticket_id"`
	CompanyID uint64    `gorm:"index;not null" json:"company_id"`
	UserID    *uint64   `json:"user_id,omitempty"`
	Rate      int       `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleEntry — расписание одного дня недели, время в формате "HH:MM". Пустой интервал не учитывается.
type ScheduleEntry struct {
	Weekday    string `json:"weekday"`
	WeekdayEn  string `json:"weekdayEn"`
	StartTimeA string `json:"startTimeA"`
	EndTimeA   string `json:"endTimeA"`
	StartTimeB string `json:"startTimeB"`
	EndTimeB   string `json:"endTimeB"`
}

// SameID reports whether two optional ids refer to the same row (both nil counts as equal).
func SameID(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ID returns a pointer to v, or nil when v is zero.
func ID(v uint64) *uint64 {
	if v == 0 {
		return nil
	}
	return &v
}

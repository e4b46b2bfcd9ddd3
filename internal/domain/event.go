package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// EventType names the kind of update pushed to clients. The set is fixed.
type EventType string

const (
	EventRequestUpdate      EventType = "request_update"
	EventMeetingUpdate      EventType = "meeting_update"
	EventAnnouncementUpdate EventType = "announcement_update"
	EventExecutorUpdate     EventType = "executor_update"
	EventChatMessage        EventType = "chat_message"
	EventChatRead           EventType = "chat_read"
	EventRescheduleUpdate   EventType = "reschedule_update"
)

// Row is one changed record of a watched collection. Every implementation is
// a concrete payload schema; Channels derives routing from the row's own
// foreign keys.
type Row interface {
	RowID() string
	EventType() EventType
	Channels() []string
}

// UpdateMessage is built by the poller for every fetched row and consumed
// immediately by the dispatcher.
type UpdateMessage struct {
	Type           EventType
	Payload        Row
	TargetChannels []string
}

// NewUpdateMessage routes a row to its own channels.
func NewUpdateMessage(row Row) UpdateMessage {
	return UpdateMessage{
		Type:           row.EventType(),
		Payload:        row,
		TargetChannels: row.Channels(),
	}
}

// scoped builds a per-target channel, or "" when the key is unset.
func scoped(build func(string) string, id string) string {
	if id == "" {
		return ""
	}
	return build(id)
}

type RequestUpdate struct {
	ID         string    `json:"id"`
	Number     int64     `json:"number"`
	BuildingID string    `json:"buildingId,omitempty"`
	ResidentID string    `json:"residentId"`
	ExecutorID string    `json:"executorId,omitempty"`
	Category   string    `json:"category"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (r RequestUpdate) RowID() string        { return r.ID }
func (r RequestUpdate) EventType() EventType { return EventRequestUpdate }

func (r RequestUpdate) Channels() []string {
	channels := []string{
		ChannelRequestsAll,
		scoped(ResidentRequestsChannel, r.ResidentID),
		scoped(ExecutorRequestsChannel, r.ExecutorID),
	}
	if r.Status == "new" {
		channels = append(channels, ChannelRequestsNew)
	}
	return lo.Compact(channels)
}

type MeetingUpdate struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"buildingId,omitempty"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	StartsAt   time.Time `json:"startsAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (m MeetingUpdate) RowID() string        { return m.ID }
func (m MeetingUpdate) EventType() EventType { return EventMeetingUpdate }

func (m MeetingUpdate) Channels() []string {
	return lo.Compact([]string{
		ChannelMeetingsAll,
		scoped(BuildingMeetingsChannel, m.BuildingID),
	})
}

type AnnouncementUpdate struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"buildingId,omitempty"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Priority   string    `json:"priority"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a AnnouncementUpdate) RowID() string        { return a.ID }
func (a AnnouncementUpdate) EventType() EventType { return EventAnnouncementUpdate }

func (a AnnouncementUpdate) Channels() []string {
	return lo.Compact([]string{
		ChannelAnnouncementsAll,
		scoped(BuildingAnnouncementsChannel, a.BuildingID),
	})
}

type ExecutorUpdate struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (e ExecutorUpdate) RowID() string        { return e.ID }
func (e ExecutorUpdate) EventType() EventType { return EventExecutorUpdate }

func (e ExecutorUpdate) Channels() []string {
	return lo.Compact([]string{
		ChannelExecutorsAll,
		scoped(UserChannel, e.ID),
	})
}

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId,omitempty"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (c ChatMessage) RowID() string        { return c.ID }
func (c ChatMessage) EventType() EventType { return EventChatMessage }

func (c ChatMessage) Channels() []string {
	return lo.Uniq(lo.Compact([]string{
		ChannelChatAll,
		scoped(ChatUserChannel, c.RecipientID),
		scoped(ChatUserChannel, c.SenderID),
	}))
}

type ChatRead struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	ReaderID  string    `json:"readerId"`
	AuthorID  string    `json:"authorId"`
	ReadAt    time.Time `json:"readAt"`
}

func (c ChatRead) RowID() string        { return c.ID }
func (c ChatRead) EventType() EventType { return EventChatRead }

// Channels notifies the author that the message was read.
func (c ChatRead) Channels() []string {
	return lo.Compact([]string{
		ChannelChatAll,
		scoped(ChatUserChannel, c.AuthorID),
	})
}

type RescheduleUpdate struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"requestId"`
	InitiatorID string    `json:"initiatorId"`
	RecipientID string    `json:"recipientId"`
	ProposedAt  time.Time `json:"proposedAt"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r RescheduleUpdate) RowID() string        { return r.ID }
func (r RescheduleUpdate) EventType() EventType { return EventRescheduleUpdate }

func (r RescheduleUpdate) Channels() []string {
	return lo.Uniq(lo.Compact([]string{
		ChannelRequestsAll,
		scoped(RescheduleUserChannel, r.RecipientID),
		scoped(RescheduleUserChannel, r.InitiatorID),
	}))
}

// DecodeRow restores a row from its JSON form using the event type as the tag.
func DecodeRow(t EventType, data []byte) (Row, error) {
	switch t {
	case EventRequestUpdate:
		return decodeAs[RequestUpdate](data)
	case EventMeetingUpdate:
		return decodeAs[MeetingUpdate](data)
	case EventAnnouncementUpdate:
		return decodeAs[AnnouncementUpdate](data)
	case EventExecutorUpdate:
		return decodeAs[ExecutorUpdate](data)
	case EventChatMessage:
		return decodeAs[ChatMessage](data)
	case EventChatRead:
		return decodeAs[ChatRead](data)
	case EventRescheduleUpdate:
		return decodeAs[RescheduleUpdate](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}

func decodeAs[T Row](data []byte) (Row, error) {
	var row T
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", row, err)
	}
	return row, nil
}

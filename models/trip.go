package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// ScheduleItem is one entry of the day plan. Time is "HH:MM".
type ScheduleItem struct {
	Time     string `json:"time" bson:"time" yaml:"time" validate:"omitempty,hhmm"`
	Activity string `json:"activity" bson:"activity" yaml:"activity"`
	Emoji    string `json:"emoji,omitempty" bson:"emoji,omitempty" yaml:"emoji,omitempty"`
	Color    string `json:"color,omitempty" bson:"color,omitempty" yaml:"color,omitempty" validate:"omitempty,hexcolor"`
}

// MinutesOfDay parses Time. ok is false for anything that is not a valid HH:MM.
func (s ScheduleItem) MinutesOfDay() (int, bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s.Time), ":")
	if !found {
		return 0, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

// TripInfo holds the trip metadata and its schedule in insertion order.
type TripInfo struct {
	Title       string         `json:"title" bson:"title" yaml:"title"`
	Date        string         `json:"date" bson:"date" yaml:"date"`
	Location    string         `json:"location" bson:"location" yaml:"location"`
	Description string         `json:"description" bson:"description" yaml:"description"`
	Schedule    []ScheduleItem `json:"schedule" bson:"schedule" yaml:"schedule" validate:"dive"`
}

// SortedSchedule returns a copy of the schedule ordered by minutes of day.
// Items with unparseable times keep their relative order at the end.
func (t TripInfo) SortedSchedule() []ScheduleItem {
	out := make([]ScheduleItem, len(t.Schedule))
	copy(out, t.Schedule)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].MinutesOfDay()
		b, bok := out[j].MinutesOfDay()
		switch {
		case aok && bok:
			return a < b
		case aok:
			return true
		default:
			return false
		}
	})
	return out
}

func (t TripInfo) isZero() bool {
	return t.Title == "" && t.Date == "" && t.Location == "" && t.Description == "" && t.Schedule == nil
}

// Attendee is one roster entry.
type Attendee struct {
	ID        int64  `json:"id" bson:"id" yaml:"id" validate:"gte=0"`
	Name      string `json:"name" bson:"name" yaml:"name"`
	Position  string `json:"position" bson:"position" yaml:"position"`
	Confirmed bool   `json:"confirmed" bson:"confirmed" yaml:"confirmed"`
}

// UnmarshalJSON accepts the legacy "isConfirmed" key when "confirmed" is absent.
func (a *Attendee) UnmarshalJSON(b []byte) error {
	type attendee Attendee
	aux := struct {
		*attendee
		Confirmed   *bool `json:"confirmed"`
		IsConfirmed *bool `json:"isConfirmed"`
	}{attendee: (*attendee)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	switch {
	case aux.Confirmed != nil:
		a.Confirmed = *aux.Confirmed
	case aux.IsConfirmed != nil:
		a.Confirmed = *aux.IsConfirmed
	}
	return nil
}

// Reply answers a Message. IDs are unique within the parent only.
type Reply struct {
	ID      int64  `json:"id" bson:"id" yaml:"id" validate:"gte=0"`
	Author  string `json:"author" bson:"author" yaml:"author"`
	Content string `json:"content" bson:"content" yaml:"content"`
	Time    string `json:"time" bson:"time" yaml:"time"`
}

// UnmarshalJSON accepts the legacy "timestamp" key for Time.
func (r *Reply) UnmarshalJSON(b []byte) error {
	type reply Reply
	aux := struct {
		*reply
		Timestamp string `json:"timestamp"`
	}{reply: (*reply)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.Time == "" {
		r.Time = aux.Timestamp
	}
	return nil
}

// MessageTypeQuestion is the only message type the board produces.
const MessageTypeQuestion = "question"

// Message is a question on the board with its replies.
type Message struct {
	ID      int64   `json:"id" bson:"id" yaml:"id" validate:"gte=0"`
	Type    string  `json:"type,omitempty" bson:"type,omitempty" yaml:"type,omitempty"`
	Author  string  `json:"author" bson:"author" yaml:"author"`
	Content string  `json:"content" bson:"content" yaml:"content"`
	Time    string  `json:"time" bson:"time" yaml:"time"`
	Replies []Reply `json:"replies" bson:"replies" yaml:"replies" validate:"dive"`
}

// UnmarshalJSON accepts the legacy "timestamp" key for Time.
func (m *Message) UnmarshalJSON(b []byte) error {
	type message Message
	aux := struct {
		*message
		Timestamp string `json:"timestamp"`
	}{message: (*message)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if m.Time == "" {
		m.Time = aux.Timestamp
	}
	return nil
}

// TripData is the single shared document. LastUpdated is assigned by the
// store on every write and is the only version marker.
type TripData struct {
	TripInfo     TripInfo   `json:"tripInfo" bson:"tripInfo" yaml:"tripInfo"`
	Attendees    []Attendee `json:"attendees" bson:"attendees" yaml:"attendees" validate:"dive"`
	ChatMessages []Message  `json:"chatMessages" bson:"chatMessages" yaml:"chatMessages" validate:"dive"`
	Sequence     IDSequence `json:"sequence" bson:"sequence" yaml:"sequence"`
	LastUpdated  string     `json:"lastUpdated" bson:"lastUpdated" yaml:"-"`
}

// Normalize fills every absent top-level field with its default so callers
// never see a partial document.
func (d TripData) Normalize() TripData {
	if d.TripInfo.isZero() {
		d.TripInfo = DefaultTripInfo()
	}
	if d.TripInfo.Schedule == nil {
		d.TripInfo.Schedule = []ScheduleItem{}
	}
	if d.Attendees == nil {
		d.Attendees = []Attendee{}
	}
	if d.ChatMessages == nil {
		d.ChatMessages = []Message{}
	}
	for i := range d.ChatMessages {
		if d.ChatMessages[i].Replies == nil {
			d.ChatMessages[i].Replies = []Reply{}
		}
	}
	return d
}

// Clone returns a deep copy.
func (d TripData) Clone() TripData {
	out := d
	out.TripInfo.Schedule = cloneSlice(d.TripInfo.Schedule)
	out.Attendees = cloneSlice(d.Attendees)
	out.ChatMessages = cloneSlice(d.ChatMessages)
	for i := range out.ChatMessages {
		out.ChatMessages[i].Replies = cloneSlice(out.ChatMessages[i].Replies)
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// AddAttendee appends a new unconfirmed attendee with the next sequence id.
func (d *TripData) AddAttendee(name, position string) Attendee {
	d.Sequence = d.Sequence.Observe(*d)
	d.Sequence.Attendee++
	a := Attendee{ID: d.Sequence.Attendee, Name: name, Position: position}
	d.Attendees = append(d.Attendees, a)
	return a
}

// DeleteAttendee removes the attendee with id. Remaining ids are untouched.
func (d *TripData) DeleteAttendee(id int64) bool {
	for i, a := range d.Attendees {
		if a.ID == id {
			d.Sequence = d.Sequence.Observe(*d)
			d.Attendees = append(d.Attendees[:i:i], d.Attendees[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateAttendee applies fn to the attendee with id in place.
func (d *TripData) UpdateAttendee(id int64, fn func(*Attendee)) bool {
	for i := range d.Attendees {
		if d.Attendees[i].ID == id {
			d.Attendees = cloneSlice(d.Attendees)
			fn(&d.Attendees[i])
			d.Attendees[i].ID = id
			return true
		}
	}
	return false
}

// AddQuestion appends a question with the next message id.
func (d *TripData) AddQuestion(author, content, at string) Message {
	d.Sequence = d.Sequence.Observe(*d)
	d.Sequence.Message++
	m := Message{
		ID:      d.Sequence.Message,
		Type:    MessageTypeQuestion,
		Author:  author,
		Content: content,
		Time:    at,
		Replies: []Reply{},
	}
	d.ChatMessages = append(d.ChatMessages, m)
	return m
}

// AddReply appends a reply to message messageID and leaves every other
// message untouched.
func (d *TripData) AddReply(messageID int64, author, content, at string) (Reply, bool) {
	for i := range d.ChatMessages {
		m := &d.ChatMessages[i]
		if m.ID != messageID {
			continue
		}
		var next int64
		for _, r := range m.Replies {
			if r.ID > next {
				next = r.ID
			}
		}
		r := Reply{ID: next + 1, Author: author, Content: content, Time: at}
		m.Replies = append(append([]Reply(nil), m.Replies...), r)
		return r, true
	}
	return Reply{}, false
}

// DeleteMessage removes a question together with its replies.
func (d *TripData) DeleteMessage(id int64) bool {
	for i, m := range d.ChatMessages {
		if m.ID == id {
			d.Sequence = d.Sequence.Observe(*d)
			d.ChatMessages = append(d.ChatMessages[:i:i], d.ChatMessages[i+1:]...)
			return true
		}
	}
	return false
}

// DeleteReply removes one reply from one message.
func (d *TripData) DeleteReply(messageID, replyID int64) bool {
	for i := range d.ChatMessages {
		m := &d.ChatMessages[i]
		if m.ID != messageID {
			continue
		}
		for j, r := range m.Replies {
			if r.ID == replyID {
				m.Replies = append(m.Replies[:j:j], m.Replies[j+1:]...)
				return true
			}
		}
		return false
	}
	return false
}

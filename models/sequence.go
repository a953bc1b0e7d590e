package models

import "time"

// IDSequence holds the store-owned counters for attendee and message ids.
// Counters only move forward, so an id is never handed out twice even after
// the record that carried it was deleted.
type IDSequence struct {
	Attendee int64 `json:"attendee" bson:"attendee" yaml:"attendee"`
	Message  int64 `json:"message" bson:"message" yaml:"message"`
}

// Observe returns the sequence raised to cover every id present in d.
func (s IDSequence) Observe(d TripData) IDSequence {
	for _, a := range d.Attendees {
		if a.ID > s.Attendee {
			s.Attendee = a.ID
		}
	}
	for _, m := range d.ChatMessages {
		if m.ID > s.Message {
			s.Message = m.ID
		}
	}
	return s
}

// Max merges two sequences counter by counter.
func (s IDSequence) Max(o IDSequence) IDSequence {
	if o.Attendee > s.Attendee {
		s.Attendee = o.Attendee
	}
	if o.Message > s.Message {
		s.Message = o.Message
	}
	return s
}

// StampLayout matches the ISO-8601 form browsers produce with toISOString,
// which also keeps lexical and chronological order identical.
const StampLayout = "2006-01-02T15:04:05.000Z"

// NextStamp returns now formatted with StampLayout, nudged forward by one
// millisecond when it would not be strictly after prev.
func NextStamp(prev string, now time.Time) string {
	now = now.UTC().Truncate(time.Millisecond)
	if p, err := time.Parse(StampLayout, prev); err == nil && !now.After(p) {
		now = p.Add(time.Millisecond)
	}
	return now.Format(StampLayout)
}

// DisplayTime is the human readable time stored on questions and replies.
func DisplayTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

// Stamp stamps doc for persistence after prev: normalizes it, advances the
// id sequence past prev's and assigns a fresh LastUpdated.
func Stamp(doc TripData, prev TripData, now time.Time) TripData {
	doc = doc.Normalize()
	doc.Sequence = doc.Sequence.Max(prev.Sequence.Observe(prev)).Observe(doc)
	doc.LastUpdated = NextStamp(prev.LastUpdated, now)
	return doc
}

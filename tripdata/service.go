// Package tripdata implements the operations on the shared trip document:
// change detection for pollers, full saves from the admin view and the
// small read-modify-write edits behind the public question board.
package tripdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tripboard/logging"
	"tripboard/metrics"
	"tripboard/models"
	"tripboard/store"
)

var (
	ErrEmptyField        = errors.New("author and content are required")
	ErrMessageNotFound   = errors.New("message not found")
	ErrReplyNotFound     = errors.New("reply not found")
	ErrAttendeeNotFound  = errors.New("attendee not found")
	ErrAttendeeNameEmpty = errors.New("attendee name is required")
)

// Publisher is notified after every successful write.
type Publisher interface {
	Publish(ctx context.Context, lastUpdated string)
}

// Update is the answer to a change check. Exactly one of NoChanges and
// Data is set.
type Update struct {
	NoChanges bool
	Data      *models.TripData
}

// editRetries bounds how often an edit is replayed after losing a race.
const editRetries = 3

type Service struct {
	store store.Store
	pub   Publisher
	log   *zerolog.Logger
	now   func() time.Time
}

func NewService(st store.Store, pub Publisher, log *zerolog.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: st, pub: pub, log: log, now: time.Now}
}

// Read returns the current document.
func (s *Service) Read(ctx context.Context) (models.TripData, error) {
	return s.store.Read(ctx)
}

// CheckForUpdate answers NoChanges when known equals the stored stamp and
// the full document otherwise. A failing stamp lookup falls back to the
// full document.
func (s *Service) CheckForUpdate(ctx context.Context, known string) (Update, error) {
	if known != "" {
		ts, err := s.store.LastUpdated(ctx)
		switch {
		case err != nil:
			s.log.Debug().Err(err).Msg("stamp lookup failed; sending full document")
		case ts == known:
			metrics.ChangeChecks.WithLabelValues("no_changes").Inc()
			return Update{NoChanges: true}, nil
		}
	}
	doc, err := s.store.Read(ctx)
	if err != nil {
		return Update{}, err
	}
	metrics.ChangeChecks.WithLabelValues("full").Inc()
	return Update{Data: &doc}, nil
}

// Save replaces the whole document. Schema problems are logged and the
// document is stored anyway with defaults filled in.
func (s *Service) Save(ctx context.Context, doc models.TripData) (models.TripData, error) {
	if issues := models.Validate(doc); len(issues) > 0 {
		s.log.Warn().Interface("issues", issues).Msg("saving document with schema issues")
	}
	saved, err := s.store.Write(ctx, doc)
	if err != nil {
		return models.TripData{}, err
	}
	s.publish(ctx, saved.LastUpdated)
	return saved, nil
}

func (s *Service) AddQuestion(ctx context.Context, author, content string) (models.Message, error) {
	author, content = strings.TrimSpace(author), strings.TrimSpace(content)
	if author == "" || content == "" {
		return models.Message{}, ErrEmptyField
	}
	var msg models.Message
	_, err := s.edit(ctx, func(d *models.TripData) error {
		msg = d.AddQuestion(author, content, models.DisplayTime(s.now()))
		return nil
	})
	return msg, err
}

func (s *Service) AddReply(ctx context.Context, messageID int64, author, content string) (models.Reply, error) {
	author, content = strings.TrimSpace(author), strings.TrimSpace(content)
	if author == "" || content == "" {
		return models.Reply{}, ErrEmptyField
	}
	var reply models.Reply
	_, err := s.edit(ctx, func(d *models.TripData) error {
		r, ok := d.AddReply(messageID, author, content, models.DisplayTime(s.now()))
		if !ok {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, messageID)
		}
		reply = r
		return nil
	})
	return reply, err
}

func (s *Service) DeleteMessage(ctx context.Context, id int64) (models.TripData, error) {
	return s.edit(ctx, func(d *models.TripData) error {
		if !d.DeleteMessage(id) {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, id)
		}
		return nil
	})
}

func (s *Service) DeleteReply(ctx context.Context, messageID, replyID int64) (models.TripData, error) {
	return s.edit(ctx, func(d *models.TripData) error {
		if !d.DeleteReply(messageID, replyID) {
			return fmt.Errorf("%w: %d/%d", ErrReplyNotFound, messageID, replyID)
		}
		return nil
	})
}

func (s *Service) AddAttendee(ctx context.Context, name, position string) (models.Attendee, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Attendee{}, ErrAttendeeNameEmpty
	}
	var a models.Attendee
	_, err := s.edit(ctx, func(d *models.TripData) error {
		a = d.AddAttendee(name, strings.TrimSpace(position))
		return nil
	})
	return a, err
}

// AttendeePatch holds the fields the admin view edits in place.
type AttendeePatch struct {
	Name      *string `json:"name"`
	Position  *string `json:"position"`
	Confirmed *bool   `json:"confirmed"`
}

func (s *Service) UpdateAttendee(ctx context.Context, id int64, p AttendeePatch) (models.Attendee, error) {
	var out models.Attendee
	_, err := s.edit(ctx, func(d *models.TripData) error {
		ok := d.UpdateAttendee(id, func(a *models.Attendee) {
			if p.Name != nil {
				a.Name = *p.Name
			}
			if p.Position != nil {
				a.Position = *p.Position
			}
			if p.Confirmed != nil {
				a.Confirmed = *p.Confirmed
			}
			out = *a
		})
		if !ok {
			return fmt.Errorf("%w: %d", ErrAttendeeNotFound, id)
		}
		return nil
	})
	return out, err
}

func (s *Service) DeleteAttendee(ctx context.Context, id int64) (models.TripData, error) {
	return s.edit(ctx, func(d *models.TripData) error {
		if !d.DeleteAttendee(id) {
			return fmt.Errorf("%w: %d", ErrAttendeeNotFound, id)
		}
		return nil
	})
}

// edit applies fn to a fresh copy of the document and writes it back only
// if nobody saved in between, replaying fn on a conflict. Small edits from
// concurrent visitors therefore do not erase each other.
func (s *Service) edit(ctx context.Context, fn func(*models.TripData) error) (models.TripData, error) {
	var lastErr error
	for i := 0; i < editRetries; i++ {
		doc, err := s.store.Read(ctx)
		if err != nil {
			return models.TripData{}, err
		}
		if err := fn(&doc); err != nil {
			return models.TripData{}, err
		}
		saved, err := s.store.WriteIfUnchanged(ctx, doc, doc.LastUpdated)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			s.log.Debug().Int("attempt", i+1).Msg("document changed during edit; retrying")
			continue
		}
		if err != nil {
			return models.TripData{}, err
		}
		s.publish(ctx, saved.LastUpdated)
		return saved, nil
	}
	return models.TripData{}, lastErr
}

func (s *Service) publish(ctx context.Context, lastUpdated string) {
	if s.pub != nil {
		s.pub.Publish(ctx, lastUpdated)
	}
}

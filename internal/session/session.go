// Package session is the client-facing view of one conversation for one participant. It
// keeps a local copy of the timeline, offers and appointments, loads it from the store and
// keeps it current from the realtime channel.
package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Services are the engines a session sends its commands to.
type Services struct {
	Conversations *service.ConversationService
	Offers        *service.OfferService
	Appointments  *service.AppointmentService
	Logger        *logger.Logger
}

// LoadBackoff governs retries of the initial load and Refresh. Only transport errors are
// retried.
var LoadBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    5,
}

const loadPageSize = 100

type Session struct {
	svc            Services
	sub            *realtime.Subscription
	conversationID uuid.UUID
	userID         uuid.UUID
	logger         *logger.Logger

	mu           sync.RWMutex
	conv         *models.Conversation
	messages     map[uuid.UUID]models.Message
	offers       map[uuid.UUID]models.Offer
	appointments map[uuid.UUID]models.Appointment
	responses    map[uuid.UUID]models.AppointmentResponse
	receipts     sets.Set[uuid.UUID]
}

// Open subscribes to the conversation before loading it, so nothing committed between the
// load and the first pushed event is missed. Events that arrive during the load are
// reconciled by version when Run applies them.
func Open(ctx context.Context, svc Services, broker realtime.Broker, conversationID, userID uuid.UUID) (*Session, error) {
	log := svc.Logger
	if log == nil {
		log = logger.NewNop()
	}

	sub, err := broker.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, apperr.Transport("failed to subscribe to conversation", err)
	}

	s := &Session{
		svc:            svc,
		sub:            sub,
		conversationID: conversationID,
		userID:         userID,
		logger:         log.ForConversation(conversationID.String(), userID.String()),
	}
	if err := s.Refresh(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return s, nil
}

// Close stops receiving pushed events.
func (s *Session) Close() {
	s.sub.Close()
}

// Run applies pushed events until ctx is done or the subscription ends.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.sub.C:
			if !ok {
				return nil
			}
			s.Apply(ev)
		}
	}
}

// Refresh reloads the whole conversation and merges it into the local state. Callers use it
// after a precondition error to pick up the state that caused it.
func (s *Session) Refresh(ctx context.Context) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, LoadBackoff, func(ctx context.Context) (bool, error) {
		snap, err := s.load(ctx)
		if err == nil {
			s.merge(snap)
			return true, nil
		}
		if apperr.IsKind(err, apperr.KindTransport) {
			lastErr = err
			s.logger.Warn("session load failed, retrying", zap.Error(err))
			return false, nil
		}
		return false, err
	})
	if err != nil && wait.Interrupted(err) && lastErr != nil {
		return lastErr
	}
	return err
}

type snapshot struct {
	conv         *models.Conversation
	messages     []models.Message
	offers       []models.Offer
	appointments []models.Appointment
	responses    []models.AppointmentResponse
}

func (s *Session) load(ctx context.Context) (*snapshot, error) {
	conv, err := s.svc.Conversations.Get(ctx, s.conversationID, s.userID)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{conv: conv}

	for offset := 0; ; offset += loadPageSize {
		page, err := s.svc.Conversations.ListMessages(ctx, s.conversationID, s.userID, loadPageSize, offset)
		if err != nil {
			return nil, err
		}
		snap.messages = append(snap.messages, page...)
		if len(page) < loadPageSize {
			break
		}
	}

	if snap.offers, err = s.svc.Offers.ListOffers(ctx, s.conversationID, s.userID); err != nil {
		return nil, err
	}
	if snap.appointments, err = s.svc.Appointments.ListAppointments(ctx, s.conversationID, s.userID); err != nil {
		return nil, err
	}
	for _, a := range snap.appointments {
		rs, err := s.svc.Appointments.ListResponses(ctx, a.ID, s.userID)
		if err != nil {
			return nil, err
		}
		snap.responses = append(snap.responses, rs...)
	}
	return snap, nil
}

// merge folds a loaded snapshot into the local state by id. Events applied while the load
// was in flight may be newer than the snapshot: higher versions and known responses win.
func (s *Session) merge(snap *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messages == nil {
		s.messages = make(map[uuid.UUID]models.Message, len(snap.messages))
		s.offers = make(map[uuid.UUID]models.Offer, len(snap.offers))
		s.appointments = make(map[uuid.UUID]models.Appointment, len(snap.appointments))
		s.responses = make(map[uuid.UUID]models.AppointmentResponse, len(snap.responses))
		s.receipts = sets.New[uuid.UUID]()
	}

	s.conv = snap.conv
	for _, m := range snap.messages {
		if cur, ok := s.messages[m.ID]; ok && m.ReadAt == nil {
			m.ReadAt = cur.ReadAt
		}
		s.messages[m.ID] = m
	}
	for _, o := range snap.offers {
		if cur, ok := s.offers[o.ID]; !ok || o.Version >= cur.Version {
			s.offers[o.ID] = o
		}
	}
	for _, a := range snap.appointments {
		if cur, ok := s.appointments[a.ID]; !ok || a.Version >= cur.Version {
			s.appointments[a.ID] = a
		}
	}
	for _, r := range snap.responses {
		if _, ok := s.responses[r.ID]; !ok {
			s.responses[r.ID] = r
		}
	}
}

// Apply folds one pushed event into the local state. It reports whether anything changed;
// duplicates, stale versions and events for other conversations are ignored.
func (s *Session) Apply(ev realtime.Event) bool {
	if ev.ConversationID != s.conversationID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	applied := false
	switch ev.Type {
	case models.TopicMessageNew:
		var m models.Message
		if err = json.Unmarshal(ev.Data, &m); err == nil {
			if _, ok := s.messages[m.ID]; !ok {
				s.messages[m.ID] = m
				applied = true
			}
		}
	case models.TopicMessageRead:
		var r models.WSMessageReadPayload
		if err = json.Unmarshal(ev.Data, &r); err == nil && !s.receipts.Has(ev.RecordID) {
			s.receipts.Insert(ev.RecordID)
			s.markRead(r.ReaderID, r.ReadAt)
			applied = true
		}
	case models.TopicOfferNew, models.TopicOfferUpdated:
		var o models.Offer
		if err = json.Unmarshal(ev.Data, &o); err == nil {
			if cur, ok := s.offers[o.ID]; !ok || o.Version > cur.Version {
				s.offers[o.ID] = o
				applied = true
			}
		}
	case models.TopicAppointmentNew, models.TopicAppointmentUpdated:
		var a models.Appointment
		if err = json.Unmarshal(ev.Data, &a); err == nil {
			if cur, ok := s.appointments[a.ID]; !ok || a.Version > cur.Version {
				s.appointments[a.ID] = a
				applied = true
			}
		}
	case models.TopicAppointmentResponseNew:
		var r models.AppointmentResponse
		if err = json.Unmarshal(ev.Data, &r); err == nil {
			if _, ok := s.responses[r.ID]; !ok {
				s.responses[r.ID] = r
				applied = true
			}
		}
	}
	if err != nil {
		s.logger.Warn("dropping undecodable event", zap.String("type", ev.Type), zap.Error(err))
	}
	return applied
}

// markRead marks every unread message not sent by readerID. Callers hold mu.
func (s *Session) markRead(readerID uuid.UUID, at time.Time) int64 {
	var n int64
	for id, m := range s.messages {
		if m.SenderID != readerID && m.ReadAt == nil {
			readAt := at
			m.ReadAt = &readAt
			s.messages[id] = m
			n++
		}
	}
	return n
}

// Conversation returns the loaded conversation header.
func (s *Session) Conversation() models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.conv
}

// Timeline returns the messages in (created_at, id) order.
func (s *Session) Timeline() []models.Message {
	s.mu.RLock()
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

func (s *Session) Offers() []models.Offer {
	s.mu.RLock()
	out := make([]models.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Session) Appointments() []models.Appointment {
	s.mu.RLock()
	out := make([]models.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Responses returns the replies to one appointment, oldest first.
func (s *Session) Responses(appointmentID uuid.UUID) []models.AppointmentResponse {
	s.mu.RLock()
	var out []models.AppointmentResponse
	for _, r := range s.responses {
		if r.AppointmentID == appointmentID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// UnreadCount counts the counterpart's messages this participant has not read.
func (s *Session) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.SenderID != s.userID && m.ReadAt == nil {
			n++
		}
	}
	return n
}

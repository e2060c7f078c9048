package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
)

type memState struct {
	conversations map[uuid.UUID]models.Conversation
	messages      map[uuid.UUID][]models.Message
	offers        map[uuid.UUID]models.Offer
	appointments  map[uuid.UUID]models.Appointment
	responses     map[uuid.UUID]models.AppointmentResponse
	notifications map[uuid.UUID]models.Notification
	outbox        []models.OutboxEvent
	seq           int64
}

func newMemState() *memState {
	return &memState{
		conversations: map[uuid.UUID]models.Conversation{},
		messages:      map[uuid.UUID][]models.Message{},
		offers:        map[uuid.UUID]models.Offer{},
		appointments:  map[uuid.UUID]models.Appointment{},
		responses:     map[uuid.UUID]models.AppointmentResponse{},
		notifications: map[uuid.UUID]models.Notification{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		conversations: make(map[uuid.UUID]models.Conversation, len(s.conversations)),
		messages:      make(map[uuid.UUID][]models.Message, len(s.messages)),
		offers:        make(map[uuid.UUID]models.Offer, len(s.offers)),
		appointments:  make(map[uuid.UUID]models.Appointment, len(s.appointments)),
		responses:     make(map[uuid.UUID]models.AppointmentResponse, len(s.responses)),
		notifications: make(map[uuid.UUID]models.Notification, len(s.notifications)),
		outbox:        append([]models.OutboxEvent(nil), s.outbox...),
		seq:           s.seq,
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = append([]models.Message(nil), v...)
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.responses {
		c.responses[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Transactions run one at a time against a copy of the
// state that replaces the original on commit, so a failed transaction leaves no trace.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memTx struct {
	memReader
}

// memReader implements Reader over one state snapshot.
type memReader struct {
	s *memState
}

func (m *MemoryStore) reader() memReader {
	return memReader{s: m.state}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Transport("transaction aborted", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(&memTx{memReader{s: working}}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *MemoryStore) read(fn func(r memReader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.reader())
}

// Reader methods on MemoryStore take the read lock and delegate.

func (m *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (c *models.Conversation, err error) {
	err = m.read(func(r memReader) error { c, err = r.GetConversation(ctx, id); return err })
	return c, err
}

func (m *MemoryStore) FindConversation(ctx context.Context, buyerID, sellerID, listingID uuid.UUID) (c *models.Conversation, err error) {
	err = m.read(func(r memReader) error { c, err = r.FindConversation(ctx, buyerID, sellerID, listingID); return err })
	return c, err
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID uuid.UUID) (cs []models.Conversation, err error) {
	err = m.read(func(r memReader) error { cs, err = r.ListConversations(ctx, userID); return err })
	return cs, err
}

func (m *MemoryStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) (ms []models.Message, err error) {
	err = m.read(func(r memReader) error { ms, err = r.ListMessages(ctx, conversationID, limit, offset); return err })
	return ms, err
}

func (m *MemoryStore) LastMessage(ctx context.Context, conversationID uuid.UUID) (msg *models.Message, err error) {
	err = m.read(func(r memReader) error { msg, err = r.LastMessage(ctx, conversationID); return err })
	return msg, err
}

func (m *MemoryStore) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (n int, err error) {
	err = m.read(func(r memReader) error { n, err = r.UnreadCount(ctx, conversationID, userID); return err })
	return n, err
}

func (m *MemoryStore) GetOffer(ctx context.Context, id uuid.UUID) (o *models.Offer, err error) {
	err = m.read(func(r memReader) error { o, err = r.GetOffer(ctx, id); return err })
	return o, err
}

func (m *MemoryStore) ListOffers(ctx context.Context, conversationID uuid.UUID) (offers []models.Offer, err error) {
	err = m.read(func(r memReader) error { offers, err = r.ListOffers(ctx, conversationID); return err })
	return offers, err
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id uuid.UUID) (a *models.Appointment, err error) {
	err = m.read(func(r memReader) error { a, err = r.GetAppointment(ctx, id); return err })
	return a, err
}

func (m *MemoryStore) ListAppointments(ctx context.Context, conversationID uuid.UUID) (as []models.Appointment, err error) {
	err = m.read(func(r memReader) error { as, err = r.ListAppointments(ctx, conversationID); return err })
	return as, err
}

func (m *MemoryStore) GetAppointmentResponse(ctx context.Context, id uuid.UUID) (resp *models.AppointmentResponse, err error) {
	err = m.read(func(r memReader) error { resp, err = r.GetAppointmentResponse(ctx, id); return err })
	return resp, err
}

func (m *MemoryStore) ListAppointmentResponses(ctx context.Context, appointmentID uuid.UUID) (rs []models.AppointmentResponse, err error) {
	err = m.read(func(r memReader) error { rs, err = r.ListAppointmentResponses(ctx, appointmentID); return err })
	return rs, err
}

func (m *MemoryStore) LatestSuggestion(ctx context.Context, appointmentID uuid.UUID) (resp *models.AppointmentResponse, err error) {
	err = m.read(func(r memReader) error { resp, err = r.LatestSuggestion(ctx, appointmentID); return err })
	return resp, err
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) (ns []models.Notification, err error) {
	err = m.read(func(r memReader) error { ns, err = r.ListNotifications(ctx, userID, unreadOnly, limit); return err })
	return ns, err
}

func (m *MemoryStore) UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (n int, err error) {
	err = m.read(func(r memReader) error { n, err = r.UnreadNotificationCount(ctx, userID); return err })
	return n, err
}

func (m *MemoryStore) PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = maxPageSize
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := []models.OutboxEvent{}
	for _, e := range m.state.outbox {
		if e.DispatchedAt != nil {
			continue
		}
		events = append(events, e)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (m *MemoryStore) MarkDispatched(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.outbox {
		e := &m.state.outbox[i]
		if e.ID == eventID && e.DispatchedAt == nil {
			e.DispatchedAt = &at
		}
	}
	return nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.notifications[n.ID]; ok {
		return false, nil
	}
	m.state.notifications[n.ID] = *n
	return true, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.state.notifications[notificationID]
	if !ok || n.UserID != userID {
		return apperr.NotFound("Notification")
	}
	n.Read = true
	m.state.notifications[notificationID] = n
	return nil
}

// memReader queries.

func (r memReader) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, apperr.NotFound("Conversation")
	}
	return &c, nil
}

func (r memReader) FindConversation(_ context.Context, buyerID, sellerID, listingID uuid.UUID) (*models.Conversation, error) {
	for _, c := range r.s.conversations {
		if c.BuyerID == buyerID && c.SellerID == sellerID && c.ListingID == listingID {
			return &c, nil
		}
	}
	return nil, apperr.NotFound("Conversation")
}

func (r memReader) ListConversations(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	out := []models.Conversation{}
	for _, c := range r.s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	activity := func(c models.Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r memReader) ListMessages(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	all := r.s.messages[conversationID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []models.Message{}, nil
	}
	end := offset + pageSize(limit)
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Message{}, all[offset:end]...), nil
}

func (r memReader) LastMessage(_ context.Context, conversationID uuid.UUID) (*models.Message, error) {
	all := r.s.messages[conversationID]
	if len(all) == 0 {
		return nil, nil
	}
	m := all[len(all)-1]
	return &m, nil
}

func (r memReader) UnreadCount(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	n := 0
	for _, m := range r.s.messages[conversationID] {
		if m.SenderID != userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (r memReader) GetOffer(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	o, ok := r.s.offers[id]
	if !ok {
		return nil, apperr.NotFound("Offer")
	}
	return &o, nil
}

func (r memReader) ListOffers(_ context.Context, conversationID uuid.UUID) ([]models.Offer, error) {
	out := []models.Offer{}
	for _, o := range r.s.offers {
		if o.ConversationID == conversationID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (r memReader) GetAppointment(_ context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, apperr.NotFound("Appointment")
	}
	return &a, nil
}

func (r memReader) ListAppointments(_ context.Context, conversationID uuid.UUID) ([]models.Appointment, error) {
	out := []models.Appointment{}
	for _, a := range r.s.appointments {
		if a.ConversationID == conversationID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (r memReader) GetAppointmentResponse(_ context.Context, id uuid.UUID) (*models.AppointmentResponse, error) {
	resp, ok := r.s.responses[id]
	if !ok {
		return nil, apperr.NotFound("AppointmentResponse")
	}
	return &resp, nil
}

func (r memReader) ListAppointmentResponses(_ context.Context, appointmentID uuid.UUID) ([]models.AppointmentResponse, error) {
	out := []models.AppointmentResponse{}
	for _, resp := range r.s.responses {
		if resp.AppointmentID == appointmentID {
			out = append(out, resp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func (r memReader) LatestSuggestion(ctx context.Context, appointmentID uuid.UUID) (*models.AppointmentResponse, error) {
	all, _ := r.ListAppointmentResponses(ctx, appointmentID)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ResponseType == models.ResponseTypeSuggestAlternative {
			resp := all[i]
			return &resp, nil
		}
	}
	return nil, nil
}

func (r memReader) ListNotifications(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	out := []models.Notification{}
	for _, n := range r.s.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return createdBefore(out[j].CreatedAt, out[j].ID, out[i].CreatedAt, out[i].ID)
	})
	if l := pageSize(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}

func (r memReader) UnreadNotificationCount(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, notif := range r.s.notifications {
		if notif.UserID == userID && !notif.Read {
			n++
		}
	}
	return n, nil
}

func createdBefore(at time.Time, id uuid.UUID, bt time.Time, bid uuid.UUID) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return id.String() < bid.String()
}

// memTx writes.

func (t *memTx) CreateConversation(_ context.Context, c *models.Conversation) (bool, error) {
	for _, existing := range t.s.conversations {
		if existing.BuyerID == c.BuyerID && existing.SellerID == c.SellerID && existing.ListingID == c.ListingID {
			return false, nil
		}
	}
	t.s.conversations[c.ID] = *c
	return true, nil
}

func (t *memTx) AppendMessage(_ context.Context, m *models.Message) error {
	c, ok := t.s.conversations[m.ConversationID]
	if !ok {
		return apperr.NotFound("Conversation")
	}

	m.CreatedAt = nextCreatedAt(m.CreatedAt, c.LastMessageAt)
	t.s.messages[m.ConversationID] = append(t.s.messages[m.ConversationID], *m)

	at := m.CreatedAt
	c.LastMessageAt = &at
	c.UpdatedAt = at
	t.s.conversations[c.ID] = c
	return nil
}

func (t *memTx) MarkMessagesRead(_ context.Context, conversationID, readerID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	msgs := t.s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && msgs[i].ReadAt == nil {
			readAt := at
			msgs[i].ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateOffer(_ context.Context, o *models.Offer) error {
	if _, ok := t.s.conversations[o.ConversationID]; !ok {
		return apperr.NotFound("Conversation")
	}
	t.s.offers[o.ID] = *o
	return nil
}

// GetOfferForUpdate needs no lock beyond the store-wide transaction mutex.
func (t *memTx) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return t.GetOffer(ctx, id)
}

func (t *memTx) UpdateOffer(_ context.Context, o *models.Offer) error {
	cur, ok := t.s.offers[o.ID]
	if !ok {
		return apperr.NotFound("Offer")
	}
	if cur.Version != o.Version-1 {
		return errStaleWrite("Offer")
	}
	t.s.offers[o.ID] = *o
	return nil
}

func (t *memTx) CreateAppointment(_ context.Context, a *models.Appointment) error {
	if _, ok := t.s.conversations[a.ConversationID]; !ok {
		return apperr.NotFound("Conversation")
	}
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *memTx) UpdateAppointment(_ context.Context, a *models.Appointment) error {
	cur, ok := t.s.appointments[a.ID]
	if !ok {
		return apperr.NotFound("Appointment")
	}
	if cur.Version != a.Version-1 {
		return errStaleWrite("Appointment")
	}
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) CreateAppointmentResponse(ctx context.Context, resp *models.AppointmentResponse) error {
	if _, ok := t.s.appointments[resp.AppointmentID]; !ok {
		return apperr.NotFound("Appointment")
	}
	var last *time.Time
	if prior, _ := t.ListAppointmentResponses(ctx, resp.AppointmentID); len(prior) > 0 {
		last = &prior[len(prior)-1].CreatedAt
	}
	resp.CreatedAt = nextCreatedAt(resp.CreatedAt, last)
	t.s.responses[resp.ID] = *resp
	return nil
}

func (t *memTx) EnqueueEvent(_ context.Context, e *models.OutboxEvent) error {
	t.s.seq++
	e.Seq = t.s.seq
	t.s.outbox = append(t.s.outbox, *e)
	return nil
}

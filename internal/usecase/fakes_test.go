package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"servana/internal/domain/entity"
	"servana/pkg/errors"
)

// fakeConversationRepo is an in-memory ConversationRepository.
type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	byBooking     map[string]string
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]*entity.Conversation),
		byBooking:     make(map[string]string),
	}
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	conversation.CreatedAt = time.Now()
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	r.byBooking[conversation.BookingID] = conversation.ID
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	copied := *conversation
	return &copied, nil
}

func (r *fakeConversationRepo) GetByBookingID(ctx context.Context, bookingID string) (*entity.Conversation, error) {
	r.mu.Lock()
	id, ok := r.byBooking[bookingID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("Conversation for booking", nil)
	}
	return r.GetByID(ctx, id)
}

func (r *fakeConversationRepo) Update(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	return nil
}

func (r *fakeConversationRepo) seed(id, customerID, providerID string) *entity.Conversation {
	conversation := &entity.Conversation{
		ID:         id,
		BookingID:  "booking-" + id,
		CustomerID: customerID,
		ProviderID: providerID,
		CreatedAt:  time.Now(),
	}
	r.mu.Lock()
	r.conversations[id] = conversation
	r.byBooking[conversation.BookingID] = id
	r.mu.Unlock()
	return conversation
}

// fakeMessageRepo is an in-memory MessageRepository with a working Watch.
// CreatedAt stamps use a strictly increasing clock so ordering is
// deterministic even when tests append quickly.
type fakeMessageRepo struct {
	mu         sync.Mutex
	messages   map[string][]*entity.Message
	watchers   map[string][]*fakeWatcher
	clock      time.Time
	failCreate error
	readCalls  [][]string
	readSignal chan struct{}
}

type fakeWatcher struct {
	ch    chan []*entity.Message
	limit int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages:   make(map[string][]*entity.Message),
		watchers:   make(map[string][]*fakeWatcher),
		clock:      time.Now().Add(-time.Hour),
		readSignal: make(chan struct{}, 64),
	}
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	if r.failCreate != nil {
		err := r.failCreate
		r.mu.Unlock()
		return err
	}

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	r.clock = r.clock.Add(time.Second)
	message.CreatedAt = r.clock

	copied := *message
	copied.ReadBy = append([]string(nil), message.ReadBy...)
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], &copied)
	r.sortLocked(message.ConversationID)
	r.notifyLocked(message.ConversationID)
	r.mu.Unlock()
	return nil
}

func (r *fakeMessageRepo) sortLocked(conversationID string) {
	list := r.messages[conversationID]
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
}

func (r *fakeMessageRepo) pageLocked(conversationID string, limit int) []*entity.Message {
	list := r.messages[conversationID]
	start := len(list) - limit
	if start < 0 {
		start = 0
	}
	page := make([]*entity.Message, 0, limit)
	for _, message := range list[start:] {
		copied := *message
		copied.ReadBy = append([]string(nil), message.ReadBy...)
		page = append(page, &copied)
	}
	return page
}

func (r *fakeMessageRepo) notifyLocked(conversationID string) {
	for _, watcher := range r.watchers[conversationID] {
		watcher.ch <- r.pageLocked(conversationID, watcher.limit)
	}
}

func (r *fakeMessageRepo) Latest(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageLocked(conversationID, limit), nil
}

func (r *fakeMessageRepo) ListBefore(ctx context.Context, conversationID string, before *entity.Message, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var older []*entity.Message
	for _, message := range r.messages[conversationID] {
		if message.Before(before) {
			older = append(older, message)
		}
	}

	start := len(older) - limit
	if start < 0 {
		start = 0
	}
	page := make([]*entity.Message, 0, limit)
	for _, message := range older[start:] {
		copied := *message
		page = append(page, &copied)
	}
	return page, nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, message := range r.messages[conversationID] {
		if message.ID == messageID {
			copied := *message
			return &copied, nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

func (r *fakeMessageRepo) AddReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string) error {
	r.mu.Lock()
	r.readCalls = append(r.readCalls, append([]string(nil), messageIDs...))

	for _, messageID := range messageIDs {
		for _, message := range r.messages[conversationID] {
			if message.ID != messageID {
				continue
			}
			if !message.ReadByUser(userID) {
				message.ReadBy = append(message.ReadBy, userID)
			}
		}
	}
	r.notifyLocked(conversationID)
	r.mu.Unlock()

	select {
	case r.readSignal <- struct{}{}:
	default:
	}
	return nil
}

func (r *fakeMessageRepo) Watch(ctx context.Context, conversationID string, limit int) (<-chan []*entity.Message, error) {
	watcher := &fakeWatcher{
		ch:    make(chan []*entity.Message, 64),
		limit: limit,
	}

	r.mu.Lock()
	r.watchers[conversationID] = append(r.watchers[conversationID], watcher)
	watcher.ch <- r.pageLocked(conversationID, limit)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		watchers := r.watchers[conversationID]
		for i, w := range watchers {
			if w == watcher {
				r.watchers[conversationID] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}()

	return watcher.ch, nil
}

func (r *fakeMessageRepo) all(conversationID string) []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageLocked(conversationID, len(r.messages[conversationID]))
}

func (r *fakeMessageRepo) readCallsSnapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := make([][]string, len(r.readCalls))
	for i, call := range r.readCalls {
		calls[i] = append([]string(nil), call...)
	}
	return calls
}

func (r *fakeMessageRepo) setFailCreate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCreate = err
}

// fakeTypingRepo records writes and replays the record set to watchers.
type fakeTypingRepo struct {
	mu       sync.Mutex
	records  map[string]map[string]*entity.TypingState
	writes   []*entity.TypingState
	watchers map[string][]chan []*entity.TypingState
	failSet  error
}

func newFakeTypingRepo() *fakeTypingRepo {
	return &fakeTypingRepo{
		records:  make(map[string]map[string]*entity.TypingState),
		watchers: make(map[string][]chan []*entity.TypingState),
	}
}

func (r *fakeTypingRepo) Set(ctx context.Context, state *entity.TypingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failSet != nil {
		return r.failSet
	}

	copied := *state
	if r.records[state.ConversationID] == nil {
		r.records[state.ConversationID] = make(map[string]*entity.TypingState)
	}
	r.records[state.ConversationID][state.UserID] = &copied
	r.writes = append(r.writes, &copied)

	for _, watcher := range r.watchers[state.ConversationID] {
		watcher <- r.listLocked(state.ConversationID)
	}
	return nil
}

func (r *fakeTypingRepo) listLocked(conversationID string) []*entity.TypingState {
	var states []*entity.TypingState
	for _, state := range r.records[conversationID] {
		copied := *state
		states = append(states, &copied)
	}
	return states
}

func (r *fakeTypingRepo) List(ctx context.Context, conversationID string) ([]*entity.TypingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(conversationID), nil
}

func (r *fakeTypingRepo) Watch(ctx context.Context, conversationID string) (<-chan []*entity.TypingState, error) {
	ch := make(chan []*entity.TypingState, 64)

	r.mu.Lock()
	r.watchers[conversationID] = append(r.watchers[conversationID], ch)
	ch <- r.listLocked(conversationID)
	r.mu.Unlock()

	return ch, nil
}

func (r *fakeTypingRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *fakeTypingRepo) writeAt(i int) *entity.TypingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.writes[i]
	return &copied
}

// inject backdates or plants a record directly, bypassing the writer path.
func (r *fakeTypingRepo) inject(state *entity.TypingState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *state
	if r.records[state.ConversationID] == nil {
		r.records[state.ConversationID] = make(map[string]*entity.TypingState)
	}
	r.records[state.ConversationID][state.UserID] = &copied
	for _, watcher := range r.watchers[state.ConversationID] {
		watcher <- r.listLocked(state.ConversationID)
	}
}

package usecase

import (
	"context"
	"sync"

	"servana/internal/domain/entity"
	"servana/pkg/errors"
	"servana/pkg/logger"
)

// FeedState is the lifecycle of one open conversation view. A feed starts
// Idle, moves to Loading on Open and to Ready on the first page, and flips
// between Ready and LoadingMore while older history loads. A broken
// subscription or failed initial load moves it to Error, and Open retries
// from there. Send and LoadMore failures keep the view Ready with its page
// intact; only the subscription itself moves the feed to Error.
type FeedState string

const (
	FeedIdle        FeedState = "idle"
	FeedLoading     FeedState = "loading"
	FeedReady       FeedState = "ready"
	FeedLoadingMore FeedState = "loading_more"
	FeedError       FeedState = "error"
)

type FeedEventKind string

const (
	FeedEventPage   FeedEventKind = "page"
	FeedEventTyping FeedEventKind = "typing"
	FeedEventError  FeedEventKind = "error"
)

// FeedEvent is what the transport layer renders. Page events always carry the
// full ordered view, never a delta.
type FeedEvent struct {
	Kind     FeedEventKind
	Messages []*entity.Message
	HasMore  bool
	Typing   bool
	Err      error
}

// Draft is the two-phase send command over the user's input text: Begin
// clears the input optimistically, Commit finishes the send, Rollback puts
// the text back so a failed send never loses it.
type Draft struct {
	mu       sync.Mutex
	value    string
	inflight string
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = text
}

func (d *Draft) Value() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

func (d *Draft) Begin(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight = text
	d.value = ""
}

func (d *Draft) Commit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight = ""
}

func (d *Draft) Rollback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = d.inflight
	d.inflight = ""
}

// ConversationFeed composes the live message page and the typing signal into
// one view for a single participant, and marks rendered messages as read.
type ConversationFeed struct {
	conversations *ConversationUseCase
	typing        *TypingUseCase

	conversationID  string
	userID          string
	pageSize        int
	historyPageSize int

	mu      sync.Mutex
	state   FeedState
	live    []*entity.Message
	older   []*entity.Message
	hasMore bool
	cancel  context.CancelFunc

	draft  Draft
	events chan FeedEvent
}

func NewConversationFeed(conversations *ConversationUseCase, typing *TypingUseCase, conversationID, userID string, pageSize int) *ConversationFeed {
	if pageSize <= 0 {
		pageSize = DefaultLivePageSize
	}

	return &ConversationFeed{
		conversations:   conversations,
		typing:          typing,
		conversationID:  conversationID,
		userID:          userID,
		pageSize:        pageSize,
		historyPageSize: 20,
		state:           FeedIdle,
		events:          make(chan FeedEvent, 16),
	}
}

// Events delivers page snapshots, typing changes and stream errors. The
// channel stays open across Error/retry cycles; consumers should select on
// their own context rather than wait for a close.
func (f *ConversationFeed) Events() <-chan FeedEvent {
	return f.events
}

func (f *ConversationFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *ConversationFeed) Draft() *Draft {
	return &f.draft
}

// Open subscribes to both streams. Also serves as retry from Error.
func (f *ConversationFeed) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.state != FeedIdle && f.state != FeedError {
		f.mu.Unlock()
		return errors.BadRequest("Conversation view is already open", nil)
	}
	f.state = FeedLoading
	f.live = nil
	f.older = nil
	f.mu.Unlock()

	feedCtx, cancel := context.WithCancel(ctx)

	messages, err := f.conversations.SubscribeLive(feedCtx, f.userID, f.conversationID, f.pageSize)
	if err != nil {
		cancel()
		f.fail(err)
		return err
	}

	typing, err := f.typing.SubscribeTyping(feedCtx, f.conversationID, f.userID)
	if err != nil {
		cancel()
		f.fail(err)
		return err
	}

	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(feedCtx, messages, typing)

	return nil
}

func (f *ConversationFeed) run(ctx context.Context, messages <-chan []*entity.Message, typing <-chan bool) {
	for {
		select {
		case page, ok := <-messages:
			if !ok {
				if ctx.Err() == nil {
					f.fail(errors.Internal("Message stream ended unexpectedly", nil))
					f.emit(ctx, FeedEvent{Kind: FeedEventError, Err: errors.Internal("Message stream ended unexpectedly", nil)})
				}
				return
			}

			f.mu.Lock()
			f.live = page
			if f.state == FeedLoading {
				f.state = FeedReady
			}
			view := f.viewLocked()
			hasMore := f.hasMore
			f.mu.Unlock()

			if !f.emit(ctx, FeedEvent{Kind: FeedEventPage, Messages: view, HasMore: hasMore}) {
				return
			}

			f.markRendered(ctx, page)

		case active, ok := <-typing:
			if !ok {
				if ctx.Err() == nil {
					f.fail(errors.Internal("Typing stream ended unexpectedly", nil))
					f.emit(ctx, FeedEvent{Kind: FeedEventError, Err: errors.Internal("Typing stream ended unexpectedly", nil)})
				}
				return
			}
			if !f.emit(ctx, FeedEvent{Kind: FeedEventTyping, Typing: active}) {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// markRendered marks the other participant's unseen user messages as read,
// fire-and-forget. System messages have no human sender and are never
// candidates. Failures are logged, not retried: the next page event retries
// naturally.
func (f *ConversationFeed) markRendered(ctx context.Context, page []*entity.Message) {
	var unseen []string
	for _, message := range page {
		if message.Kind != entity.MessageKindUser {
			continue
		}
		if message.SenderID == f.userID || message.ReadByUser(f.userID) {
			continue
		}
		unseen = append(unseen, message.ID)
	}
	if len(unseen) == 0 {
		return
	}

	go func() {
		if err := f.conversations.MarkRead(ctx, f.userID, f.conversationID, unseen); err != nil {
			if ctx.Err() == nil {
				logger.Warn("Failed to mark %d messages read in conversation %s: %v", len(unseen), f.conversationID, err)
			}
		}
	}()
}

// SendMessage clears the draft before the round-trip and restores it on
// failure; a failed send must leave the text available to retry.
func (f *ConversationFeed) SendMessage(ctx context.Context, text string) (*entity.Message, error) {
	f.mu.Lock()
	if f.state != FeedReady {
		f.mu.Unlock()
		return nil, errors.BadRequest("Conversation view is not ready", nil)
	}
	f.mu.Unlock()

	f.draft.Begin(text)

	message, err := f.conversations.Append(ctx, f.userID, f.conversationID, text)
	if err != nil {
		f.draft.Rollback()
		return nil, err
	}

	f.draft.Commit()
	return message, nil
}

// NotifyTyping forwards the participant's input activity. Best-effort:
// indicator loss is invisible next to the freshness window.
func (f *ConversationFeed) NotifyTyping(ctx context.Context, isTyping bool) {
	f.mu.Lock()
	ready := f.state == FeedReady
	f.mu.Unlock()
	if !ready {
		return
	}

	if err := f.typing.SetTyping(ctx, f.conversationID, f.userID, isTyping); err != nil {
		logger.Debug("Dropped typing update for conversation %s: %v", f.conversationID, err)
	}
}

// LoadMore fetches the page older than the oldest held message and prepends
// it. On failure the held page stays intact and the view remains Ready.
func (f *ConversationFeed) LoadMore(ctx context.Context) (bool, error) {
	f.mu.Lock()
	if f.state != FeedReady {
		f.mu.Unlock()
		return false, errors.BadRequest("Conversation view is not ready", nil)
	}
	oldest := f.oldestLocked()
	if oldest == nil {
		f.mu.Unlock()
		return false, nil
	}
	f.state = FeedLoadingMore
	f.mu.Unlock()

	messages, hasMore, err := f.conversations.LoadOlderPage(ctx, f.userID, f.conversationID, oldest.ID, f.historyPageSize)

	f.mu.Lock()
	f.state = FeedReady
	if err != nil {
		f.mu.Unlock()
		f.emit(ctx, FeedEvent{Kind: FeedEventError, Err: err})
		return false, err
	}
	f.older = append(messages, f.older...)
	f.hasMore = hasMore
	view := f.viewLocked()
	f.mu.Unlock()

	f.emit(ctx, FeedEvent{Kind: FeedEventPage, Messages: view, HasMore: hasMore})
	return hasMore, nil
}

// Close cancels both subscriptions and any pending work.
func (f *ConversationFeed) Close() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.state = FeedIdle
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (f *ConversationFeed) fail(err error) {
	f.mu.Lock()
	f.state = FeedError
	f.mu.Unlock()
	logger.Error("Conversation feed %s for user %s failed: %v", f.conversationID, f.userID, err)
}

func (f *ConversationFeed) emit(ctx context.Context, event FeedEvent) bool {
	select {
	case f.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (f *ConversationFeed) viewLocked() []*entity.Message {
	view := make([]*entity.Message, 0, len(f.older)+len(f.live))
	view = append(view, f.older...)
	view = append(view, f.live...)
	return view
}

func (f *ConversationFeed) oldestLocked() *entity.Message {
	if len(f.older) > 0 {
		return f.older[0]
	}
	if len(f.live) > 0 {
		return f.live[0]
	}
	return nil
}

package usecase

import (
	"context"
	"sync"
	"time"

	"servana/internal/domain/entity"
	"servana/internal/domain/repository"
	"servana/internal/infrastructure/ratelimit"
	"servana/pkg/errors"
	"servana/pkg/logger"
)

const (
	// TypingDebounce is the writer-side window inside which repeated SetTyping
	// calls from the same participant become no-ops.
	TypingDebounce = 500 * time.Millisecond

	// TypingAutoExpiry is how long after a "typing" write the tracker writes
	// an automatic stop, modelling a user who stopped without sending.
	TypingAutoExpiry = 2500 * time.Millisecond
)

// TypingUseCase is the presence tracker: debounced last-write-wins typing
// records with writer-side auto-expiry and reader-side freshness.
type TypingUseCase struct {
	typingRepo  repository.TypingRepository
	rateLimiter *ratelimit.RateLimiter

	debounce   time.Duration
	autoExpiry time.Duration
	freshness  time.Duration

	mu       sync.Mutex
	sessions map[string]*typingSession
}

// typingSession is the writer-local bookkeeping for one (conversation, user)
// key. seq invalidates a pending expiry timer when a newer call supersedes it.
type typingSession struct {
	lastWrite time.Time
	seq       uint64
	expire    *time.Timer
}

func NewTypingUseCase(typingRepo repository.TypingRepository) *TypingUseCase {
	return newTypingUseCase(typingRepo, TypingDebounce, TypingAutoExpiry, entity.TypingFreshnessWindow)
}

func newTypingUseCase(typingRepo repository.TypingRepository, debounce, autoExpiry, freshness time.Duration) *TypingUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &TypingUseCase{
		typingRepo:  typingRepo,
		rateLimiter: rateLimiter,
		debounce:    debounce,
		autoExpiry:  autoExpiry,
		freshness:   freshness,
		sessions:    make(map[string]*typingSession),
	}
}

// SetTyping writes the participant's typing state. Calls inside the debounce
// window are no-ops. A successful "typing" write schedules an automatic stop
// after the expiry interval; timers are cancel-and-replace per key so a stale
// expiry can never clear a newer session.
func (uc *TypingUseCase) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	key := conversationID + ":" + userID

	uc.mu.Lock()
	session, ok := uc.sessions[key]
	if !ok {
		session = &typingSession{}
		uc.sessions[key] = session
	}

	now := time.Now()
	if !session.lastWrite.IsZero() && now.Sub(session.lastWrite) < uc.debounce {
		uc.mu.Unlock()
		return nil
	}

	// Rate limit only calls that survive the debounce, so a chatty client's
	// no-op keystrokes never drain the bucket.
	allowed, waitTime := uc.rateLimiter.Allow(userID, "typing")
	if !allowed {
		uc.mu.Unlock()
		logger.Debug("SetTyping rate limited: user %s must wait %v", userID, waitTime)
		return errors.TooManyRequests("Typing updates are rate limited", waitTime)
	}

	session.lastWrite = now
	session.seq++
	seq := session.seq

	if session.expire != nil {
		session.expire.Stop()
		session.expire = nil
	}
	if isTyping {
		session.expire = time.AfterFunc(uc.autoExpiry, func() {
			uc.autoStop(conversationID, userID, seq)
		})
	}
	uc.mu.Unlock()

	return uc.typingRepo.Set(ctx, &entity.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      now,
	})
}

// autoStop runs when the expiry timer fires. If the session was superseded in
// the meantime the write is skipped. A failed stop write is only logged: the
// reader-side freshness window expires the record regardless.
func (uc *TypingUseCase) autoStop(conversationID, userID string, seq uint64) {
	key := conversationID + ":" + userID

	uc.mu.Lock()
	session, ok := uc.sessions[key]
	if !ok || session.seq != seq {
		uc.mu.Unlock()
		return
	}
	now := time.Now()
	session.lastWrite = now
	session.expire = nil
	uc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := uc.typingRepo.Set(ctx, &entity.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       false,
		UpdatedAt:      now,
	})
	if err != nil {
		logger.Warn("Typing auto-stop write failed for user %s in conversation %s: %v", userID, conversationID, err)
	}
}

// SubscribeTyping emits true whenever at least one other participant has a
// fresh typing record, false otherwise. Emits on change only, and re-evaluates
// at the earliest upcoming expiry so a stream that saw "typing" decays to
// false even if the stop write never arrives.
func (uc *TypingUseCase) SubscribeTyping(ctx context.Context, conversationID, selfUserID string) (<-chan bool, error) {
	updates, err := uc.typingRepo.Watch(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	out := make(chan bool, 1)

	go func() {
		defer close(out)

		recheck := time.NewTimer(uc.freshness)
		if !recheck.Stop() {
			<-recheck.C
		}
		defer recheck.Stop()

		var (
			states  []*entity.TypingState
			last    bool
			emitted bool
		)

		evaluate := func() bool {
			active, untilExpiry := uc.someoneElseTyping(states, selfUserID)

			if untilExpiry > 0 {
				recheck.Reset(untilExpiry)
			}

			if emitted && active == last {
				return true
			}
			select {
			case out <- active:
				last = active
				emitted = true
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case next, ok := <-updates:
				if !ok {
					return
				}
				states = next
				if !evaluate() {
					return
				}
			case <-recheck.C:
				if !evaluate() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// someoneElseTyping applies the freshness window over the other participants'
// records. The second return is the wait until the earliest contributing
// record expires, or 0 when nothing is live.
func (uc *TypingUseCase) someoneElseTyping(states []*entity.TypingState, selfUserID string) (bool, time.Duration) {
	now := time.Now()

	active := false
	var earliest time.Time
	for _, state := range states {
		if state.UserID == selfUserID || !state.IsTyping {
			continue
		}
		if now.Sub(state.UpdatedAt) >= uc.freshness {
			continue
		}

		active = true
		expiry := state.UpdatedAt.Add(uc.freshness)
		if earliest.IsZero() || expiry.Before(earliest) {
			earliest = expiry
		}
	}

	if !active {
		return false, 0
	}
	return true, time.Until(earliest)
}

// Close cancels every pending auto-expiry timer.
func (uc *TypingUseCase) Close() {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for key, session := range uc.sessions {
		if session.expire != nil {
			session.expire.Stop()
			session.expire = nil
		}
		delete(uc.sessions, key)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servana/internal/adapter/api"
	"servana/internal/domain/entity"
	"servana/internal/usecase"
	"servana/pkg/errors"
	"servana/pkg/response"
)

// stubConversationRepo is the minimal in-memory repository the handler tests
// need; the live-stream behavior is covered in the usecase tests.
type stubConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	byBooking     map[string]string
}

func newStubConversationRepo() *stubConversationRepo {
	return &stubConversationRepo{
		conversations: make(map[string]*entity.Conversation),
		byBooking:     make(map[string]string),
	}
}

func (r *stubConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	conversation.CreatedAt = time.Now()
	r.conversations[conversation.ID] = conversation
	r.byBooking[conversation.BookingID] = conversation.ID
	return nil
}

func (r *stubConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conversation, nil
}

func (r *stubConversationRepo) GetByBookingID(ctx context.Context, bookingID string) (*entity.Conversation, error) {
	r.mu.Lock()
	id, ok := r.byBooking[bookingID]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("Conversation for booking", nil)
	}
	return r.GetByID(ctx, id)
}

func (r *stubConversationRepo) Update(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ID] = conversation
	return nil
}

type stubMessageRepo struct {
	mu       sync.Mutex
	messages map[string][]*entity.Message
	clock    time.Time
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{
		messages: make(map[string][]*entity.Message),
		clock:    time.Now().Add(-time.Hour),
	}
}

func (r *stubMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	r.clock = r.clock.Add(time.Second)
	message.CreatedAt = r.clock
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], message)
	return nil
}

func (r *stubMessageRepo) Latest(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.messages[conversationID]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]*entity.Message(nil), list...), nil
}

func (r *stubMessageRepo) ListBefore(ctx context.Context, conversationID string, before *entity.Message, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var older []*entity.Message
	for _, message := range r.messages[conversationID] {
		if message.Before(before) {
			older = append(older, message)
		}
	}
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return older, nil
}

func (r *stubMessageRepo) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages[conversationID] {
		if message.ID == messageID {
			return message, nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

func (r *stubMessageRepo) AddReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, messageID := range messageIDs {
		for _, message := range r.messages[conversationID] {
			if message.ID == messageID && !message.ReadByUser(userID) {
				message.ReadBy = append(message.ReadBy, userID)
			}
		}
	}
	return nil
}

func (r *stubMessageRepo) Watch(ctx context.Context, conversationID string, limit int) (<-chan []*entity.Message, error) {
	ch := make(chan []*entity.Message, 1)
	page, _ := r.Latest(ctx, conversationID, limit)
	ch <- page
	return ch, nil
}

type handlerFixture struct {
	echo             *echo.Echo
	handler          *ConversationHandler
	conversationRepo *stubConversationRepo
	messageRepo      *stubMessageRepo
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	conversationRepo := newStubConversationRepo()
	messageRepo := newStubMessageRepo()
	uc := usecase.NewConversationUseCase(conversationRepo, messageRepo, 50)

	e := echo.New()
	e.Validator = api.NewValidator()

	return &handlerFixture{
		echo:             e,
		handler:          NewConversationHandler(uc),
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
	}
}

func (fx *handlerFixture) seedConversation(t *testing.T, customerID, providerID string) *entity.Conversation {
	t.Helper()
	conversation := &entity.Conversation{
		BookingID:  "bk-" + uuid.New().String(),
		CustomerID: customerID,
		ProviderID: providerID,
	}
	require.NoError(t, fx.conversationRepo.Create(context.Background(), conversation))
	return conversation
}

func (fx *handlerFixture) request(method, target, body, uid string, claims map[string]interface{}) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	rec := httptest.NewRecorder()
	c := fx.echo.NewContext(req, rec)
	if uid != "" {
		c.Set("uid", uid)
	}
	if claims != nil {
		c.Set("claims", claims)
	}
	return c, rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateConversationAsParticipant(t *testing.T) {
	fx := newHandlerFixture(t)

	body := `{"booking_id":"bk-1","customer_id":"alice","provider_id":"bob"}`
	c, rec := fx.request(http.MethodPost, "/v1/conversations", body, "alice", nil)

	require.NoError(t, fx.handler.CreateConversation(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
}

func TestCreateConversationRejectsOutsider(t *testing.T) {
	fx := newHandlerFixture(t)

	body := `{"booking_id":"bk-1","customer_id":"alice","provider_id":"bob"}`
	c, rec := fx.request(http.MethodPost, "/v1/conversations", body, "mallory", nil)

	require.NoError(t, fx.handler.CreateConversation(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestCreateConversationAllowsServiceRole(t *testing.T) {
	fx := newHandlerFixture(t)

	body := `{"booking_id":"bk-1","customer_id":"alice","provider_id":"bob"}`
	claims := map[string]interface{}{"role": "service"}
	c, rec := fx.request(http.MethodPost, "/v1/conversations", body, "booking-service", claims)

	require.NoError(t, fx.handler.CreateConversation(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateConversationValidatesInput(t *testing.T) {
	fx := newHandlerFixture(t)

	c, rec := fx.request(http.MethodPost, "/v1/conversations", `{"booking_id":"bk-1"}`, "alice", nil)

	require.NoError(t, fx.handler.CreateConversation(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestGetMessagesReturnsCursorPage(t *testing.T) {
	fx := newHandlerFixture(t)
	conversation := fx.seedConversation(t, "alice", "bob")

	for i := 0; i < 25; i++ {
		require.NoError(t, fx.messageRepo.Create(context.Background(), &entity.Message{
			ConversationID: conversation.ID,
			SenderID:       "alice",
			Text:           fmt.Sprintf("message %d", i),
			Kind:           entity.MessageKindUser,
			ReadBy:         []string{"alice"},
		}))
	}

	c, rec := fx.request(http.MethodGet, "/v1/conversations/"+conversation.ID+"/messages?limit=10", "", "bob", nil)
	c.SetParamNames("id")
	c.SetParamValues(conversation.ID)

	require.NoError(t, fx.handler.GetMessages(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                `json:"success"`
		Data    response.CursorPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.HasMore)
	assert.NotEmpty(t, resp.Data.NextCursor)

	items, ok := resp.Data.Items.([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 10)
}

func TestGetMessagesRejectsNonParticipant(t *testing.T) {
	fx := newHandlerFixture(t)
	conversation := fx.seedConversation(t, "alice", "bob")

	c, rec := fx.request(http.MethodGet, "/v1/conversations/"+conversation.ID+"/messages", "", "mallory", nil)
	c.SetParamNames("id")
	c.SetParamValues(conversation.ID)

	require.NoError(t, fx.handler.GetMessages(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkReadEndpoint(t *testing.T) {
	fx := newHandlerFixture(t)
	conversation := fx.seedConversation(t, "alice", "bob")

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       "alice",
		Text:           "hi",
		Kind:           entity.MessageKindUser,
		ReadBy:         []string{"alice"},
	}
	require.NoError(t, fx.messageRepo.Create(context.Background(), message))

	body := fmt.Sprintf(`{"message_ids":[%q]}`, message.ID)
	c, rec := fx.request(http.MethodPut, "/v1/conversations/"+conversation.ID+"/read", body, "bob", nil)
	c.SetParamNames("id")
	c.SetParamValues(conversation.ID)

	require.NoError(t, fx.handler.MarkRead(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := fx.messageRepo.GetByID(context.Background(), conversation.ID, message.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, stored.ReadBy)
}

func TestMarkReadRequiresMessageIDs(t *testing.T) {
	fx := newHandlerFixture(t)
	conversation := fx.seedConversation(t, "alice", "bob")

	c, rec := fx.request(http.MethodPut, "/v1/conversations/"+conversation.ID+"/read", `{"message_ids":[]}`, "bob", nil)
	c.SetParamNames("id")
	c.SetParamValues(conversation.ID)

	require.NoError(t, fx.handler.MarkRead(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostSystemMessageEndpoint(t *testing.T) {
	fx := newHandlerFixture(t)
	conversation := fx.seedConversation(t, "alice", "bob")

	body := `{"text":"Booking completed - leave a review"}`
	c, rec := fx.request(http.MethodPost, "/v1/conversations/"+conversation.ID+"/system-messages", body, "booking-service", map[string]interface{}{"role": "service"})
	c.SetParamNames("id")
	c.SetParamValues(conversation.ID)

	require.NoError(t, fx.handler.PostSystemMessage(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	messages, err := fx.messageRepo.Latest(context.Background(), conversation.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, entity.MessageKindSystem, messages[0].Kind)
	assert.Empty(t, messages[0].SenderID)
}

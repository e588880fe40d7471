package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"servana/internal/usecase"
	"servana/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a WebSocket connection client
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu    sync.Mutex
	feeds map[string]*feedSession
}

// feedSession ties an open conversation view to its cancel handle so leaving
// the room (or dropping the socket) tears the feed down.
type feedSession struct {
	feed   *usecase.ConversationFeed
	cancel context.CancelFunc
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		feeds:  make(map[string]*feedSession),
	}
}

// Manager manages all active WebSocket connections
type Manager struct {
	conversations *usecase.ConversationUseCase
	typing        *usecase.TypingUseCase

	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

// NewManager creates a new WebSocket connection manager
func NewManager(conversations *usecase.ConversationUseCase, typing *usecase.TypingUseCase) *Manager {
	return &Manager{
		conversations: conversations,
		typing:        typing,
		clients:       make(map[string]*Client),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if current, ok := m.clients[client.UserID]; ok && current == client {
					delete(m.clients, client.UserID)
					close(client.Send)
				}
				m.mutex.Unlock()
				client.closeFeeds()
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Client) addFeed(conversationID string, feed *usecase.ConversationFeed, cancel context.CancelFunc) {
	c.mu.Lock()
	previous := c.feeds[conversationID]
	c.feeds[conversationID] = &feedSession{feed: feed, cancel: cancel}
	c.mu.Unlock()

	if previous != nil {
		previous.cancel()
		previous.feed.Close()
	}
}

func (c *Client) getFeed(conversationID string) *usecase.ConversationFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.feeds[conversationID]; ok {
		return session.feed
	}
	return nil
}

func (c *Client) removeFeed(conversationID string) {
	c.mu.Lock()
	session := c.feeds[conversationID]
	delete(c.feeds, conversationID)
	c.mu.Unlock()

	if session != nil {
		session.cancel()
		session.feed.Close()
	}
}

func (c *Client) closeFeeds() {
	c.mu.Lock()
	sessions := make([]*feedSession, 0, len(c.feeds))
	for id, session := range c.feeds {
		sessions = append(sessions, session)
		delete(c.feeds, id)
	}
	c.mu.Unlock()

	for _, session := range sessions {
		session.cancel()
		session.feed.Close()
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	// Firewalls and proxies invalidate idle connections; keep the read side
	// alive with a pong-extended deadline.
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error for %s: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("WebSocket write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

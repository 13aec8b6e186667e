package ws

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/wire"
)

// MaxMessageLength is the longest accepted message body, in runes.
const MaxMessageLength = wire.MaxMessageLength

const sendLockStripes = 64

// ErrForbidden means the identity is not a participant of the conversation.
var ErrForbidden = errors.New("not a participant of this conversation")

// Hub is the room multiplexer: it tracks one authoritative connection per user,
// room membership per conversation, and relays events to room members only.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
	admins  map[*Client]struct{}

	// sendLocks serialize persist+broadcast per conversation so that delivery
	// order equals relay processing order.
	sendLocks [sendLockStripes]sync.Mutex

	repo       repository.Repository
	opts       Options
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(repo repository.Repository, opts Options) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		admins:     make(map[*Client]struct{}),
		repo:       repo,
		opts:       opts.withDefaults(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	seen := make(map[*Client]struct{}, len(h.clients))
	for _, c := range h.clients {
		seen[c] = struct{}{}
	}
	for _, members := range h.rooms {
		for c := range members {
			seen[c] = struct{}{}
		}
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.admins = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range seen {
		c.Close()
	}
	for c := range seen {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	uid := c.identity.UserID
	select {
	case <-c.done:
		// Closed before registration was processed.
		return
	default:
	}
	h.mu.Lock()
	prev := h.clients[uid]
	if prev == nil && len(h.clients) >= h.opts.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConnections, uid)
		c.closeWith(websocket.CloseTryAgainLater, "connection limit")
		return
	}
	if prev != nil {
		h.detachLocked(prev)
	}
	h.clients[uid] = c
	if c.identity.IsAdmin() {
		h.admins[c] = struct{}{}
	}
	h.mu.Unlock()

	if prev != nil {
		logger.Infof("ws user=%s reconnected, superseding previous connection", uid)
		prev.closeWith(CloseSuperseded, "superseded")
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	h.detachLocked(c)
	if h.clients[c.identity.UserID] == c {
		delete(h.clients, c.identity.UserID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// detachLocked drops c from every room and the admin set. h.mu must be held.
func (h *Hub) detachLocked(c *Client) {
	for conv := range c.rooms {
		h.leaveLocked(c, conv)
	}
	delete(h.admins, c)
}

func (h *Hub) leaveLocked(c *Client, conversationID string) bool {
	members, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	delete(c.rooms, conversationID)
	if len(members) == 0 {
		delete(h.rooms, conversationID)
	}
	return true
}

// join adds c to the room. Joining twice is a no-op; it reports whether membership changed.
func (h *Hub) join(c *Client, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-c.done:
		return false
	default:
	}
	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[conversationID] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
	return true
}

func (h *Hub) leave(c *Client, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, conversationID)
}

func (h *Hub) isMember(c *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c]
	return ok
}

// Connected reports whether userID has a registered connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// DisconnectUser closes the live connection of userID with code and leaves
// all of its rooms. It reports whether a connection was open.
func (h *Hub) DisconnectUser(userID string, code int, reason string) bool {
	h.mu.Lock()
	c := h.clients[userID]
	if c != nil {
		h.detachLocked(c)
		delete(h.clients, userID)
	}
	h.mu.Unlock()
	if c == nil {
		return false
	}
	logger.Infof("ws user=%s disconnected: %s", userID, reason)
	c.closeWith(code, reason)
	return true
}

// RoomSize returns the number of sessions joined to the conversation.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// HandleMessage dispatches an inbound frame from c.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, in wire.Inbound) {
	if in.ConversationID == "" {
		h.sendToClient(c, wire.Error(wire.CodeBadRequest, "", in.ClientMsgID, "conversationId required"))
		return
	}
	switch in.Type {
	case wire.EventJoinConversation:
		h.handleJoin(ctx, c, in)
	case wire.EventLeaveConversation:
		h.leave(c, in.ConversationID)
		h.sendToClient(c, wire.Left(in.ConversationID))
	case wire.EventSendMessage:
		h.handleSend(ctx, c, in)
	case wire.EventTyping:
		h.handleTyping(c, in)
	case wire.EventReadReceipt:
		h.handleRead(ctx, c, in)
	default:
		h.sendToClient(c, wire.Error(wire.CodeBadRequest, in.ConversationID, in.ClientMsgID, "unknown event type"))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, in wire.Inbound) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conv, err := h.repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		h.sendToClient(c, h.errorFrame(err, in))
		return
	}
	if !conv.IsParticipant(c.identity) {
		h.sendToClient(c, h.errorFrame(ErrForbidden, in))
		return
	}
	if h.join(c, in.ConversationID) {
		logger.Debugf("ws user=%s joined conversation=%s", c.identity.UserID, in.ConversationID)
	}
	h.sendToClient(c, wire.Joined(in.ConversationID))
}

func (h *Hub) handleSend(ctx context.Context, c *Client, in wire.Inbound) {
	if !h.isMember(c, in.ConversationID) {
		h.sendToClient(c, h.errorFrame(ErrForbidden, in))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.Relay(ctx, c.identity, in.ConversationID, in.Message, in.ClientMsgID); err != nil {
		h.sendToClient(c, h.errorFrame(err, in))
	}
}

func (h *Hub) handleTyping(c *Client, in wire.Inbound) {
	if !h.isMember(c, in.ConversationID) {
		return
	}
	sig := model.TypingSignal{
		ConversationID: in.ConversationID,
		UserID:         c.identity.UserID,
		UserName:       c.identity.Name,
		IsTyping:       in.IsTyping != nil && *in.IsTyping,
	}
	h.broadcast(in.ConversationID, wire.TypingSignal(sig), c.identity.UserID)
}

func (h *Hub) handleRead(ctx context.Context, c *Client, in wire.Inbound) {
	if !h.isMember(c, in.ConversationID) {
		h.sendToClient(c, h.errorFrame(ErrForbidden, in))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.MarkRead(ctx, c.identity, in.ConversationID); err != nil {
		h.sendToClient(c, h.errorFrame(err, in))
	}
}

// Relay validates, persists and broadcasts one message. It assigns the message id and
// timestamp. clientMsgID is echoed so the sender can reconcile its optimistic copy.
func (h *Hub) Relay(ctx context.Context, sender model.Identity, conversationID, text, clientMsgID string) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.Relay", time.Now())()
	if strings.TrimSpace(text) == "" {
		return nil, &chaterr.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, &chaterr.ValidationError{Field: "message", Reason: fmt.Sprintf("longer than %d characters", MaxMessageLength)}
	}

	lock := h.sendLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := h.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(sender) {
		return nil, ErrForbidden
	}
	if conv.Status == model.ConversationClosed {
		return nil, &chaterr.RejectedError{ConversationID: conversationID, Reason: "conversation is closed"}
	}

	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		SenderName:     sender.Name,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.repo.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	// First admin reply claims an unassigned conversation.
	if sender.IsAdmin() && conv.AdminID == nil {
		if err := h.repo.AssignAdmin(ctx, conversationID, sender.UserID); err != nil {
			logger.Errorf("ws assign admin conversation=%s admin=%s: %v", conversationID, sender.UserID, err)
		}
	}

	h.broadcast(conversationID, wire.NewMessage(m, clientMsgID), "")
	return m, nil
}

// MarkRead marks every message not sent by reader as read and notifies the room.
func (h *Hub) MarkRead(ctx context.Context, reader model.Identity, conversationID string) (int64, error) {
	defer logger.DeferLogDuration("ws.MarkRead", time.Now())()
	conv, err := h.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.IsParticipant(reader) {
		return 0, ErrForbidden
	}
	n, err := h.repo.MarkRead(ctx, conversationID, reader.UserID)
	if err != nil {
		return 0, err
	}
	h.broadcast(conversationID, wire.Receipt(model.ReadReceipt{ConversationID: conversationID, ReaderID: reader.UserID}), reader.UserID)
	return n, nil
}

// NotifyNewConversation tells every connected admin to refresh its directory.
func (h *Hub) NotifyNewConversation(conv *model.Conversation) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.admins))
	for c := range h.admins {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	out := wire.NewConversation(conv)
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

// broadcast sends out to the room members at this instant, skipping exceptUserID.
func (h *Hub) broadcast(conversationID string, out wire.Outbound, exceptUserID string) {
	h.mu.RLock()
	members := h.rooms[conversationID]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c.identity.UserID != exceptUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendToClient(c *Client, out wire.Outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- out:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.identity.UserID)
		c.Close()
	}
}

func (h *Hub) sendLock(conversationID string) *sync.Mutex {
	f := fnv.New32a()
	f.Write([]byte(conversationID))
	return &h.sendLocks[f.Sum32()%sendLockStripes]
}

func (h *Hub) errorFrame(err error, in wire.Inbound) wire.Outbound {
	code, text := ErrorCode(err)
	if code == wire.CodeInternal {
		logger.Errorf("ws %s conversation=%s: %v", in.Type, in.ConversationID, err)
	}
	return wire.Error(code, in.ConversationID, in.ClientMsgID, text)
}

// ErrorCode maps an error to its wire code and a client-safe text.
func ErrorCode(err error) (wire.ErrorCode, string) {
	switch {
	case chaterr.IsValidation(err):
		return wire.CodeValidation, err.Error()
	case chaterr.IsRejected(err):
		return wire.CodeRejected, err.Error()
	case errors.Is(err, ErrForbidden):
		return wire.CodeForbidden, ErrForbidden.Error()
	case errors.Is(err, repository.ErrNotFound):
		return wire.CodeNotFound, "conversation not found"
	default:
		return wire.CodeInternal, "internal error"
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

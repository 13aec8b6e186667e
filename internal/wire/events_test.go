package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supportdesk/internal/model"
)

func TestNewMessageFrameShape(t *testing.T) {
	m := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hello", CreatedAt: time.Unix(0, 0).UTC()}
	raw, err := json.Marshal(NewMessage(m, "tmp-1"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "new_message", got["type"])
	assert.Equal(t, "c1", got["conversationId"])
	assert.Equal(t, "tmp-1", got["clientMsgId"])
	msg := got["message"].(map[string]any)
	assert.Equal(t, "m1", msg["messageId"])
	assert.Equal(t, "hello", msg["text"])
	assert.NotContains(t, got, "isTyping")
}

func TestTypingOffIsEncoded(t *testing.T) {
	raw, err := json.Marshal(Typing("c1", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","conversationId":"c1","isTyping":false}`, string(raw))
}

func TestScoped(t *testing.T) {
	assert.True(t, Receipt(model.ReadReceipt{ConversationID: "c1"}).Scoped())
	assert.False(t, NewConversation(&model.Conversation{ID: "c1"}).Scoped())
	assert.False(t, Joined("c1").Scoped())
}

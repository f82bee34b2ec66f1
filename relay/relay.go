// Package relay 实现与传输层无关的流式对话转发：
// 校验请求、加载会话、保存用户消息、逐段转发生成结果、保存回复并在首轮对话后重命名。
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/gemini"
	"github.com/KodaTao/gemini-chat-relay/metrics"
	"github.com/KodaTao/gemini-chat-relay/model"
)

// Conversations 转发需要的会话操作，chat.Service 实现了它
type Conversations interface {
	LoadForStreaming(ctx context.Context, userID, conversationID string) (*chat.StreamContext, error)
	SaveMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error)
	UpdateTitleFromFirstMessage(ctx context.Context, conversationID, message string) string
}

type Relay struct {
	conversations Conversations
	gen           gemini.Client
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// New m 为 nil 时使用一个不对外暴露的 registry
func New(conversations Conversations, gen gemini.Client, logger *zap.Logger, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Relay{conversations: conversations, gen: gen, logger: logger, metrics: m}
}

// Dispatch 处理一个入站事件，payload 为原始 JSON
func (r *Relay) Dispatch(ctx context.Context, sess *Session, out Emitter, event string, payload json.RawMessage) {
	switch event {
	case EventSendMessage:
		var req chat.SendMessageRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				r.logger.Debug("malformed sendMessage payload", zap.String("session", sess.ID), zap.Error(err))
				req = chat.SendMessageRequest{}
			}
		}
		r.HandleSendMessage(ctx, sess, out, req)
	default:
		r.logger.Debug("unsupported event", zap.String("session", sess.ID), zap.String("event", event))
		if err := out.Emit(EventStreamError, StreamErrorPayload{Message: MsgUnsupportedEvent}); err != nil {
			r.logger.Debug("emit failed", zap.String("session", sess.ID), zap.Error(err))
		}
	}
}

// HandleSendMessage 处理一次 sendMessage。事件顺序固定为
// messageSaved → streamChunk* → streamEnd，任一步失败改为发出一个 streamError，
// 之后不再发送任何事件。panic 也会被转换为 streamError。
func (r *Relay) HandleSendMessage(ctx context.Context, sess *Session, out Emitter, req chat.SendMessageRequest) {
	inv := &invocation{out: out, logger: r.logger.With(zap.String("session", sess.ID))}
	finish := r.metrics.StreamStarted()
	defer func() {
		if p := recover(); p != nil {
			inv.logger.Error("sendMessage panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.fail(inv, metrics.StageInternal, MsgGenerationFailed)
		}
		finish(inv.status())
	}()

	identity := sess.Identity()
	if identity == nil {
		r.fail(inv, metrics.StageAuth, MsgUnauthenticated)
		return
	}
	if err := req.Validate(); err != nil {
		r.fail(inv, metrics.StageValidation, chat.MessageRequired)
		return
	}

	// 连接断开只让发送变成空操作，生成和落库照常完成
	ctx = context.WithoutCancel(ctx)
	inv.logger = inv.logger.With(
		zap.String("user_id", identity.ID),
		zap.String("conversation_id", req.ConversationID),
	)

	sc, err := r.conversations.LoadForStreaming(ctx, identity.ID, req.ConversationID)
	if err != nil {
		inv.logger.Info("load conversation failed", zap.Error(err))
		r.fail(inv, metrics.StageLoad, domain.PublicMessage(err, MsgGenerationFailed))
		return
	}

	userMsg, err := r.conversations.SaveMessage(ctx, req.ConversationID, model.RoleUser, req.Message)
	if err != nil {
		inv.logger.Error("save user message failed", zap.Error(err))
		r.fail(inv, metrics.StagePersist, domain.PublicMessage(err, MsgGenerationFailed))
		return
	}
	inv.emit(EventMessageSaved, MessageSavedPayload{Role: model.RoleUser, Message: savedMessage(userMsg)})

	content, err := r.relayStream(ctx, inv, req.Message, sc.History)
	if err != nil {
		inv.logger.Warn("generation failed", zap.Error(err))
		r.fail(inv, metrics.StageGenerate, domain.PublicMessage(err, MsgGenerationFailed))
		return
	}

	assistantMsg, err := r.conversations.SaveMessage(ctx, req.ConversationID, model.RoleAssistant, content)
	if err != nil {
		inv.logger.Error("save assistant message failed", zap.Error(err))
		r.fail(inv, metrics.StagePersist, domain.PublicMessage(err, MsgGenerationFailed))
		return
	}

	if sc.FirstExchange() {
		title := r.conversations.UpdateTitleFromFirstMessage(ctx, req.ConversationID, req.Message)
		inv.logger.Debug("conversation retitled", zap.String("title", title))
	}

	inv.end(StreamEndPayload{Message: savedMessage(assistantMsg)})
}

// relayStream 每收到一个片段立即转发，返回拼接后的全文
func (r *Relay) relayStream(ctx context.Context, inv *invocation, prompt string, history []gemini.Turn) (string, error) {
	stream := r.gen.StreamChat(ctx, prompt, history)
	defer stream.Close()

	start := time.Now()
	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Chunk()
		if sb.Len() == 0 {
			r.metrics.TimeToFirstChunk.Observe(time.Since(start).Seconds())
		}
		sb.WriteString(chunk)
		inv.emit(EventStreamChunk, StreamChunkPayload{Chunk: chunk})
		r.metrics.ChunksTotal.Inc()
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (r *Relay) fail(inv *invocation, stage, message string) {
	if inv.fail(message) {
		r.metrics.StreamFailed(stage)
	}
}

// invocation 保证一次调用只发出一个终止事件
type invocation struct {
	out        Emitter
	logger     *zap.Logger
	terminated bool
	failed     bool
}

func (i *invocation) emit(event string, payload any) {
	if i.terminated {
		return
	}
	if err := i.out.Emit(event, payload); err != nil {
		i.logger.Debug("emit failed", zap.String("event", event), zap.Error(err))
	}
}

func (i *invocation) end(payload StreamEndPayload) {
	i.emit(EventStreamEnd, payload)
	i.terminated = true
}

func (i *invocation) fail(message string) bool {
	if i.terminated {
		return false
	}
	i.emit(EventStreamError, StreamErrorPayload{Message: message})
	i.terminated = true
	i.failed = true
	return true
}

func (i *invocation) status() string {
	if i.terminated && !i.failed {
		return "success"
	}
	return "error"
}

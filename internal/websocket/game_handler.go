package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/logger"
	"github.com/wfunc/simon-game/internal/service"
	"go.uber.org/zap"
)

// signalPayload guess / animation_launched 的数据
type signalPayload struct {
	Signal *game.Signal `json:"signal"`
}

// FeedbackPayload 反馈消息数据
type FeedbackPayload struct {
	Cue game.Cue `json:"cue"`
}

// GameOverPayload 游戏结束消息数据
type GameOverPayload struct {
	SessionID   string `json:"session_id"`
	Score       int    `json:"score"`
	ResultToken string `json:"result_token,omitempty"`
}

// ErrorPayload 错误消息数据
type ErrorPayload struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
}

// GameMessageHandler WebSocket游戏消息处理器
type GameMessageHandler struct {
	sessions *game.SessionManager
	scores   service.ScoreService
	logger   *zap.Logger
}

// NewGameMessageHandler 创建游戏消息处理器并注册到 hub
func NewGameMessageHandler(hub *Hub, sessions *game.SessionManager, scores service.ScoreService, log *zap.Logger) *GameMessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &GameMessageHandler{
		sessions: sessions,
		scores:   scores,
		logger:   log,
	}
	hub.SetMessageHandler(h)
	return h
}

// HandleClientMessage 处理客户端消息
func (h *GameMessageHandler) HandleClientMessage(client *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error("解析消息失败",
			zap.String("client_id", client.ID),
			zap.Error(err))
		h.sendError(client, apperrors.Wrap(err, apperrors.ErrMessageFormat))
		client.Close()
		return
	}

	// 验证消息类型不为空
	if msg.Type == "" {
		h.logger.Warn("收到空消息类型", zap.String("client_id", client.ID))
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat, "消息类型不能为空"))
		client.Close()
		return
	}

	logger.LogWebSocketMessage(h.logger, "receive", msg.Type, client.ID)
	ctx := context.Background()

	switch msg.Type {
	case MessageTypePing:
		client.SendMessage(MessageTypePong, nil)

	case MessageTypeStartGame:
		h.handleStartGame(ctx, client)

	case MessageTypeGuess:
		h.handleGuess(ctx, client, &msg)

	case MessageTypeAnimationLaunched:
		h.handleAnimationLaunched(client, &msg)

	case MessageTypeLeaveGame:
		h.leaveGame(client)

	default:
		h.logger.Warn("未知消息类型",
			zap.String("client_id", client.ID),
			zap.String("type", msg.Type))
		h.sendError(client, apperrors.Newf(apperrors.ErrMessageFormat, "不支持的消息类型: %s", msg.Type))
	}
}

// ClientDisconnected 客户端断开时结束其游戏会话
func (h *GameMessageHandler) ClientDisconnected(client *Client) {
	h.leaveGame(client)
}

// handleStartGame 创建新会话并开始游戏，已有会话会被结束
func (h *GameMessageHandler) handleStartGame(ctx context.Context, client *Client) {
	h.leaveGame(client)

	feedback := game.NewCueFeedback(func(cue game.Cue) {
		client.SendMessage(MessageTypeFeedback, FeedbackPayload{Cue: cue})
	})

	session, err := h.sessions.CreateSession(ctx, feedback, func(sessionID string, score int) {
		h.handleGameOver(client, sessionID, score)
	})
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}
	client.SetSessionID(session.SessionID)

	// 推送界面状态直到会话关闭
	sub := session.Controller.Subscribe()
	go func() {
		for state := range sub.C() {
			client.SendMessage(MessageTypeGameState, state)
		}
	}()

	if err := session.Controller.Start(ctx); err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}

	logger.LogGameEvent(h.logger, "session_started", session.SessionID, zap.String("client_id", client.ID))
}

// handleGameOver 签发成绩令牌并通知客户端
func (h *GameMessageHandler) handleGameOver(client *Client, sessionID string, score int) {
	payload := GameOverPayload{SessionID: sessionID, Score: score}
	if h.scores != nil {
		token, err := h.scores.IssueResultToken(sessionID, score)
		if err != nil {
			h.logger.Error("签发成绩令牌失败",
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else {
			payload.ResultToken = token
		}
	}

	logger.LogGameEvent(h.logger, "game_over", sessionID, zap.Int("score", score))
	client.SendMessage(MessageTypeGameOver, payload)
}

func (h *GameMessageHandler) handleGuess(ctx context.Context, client *Client, msg *Message) {
	sig, err := parseSignal(msg)
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}
	session, err := h.currentSession(client)
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}

	outcome, err := session.Controller.Guess(ctx, sig)
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}
	h.logger.Debug("猜测结果",
		zap.String("session_id", session.SessionID),
		zap.String("signal", sig.String()),
		zap.String("outcome", string(outcome)))
}

func (h *GameMessageHandler) handleAnimationLaunched(client *Client, msg *Message) {
	sig, err := parseSignal(msg)
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}
	session, err := h.currentSession(client)
	if err != nil {
		h.sendError(client, game.ToAppError(err))
		return
	}
	if err := session.Controller.AnimationLaunched(sig); err != nil {
		h.sendError(client, game.ToAppError(err))
	}
}

// leaveGame 结束客户端当前的会话
func (h *GameMessageHandler) leaveGame(client *Client) {
	sessionID := client.SetSessionID("")
	if sessionID == "" {
		return
	}
	if err := h.sessions.RemoveSession(sessionID); err != nil && !errors.Is(err, game.ErrSessionNotFound) {
		h.logger.Warn("结束会话失败",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func (h *GameMessageHandler) currentSession(client *Client) (*game.GameSession, error) {
	sessionID := client.SessionID()
	if sessionID == "" {
		return nil, game.ErrGameNotStarted
	}
	return h.sessions.GetSession(sessionID)
}

func parseSignal(msg *Message) (game.Signal, error) {
	if len(msg.Data) == 0 {
		return game.SignalUnspecified, game.ErrInvalidSignal
	}
	var payload signalPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		if errors.Is(err, game.ErrInvalidSignal) {
			return game.SignalUnspecified, err
		}
		return game.SignalUnspecified, fmt.Errorf("%w: %v", game.ErrInvalidSignal, err)
	}
	if payload.Signal == nil {
		return game.SignalUnspecified, game.ErrInvalidSignal
	}
	return *payload.Signal, nil
}

// sendError 发送错误消息
func (h *GameMessageHandler) sendError(client *Client, err *apperrors.AppError) {
	if err == nil {
		return
	}
	client.SendMessage(MessageTypeError, ErrorPayload{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	})
}

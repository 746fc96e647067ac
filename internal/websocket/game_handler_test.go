package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/simon-game/internal/config"
	apperrors "github.com/wfunc/simon-game/internal/errors"
	"github.com/wfunc/simon-game/internal/flow"
	"github.com/wfunc/simon-game/internal/game"
	"github.com/wfunc/simon-game/internal/service"
	"github.com/wfunc/simon-game/internal/utils"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type wsFixture struct {
	hub      *Hub
	sessions *game.SessionManager
	tokens   *utils.ResultTokenManager
	server   *httptest.Server
	cancel   context.CancelFunc
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	log := zap.NewNop()

	f := &wsFixture{
		hub: NewHub(DefaultClientConfig(), log),
		sessions: game.NewSessionManager(&game.SessionConfig{
			Logger:         log,
			Playback:       game.PlaybackConfig{},
			SessionTimeout: time.Minute,
			MaxSessions:    10,
			NewRandom:      func() game.RandomSource { return game.NewSeededRandomSource(7) },
		}),
		tokens: utils.NewResultTokenManager(testSecret, time.Minute, "simon-game"),
	}
	scores := service.NewScoreService(nil, f.tokens, "", log)
	NewGameMessageHandler(f.hub, f.sessions, scores, log)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(f.hub, conn)
		f.hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))

	t.Cleanup(func() {
		f.server.Close()
		f.cancel()
		f.sessions.CloseAll()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeConnected, msg.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil 读取直到满足条件的消息，返回之前收到的反馈
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) (Message, []game.Cue) {
	t.Helper()
	var cues []game.Cue
	for i := 0; i < 200; i++ {
		msg := readMessage(t, conn)
		if msg.Type == MessageTypeFeedback {
			var p FeedbackPayload
			require.NoError(t, json.Unmarshal(msg.Data, &p))
			cues = append(cues, p.Cue)
		}
		if match(msg) {
			return msg, cues
		}
	}
	t.Fatal("没有等到期望的消息")
	return Message{}, nil
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func isType(msgType string) func(Message) bool {
	return func(m Message) bool { return m.Type == msgType }
}

func awaitingInput(level int) func(Message) bool {
	return func(m Message) bool {
		if m.Type != MessageTypeGameState {
			return false
		}
		var st game.GameUIState
		if err := json.Unmarshal(m.Data, &st); err != nil {
			return false
		}
		return st.IsGameStarted && !st.IsShowingSequence && !st.IsGameFinished && st.Level == level
	}
}

func errorCode(t *testing.T, msg Message) apperrors.ErrorCode {
	t.Helper()
	require.Equal(t, MessageTypeError, msg.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	return p.Code
}

func TestPingPong(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	send(t, conn, MessageTypePing, nil)
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestGameMessageErrors(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	t.Run("未开始时猜测", func(t *testing.T) {
		send(t, conn, MessageTypeGuess, map[string]string{"signal": "green"})
		assert.Equal(t, apperrors.ErrGameNotStarted, errorCode(t, readMessage(t, conn)))
	})

	t.Run("无效信号", func(t *testing.T) {
		send(t, conn, MessageTypeGuess, map[string]string{"signal": "purple"})
		assert.Equal(t, apperrors.ErrInvalidSignal, errorCode(t, readMessage(t, conn)))

		send(t, conn, MessageTypeGuess, map[string]string{})
		assert.Equal(t, apperrors.ErrInvalidSignal, errorCode(t, readMessage(t, conn)))
	})

	t.Run("未知消息类型不断开", func(t *testing.T) {
		send(t, conn, "dance", nil)
		assert.Equal(t, apperrors.ErrMessageFormat, errorCode(t, readMessage(t, conn)))

		send(t, conn, MessageTypePing, nil)
		assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
	})

	t.Run("无效JSON断开连接", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		assert.Equal(t, apperrors.ErrMessageFormat, errorCode(t, readMessage(t, conn)))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	})
}

func TestGameFlowOverWebSocket(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	send(t, conn, MessageTypeStartGame, nil)
	_, cues := readUntil(t, conn, awaitingInput(1))
	require.Len(t, cues, 1)
	first, err := game.ParseSignal(string(cues[0]))
	require.NoError(t, err)
	assert.Equal(t, 1, f.sessions.GetActiveSessions())

	// 猜对进入第二关
	send(t, conn, MessageTypeGuess, map[string]string{"signal": first.String()})
	readUntil(t, conn, awaitingInput(2))

	send(t, conn, MessageTypeAnimationLaunched, map[string]string{"signal": first.String()})

	// 第二关第一个信号与第一关相同，猜其他颜色即结束
	wrong := game.SignalGreen
	if first == game.SignalGreen {
		wrong = game.SignalRed
	}
	send(t, conn, MessageTypeGuess, map[string]string{"signal": wrong.String()})

	msg, cues := readUntil(t, conn, isType(MessageTypeGameOver))
	assert.Contains(t, cues, game.CueFailure)

	var over GameOverPayload
	require.NoError(t, json.Unmarshal(msg.Data, &over))
	assert.Equal(t, 2, over.Score)
	require.NotEmpty(t, over.ResultToken)

	claims, err := f.tokens.Validate(over.ResultToken)
	require.NoError(t, err)
	assert.Equal(t, 2, claims.Score)
	assert.Equal(t, over.SessionID, claims.SessionID)

	// 结束后的猜测被拒绝
	send(t, conn, MessageTypeGuess, map[string]string{"signal": "green"})
	_, _ = readUntil(t, conn, func(m Message) bool {
		return m.Type == MessageTypeError && errorCode(t, m) == apperrors.ErrGameFinished
	})

	send(t, conn, MessageTypeLeaveGame, nil)
	require.Eventually(t, func() bool { return f.sessions.GetActiveSessions() == 0 }, time.Second, time.Millisecond)
}

func TestRestartReplacesSession(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	send(t, conn, MessageTypeStartGame, nil)
	readUntil(t, conn, awaitingInput(1))
	send(t, conn, MessageTypeStartGame, nil)
	readUntil(t, conn, awaitingInput(1))

	assert.Eventually(t, func() bool { return f.sessions.GetActiveSessions() == 1 }, time.Second, time.Millisecond)
}

func TestDisconnectRemovesSession(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	send(t, conn, MessageTypeStartGame, nil)
	readUntil(t, conn, awaitingInput(1))
	require.Equal(t, 1, f.hub.GetOnlineCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return f.sessions.GetActiveSessions() == 0 && f.hub.GetOnlineCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelayScores(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	state := flow.NewState(service.HomeState{})
	ctx, cancel := context.WithCancel(context.Background())
	done := f.hub.RelayScores(ctx, state.Subscribe())

	state.Set(service.HomeState{Loaded: true, Games: []service.ScoreView{{ID: 1, Score: 4, PlayerName: "Ada"}}})

	msg, _ := readUntil(t, conn, isType(MessageTypeScores))
	var home service.HomeState
	require.NoError(t, json.Unmarshal(msg.Data, &home))
	require.Len(t, home.Games, 1)
	assert.Equal(t, "Ada", home.Games[0].PlayerName)

	cancel()
	<-done
}

func TestRelayBestScores(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	state := flow.NewState(service.BestScoresState{})
	ctx, cancel := context.WithCancel(context.Background())
	done := f.hub.RelayBestScores(ctx, state.Subscribe())

	state.Set(service.BestScoresState{Loaded: true, Games: []service.ScoreView{
		{ID: 2, Score: 9, PlayerName: "Grace"},
		{ID: 1, Score: 4, PlayerName: "Ada"},
	}})

	msg, _ := readUntil(t, conn, isType(MessageTypeBestScores))
	var best service.BestScoresState
	require.NoError(t, json.Unmarshal(msg.Data, &best))
	assert.True(t, best.Loaded, "未加载的状态不广播")
	require.Len(t, best.Games, 2)
	assert.Equal(t, 9, best.Games[0].Score)

	cancel()
	<-done
}

func TestClientConfigFrom(t *testing.T) {
	assert.Equal(t, DefaultClientConfig(), ClientConfigFrom(nil))

	cfg := ClientConfigFrom(&config.WebSocketConfig{
		PingInterval:   2 * time.Minute,
		PongTimeout:    time.Minute,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 1024,
	})
	assert.Equal(t, time.Minute, cfg.PongWait)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod, "ping 周期必须小于 pong 超时")
	assert.Equal(t, 5*time.Second, cfg.WriteWait)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
}

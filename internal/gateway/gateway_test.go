package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherchat/aether/internal/auth"
	"github.com/aetherchat/aether/internal/pipeline"
	"github.com/aetherchat/aether/internal/users"
)

type stubUserRepo struct {
	users map[uuid.UUID]*users.User
}

func (s *stubUserRepo) Create(_ context.Context, u *users.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	return s.users[id], nil
}

func (s *stubUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	u, _ := s.GetByEmail(context.Background(), email)
	return u != nil, nil
}

// echoProcessor replies immediately with a transformed message.
type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, _ uuid.UUID, _ uuid.UUID, content string, emit pipeline.Emitter) {
	emit.Reply("echo: " + content)
}

type testEnv struct {
	server *httptest.Server
	jwt    *auth.JWTManager
	userID uuid.UUID
}

func setupGateway(t *testing.T, proc Processor) *testEnv {
	t.Helper()

	jwtMgr := auth.NewJWTManager(
		strings.Repeat("a", 32),
		strings.Repeat("b", 32),
		15*time.Minute,
		24*time.Hour,
	)
	authSvc := auth.NewService(jwtMgr, nil)

	userID := uuid.New()
	repo := &stubUserRepo{users: map[uuid.UUID]*users.User{
		userID: {ID: userID, Email: "user@example.com", DisplayName: "User"},
	}}
	userSvc := users.NewService(repo)

	gw := New(authSvc, userSvc, proc, 4, nil, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.Connect)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(func() { gw.Close(context.Background()) })

	return &testEnv{server: server, jwt: jwtMgr, userID: userID}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) authHeader(t *testing.T) http.Header {
	t.Helper()
	pair, _, err := e.jwt.GenerateTokenPair(e.userID.String(), "user@example.com")
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Cookie", auth.TokenCookie+"="+pair.AccessToken)
	return header
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestGateway_RejectsWithoutToken(t *testing.T) {
	env := setupGateway(t, echoProcessor{})

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_RejectsInvalidToken(t *testing.T) {
	env := setupGateway(t, echoProcessor{})

	header := http.Header{}
	header.Set("Cookie", auth.TokenCookie+"=not-a-jwt")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_RejectsUnknownPrincipal(t *testing.T) {
	env := setupGateway(t, echoProcessor{})

	// Token is valid but the user does not exist.
	pair, _, err := env.jwt.GenerateTokenPair(uuid.New().String(), "ghost@example.com")
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Cookie", auth.TokenCookie+"="+pair.AccessToken)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_MessageRoundTrip(t *testing.T) {
	env := setupGateway(t, echoProcessor{})
	conn := env.dial(t, env.authHeader(t))

	chatID := uuid.New().String()
	frame, err := json.Marshal(map[string]any{
		"event": EventMessage,
		"data":  map[string]string{"chat": chatID, "content": "hello"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	envlp := readEnvelope(t, conn)
	assert.Equal(t, EventResponse, envlp.Event)

	var payload ResponsePayload
	require.NoError(t, json.Unmarshal(envlp.Data, &payload))
	assert.Equal(t, "echo: hello", payload.Content)
	assert.Equal(t, chatID, payload.Chat)
}

func TestGateway_MalformedPayload(t *testing.T) {
	env := setupGateway(t, echoProcessor{})
	conn := env.dial(t, env.authHeader(t))

	t.Run("invalid json", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
		envlp := readEnvelope(t, conn)
		assert.Equal(t, EventResponseError, envlp.Event)
	})

	t.Run("missing chat id", func(t *testing.T) {
		frame, _ := json.Marshal(map[string]any{
			"event": EventMessage,
			"data":  map[string]string{"content": "hello"},
		})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		envlp := readEnvelope(t, conn)
		assert.Equal(t, EventResponseError, envlp.Event)
	})

	t.Run("blank content", func(t *testing.T) {
		frame, _ := json.Marshal(map[string]any{
			"event": EventMessage,
			"data":  map[string]string{"chat": uuid.New().String(), "content": "   "},
		})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		envlp := readEnvelope(t, conn)
		assert.Equal(t, EventResponseError, envlp.Event)
	})

	t.Run("unknown event", func(t *testing.T) {
		frame, _ := json.Marshal(map[string]any{"event": "ai-teleport"})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		envlp := readEnvelope(t, conn)
		assert.Equal(t, EventResponseError, envlp.Event)
	})
}

func TestConnection_SlowConsumerClosed(t *testing.T) {
	// No write pump draining, so the buffer fills and stays full.
	c := &Connection{send: make(chan []byte, 2)}

	c.enqueue([]byte("one"))
	c.enqueue([]byte("two"))
	assert.False(t, c.closed)

	c.enqueue([]byte("three"))
	assert.True(t, c.closed)

	// The buffered frames are still delivered, then the channel ends.
	assert.Equal(t, []byte("one"), <-c.send)
	assert.Equal(t, []byte("two"), <-c.send)
	_, ok := <-c.send
	assert.False(t, ok)

	// Later emits from detached pipeline work are discarded.
	c.enqueue([]byte("late"))
	c.shutdown()
}

func TestParseMessage(t *testing.T) {
	chatID := uuid.New()

	t.Run("valid", func(t *testing.T) {
		data, _ := json.Marshal(MessagePayload{Chat: chatID.String(), Content: " hi "})
		gotChat, content, err := parseMessage(data)
		require.NoError(t, err)
		assert.Equal(t, chatID, gotChat)
		assert.Equal(t, "hi", content)
	})

	t.Run("bad chat id", func(t *testing.T) {
		data, _ := json.Marshal(MessagePayload{Chat: "123", Content: "hi"})
		_, _, err := parseMessage(data)
		assert.Error(t, err)
	})

	t.Run("empty content", func(t *testing.T) {
		data, _ := json.Marshal(MessagePayload{Chat: chatID.String(), Content: ""})
		_, _, err := parseMessage(data)
		assert.Error(t, err)
	})
}

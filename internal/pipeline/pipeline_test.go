package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aetherchat/aether/internal/ai"
	"github.com/aetherchat/aether/internal/chats"
	"github.com/aetherchat/aether/internal/config"
	"github.com/aetherchat/aether/internal/memory"
)

type stubLog struct {
	mu        sync.Mutex
	ownerID   uuid.UUID
	chatID    uuid.UUID
	appended  []chats.Message
	recent    []chats.Message
	appendErr error
	recentErr error
	ownedErr  error
}

func (s *stubLog) GetOwned(_ context.Context, chatID, ownerID uuid.UUID) (*chats.Chat, error) {
	if s.ownedErr != nil {
		return nil, s.ownedErr
	}
	if chatID != s.chatID || ownerID != s.ownerID {
		return nil, chats.ErrNotFound
	}
	return &chats.Chat{ID: chatID, OwnerID: ownerID}, nil
}

func (s *stubLog) AppendTurn(_ context.Context, chatID uuid.UUID, authorID *uuid.UUID, role, content string) (*chats.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	msg := chats.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		AuthorID:  authorID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.appended = append(s.appended, msg)
	return &msg, nil
}

func (s *stubLog) RecentTurns(_ context.Context, _ uuid.UUID, limit int) ([]chats.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	msgs := s.recent
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chats.Message(nil), msgs...), nil
}

func (s *stubLog) appendedRoles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := make([]string, len(s.appended))
	for i, m := range s.appended {
		roles[i] = m.Role
	}
	return roles
}

type stubIndex struct {
	mu        sync.Mutex
	upserts   []memory.Record
	matches   []memory.Match
	upsertErr error
	searchErr error
	searched  bool
}

func (s *stubIndex) Upsert(_ context.Context, rec *memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, *rec)
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ uuid.UUID, _ []float32, _ int) ([]memory.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searched = true
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.matches, nil
}

func (s *stubIndex) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

type stubEmbedder struct {
	mu  sync.Mutex
	vec []float32
	err error
	// errAfter fails embeds after the first n succeed, for tail tests.
	errAfter int
	calls    int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.errAfter > 0 && s.calls > s.errAfter {
		return nil, errors.New("embed backend down")
	}
	return s.vec, nil
}

func (s *stubEmbedder) Dimension() int { return len(s.vec) }

type stubGenerator struct {
	mu     sync.Mutex
	reply  string
	err    error
	chunks []string
	turns  []ai.Turn
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, turns []ai.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.turns = turns
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubGenerator) GenerateStream(_ context.Context, turns []ai.Turn, onChunk func(string)) (string, error) {
	s.mu.Lock()
	s.calls++
	s.turns = turns
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	for _, c := range s.chunks {
		onChunk(c)
	}
	return strings.Join(s.chunks, ""), nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	replies []string
	errors  []string
	starts  int
	chunks  []string
	ends    []string
}

func (r *recordingEmitter) Reply(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
}

func (r *recordingEmitter) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingEmitter) StreamStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recordingEmitter) StreamChunk(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *recordingEmitter) StreamEnd(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, content)
}

type fixture struct {
	pipeline    *Pipeline
	log         *stubLog
	index       *stubIndex
	embedder    *stubEmbedder
	generator   *stubGenerator
	emitter     *recordingEmitter
	principalID uuid.UUID
	chatID      uuid.UUID
}

func newFixture(t *testing.T, mutate func(*fixture, *config.PipelineConfig)) *fixture {
	t.Helper()
	f := &fixture{
		principalID: uuid.New(),
		chatID:      uuid.New(),
		index:       &stubIndex{},
		embedder:    &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}},
		generator:   &stubGenerator{reply: "hello from the model"},
		emitter:     &recordingEmitter{},
	}
	f.log = &stubLog{ownerID: f.principalID, chatID: f.chatID}

	cfg := config.PipelineConfig{
		HistoryLimit: 20,
		RecallK:      3,
		EmbeddingDim: 3,
		MaxInFlight:  8,
	}
	if mutate != nil {
		mutate(f, &cfg)
	}

	f.pipeline = New(f.log, f.index, f.embedder, f.generator, nil, cfg, slog.Default())
	return f
}

func (f *fixture) process(t *testing.T, content string) {
	t.Helper()
	f.pipeline.Process(context.Background(), f.principalID, f.chatID, content, f.emitter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pipeline.Drain(ctx)
}

func TestProcess_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	f.process(t, "remember I like tea")

	assert.Equal(t, []string{"hello from the model"}, f.emitter.replies)
	assert.Empty(t, f.emitter.errors)

	// Both the user turn and the model reply are persisted and indexed.
	assert.Equal(t, []string{chats.RoleUser, chats.RoleModel}, f.log.appendedRoles())
	require.Equal(t, 2, f.index.upsertCount())
	assert.Equal(t, f.log.appended[0].ID, f.index.upserts[0].ID)
	assert.Equal(t, f.log.appended[1].ID, f.index.upserts[1].ID)
	assert.Equal(t, f.principalID, f.index.upserts[0].PrincipalID)
}

func TestProcess_EmbedFailureStillReplies(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		f.embedder.err = errors.New("embedding quota exceeded")
	})
	f.process(t, "hello")

	assert.Equal(t, []string{"hello from the model"}, f.emitter.replies)
	assert.Empty(t, f.emitter.errors)

	// Nothing indexed and vector recall skipped, but the turn persisted.
	assert.Zero(t, f.index.upsertCount())
	assert.False(t, f.index.searched)
	assert.Contains(t, f.log.appendedRoles(), chats.RoleUser)
}

func TestProcess_AppendFailureAborts(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		f.log.appendErr = errors.New("database unavailable")
	})
	f.process(t, "hello")

	assert.Empty(t, f.emitter.replies)
	assert.Equal(t, []string{"Failed to process message"}, f.emitter.errors)
	assert.Zero(t, f.generator.calls)
	assert.Zero(t, f.index.upsertCount())
}

func TestProcess_GenerationFailureEmitsError(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		f.generator.err = errors.New("model overloaded")
	})
	f.process(t, "hello")

	assert.Empty(t, f.emitter.replies)
	assert.Equal(t, []string{"Failed to process message"}, f.emitter.errors)

	// No reply to persist: only the user turn was appended.
	assert.Equal(t, []string{chats.RoleUser}, f.log.appendedRoles())
}

func TestProcess_UnownedChatRejected(t *testing.T) {
	f := newFixture(t, nil)
	otherChat := uuid.New()

	f.pipeline.Process(context.Background(), f.principalID, otherChat, "hi", f.emitter)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.pipeline.Drain(ctx)

	assert.Empty(t, f.emitter.replies)
	require.Len(t, f.emitter.errors, 1)
	assert.Zero(t, f.generator.calls)
	assert.Empty(t, f.log.appendedRoles())
}

func TestProcess_RecallFailuresDegrade(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		f.index.searchErr = errors.New("vector store down")
		f.log.recentErr = errors.New("history query failed")
	})
	f.process(t, "what did I say earlier?")

	assert.Equal(t, []string{"hello from the model"}, f.emitter.replies)
	assert.Empty(t, f.emitter.errors)

	// With history unavailable the prompt falls back to the memory
	// block (empty here) plus the inbound message.
	turns := f.generator.turns
	require.Len(t, turns, 2)
	assert.Equal(t, ltmHeader+"\n", turns[0].Content)
	assert.Equal(t, "what did I say earlier?", turns[1].Content)
}

func TestProcess_PromptAssembly(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		f.index.matches = []memory.Match{
			{Record: memory.Record{Text: "user likes tea"}, Similarity: 0.9},
			{Record: memory.Record{Text: "user lives in Pune"}, Similarity: 0.8},
		}
		f.log.recent = []chats.Message{
			{Role: chats.RoleUser, Content: "earlier question"},
			{Role: chats.RoleModel, Content: "earlier answer"},
		}
	})
	f.process(t, "current question")

	turns := f.generator.turns
	require.GreaterOrEqual(t, len(turns), 3)

	// The recalled memories come first as a synthetic user turn.
	assert.Equal(t, ai.RoleUser, turns[0].Role)
	assert.Contains(t, turns[0].Content, "user likes tea\nuser lives in Pune")
	assert.True(t, strings.HasPrefix(turns[0].Content, ltmHeader))

	// Followed by the chronological history.
	assert.Equal(t, "earlier question", turns[1].Content)
	assert.Equal(t, chats.RoleModel, turns[2].Role)
}

func TestAssemble_AlwaysLeadsWithMemoryBlock(t *testing.T) {
	history := []chats.Message{
		{Role: chats.RoleUser, Content: "hi"},
	}

	// Nothing recalled: the block is still there, with an empty body.
	turns := assemble(nil, history)
	require.Len(t, turns, 2)
	assert.Equal(t, ai.RoleUser, turns[0].Role)
	assert.Equal(t, ltmHeader+"\n", turns[0].Content)
	assert.Equal(t, "hi", turns[1].Content)

	// Records with empty text keep their slot in the joined body.
	turns = assemble([]memory.Match{
		{Record: memory.Record{Text: "likes tea"}},
		{Record: memory.Record{Text: ""}},
		{Record: memory.Record{Text: "lives in Pune"}},
	}, history)
	require.Len(t, turns, 2)
	assert.Equal(t, ltmHeader+"\nlikes tea\n\nlives in Pune", turns[0].Content)
}

func TestProcess_HistoryCapped(t *testing.T) {
	f := newFixture(t, func(f *fixture, cfg *config.PipelineConfig) {
		cfg.HistoryLimit = 2
		f.log.recent = []chats.Message{
			{Role: chats.RoleUser, Content: "one"},
			{Role: chats.RoleModel, Content: "two"},
			{Role: chats.RoleUser, Content: "three"},
		}
	})
	f.process(t, "current")

	// Only the newest turns survive the cap, still in order after the
	// memory block.
	turns := f.generator.turns
	require.Len(t, turns, 3)
	assert.Equal(t, "two", turns[1].Content)
	assert.Equal(t, "three", turns[2].Content)
}

func TestProcess_TailFailureInvisibleToClient(t *testing.T) {
	f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
		// First embed (user turn) succeeds, second (reply) fails.
		f.embedder.errAfter = 1
	})
	f.process(t, "hello")

	assert.Equal(t, []string{"hello from the model"}, f.emitter.replies)
	assert.Empty(t, f.emitter.errors)

	// The reply turn is persisted even though indexing it failed.
	assert.Equal(t, []string{chats.RoleUser, chats.RoleModel}, f.log.appendedRoles())
	assert.Equal(t, 1, f.index.upsertCount())
}

func TestProcess_ExactlyOneOutcome(t *testing.T) {
	t.Run("success means one reply and zero errors", func(t *testing.T) {
		f := newFixture(t, nil)
		f.process(t, "hi")
		assert.Len(t, f.emitter.replies, 1)
		assert.Empty(t, f.emitter.errors)
	})

	t.Run("failure means zero replies and one error", func(t *testing.T) {
		f := newFixture(t, func(f *fixture, _ *config.PipelineConfig) {
			f.generator.err = errors.New("boom")
		})
		f.process(t, "hi")
		assert.Empty(t, f.emitter.replies)
		assert.Len(t, f.emitter.errors, 1)
	})
}

func TestProcess_Streaming(t *testing.T) {
	f := newFixture(t, func(f *fixture, cfg *config.PipelineConfig) {
		cfg.Streaming = true
		f.generator.chunks = []string{"hel", "lo ", "there"}
	})
	f.process(t, "hi")

	assert.Equal(t, 1, f.emitter.starts)
	assert.Equal(t, []string{"hel", "lo ", "there"}, f.emitter.chunks)
	assert.Equal(t, []string{"hello there"}, f.emitter.ends)
	assert.Empty(t, f.emitter.replies)
	assert.Empty(t, f.emitter.errors)

	// The streamed reply is what gets persisted in the tail.
	roles := f.log.appendedRoles()
	require.Len(t, roles, 2)
	assert.Equal(t, "hello there", f.log.appended[1].Content)
}

func TestProcess_StreamingDisabledUsesSingleShot(t *testing.T) {
	f := newFixture(t, nil)
	f.process(t, "hi")

	assert.Zero(t, f.emitter.starts)
	assert.Empty(t, f.emitter.chunks)
	assert.Len(t, f.emitter.replies, 1)
}

func TestProcess_ConcurrentMessagesIndependent(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.Process(context.Background(), f.principalID, f.chatID, "ping", f.emitter)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pipeline.Drain(ctx)

	assert.Len(t, f.emitter.replies, 10)
	assert.Empty(t, f.emitter.errors)
	assert.Len(t, f.log.appendedRoles(), 20)
}

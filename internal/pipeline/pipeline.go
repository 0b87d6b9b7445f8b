// Package pipeline turns one inbound chat message into exactly one
// reply or one error event, persisting and indexing turns as it goes.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aetherchat/aether/internal/ai"
	"github.com/aetherchat/aether/internal/chats"
	"github.com/aetherchat/aether/internal/config"
	"github.com/aetherchat/aether/internal/events"
	"github.com/aetherchat/aether/internal/memory"
	"github.com/aetherchat/aether/internal/metrics"
)

// tailTimeout bounds the detached persistence work after a reply has
// been emitted. The tail runs on its own context so connection
// teardown cannot cancel it.
const tailTimeout = 30 * time.Second

// ltmHeader frames recalled memory texts inside a synthetic user turn.
const ltmHeader = "These are some previous messages from the chat, use them to generate a response:"

// errGeneric is the only error detail sent to clients. Internals stay
// in the logs.
const errGeneric = "Failed to process message"

// ConversationLog is the turn persistence collaborator.
type ConversationLog interface {
	GetOwned(ctx context.Context, chatID, ownerID uuid.UUID) (*chats.Chat, error)
	AppendTurn(ctx context.Context, chatID uuid.UUID, authorID *uuid.UUID, role, content string) (*chats.Message, error)
	RecentTurns(ctx context.Context, chatID uuid.UUID, limit int) ([]chats.Message, error)
}

// MemoryIndex is the long-term memory collaborator.
type MemoryIndex interface {
	Upsert(ctx context.Context, rec *memory.Record) error
	Search(ctx context.Context, principalID uuid.UUID, embedding []float32, limit int) ([]memory.Match, error)
}

// Emitter delivers the outcome of one inbound message back to the
// client. Process calls exactly one of Reply or Error per message.
type Emitter interface {
	Reply(content string)
	Error(message string)
}

// StreamEmitter is an Emitter that can also deliver a reply in
// pieces. StreamEnd replaces Reply as the terminal success signal.
type StreamEmitter interface {
	Emitter
	StreamStart()
	StreamChunk(chunk string)
	StreamEnd(content string)
}

// Pipeline processes inbound messages. Safe for concurrent use; each
// Process call is independent and no ordering is enforced between
// messages, even within one chat.
type Pipeline struct {
	log       ConversationLog
	index     MemoryIndex
	embedder  ai.Embedder
	generator ai.Generator
	publisher *events.Publisher
	cfg       config.PipelineConfig
	logger    *slog.Logger
	tails     sync.WaitGroup
}

// New creates a Pipeline. publisher may be nil when the event bus is
// disabled.
func New(log ConversationLog, index MemoryIndex, embedder ai.Embedder, generator ai.Generator, publisher *events.Publisher, cfg config.PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		log:       log,
		index:     index,
		embedder:  embedder,
		generator: generator,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process runs the full pipeline for one inbound message. It always
// terminates with exactly one Reply (or stream end) or one Error on
// the emitter, never both, never neither.
func (p *Pipeline) Process(ctx context.Context, principalID, chatID uuid.UUID, content string, emit Emitter) {
	logger := p.logger.With("chat_id", chatID, "principal_id", principalID)

	if _, err := p.log.GetOwned(ctx, chatID, principalID); err != nil {
		logger.Warn("rejecting message for inaccessible chat", "error", err)
		p.fail(ctx, emit, principalID, chatID, errGeneric)
		return
	}

	p.publisher.PublishMessageEvent(ctx, events.MessageEvent{
		PrincipalID: principalID,
		ChatID:      chatID,
		EventType:   events.TypeMessageReceived,
		Timestamp:   time.Now(),
	})

	// Ingest: persist the user turn and embed its text in parallel.
	// The append is load bearing, the embedding is not.
	userTurn, vector, err := p.ingest(ctx, principalID, chatID, content)
	if err != nil {
		logger.Error("appending user turn", "error", err)
		p.fail(ctx, emit, principalID, chatID, errGeneric)
		return
	}
	if vector == nil {
		logger.Warn("user turn not embedded, skipping index and vector recall")
	}

	// Index: upsert keyed by the turn ID so reprocessing cannot
	// duplicate records.
	if vector != nil {
		p.indexTurn(ctx, logger, userTurn, principalID, chatID, content, vector)
	}

	// Recall: vector matches and recent history in parallel. Both
	// degrade to empty rather than failing the message.
	matches, history := p.recall(ctx, logger, principalID, chatID, vector)
	if len(history) == 0 {
		// Worst case the model still sees the message it is answering.
		history = []chats.Message{{Role: chats.RoleUser, Content: content}}
	}

	turns := assemble(matches, history)

	reply, streamed, err := p.generate(ctx, turns, emit)
	if err != nil {
		logger.Error("generating reply", "error", err)
		p.fail(ctx, emit, principalID, chatID, errGeneric)
		return
	}

	if streamed {
		if se, ok := emit.(StreamEmitter); ok {
			se.StreamEnd(reply)
		}
	} else {
		emit.Reply(reply)
	}
	metrics.PipelineMessagesTotal.WithLabelValues("reply").Inc()
	p.publisher.PublishMessageEvent(ctx, events.MessageEvent{
		PrincipalID: principalID,
		ChatID:      chatID,
		TurnID:      userTurn.ID,
		EventType:   events.TypeReplySent,
		Timestamp:   time.Now(),
	})

	// Tail: persist and index the reply after the client already has
	// it. Failures here are logged and counted, never surfaced.
	p.tails.Add(1)
	go p.tail(principalID, chatID, reply)
}

// Drain waits for in-flight tail work to finish, bounded by ctx.
func (p *Pipeline) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.tails.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("pipeline drain timed out with tail work in flight")
	}
}

func (p *Pipeline) ingest(ctx context.Context, principalID, chatID uuid.UUID, content string) (*chats.Message, []float32, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	type appendResult struct {
		msg *chats.Message
		err error
	}
	type embedResult struct {
		vec []float32
		err error
	}

	appendCh := make(chan appendResult, 1)
	embedCh := make(chan embedResult, 1)

	go func() {
		msg, err := p.log.AppendTurn(ctx, chatID, &principalID, chats.RoleUser, content)
		appendCh <- appendResult{msg, err}
	}()
	go func() {
		vec, err := p.embedder.Embed(ctx, content)
		embedCh <- embedResult{vec, err}
	}()

	appended := <-appendCh
	embedded := <-embedCh

	if appended.err != nil {
		return nil, nil, appended.err
	}
	if embedded.err != nil {
		// Degrade: the turn is persisted, it just will not be
		// recallable as long-term memory.
		return appended.msg, nil, nil
	}
	return appended.msg, embedded.vec, nil
}

func (p *Pipeline) indexTurn(ctx context.Context, logger *slog.Logger, turn *chats.Message, principalID, chatID uuid.UUID, text string, vector []float32) {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("index").Observe(time.Since(start).Seconds())
	}()

	err := p.index.Upsert(ctx, &memory.Record{
		ID:          turn.ID,
		PrincipalID: principalID,
		ChatID:      chatID,
		Text:        text,
		Embedding:   vector,
	})
	if err != nil {
		logger.Warn("indexing user turn", "error", err)
		metrics.MemoryUpsertsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.MemoryUpsertsTotal.WithLabelValues("ok").Inc()
}

func (p *Pipeline) recall(ctx context.Context, logger *slog.Logger, principalID, chatID uuid.UUID, vector []float32) ([]memory.Match, []chats.Message) {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("recall").Observe(time.Since(start).Seconds())
	}()

	type searchResult struct {
		matches []memory.Match
		err     error
	}
	type historyResult struct {
		msgs []chats.Message
		err  error
	}

	searchCh := make(chan searchResult, 1)
	historyCh := make(chan historyResult, 1)

	go func() {
		if vector == nil {
			searchCh <- searchResult{}
			return
		}
		matches, err := p.index.Search(ctx, principalID, vector, p.cfg.RecallK)
		searchCh <- searchResult{matches, err}
	}()
	go func() {
		msgs, err := p.log.RecentTurns(ctx, chatID, p.cfg.HistoryLimit)
		historyCh <- historyResult{msgs, err}
	}()

	searched := <-searchCh
	fetched := <-historyCh

	if searched.err != nil {
		logger.Warn("recalling memories", "error", searched.err)
		searched.matches = nil
	}
	if fetched.err != nil {
		logger.Warn("fetching chat history", "error", fetched.err)
		fetched.msgs = nil
	}
	return searched.matches, fetched.msgs
}

// assemble builds the prompt transcript: one synthetic user turn
// carrying recalled memories, then the chronological history.
func assemble(matches []memory.Match, history []chats.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(history)+1)

	// The memory block is always present, even with nothing recalled,
	// so the model sees the same prompt shape on every message.
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Record.Text
	}
	turns = append(turns, ai.Turn{
		Role:    ai.RoleUser,
		Content: ltmHeader + "\n" + strings.Join(texts, "\n"),
	})

	for _, msg := range history {
		turns = append(turns, ai.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

func (p *Pipeline) generate(ctx context.Context, turns []ai.Turn, emit Emitter) (string, bool, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	}()

	if p.cfg.Streaming {
		if se, ok := emit.(StreamEmitter); ok {
			se.StreamStart()
			reply, err := p.generator.GenerateStream(ctx, turns, se.StreamChunk)
			return reply, true, err
		}
	}

	reply, err := p.generator.Generate(ctx, turns)
	return reply, false, err
}

func (p *Pipeline) fail(ctx context.Context, emit Emitter, principalID, chatID uuid.UUID, message string) {
	emit.Error(message)
	metrics.PipelineMessagesTotal.WithLabelValues("error").Inc()
	p.publisher.PublishMessageEvent(ctx, events.MessageEvent{
		PrincipalID: principalID,
		ChatID:      chatID,
		EventType:   events.TypeReplyFailed,
		Detail:      message,
		Timestamp:   time.Now(),
	})
}

// tail persists, embeds, and indexes the reply. The client is never
// told about failures here, they only show up in logs and metrics.
func (p *Pipeline) tail(principalID, chatID uuid.UUID, reply string) {
	defer p.tails.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline tail panicked", "panic", r)
			metrics.PipelineTailFailuresTotal.Inc()
		}
	}()

	start := time.Now()
	defer func() {
		metrics.PipelineStageDuration.WithLabelValues("tail").Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), tailTimeout)
	defer cancel()

	logger := p.logger.With("chat_id", chatID, "principal_id", principalID)

	type appendResult struct {
		msg *chats.Message
		err error
	}
	type embedResult struct {
		vec []float32
		err error
	}

	appendCh := make(chan appendResult, 1)
	embedCh := make(chan embedResult, 1)

	go func() {
		msg, err := p.log.AppendTurn(ctx, chatID, nil, chats.RoleModel, reply)
		appendCh <- appendResult{msg, err}
	}()
	go func() {
		vec, err := p.embedder.Embed(ctx, reply)
		embedCh <- embedResult{vec, err}
	}()

	appended := <-appendCh
	embedded := <-embedCh

	if appended.err != nil {
		logger.Warn("persisting reply turn", "error", appended.err)
		metrics.PipelineTailFailuresTotal.Inc()
		return
	}
	if embedded.err != nil {
		// The reply turn is persisted, indexing it is skipped.
		metrics.PipelineTailFailuresTotal.Inc()
		return
	}

	err := p.index.Upsert(ctx, &memory.Record{
		ID:          appended.msg.ID,
		PrincipalID: principalID,
		ChatID:      chatID,
		Text:        reply,
		Embedding:   embedded.vec,
	})
	if err != nil {
		logger.Warn("indexing reply turn", "error", err)
		metrics.MemoryUpsertsTotal.WithLabelValues("error").Inc()
		metrics.PipelineTailFailuresTotal.Inc()
		return
	}
	metrics.MemoryUpsertsTotal.WithLabelValues("ok").Inc()
}

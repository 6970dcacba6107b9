// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the stores, builds the memory
// engine and injects it into the tools, prompts and resources that depend on
// it. No business logic lives here, only wiring.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/cortex/internal/config"
	"github.com/HendryAvila/cortex/internal/conversation"
	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/episodic"
	"github.com/HendryAvila/cortex/internal/ingest"
	"github.com/HendryAvila/cortex/internal/memtools"
	"github.com/HendryAvila/cortex/internal/preference"
	"github.com/HendryAvila/cortex/internal/prompts"
	"github.com/HendryAvila/cortex/internal/resources"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/vector"
)

// Version is set at build time via ldflags.
var Version = "dev"

var log = logrus.WithField("component", "server")

// Engine holds the memory components built from a configuration.
type Engine struct {
	DB           *store.DB
	Index        vector.Index
	Embedder     embed.Embedder
	Conversation *conversation.Memory
	Episodes     *episodic.Store
	Preferences  *preference.Store
	Ingest       *ingest.Pipeline
}

// Close releases the index, the embedder cache and the database, in that
// order, and reports every failure.
func (e *Engine) Close() error {
	var errs []error
	if e.Index != nil {
		if err := e.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector index: %w", err))
		}
	}
	if c, ok := e.Embedder.(interface{ Close() }); ok {
		c.Close()
	}
	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing metadata store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewEngine opens the metadata store and the vector index described by cfg
// and builds the memory components on top of them. On failure everything
// opened so far is closed again.
func NewEngine(ctx context.Context, cfg *config.Config) (_ *Engine, err error) {
	e := &Engine{}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if e.DB, err = store.Open(cfg.Store()); err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	if e.Index, err = vector.Open(cfg.VectorIndex()); err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	if e.Embedder, err = embed.New(cfg.Embedder()); err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	if e.Conversation, err = conversation.New(ctx, e.DB, e.Index, e.Embedder, cfg.Conversation()); err != nil {
		return nil, fmt.Errorf("creating conversation memory: %w", err)
	}
	if e.Episodes, err = episodic.New(ctx, e.DB); err != nil {
		return nil, fmt.Errorf("creating episodic store: %w", err)
	}
	if e.Preferences, err = preference.New(ctx, e.DB); err != nil {
		return nil, fmt.Errorf("creating preference store: %w", err)
	}
	if e.Ingest, err = ingest.New(e.Episodes, e.Preferences, cfg.Ingest()); err != nil {
		return nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}

	log.WithFields(logrus.Fields{
		"database":  e.DB.Path(),
		"backend":   cfg.Vector.Backend,
		"dimension": cfg.Vector.Dimension,
		"embedder":  cfg.Embedding.Provider,
	}).Info("memory engine ready")
	return e, nil
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered. This is the single place where all dependencies are
// resolved.
//
// The returned cleanup function closes the engine and must be called on
// shutdown (typically via defer). It is always non-nil.
func New(ctx context.Context, cfg *config.Config) (*server.MCPServer, func(), error) {
	engine, err := NewEngine(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Warn("engine close")
		}
	}

	s := server.NewMCPServer(
		"cortex",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerMemoryTools(s, engine)

	// --- Register prompts ---

	recallPrompt := prompts.NewRecallPrompt()
	s.AddPrompt(recallPrompt.Definition(), recallPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(engine.Conversation, engine.Preferences)
	s.AddResourceTemplate(resourceHandler.PreferencesTemplate(), resourceHandler.HandlePreferences)
	s.AddResourceTemplate(resourceHandler.StatsTemplate(), resourceHandler.HandleStats)

	return s, cleanup, nil
}

// noop is the cleanup returned when construction fails.
func noop() {}

// registerMemoryTools registers every memory tool on s.
func registerMemoryTools(s *server.MCPServer, e *Engine) {
	// Ingestion and episodic memory
	ingestTool := memtools.NewIngestTool(e.Ingest)
	s.AddTool(ingestTool.Definition(), ingestTool.Handle)

	timelineTool := memtools.NewTimelineTool(e.Episodes)
	s.AddTool(timelineTool.Definition(), timelineTool.Handle)

	searchEpisodes := memtools.NewSearchEpisodesTool(e.Episodes)
	s.AddTool(searchEpisodes.Definition(), searchEpisodes.Handle)

	// Conversation memory
	addMessage := memtools.NewAddMessageTool(e.Conversation)
	s.AddTool(addMessage.Definition(), addMessage.Handle)

	addConversation := memtools.NewAddConversationTool(e.Conversation)
	s.AddTool(addConversation.Definition(), addConversation.Handle)

	getMessage := memtools.NewGetMessageTool(e.Conversation)
	s.AddTool(getMessage.Definition(), getMessage.Handle)

	getConversation := memtools.NewGetConversationTool(e.Conversation)
	s.AddTool(getConversation.Definition(), getConversation.Handle)

	searchSimilar := memtools.NewSearchSimilarTool(e.Conversation)
	s.AddTool(searchSimilar.Definition(), searchSimilar.Handle)

	searchContent := memtools.NewSearchContentTool(e.Conversation)
	s.AddTool(searchContent.Definition(), searchContent.Handle)

	userStats := memtools.NewUserStatsTool(e.Conversation)
	s.AddTool(userStats.Definition(), userStats.Handle)

	deleteMessages := memtools.NewDeleteUserMessagesTool(e.Conversation)
	s.AddTool(deleteMessages.Definition(), deleteMessages.Handle)

	// Preferences
	prefsTool := memtools.NewPreferencesTool(e.Preferences)
	s.AddTool(prefsTool.Definition(), prefsTool.Handle)

	clearPrefs := memtools.NewClearPreferencesTool(e.Preferences)
	s.AddTool(clearPrefs.Definition(), clearPrefs.Handle)
}

// serverInstructions returns the system instructions that tell the AI
// how to use Cortex effectively.
func serverInstructions() string {
	return `You have access to Cortex, a long-term memory server for conversational agents.

## Memory kinds
- EPISODIC: a bounded, time-ordered log of everything passed to mem_ingest.
  Oldest episodes are dropped once a user's buffer is full.
- PREFERENCES: structured facts extracted from episodes, one value per key,
  last writer wins (e.g. avoid_days).
- CONVERSATIONS: immutable chat messages, searchable by meaning
  (mem_search_similar) and by exact text (mem_search_content).

## How to use it
1. Call mem_ingest for every user utterance worth remembering. Personal data
   such as emails and phone numbers is masked before storage.
2. Call mem_add_message or mem_add_conversation to keep chat history you will
   want to recall by meaning later.
3. Before answering a returning user, call mem_preferences and respect what it
   returns. Use mem_search_similar to recall related past discussion.
4. Read tools accept detail_level: summary, standard (default) or full. Start
   with summary and drill down with mem_get_message.

## Isolation
Every call is scoped by user_id. Never pass one user's id when acting for
another; searches never return other users' data.

## Destructive tools
mem_delete_user_messages and mem_clear_preferences require confirm=true and
cannot be undone. Only call them when the user explicitly asks.`
}

// Command simulate replays the reference conversations against an in-memory
// corpus and a scripted completion provider, printing every state the loop
// passes through.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/internal/repository/memory"
	"agentic-retrieval-be/pkg/events"
	"agentic-retrieval-be/pkg/llm/llmtest"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/executor"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/intent"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/response"
	"agentic-retrieval-be/pkg/rag/session"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"
	"agentic-retrieval-be/pkg/search"
	"agentic-retrieval-be/pkg/search/memindex"

	"github.com/fatih/color"
)

const simUser = "sim-user"

type scenario struct {
	name    string
	queries []string
}

var scenarios = []scenario{
	{name: "A: next meeting, nothing upcoming", queries: []string{"what's my next meeting"}},
	{name: "B: filtered mail search", queries: []string{"emails from OpenAI"}},
	{name: "C: topic switch and follow-up", queries: []string{
		"emails from John last week",
		"what's the weather",
		"show me more from him",
	}},
	{name: "D: short circuit", queries: []string{"what is 6 times 7"}},
}

var (
	title   = color.New(color.FgCyan, color.Bold)
	user    = color.New(color.FgWhite, color.Bold)
	state   = color.New(color.FgYellow)
	answer  = color.New(color.FgGreen)
	fallbk  = color.New(color.FgRed)
	dimmed  = color.New(color.FgHiBlack)
	verbose = flag.Bool("v", false, "print tool calls and classifications")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	log := logger.NewNopLogger()
	if *verbose {
		log = logger.NewZapLogger("logs/simulate.log", false)
	}

	manager, bus := newManager(log)
	defer bus.Close()

	failed := false
	for i, sc := range scenarios {
		title.Printf("\n== Scenario %s ==\n", sc.name)
		sessionID := fmt.Sprintf("sim-%d", i)
		for _, q := range sc.queries {
			if err := runTurn(ctx, manager, sessionID, q); err != nil {
				fallbk.Printf("   error: %v\n", err)
				failed = true
			}
		}
		_ = manager.Close(ctx, sessionID)
	}
	if failed {
		os.Exit(1)
	}
}

func runTurn(ctx context.Context, manager *session.Manager, sessionID, q string) error {
	user.Printf("\n> %s\n", q)

	started := time.Now()
	res, err := manager.RunTurn(ctx, sessionID, search.Scope{UserID: simUser, Token: "sim"}, q)
	if err != nil {
		return err
	}
	out := res.Outcome

	trace := make([]string, len(out.Trace))
	for i, s := range out.Trace {
		trace[i] = string(s)
	}
	state.Printf("   %s\n", strings.Join(trace, " -> "))

	if *verbose && out.Classification != nil {
		c := out.Classification
		dimmed.Printf("   classification: %s apps=%v follow-up=%t\n", c.Type, c.Filters.Apps, c.IsFollowUp)
	}
	if *verbose {
		for _, inv := range out.ToolLog {
			status := "ok"
			if inv.Err != nil {
				status = string(inv.Err.Kind)
			}
			dimmed.Printf("   tool %s %v -> %d fragments (%s)\n", inv.ToolName, map[string]interface{}(inv.Arguments), len(inv.Fragments), status)
		}
	}
	if out.Transition != nil {
		line := fmt.Sprintf("   chain %s %s", out.Transition.Action, shortID(out.Transition.Active.ID))
		if out.Transition.Archived != nil {
			line += fmt.Sprintf(" (archived %s)", shortID(out.Transition.Archived.ID))
		}
		dimmed.Println(line)
	}

	switch out.State {
	case executor.StateFallback:
		fallbk.Printf("   [%s] %s\n", out.FallbackReason, out.Answer)
	default:
		answer.Printf("   %s\n", out.Answer)
		for _, f := range out.Citations {
			dimmed.Printf("   [%d] %s: %s\n", f.Index, f.SourceType, f.Title)
		}
	}
	dimmed.Printf("   %d iteration(s), %s\n", out.Iterations, time.Since(started).Round(time.Millisecond))
	return nil
}

func newManager(log logger.ILogger) (*session.Manager, *events.ChannelBus) {
	provider := llmtest.New().
		On("answer.v1", llmtest.Text(`{"answer":"Here is the closest match I found [0]."}`))
	completer := structured.NewCompleter(provider, log)

	apps := []query.App{query.AppMail, query.AppCalendar, query.AppDirectory}
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Builtins(corpus(time.Now()), apps, 10)...); err != nil {
		panic(err)
	}

	evaluator, err := synthesis.NewEvaluator(completer, 64, log)
	if err != nil {
		panic(err)
	}

	exec := executor.NewExecutor(
		intent.NewClassifier(completer, intent.Config{AvailableApps: apps, PageSize: 10}, log),
		tools.NewInvoker(registry, 2*time.Second, log),
		evaluator,
		response.NewGenerator(completer, log),
		executor.Budget{MaxIterations: 5, TurnTimeout: 10 * time.Second},
		log,
	)

	bus := events.NewChannelBus(log)
	arenas := memory.NewSessionRepository(time.Hour, 8)
	return session.NewManager(arenas, exec, history.NewMemoryStore(), 10, bus, log), bus
}

func corpus(now time.Time) *memindex.Index {
	return memindex.New(
		memindex.Document{Owner: simUser, Item: search.Item{
			ID: "m1", App: query.AppMail, Entity: query.EntityMessage,
			Title: "GPT-5 access", Snippet: "OpenAI is rolling out access to your workspace",
			Timestamp: now.Add(-48 * time.Hour),
			Fields:    map[string]interface{}{"from": "OpenAI <news@openai.com>"},
		}},
		memindex.Document{Owner: simUser, Item: search.Item{
			ID: "m2", App: query.AppMail, Entity: query.EntityMessage,
			Title: "Lunch?", Snippet: "Are you free on Thursday",
			Timestamp: now.Add(-5 * 24 * time.Hour),
			Fields:    map[string]interface{}{"from": "John Smith <john@acme.io>"},
		}},
		memindex.Document{Owner: simUser, Item: search.Item{
			ID: "e1", App: query.AppCalendar, Entity: query.EntityEvent,
			Title: "Retro", Timestamp: now.Add(-24 * time.Hour),
		}},
		memindex.Document{Owner: simUser, Item: search.Item{
			ID: "c1", App: query.AppDirectory, Entity: query.EntityContact,
			Title: "John Smith", Snippet: "Engineering",
			Fields: map[string]interface{}{"email": "john@acme.io"},
		}},
		memindex.Document{Owner: "someone-else", Item: search.Item{
			ID: "x1", App: query.AppCalendar, Entity: query.EntityEvent,
			Title: "Someone else's standup", Timestamp: now.Add(24 * time.Hour),
		}},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

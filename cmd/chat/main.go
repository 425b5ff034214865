package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"foundry-chat/internal/auth"
	"foundry-chat/internal/chat"
	"foundry-chat/internal/transport"
	"foundry-chat/pkg/config"
	"foundry-chat/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Keep chat output readable: logs stay at production verbosity
	if err := logger.Init("production"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return 2
	}

	tokens := buildTokenProvider(cfg)
	client := transport.NewClient(cfg.GatewayURL, cfg.RequestTimeout)
	orch := chat.NewOrchestrator(cfg.AgentName, client, tokens)

	ctx := context.Background()
	greetAgent(ctx, client, tokens, cfg.AgentName)

	fmt.Println("Type your message and press Enter.")
	fmt.Println("Commands: /exit, /quit, /continue, /reset")
	fmt.Println()

	repl := &console{
		orch:    orch,
		scanner: bufio.NewScanner(os.Stdin),
	}
	return repl.loop(ctx)
}

// buildTokenProvider prefers client-credentials refresh when a token
// endpoint is configured, falling back to a static token.
func buildTokenProvider(cfg *config.Config) chat.TokenProvider {
	if cfg.TokenURL != "" {
		return auth.NewClientCredentialsProvider(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.TokenScopes)
	}
	return auth.NewStaticProvider(cfg.StaticToken)
}

// greetAgent resolves agent metadata at startup; failure is not fatal
func greetAgent(ctx context.Context, client *transport.Client, tokens chat.TokenProvider, agentName string) {
	credential, err := tokens.Token(ctx)
	if err != nil {
		fmt.Printf("warning> %v\n", err)
		return
	}
	info, err := client.GetAgent(ctx, agentName, credential)
	if err != nil {
		fmt.Printf("warning> could not resolve agent %q: %v\n", agentName, err)
		return
	}
	fmt.Printf("Retrieved agent: %s\n", info.Name)
}

// console runs the interactive chat loop
type console struct {
	orch    *chat.Orchestrator
	scanner *bufio.Scanner
	printed int
}

func (c *console) loop(ctx context.Context) int {
	for {
		fmt.Print("you> ")
		if !c.scanner.Scan() {
			fmt.Println("\nbye.")
			return 0
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "/exit", "/quit", "exit", "quit":
			fmt.Println("bye.")
			return 0
		case "/reset":
			c.orch.Reset()
			c.printed = 0
			fmt.Println("agent> Conversation reset.")
			continue
		case "/continue", "continue":
			if c.orch.Session().Mode() != chat.ModeAwaitingConsent {
				fmt.Println("agent> Nothing to continue (no pending OAuth consent).")
				continue
			}
			c.runTurn(ctx, func() error { return c.orch.CompleteConsent(ctx) })
			continue
		}

		if c.orch.Session().Mode() == chat.ModeAwaitingConsent {
			fmt.Println("agent> Complete consent in the browser first, then type /continue.")
			continue
		}

		c.runTurn(ctx, func() error { return c.orch.Send(ctx, line) })
	}
}

// runTurn performs one user action, resolving any approval batches the
// server interposes before the turn settles.
func (c *console) runTurn(ctx context.Context, action func() error) {
	if err := action(); err != nil {
		fmt.Printf("error> %v\n", err)
		return
	}
	c.flushTranscript()

	// The server may return several approval batches back to back.
	for c.orch.Session().Mode() == chat.ModeAwaitingApprovals {
		c.promptApprovals()
		if err := c.orch.SubmitApprovals(ctx); err != nil {
			fmt.Printf("error> %v\n", err)
			return
		}
		c.flushTranscript()
	}

	if c.orch.Session().Mode() == chat.ModeAwaitingConsent {
		fmt.Println("agent> Complete consent in the browser, then type /continue.")
	}
}

// promptApprovals walks the live batch asking for a y/N decision per item
func (c *console) promptApprovals() {
	for _, req := range c.orch.Session().PendingApprovals() {
		fmt.Println("\nTool approval requested")
		fmt.Printf("  Server: %s\n", req.ServerLabel)
		fmt.Printf("  Tool: %s\n", req.ToolName)
		if args, err := json.MarshalIndent(req.Arguments, "  ", "  "); err == nil {
			fmt.Printf("  Arguments: %s\n", args)
		}
		fmt.Print("Approve this tool call? (y/N): ")

		approve := false
		if c.scanner.Scan() {
			answer := strings.ToLower(strings.TrimSpace(c.scanner.Text()))
			approve = answer == "y" || answer == "yes"
		}
		if err := c.orch.Session().Decide(req.ID, approve); err != nil {
			fmt.Printf("error> %v\n", err)
		}
	}
	fmt.Println()
}

// flushTranscript prints assistant messages appended since the last flush
func (c *console) flushTranscript() {
	messages := c.orch.Session().Messages()
	for ; c.printed < len(messages); c.printed++ {
		msg := messages[c.printed]
		if msg.Role != chat.RoleAssistant {
			continue
		}
		fmt.Printf("agent> %s\n\n", msg.Text)
	}
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sdejongh/binsight/pkg/agent"
	"github.com/sdejongh/binsight/pkg/history"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/sdejongh/binsight/pkg/r2"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"github.com/spf13/cobra"
)

// ChatFlags holds chat command flags
type ChatFlags struct {
	analysisFlags
	Dir string
}

var chatFlags ChatFlags

// NewChatCommand creates the chat command
func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat BINARY",
		Short: "Interactive reverse-engineering session",
		Long: `Start a conversation with the agent about one binary. Ask questions in
plain text; /compile builds the C code of the last answer, retrying with
the compiler errors, and compares the result with the original.`,
		Args: cobra.ExactArgs(1),
		RunE: runChat,
	}

	addAnalysisFlags(cmd, &chatFlags.analysisFlags)
	cmd.Flags().StringVarP(&chatFlags.Dir, "dir", "d", "decompiled", "directory for sources and binaries built by /compile")

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	// interrupts cancel single turns (see interrupt), not the session
	ctx := context.WithoutCancel(commandContext(cmd))
	binary := args[0]

	if err := validateArtifacts(binary); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyAnalysisFlags(cfg, chatFlags.analysisFlags); err != nil {
		return err
	}

	logger, err := createLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	session, err := r2.Open(ctx, binary, r2.Options{R2Path: cfg.Tools.R2, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open binary: %w", err)
	}
	defer session.Close()

	registry := agent.NewRegistry(r2.Tools(session, cfg.Analysis.Mode)...)
	conv := agent.New(newProvider(cfg, logger), registry, agentOptions(cfg, stepPrinter(cmd.ErrOrStderr())), logger)

	runner := newRunner()
	comparator, err := newComparator(cfg, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to create comparator: %w", err)
	}

	repl := &chatREPL{
		agent:     conv,
		functions: session,
		compiler:  newCompiler(cfg, runner, logger),
		comparer:  comparator,
		backend:   storage.NewUnrooted(),
		binary:    binary,
		dir:       chatFlags.Dir,
		in:        cmd.InOrStdin(),
		out:       cmd.OutOrStdout(),
		errOut:    cmd.ErrOrStderr(),
		logger:    logger,
	}

	if store != nil {
		chat, err := store.CreateSession(ctx, binary, cfg.Analysis.Mode, cfg.LLM.Backend)
		if err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}
		repl.store = store
		repl.sessionID = chat.ID
	}

	// Ctrl+C cancels the current turn, Ctrl+D exits
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			repl.interrupt()
		}
	}()

	fmt.Fprintf(repl.out, "binsight %s: %s\n", Version, binary)
	fmt.Fprintf(repl.out, "Mode: %s | Backend: %s | Model: %s\n", cfg.Analysis.Mode, cfg.LLM.Backend, cfg.LLM.ResolvedModel())
	fmt.Fprintln(repl.out, "Type /help for commands, /quit to exit.")
	fmt.Fprintln(repl.out)

	return repl.Run(ctx)
}

// chatAgent is the part of agent.Agent the REPL drives
type chatAgent interface {
	Run(ctx context.Context, input string) (*agent.Result, error)
	Clear()
	Stats() agent.Stats
	Session() *agent.Session
}

type functionLister interface {
	ListFunctions(ctx context.Context, filter r2.Filter) ([]r2.Function, error)
}

type sourceCompiler interface {
	CompileSource(ctx context.Context, backend storage.Backend, code, outBase string, optimize bool) (*toolchain.CompileResult, error)
}

type binaryComparer interface {
	Compare(ctx context.Context, originalPath, candidatePath string) (*models.ComparisonReport, error)
}

// chatREPL is the read-eval-print loop of one chat session
type chatREPL struct {
	agent     chatAgent
	functions functionLister
	compiler  sourceCompiler
	comparer  binaryComparer
	backend   storage.Backend
	binary    string
	dir       string

	store     *history.Store
	sessionID string

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Run reads lines until /quit or end of input
func (r *chatREPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "binsight> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(ctx, input); quit {
				fmt.Fprintln(r.out, "Goodbye.")
				return nil
			}
			continue
		}

		r.ask(ctx, input)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	fmt.Fprintln(r.out, "\nGoodbye.")
	return nil
}

// interrupt cancels the turn in progress, if any
func (r *chatREPL) interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		fmt.Fprintln(r.errOut, "\n[interrupted]")
		r.cancel()
	}
}

// turn runs fn with a context cancelled by interrupt
func (r *chatREPL) turn(ctx context.Context, fn func(ctx context.Context) error) error {
	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	err := fn(turnCtx)
	interrupted := turnCtx.Err() != nil && ctx.Err() == nil

	r.mu.Lock()
	r.cancel = nil
	r.mu.Unlock()
	cancel()

	if err != nil && interrupted {
		fmt.Fprintln(r.out, "[operation cancelled]")
		return nil
	}
	return err
}

// ask sends one user message to the agent
func (r *chatREPL) ask(ctx context.Context, input string) {
	err := r.turn(ctx, func(ctx context.Context) error {
		result, err := r.Conversation().Run(ctx, input)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, result.Response)
		fmt.Fprintln(r.out)
		return nil
	})
	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

// Conversation returns the agent wrapped so that every exchange is
// recorded in the history
func (r *chatREPL) Conversation() agent.Conversation {
	return &recordingConversation{repl: r}
}

type recordingConversation struct {
	repl *chatREPL
}

func (c *recordingConversation) Run(ctx context.Context, input string) (*agent.Result, error) {
	r := c.repl
	r.record(ctx, agent.RoleUser, input)
	result, err := r.agent.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	r.record(ctx, agent.RoleAssistant, result.Response)
	return result, nil
}

func (r *chatREPL) record(ctx context.Context, role, content string) {
	if r.store == nil {
		return
	}
	if _, err := r.store.AddTurn(ctx, r.sessionID, role, content); err != nil {
		r.logger.Error(ctx, "failed to record turn", err, logging.Fields{"session": r.sessionID})
	}
}

// handleCommand processes slash commands. It returns true to quit.
func (r *chatREPL) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])

	switch name {
	case "/quit", "/exit", "/q":
		return true

	case "/help", "/h", "/?":
		r.help()

	case "/clear":
		r.agent.Clear()
		fmt.Fprintln(r.out, "[conversation cleared]")

	case "/status", "/stats":
		r.status()

	case "/functions", "/fns":
		prefix := ""
		if len(fields) > 1 {
			prefix = fields[1]
		}
		if err := r.listFunctions(ctx, prefix); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}

	case "/compile":
		optimize := len(fields) > 1 && strings.EqualFold(fields[1], "-O2")
		if err := r.turn(ctx, func(ctx context.Context) error { return r.compile(ctx, optimize) }); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}

	default:
		fmt.Fprintf(r.errOut, "Unknown command %s (type /help)\n", fields[0])
	}

	return false
}

func (r *chatREPL) help() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "  /help, /h          Show this help message")
	fmt.Fprintln(r.out, "  /quit, /q          Exit")
	fmt.Fprintln(r.out, "  /clear             Clear the conversation")
	fmt.Fprintln(r.out, "  /status            Show agent statistics")
	fmt.Fprintln(r.out, "  /functions [PFX]   List the functions in use, optionally by name prefix")
	fmt.Fprintln(r.out, "  /compile [-O2]     Compile the C code of the last answer and compare it")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Ctrl+C cancels the current request, Ctrl+D exits.")
	fmt.Fprintln(r.out)
}

func (r *chatREPL) status() {
	stats := r.agent.Stats()
	fmt.Fprintln(r.out, "Agent statistics:")
	fmt.Fprintln(r.out)
	if !stats.StartedAt.IsZero() {
		fmt.Fprintf(r.out, "  Uptime:             %v\n", time.Since(stats.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(r.out, "  Requests:           %d\n", stats.Requests)
	fmt.Fprintf(r.out, "  Tool calls:         %d\n", stats.ToolCalls)
	fmt.Fprintf(r.out, "  Errors:             %d\n", stats.Errors)
	fmt.Fprintf(r.out, "  Prompt tokens:      %d\n", stats.Usage.PromptTokens)
	fmt.Fprintf(r.out, "  Completion tokens:  %d\n", stats.Usage.CompletionTokens)
	fmt.Fprintf(r.out, "  Session:            %s\n", r.agent.Session().Stats())

	if len(stats.ToolCounts) > 0 {
		names := make([]string, 0, len(stats.ToolCounts))
		for name := range stats.ToolCounts {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "  Tool call counts:")
		for _, name := range names {
			fmt.Fprintf(r.out, "    %-16s %d\n", name, stats.ToolCounts[name])
		}
	}
	fmt.Fprintln(r.out)
}

func (r *chatREPL) listFunctions(ctx context.Context, prefix string) error {
	fns, err := r.functions.ListFunctions(ctx, r2.Filter{UsedOnly: true, NamePrefix: prefix})
	if err != nil {
		return err
	}
	if len(fns) == 0 {
		fmt.Fprintln(r.out, "No functions (has the binary been analyzed yet?)")
		return nil
	}
	for _, fn := range fns {
		fmt.Fprintf(r.out, "  0x%08x %8d  %s\n", fn.Address(), fn.Size, fn.Name)
	}
	fmt.Fprintf(r.out, "(%d functions)\n", len(fns))
	return nil
}

// compile extracts the code of the last answer, compiles it with fix
// retries and compares the binary with the original
func (r *chatREPL) compile(ctx context.Context, optimize bool) error {
	answer := r.agent.Session().LastAssistant()
	if answer == "" {
		return errors.New("no answer to compile yet")
	}

	stem := strings.TrimSuffix(filepath.Base(r.binary), filepath.Ext(r.binary))
	outBase := filepath.Join(r.dir, stem+"_decompiled")

	if err := r.backend.MkdirAll(ctx, r.dir); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.dir, err)
	}

	loop := agent.NewFixLoop(r.Conversation(), func(ctx context.Context, code string) (*toolchain.CompileResult, error) {
		return r.compiler.CompileSource(ctx, r.backend, code, outBase, optimize)
	}, r.logger)

	fixed, err := loop.Run(ctx, answer)
	if err != nil {
		return err
	}

	if fixed.Attempts > 0 {
		fmt.Fprintf(r.out, "Compiled %s after %d fix attempt(s)\n", fixed.Compile.Binary, fixed.Attempts)
	} else {
		fmt.Fprintf(r.out, "Compiled %s\n", fixed.Compile.Binary)
	}

	report, err := r.comparer.Compare(ctx, r.binary, fixed.Compile.Binary)
	if err != nil {
		return err
	}

	if r.store != nil {
		if _, err := r.store.SaveReport(ctx, r.sessionID, report); err != nil {
			r.logger.Error(ctx, "failed to save report", err, logging.Fields{"session": r.sessionID})
		}
	}

	fmt.Fprintln(r.out)
	return output.WriteComparison(r.out, report)
}

package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/docmem/pkg/config"
	"github.com/dotsetgreg/docmem/pkg/memory"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "docmem",
		Short: "Tiered conversation memory and context assembly for document-grounded assistants",
		Long: strings.TrimSpace(`docmem manages the memory tiers behind a conversational assistant:
a Redis fast cache for recent turns, a sqlite archive for durable history
and rolling summaries, and a semantic store for cross-chat recall.

Use CLI commands to record exchanges, inspect the assembled prompt context,
reconcile the cache into the archive, and delete conversations.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newReplCommand())
	root.AddCommand(newContextCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newDeleteCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func printVersion() {
	fmt.Printf("docmem %s (%s) %s/%s\n", version, commit, runtime.GOOS, runtime.GOARCH)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write the default ~/.docmem config",
		Example: "  docmem onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func loadRuntime(debug bool) (*config.Config, *runtimeDeps, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, nil, err
	}
	deps, err := buildOrchestrator(cfg, newLogger(debug))
	if err != nil {
		return nil, nil, err
	}
	return cfg, deps, nil
}

func newReplCommand() *cobra.Command {
	var (
		chatID    string
		userID    string
		projectID string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session that records turns and shows the assembled context",
		Long: strings.TrimSpace(`Start an interactive loop against the configured memory tiers.
Each line is stored as a user turn and answered with the prompt context the
tiers would hand to a model. /quit exits, /context shows context without
recording, /sync reconciles the chat into the archive.`),
		Example: strings.Join([]string{
			"  docmem repl",
			"  docmem repl --chat support:123 --user alice",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, deps, err := loadRuntime(debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			reconciler, err := memory.NewReconciler(deps.Orchestrator, cfg.Memory.SyncSchedule, newLogger(debug))
			if err != nil {
				return err
			}
			reconciler.Start()
			defer reconciler.Stop()

			return runRepl(deps.Orchestrator, chatID, userID, projectID)
		},
	}

	cmd.Flags().StringVarP(&chatID, "chat", "c", "cli:default", "Chat ID for continuity")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "User ID for semantic recall scoping")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID for knowledge-graph scoping")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runRepl(orch *memory.Orchestrator, chatID, userID, projectID string) error {
	rl, err := readline.New("docmem> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("chat %s (user %s). /quit to exit, /context to preview, /sync to reconcile.\n", chatID, userID)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/context":
			printContext(orch, chatID, userID, projectID, "")
			continue
		case "/sync":
			n, err := orch.SyncCacheToArchive(context.Background(), chatID)
			if err != nil {
				fmt.Printf("sync failed: %v\n", err)
				continue
			}
			fmt.Printf("replayed %d turns into the archive\n", n)
			continue
		}

		res, err := orch.StoreTurn(context.Background(), memory.ConversationTurn{
			ChatID:    chatID,
			UserID:    userID,
			ProjectID: projectID,
			Role:      memory.RoleUser,
			Content:   line,
		})
		if err != nil {
			fmt.Printf("store failed: %v\n", err)
			continue
		}
		fmt.Printf("stored %s (cache=%s archive=%s)\n", res.MessageID, res.Cache, res.Archive)
		printContext(orch, chatID, userID, projectID, line)
	}
}

func printContext(orch *memory.Orchestrator, chatID, userID, projectID, currentMessage string) {
	assembled, err := orch.GetContext(context.Background(), memory.ContextRequest{
		ChatID:         chatID,
		UserID:         userID,
		ProjectID:      projectID,
		CurrentMessage: currentMessage,
	})
	if err != nil {
		fmt.Printf("context failed: %v\n", err)
		return
	}
	for _, warning := range assembled.Warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	fmt.Printf("-- context (%d tokens, truncated=%v) --\n", assembled.TokensUsed, assembled.Truncated)
	for _, msg := range assembled.Messages {
		fmt.Printf("[%s]\n%s\n\n", msg.Role, msg.Content)
	}
}

func newContextCommand() *cobra.Command {
	var (
		chatID       string
		userID       string
		projectID    string
		systemPrompt string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:     "context <message>",
		Short:   "Assemble and print the prompt context for one message",
		Example: "  docmem context --chat support:123 \"how do I rotate the API key?\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, deps, err := loadRuntime(debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			assembled, err := deps.Orchestrator.GetContext(cmd.Context(), memory.ContextRequest{
				ChatID:         chatID,
				UserID:         userID,
				ProjectID:      projectID,
				SystemPrompt:   systemPrompt,
				CurrentMessage: args[0],
			})
			if err != nil {
				return err
			}
			for _, warning := range assembled.Warnings {
				fmt.Printf("warning: %s\n", warning)
			}
			fmt.Printf("tokens=%d truncated=%v\n", assembled.TokensUsed, assembled.Truncated)
			for _, msg := range assembled.Messages {
				fmt.Printf("[%s]\n%s\n\n", msg.Role, msg.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&chatID, "chat", "c", "cli:default", "Chat ID")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "User ID")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.Flags().StringVarP(&systemPrompt, "system", "s", "", "System prompt counted against the budget")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newSyncCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "sync <chat-id>",
		Short:   "Replay a chat's cached turns into the durable archive",
		Example: "  docmem sync support:123",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, deps, err := loadRuntime(debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			n, err := deps.Orchestrator.SyncCacheToArchive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d turns into the archive\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	var (
		userID string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:     "delete <chat-id>",
		Short:   "Delete a conversation from every memory tier",
		Example: "  docmem delete support:123",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, deps, err := loadRuntime(debug)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Orchestrator.DeleteConversation(cmd.Context(), args[0], userID); err != nil {
				return err
			}
			fmt.Printf("deleted chat %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID owning the chat")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

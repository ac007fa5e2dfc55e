package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"irie-chat/internal/chat"
	"irie-chat/internal/tui"

	"github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	repoURL = "https://github.com/jahvibes/irie-chat"
)

func dataDir(cfg chat.Config) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return chat.DefaultDataRoot()
}

func openStore(cfg chat.Config) (chat.Store, io.Closer, error) {
	dir := dataDir(cfg)
	switch cfg.Store {
	case chat.StoreSQLite:
		st, err := chat.NewSQLiteStore(filepath.Join(dir, "irie.db"), nil)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case chat.StoreMemory:
		return chat.NewMemoryStore(), nil, nil
	default:
		return chat.NewFileStore(filepath.Join(dir, "chats.json"), nil), nil, nil
	}
}

func loadConfig() (chat.Config, error) {
	path := flagConfig
	if path == "" {
		path = chat.DefaultConfigPath()
	}
	cfg, err := chat.LoadConfig(path)
	if err != nil {
		return chat.Config{}, err
	}
	if flagStore != "" {
		cfg.Store = flagStore
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagReplyDelay >= 0 {
		cfg.ReplyDelayMs = flagReplyDelay
	}
	if flagDebug {
		cfg.Debug = true
	}
	if flagSpeak {
		cfg.SpeakReplies = true
	}
	switch cfg.Store {
	case chat.StoreFile, chat.StoreSQLite, chat.StoreMemory:
	default:
		return chat.Config{}, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	return cfg, nil
}

func main() {
	root := &cobra.Command{
		Use:     "irie",
		Short:   "Irie - chat wid Mike, yuh Jamaican assistant",
		Long:    "Irie is a terminal chat assistant that answers inna Jamaican patois.\n\nRun without arguments for the full-screen chat. Conversations persist\nacross runs; switch between them from the sidebar.\n\nFor more information, visit: " + repoURL,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger, err := chat.NewLogger(dataDir(cfg), cfg.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closer, err := openStore(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}

			presenter := tui.NewEventPresenter()
			registry := chat.NewRegistry(store, presenter, logger)
			producer := chat.NewKeywordProducer(time.Duration(cfg.ReplyDelayMs) * time.Millisecond)
			pipeline := chat.NewPipeline(registry, producer, presenter, logger)
			if cfg.SpeakReplies {
				pipeline.SetSpeaker(chat.DetectSpeaker())
			}

			model := tui.NewMainModel(registry, pipeline, presenter, tui.NewTheme(cfg.Theme), logger)
			p := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return err
			}
			return registry.Close()
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&flagStore, "store", "", "Store backend: file|sqlite|memory")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Directory for chat data and logs")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.Flags().IntVar(&flagReplyDelay, "reply-delay", -1, "Artificial reply delay in milliseconds")
	root.Flags().BoolVar(&flagSpeak, "speak", false, "Speak replies aloud when a TTS engine is installed")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved chats",
		Long:  "List the chats persisted in the configured store, most recent first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closer, err := openStore(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}

			snap, err := store.Load()
			if err != nil {
				return err
			}
			if len(snap.Sessions) == 0 {
				fmt.Println("No saved chats yet.")
				return nil
			}
			for _, sess := range snap.Sessions {
				marker := " "
				if sess.ID == snap.ActiveID {
					marker = "*"
				}
				fmt.Printf("%s %-52s %3d message(s)  %s\n",
					marker, sess.Title, len(sess.Messages),
					sess.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	root.AddCommand(sessionsCmd)

	askCmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print Mike's reply",
		Long:  "Send a single message to the active chat and print the reply.\n\nExamples:\n  - irie ask \"wah gwaan\"\n  - echo \"tell me bout jamaica\" | irie ask",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) > 0 {
				text = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}
			if text == "" {
				return fmt.Errorf("no message provided")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := chat.NewLogger(dataDir(cfg), cfg.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closer, err := openStore(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}

			presenter := &replyWaiter{done: make(chan struct{})}
			registry := chat.NewRegistry(store, presenter, logger)
			producer := chat.NewKeywordProducer(time.Duration(cfg.ReplyDelayMs) * time.Millisecond)
			pipeline := chat.NewPipeline(registry, producer, presenter, logger)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			id := registry.ActiveID()
			if err := pipeline.Send(ctx, id, text); err != nil {
				return err
			}
			select {
			case <-presenter.done:
			case <-ctx.Done():
				return fmt.Errorf("timed out waiting for reply")
			}

			reply := presenter.Reply()
			if reply == "" {
				return fmt.Errorf("no reply received")
			}
			fmt.Println(reply)
			return registry.Close()
		},
	}
	root.AddCommand(askCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// replyWaiter resolves once the assistant reply has been appended and
// rendered. The pending=false notification is not a completion signal;
// it fires before the reply lands in the transcript.
type replyWaiter struct {
	chat.NopPresenter
	done  chan struct{}
	mu    sync.Mutex
	reply string
}

func (w *replyWaiter) RenderMessage(_ string, msg chat.Message) {
	if msg.Role != chat.RoleAssistant {
		return
	}
	w.mu.Lock()
	w.reply = msg.Content
	w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

func (w *replyWaiter) Reply() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reply
}

var (
	flagConfig     string
	flagStore      string
	flagDataDir    string
	flagReplyDelay int
	flagDebug      bool
	flagSpeak      bool
)

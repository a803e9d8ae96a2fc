package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/agentlee/agentlee/pkg/actions"
	"github.com/agentlee/agentlee/pkg/agent"
	"github.com/agentlee/agentlee/pkg/autosave"
	"github.com/agentlee/agentlee/pkg/bus"
	"github.com/agentlee/agentlee/pkg/channels"
	"github.com/agentlee/agentlee/pkg/config"
	"github.com/agentlee/agentlee/pkg/flush"
	"github.com/agentlee/agentlee/pkg/kvstore"
	"github.com/agentlee/agentlee/pkg/logger"
	"github.com/agentlee/agentlee/pkg/memory"
	"github.com/agentlee/agentlee/pkg/notes"
	"github.com/agentlee/agentlee/pkg/providers"
	"github.com/agentlee/agentlee/pkg/voice"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "agentlee"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	_ = godotenv.Load()

	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agentlee", "config.json")
	}
	return filepath.Join(home, ".agentlee", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		fmt.Printf("Error creating workspace: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Config written to %s\n", configPath)
	fmt.Printf("✓ Workspace created at %s\n", workspace)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set AGENTLEE_PROVIDER_API_KEY (or edit the config) to enable cloud replies")
	fmt.Println("  2. Run: agentlee chat")
}

// runtime bundles everything a live session needs.
type runtimeParts struct {
	cfg         *config.Config
	kv          kvstore.KV
	store       *memory.Store
	items       *notes.ItemStore
	projector   *notes.Projector
	coordinator *agent.Coordinator
	executor    *actions.Executor
	voiceSess   *voice.Session
	recognizer  *voice.SimRecognizer
	flushTimer  *flush.Timer
	saver       *autosave.Writer
	broadcaster *bus.FlushBroadcaster
	notesUnsub  func()
	cancel      context.CancelFunc
}

func buildRuntime(cfg *config.Config, withVoice bool) (*runtimeParts, error) {
	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	kv, err := kvstore.NewSQLiteKV(filepath.Join(workspace, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	store := memory.New(kv, memory.Options{
		MaxTurns:       cfg.Memory.MaxTurns,
		MaxNotes:       cfg.Memory.MaxNotes,
		FreezeLastUsed: cfg.Memory.FreezeLastUsed,
		Summarizer:     memory.FirstSentenceSummarizer{},
	})

	items, err := notes.NewItemStore(filepath.Join(workspace, "items.db"))
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("open item store: %w", err)
	}
	projector := notes.NewProjector(items)

	chat := providers.CreateChat(providers.Settings{
		APIKey:   cfg.GetAPIKey(),
		APIBase:  cfg.GetAPIBase(),
		Model:    cfg.Provider.Model,
		Proxy:    cfg.Provider.Proxy,
		UserName: cfg.Agent.UserName,
		SystemPrompt: fmt.Sprintf(
			"You are %s, a warm and capable personal assistant. Keep replies short and conversational; they are spoken aloud.",
			cfg.Agent.Name,
		),
	})

	saver := autosave.NewWriter(kv, autosave.Options{
		Debounce: time.Duration(cfg.Autosave.ResultDebounceMS) * time.Millisecond,
	})
	// Note edits save on their own, slower cadence.
	notesUnsub := items.Subscribe(func() {
		saver.TouchAfter(time.Duration(cfg.Autosave.NoteDebounceMS) * time.Millisecond)
	})

	// The voice session and the coordinator reference each other: the
	// session submits transcripts, the coordinator narrates through it.
	var coordinator *agent.Coordinator

	var voiceSess *voice.Session
	var recognizer *voice.SimRecognizer
	if withVoice && cfg.Voice.Enabled {
		recognizer = voice.NewSimRecognizer()
		voiceSess = voice.NewSession(recognizer, voice.Options{
			WakePhrases:      cfg.Voice.WakePhrases,
			Greeting:         cfg.Agent.Greeting,
			SilenceTimeout:   time.Duration(cfg.Voice.SilenceTimeoutMS) * time.Millisecond,
			WakeFollowWindow: time.Duration(cfg.Voice.WakeFollowMS) * time.Millisecond,
			Speaker:          consoleSpeaker{},
			OnSubmit: func(transcript string) {
				if coordinator == nil {
					return
				}
				if _, err := coordinator.Submit(context.Background(), transcript); err != nil {
					fmt.Printf("\nError: %v\n", err)
				}
			},
		})
	}

	broadcaster := bus.NewFlushBroadcaster()
	executor := actions.NewExecutor()

	coordinator = agent.NewCoordinator(agent.Options{
		Memory:        store,
		Chat:          chat,
		Backend:       kv,
		Executor:      executor,
		Voice:         voiceSess,
		Autosave:      saver,
		Broadcaster:   broadcaster,
		RetrieveTurns: cfg.Memory.LimitTurns,
		RetrieveNotes: cfg.Memory.LimitNotes,
	})

	agent.RegisterDefaultHandlers(executor, agent.HandlerDeps{
		Coordinator: coordinator,
		Memory:      store,
		Notes:       projector,
		Announce: func(text string) {
			fmt.Printf("\n%s %s\n", appName, text)
		},
	})

	saver.SetCollector(func() (autosave.SavedPayload, error) {
		return autosave.BuildSnapshot("session", "user", "assistant", map[string]interface{}{
			"turns":  store.TurnCount(),
			"notes":  store.NoteCount(),
			"active": projector.ActiveNoteID(),
		})
	})

	flushTimer := flush.NewTimer(flush.Options{
		Window:  time.Duration(cfg.Flush.WindowSeconds) * time.Second,
		OnFlush: coordinator.FlushConversation,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go saver.RunSchedule(ctx, cfg.Autosave.Cron)

	return &runtimeParts{
		cfg:         cfg,
		kv:          kv,
		store:       store,
		items:       items,
		projector:   projector,
		coordinator: coordinator,
		executor:    executor,
		voiceSess:   voiceSess,
		recognizer:  recognizer,
		flushTimer:  flushTimer,
		saver:       saver,
		broadcaster: broadcaster,
		notesUnsub:  notesUnsub,
		cancel:      cancel,
	}, nil
}

func (r *runtimeParts) shutdown() {
	r.cancel()
	r.notesUnsub()
	r.flushTimer.Stop()
	r.coordinator.FlushConversation()
	r.saver.Flush()
	r.saver.Close()
	if r.voiceSess != nil {
		r.voiceSess.Close()
	}
	r.projector.Close()
	_ = r.items.Close()
	_ = r.kv.Close()
}

// consoleSpeaker voices replies by printing them; onDone fires
// immediately so sequencing stays intact without an audio device.
type consoleSpeaker struct{}

func (consoleSpeaker) Speak(text string, onDone func()) {
	fmt.Printf("\n🗣  %s\n", text)
	if onDone != nil {
		onDone()
	}
}

func (consoleSpeaker) Cancel() {}

func chatSession(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	unsub := rt.broadcaster.Subscribe(func(ev bus.FlushEvent) {
		fmt.Printf("\n💾 Saved %d turns to memory\n", ev.Count)
	})
	defer unsub()

	rt.flushTimer.Start()

	if snap := rt.saver.Restore(); snap != nil {
		savedAt := time.UnixMilli(snap.SavedAtMS).Format("Jan 2 15:04")
		fmt.Printf("Restored session state from %s\n", savedAt)
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n", appName)
	fmt.Println("Commands: /save /notes /memory /propose /contacts /listen /say /ptt /resume exit")
	fmt.Println()

	prompt := fmt.Sprintf("%s You: ", appName)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".agentlee_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		return simpleChatLoop(rt)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleChatLine(rt, strings.TrimSpace(line)); done {
			return nil
		}
	}
}

func simpleChatLoop(rt *runtimeParts) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleChatLine(rt, strings.TrimSpace(line)); done {
			return nil
		}
	}
}

// handleChatLine runs one REPL input. Returns true when the session
// should exit.
func handleChatLine(rt *runtimeParts, input string) bool {
	if input == "" {
		return false
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return true
	}

	switch {
	case input == "/save":
		rt.flushTimer.ManualSave()
		return false
	case input == "/notes":
		printNotes(rt.projector)
		return false
	case input == "/memory":
		printMemory(rt.store)
		return false
	case input == "/propose":
		draft := rt.store.ProposeNoteFromRecent(0, 0)
		if draft == nil {
			fmt.Println("Not enough recent conversation to summarize yet.")
			return false
		}
		note := rt.store.UpsertNote(*draft)
		fmt.Printf("Noted: %s\n", note.Summary)
		return false
	case input == "/listen":
		if rt.voiceSess == nil || rt.voiceSess.Disabled() {
			fmt.Println("Voice is not enabled.")
			return false
		}
		on := !rt.voiceSess.AlwaysOn()
		rt.voiceSess.SetAlwaysOn(on)
		if on {
			fmt.Println("Always-on listening enabled. Use /say <text> to talk; start with a wake phrase.")
		} else {
			fmt.Println("Always-on listening disabled.")
		}
		return false
	case strings.HasPrefix(input, "/say "):
		if rt.recognizer == nil || !rt.voiceSess.AlwaysOn() {
			fmt.Println("Enable always-on listening first with /listen.")
			return false
		}
		text := strings.TrimSpace(strings.TrimPrefix(input, "/say "))
		rt.recognizer.HearInterim(text)
		rt.recognizer.HearFinal(text)
		rt.recognizer.Stop()
		return false
	case strings.HasPrefix(input, "/ptt "):
		if rt.recognizer == nil {
			fmt.Println("Voice is not enabled.")
			return false
		}
		if !rt.voiceSess.StartPushToTalk() {
			fmt.Println("A capture is already running.")
			return false
		}
		rt.recognizer.HearFinal(strings.TrimSpace(strings.TrimPrefix(input, "/ptt ")))
		rt.voiceSess.FinalizePushToTalk()
		return false
	case input == "/resume":
		if rt.voiceSess == nil {
			fmt.Println("Voice is not enabled.")
			return false
		}
		if _, ok := rt.voiceSess.Interrupted(); !ok {
			fmt.Println("Nothing to resume.")
			return false
		}
		rt.voiceSess.ResumeInterrupted()
		return false
	case input == "/contacts":
		for _, c := range rt.coordinator.Contacts() {
			fmt.Printf("  %s: %s\n", c.Name, c.Number)
		}
		return false
	}

	reply, err := rt.coordinator.Submit(context.Background(), input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if reply != "" {
		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
	return false
}

func printNotes(projector *notes.Projector) {
	list := projector.Notes()
	if len(list) == 0 {
		fmt.Println("No notes yet.")
		return
	}
	active := projector.ActiveNoteID()
	for _, n := range list {
		marker := " "
		if n.ID == active {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s (%s) %s\n", marker, n.ID, n.Title, n.Content.Kind, n.Date.Format("Jan 2"))
	}
}

func printMemory(store *memory.Store) {
	snap := store.ExportAll()
	fmt.Printf("Turns: %d, Notes: %d\n", len(snap.Turns), len(snap.Notes))
	for _, n := range snap.Notes {
		fmt.Printf("  - %s (utility %.2f)\n", n.Summary, n.Utility)
	}
}

func gateway(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	msgBus := bus.NewMessageBus()
	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	rt.flushTimer.Start()

	go func() {
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			reply, err := rt.coordinator.Submit(ctx, msg.Content)
			if err != nil {
				logger.WarnCF("gateway", "exchange failed", map[string]interface{}{
					"session": msg.SessionKey,
					"error":   err.Error(),
				})
				reply = "Sorry, I hit a problem with that one."
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			})
		}
	}()

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	_ = manager.StopAll(context.Background())
	msgBus.Close()
	fmt.Println("✓ Gateway stopped")
	return nil
}

func memoryExport() error {
	rt, err := quietRuntime()
	if err != nil {
		return err
	}
	defer rt.shutdown()

	snap := rt.store.ExportAll()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func memoryClear() error {
	rt, err := quietRuntime()
	if err != nil {
		return err
	}
	defer rt.shutdown()

	rt.store.ClearAll()
	fmt.Println("✓ Memory cleared")
	return nil
}

func memoryPropose() error {
	rt, err := quietRuntime()
	if err != nil {
		return err
	}
	defer rt.shutdown()

	draft := rt.store.ProposeNoteFromRecent(0, 0)
	if draft == nil {
		fmt.Println("Not enough recent conversation to summarize.")
		return nil
	}
	note := rt.store.UpsertNote(*draft)
	fmt.Printf("✓ Noted: %s\n", note.Summary)
	return nil
}

func quietRuntime() (*runtimeParts, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildRuntime(cfg, false)
}

func status() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n\n", formatVersion())

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗ (run: agentlee onboard)")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}

	if cfg.GetAPIKey() != "" {
		fmt.Printf("Provider: %s (%s) ✓\n", cfg.Provider.Model, cfg.GetAPIBase())
	} else {
		fmt.Println("Provider: offline fallback (no API key)")
	}
	if cfg.Channels.Discord.Token != "" {
		fmt.Println("Discord: configured ✓")
	} else {
		fmt.Println("Discord: not configured")
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/supportdesk/internal/chatclient"
	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/config"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/model"
)

const help = `commands:
  /list              show conversations (admin: filtered by /search)
  /search <text>     filter conversations by participant name
  /start <subject>   open a support conversation (employee)
  /open <id>         enter a conversation
  /leave             leave the current conversation
  /typing            signal that you are typing
  /read              mark the current conversation read
  /post <text>       send over HTTP instead of the event channel
  /unread            show the unread badge
  /quit              exit
anything else is sent to the current conversation`

func main() {
	logger.SetPrefix("client")
	defer logger.Flush()
	configPath := flag.String("config", "", "path to YAML config (default CONFIG_PATH or config/client.yaml)")
	token := flag.String("token", "", "bearer token (overrides config)")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	if *token != "" {
		cfg.Token = *token
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	api := chatclient.NewHTTPClient(cfg.ServerURL, cfg.Token, cfg.RequestTimeout, cfg.HistoryLimit)
	meCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	me, err := api.Me(meCtx)
	cancel()
	if err != nil {
		if chaterr.IsAuth(err) {
			return fmt.Errorf("token rejected, sign in again: %w", err)
		}
		return err
	}

	dialer, err := chatclient.NewWSDialer(cfg.ServerURL)
	if err != nil {
		return err
	}
	dialer.WriteTimeout = cfg.RequestTimeout

	s := chatclient.NewSession(dialer, api, chatclient.SessionOptions{
		Identity: *me,
		Policy: chatclient.ReconnectPolicy{
			InitialDelay: cfg.ReconnectInitialDelay,
			MaxDelay:     cfg.ReconnectMaxDelay,
			MaxAttempts:  cfg.ReconnectMaxAttempts,
		},
		TypingIdle:   cfg.TypingIdle,
		PollInterval: cfg.UnreadPollInterval,
	})
	defer s.Close()

	if err := s.Connect(ctx, cfg.Token); err != nil {
		return err
	}
	if err := s.RefreshDirectory(ctx); err != nil {
		logger.Warnf("%v", err)
	}
	fmt.Printf("signed in as %s (%s)\n%s\n", me.Name, me.Role, help)

	t := &terminal{s: s, cfg: cfg}
	go t.watch(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := t.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

type terminal struct {
	s   *chatclient.Session
	cfg *config.ClientConfig

	mu      sync.Mutex // guards current and shown; stdin and watch both print
	current string
	shown   map[string]int
}

func (t *terminal) conversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *terminal) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch cmd {
	case "":
	case "/quit":
		return true
	case "/help":
		fmt.Println(help)
	case "/list":
		for _, c := range t.s.Conversations() {
			fmt.Printf("  %s  %-20s %-6s %s\n", c.ID, c.EmployeeName, c.Status, c.Subject)
		}
	case "/search":
		err = t.s.SetQuery(arg)
	case "/start":
		var c *model.Conversation
		if c, err = t.s.StartConversation(ctx, arg, ""); err == nil {
			t.enter(c.ID)
		}
	case "/open":
		if err = t.s.Open(ctx, arg); err == nil {
			if c, ok := t.s.Conversation(arg); ok {
				fmt.Printf("== %s (%s, %s)\n", c.Subject, c.EmployeeName, c.Status)
			}
			t.enter(arg)
		}
	case "/leave":
		if id := t.conversation(); id != "" {
			err = t.s.Leave(id)
			t.mu.Lock()
			t.current = ""
			t.mu.Unlock()
		}
	case "/typing":
		err = t.s.Keystroke(t.conversation())
	case "/read":
		_, err = t.s.MarkRead(t.conversation())
	case "/post":
		err = t.post(ctx, arg)
	case "/unread":
		fmt.Printf("unread: %d [%s]\n", t.s.UnreadCount(), t.s.UnreadLabel(t.cfg.UnreadBadgeCap))
	default:
		sendCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
		_, err = t.s.Send(sendCtx, t.conversation(), line)
		cancel()
		if errors.Is(err, chaterr.ErrConnectionExhausted) {
			fmt.Println("  event channel is down, sending over HTTP")
			err = t.post(ctx, line)
		}
	}
	if err != nil {
		report(err)
	}
	return false
}

func (t *terminal) post(ctx context.Context, text string) error {
	postCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()
	_, err := t.s.Post(postCtx, t.conversation(), text)
	return err
}

func (t *terminal) enter(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = id
	if t.shown == nil {
		t.shown = make(map[string]int)
	}
	t.shown[id] = 0
	t.printNewLocked(id)
}

func report(err error) {
	switch {
	case chaterr.IsValidation(err):
		fmt.Println("!", err)
	case chaterr.IsRejected(err):
		fmt.Println("! not delivered:", err)
	case chaterr.IsTransient(err):
		fmt.Println("! connection problem, try again:", err)
	case chaterr.IsAuth(err):
		fmt.Println("! session expired, sign in again:", err)
	default:
		fmt.Println("!", err)
	}
}

// watch prints session changes. It only reads through accessors, never blocks the loop.
func (t *terminal) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-t.s.Updates():
			switch u.Kind {
			case chatclient.UpdateMessages:
				t.mu.Lock()
				if u.ConversationID == t.current {
					t.printNewLocked(u.ConversationID)
				}
				t.mu.Unlock()
			case chatclient.UpdateTyping:
				if sig, ok := t.s.Typer(u.ConversationID); ok {
					fmt.Printf("  … %s is typing\n", sig.UserName)
				}
			case chatclient.UpdateUnread:
				if l := t.s.UnreadLabel(t.cfg.UnreadBadgeCap); l != "" {
					fmt.Printf("  [%s unread]\n", l)
				}
			case chatclient.UpdateDirectory:
				fmt.Printf("  directory: %d conversation(s)\n", len(t.s.Conversations()))
			case chatclient.UpdateConnection:
				if u.Err != nil {
					fmt.Printf("  connection %s: %v\n", u.State, u.Err)
				}
			}
		}
	}
}

func (t *terminal) printNewLocked(id string) {
	msgs := t.s.Messages(id)
	from := t.shown[id]
	if from > len(msgs) {
		from = 0
	}
	for _, m := range msgs[from:] {
		if m.Pending {
			continue
		}
		mark := " "
		if m.IsRead {
			mark = "✓"
		}
		fmt.Printf("%s %s %s: %s\n", m.CreatedAt.Local().Format("15:04"), mark, m.SenderName, m.Text)
		from++
	}
	t.shown[id] = from
}

// Command chat-cli opens one job conversation in the terminal.
//
// It prints the history and every live message, and sends each line read from stdin.
//
// Usage:
//
//	chat-cli --job JOB_ID --me PARTICIPANT_ID --peer PARTICIPANT_ID [--memory]
//
// The store comes from the same environment as the API server (DB_DSN,
// FEED_BACKEND, REDIS_URL, MESSAGE_ENCRYPTION_KEY). --memory uses a private
// in-process store instead, which is only useful for trying the client out.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/davitg0407/daypay-project/chat"
	"github.com/davitg0407/daypay-project/config"
	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/store"
)

func main() {
	job := flag.String("job", "", "Job id of the conversation (required)")
	me := flag.String("me", "", "Your participant id (required)")
	peer := flag.String("peer", "", "The other participant's id (required)")
	memory := flag.Bool("memory", false, "Use an in-process store instead of the configured backend")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	conv := models.Conversation{JobID: *job, Local: *me, Counterpart: *peer}
	if !conv.Valid() {
		fmt.Fprintln(os.Stderr, "chat-cli: --job, --me and --peer are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *memory {
		cfg.StoreBackend = config.BackendMemory
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open message store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	if err := run(ctx, st, conv, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("chat-cli failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// run opens the conversation, prints it, and sends every non-empty input line until
// in is exhausted or ctx ends.
func run(ctx context.Context, st chat.MessageStore, conv models.Conversation, in io.Reader, out io.Writer) error {
	printed := make(chan models.Message, 64)
	lost := make(chan error, 1)

	s, err := chat.Open(ctx, st, conv,
		chat.WithListener(func(m models.Message) {
			select {
			case printed <- m:
			default:
				slog.Warn("output behind; dropping live message", slog.String("message_id", m.ID))
			}
		}),
		chat.WithSubscriptionErrorHandler(func(err error) {
			select {
			case lost <- err:
			default:
			}
		}))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.FetchErr(); err != nil {
		fmt.Fprintf(out, "-- history unavailable: %v\n", err)
	}
	for _, m := range s.Messages() {
		printMessage(out, conv, m)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-printed:
			printMessage(out, conv, m)
		case err := <-lost:
			return err
		case line, ok := <-lines:
			if !ok {
				drain(printed, out, conv)
				return nil
			}
			if _, err := s.Send(ctx, line); err != nil {
				if errors.Is(err, chat.ErrEmptyMessage) {
					continue
				}
				fmt.Fprintf(out, "-- send failed: %v\n", err)
			}
		}
	}
}

// drain prints messages already accepted into the view, such as the echo of the
// last line sent.
func drain(printed <-chan models.Message, out io.Writer, conv models.Conversation) {
	for {
		select {
		case m := <-printed:
			printMessage(out, conv, m)
		default:
			return
		}
	}
}

func printMessage(out io.Writer, conv models.Conversation, m models.Message) {
	who := m.SenderID
	if who == conv.Local {
		who = "me"
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
}

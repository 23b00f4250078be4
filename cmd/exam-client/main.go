// Command exam-client is a terminal exam client for students. It keeps every
// answer on the device before syncing it, so the program can be killed and
// restarted mid-exam without losing work.
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
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/examclient"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/queue"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/store"
	"golang.org/x/term"
)

func main() {
	cfgPath := flag.String("config", "", "path to exam-client.yaml")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: exam-client [-config file] <exam-id>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	examID := flag.Arg(0)

	cfg, err := config.LoadClient(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, examID, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Exam client stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, examID string, log zerolog.Logger) error {
	in := newLineReader(os.Stdin)
	out := os.Stdout

	// ─── Store ─────────────────────────────────────────────────────────
	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	// ─── Login ─────────────────────────────────────────────────────────
	api := examclient.New(cfg.BaseURL, cfg.RequestTimeout, log)

	nisn := cfg.NISN
	if nisn == "" {
		fmt.Fprint(out, "NISN: ")
		if nisn, err = in.next(ctx); err != nil {
			return err
		}
	}
	password, err := readPassword(ctx, in, out)
	if err != nil {
		return err
	}
	login, err := api.Login(ctx, strings.TrimSpace(nisn), password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(out, "Selamat datang, %s.\n", login.Student.Name)

	// ─── Session ───────────────────────────────────────────────────────
	sess := session.New(examID, session.Deps{
		Backend:   api,
		Store:     st,
		StudentID: login.Student.ID,
		Log:       log,
	}, session.Options{
		GracePeriod:     cfg.Session.GracePeriod,
		DrainTimeout:    cfg.Session.DrainTimeout,
		AutoSubmitRetry: cfg.Session.AutoSubmitRetry,
		Queue: queue.Options{
			EssayDebounce:  cfg.Session.EssayDebounce,
			PasteDelay:     cfg.Session.PasteDelay,
			RequestTimeout: cfg.RequestTimeout,
		},
		Confirm: func(ctx context.Context, unsynced int) bool {
			fmt.Fprintf(out, "%d jawaban belum tersimpan di server. Tetap kumpulkan? [y/N] ", unsynced)
			line, err := in.next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					fmt.Fprintln(out, "\nWaktu habis, jawaban dikumpulkan otomatis.")
				}
				return false
			}
			return strings.EqualFold(strings.TrimSpace(line), "y")
		},
	})
	defer sess.Close()

	if err := sess.Open(ctx); err != nil {
		return err
	}

	if sess.State() == session.StateNotStarted {
		if err := passTokenGate(ctx, sess, in, out); err != nil {
			return err
		}
	}

	ui := &terminal{sess: sess, in: in, out: out}
	return ui.loop(ctx)
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse store redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		return store.NewRedisStore(rdb), func() { rdb.Close() }, nil
	default:
		fs, err := store.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

func readPassword(ctx context.Context, in *lineReader, out *os.File) (string, error) {
	fmt.Fprint(out, "Kata sandi: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		return string(b), err
	}
	return in.next(ctx)
}

func passTokenGate(ctx context.Context, sess *session.Session, in *lineReader, out *os.File) error {
	if err := sess.RequestStart(); err != nil {
		return err
	}
	for {
		fmt.Fprint(out, "Token ujian: ")
		token, err := in.next(ctx)
		if err != nil {
			return err
		}
		err = sess.SubmitToken(ctx, token)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, session.ErrTokenRejected):
			fmt.Fprintln(out, "Token salah atau sudah kedaluwarsa. Tanyakan token terbaru ke pengawas.")
		default:
			return err
		}
	}
}

// lineReader feeds stdin lines to whoever is waiting: the command loop or
// the submit confirmation.
type lineReader struct {
	lines chan string
	errc  chan error
}

func newLineReader(f *os.File) *lineReader {
	r := &lineReader{lines: make(chan string), errc: make(chan error, 1)}
	go func() {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			r.lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = errors.New("input closed")
		}
		r.errc <- err
	}()
	return r
}

func (r *lineReader) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-r.errc:
		r.errc <- err
		return "", err
	case line := <-r.lines:
		return line, nil
	}
}

// nextOrTick is next that also wakes up every d so the caller can notice
// the session ending on its own.
func (r *lineReader) nextOrTick(ctx context.Context, d time.Duration) (string, bool, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case err := <-r.errc:
		r.errc <- err
		return "", false, err
	case line := <-r.lines:
		return line, true, nil
	case <-t.C:
		return "", false, nil
	}
}

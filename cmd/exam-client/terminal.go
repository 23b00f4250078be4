package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/queue"
	"github.com/stemsi/exstem-portal/internal/session"
	"github.com/stemsi/exstem-portal/internal/store"
)

const helpText = `Perintah:
  l              daftar soal
  g <n>          buka soal nomor n
  n / p          soal berikutnya / sebelumnya
  a <huruf>      pilih jawaban (pilihan ganda)
  t <teks>       ketik jawaban esai
  v <teks>       tempel jawaban esai
  f <file>       lampirkan foto jawaban esai
  x              hapus foto, catatan jadi jawaban teks
  m text|photo   ganti mode jawaban esai
  s              kumpulkan
  q              keluar (jawaban tetap tersimpan)`

type command struct {
	name string
	arg  string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	name, arg, _ := strings.Cut(line, " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

type option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// renderOptions prints choice options; unknown shapes are shown raw.
func renderOptions(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var opts []option
	if err := json.Unmarshal(raw, &opts); err != nil {
		return "  " + string(raw) + "\n"
	}
	var b strings.Builder
	for _, o := range opts {
		fmt.Fprintf(&b, "  %s. %s\n", o.Key, o.Text)
	}
	return b.String()
}

func syncMark(s queue.QuestionStatus) string {
	switch s {
	case queue.QuestionTyping:
		return "mengetik"
	case queue.QuestionSaving:
		return "menyimpan"
	case queue.QuestionSaved:
		return "tersimpan"
	case queue.QuestionError:
		return "gagal, akan dicoba lagi"
	default:
		return ""
	}
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

func describeAnswer(a model.AnswerValue) string {
	if a.IsEmpty() {
		return "-"
	}
	switch a.Kind {
	case model.AnswerKindPhoto:
		if a.Note != "" {
			return "foto + catatan"
		}
		return "foto"
	case model.AnswerKindText:
		if len([]rune(a.Value)) > 40 {
			return string([]rune(a.Value)[:40]) + "..."
		}
		return a.Value
	default:
		return a.Value
	}
}

type terminal struct {
	sess *session.Session
	in   *lineReader
	out  io.Writer
}

func (t *terminal) loop(ctx context.Context) error {
	if t.finished() {
		return nil
	}
	fmt.Fprintln(t.out, helpText)
	t.showCurrent()

	for {
		fmt.Fprintf(t.out, "[%s] > ", formatClock(t.sess.View().RemainingSeconds))
		var line string
		for {
			l, ok, err := t.in.nextOrTick(ctx, time.Second)
			if err != nil {
				return err
			}
			if t.finished() {
				return nil
			}
			if ok {
				line = l
				break
			}
		}

		cmd := parseCommand(line)
		if cmd.name == "q" {
			fmt.Fprintln(t.out, "Jawaban tersimpan di perangkat. Jalankan lagi untuk melanjutkan.")
			return nil
		}
		if err := t.exec(ctx, cmd); err != nil {
			t.report(err)
		}
		if t.finished() {
			return nil
		}
	}
}

// finished prints the outcome once the session has left InProgress.
func (t *terminal) finished() bool {
	v := t.sess.View()
	switch v.State {
	case session.StateSubmitted:
		fmt.Fprintln(t.out)
		if v.Result != nil {
			fmt.Fprintf(t.out, "Ujian sudah dikumpulkan pada %s.\n", v.Result.SubmittedAt.Local().Format("15:04:05"))
		} else {
			fmt.Fprintln(t.out, "Ujian sudah dikumpulkan.")
		}
		return true
	case session.StateExpired:
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, "Waktu habis dan tidak ada jawaban. Tidak ada yang dikumpulkan.")
		return true
	}
	return false
}

func (t *terminal) current() (session.QuestionView, bool) {
	v := t.sess.View()
	if v.Current < 0 || v.Current >= len(v.Questions) {
		return session.QuestionView{}, false
	}
	return v.Questions[v.Current], true
}

func (t *terminal) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "", "h", "help":
		fmt.Fprintln(t.out, helpText)
		return nil
	case "l":
		t.list()
		return nil
	case "g":
		n, err := strconv.Atoi(cmd.arg)
		if err != nil {
			return fmt.Errorf("nomor soal tidak valid: %q", cmd.arg)
		}
		return t.move(n - 1)
	case "n":
		return t.move(t.sess.View().Current + 1)
	case "p":
		return t.move(t.sess.View().Current - 1)
	case "s":
		return t.submit(ctx)
	}

	q, ok := t.current()
	if !ok {
		return session.ErrNotInProgress
	}
	var err error
	switch cmd.name {
	case "a":
		err = t.sess.SelectChoice(ctx, q.ID, cmd.arg)
	case "t":
		err = t.sess.TypeEssay(ctx, q.ID, cmd.arg)
	case "v":
		err = t.sess.PasteEssay(ctx, q.ID, cmd.arg)
	case "f":
		err = t.attach(ctx, q.ID, cmd.arg)
	case "x":
		err = t.sess.RemovePhoto(ctx, q.ID)
	case "m":
		err = t.sess.SetInputMode(ctx, q.ID, store.InputMode(cmd.arg))
	default:
		return fmt.Errorf("perintah tidak dikenal: %s", cmd.name)
	}
	if err == nil {
		t.showCurrent()
	}
	return err
}

func (t *terminal) move(i int) error {
	if err := t.sess.Goto(i); err != nil {
		return err
	}
	t.showCurrent()
	return nil
}

func (t *terminal) attach(ctx context.Context, questionID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.sess.AttachPhoto(ctx, questionID, filepath.Base(path), f)
}

func (t *terminal) submit(ctx context.Context) error {
	fmt.Fprintln(t.out, "Mengumpulkan...")
	res, err := t.sess.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%d jawaban terkirim.\n", res.Answered)
	return nil
}

func (t *terminal) list() {
	v := t.sess.View()
	fmt.Fprintf(t.out, "%s  (%d/%d terjawab, sisa %s)\n", v.Title, v.Answered, len(v.Questions), formatClock(v.RemainingSeconds))
	for _, q := range v.Questions {
		cursor := " "
		if q.Number-1 == v.Current {
			cursor = ">"
		}
		fmt.Fprintf(t.out, "%s %2d. %-20s %s\n", cursor, q.Number, describeAnswer(q.Answer), syncMark(q.Sync))
	}
	if n := v.Sync.Unsynced(); n > 0 {
		fmt.Fprintf(t.out, "%d jawaban menunggu sinkronisasi.\n", n)
	}
}

func (t *terminal) showCurrent() {
	q, ok := t.current()
	if !ok {
		return
	}
	fmt.Fprintf(t.out, "\nSoal %d\n%s\n%s", q.Number, q.Text, renderOptions(q.Options))
	if q.Type == model.QuestionTypeEssay && q.Mode == store.InputModePhoto {
		fmt.Fprintln(t.out, "  (mode foto)")
	}
	status := syncMark(q.Sync)
	if status != "" {
		status = " [" + status + "]"
	}
	fmt.Fprintf(t.out, "Jawaban: %s%s\n", describeAnswer(q.Answer), status)
}

func (t *terminal) report(err error) {
	var incomplete *session.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		nums := make([]string, len(incomplete.Numbers))
		for i, n := range incomplete.Numbers {
			nums[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(t.out, "Masih ada soal yang belum dijawab: %s\n", strings.Join(nums, ", "))
		t.showCurrent()
	case errors.Is(err, session.ErrSubmitCancelled):
		fmt.Fprintln(t.out, "Pengumpulan dibatalkan. Jawaban akan terus disinkronkan.")
	case errors.Is(err, session.ErrPhotoUnavailable):
		fmt.Fprintln(t.out, "Foto tidak dapat diunggah. Jawaban teks tetap tersimpan.")
	default:
		fmt.Fprintf(t.out, "Gagal: %v\n", err)
	}
}

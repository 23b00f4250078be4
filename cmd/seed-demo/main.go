// Command seed-demo loads demo students and one published exam so the exam
// client can be tried end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/database"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
	"github.com/stemsi/exstem-portal/internal/service"
)

type option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type seedQuestion struct {
	text    string
	qt      model.QuestionType
	options []option
	correct string
}

var questions = []seedQuestion{
	{"Hasil dari 12 x 8 adalah ...", model.QuestionTypeMultipleChoice,
		[]option{{"A", "86"}, {"B", "96"}, {"C", "98"}, {"D", "106"}}, "B"},
	{"Akar kuadrat dari 144 adalah ...", model.QuestionTypeMultipleChoice,
		[]option{{"A", "11"}, {"B", "12"}, {"C", "13"}, {"D", "14"}}, "B"},
	{"Bilangan prima terkecil adalah ...", model.QuestionTypeMultipleChoice,
		[]option{{"A", "0"}, {"B", "1"}, {"C", "2"}, {"D", "3"}}, "C"},
	{"Jika x + 5 = 12, maka x = ...", model.QuestionTypeMultipleChoice,
		[]option{{"A", "5"}, {"B", "6"}, {"C", "7"}, {"D", "17"}}, "C"},
	{"Jelaskan langkah menyelesaikan persamaan 2x - 4 = 10.", model.QuestionTypeEssay, nil, ""},
	{"Gambarkan grafik y = x^2 dan jelaskan titik puncaknya. Boleh difoto.", model.QuestionTypeEssay, nil, ""},
}

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Lukman Hakim", "Maya Septiana", "Nanda Pratama",
	"Putri Dian", "Rafi Ahmad", "Siska Saraswati", "Toni Setiawan", "Wahyu Hidayat",
}

func main() {
	password := flag.String("password", "stemsijaya", "password for every demo student")
	duration := flag.Int("duration", 60, "exam duration in minutes")
	window := flag.Duration("window", 3*time.Hour, "how long the exam stays open for new starts")
	randomize := flag.Bool("randomize", true, "shuffle question order per student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	studentService := service.NewStudentService(studentRepo)
	authService := service.NewAuthService(cfg, rdb, studentService)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)
	tokenService := service.NewAccessTokenService(rdb, cfg.AccessTokenRotation, log)

	// ─── Students ──────────────────────────────────────────────────────
	hash, err := authService.HashPassword(*password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	created := 0
	for i, name := range names {
		s := &model.Student{
			NISN:         fmt.Sprintf("user%d", i+1),
			Name:         name,
			PasswordHash: hash,
			ClassID:      1,
		}
		if err := studentRepo.Create(ctx, s); err != nil {
			if errors.Is(err, repository.ErrDuplicateNISN) {
				continue
			}
			log.Fatal().Err(err).Str("nisn", s.NISN).Msg("Failed to create student")
		}
		created++
	}
	log.Info().Int("created", created).Int("total", len(names)).Msg("Students seeded")

	// ─── Exam ──────────────────────────────────────────────────────────
	start := time.Now().UTC()
	end := start.Add(*window)
	exam := &model.Exam{
		Title:              "Ujian Demo Matematika",
		ScheduledStart:     &start,
		ScheduledEnd:       &end,
		DurationMinutes:    *duration,
		RandomizeQuestions: *randomize,
		Status:             model.ExamStatusDraft,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	for i, sq := range questions {
		q := &model.Question{
			ExamID:        exam.ID,
			QuestionText:  sq.text,
			QuestionType:  sq.qt,
			CorrectOption: sq.correct,
			OrderNum:      i + 1,
		}
		if sq.options != nil {
			if q.Options, err = json.Marshal(sq.options); err != nil {
				log.Fatal().Err(err).Msg("Failed to encode options")
			}
		}
		if err := questionRepo.Create(ctx, q); err != nil {
			log.Fatal().Err(err).Int("order", q.OrderNum).Msg("Failed to create question")
		}
	}

	if err := examService.Publish(ctx, exam.ID); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish exam")
	}
	token, err := tokenService.Current(ctx, exam.ID.String())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue access token")
	}

	fmt.Printf("\nExam:     %s\n", exam.ID)
	fmt.Printf("Token:    %s (rotates every %s)\n", token, cfg.AccessTokenRotation)
	fmt.Printf("Students: user1..user%d / %s\n", len(names), *password)
}

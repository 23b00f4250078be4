// Command exam-token prints the access token proctors read out before an exam.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/database"
	"github.com/stemsi/exstem-portal/internal/logger"
	"github.com/stemsi/exstem-portal/internal/service"
)

func main() {
	rotate := flag.Bool("rotate", false, "issue a new token now instead of printing the current one")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: exam-token [-rotate] <exam-id>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	examID, err := uuid.Parse(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid exam id: %v\n", err)
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	tokens := service.NewAccessTokenService(rdb, cfg.AccessTokenRotation, log)

	var token string
	if *rotate {
		token, err = tokens.Rotate(ctx, examID.String())
	} else {
		token, err = tokens.Current(ctx, examID.String())
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read access token")
	}

	fmt.Println(token)
}

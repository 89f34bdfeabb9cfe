// cmd/stagestub/main.go serves local stand-ins for the OCR, face-match and
// issuance services so the pipeline can run end to end without them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"kyc-worker-service/internal/logger"
	"kyc-worker-service/internal/stage"
	httptransport "kyc-worker-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "kyc-stagestub",
		Usage: "Fake OCR / face-match / issuance services with fixed scores",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":5001", Usage: "Listen address"},
			&cli.FloatFlag{Name: "ocr-confidence", Value: 0.95, Usage: "Confidence returned by /ocr"},
			&cli.FloatFlag{Name: "match-score", Value: 0.91, Usage: "Score returned by /match"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger.Setup(cmd.String("log-level"), "pretty")

			mux := stage.NewStubMux(stage.StubConfig{
				OCRConfidence: cmd.Float("ocr-confidence"),
				MatchScore:    cmd.Float("match-score"),
			})
			srv := &http.Server{
				Addr:              cmd.String("addr"),
				Handler:           httptransport.RequestLogger(mux),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", srv.Addr).Msg("stage stubs listening on /ocr, /match, /blockchain/issue")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("stagestub failed")
	}
}

// Command radar-seed populates a scratch evidence directory with a handful
// of fabricated infractions and drives a single Uploader actor through them,
// for exercising the backend without a radar attached (SPEC_FULL.md's
// supplemented feature, grounded on original_source/uploader/src/bin/seed.rs).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/flupke/radar-uploader/internal/actorsys"
	"github.com/flupke/radar-uploader/internal/evidence"
	"github.com/flupke/radar-uploader/internal/logging"
	"github.com/flupke/radar-uploader/internal/photographer"
	"github.com/flupke/radar-uploader/internal/pipeline"
)

var locations = []string{
	"Interstate 5 Mile 100",
	"Highway 101 Mile 42",
	"Downtown 3rd Ave & Pine",
	"SR-520 Eastbound",
	"I-80 West Exit 12",
}

func main() {
	apiEndpoint := flag.String("api-endpoint", "http://localhost:4000", "backend API base URL")
	apiKey := flag.String("api-key", "radar-dev-key", "backend API key")
	flag.Parse()

	if err := run(*apiEndpoint, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
}

func run(apiEndpoint, apiKey string) error {
	logger, closer := logging.NewLogger("info", "text", "")
	defer closer.Close()

	dir, err := os.MkdirTemp("", "radar-seed-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	fmt.Printf("==> Writing seed infractions to %s...\n", dir)

	now := time.Now().UTC()
	capture := photographer.Fixed{}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		speed := int16(60 + i*5)
		location := locations[i-1]
		inf := evidence.Infraction{
			RecordedSpeed:   speed,
			AuthorizedSpeed: 55,
			Location:        location,
			DatetimeTaken:   now.Add(-time.Duration(i) * time.Hour),
		}

		pair := evidence.PairFor(dir, inf.DatetimeTaken)
		if err := capture.Capture(ctx, pair.JPEGPath); err != nil {
			return fmt.Errorf("writing seed photo %d: %w", i, err)
		}
		if _, err := evidence.WriteJSON(dir, inf); err != nil {
			return fmt.Errorf("writing seed infraction %d: %w", i, err)
		}

		fmt.Printf("    %s (%d km/h at %s)\n", pair.JPEGPath, speed, location)
	}

	fmt.Println("==> Uploading via uploader actor...")

	uploader := pipeline.NewUploader(dir, apiEndpoint, apiKey, nil, logger)
	port := actorsys.Spawn[pipeline.UploaderCommand](ctx, uploader)

	if err := port.Send(pipeline.NotifyInfraction); err != nil {
		return fmt.Errorf("sending NotifyInfraction: %w", err)
	}
	if err := port.Send(pipeline.Shutdown); err != nil {
		return fmt.Errorf("sending Shutdown: %w", err)
	}
	actorsys.Join(port)

	fmt.Println("==> Done!")
	return nil
}

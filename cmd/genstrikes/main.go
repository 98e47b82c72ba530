// Command genstrikes generates deterministic raw strike fixtures in the
// NEA feed's flat JSON shape, for test suites and for seeding a local
// source topic.
//
// Usage:
//
//	go run ./cmd/genstrikes -count 50 -out data/mock/strikes.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/couchcryptid/lightning-dispatch/internal/domain"
)

// Singapore bounding box; matches the feed's service area.
const (
	latMin = 0.95
	latMax = 1.75
	lonMin = 103.27
	lonMax = 104.52
)

var baseTime = time.Date(2026, time.August, 14, 15, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	count := flag.Int("count", 50, "number of strike records to generate")
	seed := flag.Int64("seed", 1, "PRNG seed; same seed yields the same fixture")
	out := flag.String("out", "", "output path for the raw strike JSON fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	rng := rand.New(rand.NewSource(*seed))

	records := make([]domain.RawStrikeRecord, 0, *count)
	for i := 0; i < *count; i++ {
		lat := latMin + rng.Float64()*(latMax-latMin)
		lon := lonMin + rng.Float64()*(lonMax-lonMin)
		strikeType := domain.StrikeTypeGround
		if rng.Intn(4) == 0 {
			strikeType = domain.StrikeTypeCloud
		}
		at := baseTime.Add(time.Duration(rng.Intn(300)) * time.Second)

		records = append(records, domain.RawStrikeRecord{
			Latitude:  fmt.Sprintf("%.4f", lat),
			Longitude: fmt.Sprintf("%.4f", lon),
			Type:      strikeType,
			Datetime:  at.Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	log.Printf("wrote %d strike records to %s", len(records), *out)
	return nil
}

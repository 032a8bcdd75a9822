package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusgrid/nimbus/internal/config"
	"github.com/nimbusgrid/nimbus/internal/database"
	"github.com/nimbusgrid/nimbus/internal/queue"
	"github.com/nimbusgrid/nimbus/internal/scheduler"
)

const pollInterval = 10 * time.Minute

// defaultSchedules seeds the reference source named in spec §6.1/§10:
// HRRR, hourly cycle, single-digit-hour publish lag, hourly horizon
// steps out to 18h (HRRR's native forecast length for most cycles).
func defaultSchedules() []scheduler.SourceSchedule {
	return []scheduler.SourceSchedule{
		{
			ShortName:   "hrrr",
			CycleHours:  1,
			PublishLag:  70 * time.Minute,
			URLTemplate: "https://noaa-hrrr-bdp-pds.s3.amazonaws.com/hrrr.{yyyymmdd}/conus/hrrr.t{HH}z.wrfsubhf{hh}.grib2",
			IdxTemplate: "https://noaa-hrrr-bdp-pds.s3.amazonaws.com/hrrr.{yyyymmdd}/conus/hrrr.t{HH}z.wrfsubhf{hh}.grib2.idx",
			HorizonSteps: []scheduler.HorizonStep{
				{FromHour: 0, ToHour: 19, StepHours: 1},
			},
		},
	}
}

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	cfg := config.NewConfig()
	logger := log.New(os.Stdout, "[NIMBUS-SCHEDULER] ", log.LstdFlags|log.Lshortfile)

	dbConn, err := database.NewDBConnection(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to catalog store: %v", err)
	}
	defer dbConn.Close()

	q := queue.New(dbConn.DB, cfg.Queue.LeaseSeconds)
	producer := scheduler.NewProducer(q)
	schedules := defaultSchedules()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastRunTime := map[string]time.Time{}
	runOnce := func() {
		now := time.Now().UTC()
		for _, s := range schedules {
			if rt := s.CanonicalRunTime(now); rt.Equal(lastRunTime[s.ShortName]) {
				continue // already produced this source's current run
			}
			runTime, n, err := producer.Produce(ctx, s, now)
			if err != nil {
				logger.Printf("produce %s: %v", s.ShortName, err)
				continue
			}
			lastRunTime[s.ShortName] = runTime
			logger.Printf("enqueued %d tasks for %s run %s", n, s.ShortName, runTime.Format(time.RFC3339))
		}
	}

	runOnce()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Println("shutting down scheduler...")
	cancel()
}

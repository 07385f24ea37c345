// One-shot maintenance tool that backfills the interval energy column
// for readings logged before the logger computed it. Safe to re-run:
// only rows with a NULL interval energy are touched.
package main

import (
	"flag"
	"log"

	"github.com/pescampus/campus_energy_meter/pkg/meterdb"
)

func main() {
	interval := flag.Float64("interval", 5, "poll interval in seconds the old rows were logged at")
	flag.Parse()

	if *interval <= 0 {
		log.Fatalf("Interval must be positive, got %g", *interval)
	}

	meterdb.InitializeDatabase()

	repaired, err := meterdb.BackfillIntervalEnergy(*interval)
	if err != nil {
		log.Fatalf("Backfill failed: %v", err)
	}
	log.Printf("Repaired %d readings (interval %gs)", repaired, *interval)
}

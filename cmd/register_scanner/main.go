// Register scanner for commissioning unknown meters. It sweeps a range
// of register addresses with both Modbus read functions, tries every
// word-order and scale combination on each 4-byte value, and writes the
// plausible decodings to a CSV for inspection. Run it once against a
// new meter, then copy the winning addresses and word orders into the
// logger config.
package main

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pescampus/campus_energy_meter/pkg/connection"
	"github.com/pescampus/campus_energy_meter/pkg/framecodec"
	"github.com/pescampus/campus_energy_meter/pkg/pathing"
	"github.com/pescampus/campus_energy_meter/pkg/valuedecoder"
)

func main() {
	var (
		unitID    = flag.Int("unit", 1, "Modbus unit ID of the meter")
		baudrate  = flag.Uint("baud", 9600, "serial baudrate")
		startAddr = flag.Int("start", 0, "first register address to scan")
		endAddr   = flag.Int("end", 120, "last register address to scan (exclusive)")
		timeoutMs = flag.Int("timeout", 500, "per-request response timeout in ms")
		debug     = flag.Bool("debug", false, "log raw frames for every probe")
	)
	flag.Parse()

	if *startAddr < 0 || *endAddr <= *startAddr || *endAddr > 0x10000 {
		log.Fatalf("Invalid scan range [%d, %d)", *startAddr, *endAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Interrupted, finishing up...")
		cancel()
	}()

	conn := connection.NewManager(nil, *baudrate)
	defer conn.Close()

	port, err := conn.Ensure(ctx)
	if err != nil {
		log.Fatalf("Could not open serial device: %v", err)
	}

	outName := fmt.Sprintf("register_scan_%s.csv", time.Now().Format("20060102_150405"))
	outPath := pathing.GetScanDumpPath(outName)
	outFile, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("Could not create %s: %v", outPath, err)
	}
	defer outFile.Close()

	writer := csv.NewWriter(outFile)
	defer writer.Flush()
	writer.Write([]string{"timestamp", "function", "register", "word_order", "scale", "value"})

	log.Printf("Scanning registers %d..%d on unit %d, writing %s", *startAddr, *endAddr, *unitID, outPath)

	timeout := time.Duration(*timeoutMs) * time.Millisecond
	hits := 0

	for _, function := range []byte{framecodec.FuncReadHolding, framecodec.FuncReadInput} {
		// 4-byte values always start on an even address on these meters.
		for addr := *startAddr; addr+1 < *endAddr; addr += 2 {
			if ctx.Err() != nil {
				log.Printf("Scan aborted. %d plausible decodings written to %s", hits, outPath)
				return
			}

			frame := framecodec.BuildPollFrame(byte(*unitID), uint16(addr), 2, function)
			if _, err := port.Write(frame); err != nil {
				log.Fatalf("Write failed at register %d: %v", addr, err)
			}

			raw := framecodec.AccumulateResponse(port, timeout)
			if *debug {
				log.Printf("fc=0x%02X reg=%d -> % X", function, addr, raw)
			}
			if !framecodec.ValidateResponse(raw, byte(*unitID), function) {
				continue
			}
			payload := raw[3 : len(raw)-2]
			if len(payload) != 4 {
				continue
			}

			candidate, err := valuedecoder.Discover(payload, nil)
			if err != nil {
				if *debug {
					log.Printf("fc=0x%02X reg=%d raw=%s: no plausible decode", function, addr, hex.EncodeToString(payload))
				}
				continue
			}

			hits++
			log.Printf("Register %d (fc=0x%02X): %.4f [%s x%g]", addr, function, candidate.Value, candidate.Order, candidate.Scale)
			writer.Write([]string{
				time.Now().Format(time.RFC3339),
				fmt.Sprintf("0x%02X", function),
				strconv.Itoa(addr),
				candidate.Order,
				strconv.FormatFloat(candidate.Scale, 'g', -1, 64),
				strconv.FormatFloat(candidate.Value, 'f', 4, 64),
			})

			// Give the meter a moment between probes.
			time.Sleep(50 * time.Millisecond)
		}
	}

	log.Printf("Scan complete. %d plausible decodings written to %s", hits, outPath)
}

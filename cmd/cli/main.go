package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ratlab/pulsesync/internal/trace"
	"github.com/ratlab/pulsesync/pkg/logger"
	"github.com/ratlab/pulsesync/pkg/pulsesync"
	"github.com/ratlab/pulsesync/pkg/pulsesync/clockmap"
	"github.com/ratlab/pulsesync/pkg/pulsesync/pulse"
)

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "calibrate":
		handleCalibrate(os.Args[2:])
	case "check-pulses":
		handleCheckPulses(os.Args[2:])
	case "apply":
		handleApply(os.Args[2:])
	case "list":
		handleList(os.Args[2:])
	case "delete":
		handleDelete(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pulsesync: dual-stream timestamp synchronization

Usage:
  pulsesync calibrate   -trace <a.wav> -events <b.csv> -subject <id> -session <name> [flags]
  pulsesync check-pulses -trace <a.wav> [flags]
  pulsesync apply       -subject <id> -session <name> -in <ts.csv> [-direction forward|inverse] [-policy reject|clamp|extrapolate]
  pulsesync list
  pulsesync delete      -subject <id> -session <name>

The mapping store location is taken from -db or PULSESYNC_DB_PATH.`)
}

func addStoreFlags(fs *flag.FlagSet) *string {
	return fs.String("db", getEnvOrDefault("PULSESYNC_DB_PATH", pulsesync.DefaultDBFile),
		"Path to the sqlite mapping store")
}

func newService(dbPath string, cfg pulsesync.Config) pulsesync.Service {
	svc, err := pulsesync.NewService(
		pulsesync.WithDBPath(dbPath),
		pulsesync.WithConfig(cfg),
	)
	if err != nil {
		logger.Fatalf("service init failed: %v", err)
	}
	return svc
}

func handleCalibrate(args []string) {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	dbPath := addStoreFlags(fs)
	tracePath := fs.String("trace", "", "WAV digital trace for stream A (required)")
	eventsPath := fs.String("events", "", "CSV pulse-event timestamps for stream B (required)")
	subject := fs.String("subject", "", "Subject ID (required)")
	session := fs.String("session", "", "Session name (required)")
	degree := fs.Int("degree", 1, "Polynomial degree of the clock fit")
	tolerance := fs.Float64("tolerance", 1e-3, "Residual tolerance in seconds")
	fs.Parse(args)

	if *tracePath == "" || *eventsPath == "" || *subject == "" || *session == "" {
		fmt.Println("Error: -trace, -events, -subject, and -session are required")
		fs.Usage()
		os.Exit(1)
	}

	samples, rate, err := trace.ReadDigitalTrace(*tracePath)
	if err != nil {
		logger.Fatalf("loading trace: %v", err)
	}
	events, err := trace.ReadEventTimes(*eventsPath)
	if err != nil {
		logger.Fatalf("loading events: %v", err)
	}

	cfg := pulsesync.DefaultConfig()
	cfg.PolynomialDegree = *degree
	cfg.ResidualTolerance = *tolerance

	svc := newService(*dbPath, cfg)
	defer svc.Close()

	m, rep, err := svc.Calibrate(context.Background(), pulsesync.CalibrationInput{
		StreamA: pulsesync.StreamInput{ID: "neural", Samples: samples, SampleRate: rate},
		StreamB: pulsesync.StreamInput{ID: "behavior", EventTimes: events},
	})
	if rep != nil {
		printReport(rep)
	}
	if err != nil {
		logger.Fatalf("calibration failed: %v", err)
	}

	if err := svc.SaveMapping(*subject, *session, m, rep); err != nil {
		logger.Fatalf("saving mapping: %v", err)
	}
	fmt.Printf("Mapping %s saved for %s/%s (domain %.3fs–%.3fs)\n",
		m.ID, *subject, *session, m.DomainMin, m.DomainMax)
}

func printReport(rep *clockmap.QualityReport) {
	verdict := "REJECTED"
	if rep.Accepted {
		verdict = "ACCEPTED"
	}
	fmt.Printf("%s: %s\n", verdict, rep.Reason)
	fmt.Printf("  pulses:   %s (A) / %s (B)\n",
		humanize.Comma(int64(rep.PulseCountA)), humanize.Comma(int64(rep.PulseCountB)))
	fmt.Printf("  matched:  %d pairs (%d dropped as outliers, %d/%d unmatched)\n",
		rep.MatchedPairs, rep.DroppedPairs, rep.UnmatchedA, rep.UnmatchedB)
	fmt.Printf("  residual: max %.3gs, rms %.3gs\n", rep.Residuals.MaxAbs, rep.Residuals.RMS)
}

func handleCheckPulses(args []string) {
	fs := flag.NewFlagSet("check-pulses", flag.ExitOnError)
	tracePath := fs.String("trace", "", "WAV digital trace (required)")
	high := fs.Float64("high", 0.5, "High (arming) threshold")
	low := fs.Float64("low", 0.2, "Low (release) threshold")
	minWidth := fs.Float64("min-width", 1e-4, "Minimum pulse width in seconds")
	fs.Parse(args)

	if *tracePath == "" {
		fmt.Println("Error: -trace is required")
		fs.Usage()
		os.Exit(1)
	}

	samples, rate, err := trace.ReadDigitalTrace(*tracePath)
	if err != nil {
		logger.Fatalf("loading trace: %v", err)
	}

	seq, err := pulse.FromSamples("trace", samples, rate, pulse.Params{
		HighThreshold: *high,
		LowThreshold:  *low,
		MinPulseWidth: *minWidth,
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}

	fmt.Printf("%s pulses detected over %s samples (%.1f Hz)\n",
		humanize.Comma(int64(seq.Len())), humanize.Comma(int64(len(samples))), rate)
	if seq.ShortDiscarded > 0 {
		fmt.Printf("%d pulses discarded as narrower than %.1fms\n", seq.ShortDiscarded, *minWidth*1000)
	}
	fmt.Printf("first pulse at %.6fs, last at %.6fs\n", seq.First(), seq.Last())
}

func handleApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	dbPath := addStoreFlags(fs)
	subject := fs.String("subject", "", "Subject ID (required)")
	session := fs.String("session", "", "Session name (required)")
	inPath := fs.String("in", "", "CSV of timestamps to map (required)")
	direction := fs.String("direction", "forward", "Mapping direction: forward or inverse")
	policy := fs.String("policy", "reject", "Domain policy: reject, clamp, or extrapolate")
	fs.Parse(args)

	if *subject == "" || *session == "" || *inPath == "" {
		fmt.Println("Error: -subject, -session, and -in are required")
		fs.Usage()
		os.Exit(1)
	}

	dir := clockmap.Forward
	if strings.EqualFold(*direction, "inverse") {
		dir = clockmap.Inverse
	}
	pol, err := clockmap.ParsePolicy(*policy)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	ts, err := trace.ReadEventTimes(*inPath)
	if err != nil {
		logger.Fatalf("loading timestamps: %v", err)
	}

	svc := newService(*dbPath, pulsesync.DefaultConfig())
	defer svc.Close()

	m, err := svc.LoadMapping(*subject, *session)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	mapper, err := clockmap.NewMapper(m, pol)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	out, flags, err := mapper.Apply(ts, dir)
	if err != nil {
		logger.Fatalf("mapping timestamps: %v", err)
	}
	for i, v := range out {
		suffix := ""
		switch flags[i] {
		case clockmap.FlagClamped:
			suffix = ",clamped"
		case clockmap.FlagExtrapolated:
			suffix = ",extrapolated"
		}
		fmt.Printf("%s%s\n", strconv.FormatFloat(v, 'f', 9, 64), suffix)
	}
}

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := addStoreFlags(fs)
	fs.Parse(args)

	svc := newService(*dbPath, pulsesync.DefaultConfig())
	defer svc.Close()

	recs, err := svc.ListMappings()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if len(recs) == 0 {
		fmt.Println("No mappings stored.")
		return
	}
	for _, r := range recs {
		fmt.Printf("%s/%s  degree=%d  max-residual=%.3gs  saved %s  (%s)\n",
			r.SubjectID, r.SessionName, r.Mapping.Degree,
			r.Mapping.Residuals.MaxAbs, humanize.Time(r.CreatedAt), r.ID)
	}
}

func handleDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dbPath := addStoreFlags(fs)
	subject := fs.String("subject", "", "Subject ID (required)")
	session := fs.String("session", "", "Session name (required)")
	fs.Parse(args)

	if *subject == "" || *session == "" {
		fmt.Println("Error: -subject and -session are required")
		fs.Usage()
		os.Exit(1)
	}

	svc := newService(*dbPath, pulsesync.DefaultConfig())
	defer svc.Close()

	if err := svc.DeleteMapping(*subject, *session); err != nil {
		logger.Fatalf("%v", err)
	}
	fmt.Printf("Deleted mapping for %s/%s\n", *subject, *session)
}

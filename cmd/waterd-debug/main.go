package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/model"
	"github.com/sproutling/waterd/internal/stats"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, timezone string
	var limit, humidity int
	var relayOn bool
	flag.StringVar(&dbPath, "db", "data/waterd.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: events, logs, today, set-relay")
	flag.StringVar(&timezone, "tz", "Local", "Reporting timezone")
	flag.IntVar(&limit, "limit", 20, "Number of rows to show")
	flag.IntVar(&humidity, "humidity", 0, "Humidity for set-relay")
	flag.BoolVar(&relayOn, "on", false, "Relay state for set-relay")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of waterd-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/waterd.db')")
		fmt.Println("  -cmd string\tCommand to run: events, logs, today, set-relay")
		fmt.Println("  -tz string\tReporting timezone (default 'Local')")
		fmt.Println("  -limit int\tNumber of rows to show")
		fmt.Println("  -humidity int\tHumidity for set-relay")
		fmt.Println("  -on\t\tRelay state for set-relay")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	conn, err := db.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timezone %q: %v\n", timezone, err)
		os.Exit(1)
	}

	switch command {
	case "events":
		events, err := db.LatestEvents(conn, limit)
		if err != nil {
			fatal(err)
		}
		for _, ev := range events {
			fmt.Printf("%6d  %s  humidity=%3d%%  relay=%-5t  source=%s\n",
				ev.ID, ev.Timestamp.In(loc).Format(time.RFC3339), ev.Humidity, ev.RelayState, ev.Source)
		}
	case "logs":
		entries, err := db.LatestLogEntries(conn, limit, "")
		if err != nil {
			fatal(err)
		}
		for _, e := range entries {
			fmt.Printf("%6d  %s  [%s] %s\n", e.ID, e.Timestamp.In(loc).Format(time.RFC3339), e.Category, e.Message)
		}
	case "today":
		agg := stats.New(conn, loc)
		avg, err := agg.DailyAverageHumidity(time.Now().In(loc))
		if err != nil {
			fatal(err)
		}
		count, err := agg.TodayToggleCount()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("avg humidity: %.1f%%\nactivations:  %d\n", avg, count)
	case "set-relay":
		ev := &model.SensorEvent{Humidity: humidity, RelayState: relayOn, Source: model.SourceManual}
		id, err := db.InsertEvent(conn, ev)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("inserted event %d (relay=%t)\n", id, relayOn)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/replay"
	"github.com/foraging-rig/go-controller/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to foraging.db")
	sessionID := flag.String("session", "", "session to export (default: most recent)")
	outPath := flag.String("out", "", "output fixture JSON path")
	eventsPath := flag.String("events", "", "optional path for the raw irregular events as bus messages")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/foraging.db --out path/to/fixture.json [--session ID] [--events path]")
		os.Exit(2)
	}

	if err := run(*dbPath, *sessionID, *outPath, *eventsPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, sessionID, outPath, eventsPath string) error {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer s.Close()

	if sessionID == "" {
		sess, err := s.GetActive()
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		sessionID = sess.SessionID
	}

	f, err := replay.FromStore(s, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(f.Trials) == 0 {
		return fmt.Errorf("session %s has no trials", sessionID)
	}
	if f.Expected == nil {
		fmt.Fprintf(os.Stderr, "warning: session %s is still running; fixture has no expected summary\n", sessionID)
	}

	if err := f.Write(outPath); err != nil {
		return err
	}
	fmt.Printf("Wrote fixture to %s (%d trials, %d licks)\n", outPath, len(f.Trials), len(f.Licks))

	if eventsPath == "" {
		return nil
	}
	return writeEvents(s, sessionID, eventsPath)
}

// #endregion extract

// #region output

// writeEvents dumps every stored irregular event, licks and water
// deliveries alike, in the wire form the rig sent them.
func writeEvents(s *store.Store, sessionID, path string) error {
	rows, err := s.Events(sessionID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	msgs := make([]bus.Message, len(rows))
	for i, r := range rows {
		msgs[i] = bus.Msg(r.Tag, r.Time)
	}
	data, err := bus.MarshalMessages(msgs)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %d events to %s (%d bytes)\n", len(msgs), path, len(data))
	return nil
}

// #endregion output

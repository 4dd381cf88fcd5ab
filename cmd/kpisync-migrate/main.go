package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/migrations"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	user := flag.String("user", "", "migrate only this user's store; default is every store in the data dir")
	flag.Parse()

	cfg, err := config.LoadFromEnv("kpisync-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	users, err := storeUsers(cfg.Store.DataDir, *user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if len(users) == 0 {
		fmt.Printf("no stores found in %s\n", cfg.Store.DataDir)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	failed := false
	runner := migrations.NewRunner()
	for _, userID := range users {
		if err := migrate(ctx, runner, cfg.Store, userID, *direction, *steps); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", userID, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func migrate(ctx context.Context, runner *migrations.Runner, storeCfg config.StoreConfig, userID, direction string, steps int) error {
	db, err := duckdb.Open(ctx, duckdb.DBConfig{Path: filepath.Join(storeCfg.DataDir, userID+".duckdb")})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	switch direction {
	case "up":
		applied, err := runner.Up(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		fmt.Printf("%s: applied %d migration(s)\n", userID, applied)
	case "down":
		applied, err := runner.Down(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		fmt.Printf("%s: rolled back %d migration(s)\n", userID, applied)
	case "status":
		status, err := runner.Status(ctx, db)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		fmt.Printf("%s: applied %v pending %v\n", userID, status.Applied, status.Pending)
	default:
		return fmt.Errorf("invalid direction: %s", direction)
	}
	return nil
}

// storeUsers lists the users whose store files exist in dataDir.
func storeUsers(dataDir, only string) ([]string, error) {
	if only != "" {
		if !session.ValidUserID(only) {
			return nil, fmt.Errorf("invalid user id %q", only)
		}
		return []string{only}, nil
	}
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	users := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".duckdb") {
			continue
		}
		userID := strings.TrimSuffix(name, ".duckdb")
		if session.ValidUserID(userID) {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

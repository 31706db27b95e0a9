// forgectl is the operational CLI for a mapforge database: hygiene sweeps,
// priority refreshes, and user stats.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mapforge/mapforge/internal/cache"
	"github.com/mapforge/mapforge/internal/config"
	"github.com/mapforge/mapforge/internal/locking"
	"github.com/mapforge/mapforge/internal/priority"
	"github.com/mapforge/mapforge/internal/store"
	"github.com/mapforge/mapforge/internal/types"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:           "forgectl",
	Short:         "Operational tooling for a mapforge task database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openStore loads config and opens the database, honoring the --db override
func openStore() (*store.SQLiteStore, *types.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, cfg, nil
}

var sweepLocksCmd = &cobra.Command{
	Use:   "sweep-locks",
	Short: "Release locks older than the configured expiry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		locks := locking.NewManager(s, cfg.Locks.Expiry.Std())
		n, err := locks.SweepStale()
		if err != nil {
			return err
		}
		fmt.Printf("released %d stale locks (expiry %s)\n", n, cfg.Locks.Expiry.Std())
		return nil
	},
}

var expireReviewsCmd = &cobra.Command{
	Use:   "expire-reviews",
	Short: "Convert review requests older than the claim expiry to unnecessary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.ExpireStaleReviewRequests(cfg.Reviews.ClaimExpiry.Std(), time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d review requests (cutoff %s)\n", len(ids), cfg.Reviews.ClaimExpiry.Std())
		for _, id := range ids {
			fmt.Printf("  task %d\n", id)
		}
		return nil
	},
}

var reprioritizeCmd = &cobra.Command{
	Use:   "reprioritize <challenge-id>",
	Short: "Reclassify every task in a challenge against its priority rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		challengeID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid challenge id %q", args[0])
		}
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		rules := cache.New[int64, *priority.ChallengeRules](64, 10*time.Minute)
		svc := priority.NewService(s, rules)
		updated, err := svc.RefreshChallenge(challengeID)
		if err != nil {
			return err
		}
		fmt.Printf("challenge %d: %d tasks changed tier\n", challengeID, updated)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Print a user's score and counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		score, err := s.GetUserScore(userID)
		if err != nil {
			return err
		}
		fmt.Printf("user %d\n", userID)
		fmt.Printf("  score          %d\n", score.Score)
		fmt.Printf("  fixed          %d\n", score.Fixed)
		fmt.Printf("  false positive %d\n", score.FalsePositive)
		fmt.Printf("  already fixed  %d\n", score.AlreadyFixed)
		fmt.Printf("  too hard       %d\n", score.TooHard)
		fmt.Printf("  skipped        %d\n", score.Skipped)
		fmt.Printf("  reviews done   %d\n", score.ReviewsDone)
		fmt.Printf("  approved       %d\n", score.Approved)
		fmt.Printf("  rejected       %d\n", score.Rejected)
		fmt.Printf("  assisted       %d\n", score.Assisted)
		fmt.Printf("  disputed       %d\n", score.Disputed)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mapforge.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")

	rootCmd.AddCommand(sweepLocksCmd)
	rootCmd.AddCommand(expireReviewsCmd)
	rootCmd.AddCommand(reprioritizeCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

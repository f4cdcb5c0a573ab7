package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one decay cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mem, cleanup, err := openSubsystem(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := mem.Decay().RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		drainPool(mem, 2*time.Minute)
		fmt.Printf("decay cycle complete: %d records visited\n", n)
		return nil
	},
}

var consolidatePass string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a consolidation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mem, cleanup, err := openSubsystem(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		switch consolidatePass {
		case "nightly":
			promoted, cleared, err := mem.Consolidator().RunNightly(cmd.Context())
			if err != nil {
				return err
			}
			drainPool(mem, time.Minute)
			fmt.Printf("nightly pass: promoted %d, cleared %d\n", promoted, cleared)
		case "weekly":
			patterns, err := mem.Consolidator().RunWeekly(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("weekly pass: %d patterns written\n", patterns)
		default:
			return fmt.Errorf("--pass must be nightly or weekly, got %q", consolidatePass)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tier, pool, and buffer statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mem, cleanup, err := openSubsystem(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := mem.Stats()
		if err != nil {
			return err
		}

		tiers := make([]string, 0, len(stats.Tiers))
		for tier := range stats.Tiers {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			total := 0
			for _, n := range stats.Tiers[tier] {
				total += n
			}
			fmt.Printf("%-11s %d\n", tier, total)
			phases := make([]string, 0, len(stats.Tiers[tier]))
			for phase := range stats.Tiers[tier] {
				phases = append(phases, phase)
			}
			sort.Strings(phases)
			for _, phase := range phases {
				fmt.Printf("  %-11s %d\n", phase, stats.Tiers[tier][phase])
			}
		}
		fmt.Printf("buffer      %d\n", stats.Buffer)
		fmt.Printf("pool        %d workers, depth %d, dropped %d\n",
			stats.Pool.Workers, stats.Pool.QueueDepth, stats.Pool.Dropped)
		return nil
	},
}

var deadlettersLimit int

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List jobs that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mem, cleanup, err := openSubsystem(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		letters, err := mem.DB().ListDeadLetters(deadlettersLimit)
		if err != nil {
			return err
		}
		if len(letters) == 0 {
			fmt.Println("no dead letters")
			return nil
		}
		for _, d := range letters {
			when := time.UnixMilli(d.CreatedAt).Format(time.RFC3339)
			fmt.Printf("%s  %s  record=%s attempts=%d  %s\n", when, d.JobKind, d.RecordID, d.Attempts, d.Reason)
		}
		return nil
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidatePass, "pass", "nightly", "which pass to run: nightly or weekly")
	deadlettersCmd.Flags().IntVar(&deadlettersLimit, "limit", 50, "max rows to show")
}

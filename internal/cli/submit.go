package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/stratum/internal/memory"
)

var (
	submitCriticality  float64
	submitSuccessScore float64
)

var submitCmd = &cobra.Command{
	Use:   "submit [content]",
	Short: "Submit an experience for classification",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().Float64Var(&submitCriticality, "criticality", 0, "criticality in [0,1]")
	submitCmd.Flags().Float64Var(&submitSuccessScore, "success", 0, "success score in [0,1]")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mem, cleanup, err := openSubsystem(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := mem.Submit(cmd.Context(), memory.SubmitInput{
		Content:      strings.Join(args, " "),
		Criticality:  submitCriticality,
		SuccessScore: submitSuccessScore,
	})
	if err != nil {
		return err
	}

	// Let classification finish so the printed tier is the routed one.
	drainPool(mem, 5*time.Second)

	routed, err := mem.DB().GetRecord(rec.ID)
	if err != nil || routed == nil {
		routed = rec
	}

	fmt.Printf("id:    %s\n", routed.ID)
	fmt.Printf("tier:  %s\n", routed.Tier)
	fmt.Printf("phase: %s\n", routed.Phase)
	return nil
}

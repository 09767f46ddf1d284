package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/fees"
	"github.com/billix-app/swaprules/internal/lifecycle"
	"github.com/billix-app/swaprules/internal/tier"
)

func init() {
	rootCmd.AddCommand(tierCmd)
	rootCmd.AddCommand(feesCmd)
	rootCmd.AddCommand(lifecycleCmd)
	rootCmd.AddCommand(sweepCmd)

	tierCmd.Flags().Int64("points", -1, "Points balance to classify")
	tierCmd.Flags().Int("completed", 0, "Completed swaps")
	tierCmd.Flags().Int("failed", 0, "Failed swaps")
	tierCmd.Flags().Bool("verified", false, "Whether the user's ID is verified")

	feesCmd.Flags().StringP("type", "t", string(domain.SwapTwoSided), "Swap type (TWO_SIDED or ONE_SIDED_ASSIST)")

	sweepCmd.Flags().String("at", "", "Sweep as of this RFC 3339 time instead of now")
}

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Print the trust tier table, or classify a user with --points",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		points, _ := cmd.Flags().GetInt64("points")
		if points < 0 {
			printTiers(out)
			return nil
		}

		completed, _ := cmd.Flags().GetInt("completed")
		failed, _ := cmd.Flags().GetInt("failed")
		verified, _ := cmd.Flags().GetBool("verified")
		rate := tier.SuccessRate(completed, failed)
		t := tier.TierFor(points, completed, rate, verified)
		req := tier.For(t)
		fmt.Fprintf(out, "%s (success rate %d%%): bills %s to %s, %d active swaps\n",
			t, rate, fees.FormatCents(req.MinBillCents), fees.FormatCents(req.MaxBillCents), req.MaxActiveSwaps)
		return nil
	},
}

func printTiers(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tPOINTS\tSWAPS\tSUCCESS\tID\tMAX BILL\tACTIVE\tONE-SIDED")
	for _, r := range tier.All() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d%%\t%t\t%s\t%d\t%t\n",
			r.Tier, r.MinPoints, r.MinCompletedSwaps, r.MinSuccessRate,
			r.RequiresIDVerified, fees.FormatCents(r.MaxBillCents), r.MaxActiveSwaps, r.CanRequestOneSided)
	}
	w.Flush()
}

var feesCmd = &cobra.Command{
	Use:   "fees AMOUNT_A [AMOUNT_B]",
	Short: "Quote the fees of a swap, e.g. swaprules fees 125.40 80",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		swapType, _ := cmd.Flags().GetString("type")
		st := domain.SwapType(strings.ToUpper(swapType))
		if !st.Valid() {
			return fmt.Errorf("unknown swap type %q", swapType)
		}

		a, err := fees.ParseAmount(args[0])
		if err != nil {
			return err
		}
		var b *int64
		if len(args) == 2 {
			v, err := fees.ParseAmount(args[1])
			if err != nil {
				return err
			}
			b = &v
		}
		if st == domain.SwapTwoSided && b == nil {
			return fmt.Errorf("a two-sided swap needs both bill amounts")
		}

		f := fees.CalculateTotalFees(a, b, st)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "initiator:    %s (facilitation %s)\n", fees.FormatCents(f.InitiatorTotalCents), fees.FormatCents(f.InitiatorFacilitationCents))
		fmt.Fprintf(out, "counterparty: %s (facilitation %s)\n", fees.FormatCents(f.CounterpartyTotalCents), fees.FormatCents(f.CounterpartyFacilitationCents))
		if b != nil {
			rec := fees.Reconcile(a, *b)
			fmt.Fprintf(out, "spread:       %s, %s each (exact %s cents)\n",
				fees.FormatCents(f.SpreadFeeCents), fees.FormatCents(f.SpreadShareCents), rec.DecimalExact)
		}
		fmt.Fprintf(out, "platform:     %s\n", fees.FormatCents(f.PlatformRevenueCents()))
		return nil
	},
}

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Print the swap state machine as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(lifecycle.Describe())
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one deadline sweep against the configured store and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		at := time.Now().UTC()
		if v, _ := cmd.Flags().GetString("at"); v != "" {
			at, err = time.Parse(time.RFC3339, v)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
		}

		rt, err := openRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.svc.SweepDeadlines(cmd.Context(), at)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

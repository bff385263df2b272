package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/report"
)

var evaluateOut string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation round over the stored demonstrations",
	Long: `Run one evaluation round: sample task instances in every arm, plan
them against the ranked demonstrations and report the arm with the
highest estimated failure probability.

With --out the round is also exported; the format follows the file
extension (.json, .html or .png).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := openEnv(ctx, globalOptions(cmd))
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.sess.Evaluate(ctx)
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), res)

		if evaluateOut != "" {
			if err := report.Save(evaluateOut, res, e.sess.Demonstrations()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s\n", evaluateOut)
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVarP(&evaluateOut, "out", "o", "", "export the round to this file")
	rootCmd.AddCommand(evaluateCmd)
}

func printResult(w io.Writer, res *bandit.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s %s\n", cyan("Round"), res.RoundID)
	fmt.Fprintf(w, "  %s %d\n", gray("seed:"), res.Seed)
	fmt.Fprintf(w, "  %s ε=%g δ=%g β=%g\n", gray("params:"), res.Params.Epsilon, res.Params.Delta, res.Params.Beta)
	fmt.Fprintf(w, "  %s %d arms × %d task instances\n", gray("sampled:"), len(res.Arms), res.SamplesPerArm)

	fmt.Fprintf(w, "\n%s\n", cyan("Arms"))
	for _, s := range res.PerArm {
		p := s.FailureProbability()
		mark := green(fmt.Sprintf("%.3f", p))
		if p >= res.Params.Threshold() {
			mark = red(fmt.Sprintf("%.3f", p))
		}
		worst := ""
		if s.ArmID == res.WorstArmID {
			worst = yellow(" ← worst")
		}
		fmt.Fprintf(w, "  #%-3d p=%s (%d/%d failed)%s\n", s.ArmID, mark, len(s.FailedIndices), len(s.TaskInstances), worst)
	}
	for _, ae := range res.ArmErrors {
		fmt.Fprintf(w, "  #%-3d %s %s\n", ae.ArmID, red("error"), ae.Error)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow("warning"), warn)
	}

	fmt.Fprintln(w)
	if res.Done {
		fmt.Fprintf(w, "%s every arm is below p=%.3f\n", green("Done:"), res.Params.Threshold())
		return
	}
	fmt.Fprintf(w, "%s arm #%d (p=%.3f), record at %s\n",
		yellow("Next demonstration:"), res.WorstArmID, res.WorstArmFailureProbability, formatPositions(res.NextDemonstration))
}

func formatPositions(ps []kinematics.Position) string {
	if len(ps) == 0 {
		return "-"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("(x=%.3f, y=%.3f)", p.X, p.Y)
	}
	return strings.Join(parts, " ")
}

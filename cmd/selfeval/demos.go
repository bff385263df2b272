package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
)

var errNeedDB = errors.New("--db is required to manage stored demonstrations")

var demosCmd = &cobra.Command{
	Use:   "demos",
	Short: "Manage stored demonstrations",
}

var demosImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import every demonstration directory under dir",
	Long: `Import every demo<N> directory under dir. Each holds
joint_angles.csv, object_poses.csv and optionally region_of_interest.txt.
IDs that collide with stored demonstrations are reassigned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := globalOptions(cmd)
		if opts.DBPath == "" {
			return errNeedDB
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx, opts)
		if err != nil {
			return err
		}
		defer e.Close()

		demos, err := demo.LoadDir(fsutil.OSFileSystem{}, args[0], e.sess.Robot().Limits())
		if err != nil {
			return err
		}
		added, err := e.sess.ImportDemonstrations(ctx, demos)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen, color.Bold).SprintFunc()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d demonstrations from %s\n", green("Imported"), len(added), args[0])
		return nil
	},
}

var demosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored demonstrations, best ranked first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := globalOptions(cmd)
		if opts.DBPath == "" {
			return errNeedDB
		}
		e, err := openEnv(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer e.Close()

		printDemonstrations(cmd.OutOrStdout(), demo.Rank(e.sess.Demonstrations()))
		return nil
	},
}

var demosClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored demonstration",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := globalOptions(cmd)
		if opts.DBPath == "" {
			return errNeedDB
		}
		ctx := cmd.Context()
		e, err := openEnv(ctx, opts)
		if err != nil {
			return err
		}
		defer e.Close()

		n := len(e.sess.Demonstrations())
		if err := e.sess.ClearDemonstrations(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d demonstrations\n", n)
		return nil
	},
}

func init() {
	demosCmd.AddCommand(demosImportCmd)
	demosCmd.AddCommand(demosListCmd)
	demosCmd.AddCommand(demosClearCmd)
	rootCmd.AddCommand(demosCmd)
}

func printDemonstrations(w io.Writer, demos []demo.Demonstration) {
	if len(demos) == 0 {
		fmt.Fprintln(w, "No demonstrations stored")
		return
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "%s\n", cyan(fmt.Sprintf("%d demonstrations", len(demos))))
	for _, d := range demos {
		pos, _ := d.ObjectPosition(0)
		fmt.Fprintf(w, "  #%-4d score=%.4f roi=%.2f %s\n",
			d.ID, d.Score, d.RegionOfInterest, gray(fmt.Sprintf("object at (%.3f, %.3f), %d objects, %d steps",
				pos.X, pos.Y, len(d.ObjectPoses), len(d.JointAngles))))
	}
}

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/secfleet/secfleet/internal/daemon"
	"github.com/secfleet/secfleet/internal/domain"
)

func init() {
	vsCmd.AddCommand(vsAddCmd, vsListCmd)
	sgiAddCmd.Flags().StringVar(&sgiPolicy, "policy", "", "Security policy to bind (required)")
	_ = sgiAddCmd.MarkFlagRequired("policy")
	sgiCmd.AddCommand(sgiAddCmd, sgiListCmd)
	rootCmd.AddCommand(vsCmd, sgiCmd)
}

var sgiPolicy string

// ─── Virtual Systems ────────────────────────────────────────────────────────

var vsCmd = &cobra.Command{
	Use:   "vs",
	Short: "Manage virtual systems",
}

var vsAddCmd = &cobra.Command{
	Use:   "add NAME MANAGER_URL",
	Short: "Declare a virtual system",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		vs := domain.VirtualSystem{Name: args[0], ManagerURL: args[1]}
		if err := d.DB.CreateVirtualSystem(context.Background(), &vs); err != nil {
			return err
		}
		fmt.Printf("Added virtual system %d %q\n", vs.ID, vs.Name)
		return nil
	},
}

var vsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List virtual systems",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		systems, err := d.DB.ListVirtualSystems(context.Background())
		if err != nil {
			return err
		}
		w := newTable(os.Stdout)
		fmt.Fprintln(w, "ID\tNAME\tMANAGER\tLAST JOB")
		for _, vs := range systems {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", vs.ID, vs.Name, vs.ManagerURL, vs.LastJobID)
		}
		return w.Flush()
	},
}

// ─── Security Group Interfaces ──────────────────────────────────────────────

var sgiCmd = &cobra.Command{
	Use:   "sgi",
	Short: "Manage security group interfaces",
}

var sgiAddCmd = &cobra.Command{
	Use:   "add VS_ID NAME TAG",
	Short: "Declare a security group interface on a virtual system",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vsID, err := parseID("virtual system", args[0])
		if err != nil {
			return err
		}
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := context.Background()
		if _, err := d.DB.GetVirtualSystem(ctx, vsID, false); err != nil {
			return err
		}
		sgi := domain.SecurityGroupInterface{VirtualSystemID: vsID, Name: args[1], Tag: args[2], Policy: sgiPolicy}
		if err := d.DB.CreateSecurityGroupInterface(ctx, &sgi); err != nil {
			return err
		}
		fmt.Printf("Added interface %d %q to virtual system %d\n", sgi.ID, sgi.Name, vsID)
		return nil
	},
}

var sgiListCmd = &cobra.Command{
	Use:     "list VS_ID",
	Aliases: []string{"ls"},
	Short:   "List the security group interfaces of a virtual system",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vsID, err := parseID("virtual system", args[0])
		if err != nil {
			return err
		}
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		sgis, err := d.DB.ListSecurityGroupInterfaces(context.Background(), vsID)
		if err != nil {
			return err
		}
		w := newTable(os.Stdout)
		fmt.Fprintln(w, "ID\tNAME\tTAG\tPOLICY\tREMOTE ID")
		for _, s := range sgis {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Tag, s.Policy, s.RemoteID)
		}
		return w.Flush()
	},
}

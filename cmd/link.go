package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manually link a participant to an existing contact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "link")
		if err != nil {
			return err
		}
		defer env.Close()

		org, _ := cmd.Flags().GetString("org")
		participant, _ := cmd.Flags().GetString("participant")
		contact, _ := cmd.Flags().GetString("contact")

		p, err := env.Manager.LinkParticipantToContact(ctx, org, participant, contact)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "participant %s is %s (contact %s)\n", p.ID, p.EnrichmentStatus, contact)
		return nil
	},
}

func init() {
	linkCmd.Flags().String("org", "", "organization id (required)")
	linkCmd.Flags().String("participant", "", "participant id (required)")
	linkCmd.Flags().String("contact", "", "contact id (required)")
	for _, f := range []string{"org", "participant", "contact"} {
		_ = linkCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(linkCmd)
}

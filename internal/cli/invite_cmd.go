package cli

import (
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/spf13/cobra"
)

var (
	inviteKey     string
	inviteExpires time.Duration
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "create an invite",
	Long:  `create an invite bound to the discovery key of --key and print its share string`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := core.InviteOptions{DiscoveryKey: crypto.DiscoveryKey(fill(inviteKey))}
		if inviteExpires > 0 {
			opts.Expires = time.Now().Add(inviteExpires)
		}
		inv, err := core.CreateInvite(opts)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), core.EncodeShare(inv))
		log.WithField("discoveryKey", core.EncodeKey(inv.DiscoveryKey)).Debug("invite created")
		return nil
	},
}

func init() {
	inviteCmd.Flags().StringVarP(&inviteKey, "key", "k", "key", "key the invite grants")
	inviteCmd.Flags().DurationVar(&inviteExpires, "expires", 0, "invite lifetime, zero never expires")
}

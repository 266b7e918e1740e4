package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
	"github.com/rudransh-shrivastava/blind-pairing/internal/pairing"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	memberKey    string
	memberInvite string
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "answer candidates for an invite",
	Long:  `announce a member for the invite's discovery key and confirm every candidate with --key`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := fill(memberKey)
		opts := core.InviteOptions{DiscoveryKey: crypto.DiscoveryKey(key)}
		if memberInvite != "" {
			shared, err := core.DecodeShare(memberInvite)
			if err != nil {
				return err
			}
			opts.Seed = shared.Seed
			opts.Expires = shared.Expires
		}
		inv, err := core.CreateInvite(opts)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "share this invite:", core.EncodeShare(inv))

		stop := interrupted()
		ctx := context.Background()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		m, err := s.pairing.AddMember(pairing.MemberOptions{
			DiscoveryKey: inv.DiscoveryKey,
			OnAdd: func(ctx context.Context, req *core.MemberRequest) (core.Decision, error) {
				entry := log.WithField("inviteId", core.EncodeKey(req.InviteID))
				opened, err := req.OpenInvite(inv, time.Now())
				if err != nil {
					entry.WithError(err).Warn("rejecting request")
					return core.Deny, err
				}
				entry.WithFields(logrus.Fields{"userData": string(opened.UserData)}).Info("should add candidate")
				entry.Info("confirming with key")
				return opened.Confirm(core.Result{Key: key})
			},
		})
		if err != nil {
			return err
		}

		return serveMember(ctx, m, stop)
	},
}

// serveMember runs until stop fires. The first poll is reported when it
// completes but does not hold up stop.
func serveMember(ctx context.Context, m *pairing.Member, stop <-chan os.Signal) error {
	flushed := make(chan error, 1)
	go func() {
		flushed <- m.Flushed(ctx)
	}()

	for {
		select {
		case <-stop:
			return nil
		case err := <-flushed:
			if err != nil {
				return err
			}
			log.Debug("first poll complete")
			flushed = nil
		}
	}
}

func init() {
	memberCmd.Flags().StringVarP(&memberKey, "key", "k", "key", "key handed to accepted candidates")
	memberCmd.Flags().StringVarP(&memberInvite, "invite", "i", "", "reuse an existing invite")
}

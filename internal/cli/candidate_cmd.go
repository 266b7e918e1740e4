package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/pairing"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	candidateInvite   string
	candidateUserData string
)

var candidateCmd = &cobra.Command{
	Use:   "candidate",
	Short: "pair using an invite",
	Long:  `send a pairing request with --invite and wait for a member to confirm it`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if candidateInvite == "" {
			return errors.New("--invite is required")
		}
		inv, err := core.DecodeShare(candidateInvite)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stop := interrupted()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		c, err := s.pairing.AddCandidate(pairing.CandidateOptions{
			Invite:   inv,
			UserData: fill(candidateUserData),
		})
		if err != nil {
			return err
		}

		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		res, err := waitWithSpinner(ctx, c)
		if err != nil {
			return err
		}
		log.WithField("key", string(res.Key)).Info("pairing completed!")
		return nil
	},
}

func waitWithSpinner(ctx context.Context, c *pairing.Candidate) (*core.Result, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("waiting for a member"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	defer func() {
		_ = bar.Finish()
	}()

	announced := c.Announced()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return c.Result(), nil
		case <-announced:
			bar.Describe("announced, waiting for a member")
			log.Debug("fully announced to the dht also...")
			announced = nil
		case <-ticker.C:
			_ = bar.Add(1)
		case <-ctx.Done():
			return nil, fmt.Errorf("pairing interrupted: %w", ctx.Err())
		}
	}
}

func init() {
	candidateCmd.Flags().StringVarP(&candidateInvite, "invite", "i", "", "invite share string")
	candidateCmd.Flags().StringVarP(&candidateUserData, "user-data", "u", "user-data", "data shown to the member")
}

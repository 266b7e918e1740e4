// Package cli is the blind-pairing command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/rudransh-shrivastava/blind-pairing/internal/logger"
	"github.com/rudransh-shrivastava/blind-pairing/internal/pairing"
	"github.com/rudransh-shrivastava/blind-pairing/internal/swarm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultDHTAddr = "127.0.0.1:49737"

var (
	dhtAddr string
	dhtPin  string
	poll    time.Duration
	verbose bool
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "blind-pairing",
	Short: "pair peers with a one-time invite",
	Long:  `blind-pairing lets a candidate holding an invite ask existing members for a key, over a shared DHT, without the DHT learning who paired with whom`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.TimeOnly})
		log.SetOutput(os.Stdout)
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	}

	rootCmd.PersistentFlags().StringVar(&dhtAddr, "dht", defaultDHTAddr, "address of the DHT server")
	rootCmd.PersistentFlags().StringVar(&dhtPin, "pin", "", "DHT server certificate pin printed by the dht command")
	rootCmd.PersistentFlags().DurationVar(&poll, "poll", pairing.DefaultPoll, "base DHT polling interval")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol details")

	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(candidateCmd)
	rootCmd.AddCommand(dhtCmd)
}

func libraryLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return logger.NewLevelLogger(os.Stderr, level)
}

// session is a pairing coordinator bound to a remote DHT. The swarm is
// local to the process, so every exchange goes through the DHT.
type session struct {
	client  *dht.Client
	node    *swarm.Node
	pairing *pairing.Pairing
}

func openSession(ctx context.Context) (*session, error) {
	l := libraryLogger()
	cfg := dht.ClientConfig{ServerAddr: dhtAddr, Logger: l.With("component", "dht")}
	if dhtPin != "" {
		pin, err := core.DecodeKey(dhtPin)
		if err != nil {
			return nil, fmt.Errorf("decoding --pin: %w", err)
		}
		cfg.ServerPin = pin
	}
	client, err := dht.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = client.Shutdown()
		return nil, err
	}

	node := swarm.NewHub().NewNode()
	return &session{
		client:  client,
		node:    node,
		pairing: pairing.New(node, client, pairing.Config{Logger: l, Poll: poll}),
	}, nil
}

func (s *session) close() {
	log.Info("closing...")
	if err := s.pairing.Close(); err != nil {
		log.WithError(err).Warn("closing pairing")
	}
	s.node.Destroy()
	if err := s.client.Shutdown(); err != nil {
		log.WithError(err).Warn("closing dht client")
	}
	log.Info("closed!")
}

// interrupted is closed on SIGINT or SIGTERM.
func interrupted() <-chan os.Signal {
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	return done
}

// fill repeats s over a 32 byte buffer.
func fill(s string) []byte {
	b := make([]byte, 32)
	if s == "" {
		return b
	}
	for i := range b {
		b[i] = s[i%len(s)]
	}
	return b
}

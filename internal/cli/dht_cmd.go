package cli

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/blind-pairing/internal/core"
	"github.com/rudransh-shrivastava/blind-pairing/internal/dht"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
)

var dhtCmd = &cobra.Command{
	Use:   "dht",
	Short: "run a DHT server",
	Long:  `run the DHT server members and candidates meet on, keeping records in memory or in a sqlite file with --db`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stop := interrupted()
		cfg := dht.ServerConfig{Addr: listenAddr, Logger: libraryLogger()}
		if dbPath != "" {
			store, err := dht.OpenSQLStore(dbPath)
			if err != nil {
				return err
			}
			cfg.Store = store
		}

		server, err := dht.NewServer(cfg)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"addr": server.Addr(),
			"pin":  core.EncodeKey(server.Fingerprint()),
		}).Info("dht server listening")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(ctx)
		}()

		select {
		case <-stop:
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("dht server stopped")
			}
		}
		cancel()
		return server.Shutdown()
	},
}

func init() {
	dhtCmd.Flags().StringVar(&listenAddr, "addr", defaultDHTAddr, "listen address")
	dhtCmd.Flags().StringVar(&dbPath, "db", "", "sqlite file for records, empty keeps them in memory")
}

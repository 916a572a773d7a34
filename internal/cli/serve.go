package cli

import (
	"github.com/spf13/cobra"

	"github.com/raidx545/mend/internal/web"
)

var serveFlags struct {
	addr       string
	configPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(serveFlags.configPath)
		if err != nil {
			return err
		}
		if serveFlags.addr != "" {
			cfg.Server.Addr = serveFlags.addr
		}

		eng, err := buildEngine(cfg, true)
		if err != nil {
			return err
		}
		defer eng.store.Close()

		srv := web.NewServer(eng.agent, eng.store, eng.broadcaster, nil)
		return srv.ListenAndServe(cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveFlags.configPath, "config", "", "path to config file")
}

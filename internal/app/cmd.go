package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// defaultServerPort はSERVER_PORT未設定時のポート。
const defaultServerPort = "8080"

// NewRootCommand はmarketplaceコマンドのルートを生成する。
// サブコマンドなしで起動した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	var port string

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(w, CommandServe)
		if err != nil {
			return err
		}
		defer closer.Close()
		if port != "" {
			cfg.ServerPort = port
		}
		return runServe(cfg)
	}

	rootCmd := &cobra.Command{
		Use:           "marketplace",
		Short:         "Multi-vendor marketplace API server and background worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	rootCmd.SetOut(w)
	rootCmd.SetErr(w)

	serveCmd := &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&port, "port", "", "listen port (overrides SERVER_PORT)")

	rootCmd.AddCommand(
		serveCmd,
		workerCmd(w),
		migrateCmd(w),
		healthcheckCmd(),
	)
	return rootCmd
}

func workerCmd(w io.Writer) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the outbox relay, catalog import and cleanup jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := setup(w, CommandWorker)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runWorker(cfg, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run every job once and exit")
	return cmd
}

func migrateCmd(w io.Writer) *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Down < 0 {
				return fmt.Errorf("--down must not be negative: %d", opts.Down)
			}
			cfg, closer, err := setup(w, CommandMigrate)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runMigrate(cfg, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Down, "down", 0, "roll back the given number of migrations")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "print the current schema version and exit")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

// healthcheckCmd は軽量サブコマンドのため、設定の読み込みを行わない。
func healthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local API server's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = os.Getenv("SERVER_PORT")
			}
			if port == "" {
				port = defaultServerPort
			}
			return runHealthcheck(cmd.Context(), healthcheckURL(port))
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "API server port (defaults to SERVER_PORT)")
	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/config"
	"github.com/materials-commons/mcfetch/pkg/mcdb"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/mcfetch"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/broadcast"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/finalize"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/monitor"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/ytdlp"
	"github.com/materials-commons/mcfetch/pkg/wserv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcfetchd",
	Short: "The Materials Commons remote file transfer daemon",
	Long: `The Materials Commons remote file transfer daemon downloads files from remote
hosts into the Materials Commons store. Transfers are admitted per host, downloaded in
parallel ranges when the host allows it, reassembled, finalized and previewed. Progress
is streamed to clients over websockets and SSE.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := config.MustLoadFromDotenv(viper.GetString("dotenv"))
		if err := Run(ctx, c); err != nil {
			log.Fatalf("mcfetchd: %s", err)
		}
	},
}

func Run(ctx context.Context, c config.Configer) error {
	logLevel, err := log.ParseLevel(c.GetKeyWithDefault("MCFETCH_LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("bad MCFETCH_LOG_LEVEL: %w", err)
	}
	logHandler := clog.Setup(os.Stdout, logLevel)

	cfg := config.LoadFetchConfig(c)
	if port := viper.GetInt("port"); port != 0 {
		cfg.Port = port
	}

	db := mcdb.MustConnectToDB(c)
	if err := mcdb.RunMigrations(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	stors := stor.NewGormStors(db)

	bucket, err := finalize.OpenBucket(ctx, cfg.BlobURL)
	if err != nil {
		return err
	}
	defer bucket.Close()

	hub := wserv.NewHub()
	go hub.Run(ctx)

	broadcaster := broadcast.NewProgressBroadcaster(stors.DownloadTransferStor, hub,
		broadcast.WithInterval(cfg.BroadcastInterval))
	go broadcaster.Run(ctx)

	pool := jobs.NewPool(jobs.WithWorkers(cfg.Workers), jobs.WithRetry(cfg.JobAttempts, cfg.JobBackoff))
	pipeline := mcfetch.NewPipeline(cfg, stors, pool,
		mcfetch.WithFinalizer(finalize.NewBlobFinalizer(bucket, stors.FileStor)),
		mcfetch.WithBroadcaster(broadcaster),
		mcfetch.WithCommandBuilder(ytdlp.NewCommandBuilder(cfg.ExternalTool, cfg.ExternalFormat)))

	pool.Start(ctx)

	if err := pipeline.Recover(ctx); err != nil {
		return fmt.Errorf("recovering transfers: %w", err)
	}

	workspaceMonitor := monitor.NewWorkspaceMonitor(
		monitor.WithDownloadTransferStor(stors.DownloadTransferStor),
		monitor.WithTmpRoot(cfg.TmpRoot),
		monitor.WithInterval(cfg.JanitorInterval),
		monitor.WithMaxAge(cfg.JanitorMaxAge))
	go workspaceMonitor.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupRoutes(RouteDependencies{
		e:          e,
		pipeline:   pipeline,
		hub:        hub,
		logHandler: logHandler,
		logLevel:   logLevel,
	})

	go func() {
		address := fmt.Sprintf("localhost:%d", cfg.Port)
		log.Infof("Listening on %s", address)
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Web server stopped: %s", err)
		}
	}()

	<-ctx.Done()
	log.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPHeaderTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Web server shutdown failed: %s", err)
	}

	return pool.Wait()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().String("dotenv", "", "Path to the .env file (default is $MC_DOTENV_PATH)")
	rootCmd.Flags().Int("port", 0, "Port for the web API (overrides MCFETCH_PORT)")

	_ = viper.BindPFlag("dotenv", rootCmd.Flags().Lookup("dotenv"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindEnv("dotenv", "MC_DOTENV_PATH")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/diffsec/knowsync/internal/api"
	"github.com/diffsec/knowsync/internal/health"
	"github.com/diffsec/knowsync/internal/queue"
	"github.com/diffsec/knowsync/internal/recovery"
	"github.com/diffsec/knowsync/internal/watcher"
	"github.com/diffsec/knowsync/internal/worker"
)

var (
	workerHTTPAddr     string
	workerMaxConcur    int
	workerPollInterval time.Duration
)

// workerRunCmd starts the long-running supervisor: FileWatcher, SyncQueue,
// and Worker's four loops, plus a HealthMonitor watching Worker and,
// optionally, the HTTP trigger + JSON-RPC tool surface from internal/api.
//
// Exit codes (spec.md §5): 0 on a normal stop (SIGINT/SIGTERM), 1 on a
// fatal initialization error.
var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync supervisor",
	Long: `Start the Worker supervisor: it discovers registered projects, watches
those in realtime mode with auto-sync enabled, debounces and queues their changes, and
runs periodic syncs for projects in periodic mode. A HealthMonitor
restarts it on a stale heartbeat, and recorded checkpoints from any
previous unclean stop are resumed before the loops start.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := buildStack()
		if err != nil {
			exitError("%v", err)
		}
		defer st.Close()

		recoverySvc := recovery.New(st.Store, st.Store, st.Registry)
		resumeSync := func(ctx context.Context, projectID string, files []string) error {
			_, err := st.Engine.SyncProject(ctx, projectID, files)
			return err
		}
		if err := recoverySvc.ResumeAll(context.Background(), resumeSync); err != nil {
			fmt.Fprintf(os.Stderr, "warning: resuming checkpoints: %v\n", err)
		}

		fw := watcher.New(watcher.DefaultConfig)
		sq := queue.New(queue.Config{MaxConcurrent: workerMaxConcur})
		w := worker.New(st.Store, st.Registry, st.Engine, fw, sq, worker.Config{PollInterval: workerPollInterval})

		metricsReg := prometheus.NewRegistry()
		monitor := health.New(health.DefaultConfig, w, metricsReg)

		ctx, cancel := context.WithCancel(context.Background())
		if err := w.Start(ctx); err != nil {
			exitError("starting worker: %v", err)
		}

		var httpServer *http.Server
		if workerHTTPAddr != "" {
			mux := http.NewServeMux()
			trigger := api.NewServer(st.Registry, st.Engine, fw, sq, monitor, st.Store)
			tools := api.NewToolServer(st.Registry, st.Engine, st.Store)
			mux.Handle("/", trigger.Handler())
			mux.Handle("/rpc", tools)
			mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
			httpServer = &http.Server{Addr: workerHTTPAddr, Handler: mux}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
				}
			}()
			fmt.Printf("HTTP trigger + JSON-RPC surface listening on %s\n", workerHTTPAddr)
		}

		monitorDone := make(chan struct{})
		go func() {
			monitor.Run(ctx)
			close(monitorDone)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping worker...")
		cancel()
		w.Stop()
		<-monitorDone
		if httpServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	workerRunCmd.Flags().StringVar(&workerHTTPAddr, "http-addr", "", "Address to serve the HTTP trigger + JSON-RPC surface on (e.g. :8080); empty disables it")
	workerRunCmd.Flags().IntVar(&workerMaxConcur, "max-concurrent-syncs", 3, "Maximum number of projects syncing at once")
	workerRunCmd.Flags().DurationVar(&workerPollInterval, "poll-interval", 60*time.Second, "Interval between project-discovery polls")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the background sync supervisor",
	}
	workerCmd.AddCommand(workerRunCmd)
	rootCmd.AddCommand(workerCmd)
}

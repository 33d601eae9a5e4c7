// Command datatrack runs the ingestion orchestrator and its provenance and
// quality tooling: HTTP API, MCP server, scheduler and one-shot commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/ingest"
	"github.com/hazyhaar/datatrack/observability"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("datatrack", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "datatrack",
		Short:         "Ingestion orchestration, drift monitoring and eval for the data dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(os.Stdout, logLevel))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", env("DATATRACK_CONFIG", ""), "YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")

	root.AddCommand(
		serveCmd(),
		mcpCmd(),
		runCmd(),
		ingestCmd(),
		dueCmd(),
		connectorCmd(),
		driftCmd(),
		evalCmd(),
		gapsCmd(),
		seedCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "datatrack", version)
			},
		},
	)
	return root
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// withApp loads the config, wires the services and runs fn. One-shot
// commands never start the scheduler.
func withApp(cmd *cobra.Command, oneShot bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if oneShot {
		cfg.Ingest.DisableScheduler = true
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and /mcp, and run the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				a.ingest.Start(ctx)

				hw := observability.NewHeartbeatWriter(a.obs, schedulerWorker, 0, a.logger)
				go hw.Run(ctx)
				go a.runCleanup(ctx)

				srv := &http.Server{
					Addr:              ":" + a.cfg.Port,
					Handler:           newRouter(a),
					ReadHeaderTimeout: 10 * time.Second,
					WriteTimeout:      10 * time.Minute,
					IdleTimeout:       60 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					a.logger.Info("server starting", "port", a.cfg.Port)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()

				select {
				case <-ctx.Done():
				case err := <-errCh:
					return err
				}
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("shutdown", "error", err)
				}
				<-hw.Done()
				a.logger.Info("server stopped")
				return nil
			})
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			slog.SetDefault(newLogger(os.Stderr, logLevel))
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				return a.mcpServer().Run(ctx, &mcp.StdioTransport{})
			})
		},
	}
}

func runCmd() *cobra.Command {
	var opts ingest.RunOptions
	cmd := &cobra.Command{
		Use:   "run <connector-id>",
		Short: "Run one connector now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				opts.TriggeredBy = ingest.TriggerManual
				res, err := a.ingest.RunConnector(ctx, args[0], opts)
				if res != nil {
					printJSON(cmd, res)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "skip preflight checks")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate without fetching")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run every due connector once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				res, err := a.ingest.RunScheduledIngestion(ctx)
				if res != nil {
					printJSON(cmd, res)
				}
				return err
			})
		},
	}
}

func dueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List connectors due for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				list, err := a.ingest.GetDueConnectors(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, orEmpty(list))
			})
		},
	}
}

func connectorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connector", Short: "Inspect and manage connectors"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List connectors",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, true, func(ctx context.Context, a *app) error {
					list, err := a.ingest.ConnectorStatuses(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, list)
				})
			},
		},
		&cobra.Command{
			Use:   "status <connector-id> <active|paused|disabled>",
			Short: "Change a connector status",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, true, func(ctx context.Context, a *app) error {
					return a.ingest.SetConnectorStatus(ctx, args[0], args[1])
				})
			},
		},
	)
	return cmd
}

func driftCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "drift", Short: "Drift monitoring"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Sample every domain and record drift metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				res, err := a.drift.RunFullDriftCheck(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	})
	return cmd
}

func evalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "eval", Short: "Retrieval evaluation"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "suite",
			Short: "Run the full eval suite and store its report",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, true, func(ctx context.Context, a *app) error {
					res, err := a.eval.RunFullEvalSuite(ctx, "cli")
					if err != nil {
						return err
					}
					if err := printJSON(cmd, res); err != nil {
						return err
					}
					if !res.Run.SuitePassed {
						return errors.New("eval suite failed")
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "gate",
			Short: "Run the citation coverage gate",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, true, func(ctx context.Context, a *app) error {
					res, err := a.eval.RunCitationCoverageGate(ctx)
					if err != nil {
						return err
					}
					if err := printJSON(cmd, res); err != nil {
						return err
					}
					if !res.Passed {
						return fmt.Errorf("citation coverage %.3f below %.3f", res.Mean, res.Threshold)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func gapsCmd() *cobra.Command {
	var status, origin string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List gap tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				tickets, err := a.gaps.List(ctx, gaps.ListFilter{
					Status: gaps.Status(status), Origin: gaps.Origin(origin), Limit: limit,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, orEmpty(tickets))
			})
		},
	}
	list.Flags().StringVar(&status, "status", "open", "open or closed, empty for all")
	list.Flags().StringVar(&origin, "origin", "", "drift, ingestion or manual")
	list.Flags().IntVar(&limit, "limit", 50, "maximum tickets")

	closeCmd := &cobra.Command{
		Use:   "close <ticket-id>",
		Short: "Close a gap ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				t, err := a.gaps.Close(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, t)
			})
		},
	}

	cmd := &cobra.Command{Use: "gaps", Short: "Gap tickets"}
	cmd.AddCommand(list, closeCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Register sources and connectors from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadSeed(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				sum, err := a.seed(ctx, f)
				if sum != nil {
					printJSON(cmd, sum)
				}
				return err
			})
		},
	}
}

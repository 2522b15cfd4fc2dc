package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/hq/internal/app"
	"github.com/aristath/hq/internal/scheduler"
	"github.com/aristath/hq/internal/server"
	"github.com/aristath/hq/internal/tui"
)

var (
	serveTUI     bool
	serveLogFile string
	serveAddr    string
)

func init() {
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "show the live dashboard")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "hq.log", "log destination while the dashboard is shown")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the HTTP endpoint and optionally the dashboard",
	RunE:  runServe,
}

// messageCleanupEvery is how often expired messages are purged.
const messageCleanupEvery = 6 * time.Hour

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if serveTUI {
		f, err := os.OpenFile(serveLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveAddr != "" {
		a.Config.Metrics.Enabled = true
		a.Config.Metrics.Addr = serveAddr
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})

	g.Go(func() error {
		return cleanupLoop(gctx, a)
	})

	if a.Config.Metrics.Enabled {
		srv := &http.Server{
			Addr:              a.Config.Metrics.Addr,
			Handler:           server.New(a.Scheduler, a.Orchestrator, a.Governor, a.Store).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Printf("serve: listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if serveTUI {
		model := tui.New(a.Bus, tui.Options{
			MaxPerTick: a.Config.Tick.MaxPerTick,
			TriggerTick: func() error {
				_, err := a.Scheduler.ExecuteTick(gctx, "manual")
				return err
			},
		})
		p := tea.NewProgram(model, tea.WithAltScreen())
		g.Go(func() error {
			_, err := p.Run()
			// Leaving the dashboard ends the whole process.
			stop()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			p.Quit()
			return nil
		})
	}

	log.Printf("serve: scheduler running every %s", a.Config.Tick.Interval)
	err = g.Wait()
	log.Println("serve: shutdown complete")
	return err
}

// cleanupLoop purges expired messages until ctx is cancelled.
func cleanupLoop(ctx context.Context, a *app.App) error {
	ticker := time.NewTicker(messageCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.Comms.CleanupOldMessages(ctx)
			if err != nil {
				log.Printf("WARNING: serve: message cleanup: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("serve: removed %d expired messages", n)
			}
		}
	}
}

// printTick writes a one-tick summary.
func printTick(cmd *cobra.Command, res *scheduler.TickResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tick %s (%s) in %s, budget %s\n", res.TickID, res.Trigger, res.Duration.Round(time.Millisecond), res.BudgetLevel)
	fmt.Fprintf(out, "  processed %d, completed %d, failed %d\n", res.Processed, res.Completed, res.Failed)
	if res.QuotaTripped {
		fmt.Fprintln(out, "  quota tripped: scheduled ticks paused")
	}
	for _, action := range res.Actions {
		fmt.Fprintf(out, "  - %s\n", action)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/chatscope/internal/utils"
	"github.com/sw33tLie/chatscope/pkg/ingest"
	"github.com/sw33tLie/chatscope/pkg/source"
	"github.com/sw33tLie/chatscope/pkg/source/webclient"
	"github.com/sw33tLie/chatscope/pkg/storage"
)

// readySource is a source that can wait for its conversation to be on screen.
type readySource interface {
	source.Source
	WaitReady(ctx context.Context, loginWait, firstMessageWait time.Duration) error
}

type monitorConfig struct {
	Contact          string
	DBPath           string
	SourceURL        string
	SourceTimeout    time.Duration
	PollInterval     time.Duration
	LoginWait        time.Duration
	FirstMessageWait time.Duration
	RestartDelay     time.Duration
	RetryBackoff     time.Duration
	ErrorBackoff     time.Duration
	SeenCacheSize    int
	MaskSenders      bool
}

func loadMonitorConfig() monitorConfig {
	return monitorConfig{
		Contact:          viper.GetString("contact"),
		DBPath:           dbPathFromConfig(),
		SourceURL:        viper.GetString("source.url"),
		SourceTimeout:    viper.GetDuration("source.timeout"),
		PollInterval:     time.Duration(viper.GetFloat64("poll_interval") * float64(time.Second)),
		LoginWait:        viper.GetDuration("login_wait"),
		FirstMessageWait: viper.GetDuration("first_message_wait"),
		RestartDelay:     viper.GetDuration("restart_delay"),
		RetryBackoff:     viper.GetDuration("retry_backoff"),
		ErrorBackoff:     viper.GetDuration("error_backoff"),
		SeenCacheSize:    viper.GetInt("seen_cache_size"),
		MaskSenders:      viper.GetBool("mask_senders"),
	}
}

// monitorCmd implements: chatscope monitor
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the conversation and store every new message",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'chatscope monitor --help'", args[0])
		}

		cfg := loadMonitorConfig()
		if cfg.Contact == "" {
			return errors.New("no contact configured: set 'contact' in ~/.chatscope.yaml or pass --contact")
		}

		lock, err := utils.NewDBLock(cfg.DBPath)
		if err != nil {
			return err
		}
		if err := lock.TryLock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := storage.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		src, err := webclient.New(webclient.Config{
			URL:      cfg.SourceURL,
			Contact:  cfg.Contact,
			Timeout:  cfg.SourceTimeout,
			RetryMax: 2,
			Logger:   utils.Log,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		utils.Log.Infof("Monitoring conversation '%s' (db: %s, every %s)", cfg.Contact, cfg.DBPath, cfg.PollInterval)
		err = runMonitor(ctx, cfg, db, src, eventPrinter(os.Stdout, cfg.MaskSenders))
		utils.Log.Info("Monitor stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().String("contact", "", "Name of the conversation to monitor, as shown by the web client")
	monitorCmd.Flags().Float64("poll-interval", 2.0, "Seconds between poll cycles")
	monitorCmd.Flags().String("url", "", "Snapshot bridge URL (default http://127.0.0.1:9515/snapshot)")
	monitorCmd.Flags().Duration("login-wait", 30*time.Second, "How long to wait for the conversation to open")
	monitorCmd.Flags().String("logfile", "", "Also append logs to this file")

	viper.BindPFlag("contact", monitorCmd.Flags().Lookup("contact"))
	viper.BindPFlag("poll_interval", monitorCmd.Flags().Lookup("poll-interval"))
	viper.BindPFlag("source.url", monitorCmd.Flags().Lookup("url"))
	viper.BindPFlag("login_wait", monitorCmd.Flags().Lookup("login-wait"))
	viper.BindPFlag("logfile", monitorCmd.Flags().Lookup("logfile"))
}

// runMonitor waits for the conversation, then runs the ingestion loop until
// ctx is cancelled. A conversation that does not show up in time is retried
// after the restart delay.
func runMonitor(ctx context.Context, cfg monitorConfig, db ingest.Store, src readySource, onEvent func(ingest.Event)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := src.WaitReady(ctx, cfg.LoginWait, cfg.FirstMessageWait); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			utils.Log.Errorf("Conversation not ready: %v. Restarting in %s...", err, cfg.RestartDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.RestartDelay):
			}
			continue
		}
		utils.Log.Infof("Conversation '%s' open", cfg.Contact)

		m, err := ingest.New(ingest.Config{
			Source:        src,
			Store:         db,
			PollInterval:  cfg.PollInterval,
			RetryBackoff:  cfg.RetryBackoff,
			ErrorBackoff:  cfg.ErrorBackoff,
			SeenCacheSize: cfg.SeenCacheSize,
			Log:           utils.Log,
			OnEvent:       onEvent,
		})
		if err != nil {
			return err
		}
		return m.Run(ctx)
	}
}

// storageAlertEvery controls how often repeated storage failures are printed.
const storageAlertEvery = 5

func eventPrinter(w io.Writer, mask bool) func(ingest.Event) {
	name := func(s string) string {
		if mask {
			return source.MaskSender(s)
		}
		return s
	}
	return func(e ingest.Event) {
		switch ev := e.(type) {
		case ingest.NewIncoming:
			fmt.Fprintln(w, "\n📥 New message stored:")
			fmt.Fprintln(w, "👤 Sender :", name(ev.Sender))
			fmt.Fprintln(w, "💬 Text   :", ev.Text)
			fmt.Fprintln(w, "🕒 Time   :", ev.Timestamp)
			if ev.TodayCount >= 0 {
				fmt.Fprintln(w, "📊 Incoming messages today:", ev.TodayCount)
			}
		case ingest.Outgoing:
			status := ""
			if ev.New {
				status = " (new)"
			}
			fmt.Fprintf(w, "📤 %s  %s: %s%s\n", ev.Timestamp, name(ev.Sender), ev.Text, status)
		case ingest.StorageFailure:
			if ev.Consecutive%storageAlertEvery == 0 {
				fmt.Fprintf(w, "🚨 %d storage failures in a row, last: %v\n", ev.Consecutive, ev.Err)
			}
		}
	}
}

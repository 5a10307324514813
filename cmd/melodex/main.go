// Command melodex is the terminal host for the download core: it drives
// the same facade a desktop shell would, rendering progress in place.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/melodex/melodex-core/internal/facade"
	"github.com/melodex/melodex-core/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "melodex",
		Short:         "Music download orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to settings.json")

	root.AddCommand(
		authCmd(),
		searchCmd(),
		downloadCmd(),
		queueCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp initializes the core, runs fn, and shuts down cleanly even on
// Ctrl-C.
func withApp(fn func(app *facade.App) error) error {
	app := facade.New()
	if code := app.Initialize(configPath); code != facade.CodeOK {
		return codeError("initialize", code)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			app.Shutdown()
			os.Exit(130)
		case <-done:
		}
	}()

	err := fn(app)
	close(done)
	signal.Stop(sigs)
	app.Shutdown()
	return err
}

func codeError(op string, code int) error {
	msgs := map[int]string{
		facade.CodeNotInitialized:     "core not initialized",
		facade.CodeAlreadyInitialized: "core already initialized",
		facade.CodeInvalidConfig:      "invalid configuration",
		facade.CodeDatabase:           "database error",
		facade.CodeMigration:          "database migration failed",
		facade.CodeSchedulerStart:     "scheduler failed to start",
		facade.CodeOperationFailed:    "operation failed",
		facade.CodeValidation:         "invalid argument",
		facade.CodeFilesystem:         "filesystem error",
		facade.CodeAlreadyQueued:      "already in the queue",
	}
	if msg, ok := msgs[code]; ok {
		return fmt.Errorf("%s: %s", op, msg)
	}
	return fmt.Errorf("%s: code %d", op, code)
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <arl>",
		Short: "Authenticate with an ARL session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *facade.App) error {
				if code := app.Authenticate(args[0]); code != facade.CodeOK {
					return codeError("auth", code)
				}
				fmt.Println("authenticated")
				return nil
			})
		},
	}
}

func searchCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *facade.App) error {
				payload, code := app.Search(kind, strings.Join(args, " "), limit)
				if code != facade.CodeOK {
					return codeError("search", code)
				}
				return printJSON(payload)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "track", "track, album, artist or playlist")
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum results")
	return cmd
}

func downloadCmd() *cobra.Command {
	var quality string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Queue downloads and wait for them to finish",
	}
	cmd.PersistentFlags().StringVar(&quality, "quality", "", "override the configured quality (MP3_320 or FLAC)")
	cmd.AddCommand(
		downloadSub("track", "Download a single track", &quality, (*facade.App).DownloadTrack),
		downloadSub("album", "Download an album", &quality, (*facade.App).DownloadAlbum),
		downloadSub("playlist", "Download a playlist", &quality, (*facade.App).DownloadPlaylist),
	)
	return cmd
}

func downloadSub(kind, short string, quality *string, admit func(*facade.App, string, string) (string, int)) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *facade.App) error {
				id, code := admit(app, args[0], *quality)
				if code != facade.CodeOK {
					return codeError("download", code)
				}
				fmt.Println("queued", id)
				return waitForQueue(app)
			})
		},
	}
}

// waitForQueue renders per-track progress bars until the queue drains.
func waitForQueue(app *facade.App) error {
	var mu sync.Mutex
	bars := make(map[string]*progressbar.ProgressBar)

	app.SetProgressCallback(func(itemID string, progress int, speed, eta string) {
		mu.Lock()
		bar, ok := bars[itemID]
		if !ok {
			bar = progressbar.NewOptions(100,
				progressbar.OptionSetDescription(itemID),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)
			bars[itemID] = bar
		}
		bar.Describe(fmt.Sprintf("%s %s ETA %s", itemID, speed, eta))
		bar.Set(progress)
		mu.Unlock()
	})
	app.SetStatusCallback(func(itemID, status, errorMsg string) {
		mu.Lock()
		if bar, ok := bars[itemID]; ok && status != "started" {
			bar.Finish()
			delete(bars, itemID)
		}
		mu.Unlock()
		switch status {
		case "completed":
			fmt.Println("done  ", itemID)
		case "failed":
			fmt.Println("failed", itemID, "-", errorMsg)
		}
	})

	for {
		time.Sleep(time.Second)
		payload, code := app.GetStats()
		if code != facade.CodeOK {
			return codeError("stats", code)
		}
		var stats store.QueueStats
		if err := json.Unmarshal([]byte(payload), &stats); err != nil {
			return err
		}
		if stats.Pending == 0 && stats.Downloading == 0 {
			fmt.Printf("finished: %d completed, %d failed\n", stats.Completed, stats.Failed)
			return nil
		}
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the download queue",
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queue families",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(app *facade.App) error {
				payload, code := app.GetQueue(0, 100, status)
				if code != facade.CodeOK {
					return codeError("queue list", code)
				}
				return printJSON(payload)
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "only show one status (pending, downloading, paused, completed, failed)")
	cmd.AddCommand(listCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(app *facade.App) error {
				payload, code := app.GetStats()
				if code != facade.CodeOK {
					return codeError("queue stats", code)
				}
				return printJSON(payload)
			})
		},
	})
	cmd.AddCommand(queueItemCmd("pause", "Pause an item", (*facade.App).PauseDownload))
	cmd.AddCommand(queueItemCmd("resume", "Resume a paused item", (*facade.App).ResumeDownload))
	cmd.AddCommand(queueItemCmd("cancel", "Cancel an item and delete partials", (*facade.App).CancelDownload))
	cmd.AddCommand(queueItemCmd("retry", "Retry a failed item", (*facade.App).RetryDownload))
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove finished families",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(app *facade.App) error {
				if code := app.ClearCompleted(); code != facade.CodeOK {
					return codeError("queue clear", code)
				}
				return nil
			})
		},
	})
	return cmd
}

func queueItemCmd(verb, short string, op func(*facade.App, string) int) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *facade.App) error {
				if code := op(app, args[0]); code != facade.CodeOK {
					return codeError("queue "+verb, code)
				}
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent downloads",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(app *facade.App) error {
				payload, code := app.GetHistory(0, limit)
				if code != facade.CodeOK {
					return codeError("history", code)
				}
				var page struct {
					Items []*store.HistoryEntry `json:"items"`
					Total int                   `json:"total"`
				}
				if err := json.Unmarshal([]byte(payload), &page); err != nil {
					return err
				}
				for _, e := range page.Items {
					fmt.Printf("%s  %-40s  %s  %s\n",
						e.DownloadedAt.Format("2006-01-02 15:04"),
						fmt.Sprintf("%s - %s", e.Artist, e.Title),
						e.Quality,
						humanize.Bytes(uint64(e.FileSize)))
				}
				fmt.Printf("%d of %d entries\n", len(page.Items), page.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum entries")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the core version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(facade.Version)
		},
	}
}

func printJSON(payload string) error {
	var pretty interface{}
	if err := json.Unmarshal([]byte(payload), &pretty); err != nil {
		fmt.Println(payload)
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"adbsession/adblib/adbsync"
	"adbsession/internal/bionic"
)

var (
	pushMode     string
	pushCompress string
	pushDryRun   bool
	pushJobs     int
	pushQuiet    bool
)

var pushCmd = &cobra.Command{
	Use:   "push <local>... <remote>",
	Short: "Copy local files to the device",
	Long: `Push copies local files to the device over the sync service. If more than
one local file is given, or the remote path ends with a slash, the remote path
is treated as a directory and the files keep their names.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		locals, remote := args[:len(args)-1], args[len(args)-1]

		var opts adbsync.PushOptions
		if pushMode != "" {
			m, err := strconv.ParseUint(pushMode, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid mode %q: %w", pushMode, err)
			}
			opts.Mode = bionic.S_IFREG | uint32(m)
		}
		opts.DryRun = pushDryRun

		cc, err := compressionConfig(pushCompress)
		if err != nil {
			return err
		}

		srv, err := device(ctx)
		if err != nil {
			return err
		}
		client := &adbsync.Client{Server: srv, CompressionConfig: cc}

		total := atomic.NewInt64(0)
		rate := ratecounter.NewRateCounter(time.Second)
		stopProgress := func() {}
		if !pushQuiet {
			stopProgress = startProgress(total, rate)
		}

		start := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(pushJobs)
		for _, local := range locals {
			g.Go(func() error {
				target := remote
				if len(locals) > 1 || strings.HasSuffix(remote, "/") {
					target = path.Join(remote, filepath.Base(local))
				}
				o := opts
				var last int64
				o.Progress = func(n int64) {
					total.Add(n - last)
					rate.Incr(n - last)
					last = n
				}
				if err := client.PushFile(gctx, target, local, &o); err != nil {
					return fmt.Errorf("%s: %w", local, err)
				}
				log.Debug().Str("local", local).Str("remote", target).Msg("pushed")
				return nil
			})
		}
		err = g.Wait()
		stopProgress()
		if err != nil {
			return err
		}
		if !pushQuiet {
			fmt.Fprintf(os.Stderr, "%d file(s) pushed, %s in %s\n",
				len(locals), formatBytes(total.Load()), time.Since(start).Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushMode, "mode", "", "octal permissions for the created files (default taken from the local files)")
	pushCmd.Flags().StringVar(&pushCompress, "compress", "auto", "compression method (auto, none, brotli, lz4, zstd)")
	pushCmd.Flags().BoolVarP(&pushDryRun, "dry-run", "n", false, "send the data but do not write it on the device")
	pushCmd.Flags().IntVarP(&pushJobs, "jobs", "j", 4, "number of files to push in parallel")
	pushCmd.Flags().BoolVarP(&pushQuiet, "quiet", "q", false, "do not report progress")
	root.AddCommand(pushCmd)
}

func compressionConfig(name string) (*adbsync.CompressionConfig, error) {
	switch name {
	case "auto":
		return nil, nil
	case "none":
		return &adbsync.CompressionConfig{CompressMethods: []adbsync.CompressionMethod{}}, nil
	case "brotli", "lz4", "zstd":
		return &adbsync.CompressionConfig{CompressMethods: []adbsync.CompressionMethod{adbsync.CompressionMethod(name)}}, nil
	}
	return nil, fmt.Errorf("unknown compression method %q", name)
}

// startProgress reports the transfer rate on stderr until stopped.
func startProgress(total *atomic.Int64, rate *ratecounter.RateCounter) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fmt.Fprintf(os.Stderr, "\r%s  %s/s\x1b[K", formatBytes(total.Load()), formatBytes(rate.Rate()))
			}
		}
	}()
	return func() {
		close(done)
		fmt.Fprint(os.Stderr, "\r\x1b[K")
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

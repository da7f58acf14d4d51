package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bookfetch/pkg/acquire"
	"bookfetch/pkg/archive"
	"bookfetch/pkg/config"
	"bookfetch/pkg/disk"
	"bookfetch/pkg/display"
	"bookfetch/pkg/watch"
)

func newReleasesCmd(g *globalFlags) *cobra.Command {
	var index bool
	cmd := &cobra.Command{
		Use:   "releases <location>",
		Short: "List the releases of a location",
		Long:  "Lists the releases of a GitHub repository, or with --index of a shared directory index, in the order they are published.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, index)
			if err != nil {
				return err
			}
			releases, err := m.Acquire.ListReleases(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			table := &display.Table{Header: []string{"TAG", "NAME", "PUBLISHED", "ARCHIVES", "PRERELEASE"}}
			for _, r := range releases {
				published := "-"
				if !r.PublishedAt.IsZero() {
					published = humanize.Time(r.PublishedAt)
				}
				var formats []string
				for _, f := range []archive.Format{archive.Zip, archive.Tar} {
					if r.URL(f) != "" {
						formats = append(formats, f.String())
					}
				}
				table.Rows = append(table.Rows, []string{r.Tag, r.Name, published, strings.Join(formats, ","), strconv.FormatBool(r.Prerelease)})
			}
			m.Out.RenderTable(table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&index, "index", false, "treat shared URLs as directory indexes")
	return cmd
}

func newAcquireCmd(g *globalFlags) *cobra.Command {
	var (
		tag     string
		force   bool
		index   bool
		retries uint
	)
	cmd := &cobra.Command{
		Use:   "acquire <location>...",
		Short: "Download and extract content units",
		Long: "Makes sure the content unit of every location is present in the cache and prints its top-level paths.\n" +
			"GitHub locations use the release tagged --tag, or the first listed release.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, index)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 && !force {
				paths, err := withRetry(ctx, retries, m.Logger, func() ([]string, error) {
					return m.Acquire.AcquireString(ctx, args[0], tag)
				})
				if err != nil {
					return err
				}
				printPaths(cmd, paths)
				return nil
			}

			reqs := make([]acquire.Request, 0, len(args))
			for _, raw := range args {
				req, err := withRetry(ctx, retries, m.Logger, func() (acquire.Request, error) {
					return m.Acquire.Resolve(ctx, raw, tag)
				})
				if err != nil {
					return err
				}
				req.Force = force
				reqs = append(reqs, req)
			}
			results, err := withRetry(ctx, retries, m.Logger, func() ([][]string, error) {
				return m.Acquire.AcquireAll(ctx, reqs)
			})
			if err != nil {
				return err
			}
			for _, paths := range results {
				printPaths(cmd, paths)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "release tag (default: first listed release)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "download again even if the unit is present")
	cmd.Flags().BoolVar(&index, "index", false, "treat shared URLs as directory indexes")
	cmd.Flags().UintVar(&retries, "retries", 0, "retry transient failures this many times")
	return cmd
}

func printPaths(cmd *cobra.Command, paths []string) {
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
}

func newUnitsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List cached content units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, false)
			if err != nil {
				return err
			}
			units, err := m.Acquire.Units()
			if err != nil {
				return err
			}
			if len(units) == 0 {
				m.Out.Print("No content units cached.\n")
				return nil
			}

			table := &display.Table{Header: []string{"KEY", "TAG", "FORMAT", "SIZE", "CREATED", "LOCATION"}}
			for _, u := range units {
				size, _ := disk.DirSize(u.Path)
				tag := u.Manifest.Tag
				if tag == "" {
					tag = "-"
				}
				table.Rows = append(table.Rows, []string{
					u.Key.String(), tag, u.Manifest.Format, disk.FormatSize(size),
					humanize.Time(u.Manifest.CreatedAt), u.Manifest.Location,
				})
			}
			m.Out.RenderTable(table)
			return nil
		},
	}
}

func newUsageCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show disk usage of the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, false)
			if err != nil {
				return err
			}
			stats, total := m.Acquire.Usage()

			table := &display.Table{Header: []string{"TYPE", "SIZE", "FILES", "PATH"}}
			for _, s := range stats {
				table.Rows = append(table.Rows, []string{s.Label, disk.FormatSize(s.Size), strconv.Itoa(s.Items), s.Path})
			}
			table.Rows = append(table.Rows, []string{"Total", disk.FormatSize(total), "", m.Root.Dir()})
			m.Out.RenderTable(table)
			return nil
		},
	}
}

func newRemoveCmd(g *globalFlags) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "remove <location>",
		Short: "Remove a cached content unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, false)
			if err != nil {
				return err
			}
			if err := m.Acquire.Remove(cmd.Context(), args[0], tag); err != nil {
				return err
			}
			m.Out.Print(fmt.Sprintf("Removed %s\n", args[0]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "release tag of the unit")
	return cmd
}

func newPruneCmd(g *globalFlags) *cobra.Command {
	var age time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove leftovers of interrupted acquisitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := setup(cmd, g, false)
			if err != nil {
				return err
			}
			removed, err := m.Acquire.Prune(age)
			for _, p := range removed {
				m.Out.Print(fmt.Sprintf("Removed %s\n", p))
			}
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				m.Out.Print("Nothing to prune.\n")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&age, "age", 24*time.Hour, "only remove leftovers older than this")
	return cmd
}

func newWaitCmd(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <marker>",
		Short: "Wait until a marker file is deleted",
		Long:  "Blocks until the marker file no longer exists, polling at the configured poll_interval.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return watch.AwaitRemoval(ctx, args[0],
				watch.WithInterval(cfg.PollInterval),
				watch.WithLogger(newLogger(cmd, g)),
			)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	return cmd
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&overwrite, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}

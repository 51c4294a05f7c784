// Package cli provides the command-line interface with injectable io.Writer for testing.
package cli

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mcdonaldj/spacebak/internal/backup"
	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/crontab"
	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/logging"
	"github.com/mcdonaldj/spacebak/internal/manifest"
	"github.com/mcdonaldj/spacebak/internal/ports"
	"github.com/mcdonaldj/spacebak/internal/retention"
	"github.com/mcdonaldj/spacebak/internal/tui"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitLocked  = 3
)

// ConfigService provides configuration operations for the CLI.
type ConfigService interface {
	Load(path string) (*config.Config, error)
	Save(cfg *config.Config, path string) error
	ConfigPath() (string, error)
	DefaultConfig() (*config.Config, error)
}

// BackupService provides backup operations for the CLI.
type BackupService interface {
	Run(cfg *config.Config, log zerolog.Logger) (*retention.Result, error)
	Inventory(cfg *config.Config) (inventory.Snapshot, error)
	Usage(cfg *config.Config) (ports.Usage, error)
	Verify(cfg *config.Config, name string) (manifest.VerifyResult, error)
}

// ScheduleService builds crontab entries for the CLI.
type ScheduleService interface {
	Entry(schedule, configPath string) (crontab.Entry, error)
}

// CLI represents the command-line interface with injectable dependencies.
type CLI struct {
	Out     io.Writer // Standard output
	Err     io.Writer // Standard error
	Version string    // Application version
	Args    []string  // Command arguments (like os.Args)

	// Exit function for testability (defaults to os.Exit)
	Exit func(code int)
	Now  func() time.Time

	// Injectable dependencies (nil means use defaults)
	ConfigSvc   ConfigService
	BackupSvc   BackupService
	ScheduleSvc ScheduleService
	TUI         func(cfg *config.Config, svc tui.Service) error

	// Global flags
	configPath string
	verbose    bool

	// Color functions (can be disabled for testing)
	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	gray   func(a ...interface{}) string
	red    func(a ...interface{}) string
}

// New creates a new CLI with default settings.
func New(version string) *CLI {
	return &CLI{
		Out:     os.Stdout,
		Err:     os.Stderr,
		Version: version,
		Args:    os.Args,
		Exit:    os.Exit,
		Now:     time.Now,
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		cyan:    color.New(color.FgCyan).SprintFunc(),
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
	}
}

// NewForTesting creates a CLI configured for testing (no colors, captured output).
func NewForTesting(out, errOut io.Writer, args []string) *CLI {
	noColor := func(a ...interface{}) string { return fmt.Sprint(a...) }
	exitCode := 0
	return &CLI{
		Out:     out,
		Err:     errOut,
		Version: "test",
		Args:    args,
		Exit:    func(code int) { exitCode = code; _ = exitCode },
		Now:     time.Now,
		green:   noColor,
		yellow:  noColor,
		cyan:    noColor,
		gray:    noColor,
		red:     noColor,
	}
}

// defaultConfigService wraps the config package functions.
type defaultConfigService struct{}

func (d *defaultConfigService) Load(path string) (*config.Config, error) { return config.Load(path) }
func (d *defaultConfigService) Save(cfg *config.Config, path string) error {
	return cfg.Save(path)
}
func (d *defaultConfigService) ConfigPath() (string, error)            { return config.ConfigPath() }
func (d *defaultConfigService) DefaultConfig() (*config.Config, error) { return config.DefaultConfig() }

// defaultBackupService runs against the real system.
type defaultBackupService struct{}

func (d *defaultBackupService) Run(cfg *config.Config, log zerolog.Logger) (*retention.Result, error) {
	return backup.NewRunner(cfg, log).Run(cfg)
}
func (d *defaultBackupService) Inventory(cfg *config.Config) (inventory.Snapshot, error) {
	return backup.NewRunner(cfg, zerolog.Nop()).Inventory(cfg)
}
func (d *defaultBackupService) Usage(cfg *config.Config) (ports.Usage, error) {
	return backup.NewRunner(cfg, zerolog.Nop()).Usage(cfg)
}
func (d *defaultBackupService) Verify(cfg *config.Config, name string) (manifest.VerifyResult, error) {
	return backup.NewRunner(cfg, zerolog.Nop()).Verify(cfg, name)
}

// defaultScheduleService wraps the crontab package.
type defaultScheduleService struct{}

func (d *defaultScheduleService) Entry(schedule, configPath string) (crontab.Entry, error) {
	return crontab.NewEntry(schedule, configPath)
}

// Helper methods to get the service or default
func (c *CLI) configSvc() ConfigService {
	if c.ConfigSvc != nil {
		return c.ConfigSvc
	}
	return &defaultConfigService{}
}

func (c *CLI) backupSvc() BackupService {
	if c.BackupSvc != nil {
		return c.BackupSvc
	}
	return &defaultBackupService{}
}

func (c *CLI) scheduleSvc() ScheduleService {
	if c.ScheduleSvc != nil {
		return c.ScheduleSvc
	}
	return &defaultScheduleService{}
}

func (c *CLI) runTUI(cfg *config.Config, svc tui.Service) error {
	if c.TUI != nil {
		return c.TUI(cfg, svc)
	}
	return tui.Run(cfg, svc)
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrInvalid):
		return ExitConfig
	}
	switch retention.KindOf(err) {
	case retention.KindConfig:
		return ExitConfig
	case retention.KindLocked:
		return ExitLocked
	default:
		return ExitFailure
	}
}

// Run executes the CLI with the configured arguments.
func (c *CLI) Run() {
	root := c.rootCommand()
	if len(c.Args) > 1 {
		root.SetArgs(c.Args[1:])
	} else {
		root.SetArgs([]string{})
	}
	root.SetOut(c.Out)
	root.SetErr(c.Err)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(c.Err, "%s %v\n", c.red("Error:"), err)
		c.Exit(ExitCode(err))
	}
}

func (c *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "spacebak",
		Short: "Space-aware local backups",
		Long: `spacebak bundles a list of paths into a compressed archive, deleting the
oldest archives first so that a maximum count and a free-space margin hold.

Config: ~/.spacebak/config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default ~/.spacebak/config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log every retention decision")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Prune old archives and write a new one",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.RunBackup() },
		},
		&cobra.Command{
			Use:   "list",
			Short: "List archives in the output directory",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.ListArchives() },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show configuration, disk usage and the space estimate",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.ShowStatus() },
		},
		&cobra.Command{
			Use:   "verify [archive]",
			Short: "Check an archive (default: the newest) against its recorded checksum",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				return c.RunVerify(name)
			},
		},
		&cobra.Command{
			Use:   "ui",
			Short: "Browse archives interactively",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.RunUI() },
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create default config file",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.InitConfig() },
		},
		&cobra.Command{
			Use:   "schedule",
			Short: "Print the crontab line for the configured schedule",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return c.ShowSchedule() },
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(c.Out, "spacebak v%s\n", c.Version)
			},
		},
	)
	return root
}

// loadConfig loads the config named by --config, classifying failures as
// configuration errors.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := c.configSvc().Load(c.configPath)
	if err != nil {
		return nil, &retention.Error{Kind: retention.KindConfig, Op: "loading config", Path: c.configPath, Err: err}
	}
	return cfg, nil
}

func (c *CLI) logger(cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Log.Level
	if c.verbose {
		level = "debug"
	}
	log, err := logging.New(c.Err, level, cfg.Log.Format)
	if err != nil {
		return log, &retention.Error{Kind: retention.KindConfig, Op: "configuring logging", Err: err}
	}
	return log, nil
}

// InitConfig creates the default config file.
func (c *CLI) InitConfig() error {
	svc := c.configSvc()
	cfg, err := svc.DefaultConfig()
	if err != nil {
		return err
	}
	if err := svc.Save(cfg, c.configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	path := c.configPath
	if path == "" {
		if path, err = svc.ConfigPath(); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.Out, "Created config at %s\n", path)
	return nil
}

// RunBackup runs one retention and backup cycle.
func (c *CLI) RunBackup() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, err := c.logger(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "%s Backing up to %s...\n", c.cyan("=>"), cfg.OutputDir)

	res, runErr := c.backupSvc().Run(cfg, log)
	if res != nil {
		c.printResult(res)
	}
	return runErr
}

func (c *CLI) printResult(res *retention.Result) {
	fmt.Fprintln(c.Out)
	for _, d := range res.Deleted {
		note := d.Reason
		if d.Gone {
			note += ", already gone"
		}
		fmt.Fprintf(c.Out, "  %s %s %s %s\n",
			c.yellow("-"),
			d.Archive.Name,
			c.gray(humanize.Bytes(uint64(d.Archive.Size))),
			c.gray("("+note+")"))
	}
	if res.Archive != nil {
		fmt.Fprintf(c.Out, "  %s %s %s %d files\n",
			c.green("*"),
			res.Archive.Name,
			c.yellow(humanize.Bytes(uint64(res.Archive.Size))),
			res.FileCount)
	}

	fmt.Fprintln(c.Out)
	if res.Archive != nil {
		fmt.Fprintf(c.Out, "Done: %s created, %s deleted",
			c.green("1"),
			c.gray(fmt.Sprintf("%d", len(res.Deleted))))
	} else {
		fmt.Fprintf(c.Out, "Failed: %s created, %s deleted",
			c.red("0"),
			c.gray(fmt.Sprintf("%d", len(res.Deleted))))
	}
	if freed := res.Freed(); freed > 0 {
		fmt.Fprintf(c.Out, ", %s freed", humanize.Bytes(freed))
	}
	fmt.Fprintln(c.Out)
}

// ListArchives lists every archive with its size and creation time.
func (c *CLI) ListArchives() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	snap, err := c.backupSvc().Inventory(cfg)
	if err != nil {
		return err
	}

	if snap.Count() == 0 {
		fmt.Fprintf(c.Out, "No archives found in %s\n", cfg.OutputDir)
		return nil
	}

	largest, _ := snap.Largest()
	fmt.Fprintf(c.Out, "Archives in %s:\n\n", c.cyan(cfg.OutputDir))
	fmt.Fprintf(c.Out, "  %-40s %10s  %-20s\n", "NAME", "SIZE", "CREATED")
	fmt.Fprintf(c.Out, "  %-40s %10s  %-20s\n", "----", "----", "-------")

	for i, a := range snap.Archives {
		var marks []string
		if i == 0 {
			marks = append(marks, "oldest")
		}
		if i == snap.Count()-1 {
			marks = append(marks, "newest")
		}
		if a.Path == largest.Path {
			marks = append(marks, "largest")
		}
		note := ""
		for j, m := range marks {
			if j > 0 {
				note += ", "
			}
			note += m
		}
		if note != "" {
			note = c.gray("(" + note + ")")
		}
		fmt.Fprintf(c.Out, "  %-40s %10s  %-20s %s\n",
			a.Name,
			humanize.Bytes(uint64(a.Size)),
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			note)
	}

	fmt.Fprintf(c.Out, "\n%d archives, %s total\n", snap.Count(), humanize.Bytes(uint64(snap.TotalSize())))
	return nil
}

// ShowStatus shows configuration and whether the next run has room.
func (c *CLI) ShowStatus() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	configPath := c.configPath
	if configPath == "" {
		if configPath, err = c.configSvc().ConfigPath(); err != nil {
			return err
		}
	}

	fmt.Fprintln(c.Out, "spacebak status:")
	fmt.Fprintf(c.Out, "  Config:     %s\n", configPath)
	fmt.Fprintf(c.Out, "  File list:  %s\n", cfg.FileList)
	fmt.Fprintf(c.Out, "  Output:     %s\n", cfg.OutputDir)
	fmt.Fprintf(c.Out, "  Label:      %s\n", cfg.Label)
	if cfg.FixedCount.Enabled {
		fmt.Fprintf(c.Out, "  Keep:       at most %d archives\n", cfg.FixedCount.Max)
	} else {
		fmt.Fprintf(c.Out, "  Keep:       %s\n", c.gray("no count limit"))
	}
	fmt.Fprintf(c.Out, "  Allowance:  %.2fx largest archive\n", cfg.Allowance)

	svc := c.backupSvc()
	snap, err := svc.Inventory(cfg)
	if err != nil {
		fmt.Fprintf(c.Out, "  Archives:   %s\n", c.red(err.Error()))
	} else {
		fmt.Fprintf(c.Out, "  Archives:   %d (%s)\n", snap.Count(), humanize.Bytes(uint64(snap.TotalSize())))
	}

	usage, err := svc.Usage(cfg)
	if err != nil {
		fmt.Fprintf(c.Out, "  Disk:       %s\n", c.red(err.Error()))
		return nil
	}
	fmt.Fprintf(c.Out, "  Disk:       %s free of %s (%.1f%% used)\n",
		humanize.Bytes(usage.Free), humanize.Bytes(usage.Total), usage.UsedPercent())

	largest, ok := snap.Largest()
	if !ok {
		return nil
	}
	needed := uint64(math.Round(float64(largest.Size) * cfg.Allowance))
	if usage.Free >= needed {
		fmt.Fprintf(c.Out, "  Next run:   %s (needs %s)\n", c.green("fits"), humanize.Bytes(needed))
	} else {
		fmt.Fprintf(c.Out, "  Next run:   %s\n",
			c.yellow(fmt.Sprintf("will delete archives to free %s", humanize.Bytes(needed-usage.Free))))
	}
	return nil
}

// RunUI opens the interactive archive browser.
func (c *CLI) RunUI() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	return c.runTUI(cfg, c.backupSvc())
}

// RunVerify checks an archive against the manifest.
func (c *CLI) RunVerify(name string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	res, err := c.backupSvc().Verify(cfg, name)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Fprintf(c.Out, "%s Checksum verified for %s\n", c.green("*"), res.Entry.File)
	return nil
}

// ShowSchedule prints the crontab line and the next few run times.
func (c *CLI) ShowSchedule() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	entry, err := c.scheduleSvc().Entry(cfg.Schedule, c.configPath)
	if err != nil {
		return &retention.Error{Kind: retention.KindConfig, Op: "schedule", Err: err}
	}
	line, err := entry.Line()
	if err != nil {
		return &retention.Error{Kind: retention.KindConfig, Op: "schedule", Err: err}
	}

	fmt.Fprintln(c.Out, "Add this line with 'crontab -e':")
	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "  %s\n", line)
	fmt.Fprintln(c.Out)

	next, err := entry.Next(c.Now(), 3)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Next runs:")
	for _, t := range next {
		fmt.Fprintf(c.Out, "  %s %s\n", c.gray("-"), t.Format("Mon 2006-01-02 15:04"))
	}
	return nil
}

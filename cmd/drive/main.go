package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"drive-go/internal/app"
	"drive-go/internal/config"
	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/httpapi"
)

const passphraseEnv = "DRIVE_SNAPSHOT_PASSPHRASE"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "serve", "sweep").
func newApp(command string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(context.Background(), cfg, app.Options{Command: command, EchoLog: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		defaults, err := app.GetDefaults()
		if err != nil {
			return nil, fmt.Errorf("getting defaults: %w", err)
		}
		path = defaults.ConfigPath
	}

	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// lookupUser finds an existing user or fails.
func lookupUser(ctx context.Context, a *app.App, username string) (*drive.User, error) {
	u, err := a.Engine().LookupUser(ctx, username)
	if errors.Is(err, drive.ErrNotFound) {
		return nil, fmt.Errorf("no user named %q", username)
	}
	return u, err
}

// passphrase reads the snapshot key passphrase from the environment or,
// failing that, from the terminal.
func passphrase(prompt string, confirm bool) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to read the passphrase from; set %s", passphraseEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	p, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(again) != string(p) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(p), nil
}

func formatQuota(q int64) string {
	if q <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(q))
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "drive",
	Short:        "Per-user file storage with quotas, sharing and trash",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path := defaults.ConfigPath
		if configPath != "" {
			path = configPath
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Storage Root: %s\n", cfg.Storage.Root)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		db, err := database.NewDatabaseFromConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		defer db.Close()

		if err := db.CheckMigrations(); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled housekeeping",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		if addr == "" {
			addr = a.Config().Server.Addr
		}
		if err := a.StartScheduler(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Engine:  a.Engine(),
				Staging: a.Staging(),
				Metrics: a.Metrics(),
				Logger:  a.DriveLogger(),
				Server:  a.Config().Server,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.Logger().Info("listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.Logger().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	},
}

// housekeeping command
var housekeepingCmd = &cobra.Command{
	Use:   "housekeeping",
	Short: "Purge expired trash and remove abandoned uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("housekeeping")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Housekeeping(cmd.Context())
		if report != nil {
			if report.Trash != nil {
				fmt.Printf("Trash:   %d item(s) purged across %d user(s), %s freed, %d failure(s)\n",
					report.Trash.Purged, report.Trash.Users, humanize.IBytes(uint64(report.Trash.FreedBytes)), report.Trash.Failures)
			}
			fmt.Printf("Temp:    %d file(s) removed\n", report.TempFiles)
			fmt.Printf("Uploads: %d abandoned upload(s) removed\n", report.StagedUploads)
		}
		return err
	},
}

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Manage trash",
}

var trashSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge trash entries past the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Engine().Trash().Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		fmt.Printf("Purged %d item(s) across %d user(s), freed %s\n", res.Purged, res.Users, humanize.IBytes(uint64(res.FreedBytes)))
		if res.Failures > 0 {
			return fmt.Errorf("%d item(s) could not be purged; see the log", res.Failures)
		}
		return nil
	},
}

// quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and change user quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show [USERNAME]",
	Short: "Show quota usage of one user, or a summary of all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("quota-show")
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if len(args) == 1 {
			u, err := lookupUser(ctx, a, args[0])
			if err != nil {
				return err
			}
			info, err := a.Engine().Quota().Info(u)
			if err != nil {
				return err
			}
			total := info.TotalFormatted
			if info.Unlimited {
				total = "unlimited"
			}
			fmt.Printf("%s: %s of %s used (%.1f%%)\n", u.Username, info.UsedFormatted, total, info.Percentage)
			return nil
		}

		stats, err := a.Engine().Quota().Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Users: %d\n", stats.TotalUsers)
		fmt.Printf("Used:  %s\n", humanize.IBytes(uint64(stats.TotalUsed)))
		fmt.Printf("Quota: %s\n", humanize.IBytes(uint64(stats.TotalQuota)))
		for _, u := range stats.OverQuota {
			fmt.Printf("  over quota:   %s (%s of %s)\n", u.Username, humanize.IBytes(uint64(u.UsedBytes)), formatQuota(u.QuotaBytes))
		}
		for _, u := range stats.Approaching {
			fmt.Printf("  near limit:   %s (%s of %s)\n", u.Username, humanize.IBytes(uint64(u.UsedBytes)), formatQuota(u.QuotaBytes))
		}
		return nil
	},
}

var quotaSetCmd = &cobra.Command{
	Use:   "set USERNAME SIZE",
	Short: "Set a user's quota (e.g. 10GiB, 500MB; 0 for unlimited)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := humanize.ParseBytes(args[1])
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[1], err)
		}

		a, err := newApp("quota-set")
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := lookupUser(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		if err := a.Engine().Quota().SetQuota(u.ID, int64(size)); err != nil {
			return err
		}
		fmt.Printf("Quota of %s set to %s\n", u.Username, formatQuota(int64(size)))
		return nil
	},
}

var quotaReconcileCmd = &cobra.Command{
	Use:   "reconcile [USERNAME]",
	Short: "Recompute used bytes from the storage volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("quota-reconcile")
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		if len(args) == 0 {
			n, err := a.Engine().ReconcileAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Reconciled %d user(s)\n", n)
			return nil
		}

		u, err := lookupUser(ctx, a, args[0])
		if err != nil {
			return err
		}
		used, err := a.Engine().RecalculateQuota(ctx, u)
		if err != nil {
			return err
		}
		fmt.Printf("%s uses %s\n", u.Username, humanize.IBytes(uint64(used)))
		return nil
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create a user and its drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		quota, _ := cmd.Flags().GetString("quota")

		a, err := newApp("user-add")
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Engine().EnsureUser(cmd.Context(), drive.Identity{Username: args[0], DisplayName: name, Email: email})
		if err != nil {
			return err
		}
		if quota != "" {
			size, err := humanize.ParseBytes(quota)
			if err != nil {
				return fmt.Errorf("invalid quota %q: %w", quota, err)
			}
			if err := a.Engine().Quota().SetQuota(u.ID, int64(size)); err != nil {
				return err
			}
			u.QuotaBytes = int64(size)
		}
		fmt.Printf("User %s ready (root %s, quota %s)\n", u.Username, drive.UserRoot(u), formatQuota(u.QuotaBytes))
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("user-list")
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Engine().Users(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		for _, u := range users {
			login := "never"
			if u.LastLoginAt != nil {
				login = humanize.Time(*u.LastLoginAt)
			}
			fmt.Printf("%-20s  %10s / %-10s  last login %s\n",
				u.Username, humanize.IBytes(uint64(u.UsedBytes)), formatQuota(u.QuotaBytes), login)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up and restore the metadata database",
}

var snapshotInitKeysCmd = &cobra.Command{
	Use:   "init-keys",
	Short: "Generate the key pair that encrypts snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot-init-keys")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Encryptor().IsConfigured() {
			return fmt.Errorf("snapshot keys already exist")
		}
		p, err := passphrase("New passphrase: ", true)
		if err != nil {
			return err
		}
		if err := a.Encryptor().Setup(p); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Snapshot keys created. Keep the passphrase safe: it is needed to restore.")
		return nil
	},
}

var snapshotBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database to every vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot-backup")
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Snapshot %s (%s) stored in %d vault(s)\n", info.Name, humanize.IBytes(uint64(info.Size)), len(a.Snapshots().Vaults()))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")

		a, err := newApp("snapshot-list")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.Snapshots().List(cmd.Context(), vaultName)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %10s  %s\n", info.Name, humanize.IBytes(uint64(info.Size)), humanize.Time(info.CreatedAt))
		}
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		a, err := newApp("snapshot-prune")
		if err != nil {
			return err
		}
		defer a.Close()

		if keep == 0 {
			keep = a.Config().Snapshot.Keep
		}
		n, err := a.Snapshots().Prune(cmd.Context(), keep)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d snapshot(s)\n", n)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore [NAME]",
	Short: "Restore a snapshot (the newest by default) to a database file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		dest, _ := cmd.Flags().GetString("to")

		a, err := newApp("snapshot-restore")
		if err != nil {
			return err
		}
		defer a.Close()

		if dest == "" {
			if dest, err = database.PathFromConfig(a.Config().Database); err != nil {
				return err
			}
			dest += ".restored"
		}
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		p, err := passphrase("Passphrase: ", false)
		if err != nil {
			return err
		}

		info, err := a.Snapshots().Restore(cmd.Context(), vaultName, name, p, dest)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %s to %s\n", info.Name, dest)
		fmt.Println("Stop the server and move the file over the database to use it.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $DRIVE_CONFIG_PATH or ~/.config/drive.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Echo log lines to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	dbCmd.AddCommand(dbMigrateCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from config)")

	trashCmd.AddCommand(trashSweepCmd)

	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaSetCmd)
	quotaCmd.AddCommand(quotaReconcileCmd)

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userAddCmd.Flags().String("name", "", "Display name")
	userAddCmd.Flags().String("email", "", "Email address")
	userAddCmd.Flags().String("quota", "", "Quota, e.g. 10GiB (default from config)")

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotInitKeysCmd)
	snapshotCmd.AddCommand(snapshotBackupCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotListCmd.Flags().String("vault", "", "Vault name (default: first configured)")
	snapshotRestoreCmd.Flags().String("vault", "", "Vault name (default: first configured)")
	snapshotRestoreCmd.Flags().String("to", "", "Destination file (default: next to the database)")
	snapshotPruneCmd.Flags().IntP("keep", "k", 0, "Snapshots to keep per vault (default from config)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(housekeepingCmd)
	rootCmd.AddCommand(trashCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(snapshotCmd)
}

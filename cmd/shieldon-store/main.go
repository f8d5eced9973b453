package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/developingchet/shieldon-filestore/internal/config"
	"github.com/developingchet/shieldon-filestore/internal/daemon"
	"github.com/developingchet/shieldon-filestore/internal/logger"
	"github.com/developingchet/shieldon-filestore/internal/storage"
	"github.com/developingchet/shieldon-filestore/internal/visitor"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "shieldon-store",
		Short:         "File-backed record store for the Shieldon firewall",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		initCmd(),
		getCmd(),
		listCmd(),
		putCmd(),
		deleteCmd(),
		rebuildCmd(),
		healthcheckCmd(),
		versionCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the store daemon (janitor, metrics, health)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Str("driver", cfg.StoreDriver).
		Str("dir", cfg.StoreDir).Str("channel", cfg.StoreChannel).Msg("shieldon-store starting")

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	d, err := daemon.New(cfg, store, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return d.Run(ctx)
}

// withStore loads config, opens the store and hands it to fn.
func withStore(fn func(store storage.Store, log zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := buildLogger(cfg)
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, log)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the table layout and bootstrap marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store storage.Store, _ zerolog.Logger) error {
				if err := store.Initialize(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "initialized")
				return nil
			})
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, id, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withStore(func(store storage.Store, _ zerolog.Logger) error {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(store.Fetch(table, id))
			})
		},
	}
}

// listLine is one line of `list` output.
type listLine struct {
	ID     string         `json:"id"`
	Stamp  int64          `json:"stamp"`
	Record storage.Record `json:"record"`
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "Print all records of a table, oldest activity first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := parseTable(args[0])
			if err != nil {
				return err
			}
			return withStore(func(store storage.Store, _ zerolog.Logger) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range store.FetchAll(table) {
					if err := enc.Encode(listLine{ID: e.ID, Stamp: e.Stamp, Record: e.Record}); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <type> <id> <json>",
		Short: "Save a record, replacing any existing one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, id, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			var data storage.Record
			if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
				return fmt.Errorf("record must be a JSON object: %w", err)
			}
			return withStore(func(store storage.Store, log zerolog.Logger) error {
				if table == storage.TableRule && isDenyRule(data) && visitor.IsPrivate(id) {
					log.Warn().Str("ip", id).Msg("deny rule for a private address")
				}
				ok, err := store.Save(table, id, data)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("nothing written for %s %q", table, id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "saved")
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, id, err := parseKey(args[0], args[1])
			if err != nil {
				return err
			}
			return withStore(func(store storage.Store, _ zerolog.Logger) error {
				ok, err := store.Delete(table, id)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "not found")
				}
				return nil
			})
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Wipe every table and re-initialize",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store storage.Store, _ zerolog.Logger) error {
				wiped, err := store.Rebuild()
				if err != nil {
					return fmt.Errorf("rebuild: %w", err)
				}
				if !wiped {
					return fmt.Errorf("rebuild: some tables could not be removed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rebuilt")
				return nil
			})
		},
	}
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers OK.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				return fmt.Errorf("healthcheck failed: %w", err)
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shieldon-store %s\n", Version)
		},
	}
}

// openStore builds the configured driver.
func openStore(cfg *config.Config, log zerolog.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "bolt":
		return storage.NewBboltStore(cfg.StoreDir, cfg.StoreChannel, log)
	default:
		return storage.NewFileStore(afero.NewOsFs(), storage.FileConfig{
			Dir:       cfg.StoreDir,
			Channel:   cfg.StoreChannel,
			Extension: cfg.StoreExtension,
		}, log)
	}
}

func parseTable(name string) (storage.TableType, error) {
	t := storage.TableType(name)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q (want filter, rule or session)", storage.ErrInvalidTable, name)
	}
	return t, nil
}

func parseKey(table, id string) (storage.TableType, string, error) {
	t, err := parseTable(table)
	if err != nil {
		return "", "", err
	}
	key, err := visitor.Key(t, id)
	if err != nil {
		return "", "", err
	}
	return t, key, nil
}

// Rule action codes written by the firewall engine.
const (
	actionDeny          = 0
	actionTemporaryDeny = 2
)

// isDenyRule reports whether a rule record blocks the visitor, either by
// numeric action code in "type" or by an explicit "action":"deny".
func isDenyRule(rec storage.Record) bool {
	if a, ok := rec["action"].(string); ok {
		return a == "deny"
	}
	if code, ok := rec["type"].(float64); ok {
		return code == actionDeny || code == actionTemporaryDeny
	}
	return false
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}

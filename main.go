package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wabproject/wab/internal/config"
	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/query"
	"github.com/wabproject/wab/internal/report"
	"github.com/wabproject/wab/internal/timeutil"
)

// Version is reported by the version command and stamped into report
// metadata.
var Version = "1.3.1"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfgFile string
		dbPath  string
		driver  string
		debug   bool
	)
	cfg := config.Default()

	root := &cobra.Command{
		Use:          "wab",
		Short:        "Decode and correlate Windows execution artifacts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if cfgFile != "" {
				loaded, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if driver != "" {
				cfg.Driver = driver
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "store location: SQLite path or connection string")
	root.PersistentFlags().StringVar(&driver, "driver", "", "store driver: sqlite or postgres")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newScanCommand(&cfg),
		newShellbagsCommand(&cfg),
		newArtifactsCommand(&cfg),
		newCorrelateCommand(&cfg),
		newExportCommand(&cfg),
		newImportCommand(&cfg),
		newReportCommand(&cfg),
		newStatsCommand(&cfg),
		newClearCommand(&cfg),
		newVersionCommand(),
	)
	return root
}

// withApp opens the store, runs fn and closes the store again.
func withApp(cfg *config.Config, fn func(*App) error) error {
	app, err := NewApp(*cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newScanCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <folder>",
		Short: "Decode every supported artifact under a folder and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				n, err := app.ScanFolder(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Stored %d artifact records from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newShellbagsCommand(cfg *config.Config) *cobra.Command {
	var hives []string
	c := &cobra.Command{
		Use:   "shellbags --hive <file> [--hive <file>...]",
		Short: "Decode BagMRU folder history from registry hives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(hives) == 0 {
				return fmt.Errorf("at least one --hive is required")
			}
			return withApp(cfg, func(app *App) error {
				n, err := app.ParseShellbags(cmd.Context(), hives)
				if err != nil {
					return err
				}
				fmt.Printf("Stored %d shellbag records\n", n)
				return nil
			})
		},
	}
	c.Flags().StringArrayVar(&hives, "hive", nil, "registry hive file (repeatable)")
	return c
}

func newArtifactsCommand(cfg *config.Config) *cobra.Command {
	var (
		types []string
		name  string
		from  string
		to    string
		limit int
	)
	c := &cobra.Command{
		Use:   "artifacts",
		Short: "List stored artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				filter := query.Filter{Types: types, Name: name, From: from, To: to}
				recs, err := app.Artifacts(cmd.Context(), filter, limit)
				if err != nil {
					return err
				}
				printArtifacts(recs)
				return nil
			})
		},
	}
	c.Flags().StringArrayVar(&types, "type", nil, "restrict to an artifact type (repeatable)")
	c.Flags().StringVar(&name, "name", "", "substring match on the record name")
	c.Flags().StringVar(&from, "from", "", "earliest event time (ISO-8601 Z)")
	c.Flags().StringVar(&to, "to", "", "latest event time (ISO-8601 Z)")
	c.Flags().IntVar(&limit, "limit", 0, "maximum rows, 0 for all")
	return c
}

func newCorrelateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "correlate",
		Short: "Reconstruct sessions and flag anomalies from the stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				events := app.Correlate(cmd.Context())
				for _, ev := range events {
					line := ev.Timestamp + "  " + ev.Detail
					if ev.Anomaly != "" {
						line += "  " + ev.Anomaly
					}
					fmt.Println(line)
				}
				fmt.Printf("%d events\n", len(events))
				return nil
			})
		},
	}
}

func newExportCommand(cfg *config.Config) *cobra.Command {
	var (
		artifacts   bool
		correlation bool
		out         string
		format      string
	)
	c := &cobra.Command{
		Use:   "export --artifacts|--correlation --out <file>",
		Short: "Export stored artifacts or correlated events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifacts == correlation {
				return fmt.Errorf("exactly one of --artifacts or --correlation is required")
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if correlation && format != "csv" {
				return fmt.Errorf("correlation export only supports csv")
			}
			return withApp(cfg, func(app *App) error {
				var (
					n   int
					err error
				)
				if artifacts {
					n, err = app.ExportArtifacts(cmd.Context(), out, format)
				} else {
					n, err = app.ExportCorrelationCSV(cmd.Context(), out)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Wrote %d rows to %s\n", n, out)
				return nil
			})
		},
	}
	c.Flags().BoolVar(&artifacts, "artifacts", false, "export the artifact table")
	c.Flags().BoolVar(&correlation, "correlation", false, "export the correlated event stream")
	c.Flags().StringVar(&out, "out", "", "output file path")
	c.Flags().StringVar(&format, "format", "csv", "artifact export format: csv, tln or jsonl")
	return c
}

func newImportCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv>",
		Short: "Import artifact rows from a CSV export into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				n, err := app.ImportArtifactsCSV(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d artifact records from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newReportCommand(cfg *config.Config) *cobra.Command {
	var (
		out     string
		details report.CaseDetails
	)
	c := &cobra.Command{
		Use:   "report --out <csv>",
		Short: "Write the case report CSV: metadata, counts and all artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			return withApp(cfg, func(app *App) error {
				n, err := app.WriteReport(cmd.Context(), out, details)
				if err != nil {
					return err
				}
				fmt.Printf("Report with %d artifact rows written to %s\n", n, out)
				return nil
			})
		},
	}
	c.Flags().StringVar(&out, "out", "", "output CSV path")
	c.Flags().StringVar(&details.Examiner, "examiner", "", "examiner name, defaults to the OS user")
	c.Flags().StringVar(&details.CaseID, "case-id", "", "case identifier")
	c.Flags().StringVar(&details.EvidenceID, "evidence-id", "", "evidence identifier")
	c.Flags().StringVar(&details.Description, "description", "", "case description")
	c.Flags().StringVar(&details.Notes, "notes", "", "case notes")
	return c
}

func newStatsCommand(cfg *config.Config) *cobra.Command {
	var bins int
	c := &cobra.Command{
		Use:   "stats",
		Short: "Show per-type counts and the event-time histogram",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				st, err := app.Stats(cmd.Context(), bins)
				if err != nil {
					return err
				}
				printStats(st)
				return nil
			})
		},
	}
	c.Flags().IntVar(&bins, "bins", 24, "histogram bucket count")
	return c
}

func newClearCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored artifact record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(app *App) error {
				if err := app.ClearStore(); err != nil {
					return err
				}
				fmt.Println("Store cleared")
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wab v" + Version)
		},
	}
}

func printArtifacts(recs []*model.ArtifactRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT TIME\tTYPE\tNAME\tRUNS\tPATH")
	for _, rec := range recs {
		runs := ""
		if rec.RunCount != nil {
			runs = strconv.FormatInt(*rec.RunCount, 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.EventTime(), rec.ArtifactType, rec.Name, runs, rec.Path)
	}
	w.Flush()
	fmt.Printf("%d records\n", len(recs))
}

func printStats(st *StoreStats) {
	fmt.Printf("Store: %s\n", st.Path)

	names := make([]string, 0, len(st.Counts))
	var total int64
	for name, n := range st.Counts {
		names = append(names, name)
		total += n
	}
	sort.Slice(names, func(i, j int) bool {
		if st.Counts[names[i]] != st.Counts[names[j]] {
			return st.Counts[names[i]] > st.Counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Printf("  %-12s %d\n", name, st.Counts[name])
	}
	fmt.Printf("  %-12s %d\n", "total", total)

	if len(st.Timeline) > 0 {
		fmt.Println("Timeline:")
		for _, b := range st.Timeline {
			fmt.Printf("  %s %6d\n", timeutil.FormatISO(b.Start), b.Count)
		}
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/mailbox"
	"github.com/hpungsan/quotedesk/internal/mcp"
	"github.com/hpungsan/quotedesk/internal/ops"
	"github.com/hpungsan/quotedesk/internal/pipeline"
	"github.com/hpungsan/quotedesk/internal/runlock"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

// runLockKey is the Redis key guarding stage and confirm runs.
const runLockKey = "quotedesk:run"

// deps holds what commands need. Fields are nil when only help or version is requested.
type deps struct {
	db      *sql.DB
	cfg     *config.Config
	mail    *config.MailEnv
	baseDir string

	// stderr receives run banners; nil means os.Stderr
	stderr io.Writer
}

func (d *deps) errWriter() io.Writer {
	if d.stderr != nil {
		return d.stderr
	}
	return os.Stderr
}

// workbookPath resolves the workbook from the flag or config; relative config paths
// resolve against the base dir.
func (d *deps) workbookPath(flag string) string {
	if flag != "" {
		return flag
	}
	p := d.cfg.WorkbookPath
	if !filepath.IsAbs(p) && d.baseDir != "" {
		p = filepath.Join(d.baseDir, p)
	}
	return p
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d *deps) *cli.App {
	app := &cli.App{
		Name:    "quotedesk",
		Usage:   "Quote pricing inquiries from a valuation workbook and send approved replies",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "Debug logging"},
		},
		Commands: []*cli.Command{
			stageCmd(d),
			confirmCmd(d),
			dbCmd(d),
			listCmd(d),
			showCmd(d),
			reportCmd(d),
			mcpCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// stageCmd creates the stage command (Phase A).
func stageCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "stage",
		Usage: "Fetch inquiries, compute quotes on the workbook and stage them for approval",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "since", Usage: "Only messages sent after this date (YYYY-MM-DD) or duration ago (e.g. 36h); default today"},
			&cli.StringFlag{Name: "mbox", Usage: "Read inquiries from an mbox file instead of IMAP"},
			&cli.StringFlag{Name: "workbook", Aliases: []string{"w"}, Usage: "Valuation workbook (default from config)"},
		},
		Action: func(c *cli.Context) error {
			since, err := parseSince(c.String("since"), time.Now())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			log, err := newLogger(c.Bool("verbose"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer func() { _ = log.Sync() }()

			fetcher, err := d.fetcher(c.String("mbox"), log)
			if err != nil {
				return outputError(err)
			}

			var sum *pipeline.StageSummary
			err = d.withRun(c.Context, c.String("workbook"), log, func(rc *pipeline.RunContext) error {
				rc.Fetcher = fetcher
				var err error
				sum, err = pipeline.Stage(c.Context, rc, since)
				return err
			})
			if err != nil {
				return outputError(err)
			}

			w := d.errWriter()
			color.New(color.FgGreen).Fprintf(w, "staged %d, refreshed %d of %d fetched\n", sum.Staged, sum.Refreshed, sum.Fetched)
			if sum.Skipped > 0 {
				color.New(color.FgRed).Fprintf(w, "skipped %d (see %q)\n", sum.Skipped, d.cfg.Reports.Skipped)
			}
			if sum.Held > 0 {
				color.New(color.FgYellow).Fprintf(w, "held %d (see %q)\n", sum.Held, d.cfg.Reports.Hold)
			}
			return outputJSON(sum)
		},
	}
}

// confirmCmd creates the confirm command (Phase B).
func confirmCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "confirm",
		Usage: "Read approvals from the workbook and send the approved replies",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workbook", Aliases: []string{"w"}, Usage: "Valuation workbook (default from config)"},
			&cli.StringFlag{Name: "redirect-to", Usage: "Send every reply to this address instead of the sender"},
		},
		Action: func(c *cli.Context) error {
			if d.mail == nil || !d.mail.CanSend() {
				return outputError(errors.NewConfig("SMTP is not configured (set QUOTEDESK_SMTP_HOST and QUOTEDESK_SEND_USER)"))
			}
			if to := c.String("redirect-to"); to != "" {
				d.cfg.RedirectTo = to
			}

			log, err := newLogger(c.Bool("verbose"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer func() { _ = log.Sync() }()

			var sum *pipeline.ConfirmSummary
			err = d.withRun(c.Context, c.String("workbook"), log, func(rc *pipeline.RunContext) error {
				rc.Sender = &mailbox.SMTPSender{
					Host:     d.mail.SMTPHost,
					Port:     d.mail.SMTPPort,
					Username: d.mail.SendUser,
					Password: d.mail.SendPass,

					DialTimeout:    d.mail.SMTPDialTimeout,
					CommandTimeout: d.mail.SMTPCommandTimeout,
				}
				rc.From = d.mail.SendUser
				var err error
				sum, err = pipeline.ConfirmAndSend(c.Context, rc)
				return err
			})
			if err != nil {
				return outputError(err)
			}

			w := d.errWriter()
			color.New(color.FgGreen).Fprintf(w, "sent %d of %d approved; %d rejected\n", sum.Sent, sum.Approved, sum.Rejected)
			if len(sum.Failed) > 0 {
				color.New(color.FgRed).Fprintf(w, "%d replies not sent; they stay unprocessed for the next run\n", len(sum.Failed))
			}
			return outputJSON(sum)
		},
	}
}

// withRun takes the run lock, opens the workbook and runs fn with a fresh run context.
func (d *deps) withRun(ctx context.Context, workbookFlag string, log *zap.Logger, fn func(*pipeline.RunContext) error) error {
	redisURL := ""
	if d.mail != nil {
		redisURL = d.mail.RedisURL
	}
	lock, err := runlock.Open(ctx, redisURL, runLockKey)
	if err != nil {
		return errors.NewConfig(err.Error())
	}
	defer lock.Close()
	if err := lock.Lock(ctx); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	defer func() {
		if err := lock.Unlock(context.Background()); err != nil {
			log.Warn("release run lock", zap.Error(err))
		}
	}()

	wb, err := workbook.Open(d.workbookPath(workbookFlag))
	if err != nil {
		return errors.NewConfig(err.Error())
	}
	defer wb.Close()

	rc := pipeline.NewRunContext(d.cfg, d.db, log)
	rc.Workbook = wb
	return fn(rc)
}

// fetcher returns an mbox fetcher when path is set, otherwise the IMAP fetcher.
func (d *deps) fetcher(mboxPath string, log *zap.Logger) (pipeline.Fetcher, error) {
	if mboxPath != "" {
		return &mailbox.MboxFetcher{Path: mboxPath}, nil
	}
	if d.mail == nil || !d.mail.CanFetch() {
		return nil, errors.NewConfig("IMAP is not configured (set QUOTEDESK_IMAP_HOST and QUOTEDESK_FETCH_USER, or pass --mbox)")
	}
	return &mailbox.IMAPFetcher{
		Host:           d.mail.IMAPHost,
		Port:           d.mail.IMAPPort,
		Username:       d.mail.FetchUser,
		Password:       d.mail.FetchPass,
		Mailbox:        d.cfg.Mailbox,
		SubjectKeyword: d.cfg.SubjectKeyword,
		Logger:         log,
	}, nil
}

// dbCmd groups the administrative store commands.
func dbCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Administer the record store",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Create or migrate the schema",
				Action: func(c *cli.Context) error {
					output, err := ops.InitSchema(c.Context, d.db)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "drop",
				Usage: "Drop the schema and every record",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DropSchema(c.Context, d.db, ops.DropSchemaInput{Confirm: c.Bool("yes")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "purge",
				Usage: "Permanently delete records older than a given age",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Required: true, Usage: "Minimum age, e.g. 30d"},
					&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Only records in this state"},
				},
				Action: func(c *cli.Context) error {
					days, err := parseDuration(c.String("older-than"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					output, err := ops.Purge(c.Context, d.db, ops.PurgeInput{
						OlderThanDays: days,
						State:         c.String("state"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every record but keep the schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.Clear(c.Context, d.db, ops.ClearInput{Confirm: c.Bool("yes")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "reset",
				Usage:     "Move a record back to unprocessed",
				ArgsUsage: "<id|fingerprint>",
				Action: func(c *cli.Context) error {
					output, err := ops.Reset(c.Context, d.db, ops.ResetInput{Ref: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// listCmd creates the list command.
func listCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List records, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Filter by state: unprocessed|processed|manual"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Filter by category"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum records"},
			&cli.IntFlag{Name: "offset", Usage: "Records to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(d.db, ops.ListInput{
				State:    c.String("state"),
				Category: c.String("category"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			for i := range output.Items {
				output.Items[i].RenderedHTML = nil
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one record",
		ArgsUsage: "<id|fingerprint>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "html", Usage: "Include the rendered reply"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Show(d.db, ops.ShowInput{Ref: c.Args().First(), IncludeHTML: c.Bool("html")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Count records by state and list replies sent today",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "since", Usage: "Window start (YYYY-MM-DD or duration ago); default today"},
		},
		Action: func(c *cli.Context) error {
			since, err := parseSince(c.String("since"), time.Now())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			output, err := ops.Report(d.db, ops.ReportInput{Since: since})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// mcpCmd starts the MCP server explicitly.
func mcpCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve record tools over MCP on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(d.db, d.cfg, Version)
		},
	}
}

// Helper functions

// newLogger builds a production logger on stderr, or a development one when verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if qe, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", qe.Code, qe.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseSince accepts "", a local date or a duration before now. Empty means local midnight.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ops.StartOfDay(now), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	if days, err := parseDuration(s); err == nil {
		return now.AddDate(0, 0, -days), nil
	}
	return time.Time{}, fmt.Errorf("invalid since %q: want YYYY-MM-DD or a duration such as 36h or 2d", s)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

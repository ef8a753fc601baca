package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/capability"
	"github.com/Pkv562/UNITE/pkg/jurisdictions"
	"github.com/Pkv562/UNITE/pkg/models"
	"github.com/Pkv562/UNITE/pkg/requestsync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, apierrors.Message(err))
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(env("UNITE_LOG_LEVEL", "warn"))); err != nil {
		return slog.LevelWarn
	}
	return lvl
}

func run(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "requests":
		return runRequests(ctx, args[1:], out, logger)
	case "jurisdictions":
		return runJurisdictions(ctx, args[1:], out, logger)
	case "flags":
		return runFlags(ctx, args[1:], out, logger)
	case "watch":
		return runWatch(ctx, args[1:], out, logger)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "unitectl commands:")
	fmt.Fprintln(out, "  unitectl requests list [--status pending-review] [--province P] [--district D] [--category Training] [--page 1] [--limit 20] [--json]")
	fmt.Fprintln(out, "  unitectl requests get <id>")
	fmt.Fprintln(out, "  unitectl requests reviewers <id>")
	fmt.Fprintln(out, "  unitectl requests actions <id> [--user U] [--grants request.review,request.update]")
	fmt.Fprintln(out, "  unitectl requests act <id> <action> [--note N] [--date 2026-11-02T09:00:00Z]")
	fmt.Fprintln(out, "  unitectl requests create --file payload.json")
	fmt.Fprintln(out, "  unitectl requests delete <id>")
	fmt.Fprintln(out, "  unitectl jurisdictions list")
	fmt.Fprintln(out, "  unitectl jurisdictions validate [--province P] [--district D] [--municipality M] [--coverage C] [--org O]")
	fmt.Fprintln(out, "  unitectl flags")
	fmt.Fprintln(out, "  unitectl watch [--ws ws://host/ws/events] [--kafka broker:9092] [--metrics-addr :9464] [--status S]")
	fmt.Fprintln(out, "every command accepts --flag name=bool, --user, --grants and --env-file")
}

func runRequests(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("requests subcommand required")
	}
	switch args[0] {
	case "list":
		return requestsList(ctx, args[1:], out, logger)
	case "get":
		return requestsGet(ctx, args[1:], out, logger)
	case "reviewers":
		return requestsReviewers(ctx, args[1:], out, logger)
	case "actions":
		return requestsActions(ctx, args[1:], out, logger)
	case "act":
		return requestsAct(ctx, args[1:], out, logger)
	case "create":
		return requestsCreate(ctx, args[1:], out, logger)
	case "delete":
		return requestsDelete(ctx, args[1:], out, logger)
	default:
		return fmt.Errorf("unknown requests subcommand: %s", args[0])
	}
}

type filterFlags struct {
	status, org, coverage, municipality, district, province, category *string
	page, limit                                                        *int
}

func addFilters(fs *flag.FlagSet) *filterFlags {
	return &filterFlags{
		status:       fs.String("status", "", "status filter"),
		org:          fs.String("org", "", "organization id"),
		coverage:     fs.String("coverage", "", "coverage area id"),
		municipality: fs.String("municipality", "", "municipality id"),
		district:     fs.String("district", "", "district"),
		province:     fs.String("province", "", "province"),
		category:     fs.String("category", "", "Training, BloodDrive or Advocacy"),
		page:         fs.Int("page", 0, "page number"),
		limit:        fs.Int("limit", 0, "page size"),
	}
}

func (f *filterFlags) filters() models.Filters {
	return models.Filters{
		Status:         strings.TrimSpace(*f.status),
		OrganizationID: strings.TrimSpace(*f.org),
		CoverageAreaID: strings.TrimSpace(*f.coverage),
		MunicipalityID: strings.TrimSpace(*f.municipality),
		District:       strings.TrimSpace(*f.district),
		Province:       strings.TrimSpace(*f.province),
		Category:       strings.TrimSpace(*f.category),
		Page:           *f.page,
		Limit:          *f.limit,
	}
}

func requestsList(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("requests list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	ff := addFilters(fs)
	asJSON := fs.Bool("json", false, "print the raw result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	list := requestsync.NewList(a.deps(), ff.filters(), requestsync.Options{EnableCache: true})
	list.Mount(ctx)
	list.Wait()
	defer list.Unmount()
	st := list.State()
	if st.Phase == requestsync.PhaseError {
		return st.Cause
	}
	if *asJSON {
		return writeJSON(out, st.Data)
	}
	viewer := c.viewer()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tTITLE\tACTIONS")
	for _, req := range st.Data.Items {
		res := capability.Resolve(viewer, req)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", req.ID, req.Status, req.Category, req.Title, strings.Join(res.Actions, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if p := st.Data.Pagination; p != nil {
		fmt.Fprintf(out, "page %d of %d (%d total)\n", p.Page, p.TotalPages, p.TotalCount)
	}
	if st.FromCache {
		fmt.Fprintln(out, "(cached)")
	}
	return nil
}

func requireID(args []string, usage string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") || strings.TrimSpace(args[0]) == "" {
		return "", nil, errors.New(usage)
	}
	return strings.TrimSpace(args[0]), args[1:], nil
}

func loadDetail(ctx context.Context, a *app, id string) (*models.EventRequest, error) {
	d := requestsync.NewDetail(a.deps(), id, requestsync.Options{EnableCache: true})
	d.Mount(ctx)
	d.Wait()
	defer d.Unmount()
	st := d.State()
	if st.Phase == requestsync.PhaseError {
		return nil, st.Cause
	}
	return st.Data, nil
}

func requestsGet(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	id, rest, err := requireID(args, "usage: unitectl requests get <id>")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("requests get", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	req, err := loadDetail(ctx, a, id)
	if err != nil {
		return err
	}
	return writeJSON(out, req)
}

func requestsReviewers(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	id, rest, err := requireID(args, "usage: unitectl requests reviewers <id>")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("requests reviewers", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	reviewers, err := a.source.Current().ListValidReviewers(ctx, id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tNAME\tROLE\tJURISDICTION")
	for _, r := range reviewers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.UserID, r.Name, r.Role, joinNonEmpty(" / ", r.Province, r.District, r.Municipality))
	}
	return tw.Flush()
}

func requestsActions(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	id, rest, err := requireID(args, "usage: unitectl requests actions <id> [--user U] [--grants G]")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("requests actions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	req, err := loadDetail(ctx, a, id)
	if err != nil {
		return err
	}
	viewer := c.viewer()
	res := capability.Resolve(viewer, *req)
	return writeJSON(out, map[string]any{
		"id":        req.ID,
		"status":    req.Status,
		"actions":   res.Actions,
		"source":    res.Source,
		"canDelete": capability.CanDelete(viewer.Grants, req.Status),
	})
}

func requestsAct(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	const usageAct = "usage: unitectl requests act <id> <action> [--note N] [--date RFC3339]"
	id, rest, err := requireID(args, usageAct)
	if err != nil {
		return err
	}
	if len(rest) == 0 || strings.HasPrefix(rest[0], "-") {
		return errors.New(usageAct)
	}
	action := strings.TrimSpace(rest[0])
	fs := flag.NewFlagSet("requests act", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	note := fs.String("note", "", "note sent with the action")
	date := fs.String("date", "", "proposed date for reschedule (RFC3339 or YYYY-MM-DD)")
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}
	opts := requestsync.ActionOptions{Note: strings.TrimSpace(*note)}
	if strings.TrimSpace(*date) != "" {
		when, err := parseDate(*date)
		if err != nil {
			return err
		}
		opts.ProposedDate = &when
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	updated, err := a.actions.Execute(ctx, id, action, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s: status %s\n", action, id, updated.Status)
	return nil
}

func requestsCreate(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("requests create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	file := fs.String("file", "", "JSON creation payload (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("usage: unitectl requests create --file payload.json")
	}
	raw, err := readInput(*file)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	created, err := a.source.Current().CreateRequest(ctx, payload)
	if err != nil {
		return err
	}
	return writeJSON(out, created)
}

func requestsDelete(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	id, rest, err := requireID(args, "usage: unitectl requests delete <id>")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("requests delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	res, err := a.actions.Delete(ctx, id)
	if err != nil {
		return err
	}
	msg := res.Message
	if msg == "" {
		msg = "deleted " + id
	}
	fmt.Fprintln(out, msg)
	return nil
}

func runJurisdictions(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("jurisdictions subcommand required")
	}
	fs := flag.NewFlagSet("jurisdictions "+args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	switch args[0] {
	case "list":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		a, err := c.open(ctx, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		items, err := a.jurisdictions().List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tPARENT")
		for _, j := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Type, j.Name, j.ParentID)
		}
		return tw.Flush()
	case "validate":
		province := fs.String("province", "", "province")
		district := fs.String("district", "", "district")
		municipality := fs.String("municipality", "", "municipality id")
		coverage := fs.String("coverage", "", "coverage area id")
		org := fs.String("org", "", "organization id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		a, err := c.open(ctx, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.jurisdictions().Validate(ctx, jurisdictions.ValidateInput{
			Province:       *province,
			District:       *district,
			MunicipalityID: *municipality,
			CoverageAreaID: *coverage,
			OrganizationID: *org,
		})
		if err != nil {
			return err
		}
		return writeJSON(out, res)
	default:
		return fmt.Errorf("unknown jurisdictions subcommand: %s", args[0])
	}
}

func runFlags(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("flags", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c := addCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLAG\tENABLED\tSOURCE")
	for _, st := range a.flags.Snapshot() {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", st.Flag, st.Enabled, st.Source)
	}
	return tw.Flush()
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use RFC3339 or YYYY-MM-DD", raw)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func env(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

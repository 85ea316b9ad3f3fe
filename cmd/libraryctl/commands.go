package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/library-engine/library"
)

// =============================================================================
// READ-ONLY CHECKS
// =============================================================================

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Report orphaned and dangling references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := a.svc.Checker().Scan(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.emit(rep, func(w io.Writer) { printReport(w, rep) }); err != nil {
				return err
			}
			if !rep.Clean() {
				return errProblems
			}
			return nil
		},
	}
}

func newConsistencyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-consistency",
		Short: "Check book counters, loan dates, reservation queues and fine dates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues, err := a.svc.CheckConsistency(cmd.Context())
			if err != nil {
				return err
			}
			if issues == nil {
				issues = []library.Issue{}
			}
			if err := a.emit(issues, func(w io.Writer) { printIssues(w, issues) }); err != nil {
				return err
			}
			if len(issues) > 0 {
				return errProblems
			}
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-integrity",
		Short: "Reference scan plus consistency checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			err = a.emit(v, func(w io.Writer) {
				printReport(w, v.Integrity)
				printIssues(w, v.Issues)
				fmt.Fprintf(w, "\nResult: %s\n", verdict(v.OK))
			})
			if err != nil {
				return err
			}
			if !v.OK {
				return errProblems
			}
			return nil
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health-report",
		Short: "Scored data-quality summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.svc.HealthReport(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.emit(h, func(w io.Writer) { printHealth(w, h) }); err != nil {
				return err
			}
			if h.Status != library.HealthHealthy {
				return errProblems
			}
			return nil
		},
	}
}

// fullCheck is the JSON shape of full-check.
type fullCheck struct {
	Validation library.ValidationReport `json:"validation"`
	Health     library.HealthReport     `json:"health"`
	OK         bool                     `json:"ok"`
}

func newFullCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "full-check",
		Short: "Run every read-only check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			h, err := a.svc.HealthReport(cmd.Context())
			if err != nil {
				return err
			}
			res := fullCheck{Validation: v, Health: h, OK: v.OK && h.Status == library.HealthHealthy}
			err = a.emit(res, func(w io.Writer) {
				printReport(w, v.Integrity)
				printIssues(w, v.Issues)
				printHealth(w, h)
				fmt.Fprintf(w, "\nResult: %s\n", verdict(res.OK))
			})
			if err != nil {
				return err
			}
			if !res.OK {
				return errProblems
			}
			return nil
		},
	}
}

// =============================================================================
// WRITES
// =============================================================================

func newCleanupCmd(a *app) *cobra.Command {
	var execute, yes bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete orphaned records, then reconcile book counters",
		Long: "Without --execute this only reports what would be deleted.\n" +
			"Audit log entries are never deleted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if execute && !yes {
				rep, err := a.svc.Checker().Scan(ctx)
				if err != nil {
					return err
				}
				n := len(rep.Deletable())
				if n == 0 {
					execute = false
				} else if err := a.confirm(fmt.Sprintf("This will permanently delete %d records.", n)); err != nil {
					return err
				}
			}
			res, err := a.svc.Cleanup(ctx, library.CleanupOptions{Execute: execute})
			if err != nil {
				return err
			}
			if err := a.emit(res, func(w io.Writer) { printCleanup(w, res) }); err != nil {
				return err
			}
			switch {
			case len(res.Failures) > 0:
				return errProblems
			case res.DryRun && len(res.Report.Deletable()) > 0:
				return errProblems
			case res.Reconcile != nil && len(res.Reconcile.Unresolvable) > 0:
				return errProblems
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "actually delete (default is a dry run)")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recount checked-out copies from loans and holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.svc.Reconcile(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if err := a.emit(res, func(w io.Writer) { printReconcile(w, res) }); err != nil {
				return err
			}
			if len(res.Unresolvable) > 0 || len(res.Failures) > 0 || (dryRun && (len(res.Corrections) > 0 || len(res.Queues) > 0)) {
				return errProblems
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report corrections without writing them")
	return cmd
}

func newReseedCmd(a *app) *cobra.Command {
	var (
		dryRun, commit, yes bool
		opts                library.ReseedOptions
	)
	cmd := &cobra.Command{
		Use:   "reseed",
		Short: "Replace ALL data with a generated, consistent data set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun == commit {
				return errors.New("exactly one of --dry-run or --commit is required")
			}
			if commit && !yes {
				if err := a.confirm("This will delete every record, including the audit log and user accounts."); err != nil {
					return err
				}
			}
			opts.Commit = commit
			res, err := a.svc.Reseed(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := a.emit(res, func(w io.Writer) { printReseed(w, res) }); err != nil {
				return err
			}
			if res.Integrity != nil && !res.Integrity.Clean() {
				return errProblems
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "show what would be cleared and seeded")
	f.BoolVar(&commit, "commit", false, "clear and reseed")
	f.BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	f.IntVar(&opts.Students, "students", 50, "students to generate")
	f.IntVar(&opts.Books, "books", 30, "books to generate")
	f.Int64Var(&opts.Seed, "seed", 42, "random seed")
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}
	var name, email, role, password string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a staff account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				var err error
				if password, err = a.readPassword("Password: "); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			u, err := a.svc.CreateUser(cmd.Context(), name, email, password, library.Role(strings.ToUpper(role)))
			if err != nil {
				return err
			}
			return a.emit(u, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s %s <%s> (%s)\n", u.Role, u.Name, u.Email, u.ID)
			})
		},
	}
	f := add.Flags()
	f.StringVar(&name, "name", "", "display name")
	f.StringVar(&email, "email", "", "login email")
	f.StringVar(&role, "role", string(library.RoleLibrarian), "ADMIN, LIBRARIAN, STUDENT or AUDITOR")
	f.StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("name")
	user.AddCommand(add)
	return user
}

// =============================================================================
// TEXT OUTPUT
// =============================================================================

func verdict(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func printReport(w io.Writer, rep library.IntegrityReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSCANNED\tORPHANS\tDANGLING")
	for _, k := range library.ScannedKinds {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", k, rep.Scanned[k], len(rep.Orphans[k]), len(rep.Dangling[k]))
	}
	tw.Flush()

	for _, k := range library.ScannedKinds {
		for _, f := range rep.Orphans[k] {
			fmt.Fprintf(w, "  orphan   %s %s: %s\n", f.Kind, f.ID, f.Reason)
		}
		for _, f := range rep.Dangling[k] {
			fmt.Fprintf(w, "  dangling %s %s: %s\n", f.Kind, f.ID, f.Reason)
		}
	}
	for _, f := range rep.Retained {
		fmt.Fprintf(w, "  retained %s %s: %s\n", f.Kind, f.ID, f.Reason)
	}
}

func printIssues(w io.Writer, issues []library.Issue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, "No consistency issues.")
		return
	}
	fmt.Fprintf(w, "%d consistency issues:\n", len(issues))
	for _, is := range issues {
		fmt.Fprintf(w, "  %s %s: %s\n", is.Kind, is.ID, is.Problem)
	}
}

func printHealth(w io.Writer, h library.HealthReport) {
	fmt.Fprintf(w, "Health: %s (score %.1f)\n", strings.ToUpper(h.Status), h.Score)
	fmt.Fprintf(w, "  records %d, orphans %d, dangling %d, retained %d, issues %d\n",
		h.TotalRecords, h.Orphans, h.Dangling, h.Retained, h.Issues)
	kinds := make([]string, 0, len(h.Counts))
	for k := range h.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-20s %d\n", k, h.Counts[library.EntityKind(k)])
	}
}

func printCleanup(w io.Writer, res library.CleanupResult) {
	printReport(w, res.Report)
	if res.DryRun {
		fmt.Fprintf(w, "\nDry run: %d records would be deleted. Re-run with --execute to delete.\n", len(res.Report.Deletable()))
	} else {
		fmt.Fprintf(w, "\nDeleted %d records (%d already gone).\n", res.DeletedCount(), res.AlreadyGone)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  FAILED   %s %s: %s\n", f.Kind, f.ID, f.Error)
	}
	if res.Reconcile != nil {
		printReconcile(w, *res.Reconcile)
	}
}

func printReconcile(w io.Writer, res library.ReconcileResult) {
	mode := "Applied"
	if res.DryRun {
		mode = "Would apply"
	}
	fmt.Fprintf(w, "Reconcile: %d books checked. %s %d corrections.\n", res.Checked, mode, len(res.Corrections))
	for _, c := range res.Corrections {
		fmt.Fprintf(w, "  %s %q: checked out %d -> %d of %d\n", c.BookID, c.Title, c.Before, c.After, c.Total)
	}
	for _, q := range res.Queues {
		fmt.Fprintf(w, "  %s queue: positions %v -> %v\n", q.BookID, q.Before, q.After)
	}
	for _, c := range res.Unresolvable {
		fmt.Fprintf(w, "  UNRESOLVABLE %s %q: %s\n", c.BookID, c.Title, c.Reason)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  FAILED %s %s: %s\n", f.Kind, f.ID, f.Error)
	}
}

func printReseed(w io.Writer, res library.ReseedResult) {
	if res.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was changed.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCLEARED\tSEEDED")
	for _, k := range library.AllKinds {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", k, res.Cleared[k], res.Seeded[k])
	}
	tw.Flush()
	if res.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d generated records that would have broken a rule.\n", res.Skipped)
	}
	if res.Integrity != nil {
		fmt.Fprintf(w, "Post-seed integrity: %s\n", verdict(res.Integrity.Clean()))
	}
}

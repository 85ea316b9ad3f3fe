package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/warp/library-engine/config"
	"github.com/warp/library-engine/library"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exit codes.
const (
	exitOK       = 0
	exitProblems = 1
	exitError    = 2
)

// errProblems marks a run that worked but found something wrong.
var errProblems = errors.New("problems found")

type app struct {
	in  io.Reader
	out io.Writer
	err io.Writer

	cfg     config.Config
	driver  string
	dsn     string
	json    bool
	verbose bool

	svc   *library.Service
	close func() error
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string, in io.Reader, out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitError
	}
	a := &app{in: in, out: out, err: errOut, cfg: cfg}
	defer a.shutdown()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err = root.ExecuteContext(context.Background())
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errProblems):
		return exitProblems
	default:
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitError
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Maintenance tooling for the library engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.driver, "driver", a.cfg.DBDriver, "storage driver: sqlite, postgres or memory")
	pf.StringVar(&a.dsn, "dsn", a.cfg.DatabaseURL, "data source name")
	pf.BoolVar(&a.json, "json", false, "print JSON instead of text")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log every step")

	root.AddCommand(
		newScanCmd(a),
		newCleanupCmd(a),
		newReconcileCmd(a),
		newReseedCmd(a),
		newValidateCmd(a),
		newConsistencyCmd(a),
		newHealthCmd(a),
		newFullCheckCmd(a),
		newUserCmd(a),
	)
	return root
}

// open connects to the store and builds the service. Logs go to stderr so
// stdout stays parseable with --json.
func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(a.err, &slog.HandlerOptions{Level: level}))

	st, closeFn, err := config.OpenStore(ctx, a.driver, a.dsn)
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.driver, err)
	}
	a.close = closeFn
	a.svc = a.cfg.NewService(st, log)
	return nil
}

func (a *app) shutdown() {
	if a.close == nil {
		return
	}
	if err := a.close(); err != nil {
		fmt.Fprintf(a.err, "Warning: close store: %v\n", err)
	}
}

// emit prints v as JSON, or runs text to print it for humans.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

// confirm asks the operator to type YES. A non-interactive stdin is never
// taken as consent.
func (a *app) confirm(prompt string) error {
	if f, ok := a.in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return errors.New("refusing to continue without --yes: stdin is not a terminal")
	}
	fmt.Fprintf(a.err, "%s Type YES to continue: ", prompt)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "YES" {
		return errors.New("aborted")
	}
	return nil
}

// readPassword reads a password without echo when stdin is a terminal.
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.err, prompt)
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.err)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jacoelho/sqlxml"
	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/config"
	"github.com/jacoelho/sqlxml/internal/xmltree"
)

func main() {
	os.Exit(run())
}

func run() int {
	return runWithArgs(os.Args[1:], os.Stdout, os.Stderr)
}

type options struct {
	configPath     string
	encoding       string
	wrapElement    string
	prescanLimit   string
	typeName       string
	mode           string
	adoptAs        string
	logLevel       string
	cpuProfilePath string
	memProfilePath string
	json           bool
	strict         bool
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "xmlfix [OPTIONS] <file>",
		Short: "Correct the declaration of a stored XML value and show what a reader would see.",
		Long: `Loads a file as a value handed over by the database host and runs it
through the declaration correction used on reads and writes.

Modes:
  read   print the corrected bytes
  tree   print an outline of the parsed content, without any synthetic root
  write  store the bytes as a new value and print what the host would adopt
  adopt  hand the value back to the host as --adopt-as, verifying if the type differs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{errors.New("exactly one file argument is required")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, args[0], stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	installFlags(cmd.Flags(), &opts)
	return cmd
}

func installFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.encoding, "encoding", "", "server encoding (default UTF-8)")
	flags.StringVar(&opts.wrapElement, "wrap-element", "", "name of the synthetic root element")
	flags.StringVar(&opts.prescanLimit, "prescan-limit", "", "content form look-ahead, e.g. 4KiB")
	flags.StringVar(&opts.typeName, "type", "xml", "declared type of the value: xml, text or bytea")
	flags.StringVar(&opts.mode, "mode", "read", "read, tree, write or adopt")
	flags.StringVar(&opts.adoptAs, "adopt-as", "", "type the host expects in adopt mode (default --type)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.json, "json", false, "print a JSON report instead of the content")
	flags.BoolVar(&opts.strict, "strict", false, "require an encoding declaration on writes when the server encoding is not UTF-8")
	flags.StringVar(&opts.cpuProfilePath, "cpuprofile", "", "write CPU profile to file")
	flags.StringVar(&opts.memProfilePath, "memprofile", "", "write memory profile to file")
}

func runWithArgs(args []string, stdout, stderr io.Writer) int {
	log.L.Logger.SetOutput(stderr)
	log.L.Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	cmd := newCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	if writeErr := writef(stderr, "error: %v\n", err); writeErr != nil {
		return 1
	}
	var uerr usageError
	if errors.As(err, &uerr) {
		if writeErr := writeln(stderr, cmd.UsageString()); writeErr != nil {
			return 1
		}
		return 2
	}
	return 1
}

func (o options) runtimeOptions() (sqlxml.Options, string, error) {
	var file config.File
	if o.configPath != "" {
		var err error
		if file, err = config.Load(o.configPath); err != nil {
			return sqlxml.Options{}, "", err
		}
	}
	cli := sqlxml.NewOptions()
	if o.encoding != "" {
		cli = cli.WithServerEncoding(o.encoding)
	}
	if o.wrapElement != "" {
		cli = cli.WithWrapElement(o.wrapElement)
	}
	if o.prescanLimit != "" {
		n, err := units.RAMInBytes(o.prescanLimit)
		if err != nil {
			return sqlxml.Options{}, "", usageError{fmt.Errorf("--prescan-limit: %w", err)}
		}
		cli = cli.WithPrescanLimit(int(n))
	}
	if o.strict {
		cli = cli.WithStrictWrite(true)
	}
	level := file.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	return sqlxml.JoinOptions(file.Options(), cli), level, nil
}

func parseTag(name string) (sqlxml.TypeTag, error) {
	switch strings.ToLower(name) {
	case "xml":
		return sqlxml.TagXML, nil
	case "text":
		return sqlxml.TagText, nil
	case "bytea":
		return sqlxml.TagBytea, nil
	default:
		return 0, usageError{fmt.Errorf("unknown type %q", name)}
	}
}

// report is the --json output.
type report struct {
	File             string `json:"file"`
	Mode             string `json:"mode"`
	Type             string `json:"type"`
	ServerEncoding   string `json:"server_encoding"`
	DeclaredEncoding string `json:"declared_encoding,omitempty"`
	InputSize        string `json:"input_size"`
	OutputSize       string `json:"output_size,omitempty"`
	Code             string `json:"code,omitempty"`
	Error            string `json:"error,omitempty"`
	Declared         bool   `json:"declared"`
	Wrapped          bool   `json:"wrapped"`
}

func execute(o options, path string, stdout, stderr io.Writer) error {
	rtOpts, level, err := o.runtimeOptions()
	if err != nil {
		return err
	}
	if level != "" {
		if err := log.SetLevel(level); err != nil {
			return usageError{fmt.Errorf("--log-level: %w", err)}
		}
	}
	tag, err := parseTag(o.typeName)
	if err != nil {
		return err
	}
	switch o.mode {
	case "read", "tree", "write", "adopt":
	default:
		return usageError{fmt.Errorf("unknown mode %q", o.mode)}
	}
	adoptAs := tag
	if o.adoptAs != "" {
		if adoptAs, err = parseTag(o.adoptAs); err != nil {
			return err
		}
	}

	if o.cpuProfilePath != "" {
		stopCPUProfile, err := startCPUProfile(o.cpuProfilePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := stopCPUProfile(); err != nil {
				_ = writef(stderr, "error stopping CPU profile: %v\n", err)
			}
		}()
	}
	if o.memProfilePath != "" {
		defer func() {
			if err := writeMemProfile(o.memProfilePath); err != nil {
				_ = writef(stderr, "error writing memory profile: %v\n", err)
			}
		}()
	}

	rt, err := sqlxml.New(rtOpts)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	log.L.WithFields(log.Fields{
		"file":     path,
		"mode":     o.mode,
		"type":     tag,
		"encoding": rt.ServerEncoding(),
	}).Debug("processing value")

	rep := report{
		File:           path,
		Mode:           o.mode,
		Type:           tag.String(),
		ServerEncoding: rt.ServerEncoding(),
		InputSize:      units.HumanSize(float64(len(data))),
	}
	var out strings.Builder
	region := sqlxml.NewRegion(data, nil)
	switch o.mode {
	case "read":
		err = readBytes(rt.NewReadable(region, tag), &out, &rep)
	case "tree":
		err = readTree(rt.NewReadable(region, tag), &out, &rep)
	case "write":
		err = writeValue(rt.NewWritable(tag), data, &out)
	case "adopt":
		err = adoptValue(rt.NewReadable(region, tag), adoptAs, &out)
	}

	if !o.json {
		if err != nil {
			return err
		}
		return writef(stdout, "%s", out.String())
	}
	if err != nil {
		rep.Error = err.Error()
		if code, ok := xmlerrors.CodeOf(err); ok {
			rep.Code = string(code)
		}
	} else {
		rep.OutputSize = units.HumanSize(float64(out.Len()))
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		return encErr
	}
	return err
}

func readBytes(r *sqlxml.Readable, out io.Writer, rep *report) error {
	defer r.Free()
	s, err := r.Bytes()
	if err != nil {
		return err
	}
	defer s.Close()
	decl := s.Declaration()
	rep.Declared, rep.DeclaredEncoding = decl.Present, decl.Encoding
	_, err = io.Copy(out, s)
	return err
}

func readTree(r *sqlxml.Readable, out io.Writer, rep *report) error {
	defer r.Free()
	tokens, err := r.TokenReader()
	if err != nil {
		return err
	}
	defer tokens.Close()
	decl := tokens.Declaration()
	rep.Declared, rep.DeclaredEncoding = decl.Present, decl.Encoding
	rep.Wrapped = tokens.Wrapped()
	doc, err := tokens.Tree()
	if err != nil {
		return err
	}
	return xmltree.Outline(out, doc)
}

func writeValue(w *sqlxml.Writable, data []byte, out io.Writer) error {
	if err := w.SetBytes(data); err != nil {
		w.Free()
		return err
	}
	region, err := w.Adopt()
	if err != nil {
		return err
	}
	_, err = io.Copy(out, region.View())
	return err
}

func adoptValue(r *sqlxml.Readable, expected sqlxml.TypeTag, out io.Writer) error {
	region, err := r.Adopt(expected)
	if err != nil {
		return err
	}
	return writef(out, "adopted %s as %s (%s)\n", r.Tag(), expected, units.HumanSize(float64(region.Len())))
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func startCPUProfile(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return nil, fmt.Errorf("start cpu profile %s: %w (close failed: %w)", path, err, closeErr)
		}
		return nil, fmt.Errorf("start cpu profile %s: %w", path, err)
	}
	return func() error {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			return fmt.Errorf("close cpu profile %s: %w", path, err)
		}
		return nil
	}, nil
}

func writeMemProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mem profile %s: %w", path, err)
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return fmt.Errorf("write mem profile %s: %w (close failed: %w)", path, err, closeErr)
		}
		return fmt.Errorf("write mem profile %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close mem profile %s: %w", path, err)
	}
	return nil
}

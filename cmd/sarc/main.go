// sarc converts, inspects and stores structured archives.
//
//	sarc convert [--from FORMAT] --to FORMAT IN OUT
//	sarc dump [--value] [--snapshot ENCODING] FILE
//	sarc put --db PATH [--compress] NAME FILE
//	sarc get --db PATH NAME [OUT]
//	sarc ls --db PATH [PREFIX]
//
// Formats are binary, tagged and text. Only tagged and text archives carry
// enough type information to be converted or dumped.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/andreyvit/starchive"
	"github.com/andreyvit/starchive/mmap"
	"github.com/andreyvit/starchive/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "sarc: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name  string
	usage string
	run   func(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error
	flags func(fs *pflag.FlagSet)
}

var (
	fromFormat  string
	toFormat    string
	dbPath      string
	compress    bool
	printValue  bool
	snapshotEnc string
)

func resetFlags() {
	fromFormat, toFormat, dbPath, snapshotEnc = "", "", "", ""
	compress, printValue = false, false
}

var commands = []*command{
	{
		name:  "convert",
		usage: "convert [--from FORMAT] --to FORMAT IN OUT",
		run:   runConvert,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&fromFormat, "from", "", "input format (default: detect)")
			fs.StringVar(&toFormat, "to", "text", "output format: binary, tagged or text")
		},
	},
	{
		name:  "dump",
		usage: "dump [--value] [--snapshot ENCODING] FILE",
		run:   runDump,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&fromFormat, "from", "", "input format (default: detect)")
			fs.BoolVar(&printValue, "value", false, "print the decoded value tree instead of text")
			fs.StringVar(&snapshotEnc, "snapshot", "", "write a msgpack, cbor or json snapshot of the value tree")
		},
	},
	{
		name:  "put",
		usage: "put --db PATH [--compress] NAME FILE",
		run:   runPut,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&dbPath, "db", "", "path to the archive store")
			fs.BoolVar(&compress, "compress", false, "compress the stored archive with zstd")
		},
	},
	{
		name:  "get",
		usage: "get --db PATH NAME [OUT]",
		run:   runGet,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&dbPath, "db", "", "path to the archive store")
		},
	},
	{
		name:  "ls",
		usage: "ls --db PATH [PREFIX]",
		run:   runList,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&dbPath, "db", "", "path to the archive store")
		},
	},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	for _, c := range commands {
		fmt.Fprintf(w, "  sarc %s\n", c.usage)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(stderr)
		return pflag.ErrHelp
	}
	var cmd *command
	for _, c := range commands {
		if c.name == args[0] {
			cmd = c
		}
	}
	if cmd == nil {
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	resetFlags()
	var verbose bool
	fs := pflag.NewFlagSet("sarc "+cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	cmd.flags(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: sarc %s\n", cmd.usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return cmd.run(fs, fs.Args(), stdout, logger)
}

func wantArgs(fs *pflag.FlagSet, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		fs.Usage()
		return fmt.Errorf("wrong number of arguments")
	}
	return nil
}

func archiveOptions(logger *slog.Logger) starchive.Options {
	return starchive.Options{Logger: logger, Verbose: logger.Enabled(context.Background(), slog.LevelDebug)}
}

// openArchiveFile maps an archive file into memory. The data is valid until
// the returned file is closed; every reader copies what it keeps.
func openArchiveFile(path string) (starchive.Format, *mmap.File, error) {
	var f starchive.Format
	if fromFormat != "" {
		var err error
		if f, err = starchive.ParseFormat(fromFormat); err != nil {
			return 0, nil, err
		}
	}
	mf, err := mmap.Open(path, mmap.RandomAccess)
	if err != nil {
		return 0, nil, err
	}
	if fromFormat == "" {
		f = starchive.DetectFormat(mf.Data)
	}
	return f, mf, nil
}

// detach copies the data an archive error refers to out of a mapping that
// is about to be closed.
func detach(err error) error {
	var de *starchive.DataError
	if errors.As(err, &de) {
		de.Data = bytes.Clone(de.Data)
	}
	return err
}

// convert re-encodes data through the annotated copy.
func convert(from starchive.Format, data []byte, to starchive.Format, opt starchive.Options) ([]byte, error) {
	if !from.IsAnnotated() {
		return nil, fmt.Errorf("%v archives carry no type information and cannot be converted", from)
	}
	r, err := starchive.NewReader(from, data)
	if err != nil {
		return nil, err
	}
	w := starchive.NewWriter(to)
	src := starchive.New(r, opt)
	dst := starchive.New(w, opt)
	if err := starchive.Copy(dst.Open(), src.Open()); err != nil {
		return nil, err
	}
	if err := src.Close(); err != nil {
		return nil, err
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}
	return w.Data(), nil
}

func runConvert(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(fs, args, 2, 2); err != nil {
		return err
	}
	to, err := starchive.ParseFormat(toFormat)
	if err != nil {
		return err
	}
	from, mf, err := openArchiveFile(args[0])
	if err != nil {
		return err
	}
	defer mf.Close()
	out, err := convert(from, mf.Data, to, archiveOptions(logger))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], detach(err))
	}
	logger.Debug("converted", "from", from, "to", to, "in", len(mf.Data), "out", len(out))
	return os.WriteFile(args[1], out, 0666)
}

func runDump(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(fs, args, 1, 1); err != nil {
		return err
	}
	from, mf, err := openArchiveFile(args[0])
	if err != nil {
		return err
	}
	defer mf.Close()
	data := mf.Data
	opt := archiveOptions(logger)

	if !printValue && snapshotEnc == "" {
		out, err := convert(from, data, starchive.FormatText, opt)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], detach(err))
		}
		_, err = stdout.Write(out)
		return err
	}

	if !from.IsAnnotated() {
		return fmt.Errorf("%s: %v archives carry no type information", args[0], from)
	}
	r, err := starchive.NewReader(from, data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], detach(err))
	}
	ar := starchive.New(r, opt)
	v, err := starchive.ReadValue(ar.Open())
	if err == nil {
		err = ar.Close()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], detach(err))
	}
	if printValue {
		_, err = fmt.Fprintln(stdout, v.String())
		return err
	}
	enc, err := starchive.ParseSnapshotEncoding(snapshotEnc)
	if err != nil {
		return err
	}
	_, err = stdout.Write(enc.EncodeValue(nil, &v))
	return err
}

func openStore(logger *slog.Logger) (*store.Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return store.Open(dbPath, store.Options{
		Compress: compress,
		Logger:   logger,
		Verbose:  logger.Enabled(context.Background(), slog.LevelDebug),
	})
}

func runPut(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(fs, args, 2, 2); err != nil {
		return err
	}
	f, mf, err := openArchiveFile(args[1])
	if err != nil {
		return err
	}
	defer mf.Close()
	st, err := openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Put(args[0], f, mf.Data)
}

func runGet(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(fs, args, 1, 2); err != nil {
		return err
	}
	st, err := openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()
	_, data, err := st.Get(args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		return os.WriteFile(args[1], data, 0666)
	}
	_, err = stdout.Write(data)
	return err
}

func runList(fs *pflag.FlagSet, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(fs, args, 0, 1); err != nil {
		return err
	}
	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}
	st, err := openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()
	infos, err := st.List(prefix)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFORMAT\tSIZE\tSTORED\tMODIFIED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\t%s\n", info.Name, info.Format, info.Size, info.StoredSize, info.Modified.Format(time.DateTime))
	}
	return tw.Flush()
}

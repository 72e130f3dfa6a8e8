package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/leo-router/internal/recorder"
	"github.com/signalsfoundry/leo-router/internal/report"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "leoreport: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("leoreport", flag.ContinueOnError)
	fs.SetOutput(stdout)
	in := fs.String("in", "", "Parquet file written by the simulator recorder")
	out := fs.String("out", "", "output image (.png, .svg or .pdf); defaults to <in>.png")
	title := fs.String("title", "", "plot title; defaults to the input file name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}
	if *out == "" {
		*out = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".png"
	}
	if *title == "" {
		*title = filepath.Base(*in)
	}

	rows, err := recorder.ReadParquet(*in)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, report.Summarize(rows))
	if err := report.Render(rows, *title, *out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return nil
}

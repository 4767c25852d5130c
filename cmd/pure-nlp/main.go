package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	nlp "github.com/amikos-tech/pure-nlp"
	"github.com/amikos-tech/pure-nlp/internal/logger"
	"github.com/amikos-tech/pure-nlp/tokenizers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Process exit codes, one per fatal error kind.
const (
	exitOK            = 0
	exitFailure       = 1
	exitModelNotFound = 2
	exitModelLoad     = 3
	exitAnnotation    = 4
	exitOutputWrite   = 5
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	tokenizers.SetLibraryVersion(version)
	app := newApp(stdout, stderr)
	if err := app.Run(ctx, args); err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	opts := &options{}
	return &cli.Command{
		Name:      "pure-nlp",
		Version:   version,
		Usage:     "Annotate a text with a language model and print its tokens, one per line",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     opts.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := opts.applyConfig(cmd); err != nil {
				return err
			}
			log, err := opts.logger(stderr)
			if err != nil {
				return err
			}
			return annotateText(logger.WithContext(ctx, log), opts, stdout)
		},
	}
}

func exitCode(err error) int {
	var (
		notFound *nlp.ModelNotFoundError
		load     *nlp.ModelLoadError
		annotate *nlp.AnnotationError
		write    *nlp.OutputWriteError
	)
	switch {
	case errors.As(err, &notFound):
		return exitModelNotFound
	case errors.As(err, &load):
		return exitModelLoad
	case errors.As(err, &annotate):
		return exitAnnotation
	case errors.As(err, &write):
		return exitOutputWrite
	default:
		return exitFailure
	}
}

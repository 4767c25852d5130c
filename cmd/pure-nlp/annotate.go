package main

import (
	"context"
	"io"

	nlp "github.com/amikos-tech/pure-nlp"
	"github.com/amikos-tech/pure-nlp/internal/logger"
	"github.com/amikos-tech/pure-nlp/tokenizers"
)

// annotateText loads the model once, annotates the text and prints the tokens.
func annotateText(ctx context.Context, opts *options, stdout io.Writer) error {
	log := logger.FromContext(ctx)
	tokenizers.SetLogger(log.WithGroup("tokenizers"))

	model, err := nlp.Load(ctx, opts.model, opts.loaderOptions(log)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := nlp.Close(model); err != nil {
			log.Warn("failed to release model", "model", model.Name(), "error", err)
		}
	}()

	doc, err := nlp.Annotate(model, opts.text)
	if err != nil {
		return err
	}
	log.Debug("text annotated", "model", doc.Model(), "tokens", doc.Len())

	return nlp.Emit(stdout, doc)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/ingestion"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/reindex"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func kbCreateCommand(c *cli.Context) error {
	slug := c.Args().First()
	if slug == "" {
		return fmt.Errorf("slug is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	kbid, err := engine.CreateKnowledgeBox(c.Context, slug, knowledgebox.Config{
		SemanticModel:  c.String("semantic-model"),
		ReleaseChannel: c.String("release-channel"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, kbid)
	return nil
}

func kbDeleteCommand(c *cli.Context) error {
	idOrSlug := c.Args().First()
	if idOrSlug == "" {
		return fmt.Errorf("knowledge box id or slug is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	kbid, err := engine.ResolveKnowledgeBox(c.Context, idOrSlug)
	if err != nil {
		return err
	}
	return engine.DeleteKnowledgeBox(c.Context, kbid)
}

// decodeMessages reads every YAML document in r as a broker message.
func decodeMessages(r io.Reader, kbid string) ([]*core.BrokerMessage, error) {
	var messages []*core.BrokerMessage
	decoder := yaml.NewDecoder(r)
	for {
		msg := &core.BrokerMessage{}
		err := decoder.Decode(msg)
		if errors.Is(err, io.EOF) {
			return messages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %d: %w", len(messages), err)
		}
		if msg.KBID == "" {
			msg.KBID = kbid
		}
		messages = append(messages, msg)
	}
}

func applyCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one message file is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	kbid, err := engine.ResolveKnowledgeBox(c.Context, c.String("kb"))
	if err != nil {
		return err
	}

	applied := 0
	for _, path := range c.Args().Slice() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		messages, err := decodeMessages(f, kbid)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for i, msg := range messages {
			if err := engine.Apply(c.Context, msg); err != nil {
				return fmt.Errorf("%s: apply message %d: %w", path, i, err)
			}
			applied++
		}
	}
	fmt.Fprintf(c.App.ErrWriter, "Applied %d messages\n", applied)
	return nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = engine.Config().MetricsAddr
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(engine.Gatherer(), promhttp.HandlerOpts{}))
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer server.Shutdown(context.Background())
		slog.Info("serving metrics", "addr", addr)
	}

	consumer, err := engine.NewConsumer()
	if err != nil {
		return err
	}
	defer consumer.Release()

	partition := c.String("partition")
	last, err := engine.LastSeqID(ctx, partition)
	if err != nil {
		return err
	}

	deliveries := make(chan ingestion.Delivery)
	errc := make(chan error, 1)
	go func() {
		defer close(deliveries)
		errc <- feed(ctx, c.App.Reader, last+1, deliveries)
	}()

	if err := consumer.Run(ctx, map[string]<-chan ingestion.Delivery{partition: deliveries}); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return <-errc
}

// feed decodes a YAML message stream into deliveries numbered from seqid.
func feed(ctx context.Context, r io.Reader, seqid int64, deliveries chan<- ingestion.Delivery) error {
	decoder := yaml.NewDecoder(r)
	for {
		msg := &core.BrokerMessage{}
		err := decoder.Decode(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode message at seqid %d: %w", seqid, err)
		}
		select {
		case deliveries <- ingestion.Delivery{Message: msg, SeqID: seqid}:
			seqid++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func reindexCommand(c *cli.Context) error {
	cfg := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		Concurrency:    c.Int("concurrency"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be positive, got %d", cfg.ReportInterval)
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be positive, got %d", cfg.MaxRetries)
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	kbid, err := engine.ResolveKnowledgeBox(c.Context, c.String("kb"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Knowledge box: %s\n", kbid)

	_, err = engine.Reindex(c.Context, kbid, cfg, c.App.ErrWriter)
	return err
}

func deadletterListCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	archive := engine.Deadletters()
	if archive == nil {
		return fmt.Errorf("no deadletter archive configured")
	}
	entries, err := archive.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			e.Created.Format(time.RFC3339), e.Partition, e.SeqID, e.Seq, e.KBID, e.UUID, e.ID)
	}
	return nil
}

func resourceShowCommand(c *cli.Context) error {
	rid := c.Args().First()
	if rid == "" {
		return fmt.Errorf("resource uuid or slug is required")
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	kbid, err := engine.ResolveKnowledgeBox(c.Context, c.String("kb"))
	if err != nil {
		return err
	}
	view, err := engine.Resource(c.Context, kbid, rid)
	if err != nil {
		return err
	}
	return printYAML(c.App.Writer, view)
}

func printYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/minios-linux/lokstudio/config"
	"github.com/minios-linux/lokstudio/i18n"
	"github.com/minios-linux/lokstudio/server"
	"github.com/minios-linux/lokstudio/settings"
	"github.com/minios-linux/lokstudio/store"
	"github.com/minios-linux/lokstudio/translate"
)

type serveArgs struct {
	listen      string
	database    string
	corsOrigins []string
	flags       config.Flags
	verbose     bool
}

func newServeCmd() *cobra.Command {
	var a serveArgs

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve projects, glossaries and streamed translation over HTTP.

Projects are kept in a SQLite database (default: the lokstudio data
directory). Translation uses the provider configured by flags, environment
or .lokstudio.yaml; without a usable provider the translate endpoint
answers 503 and everything else keeps working.

Examples:
  lokstudio serve --listen :8080
  lokstudio serve --provider ollama --model qwen2.5 --cors-origin http://localhost:5173`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}

	fs := cmd.Flags()
	addProviderFlags(fs, &a.flags)
	fs.StringVar(&a.flags.SourceLang, "from", "", "Default source language")
	fs.StringVar(&a.listen, "listen", "", "Listen address (default "+config.DefaultListen+")")
	fs.StringVar(&a.database, "db", "", "SQLite database path (\":memory:\" for a throwaway store)")
	fs.StringSliceVar(&a.corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable)")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable request and debug logging")
	registerProviderCompletion(cmd)

	return cmd
}

func runServe(ctx context.Context, a serveArgs) error {
	file, err := config.LoadFile(rootDir)
	if err != nil {
		return err
	}
	if file == nil {
		file = &config.File{}
	}
	res := config.Resolve(file, a.flags)

	listen := firstNonEmpty(a.listen, file.Server.Listen, config.DefaultListen)
	dbPath := firstNonEmpty(a.database, file.Server.Database)
	if dbPath == "" {
		if dbPath, err = settings.DatabasePath(); err != nil {
			return err
		}
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	origins := a.corsOrigins
	if len(origins) == 0 {
		origins = file.Server.CORSOrigins
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := translate.LoadPromptsFromDefaultLocations(); err != nil {
		logWarning("Could not load prompts: %v", err)
	}

	prov := res.ProviderConfig()
	prov.Verbose = a.verbose
	prov.OnLog = log.Printf
	var gen translate.Generator
	if err := validateProvider(prov); err != nil {
		logWarning(i18n.T("Translation disabled: %v"), firstLine(err))
	} else if gen, err = translate.NewGenerator(prov); err != nil {
		logWarning(i18n.T("Translation disabled: %v"), err)
		gen = nil
	} else {
		logInfo(i18n.T("Provider: %s, model: %s"), prov.Name, firstNonEmpty(prov.Model, "default"))
	}

	topts := translate.Options{
		BatchSize:    res.BatchSize,
		SystemPrompt: res.Prompt,
		SkipScan:     res.SkipScan,
		OnError:      log.Printf,
		Verbose:      a.verbose,
	}
	if a.verbose {
		topts.OnLog = log.Printf
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(server.Options{
		Store:       st,
		Generator:   gen,
		Translate:   topts,
		SourceLang:  res.SourceLang,
		CORSOrigins: origins,
		OnLog:       log.Printf,
	})

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logInfo(i18n.T("Listening on %s (database: %s)"), listen, dbPath)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logInfo(i18n.T("Shutting down..."))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func firstLine(err error) string {
	msg := err.Error()
	for i, c := range msg {
		if c == '\n' {
			return msg[:i]
		}
	}
	return msg
}

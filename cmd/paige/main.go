// Command paige is the process entrypoint: it wires the Session Registry,
// Buffer Cache, Observer, Coaching Pipeline, Tool Surface, and UI Message
// Hub together behind a single composition root (internal/app.App) and
// serves both transports the spec names — the Tool Surface over MCP stdio
// for the external AI host, and the UI Message Hub over WebSocket for the
// editor extension. Grounded on the teacher's
// example/cmd/assistant/main.go: goa.design/clue/log for startup logging,
// an errc channel shared between the signal handler and server goroutines,
// and a sync.WaitGroup the main goroutine waits on before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/clue/log"

	"github.com/aaronbassett/paige/internal/actionlog"
	"github.com/aaronbassett/paige/internal/app"
	"github.com/aaronbassett/paige/internal/config"
	"github.com/aaronbassett/paige/internal/memory"
	memmongo "github.com/aaronbassett/paige/internal/memory/mongo"
	"github.com/aaronbassett/paige/internal/model"
	"github.com/aaronbassett/paige/internal/model/anthropic"
	"github.com/aaronbassett/paige/internal/model/noop"
	"github.com/aaronbassett/paige/internal/model/registry"
	"github.com/aaronbassett/paige/internal/server"
	"github.com/aaronbassett/paige/internal/store/sqlite"
	"github.com/aaronbassett/paige/internal/toolsurface"
	"github.com/aaronbassett/paige/internal/uihub"
)

const version = "0.1.0"

func main() {
	dbgF := flag.Bool("debug", false, "Log request and response bodies")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "config")
	}
	log.Print(ctx, log.KV{K: "port", V: cfg.Port}, log.KV{K: "project-dir", V: cfg.ProjectDir})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf(ctx, err, "create data dir %q", cfg.DataDir)
	}

	db, err := sqlite.Open(ctx, filepath.Join(cfg.DataDir, "paige.db"))
	if err != nil {
		log.Fatalf(ctx, err, "open sqlite store")
	}
	defer db.Close()

	logAPI := actionlog.New(db, 256)

	var modelClient model.Client
	if cfg.ModelAPIKey != "" {
		modelClient, err = anthropic.NewFromAPIKey(cfg.ModelAPIKey)
		if err != nil {
			log.Fatalf(ctx, err, "init model client")
		}
	} else {
		log.Print(ctx, log.KV{K: "model", V: "no API key configured, coaching/review/reflect degrade to no-op"})
		modelClient = noop.Client{}
	}
	resolver := registry.New()

	hub := uihub.New(fmt.Sprintf("paige-%d", os.Getpid()), version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	memStore := initMemoryStore(ctx, cfg)

	application := app.New(ctx, db, logAPI, hub, memStore, modelClient, resolver)

	toolsReg := toolsurface.New(logAPI, application.SessionID)
	if err := toolsurface.RegisterAll(toolsReg, toolsurface.Deps{
		Sessions: application,
		Buffers:  application,
		Hub:      hub,
	}); err != nil {
		log.Fatalf(ctx, err, "register tools")
	}
	mcpServer := toolsurface.NewMCPServer("paige", version, toolsReg)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup

	httpSrv := server.New(fmt.Sprintf(":%d", cfg.Port), hub, application)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "ui message hub listening on :%d", cfg.Port)
		if err := httpSrv.Run(ctx); err != nil {
			errc <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "tool surface serving mcp over stdio")
		if err := mcpServer.ServeStdio(ctx); err != nil {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// initMemoryStore connects the Memory Store's MongoDB backend when
// MONGO_URI is configured. memory/mongo.New hard-requires a non-nil
// Embedder, and no Embedder implementation exists anywhere in this module
// (there is no embedding provider to call, same as the Model Client's
// backing LM API per §1's external-collaborator framing) — so this always
// returns a nil Store for now, logging why, rather than fabricating one.
// The connection itself is real: once an Embedder is wired in, this
// becomes a live store with no further plumbing required.
func initMemoryStore(ctx context.Context, cfg config.Config) memory.Store {
	if cfg.MongoURI == "" {
		log.Print(ctx, log.KV{K: "memory-store", V: "MONGO_URI not set, degrading to no-op"})
		return nil
	}

	client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Printf(ctx, "memory store: connect mongo: %v", err)
		return nil
	}

	store, err := memmongo.New(ctx, memmongo.Options{
		Client:   client,
		Database: cfg.MongoDatabase,
		Embedder: nil,
	})
	if err != nil {
		log.Printf(ctx, "memory store: %v (no Embedder implementation is wired; see DESIGN.md)", err)
		return nil
	}
	return store
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"accordflow/ai"
	"accordflow/auth"
	"accordflow/casefile"
	"accordflow/compromise"
	"accordflow/config"
	"accordflow/db"
	"accordflow/decision"
	"accordflow/event"
	"accordflow/negotiation"
	"accordflow/party"
	"accordflow/settlement"
	"accordflow/statement"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	writer := event.NewWriter()
	oracle := ai.NewHTTPClient(cfg.AI.BaseURL, cfg.AI.Timeout)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWT.Secret)

	caseSvc := casefile.NewService(pool, writer, writer).
		WithMaxCompromiseRounds(cfg.Compromise.MaxRounds)
	caseRepo := casefile.NewRepository(pool, writer, writer)

	partySvc := party.NewService(pool, party.NewRepository(pool), caseSvc, writer, writer).
		WithReadinessEvaluator(caseSvc)

	decisionSvc := decision.NewService(pool, writer, writer).WithEvaluator(caseSvc)
	decisionRepo := decision.NewRepository(pool)

	settlementRepo := settlement.NewRepository(pool)
	settlementSvc := settlement.NewService(pool, caseSvc, caseRepo, settlementRepo, oracle, writer, writer).
		WithAITimeout(cfg.AI.Timeout)

	resolver := compromise.NewResolver(pool, caseSvc, decisionRepo, settlementRepo, settlementRepo, oracle, writer, writer).
		WithAITimeout(cfg.AI.Timeout)

	statementSvc := statement.NewService(pool, writer).
		WithReadinessEvaluator(caseSvc).
		WithTranscriber(statement.NewWhisperTranscriber(cfg.Transcriber.Command, cfg.Transcriber.Args...))

	engine := negotiation.NewEngine(pool, writer, writer)
	sweeper := negotiation.NewSweeper(pool, engine, cfg.Negotiation.SweepInterval)

	notifier := compromiseNotifier{base: logNotifier{}, resolver: resolver, cases: caseRepo}
	dispatcher := event.NewDispatcher(pool, notifier, cfg.Outbox.PollInterval)

	server := &Server{
		authService:        authSvc,
		caseService:        caseSvc,
		caseRepo:           caseRepo,
		partyService:       partySvc,
		decisionService:    decisionSvc,
		decisionReader:     decisionRepo,
		settlementService:  settlementSvc,
		optionLister:       settlementRepo,
		statementService:   statementSvc,
		negotiationEngine:  engine,
		negotiationRounds:  cfg.Negotiation.MaxRounds,
		negotiationTimeout: cfg.Negotiation.RoundTimeout,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("shutdown: %v", err)
	}
}

// logNotifier is the default delivery layer: it records the event and acks.
// Real deployments swap in email/SMS/websocket fan-out.
type logNotifier struct{}

func (logNotifier) Deliver(_ context.Context, topic string, payload []byte) error {
	log.Printf("event %s: %s", topic, payload)
	return nil
}

// compromiseNotifier reacts to a case entering compromise_needed by running
// the compromise resolver. Returning an error leaves the outbox message
// pending, so a transient AI outage retries on the next dispatcher sweep.
// Every event also falls through to the base notifier.
type compromiseNotifier struct {
	base     event.Notifier
	resolver *compromise.Resolver
	cases    *casefile.Repository
}

func (n compromiseNotifier) Deliver(ctx context.Context, topic string, payload []byte) error {
	if topic == event.TopicCaseStatusChanged {
		var msg struct {
			CaseID string `json:"case_id"`
			To     string `json:"to"`
		}
		if err := json.Unmarshal(payload, &msg); err == nil && msg.To == string(casefile.StatusCompromiseNeeded) {
			rec, err := n.cases.Get(ctx, msg.CaseID)
			if err != nil {
				return err
			}
			if rec.Status == casefile.StatusCompromiseNeeded && rec.CurrentBatch != nil {
				if _, err := n.resolver.Resolve(ctx, msg.CaseID, *rec.CurrentBatch, ""); err != nil {
					return err
				}
			}
		}
	}
	return n.base.Deliver(ctx, topic, payload)
}

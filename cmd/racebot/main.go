// cmd/racebot/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/clickrace/internal/config"
	"github.com/jason-s-yu/clickrace/internal/ledger"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/race"
	"github.com/jason-s-yu/clickrace/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// heartbeatInterval keeps the bot well inside the server's presence TTL.
const heartbeatInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	me := botPlayer(cfg.Bot)
	log := logger.WithField("address", me.Address)

	wallet := ledger.NewMemoryLedger(cfg.CostPerClick)
	wallet.Fund(me.Address, cfg.StartingBalance)
	clicker := &ledger.Clicker{Account: me.Address, Sender: wallet, Nonces: ledger.NewNonceManager(wallet)}

	if err := ledger.EnsureBalance(ctx, wallet, me.Address, race.DefaultThreshold, cfg.CostPerClick); err != nil {
		log.Fatalf("cannot afford a race: %v", err)
	}

	finished := make(chan models.Lobby, 1)
	sess := session.New(session.Config{
		Client:  session.NewClient(cfg.ServerURL),
		Player:  me,
		Clicker: clicker,
		Logger:  logger,
		OnChange: func(l models.Lobby) {
			if l.Status == models.StatusFinished {
				select {
				case finished <- l:
				default:
				}
			}
		},
		OnNotice: func(n session.Notice) {
			log.WithFields(logrus.Fields{"kind": n.Kind, "op": n.Op}).WithError(n.Err).Warn("notice")
		},
	})

	lobby, err := sess.JoinAny(ctx)
	if err != nil {
		log.Fatalf("join: %v", err)
	}
	log.Infof("Joined lobby %s (%d/%d players)", lobby.ID, len(lobby.Players), lobby.Capacity)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx, cfg.PollInterval) })
	g.Go(func() error { return sess.Follow(gctx) })
	g.Go(func() error { return heartbeat(gctx, sess, log) })
	g.Go(func() error { return clickLoop(gctx, sess, cfg.ClickInterval) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case l := <-finished:
			logRaceOver(log, l, me.Address)
			return errRaceOver
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errRaceOver) && !errors.Is(err, context.Canceled) {
		log.Fatalf("racebot: %v", err)
	}
	log.Infof("Sent %d click transactions", wallet.Clicks(me.Address))
}

var errRaceOver = errors.New("race over")

// defaultColor is used when the address is too short to derive one from.
const defaultColor = "#ff5a5f"

// botPlayer fills in whatever RACE_* settings are unset: a random address, and a name and
// color derived from it.
func botPlayer(b config.Bot) models.Player {
	addr := strings.TrimSpace(b.Address)
	if addr == "" {
		addr = "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	short := strings.TrimPrefix(strings.ToLower(addr), "0x")
	name := b.Name
	if name == "" {
		name = "bot-" + short[:min(len(short), 6)]
	}
	color := b.Color
	if color == "" {
		color = defaultColor
		if len(short) >= 6 {
			color = "#" + short[:6]
		}
	}
	return models.Player{Address: addr, Name: name, Color: color}
}

func heartbeat(ctx context.Context, sess *session.Session, log logrus.FieldLogger) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		if err := sess.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Debug("heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// clickLoop advances one click per tick while the race is running.
func clickLoop(ctx context.Context, sess *session.Session, every time.Duration) error {
	if every <= 0 {
		every = 120 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		l, ok := sess.Lobby()
		if !ok || l.Status != models.StatusRunning {
			continue
		}
		// notices already report failures; keep clicking
		_ = sess.Advance(ctx, 1)
	}
}

func logRaceOver(log logrus.FieldLogger, l models.Lobby, me string) {
	if l.Winner == nil {
		log.Info("Race finished without a winner")
		return
	}
	if models.AddressKey(*l.Winner) == models.AddressKey(me) {
		log.Infof("Won lobby %s", l.ID)
		return
	}
	log.Infof("Lobby %s won by %s", l.ID, *l.Winner)
}

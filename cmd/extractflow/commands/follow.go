package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical-ai/spherical/libs/extractflow/cmd/extractflow/ui"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/broadcast"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/presenter"
)

const followReplay = 20

// followBroadcast replays the latest broadcast calls and then prints new ones until interrupted.
func followBroadcast(ctx context.Context, u *ui.UI) error {
	pub, err := broadcast.NewRedisPublisher(redisConfig(appCfg), logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel := appCfg.Broadcast.Redis.Channel

	recent, err := pub.Recent(ctx, channel, followReplay)
	if err != nil {
		return err
	}
	for _, payload := range recent {
		printEvent(u, payload)
	}

	msgs, cancel, err := pub.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer cancel()

	u.Info("Following %s, press Ctrl+C to stop", channel)
	for payload := range msgs {
		printEvent(u, payload)
	}
	return nil
}

func printEvent(u *ui.UI, payload []byte) {
	evt, err := broadcast.DecodeEvent(payload)
	if err != nil {
		logger.Debug().Err(err).Msg("skipping undecodable event")
		return
	}

	e := presenter.LedgerEntries([]ledger.CallRecord{evt.Record})[0]
	line := shortID(evt.SessionID) + "  " + e.Time + "  " + e.Method + " " + e.Endpoint + "  " + e.Phase
	switch {
	case e.Error != "":
		u.Error("%s: %s", line, e.Error)
	case e.Phase == "settled":
		u.Success("%s", line)
	default:
		u.Message("%s", line)
	}
}

// ABOUTME: Minimal fake edge agent for end-to-end testing — answers relayed envelopes over the broker.
// ABOUTME: Usage: echo-agent [-redis localhost:6379] [-prefix relay] [-id echo-agent]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/carelink/relay/internal/broker"
	"github.com/carelink/relay/internal/relay"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis broker address")
	prefix := flag.String("prefix", "relay", "broker channel prefix")
	agentID := flag.String("id", "echo-agent", "agent ID to listen as")
	failPings := flag.Bool("fail-pings", false, "report every ping as unreachable")
	flag.Parse()

	if err := run(*redisAddr, *prefix, *agentID, *failPings); err != nil {
		log.Fatal(err)
	}
}

func run(redisAddr, prefix, agentID string, failPings bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	b, err := broker.NewRedisBroker(ctx, broker.RedisOptions{Addr: redisAddr}, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	inbound := relay.AgentChannel(prefix, agentID)
	sub, err := b.Subscribe(ctx, inbound)
	if err != nil {
		return err
	}
	defer sub.Close()

	fmt.Fprintf(os.Stderr, "listening as %s on %s\n", agentID, inbound)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			handle(ctx, b, logger, payload, failPings)
		}
	}
}

func handle(ctx context.Context, b broker.Broker, logger *slog.Logger, payload []byte, failPings bool) {
	var env relay.RequestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("discarding undecodable envelope", "error", err)
		return
	}

	resp := respond(&env, failPings)
	out, err := json.Marshal(resp)
	if err != nil {
		logger.Error("encoding response", "error", err)
		return
	}

	if err := b.Publish(ctx, env.CorrelationChannel, out); err != nil {
		logger.Error("publishing response", "channel", env.CorrelationChannel, "error", err)
		return
	}
	logger.Info("answered",
		"content_type", env.ContentType,
		"destination", env.Destination,
		"status", resp.StatusCode,
	)
}

// respond builds the reply: synthetic ping statistics for probes, an echo
// of the body for everything else.
func respond(env *relay.RequestEnvelope, failPings bool) *relay.ResponseEnvelope {
	if env.ContentType == relay.ContentTypePing {
		if failPings {
			return &relay.ResponseEnvelope{
				CorrelationChannel: env.CorrelationChannel,
				StatusCode:         500,
				ContentType:        relay.ContentTypeText,
				Body:               fmt.Sprintf("Unable to ping %q", env.Destination),
			}
		}
		return &relay.ResponseEnvelope{
			CorrelationChannel: env.CorrelationChannel,
			StatusCode:         200,
			ContentType:        relay.ContentTypeText,
			Body: fmt.Sprintf("--- %s ping statistics ---\n4 packets transmitted, 4 received, 0%% packet loss",
				env.Destination),
		}
	}

	return &relay.ResponseEnvelope{
		CorrelationChannel: env.CorrelationChannel,
		StatusCode:         200,
		ContentType:        env.ContentType,
		Body:               env.Body,
	}
}

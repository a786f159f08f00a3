package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/matchclock"
	"github.com/KeeprDigital/stream-keepr/go/internal/models"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/client"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

const OverlayCtlVersion = "1.0.0"

const usage = `Overlay control.

The default urls are:
    url: ws://localhost:8081/ws  (OVERLAY_URL)
    api_url: http://localhost:8081  (OVERLAY_API_URL)

Usage:
    overlayctl watch <topic> [--url=<url>]
    overlayctl action <topic> <action> [<json>] [--url=<url>] [--http] [--api_url=<api_url>]
    overlayctl data <topic> [--index=<index>] [--api_url=<api_url>]
    overlayctl clock <match> <clock_action> [<value>] [--mode=<mode>] [--url=<url>]
    overlayctl time [--url=<url>] [--samples=<samples>]
    overlayctl -h | --help
    overlayctl --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Gateway websocket url.
    --api_url=<api_url>    Gateway HTTP url.
    --http                 Send the action through the HTTP API.
    --index=<index>        Match index for the matches topic.
    --mode=<mode>          Clock mode for setMode: countdown or countup.
    --samples=<samples>    Precision samples to take [default: 3].`

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "warn")); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	opts, err := docopt.ParseArgs(usage, os.Args[1:], OverlayCtlVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case flag(opts, "watch"):
		err = watch(ctx, opts)
	case flag(opts, "action"):
		err = action(ctx, opts)
	case flag(opts, "data"):
		err = data(ctx, opts)
	case flag(opts, "clock"):
		err = clock(ctx, opts)
	case flag(opts, "time"):
		err = timeOffset(ctx, opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// watch prints every state of a topic until interrupted.
func watch(ctx context.Context, opts docopt.Opts) error {
	topic, err := topicArg(opts)
	if err != nil {
		return err
	}
	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Subscribe(topic, "overlayctl", func(u client.Update) {
		fmt.Printf("%s %s %s\n", u.Type, u.Topic, string(u.Payload))
	}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// action sends one action over the socket, or the HTTP API with --http.
func action(ctx context.Context, opts docopt.Opts) error {
	topic, err := topicArg(opts)
	if err != nil {
		return err
	}
	name, _ := opts.String("<action>")

	body := map[string]any{}
	if raw, _ := opts.String("<json>"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return fmt.Errorf("invalid json argument: %w", err)
		}
	}

	if flag(opts, "--http") {
		state, err := apiClient(opts).Action(ctx, topic, name, body)
		if err != nil {
			return err
		}
		fmt.Println(string(state))
		return nil
	}

	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Subscribe(topic, "overlayctl", func(client.Update) {}); err != nil {
		return err
	}
	body["action"] = name
	ack, err := c.Emit(ctx, topic, body)
	if err != nil {
		return err
	}
	return printJSON(ack)
}

// data prints a topic's display projection.
func data(ctx context.Context, opts docopt.Opts) error {
	topic, err := topicArg(opts)
	if err != nil {
		return err
	}

	api := apiClient(opts)
	var raw json.RawMessage
	if index, _ := opts.String("--index"); index != "" && topic == topics.TopicMatches {
		i, err := strconv.Atoi(index)
		if err != nil {
			return fmt.Errorf("invalid index %q", index)
		}
		raw, err = api.Match(ctx, i)
		if err != nil {
			return err
		}
	} else if raw, err = api.Data(ctx, topic); err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// clock drives a match clock through the match store, at synced time.
func clock(ctx context.Context, opts docopt.Opts) error {
	id, _ := opts.String("<match>")
	act, _ := opts.String("<clock_action>")
	mode, _ := opts.String("--mode")

	cmd := matchclock.Command{Action: matchclock.Action(act), Mode: models.ClockMode(mode)}
	if raw, _ := opts.String("<value>"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q", raw)
		}
		cmd.Value = &v
	}

	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	ts := client.NewTimeSync(c, nil)
	if err := waitForOffset(ctx, ts); err != nil {
		return err
	}

	store := client.NewMatchStore(c, ts)
	loaded := make(chan struct{}, 1)
	store.OnChange(func(models.MatchDataList) {
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	if err := store.Start(); err != nil {
		return err
	}
	select {
	case <-loaded:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := store.ControlClock(ctx, id, cmd); err != nil {
		return err
	}
	match, _ := store.Match(id)
	return printJSON(match.Clock)
}

// timeOffset prints the estimated offset to the gateway clock.
func timeOffset(ctx context.Context, opts docopt.Opts) error {
	samples, _ := opts.Int("--samples")
	if samples <= 0 {
		samples = 1
	}

	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	ts := client.NewTimeSync(c, nil)
	offsets := make(chan time.Duration, samples+1)
	ts.OnOffsetChange(func(offset time.Duration) {
		select {
		case offsets <- offset:
		default:
		}
	})
	if err := c.Subscribe(topics.TopicTime, "overlayctl", func(client.Update) {}); err != nil {
		return err
	}

	var offset time.Duration
	for i := 0; i < samples; i++ {
		if err := ts.ForceSync(); err != nil {
			return err
		}
		select {
		case offset = <-offsets:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(client.DefaultAckTimeout):
			return client.ErrAckTimeout
		}
	}
	fmt.Printf("offset %s server time %s\n", offset, ts.CurrentTime().Format(time.RFC3339Nano))
	return nil
}

func waitForOffset(ctx context.Context, ts *client.TimeSync) error {
	synced := make(chan struct{}, 1)
	ts.OnOffsetChange(func(time.Duration) {
		select {
		case synced <- struct{}{}:
		default:
		}
	})
	if err := ts.ForceSync(); err != nil {
		return err
	}
	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(client.DefaultAckTimeout):
		return client.ErrAckTimeout
	}
}

func connect(ctx context.Context, opts docopt.Opts) (*client.Client, error) {
	url, _ := opts.String("--url")
	if url == "" {
		url = getEnv("OVERLAY_URL", "ws://localhost:8081/ws")
	}
	cfg := client.DefaultConfig(url)
	cfg.MaxRetries = 3

	c := client.New(cfg, nil)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func apiClient(opts docopt.Opts) *client.APIClient {
	url, _ := opts.String("--api_url")
	if url == "" {
		url = getEnv("OVERLAY_API_URL", "http://localhost:8081")
	}
	return client.NewAPIClient(url)
}

func topicArg(opts docopt.Opts) (topics.Topic, error) {
	raw, _ := opts.String("<topic>")
	return topics.ParseTopic(raw)
}

func flag(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

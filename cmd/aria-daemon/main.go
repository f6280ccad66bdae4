package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"aria/internal/assistant"
	"aria/internal/audio"
	"aria/internal/capture"
	"aria/internal/config"
	"aria/internal/control"
	"aria/internal/duck"
	"aria/internal/httpapi"
	"aria/internal/ipc"
	"aria/internal/keyboard"
	"aria/internal/mqtt"
	"aria/internal/notify"
	"aria/internal/observe"
	"aria/internal/pipeline"
	"aria/internal/proxy"
	"aria/internal/recognize"
	"aria/internal/replay"
	"aria/internal/session"
	"aria/internal/speech"
	"aria/internal/tts"
	"aria/internal/wake"
	"aria/pkg/protocol"
	"aria/pkg/stt"
)

var version = "dev"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for assistant calls")
	replayFile := cli.String("replay", "", "Feed an audio file instead of the microphone, then exit")
	replayFast := cli.Bool("fast", false, "Do not pace --replay in real time")
	cli.Parse()

	setLogger(*logLevel)

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*cfgFile, os.Getenv)
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	if !cli.CommandLine.Changed("log") {
		setLogger(cfg.LogLevel)
	}
	if *proxyAddr != "" {
		cfg.Assistant.Proxy = *proxyAddr
	}

	log.Info("Booting up", "version", version, "wake", cfg.Wake.Phrase, "provider", cfg.Assistant.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *replayFile, *replayFast); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func setLogger(level string) {
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[level],
		TimeFormat: time.TimeOnly,
	})))
}

func run(ctx context.Context, cfg *config.Config, replayFile string, replayFast bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observe.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, "aria", version)
		if err != nil {
			return fmt.Errorf("metrics provider: %w", err)
		}
		defer shutdown(context.Background())

		metrics, err = observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	tr, err := stt.NewTranscriber(cfg.Recognizer.ModelPath, stt.Options{
		Language: cfg.Recognizer.Language,
		Threads:  cfg.Recognizer.Threads,
	})
	if errors.Is(err, stt.ErrModelNotFound) {
		return fmt.Errorf("%w: %s (set recognizer.model_path or ARIA_MODEL_PATH)", err, cfg.Recognizer.ModelPath)
	}
	if err != nil {
		return fmt.Errorf("load speech model: %w", err)
	}
	defer tr.Close()
	log.Debug("Loaded whisper", "model", cfg.Recognizer.ModelPath)

	rec := recognize.New(tr, recognize.Config{
		SampleRate:      cfg.Audio.SampleRate,
		SilenceRMS:      cfg.Recognizer.SilenceRMS,
		EndpointSilence: cfg.Recognizer.EndpointSilence,
		MaxUtterance:    cfg.Recognizer.MaxUtterance,
	})

	httpClient, err := proxy.NewClient(cfg.Assistant.Proxy, cfg.Assistant.Timeout+5*time.Second)
	if err != nil {
		return fmt.Errorf("proxy %q: %w", cfg.Assistant.Proxy, err)
	}
	ask, provider, err := newAssistant(cfg, httpClient)
	if err != nil {
		return err
	}
	log.Debug("Loaded assistant", "provider", provider)

	engine, closeEngine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeEngine()
	out := speech.New(engine)

	format := capture.Format{SampleRate: cfg.Audio.SampleRate, FrameSize: cfg.Audio.FrameSize}

	var dev capture.Device
	if replayFile != "" {
		f := replay.NewFile(replayFile, format)
		f.Fast = replayFast
		dev = f
	} else {
		if err := audio.Init(); err != nil {
			return fmt.Errorf("init audio: %w", err)
		}
		defer audio.Terminate()
		dev = audio.NewMicrophone(cfg.Audio.Device, format)
	}

	queue := capture.NewQueueFor(dev, cfg.Audio.QueueSize, format)
	source := capture.NewSource(queue, capture.WithDropHook(metrics.FrameDropped))

	var dispatcher *control.Dispatcher
	observers := session.Observers{
		consoleObserver{replies: cfg.Speech.Engine != config.EnginePrint},
		metrics,
	}

	if cfg.Speech.Earcon != "" {
		earcon, err := notify.Load(cfg.Speech.Earcon)
		if err != nil {
			log.Warn("Earcon disabled", "path", cfg.Speech.Earcon, "err", err)
		} else {
			observers = append(observers, earconObserver{earcon})
		}
	}

	if cfg.Speech.Duck {
		d := newDuckObserver(ctx, duck.New(duck.Config{
			SelfNames: []string{"aria", "espeak", "espeak-ng"},
			Factor:    cfg.Speech.DuckFactor,
			Fade:      150 * time.Millisecond,
		}), out.Speaking)
		observers = append(observers, d)
	}

	var bus *protocol.Protocol
	if cfg.Bus.URL != "" {
		bus = protocol.New(protocol.Config{
			Shard: cfg.Bus.Shard,
			URL:   cfg.Bus.URL,
			OnCommand: func(cmd string) any {
				return dispatcher.Dispatch(cmd)
			},
		})
		observers = append(observers, bus)
	}

	var broker *mqtt.Bridge
	if cfg.MQTT.Broker != "" {
		broker = mqtt.New(mqtt.Config{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.Prefix,
		}, dispatcherFunc(func(cmd string) control.Reply { return dispatcher.Dispatch(cmd) }))
		observers = append(observers, broker)
	}

	opts := []session.Option{session.WithObserver(observers)}
	if cfg.Wake.Phrase != "" {
		opts = append(opts, session.WithWake(wake.New(cfg.Wake.Phrase, cfg.Wake.FuzzyThreshold)))
	}

	loop, machine := pipeline.Wire(rec, queue.C(),
		session.Config{
			AssistantTimeout: cfg.Assistant.Timeout,
			Fallback:         cfg.Assistant.Fallback,
		},
		observe.WrapAssistant(ask, provider, metrics),
		out,
		[]pipeline.LoopOption{pipeline.WithMetrics(metrics)},
		opts...,
	)
	dispatcher = control.NewDispatcher(machine, control.WithSpeaking(out.Speaking))

	inputEnded := make(chan struct{})
	pipe := pipeline.New(source, dev, queue, loop, machine,
		pipeline.OnInputEnd(func(err error) {
			if err != nil {
				log.Error("Audio input lost", "err", err)
			}
			close(inputEnded)
		}))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pipe.Run(gctx) })

	g.Go(func() error { return ipc.Serve(gctx, cfg.Control.Socket, dispatcher) })

	if cfg.Control.Keyboard && replayFile == "" {
		g.Go(func() error {
			keyboard.Listen(gctx, dispatcher)
			return nil
		})
	}

	if cfg.Control.HTTPAddr != "" {
		hopts := []httpapi.Option{httpapi.WithReady(pipe.Ready)}
		if cfg.Metrics.Enabled {
			hopts = append(hopts, httpapi.WithMetrics())
		}
		router := httpapi.NewRouter(dispatcher, hopts...)
		g.Go(func() error { return httpapi.Serve(gctx, cfg.Control.HTTPAddr, router) })
	}

	if bus != nil {
		g.Go(func() error {
			if err := bus.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if broker != nil {
		if err := broker.Start(gctx); err != nil {
			log.Warn("MQTT disabled", "err", err)
		}
	}

	if replayFile != "" {
		g.Go(func() error {
			select {
			case <-inputEnded:
			case <-gctx.Done():
				return nil
			}
			waitReplayDone(gctx, machine, out)
			cancel()
			return nil
		})
	}

	log.Info("Boot up - successful", "input", dev.Name(), "socket", cfg.Control.Socket)
	return g.Wait()
}

func newAssistant(cfg *config.Config, hc *http.Client) (observe.Asker, string, error) {
	a := cfg.Assistant
	switch a.Provider {
	case config.ProviderOpenAI:
		opts := []assistant.OpenAIOption{
			assistant.WithOpenAIHTTPClient(hc),
			assistant.WithOpenAIPreamble(a.Preamble),
			assistant.WithOpenAITimeout(a.Timeout),
		}
		if a.Model != "" {
			opts = append(opts, assistant.WithOpenAIModel(a.Model))
		}
		if a.BaseURL != "" {
			opts = append(opts, assistant.WithOpenAIBaseURL(a.BaseURL))
		}
		c, err := assistant.NewOpenAI(cfg.OpenAIKey, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("openai client: %w", err)
		}
		return c, c.Name(), nil

	default:
		opts := []assistant.GeminiOption{
			assistant.WithGeminiHTTPClient(hc),
			assistant.WithGeminiPreamble(a.Preamble),
			assistant.WithGeminiTimeout(a.Timeout),
		}
		if a.Model != "" {
			opts = append(opts, assistant.WithGeminiModel(a.Model))
		}
		if a.BaseURL != "" {
			opts = append(opts, assistant.WithGeminiBaseURL(a.BaseURL))
		}
		c, err := assistant.NewGemini(cfg.GeminiKey, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("gemini client: %w", err)
		}
		return c, c.Name(), nil
	}
}

func newEngine(cfg *config.Config) (speech.Engine, func(), error) {
	if cfg.Speech.Engine == config.EnginePrint {
		return speech.Printer{W: os.Stdout, Prefix: "Aria: "}, func() {}, nil
	}
	e, err := tts.NewEspeak(cfg.Speech.Voice, cfg.Speech.Rate)
	if err != nil {
		return nil, nil, fmt.Errorf("init espeak: %w", err)
	}
	log.Debug("Loaded espeak", "voice", cfg.Speech.Voice, "rate", cfg.Speech.Rate)
	return e, func() { e.Close() }, nil
}

// waitReplayDone ends any open session once the file is exhausted and
// returns when the last reply has been spoken.
func waitReplayDone(ctx context.Context, m *session.Machine, out *speech.Output) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	stopped := false
	quiet := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		switch m.State() {
		case session.Recording:
			if !stopped {
				log.Info("Replay finished, closing session")
				m.ManualStop()
				stopped = true
			}
			quiet = 0
		case session.Idle:
			if out.Speaking() {
				quiet = 0
				continue
			}
			quiet++
			if quiet >= 3 {
				return
			}
		default:
			quiet = 0
		}
	}
}

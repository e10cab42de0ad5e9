package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"

	mediaconfig "github.com/chatr/chatr-media/config"
	"github.com/chatr/chatr-media/internal/connectutil"
	mediahandler "github.com/chatr/chatr-media/internal/media/handler"
	"github.com/chatr/chatr-media/internal/media/iceconfig"
	"github.com/chatr/chatr-media/internal/media/voice"
	"github.com/chatr/chatr-media/pkg/events"
	"github.com/chatr/chatr-media/pkg/framecrypt"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[mediaconfig.MediaConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("chatr-media"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithRegisterPublisher(eventRef, eventURL),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), "media", eventRef)

	iceServers := iceconfig.NewLoader(cfg.ICEServerFile, cfg.ICEServers())
	if err := iceServers.Load(); err != nil {
		log.Fatalf("loading ice servers: %v", err)
	}
	if iceServers.Path() != "" {
		if err := pool.Submit(ctx, func() {
			if err := iceServers.WatchAndReload(ctx.Done()); err != nil {
				slog.Error("ice server watcher stopped", slog.String("error", err.Error()))
			}
		}); err != nil {
			log.Fatalf("starting ice server watcher: %v", err)
		}
	}

	probe := framecrypt.NewProbe(cfg.FrameEncryptionEnabled)
	if !probe.FrameInterception() {
		slog.Warn("frame encryption disabled, media is protected by DTLS-SRTP only")
	}

	engine, err := voice.NewEngine(voice.Config{
		ICEServers:           iceServers.Servers,
		E2EERequired:         cfg.E2EERequired,
		VideoEnabled:         cfg.VideoEnabled,
		SampleBuilderMaxLate: uint16(cfg.SampleBuilderMaxLate),
		KeyframeInterval:     time.Duration(cfg.KeyframeRequestIntervalMs) * time.Millisecond,
		SpeakerThreshold:     uint8(cfg.SpeakerDetectorThreshold),
		SpeakerInterval:      time.Duration(cfg.SpeakerDetectorIntervalMs) * time.Millisecond,
	}, probe, pub, pool)
	if err != nil {
		log.Fatalf("creating voice engine: %v", err)
	}
	defer engine.Close()

	handler := mediahandler.NewVoiceHandler(engine, pub, cfg.EventSubscriberBuffer)

	// Every procedure, frame streams included, runs through tracing,
	// bearer authentication and request logging.
	opts, err := connectutil.AuthenticatedOptions(srv.SecurityManager().GetAuthenticator(ctx))
	if err != nil {
		log.Fatalf("building rpc interceptors: %v", err)
	}

	mux := http.NewServeMux()
	path, hdlr := mediahandler.NewVoiceServiceHandler(handler, opts...)
	mux.Handle(path, hdlr)

	srv.Init(ctx, frame.WithHTTPHandler(connectutil.H2CHandler(mux)))

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}

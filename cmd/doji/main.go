package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"doji/internal/bot"
	"doji/internal/config"
	"doji/internal/convo"
	"doji/internal/download"
	"doji/internal/gemini"
	"doji/internal/ipc"
	"doji/internal/persona"
	"doji/internal/proxy"
)

const saveInterval = 5 * time.Minute

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for model traffic")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	dataDir := cli.StringP("data", "d", ".", "State directory")
	debugAudio := cli.BoolP("debug-audio", "a", false, "Dump decoded voice batches as WAV")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)

	token := config.DiscordToken()
	if token == "" {
		log.Error("DISCORD_TOKEN not set")
		os.Exit(1)
	}
	apiKeys := config.GeminiAPIKeys()
	if len(apiKeys) == 0 {
		log.Error("no GEMINI_API_KEY configured")
		os.Exit(1)
	}

	// A missing default persona means every response path is dead.
	personas := persona.NewLoader(config.PersonaDir())
	if _, err := personas.Instructions(persona.Default); err != nil {
		log.Error("Failed to load default persona", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded personas")

	var httpClient *http.Client
	if *proxyAddr != "" {
		var err error
		httpClient, err = proxy.NewSocksClient(*proxyAddr)
		if err != nil {
			log.Error("Failed to dial socks proxy", "proxy", *proxyAddr, "err", err)
			os.Exit(1)
		}
		log.Debug("Loaded proxy")
	}

	gen, err := gemini.NewClient(context.Background(), apiKeys, config.GeminiModel(), httpClient)
	if err != nil {
		log.Error("Failed to build generation client", "err", err)
		os.Exit(1)
	}

	store := convo.NewStore(filepath.Join(*dataDir, "conversations.json"))
	store.Load()
	opinions := convo.NewOpinions(filepath.Join(*dataDir, "opinions.json"))
	opinions.Load()
	selection := convo.NewSelection(filepath.Join(*dataDir, "current_personalities.json"), persona.Default)
	selection.Load()

	log.Debug("Loaded state")

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Error("Failed to create session", "err", err)
		os.Exit(1)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	dg.StateEnabled = true

	if err := dg.Open(); err != nil {
		log.Error("Failed to open gateway", "err", err)
		os.Exit(1)
	}
	defer dg.Close()

	debugDir := ""
	if *debugAudio {
		debugDir = filepath.Join(*dataDir, "debug_audio")
	}

	b := bot.New(bot.Options{
		Session:         dg,
		Gen:             gen,
		Store:           store,
		Opinions:        opinions,
		Selection:       selection,
		Personas:        personas,
		Downloads:       download.New(filepath.Join(*dataDir, "temp")),
		ProactiveGuilds: config.ProactiveGuilds(),
		VoiceGuilds:     config.VoiceGuilds(),
		FFmpegBin:       config.FFmpegBin(),
		WorkerBin:       config.OpusWorkerBin(),
		DebugAudioDir:   debugDir,
	})
	b.Run()
	defer b.Close()

	saveAll := func() {
		if err := store.Save(); err != nil {
			log.Error("conversation save failed", "err", err)
		}
		if err := opinions.Save(); err != nil {
			log.Error("opinion save failed", "err", err)
		}
		if err := selection.Save(); err != nil {
			log.Error("persona selection save failed", "err", err)
		}
	}

	// Last-resort safety net: capture state before dying on anything
	// unrecoverable.
	defer func() {
		if r := recover(); r != nil {
			log.Error("Unrecoverable failure, saving state", "panic", r)
			saveAll()
			os.Exit(1)
		}
	}()

	if err := ipc.StartServer(func(msg ipc.ControlMessage) {
		switch msg.Cmd {
		case ipc.CmdSave:
			saveAll()
			log.Info("State saved on request")
		case ipc.CmdLeave:
			b.LeaveVoice()
			log.Info("Left voice channels on request")
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
		}
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Boot up - successful")

	for {
		select {
		case <-ticker.C:
			saveAll()
		case s := <-sig:
			log.Info("Shutting down", "signal", s.String())
			store.Close()
			saveAll()
			return
		}
	}
}

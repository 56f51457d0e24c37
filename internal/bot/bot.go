// Package bot is the response orchestrator: it watches the platform
// event stream, decides which messages deserve a reply, assembles model
// context and emits generated responses back to chat.
package bot

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"google.golang.org/genai"

	"doji/internal/convo"
	"doji/internal/download"
	"doji/internal/persona"
)

const (
	readDelay      = 2 * time.Second
	typingDuration = 3 * time.Second
	authorCooldown = 3 * time.Second

	proactiveEvery  = 3
	proactiveChance = 0.15

	reactionChance      = 0.05
	reactionReplyChance = 0.20
)

// Generator is the slice of the generation client the orchestrator uses.
type Generator interface {
	Generate(ctx context.Context, history []*genai.Content, systemInstruction, sessionID string) string
	Decide(ctx context.Context, recent []*genai.Content, systemInstruction string) bool
}

// gateway covers the REST surface the orchestrator talks to. The live
// *discordgo.Session satisfies it; tests swap in a scripted fake.
type gateway interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

type Options struct {
	Session   *discordgo.Session
	Gen       Generator
	Store     *convo.Store
	Opinions  *convo.Opinions
	Selection *convo.Selection
	Personas  *persona.Loader
	Downloads *download.Downloader

	ProactiveGuilds []string
	VoiceGuilds     []string

	FFmpegBin     string
	WorkerBin     string
	DebugAudioDir string
}

type Bot struct {
	dg  *discordgo.Session
	api gateway
	gen Generator

	store     *convo.Store
	opinions  *convo.Opinions
	selection *convo.Selection
	personas  *persona.Loader
	downloads *download.Downloader

	userID          string
	proactiveGuilds map[string]struct{}
	voice           *voiceManager

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	msgCounts map[string]int

	// overridable in tests
	readDelay      time.Duration
	typingDuration time.Duration
	cooldown       time.Duration
	randFloat      func() float64
}

func New(opts Options) *Bot {
	b := &Bot{
		dg:              opts.Session,
		gen:             opts.Gen,
		store:           opts.Store,
		opinions:        opts.Opinions,
		selection:       opts.Selection,
		personas:        opts.Personas,
		downloads:       opts.Downloads,
		proactiveGuilds: make(map[string]struct{}, len(opts.ProactiveGuilds)),
		lastSeen:        make(map[string]time.Time),
		msgCounts:       make(map[string]int),
		readDelay:       readDelay,
		typingDuration:  typingDuration,
		cooldown:        authorCooldown,
		randFloat:       rand.Float64,
	}
	if opts.Session != nil {
		b.api = opts.Session
	}
	for _, id := range opts.ProactiveGuilds {
		b.proactiveGuilds[id] = struct{}{}
	}
	b.voice = newVoiceManager(b, opts.VoiceGuilds, opts.FFmpegBin, opts.WorkerBin, opts.DebugAudioDir)
	return b
}

// Run registers the event handlers and starts the voice channel checker.
// The session must already be open.
func (b *Bot) Run() {
	b.userID = b.dg.State.User.ID
	b.dg.AddHandler(b.handleMessageCreate)
	b.dg.AddHandler(b.handleReactionAdd)
	b.voice.start()
	slog.Info("orchestrator running", "user", b.userID)
}

// Close stops the voice manager and drops any in-flight voice buffers.
func (b *Bot) Close() {
	b.voice.stopAll()
}

// LeaveVoice disconnects from every voice channel, for the ipc control
// command.
func (b *Bot) LeaveVoice() {
	b.voice.leaveAll()
}

// chance rolls an independent probability in [0,1].
func (b *Bot) chance(p float64) bool {
	return b.randFloat() <= p
}

// cooldownOK records the author's message time and reports whether it
// falls outside the per-author cooldown window.
func (b *Bot) cooldownOK(authorID string) bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.lastSeen[authorID]; ok && now.Sub(last) < b.cooldown {
		return false
	}
	b.lastSeen[authorID] = now
	return true
}

// bumpCount advances the per-channel counter behind the every-3rd
// proactive join check.
func (b *Bot) bumpCount(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgCounts[channelID]++
	return b.msgCounts[channelID]
}

// send posts to a channel, logging rather than propagating failures.
func (b *Bot) send(channelID, content string) bool {
	if b.api == nil || content == "" {
		return false
	}
	if _, err := b.api.ChannelMessageSend(channelID, content); err != nil {
		slog.Error("channel send failed", "channel", channelID, "err", err)
		return false
	}
	return true
}

// mirrorToGuild posts a copy to the first text channel in the guild the
// account can speak in.
func (b *Bot) mirrorToGuild(guildID, content string) {
	if b.api == nil || guildID == "" {
		return
	}
	channels, err := b.api.GuildChannels(guildID)
	if err != nil {
		slog.Warn("guild channel listing failed", "guild", guildID, "err", err)
		return
	}
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		perms, err := b.api.UserChannelPermissions(b.userID, ch.ID)
		if err != nil || perms&discordgo.PermissionSendMessages == 0 {
			continue
		}
		b.send(ch.ID, content)
		return
	}
	slog.Warn("no sendable text channel in guild", "guild", guildID)
}

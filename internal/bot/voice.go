package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"google.golang.org/genai"

	"doji/internal/voice"
	"doji/pkg/timers"
)

const (
	vcCheckInterval = 5 * time.Minute
	vcJoinChance    = 0.05
	aloneLeaveDelay = 30 * time.Second

	vcGreeting = "Hello everyone! I've joined the voice channel."

	sttSystemInstruction = "You are a helpful AI assistant. Your primary task is to accurately transcribe spoken words from audio."
)

// voiceManager joins active voice channels in the configured guilds,
// pipes speaker audio through the capture pipeline and relays responses
// to a guild text channel.
type voiceManager struct {
	bot    *Bot
	guilds []string

	ffmpegBin string
	workerBin string
	debugDir  string

	timers *timers.Set
	stop   chan struct{}

	mu    sync.Mutex
	conns map[string]*voiceConn
}

type voiceConn struct {
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection
	pipeline  *voice.Pipeline
	done      chan struct{}

	mu   sync.Mutex
	ssrc map[uint32]string
}

func newVoiceManager(b *Bot, guilds []string, ffmpegBin, workerBin, debugDir string) *voiceManager {
	return &voiceManager{
		bot:       b,
		guilds:    guilds,
		ffmpegBin: ffmpegBin,
		workerBin: workerBin,
		debugDir:  debugDir,
		timers:    timers.NewSet(),
		stop:      make(chan struct{}),
		conns:     make(map[string]*voiceConn),
	}
}

func (m *voiceManager) start() {
	if len(m.guilds) == 0 || m.bot.dg == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(vcCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, gid := range m.guilds {
					m.check(gid)
				}
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *voiceManager) stopAll() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.timers.Stop()
	m.leaveAll()
}

func (m *voiceManager) leaveAll() {
	m.mu.Lock()
	conns := make([]*voiceConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*voiceConn)
	m.mu.Unlock()

	for _, c := range conns {
		close(c.done)
		c.pipeline.Close()
		if err := c.vc.Disconnect(); err != nil {
			slog.Warn("voice disconnect failed", "guild", c.guildID, "err", err)
		}
	}
}

// check either watches an existing connection for loneliness or rolls
// the join chance against the busiest voice channel in the guild.
func (m *voiceManager) check(guildID string) {
	m.mu.Lock()
	conn := m.conns[guildID]
	m.mu.Unlock()

	if conn != nil {
		if m.humansIn(guildID, conn.channelID) == 0 {
			slog.Info("alone in voice channel, scheduling leave", "guild", guildID)
			m.timers.Schedule("alone/"+guildID, aloneLeaveDelay, func() {
				if m.humansIn(guildID, conn.channelID) == 0 {
					m.leave(guildID)
				}
			})
		} else {
			m.timers.Cancel("alone/" + guildID)
		}
		return
	}

	// One voice channel at a time across all target guilds.
	if m.connectedAnywhere() {
		return
	}

	channelID, humans := m.busiestChannel(guildID)
	if channelID == "" || humans == 0 {
		return
	}
	if !m.bot.chance(vcJoinChance) {
		return
	}
	m.join(guildID, channelID)
}

func (m *voiceManager) connectedAnywhere() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns) > 0
}

// humansIn counts non-bot members in a voice channel, from gateway state.
func (m *voiceManager) humansIn(guildID, channelID string) int {
	g, err := m.bot.dg.State.Guild(guildID)
	if err != nil {
		return 0
	}
	count := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == m.bot.userID {
			continue
		}
		if member, err := m.bot.dg.State.Member(guildID, vs.UserID); err == nil &&
			member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}

func (m *voiceManager) busiestChannel(guildID string) (string, int) {
	g, err := m.bot.dg.State.Guild(guildID)
	if err != nil {
		return "", 0
	}
	counts := make(map[string]int)
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == "" || vs.UserID == m.bot.userID {
			continue
		}
		if member, err := m.bot.dg.State.Member(guildID, vs.UserID); err == nil &&
			member.User != nil && member.User.Bot {
			continue
		}
		counts[vs.ChannelID]++
	}
	best, bestCount := "", 0
	for id, n := range counts {
		if n > bestCount {
			best, bestCount = id, n
		}
	}
	return best, bestCount
}

func (m *voiceManager) join(guildID, channelID string) {
	vc, err := m.bot.dg.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		slog.Error("voice join failed", "guild", guildID, "channel", channelID, "err", err)
		return
	}
	slog.Info("joined voice channel", "guild", guildID, "channel", channelID)

	conn := &voiceConn{
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		done:      make(chan struct{}),
		ssrc:      make(map[uint32]string),
	}
	conn.pipeline = voice.New(voice.Config{
		DebugDir:   m.debugDir,
		Decoder:    &voice.WorkerDecoder{Bin: m.workerBin},
		Transcoder: &voice.FFmpeg{Bin: m.ffmpegBin},
		Transcribe: m.transcribe,
		OnSpeech: func(userID, text string) {
			m.speechResponse(guildID, userID, text)
		},
	})

	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		conn.mu.Lock()
		conn.ssrc[uint32(su.SSRC)] = su.UserID
		conn.mu.Unlock()
		if !su.Speaking {
			conn.pipeline.HandleStreamEnd(su.UserID)
		}
	})

	m.mu.Lock()
	m.conns[guildID] = conn
	m.mu.Unlock()

	go conn.recvLoop(m.bot.userID)
	m.bot.mirrorToGuild(guildID, vcGreeting)
}

func (m *voiceManager) leave(guildID string) {
	m.mu.Lock()
	conn := m.conns[guildID]
	delete(m.conns, guildID)
	m.mu.Unlock()
	if conn == nil {
		return
	}
	close(conn.done)
	conn.pipeline.Close()
	if err := conn.vc.Disconnect(); err != nil {
		slog.Warn("voice disconnect failed", "guild", guildID, "err", err)
	}
	slog.Info("left voice channel", "guild", guildID)
}

// recvLoop feeds incoming opus packets to the pipeline until the
// connection is retired. The receive channel is never closed on
// disconnect, so done is the only exit.
func (c *voiceConn) recvLoop(selfID string) {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			c.mu.Lock()
			userID := c.ssrc[pkt.SSRC]
			c.mu.Unlock()
			if userID == "" || userID == selfID {
				continue
			}
			c.pipeline.HandleFrame(userID, pkt.Opus)
		}
	}
}

// transcribe sends the encoded batch inline to the generation client
// with the fixed transcription instruction.
func (m *voiceManager) transcribe(ctx context.Context, audio []byte, userID string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(fmt.Sprintf(
			"Transcribe the spoken words from this audio from user %s. Focus only on actual human speech. If no human speech is detected, respond with \"no speech detected\". Be concise.",
			userID)),
		genai.NewPartFromBytes(audio, voice.MimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return m.bot.gen.Generate(ctx, contents, sttSystemInstruction, ""), nil
}

// speechResponse answers transcribed speech in a guild text channel with
// the guild's active persona.
func (m *voiceManager) speechResponse(guildID, userID, text string) {
	personaKey := m.bot.selection.Get(guildID)
	sysInstr, err := m.bot.personas.Instructions(personaKey)
	if err != nil {
		slog.Error("persona instructions unavailable", "persona", personaKey, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf("User in VC said: %q", text), genai.RoleUser),
	}
	reply := m.bot.gen.Generate(ctx, contents, sysInstr, "")
	if reply == "" {
		return
	}
	slog.Info("voice response", "guild", guildID, "user", userID)
	m.bot.mirrorToGuild(guildID, reply)
}

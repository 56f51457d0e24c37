package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"google.golang.org/genai"
)

const (
	defaultPrompt   = "Hey! What's up?"
	continuePrompt  = "Continue the conversation naturally."
	excerptLimit    = 200
	recentFetchSize = 15
	responseTimeout = 2 * time.Minute
)

var emojis = []string{"👍", "❤️", "😂", "🤔", "✨", "💯", "👀", "🚀", "🎉", "🤩", "🔥", "✅", "🤯", "🤩"}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.userID {
		return
	}

	chType := b.channelType(m)
	isDM := chType == discordgo.ChannelTypeDM
	isGroupDM := chType == discordgo.ChannelTypeGroupDM

	// DMs key conversation state to the user, everything else to the channel.
	contextID := m.ChannelID
	if isDM {
		contextID = m.Author.ID
	}

	if b.handleCommand(m, contextID) {
		return
	}

	pinged := strings.Contains(m.Content, "<@"+b.userID+">") ||
		strings.Contains(m.Content, "<@!"+b.userID+">")
	cleaned := cleanContent(m.Content, b.userID, isDM)
	hasContent := cleaned != "" || len(m.Attachments) > 0

	personaKey := b.selection.Get(contextID)
	sysInstr, err := b.personas.Instructions(personaKey)
	if err != nil {
		slog.Error("persona instructions unavailable", "persona", personaKey, "err", err)
		return
	}

	text := cleaned
	respond := false
	switch {
	case isDM:
		respond = true
		if !hasContent {
			text = defaultPrompt
		}
		b.store.Append(contextID, m.ChannelID, personaKey, m.Content, m.Author.ID)
	case pinged:
		respond = true
		if !hasContent {
			text = defaultPrompt
		}
		b.store.Append(contextID, m.ChannelID, personaKey, cleaned, m.Author.ID)
	case b.store.IsActive(contextID, m.ChannelID):
		respond = true
		b.store.Append(contextID, m.ChannelID, personaKey, m.Content, m.Author.ID)
	default:
		if b.maybeJoin(m, isGroupDM, sysInstr) {
			respond = true
			b.store.Append(contextID, m.ChannelID, personaKey, m.Content, m.Author.ID)
		}
	}
	if !respond {
		return
	}
	if !b.cooldownOK(m.Author.ID) {
		slog.Debug("message dropped inside cooldown", "author", m.Author.ID)
		return
	}

	b.respond(m, contextID, personaKey, sysInstr, text)
}

// maybeJoin implements the proactive path for messages that hit no other
// trigger: every 3rd message in an eligible surface, a 15% roll, then the
// model itself decides from the recent channel history.
func (b *Bot) maybeJoin(m *discordgo.MessageCreate, isGroupDM bool, sysInstr string) bool {
	count := b.bumpCount(m.ChannelID)

	eligible := isGroupDM
	if !eligible && m.GuildID != "" {
		_, eligible = b.proactiveGuilds[m.GuildID]
	}
	if !eligible || count%proactiveEvery != 0 {
		return false
	}
	if !b.chance(proactiveChance) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()
	return b.gen.Decide(ctx, b.recentContents(m), sysInstr)
}

// recentContents fetches the channel tail for the join decision, oldest
// first. On any failure the current message alone has to do.
func (b *Bot) recentContents(m *discordgo.MessageCreate) []*genai.Content {
	fallback := []*genai.Content{genai.NewContentFromText(m.Content, genai.RoleUser)}
	if b.api == nil {
		return fallback
	}
	msgs, err := b.api.ChannelMessages(m.ChannelID, recentFetchSize, "", "", "")
	if err != nil || len(msgs) == 0 {
		return fallback
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		role := genai.Role(genai.RoleUser)
		if msgs[i].Author != nil && msgs[i].Author.ID == b.userID {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msgs[i].Content, role))
	}
	return contents
}

func (b *Bot) respond(m *discordgo.MessageCreate, contextID, personaKey, sysInstr, text string) {
	time.Sleep(b.readDelay)
	if b.api != nil {
		if err := b.api.ChannelTyping(m.ChannelID); err != nil {
			slog.Warn("typing indicator failed", "channel", m.ChannelID, "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	parts := b.messageParts(ctx, text, m.Attachments)
	if len(parts) == 0 {
		slog.Debug("nothing usable to send to the model", "channel", m.ChannelID)
		return
	}

	mentioned := b.mentionedUser(m)
	contents := b.assembleContext(contextID, m, personaKey, mentioned, parts)

	prompt := continuePrompt
	if mentioned != nil {
		prompt = fmt.Sprintf("The current user is asking about %s (%s). Please provide your thoughts on this user, incorporating any previous opinions you might have of them. If you form a new or updated opinion, summarize it concisely at the end of your response, starting with \"My opinion of %s is: \"",
			mentioned.Username, mentioned.ID, mentioned.Username)
	}

	started := time.Now()
	reply := b.gen.Generate(ctx, contents, sysInstr+"\n"+prompt, contextID+"-"+personaKey)
	// Hold the typing illusion even when generation returns instantly.
	if remain := b.typingDuration - time.Since(started); remain > 0 {
		time.Sleep(remain)
	}

	if mentioned != nil {
		if opinion, cleaned := extractOpinion(reply, mentioned.Username); opinion != "" {
			b.opinions.Record(mentioned.ID, personaKey, opinion)
			reply = cleaned
		}
	}
	if reply == "" {
		return
	}

	if !b.send(m.ChannelID, reply) {
		return
	}
	b.mirrorToGuild(m.GuildID, reply)
	if b.chance(reactionChance) {
		b.react(m.ChannelID, m.ID)
	}
	b.store.Append(contextID, m.ChannelID, personaKey, reply, b.userID)
}

/// assembleContext builds the model input: opinion preamble, stored
// history, the replied-to excerpt and finally the current message parts.
func (b *Bot) assembleContext(contextID string, m *discordgo.MessageCreate, personaKey string, mentioned *discordgo.User, parts []*genai.Part) []*genai.Content {
	var contents []*genai.Content

	if mentioned != nil {
		if opinion, ok := b.opinions.Get(mentioned.ID, personaKey); ok {
			contents = append(contents,
				genai.NewContentFromText(fmt.Sprintf("My previous opinion about %s (%s) is: %q",
					mentioned.Username, mentioned.ID, opinion), genai.RoleUser),
				genai.NewContentFromText(fmt.Sprintf("Understood, considering my previous thoughts on %s.",
					mentioned.Username), genai.RoleModel))
		}
	}

	for _, turn := range b.store.History(contextID, m.ChannelID, personaKey) {
		role := genai.Role(genai.RoleUser)
		if turn.AuthorID == b.userID {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	if excerpt := b.repliedExcerpt(m); excerpt != "" {
		contents = append(contents, genai.NewContentFromText(excerpt, genai.RoleUser))
	}

	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
}

// repliedExcerpt annotates a reply with a truncated quote of its target.
func (b *Bot) repliedExcerpt(m *discordgo.MessageCreate) string {
	ref := m.MessageReference
	if ref == nil || ref.MessageID == "" || b.api == nil {
		return ""
	}
	replied, err := b.api.ChannelMessage(m.ChannelID, ref.MessageID)
	if err != nil || replied == nil || replied.Content == "" {
		return ""
	}
	content := replied.Content
	suffix := ""
	if len(content) > excerptLimit {
		content = truncate(content, excerptLimit)
		suffix = "..."
	}
	author := ""
	if replied.Author != nil {
		author = fmt.Sprintf("%s (%s)", replied.Author.Username, replied.Author.ID)
	}
	return fmt.Sprintf("(In reply to %s: %q)", author, content+suffix)
}

// mentionedUser resolves the first mention that is not the account itself.
func (b *Bot) mentionedUser(m *discordgo.MessageCreate) *discordgo.User {
	for _, match := range mentionPattern.FindAllStringSubmatch(m.Content, -1) {
		if match[1] == b.userID {
			continue
		}
		if b.api == nil {
			return nil
		}
		user, err := b.api.User(match[1])
		if err != nil {
			return nil
		}
		return user
	}
	return nil
}

func (b *Bot) react(channelID, messageID string) {
	if b.api == nil {
		return
	}
	emoji := emojis[int(b.randFloat()*float64(len(emojis)))%len(emojis)]
	if err := b.api.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		slog.Warn("reaction failed", "channel", channelID, "err", err)
	}
}

func (b *Bot) channelType(m *discordgo.MessageCreate) discordgo.ChannelType {
	if m.GuildID != "" {
		return discordgo.ChannelTypeGuildText
	}
	if b.api != nil {
		if ch, err := b.api.Channel(m.ChannelID); err == nil {
			return ch.Type
		}
	}
	return discordgo.ChannelTypeDM
}

// truncate cuts s to at most limit bytes without splitting a rune,
// backing up to the nearest rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// cleanContent strips the account mention outside DMs and trims space.
func cleanContent(content, botID string, isDM bool) string {
	if isDM {
		return strings.TrimSpace(content)
	}
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

// extractOpinion pulls a trailing "My opinion of <name> is: ..." summary
// out of a response, returning the opinion and the outward text with the
// summary removed.
func extractOpinion(response, username string) (opinion, cleaned string) {
	re := regexp.MustCompile(`(?i)My opinion of ` + regexp.QuoteMeta(username) + ` is: (.*)`)
	match := re.FindStringSubmatch(response)
	if match == nil {
		return "", response
	}
	return strings.TrimSpace(match[1]), strings.TrimSpace(re.ReplaceAllString(response, ""))
}

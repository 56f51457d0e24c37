package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"google.golang.org/genai"
)

// handleReactionAdd gives reactions on the account's own guild messages
// a 20% chance at a follow-up, gated by the model's own judgement.
func (b *Bot) handleReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == b.userID || r.GuildID == "" {
		return
	}
	if !b.chance(reactionReplyChance) {
		return
	}
	if b.api == nil {
		return
	}

	msg, err := b.api.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil || msg == nil || msg.Author == nil || msg.Author.ID != b.userID {
		return
	}

	contextID := r.ChannelID
	personaKey := b.selection.Get(contextID)
	sysInstr, err := b.personas.Instructions(personaKey)
	if err != nil {
		slog.Error("persona instructions unavailable", "persona", personaKey, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	recent := []*genai.Content{
		genai.NewContentFromText(msg.Content, genai.RoleModel),
		genai.NewContentFromText(fmt.Sprintf("I (the user) reacted to your previous message with a %s emoji.",
			r.Emoji.Name), genai.RoleUser),
	}
	if !b.gen.Decide(ctx, recent, sysInstr) {
		return
	}
	slog.Info("responding to reaction", "channel", r.ChannelID, "emoji", r.Emoji.Name)

	time.Sleep(b.readDelay)
	if err := b.api.ChannelTyping(r.ChannelID); err != nil {
		slog.Warn("typing indicator failed", "channel", r.ChannelID, "err", err)
	}

	excerpt := truncate(msg.Content, 50)
	current := fmt.Sprintf("I just reacted to your previous message (the one that says %q...) with a %s emoji. What do you think about that reaction?",
		excerpt, r.Emoji.Name)

	var contents []*genai.Content
	for _, turn := range b.store.History(contextID, r.ChannelID, personaKey) {
		role := genai.Role(genai.RoleUser)
		if turn.AuthorID == b.userID {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(current, genai.RoleUser))

	started := time.Now()
	reply := b.gen.Generate(ctx, contents, sysInstr, contextID+"-"+personaKey)
	if remain := b.typingDuration - time.Since(started); remain > 0 {
		time.Sleep(remain)
	}
	if reply == "" {
		return
	}
	if b.send(r.ChannelID, reply) {
		b.store.Append(contextID, r.ChannelID, personaKey, reply, b.userID)
	}
}

package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"doji/internal/persona"
)

const personalityUsage = "Please specify a personality. Usage: `!personality [Doji|Whimsy|Sandbox|Serena]`"

var serenaLinks = []string{
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018003758288938/v24044gl0000cvhed2vog65qvpv3fmsg.mov?ex=6850e6b5&is=684f9535&hm=d3bf7e58fc3c4131a308bf40714699ddd2eb384208953153b111527556382b12&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018133320470659/v09044g40000cdo6p8jc77udo7tdurng.mov?ex=6850e6d4&is=684f9554&hm=3335e21412059b968ef169348ffc9abbe7fc0232394bdeefd60f7256bc028505&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018406856196188/v09044g40000cg120p3c77u6sf7sdv0g.mov?ex=6850e716&is=684f9596&hm=1d01b40aa4fa4e3dcb8ac3cde9e53df05d805901914e090868223bb8355c1484&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018512636547192/v14044g50000cvtrdmnog65qf1anai20.mov?ex=6850e72f&is=684f95af&hm=e8afa718f4d5094484055db3a1f97a67ccb602dfc9020517517c6eafd67dad93&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018583922671676/v14025g50000d0grtf7og65vjlemdfcg.mov?ex=6850e740&is=684f95c0&hm=b1196a319a79b7ee577c096e375994bd05895c5fc55276a5a9ba7f0ec1999a7f&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018666969895013/v12044gd0000cggagvbc77u4jk34r9t0.mov?ex=6850e754&is=684f95d4&hm=d45e0a88ae67de2dfe7ff7e11d130b6e459b3f1c66e6929e50f81942a4074b53&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018764495982602/v14044g50000ctq8la7og65pbdm8glgg.mov?ex=6850e76b&is=684f95eb&hm=767986f09b76dd1ec9843d9e233415d2894939f033159d5e70f89d84de8b5ebc&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018876341289032/v24044gl0000cv5hmkvog65o8orjshn0.mov?ex=6850e785&is=684f9605&hm=e5ad3b4c8fe511f0b1be6de723156ff5da2a8228ada636b463c5d13bb9184036&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018941004742686/v15044gf0000cvbmmlvog65gsjg939o0.mov?ex=6850e795&is=684f9615&hm=5c0de8b430494e42438a00f9e83e8494355f9c538217048aed02665fa518ae4d&",
	"https://cdn.discordapp.com/attachments/1070139232074612838/1384018999397978122/v14044g50000d033irnog65i42d52o2g.mov?ex=6850e7a3&is=684f9623&hm=d26a85c35609afead005f2ff89507446c4826ac56f0d339d72bbca75ff4f5418&",
}

// handleCommand intercepts command messages ahead of any response logic.
// It reports whether the message was consumed.
func (b *Bot) handleCommand(m *discordgo.MessageCreate, contextID string) bool {
	lower := strings.ToLower(m.Content)
	switch {
	case strings.HasPrefix(lower, "!personality"):
		b.personalityCommand(m, contextID)
		return true
	case lower == "!serena":
		b.send(m.ChannelID, serenaLinks[int(b.randFloat()*float64(len(serenaLinks)))%len(serenaLinks)])
		return true
	}
	return false
}

// personalityCommand switches the active persona for the context, clears
// that persona's history there for a fresh start and confirms in-channel.
func (b *Bot) personalityCommand(m *discordgo.MessageCreate, contextID string) {
	fields := strings.Fields(m.Content)
	if len(fields) < 2 {
		b.send(m.ChannelID, personalityUsage)
		return
	}

	p, ok := persona.Lookup(fields[1])
	if !ok {
		b.send(m.ChannelID, fmt.Sprintf("Personality %q not found. Available personalities: %s.",
			fields[1], strings.Join(persona.Names(), ", ")))
		return
	}

	key := strings.ToLower(fields[1])
	b.selection.Set(contextID, key)
	b.store.ClearHistory(contextID, m.ChannelID, key)
	slog.Info("persona switched", "context", contextID, "persona", key)
	b.send(m.ChannelID, p.Confirmation)
}

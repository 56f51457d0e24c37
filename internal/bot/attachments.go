package bot

import (
	"context"
	"log/slog"
	"os"

	"github.com/bwmarrin/discordgo"
	"google.golang.org/genai"
)

// supportedMIMETypes is the set of attachment types the model accepts
// inline.
var supportedMIMETypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	"image/bmp": true, "image/tiff": true, "image/x-icon": true, "image/heic": true,
	"image/heif": true,
	"video/mp4": true, "video/mpeg": true, "video/webm": true, "video/quicktime": true,
	"video/x-flv": true, "video/x-msvideo": true, "video/3gpp": true,
	"audio/mpeg": true, "audio/wav": true, "audio/ogg": true, "audio/aac": true,
	"audio/flac": true, "audio/opus": true, "audio/x-m4a": true, "audio/webm": true,
}

// messageParts builds the current-message parts: the text (if any) plus
// an inline part per supported attachment. Scratch files are removed no
// matter how the download or read goes.
func (b *Bot) messageParts(ctx context.Context, text string, attachments []*discordgo.MessageAttachment) []*genai.Part {
	var parts []*genai.Part
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}

	for _, att := range attachments {
		if !supportedMIMETypes[att.ContentType] {
			slog.Debug("skipping unsupported attachment", "name", att.Filename, "type", att.ContentType)
			continue
		}
		part := b.attachmentPart(ctx, att)
		if part != nil {
			parts = append(parts, part)
		}
	}
	return parts
}

func (b *Bot) attachmentPart(ctx context.Context, att *discordgo.MessageAttachment) *genai.Part {
	if b.downloads == nil {
		return nil
	}
	path, err := b.downloads.Fetch(ctx, att.URL, att.Filename)
	if err != nil {
		slog.Error("attachment download failed", "name", att.Filename, "err", err)
		return nil
	}
	defer b.downloads.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("attachment read failed", "path", path, "err", err)
		return nil
	}
	return genai.NewPartFromBytes(data, att.ContentType)
}

// Package config reads daemon settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// DiscordToken returns the bot token.
func DiscordToken() string {
	return os.Getenv("DISCORD_TOKEN")
}

// GeminiModel returns the model name, defaulting to gemini-2.0-flash.
func GeminiModel() string {
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		return "gemini-2.0-flash"
	}
	return model
}

// GeminiAPIKeys collects GEMINI_API_KEY and GEMINI_API_KEY_1..9, skipping
// unset entries. The pool order is the rotation order.
func GeminiAPIKeys() []string {
	var keys []string
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		keys = append(keys, k)
	}
	for i := 1; i <= 9; i++ {
		if k := os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// PersonaDir is where the persona text files live.
func PersonaDir() string {
	dir := os.Getenv("PERSONA_DIR")
	if dir == "" {
		return "config"
	}
	return dir
}

// FFmpegBin returns the ffmpeg executable to invoke for transcoding.
func FFmpegBin() string {
	bin := os.Getenv("FFMPEG_BIN")
	if bin == "" {
		return "ffmpeg"
	}
	return bin
}

// OpusWorkerBin returns the opus decode worker executable.
func OpusWorkerBin() string {
	bin := os.Getenv("OPUSWORKER_BIN")
	if bin == "" {
		return "opusworker"
	}
	return bin
}

// VoiceGuilds lists guild IDs eligible for voice channel joining.
func VoiceGuilds() []string {
	return splitIDs(os.Getenv("VOICE_GUILD_IDS"))
}

// ProactiveGuilds lists guild IDs where the bot may join conversations
// uninvited.
func ProactiveGuilds() []string {
	return splitIDs(os.Getenv("PROACTIVE_GUILD_IDS"))
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// Package persona holds the named instruction bundles that shape generated
// responses. Each persona resolves to three text files under the config
// directory; a missing persona falls back to the default one.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const Default = "doji"

type Persona struct {
	Name         string
	Confirmation string

	personalityFile   string
	characterInfoFile string
	promptFile        string
}

var registry = map[string]Persona{
	"doji": {
		Name:              "Doji",
		Confirmation:      "yo wsg doji here",
		personalityFile:   "doji_personality.txt",
		characterInfoFile: "doji_characterInfo.txt",
		promptFile:        "doji_prompt.txt",
	},
	"whimsy": {
		Name:              "Whimsy",
		Confirmation:      "Hey there fam! What's poppin'? :smile::wave: How can I make your day a little more fabulous? :rainbow::tada:",
		personalityFile:   "whimsy_personality.txt",
		characterInfoFile: "whimsy_characterInfo.txt",
		promptFile:        "whimsy_prompt.txt",
	},
	"sandbox": {
		Name:              "Sandbox",
		Confirmation:      "doji schizophrenia activated",
		personalityFile:   "sandbox_personality.txt",
		characterInfoFile: "sandbox_characterInfo.txt",
		promptFile:        "sandbox_prompt.txt",
	},
	"serena": {
		Name:              "Serena",
		Confirmation:      "serena power activated!!!",
		personalityFile:   "serena_personality.txt",
		characterInfoFile: "serena_characterInfo.txt",
		promptFile:        "serena_prompt.txt",
	},
}

// Lookup resolves a persona by its lowercase key.
func Lookup(name string) (Persona, bool) {
	p, ok := registry[strings.ToLower(name)]
	return p, ok
}

// Names returns the display names of all personas, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, p := range registry {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Loader reads persona instruction files from a directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Instructions returns the combined system instructions for a persona:
// personality, character info and prompt blocks joined in order. Unknown
// personas and personas with unreadable files fall back to the default;
// an unreadable default is an error.
func (l *Loader) Instructions(name string) (string, error) {
	key := strings.ToLower(name)
	p, ok := registry[key]
	if !ok {
		return l.Instructions(Default)
	}

	blocks := make([]string, 0, 3)
	for _, file := range []string{p.personalityFile, p.characterInfoFile, p.promptFile} {
		data, err := os.ReadFile(filepath.Join(l.dir, file))
		if err != nil {
			if key != Default {
				return l.Instructions(Default)
			}
			return "", fmt.Errorf("load default persona %q: %w", Default, err)
		}
		blocks = append(blocks, string(data))
	}

	return strings.Join(blocks, "\n\n"), nil
}

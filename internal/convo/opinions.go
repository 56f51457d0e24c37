package convo

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Opinions stores the free-text opinion each persona has formed about a
// user. Lifecycle is independent of conversation history: clearing a
// channel's history leaves opinions intact.
type Opinions struct {
	mu     sync.Mutex
	path   string
	m      map[string]map[string]string // subject -> persona -> text
	saving atomic.Bool
}

func NewOpinions(path string) *Opinions {
	return &Opinions{
		path: path,
		m:    make(map[string]map[string]string),
	}
}

func (o *Opinions) Load() {
	o.mu.Lock()
	defer o.mu.Unlock()
	loadJSON(o.path, &o.m)
	slog.Info("opinions loaded", "path", o.path, "subjects", len(o.m))
}

// Record overwrites the persona's opinion about a subject and requests a
// save.
func (o *Opinions) Record(subjectID, personaName, text string) {
	o.mu.Lock()
	personas, ok := o.m[subjectID]
	if !ok {
		personas = make(map[string]string)
		o.m[subjectID] = personas
	}
	personas[personaName] = text
	o.mu.Unlock()

	o.requestSave()
}

// Get returns the stored opinion, if any.
func (o *Opinions) Get(subjectID, personaName string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	personas, ok := o.m[subjectID]
	if !ok {
		return "", false
	}
	text, ok := personas[personaName]
	return text, ok
}

func (o *Opinions) Save() error {
	o.mu.Lock()
	data, err := marshalState(o.path, o.m)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(o.path, data)
}

func (o *Opinions) requestSave() {
	if !o.saving.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer o.saving.Store(false)
		if err := o.Save(); err != nil {
			slog.Error("failed to save opinions", "err", err)
		}
	}()
}

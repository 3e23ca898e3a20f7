package tasks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// paletteHex are the label colors handed out to agents, distinct enough
// to tell apart on the Vikunja board.
var paletteHex = []string{
	"1db954", "e8590c", "1971c2", "9c36b5", "f08c00",
	"0ca678", "e64980", "3b5bdb", "74b816", "d9480f", "5f3dc4",
}

const fallbackHex = "868e96"

// AgentState tracks one agent's label color and how recently it was used.
type AgentState struct {
	HexColor string    `json:"hex_color"`
	LastUsed time.Time `json:"last_used"`
}

// Palette assigns stable label colors to agents and persists the mapping
// as JSON in the clinops state dir.
type Palette struct {
	Agents map[string]*AgentState `json:"agents"`
	Path   string                 `json:"-"`
	dirty  bool
}

// NewPalette loads the palette at path, starting empty when absent.
func NewPalette(path string) (*Palette, error) {
	p := &Palette{
		Agents: make(map[string]*AgentState),
		Path:   path,
	}
	if _, err := os.Stat(path); err == nil {
		if err := p.load(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Palette) load() error {
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(&p.Agents)
}

// Save persists the palette when it changed.
func (p *Palette) Save() error {
	if !p.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(p.Agents); err != nil {
		return err
	}
	p.dirty = false
	return nil
}

// ColorFor returns the agent's color, assigning an unused palette slot on
// first sight. When every slot is taken the least recently used agent's
// color is reused.
func (p *Palette) ColorFor(agent string) string {
	if state, ok := p.Agents[agent]; ok {
		state.LastUsed = time.Now()
		p.dirty = true
		return state.HexColor
	}

	used := make(map[string]bool, len(p.Agents))
	for _, s := range p.Agents {
		used[s.HexColor] = true
	}
	for _, hex := range paletteHex {
		if !used[hex] {
			p.assign(agent, hex)
			return hex
		}
	}

	// Palette exhausted: steal from the agent idle the longest.
	var oldest string
	for name, s := range p.Agents {
		if oldest == "" || s.LastUsed.Before(p.Agents[oldest].LastUsed) {
			oldest = name
		}
	}
	if oldest == "" {
		return fallbackHex
	}
	hex := p.Agents[oldest].HexColor
	p.assign(agent, hex)
	return hex
}

func (p *Palette) assign(agent, hex string) {
	p.Agents[agent] = &AgentState{HexColor: hex, LastUsed: time.Now()}
	p.dirty = true
}

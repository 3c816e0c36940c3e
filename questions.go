package main

import (
	"embed"
	"encoding/json"
	"math/rand/v2"
)

//go:embed packs/*.json
var questionPacks embed.FS

type questionOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// question is immutable once loaded; rounds only ever read it.
type question struct {
	Prompt  string           `json:"prompt"`
	Options []questionOption `json:"options"`
	Correct string           `json:"correct"`
}

// questionView is the client-facing shape, stripped of the correct label.
type questionView struct {
	Prompt  string           `json:"prompt"`
	Options []questionOption `json:"options"`
}

func (q question) view() questionView {
	return questionView{
		Prompt:  q.Prompt,
		Options: q.Options,
	}
}

type gameMode struct {
	ID         string
	Label      string
	MinPlayers int
	MaxPlayers int
	TimerSec   int
	Couples    bool
}

type gameModeInfo struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (m gameMode) info() gameModeInfo {
	return gameModeInfo{
		ID:         m.ID,
		Label:      m.Label,
		MinPlayers: m.MinPlayers,
		MaxPlayers: m.MaxPlayers,
	}
}

// gameModes is a static lookup table, consulted only when a game is started.
var gameModes = map[string]gameMode{
	"party.quick-quiz": {
		ID:         "party.quick-quiz",
		Label:      "Quick Quiz",
		MinPlayers: 1,
		MaxPlayers: 16,
		TimerSec:   12,
	},
	"party.movie-night": {
		ID:         "party.movie-night",
		Label:      "Movie Night",
		MinPlayers: 2,
		MaxPlayers: 16,
		TimerSec:   12,
	},
	"party.music-drop": {
		ID:         "party.music-drop",
		Label:      "Music Drop",
		MinPlayers: 2,
		MaxPlayers: 16,
		TimerSec:   12,
	},
	"couples.better-half": {
		ID:         "couples.better-half",
		Label:      "Better Half",
		MinPlayers: 2,
		MaxPlayers: 2,
		TimerSec:   20,
		Couples:    true,
	},
}

func gameModeList() []gameModeInfo {
	ids := []string{
		"party.quick-quiz",
		"party.movie-night",
		"party.music-drop",
		"couples.better-half",
	}

	list := make([]gameModeInfo, 0, len(ids))
	for _, id := range ids {
		list = append(list, gameModes[id].info())
	}
	return list
}

// loadPack reads the embedded question pack for a mode. A missing or corrupt
// pack is logged and returned as empty, so a round started against it simply
// ends immediately instead of failing the hub.
func loadPack(cfg *Config, modeID string) []question {
	data, err := questionPacks.ReadFile("packs/" + modeID + ".json")
	if err != nil {
		logf(cfg, "PACKS: Missing question pack for %q: %v", modeID, err)
		return nil
	}

	var questions []question
	if err := json.Unmarshal(data, &questions); err != nil {
		logf(cfg, "PACKS: Corrupt question pack for %q: %v", modeID, err)
		return nil
	}

	return questions
}

// samplePack shuffles a copy of the pack and keeps at most n questions.
func samplePack(pack []question, n int) []question {
	shuffled := make([]question, len(pack))
	copy(shuffled, pack)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if n < 1 {
		n = 1
	}
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

package main

import (
	"testing"
	"time"
)

func TestScoreSpeed_WholeSecondsRemaining(t *testing.T) {
	endsAt := time.Now()

	tests := []struct {
		name      string
		choice    string
		remaining time.Duration
		want      int
	}{
		{"correct with 4.5s left", "C", 4500 * time.Millisecond, 5},
		{"correct with exactly 3s left", "C", 3 * time.Second, 3},
		{"correct at the buzzer", "C", 10 * time.Millisecond, 1},
		{"wrong answer", "B", 4500 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &triviaRound{
				endsAt: endsAt,
				scores: map[string]int{"p1": 0},
				answers: map[string]answerRecord{
					"p1": {choice: tt.choice, at: endsAt.Add(-tt.remaining)},
				},
			}

			r.scoreSpeedLocked(question{Correct: "C"})

			if got := r.scores["p1"]; got != tt.want {
				t.Errorf("score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreSpeed_NonResponderGetsNothing(t *testing.T) {
	r := &triviaRound{
		endsAt:  time.Now(),
		scores:  map[string]int{"p1": 0, "p2": 0},
		answers: map[string]answerRecord{},
	}

	r.scoreSpeedLocked(question{Correct: "C"})

	if r.scores["p1"] != 0 || r.scores["p2"] != 0 {
		t.Error("non-responders should score zero")
	}
}

func TestScoreGuesses_PartnerMatch(t *testing.T) {
	tests := []struct {
		name        string
		selfChoices map[string]string
		guesses     map[string]answerRecord
		wantA       int
		wantB       int
	}{
		{
			name:        "b matches a's self choice",
			selfChoices: map[string]string{"a": "A", "b": "B"},
			guesses: map[string]answerRecord{
				"a": {choice: "D"},
				"b": {choice: "A"},
			},
			wantA: 0,
			wantB: couplesMatchPoints,
		},
		{
			name:        "both match",
			selfChoices: map[string]string{"a": "A", "b": "B"},
			guesses: map[string]answerRecord{
				"a": {choice: "B"},
				"b": {choice: "A"},
			},
			wantA: couplesMatchPoints,
			wantB: couplesMatchPoints,
		},
		{
			name:        "no matches",
			selfChoices: map[string]string{"a": "A", "b": "B"},
			guesses: map[string]answerRecord{
				"a": {choice: "C"},
				"b": {choice: "C"},
			},
			wantA: 0,
			wantB: 0,
		},
		{
			name:        "missing self choices never match",
			selfChoices: map[string]string{},
			guesses: map[string]answerRecord{
				"a": {choice: ""},
				"b": {choice: ""},
			},
			wantA: 0,
			wantB: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &triviaRound{
				participants: []string{"a", "b"},
				selfChoices:  tt.selfChoices,
				answers:      tt.guesses,
				scores:       map[string]int{"a": 0, "b": 0},
			}

			r.scoreGuessesLocked()

			if r.scores["a"] != tt.wantA {
				t.Errorf("a's score = %d, want %d", r.scores["a"], tt.wantA)
			}
			if r.scores["b"] != tt.wantB {
				t.Errorf("b's score = %d, want %d", r.scores["b"], tt.wantB)
			}
		})
	}
}

func TestSubmit_FirstAnswerWins(t *testing.T) {
	h := newTestHub()
	_, pidA := joinTestPlayer(t, h, "Ana")
	joinTestPlayer(t, h, "Leo")

	h.mu.Lock()
	defer h.mu.Unlock()

	r := newTriviaRound(h, gameModes["party.quick-quiz"], 1)
	h.round = r
	r.phase = phaseQuestion
	r.endsAt = time.Now().Add(time.Minute)
	first := time.Now()

	r.submitLocked(pidA, "A")
	r.submitLocked(pidA, "B")

	rec, ok := r.answers[pidA]
	if !ok {
		t.Fatal("answer not recorded")
	}
	if rec.choice != "A" {
		t.Errorf("recorded choice = %q, want first submission %q", rec.choice, "A")
	}
	if rec.at.Before(first) {
		t.Error("recorded timestamp predates first submission")
	}
}

func TestSubmit_OutsideQuestionPhaseIgnored(t *testing.T) {
	h := newTestHub()
	_, pidA := joinTestPlayer(t, h, "Ana")

	h.mu.Lock()
	defer h.mu.Unlock()

	r := newTriviaRound(h, gameModes["party.quick-quiz"], 1)
	h.round = r
	r.phase = phaseReveal

	r.submitLocked(pidA, "A")

	if len(r.answers) != 0 {
		t.Error("answers outside the question phase should be dropped")
	}
}

// autoAnswer reads a client's broadcasts in the background, submitting an
// answer for every question message and forwarding traffic to events when
// the client is the observer.
func autoAnswer(h *triviaHub, c *hubClient, choose func(msgType string) string, events chan<- any) {
	go func() {
		for msg := range c.send {
			if qm, ok := msg.(questionMessage); ok {
				if choice := choose(qm.Type); choice != "" {
					h.answer(c, choice)
				}
			}
			if events != nil {
				select {
				case events <- msg:
				default:
				}
			}
		}
	}()
}

func TestRound_FullQuickQuizFlow(t *testing.T) {
	h := newTestHub()

	cAna, pidAna := joinTestPlayer(t, h, "Ana")
	cLeo, pidLeo := joinTestPlayer(t, h, "Leo")

	events := make(chan any, 1024)
	always := func(string) string { return "A" }
	autoAnswer(h, cAna, always, events)
	autoAnswer(h, cLeo, always, nil)

	h.chooseGame(cAna, "party.quick-quiz")
	h.startGame(cAna, 3)

	var over gameOverMessage
	preCount, questionCount, revealCount := 0, 0, 0
	deadline := time.After(10 * time.Second)

	for over.Type == "" {
		select {
		case msg := <-events:
			switch m := msg.(type) {
			case preQuestionMessage:
				preCount++
			case questionMessage:
				if m.Type == "lbQuestion" {
					questionCount++
				}
			case revealMessage:
				if m.Type == "lbReveal" {
					revealCount++
				}
			case gameOverMessage:
				over = m
			}
		case <-deadline:
			t.Fatal("round did not finish in time")
		}
	}

	if over.Type != "lbGameOver" {
		t.Errorf("game over type = %q, want lbGameOver", over.Type)
	}
	if preCount != 3 || questionCount != 3 || revealCount != 3 {
		t.Errorf("cycle counts pre/question/reveal = %d/%d/%d, want 3/3/3",
			preCount, questionCount, revealCount)
	}

	if len(over.Scores) != 2 {
		t.Fatalf("final scores have %d entries, want 2", len(over.Scores))
	}
	for _, pid := range []string{pidAna, pidLeo} {
		if _, ok := over.Scores[pid]; !ok {
			t.Errorf("final scores missing pid %q", pid)
		}
	}

	h.mu.Lock()
	if h.round != nil {
		t.Error("round should be nil after game over")
	}
	if h.lastSnapshot != nil {
		t.Error("snapshot should be cleared after game over")
	}
	if h.currentGame != "" {
		t.Error("currentGame should be cleared after game over")
	}
	h.mu.Unlock()
}

func TestRound_CouplesTwoPhaseFlow(t *testing.T) {
	h := newTestHub()

	cAna, pidAna := joinTestPlayer(t, h, "Ana")
	cLeo, pidLeo := joinTestPlayer(t, h, "Leo")

	events := make(chan any, 1024)

	// Ana picks "A" for herself and correctly guesses Leo's "B"; Leo's
	// guess of "C" misses Ana's "A".
	autoAnswer(h, cAna, func(msgType string) string {
		switch msgType {
		case "csSelf":
			return "A"
		case "csGuess":
			return "B"
		}
		return ""
	}, events)
	autoAnswer(h, cLeo, func(msgType string) string {
		switch msgType {
		case "csSelf":
			return "B"
		case "csGuess":
			return "C"
		}
		return ""
	}, nil)

	h.chooseGame(cAna, "couples.better-half")
	h.startGame(cAna, 1)

	var over gameOverMessage
	var reveals []revealMessage
	selfCount, guessCount := 0, 0
	deadline := time.After(10 * time.Second)

	for over.Type == "" {
		select {
		case msg := <-events:
			switch m := msg.(type) {
			case questionMessage:
				switch m.Type {
				case "csSelf":
					selfCount++
				case "csGuess":
					guessCount++
				}
			case revealMessage:
				reveals = append(reveals, m)
			case gameOverMessage:
				over = m
			}
		case <-deadline:
			t.Fatal("couples round did not finish in time")
		}
	}

	if over.Type != "csGameOver" {
		t.Errorf("game over type = %q, want csGameOver", over.Type)
	}
	if selfCount != 1 || guessCount != 1 {
		t.Errorf("self/guess phases = %d/%d, want 1/1", selfCount, guessCount)
	}
	if len(reveals) != 2 {
		t.Fatalf("reveal count = %d, want 2", len(reveals))
	}

	// No points may move during the self sub-phase.
	for _, score := range reveals[0].Scores {
		if score != 0 {
			t.Error("self-phase reveal carried a nonzero score")
		}
	}

	if over.Scores[pidAna] != couplesMatchPoints {
		t.Errorf("Ana's score = %d, want %d", over.Scores[pidAna], couplesMatchPoints)
	}
	if over.Scores[pidLeo] != 0 {
		t.Errorf("Leo's score = %d, want 0", over.Scores[pidLeo])
	}
}

func TestRound_DeadlineElapsesWithMissingAnswer(t *testing.T) {
	h := newTestHub()
	h.timing.Question = 250 * time.Millisecond

	cAna, pidAna := joinTestPlayer(t, h, "Ana")
	cLeo, _ := joinTestPlayer(t, h, "Leo")

	events := make(chan any, 1024)
	autoAnswer(h, cAna, func(string) string { return "A" }, events)
	autoAnswer(h, cLeo, func(string) string { return "" }, nil) // never answers

	h.chooseGame(cAna, "party.quick-quiz")
	h.startGame(cAna, 1)

	sawTimer := false
	deadline := time.After(10 * time.Second)

	for {
		select {
		case msg := <-events:
			switch m := msg.(type) {
			case timerMessage:
				sawTimer = true
			case revealMessage:
				if _, ok := m.Picks[pidAna]; !ok {
					t.Error("reveal should include the submitted pick")
				}
				if len(m.Picks) != 1 {
					t.Errorf("picks = %d entries, want only the responder", len(m.Picks))
				}
				if !sawTimer {
					t.Error("no timer broadcast before the deadline reveal")
				}
				return
			}
		case <-deadline:
			t.Fatal("question never revealed after deadline")
		}
	}
}

func TestRound_EmptyPackEndsImmediately(t *testing.T) {
	h := newTestHub()

	cAna, _ := joinTestPlayer(t, h, "Ana")
	drain(cAna.send)

	h.mu.Lock()
	h.currentGame = "party.quick-quiz"
	h.generation++
	r := newTriviaRound(h, gameModes["party.quick-quiz"], 3)
	r.questions = nil
	r.total = 0
	h.round = r
	r.startLocked()
	h.mu.Unlock()

	if _, ok := nextMessage[gameOverMessage](t, cAna.send); !ok {
		t.Fatal("zero-question round should end immediately")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.round != nil || h.lastSnapshot != nil {
		t.Error("hub should return to lobby state")
	}
}

func TestRound_SupersededTimersAreInert(t *testing.T) {
	h := newTestHub()
	h.timing.Question = 50 * time.Millisecond

	cAna, _ := joinTestPlayer(t, h, "Ana")
	autoAnswer(h, cAna, func(string) string { return "" }, nil)

	h.chooseGame(cAna, "party.quick-quiz")
	h.startGame(cAna, 3)

	h.mu.Lock()
	firstRound := h.round
	h.mu.Unlock()

	// Restart before the first round gets anywhere.
	h.startGame(cAna, 2)

	h.mu.Lock()
	secondRound := h.round
	firstGen := firstRound.gen
	secondGen := secondRound.gen
	h.mu.Unlock()

	if firstRound == secondRound {
		t.Fatal("restart should build a fresh round")
	}
	if secondGen <= firstGen {
		t.Errorf("generation did not advance: %d -> %d", firstGen, secondGen)
	}

	// Give any stray first-round timers a chance to fire; the live round
	// must still be the second one.
	time.Sleep(150 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.round != nil && h.round != secondRound {
		t.Error("a superseded round's timer mutated live state")
	}
}

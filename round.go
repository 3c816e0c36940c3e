package main

import (
	"math"
	"time"
)

const (
	phaseIdle     = "idle"
	phaseQuestion = "question"
	phaseReveal   = "reveal"

	subPhaseSelf  = "self"
	subPhaseGuess = "guess"

	defaultRoundCount  = 5
	couplesMatchPoints = 5
)

// roundTiming holds the pacing between phases. Tests shrink these; the
// defaults are tuned for a shared screen watched across a living room.
type roundTiming struct {
	PreQuestion time.Duration
	Tick        time.Duration
	Suspense    time.Duration
	SelfToGuess time.Duration
	PostReveal  time.Duration

	// Question overrides the mode's answer timer when non-zero.
	Question time.Duration
}

func defaultRoundTiming() roundTiming {
	return roundTiming{
		PreQuestion: time.Second,
		Tick:        120 * time.Millisecond,
		Suspense:    800 * time.Millisecond,
		SelfToGuess: 500 * time.Millisecond,
		PostReveal:  2400 * time.Millisecond,
	}
}

// roundSnapshot is the point-in-time state re-serialized into the hub on
// every phase transition, so a reconnecting display or controller can be
// brought to the correct visual state without replaying history.
type roundSnapshot struct {
	Phase     string        `json:"phase"`
	PhaseFlag string        `json:"phaseFlag,omitempty"`
	Idx       int           `json:"idx"`
	Total     int           `json:"total"`
	EndsAt    int64         `json:"endsAt,omitempty"`
	GameID    string        `json:"gameId"`
	TimerSec  int           `json:"timerSec"`
	Question  *questionView `json:"currentQuestion,omitempty"`
}

type answerRecord struct {
	choice string
	at     time.Time
}

// triviaRound runs one game through a fixed question sequence. All methods
// assume the owning hub's mutex is held; timer callbacks reacquire it and
// check the round generation before acting, so a superseded round's timers
// can never touch live state.
type triviaRound struct {
	hub  *triviaHub
	gen  int
	mode gameMode

	questions []question
	idx       int
	total     int

	phase     string
	phaseFlag string
	endsAt    time.Time

	scores       map[string]int
	answers      map[string]answerRecord
	selfChoices  map[string]string
	participants []string // pids active at round start, join order

	phaseTimer *time.Timer
	tickTimer  *time.Timer
}

func newTriviaRound(h *triviaHub, mode gameMode, rounds int) *triviaRound {
	questions := samplePack(loadPack(h.cfg, mode.ID), rounds)

	r := &triviaRound{
		hub:       h,
		gen:       h.generation,
		mode:      mode,
		questions: questions,
		total:     len(questions),
		phase:     phaseIdle,
		scores:    make(map[string]int),
	}

	for _, p := range h.connectedPlayersLocked() {
		r.participants = append(r.participants, p.pid)
		r.scores[p.pid] = 0
	}

	return r
}

// after schedules a callback that only runs while this round is still the
// hub's current generation.
func (r *triviaRound) after(d time.Duration, fn func()) *time.Timer {
	h := r.hub
	gen := r.gen
	return time.AfterFunc(d, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.round != r || gen != h.generation {
			return
		}
		fn()
	})
}

func (r *triviaRound) stopTimersLocked() {
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
		r.phaseTimer = nil
	}
	if r.tickTimer != nil {
		r.tickTimer.Stop()
		r.tickTimer = nil
	}
}

// stopLocked cancels everything pending; used when a new round supersedes
// this one.
func (r *triviaRound) stopLocked() {
	r.stopTimersLocked()
}

func (r *triviaRound) startLocked() {
	r.nextQuestionLocked()
}

func (r *triviaRound) questionDuration() time.Duration {
	if r.hub.timing.Question > 0 {
		return r.hub.timing.Question
	}
	return time.Duration(r.mode.TimerSec) * time.Second
}

func (r *triviaRound) currentQuestion() question {
	return r.questions[r.idx]
}

func (r *triviaRound) nextQuestionLocked() {
	if r.idx >= r.total {
		r.finishLocked()
		return
	}

	r.phase = phaseIdle
	r.phaseFlag = ""
	r.endsAt = time.Time{}
	r.answers = make(map[string]answerRecord)
	r.selfChoices = nil

	r.hub.broadcastLocked(preQuestionMessage{
		Type:     "preQuestion",
		Title:    r.mode.Label,
		Idx:      r.idx + 1,
		Total:    r.total,
		TimerSec: r.mode.TimerSec,
	})
	r.snapshotLocked()

	r.phaseTimer = r.after(r.hub.timing.PreQuestion, func() {
		flag := ""
		if r.mode.Couples {
			flag = subPhaseSelf
		}
		r.beginQuestionLocked(flag)
	})
}

func (r *triviaRound) questionType() string {
	switch r.phaseFlag {
	case subPhaseSelf:
		return "csSelf"
	case subPhaseGuess:
		return "csGuess"
	default:
		return "lbQuestion"
	}
}

func (r *triviaRound) beginQuestionLocked(flag string) {
	r.phase = phaseQuestion
	r.phaseFlag = flag
	r.answers = make(map[string]answerRecord)
	r.endsAt = time.Now().Add(r.questionDuration())

	r.hub.broadcastLocked(questionMessage{
		Type:     r.questionType(),
		Q:        r.currentQuestion().view(),
		Idx:      r.idx + 1,
		Total:    r.total,
		EndsAt:   r.endsAt.UnixMilli(),
		TimerSec: r.mode.TimerSec,
		Title:    r.mode.Label,
	})
	r.snapshotLocked()

	r.phaseTimer = r.after(time.Until(r.endsAt), r.endQuestionLocked)
	r.scheduleTickLocked()
}

func (r *triviaRound) scheduleTickLocked() {
	r.tickTimer = r.after(r.hub.timing.Tick, func() {
		if r.phase != phaseQuestion {
			return
		}

		left := time.Until(r.endsAt)
		if left < 0 {
			left = 0
		}
		r.hub.broadcastLocked(timerMessage{
			Type:  "timer",
			Left:  left.Milliseconds(),
			Total: r.questionDuration().Milliseconds(),
		})

		r.scheduleTickLocked()
	})
}

// submitLocked records an answer for the current phase. First submission per
// player wins; anything outside the question phase is dropped.
func (r *triviaRound) submitLocked(pid, choice string) {
	if r.phase != phaseQuestion || choice == "" {
		return
	}
	if _, ok := r.scores[pid]; !ok {
		return
	}
	if _, dup := r.answers[pid]; dup {
		return
	}

	r.answers[pid] = answerRecord{
		choice: choice,
		at:     time.Now(),
	}

	r.checkEarlyEndLocked()
}

// checkEarlyEndLocked ends the question phase the moment every
// currently-connected participant has answered. Also consulted after a
// disconnect, which can be the event that completes the set.
func (r *triviaRound) checkEarlyEndLocked() {
	if r.phase != phaseQuestion || len(r.answers) == 0 {
		return
	}

	for _, pid := range r.participants {
		player := r.hub.players[pid]
		if player == nil || player.client == nil {
			continue
		}
		if _, ok := r.answers[pid]; !ok {
			return
		}
	}

	r.endQuestionLocked()
}

// endQuestionLocked closes the answer window and schedules the reveal after
// a short suspense pause for the shared display.
func (r *triviaRound) endQuestionLocked() {
	if r.phase != phaseQuestion {
		return
	}

	r.stopTimersLocked()
	r.phase = phaseReveal
	r.snapshotLocked()

	r.phaseTimer = r.after(r.hub.timing.Suspense, r.revealLocked)
}

func (r *triviaRound) revealLocked() {
	q := r.currentQuestion()

	picks := make(map[string]string, len(r.answers))
	for pid, rec := range r.answers {
		picks[pid] = rec.choice
	}

	switch {
	case !r.mode.Couples:
		r.scoreSpeedLocked(q)

		r.hub.broadcastLocked(revealMessage{
			Type:    "lbReveal",
			Correct: q.Correct,
			Scores:  copyScores(r.scores),
			Picks:   picks,
		})

		r.phaseTimer = r.after(r.hub.timing.PostReveal, r.advanceLocked)

	case r.phaseFlag == subPhaseSelf:
		// The self phase carries no score; the choices become the answer
		// key for the guess phase of the same question.
		r.selfChoices = picks

		r.hub.broadcastLocked(revealMessage{
			Type:    "csReveal",
			Correct: q.Correct,
			Scores:  copyScores(r.scores),
			Picks:   picks,
		})

		r.phaseTimer = r.after(r.hub.timing.SelfToGuess, func() {
			r.beginQuestionLocked(subPhaseGuess)
		})

	default:
		r.scoreGuessesLocked()

		r.hub.broadcastLocked(revealMessage{
			Type:    "csReveal",
			Correct: q.Correct,
			Scores:  copyScores(r.scores),
			Picks:   picks,
		})

		r.phaseTimer = r.after(r.hub.timing.PostReveal, r.advanceLocked)
	}
}

// scoreSpeedLocked awards each correct answer the whole seconds that were
// left on the clock when it was submitted.
func (r *triviaRound) scoreSpeedLocked(q question) {
	for pid, rec := range r.answers {
		if rec.choice != q.Correct {
			continue
		}
		secondsLeft := int(math.Ceil(r.endsAt.Sub(rec.at).Seconds()))
		if secondsLeft < 0 {
			secondsLeft = 0
		}
		r.scores[pid] += secondsLeft
	}
}

// scoreGuessesLocked settles the guess sub-phase between the first two
// participants: matching the partner's recorded self-choice is worth a flat
// five points.
func (r *triviaRound) scoreGuessesLocked() {
	if len(r.participants) < 2 {
		return
	}

	a, b := r.participants[0], r.participants[1]

	if rec, ok := r.answers[a]; ok && rec.choice == r.selfChoices[b] && rec.choice != "" {
		r.scores[a] += couplesMatchPoints
	}
	if rec, ok := r.answers[b]; ok && rec.choice == r.selfChoices[a] && rec.choice != "" {
		r.scores[b] += couplesMatchPoints
	}
}

func (r *triviaRound) advanceLocked() {
	r.idx++
	r.nextQuestionLocked()
}

// finishLocked ends the game: final scores out, snapshot cleared, lobby
// reset for the next mode selection.
func (r *triviaRound) finishLocked() {
	r.stopTimersLocked()

	msgType := "lbGameOver"
	if r.mode.Couples {
		msgType = "csGameOver"
	}
	r.hub.broadcastLocked(gameOverMessage{
		Type:   msgType,
		Scores: copyScores(r.scores),
	})

	h := r.hub
	h.lastSnapshot = nil
	h.currentGame = ""
	h.round = nil
	for _, p := range h.players {
		p.ready = false
	}

	logf(h.cfg, "GAMES: Finished %s on hub %s", r.mode.ID, h.code)

	h.broadcastHubStateLocked()
}

func (r *triviaRound) snapshotLocked() {
	snap := &roundSnapshot{
		Phase:     r.phase,
		PhaseFlag: r.phaseFlag,
		Idx:       r.idx + 1,
		Total:     r.total,
		GameID:    r.mode.ID,
		TimerSec:  r.mode.TimerSec,
	}

	if r.phase != phaseIdle {
		view := r.currentQuestion().view()
		snap.Question = &view
	}
	if r.phase == phaseQuestion {
		snap.EndsAt = r.endsAt.UnixMilli()
	}

	r.hub.lastSnapshot = snap
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for pid, score := range scores {
		out[pid] = score
	}
	return out
}

package castellan

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// questionsPerPage is the discord modal component limit.
const questionsPerPage = 5

var (
	// ErrStaleSession is returned when a page submission arrives for a
	// session that no longer exists (expired, restarted, or finished).
	ErrStaleSession = errors.New("application session expired, start over from the panel")

	// ErrStepMismatch is returned when a page submission arrives out of
	// order relative to the stored session.
	ErrStepMismatch = errors.New("application page out of order, continue from your latest page")
)

// PageResult is the outcome of starting or advancing an application form.
// Exactly one of the progression fields applies: Done means the answers are
// complete and ordered; otherwise NextPage holds the page to present next.
type PageResult struct {
	Panel    *PanelDefinition
	Page     int
	NextPage int
	Done     bool

	// Answers is populated in panel question order when Done is set.
	Answers []Answer

	// SingleShot means the panel fits in one modal and no session was
	// created for it.
	SingleShot bool
}

// FormPaginator slices a panel's questions into modal-sized pages and
// tracks progress through a SessionStore.
type FormPaginator struct {
	registry *PanelRegistry
	sessions SessionStore
	logger   *slog.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewFormPaginator(
	registry *PanelRegistry,
	sessions SessionStore,
	log *slog.Logger,
) *FormPaginator {
	if log == nil {
		log = slog.Default()
	}
	return &FormPaginator{
		registry:  registry,
		sessions:  sessions,
		logger:    log.With(loggerNameKey, "form_paginator"),
		userLocks: map[string]*sync.Mutex{},
	}
}

func (f *FormPaginator) userLock(guildID string, userID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionKey(guildID, userID)
	lock, ok := f.userLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		f.userLocks[key] = lock
	}
	return lock
}

// PageCount returns the number of pages needed for n questions.
func PageCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + questionsPerPage - 1) / questionsPerPage
}

// PageQuestions returns the questions on the given 1-based page.
func (f *FormPaginator) PageQuestions(
	panel *PanelDefinition,
	page int,
) []Question {
	start := (page - 1) * questionsPerPage
	if start < 0 || start >= len(panel.Questions) {
		return nil
	}
	end := start + questionsPerPage
	if end > len(panel.Questions) {
		end = len(panel.Questions)
	}
	return panel.Questions[start:end]
}

// Begin starts an application for the user. Panels that fit in a single
// modal skip session tracking entirely; the eventual submission carries
// everything needed. Beginning while another session is in flight discards
// the old one.
func (f *FormPaginator) Begin(
	guildID string,
	userID string,
	panelName string,
) (*PageResult, error) {
	panel, err := f.registry.Get(guildID, panelName)
	if err != nil {
		return nil, err
	}
	pages := PageCount(len(panel.Questions))
	if pages <= 1 {
		return &PageResult{Panel: panel, Page: 1, SingleShot: true}, nil
	}

	lock := f.userLock(guildID, userID)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := f.sessions.Get(guildID, userID); ok {
		f.logger.Info(
			"discarding existing application session",
			"guild_id", guildID,
			"user_id", userID,
			"panel", panelName,
		)
	}
	f.sessions.Put(
		guildID, userID, &ApplicationSession{
			PanelName:   panelName,
			GuildID:     guildID,
			CurrentPage: 1,
			TotalPages:  pages,
			Answers:     map[string]string{},
			StartedAt:   time.Now(),
		},
	)
	return &PageResult{Panel: panel, Page: 1}, nil
}

// SubmitPage merges one page of answers into the user's session. The page
// must match the session's current page exactly; anything else is either a
// stale session or an out-of-order click on an old message.
func (f *FormPaginator) SubmitPage(
	guildID string,
	userID string,
	panelName string,
	page int,
	answers map[string]string,
) (*PageResult, error) {
	panel, err := f.registry.Get(guildID, panelName)
	if err != nil {
		return nil, err
	}

	if PageCount(len(panel.Questions)) <= 1 {
		// Single-shot panels never had a session to validate against.
		return &PageResult{
			Panel:      panel,
			Page:       1,
			Done:       true,
			Answers:    orderedAnswers(panel, answers),
			SingleShot: true,
		}, nil
	}

	lock := f.userLock(guildID, userID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := f.sessions.Get(guildID, userID)
	if !ok || session.PanelName != panelName {
		return nil, ErrStaleSession
	}
	if page != session.CurrentPage {
		return nil, ErrStepMismatch
	}

	for id, answer := range answers {
		session.Answers[id] = answer
	}

	if page >= session.TotalPages {
		f.sessions.Delete(guildID, userID)
		return &PageResult{
			Panel:   panel,
			Page:    page,
			Done:    true,
			Answers: orderedAnswers(panel, session.Answers),
		}, nil
	}

	session.CurrentPage = page + 1
	f.sessions.Put(guildID, userID, session)
	return &PageResult{Panel: panel, Page: page, NextPage: page + 1}, nil
}

// orderedAnswers pairs answers with their questions in panel order.
// Questions with no recorded answer still appear, with an empty value.
func orderedAnswers(
	panel *PanelDefinition,
	answers map[string]string,
) []Answer {
	ordered := make([]Answer, 0, len(panel.Questions))
	for _, q := range panel.Questions {
		ordered = append(
			ordered, Answer{
				Question: q.Label,
				Answer:   answers[q.ID],
			},
		)
	}
	return ordered
}

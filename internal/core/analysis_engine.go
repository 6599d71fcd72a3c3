package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gwi.com/insight-chat/internal/observability"
	"gwi.com/insight-chat/internal/store"
)

const (
	MaxQueryLength          = 1000 // runes
	DescriptionLength       = 150  // runes of the summary kept in an analysis description
	DefaultSettleDelay      = 200 * time.Millisecond
	DefaultNavigateDelay    = 100 * time.Millisecond
	analysisHeadingTemplate = "**Analysis #%d**\n\n"
)

var (
	ErrEmptyQuery         = errors.New("query cannot be empty")
	ErrQueryTooLong       = fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	ErrSubmissionRejected = errors.New("another query is still being processed")
	ErrEngineClosed       = errors.New("conversation is closed")
	ErrUnknownModel       = errors.New("unknown model")
)

// StateStore persists one owner's conversation.
type StateStore interface {
	LoadMessages(ownerID int64) ([]store.Message, error)
	LoadAnalyses(ownerID int64) ([]store.Analysis, error)
	LoadSequence(ownerID int64) (int, error)
	SaveConversation(ownerID int64, messages []store.Message, analyses []store.Analysis, sequence int) error
}

type EngineOptions struct {
	Scheduler Scheduler
	// Now is the clock used for message ids and timestamps.
	Now func() time.Time
	// SettleDelay is the wait between switching to the analysis view after a
	// successful query and highlighting the new analysis.
	SettleDelay time.Duration
	// NavigateDelay is the same wait for user-initiated navigation.
	NavigateDelay time.Duration
	DefaultModel  string
	Metrics       *observability.Metrics
}

// turn is one query and everything derived from it. user is nil only for an
// error notice that could not be attached to a query on load. reply is the
// assistant message or the error notice.
type turn struct {
	user     *store.Message
	reply    *store.Message
	analysis *store.Analysis
}

// QueryOutcome is what a submitted query turned into. Dropped is set when the
// response arrived after the conversation was cleared, closed or the query was
// deleted.
type QueryOutcome struct {
	Reply    *store.Message  `json:"reply,omitempty"`
	Analysis *store.Analysis `json:"analysis,omitempty"`
	Dropped  bool            `json:"dropped,omitempty"`
}

// Pending tracks a submitted query until the analysis service answers.
type Pending struct {
	UserMessage store.Message

	done    chan struct{}
	outcome QueryOutcome
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the query completes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (QueryOutcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return QueryOutcome{}, ctx.Err()
	}
}

// ConversationSnapshot is a read-only copy of the conversation state.
type ConversationSnapshot struct {
	Messages            []store.Message  `json:"messages"`
	Analyses            []store.Analysis `json:"analyses"`
	IsLoading           bool             `json:"isLoading"`
	ActiveView          View             `json:"activeView"`
	Layout              Layout           `json:"layout"`
	HighlightedMessage  int64            `json:"highlightedMessage,omitempty"`
	HighlightedAnalysis int64            `json:"highlightedAnalysis,omitempty"`
	HasSentFirstMessage bool             `json:"hasSentFirstMessage"`
	NextAnalysisNumber  int              `json:"nextAnalysisNumber"`
}

// Engine owns one conversation. It keeps chat messages and analyses
// consistent with each other, runs at most one analysis at a time and
// mirrors every change to the state store.
type Engine struct {
	mu sync.Mutex

	ownerID int64
	store   StateStore
	backend AnalysisBackend
	view    *ViewCoordinator
	metrics *observability.Metrics

	scheduler     Scheduler
	now           func() time.Time
	settleDelay   time.Duration
	navigateDelay time.Duration
	defaultModel  string

	turns            []*turn
	maxOrdinal       int
	lastID           int64
	firstMessageSent bool

	busy          bool
	pendingUserID int64
	cancelQuery   context.CancelFunc
	epoch         uint64
	navTimer      Timer
	closed        bool
}

func NewEngine(ownerID int64, st StateStore, backend AnalysisBackend, view *ViewCoordinator, opts EngineOptions) (*Engine, error) {
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.NavigateDelay <= 0 {
		opts.NavigateDelay = DefaultNavigateDelay
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if view == nil {
		view = NewViewCoordinator(opts.Scheduler, 0, 0)
	}

	e := &Engine{
		ownerID:       ownerID,
		store:         st,
		backend:       backend,
		view:          view,
		metrics:       opts.Metrics,
		scheduler:     opts.Scheduler,
		now:           opts.Now,
		settleDelay:   opts.SettleDelay,
		navigateDelay: opts.NavigateDelay,
		defaultModel:  opts.DefaultModel,
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) View() *ViewCoordinator {
	return e.view
}

// load rebuilds the turns from the two stored slots. Records that break the
// message/analysis pairing are dropped and the repaired state is saved back.
func (e *Engine) load() error {
	messages, err := e.store.LoadMessages(e.ownerID)
	if err != nil {
		return fmt.Errorf("failed to load messages for owner %d: %w", e.ownerID, err)
	}
	analyses, err := e.store.LoadAnalyses(e.ownerID)
	if err != nil {
		return fmt.Errorf("failed to load analyses for owner %d: %w", e.ownerID, err)
	}
	seq, err := e.store.LoadSequence(e.ownerID)
	if err != nil {
		return fmt.Errorf("failed to load analysis sequence for owner %d: %w", e.ownerID, err)
	}

	// Ordinals of records dropped below still count as handed out.
	e.maxOrdinal = seq
	for _, m := range messages {
		e.maxOrdinal = max(e.maxOrdinal, m.AnalysisNumber)
	}
	for _, a := range analyses {
		e.maxOrdinal = max(e.maxOrdinal, a.AnalysisNumber)
	}

	repaired := false
	byUser := map[int64]*turn{}
	for i := range messages {
		m := messages[i]
		switch m.Kind {
		case store.KindUser:
			if _, dup := byUser[m.ID]; dup {
				log.Printf("Owner %d: dropping duplicate user message %d", e.ownerID, m.ID)
				repaired = true
				continue
			}
			t := &turn{user: &m}
			byUser[m.ID] = t
			e.turns = append(e.turns, t)
		case store.KindAssistant:
			var t *turn
			if m.LinkedAnalysisID != nil {
				t = byUser[*m.LinkedAnalysisID]
			}
			if t == nil || t.reply != nil {
				log.Printf("Owner %d: dropping orphaned assistant message %d", e.ownerID, m.ID)
				repaired = true
				continue
			}
			t.reply = &m
		case store.KindError:
			if n := len(e.turns); n > 0 && e.turns[n-1].user != nil && e.turns[n-1].reply == nil {
				e.turns[n-1].reply = &m
				continue
			}
			e.turns = append(e.turns, &turn{reply: &m})
		default:
			log.Printf("Owner %d: dropping message %d of unknown type %q", e.ownerID, m.ID, m.Kind)
			repaired = true
		}
	}

	for i := range analyses {
		a := analyses[i]
		t := byUser[a.MessageID]
		if t == nil || t.reply == nil || t.reply.Kind != store.KindAssistant || t.analysis != nil || t.reply.ID != a.AssistantMessageID {
			log.Printf("Owner %d: dropping orphaned analysis %d", e.ownerID, a.ID)
			repaired = true
			continue
		}
		t.analysis = &a
	}

	for _, t := range e.turns {
		if t.reply != nil && t.reply.Kind == store.KindAssistant && t.analysis == nil {
			log.Printf("Owner %d: dropping assistant message %d without analysis", e.ownerID, t.reply.ID)
			t.reply = nil
			repaired = true
		}
	}

	for _, t := range e.turns {
		for _, m := range []*store.Message{t.user, t.reply} {
			if m == nil {
				continue
			}
			e.view.Register(TargetMessage, m.ID)
			e.lastID = max(e.lastID, m.ID)
		}
		if t.user != nil {
			e.firstMessageSent = true
		}
		if t.analysis != nil {
			e.view.Register(TargetAnalysis, t.analysis.ID)
		}
	}

	if repaired {
		e.persistLocked()
	}
	log.Printf("Owner %d: loaded conversation with %d turns", e.ownerID, len(e.turns))
	return nil
}

func (e *Engine) nextIDLocked() int64 {
	id := e.now().UnixMilli()
	if id <= e.lastID {
		id = e.lastID + 1
	}
	e.lastID = id
	return id
}

func (e *Engine) messagesLocked() []store.Message {
	out := []store.Message{}
	for _, t := range e.turns {
		if t.user != nil {
			out = append(out, *copyMessage(t.user))
		}
		if t.reply != nil {
			out = append(out, *copyMessage(t.reply))
		}
	}
	return out
}

func (e *Engine) analysesLocked() []store.Analysis {
	out := []store.Analysis{}
	for _, t := range e.turns {
		if t.analysis != nil {
			out = append(out, *t.analysis)
		}
	}
	return out
}

// historyLocked is the chat_history sent with the next query: one
// user/assistant pair per completed analysis still in the conversation.
func (e *Engine) historyLocked() []HistoryTurn {
	out := []HistoryTurn{}
	for _, t := range e.turns {
		if t.analysis == nil {
			continue
		}
		prefix := fmt.Sprintf(analysisHeadingTemplate, t.analysis.AnalysisNumber)
		out = append(out,
			HistoryTurn{Role: "user", Content: t.user.Content},
			HistoryTurn{Role: "assistant", Content: strings.TrimPrefix(t.reply.Content, prefix)},
		)
	}
	return out
}

func (e *Engine) persistLocked() {
	if err := e.store.SaveConversation(e.ownerID, e.messagesLocked(), e.analysesLocked(), e.maxOrdinal); err != nil {
		log.Printf("Failed to persist conversation for owner %d: %v", e.ownerID, err)
	}
}

// NextAnalysisNumber is the ordinal the next query will get.
func (e *Engine) NextAnalysisNumber() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxOrdinal + 1
}

// SubmitQuery appends the user message and starts the analysis in the
// background. It fails with ErrSubmissionRejected while another query is in
// flight, leaving the conversation untouched.
func (e *Engine) SubmitQuery(text, model string) (*Pending, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, ErrQueryTooLong
	}
	if model == "" {
		model = e.defaultModel
	}
	if !IsKnownModel(model) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.busy {
		e.metrics.RecordQuery(observability.OutcomeRejected)
		return nil, ErrSubmissionRejected
	}

	e.maxOrdinal++
	userMsg := &store.Message{
		ID:             e.nextIDLocked(),
		Kind:           store.KindUser,
		Content:        query,
		Model:          model,
		AnalysisNumber: e.maxOrdinal,
		Timestamp:      e.now(),
	}
	e.turns = append(e.turns, &turn{user: userMsg})
	e.view.Register(TargetMessage, userMsg.ID)
	e.busy = true
	e.pendingUserID = userMsg.ID
	e.firstMessageSent = true
	e.persistLocked()
	e.view.SetActiveView(ViewAnalysis)

	req := AnalysisRequest{
		UserInput:   query,
		ChatHistory: e.historyLocked(),
		Model:       model,
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelQuery = cancel
	pending := &Pending{UserMessage: *userMsg, done: make(chan struct{})}
	e.metrics.QueryStarted()

	go e.runQuery(ctx, cancel, e.epoch, *userMsg, req, pending)
	return pending, nil
}

func (e *Engine) runQuery(ctx context.Context, cancel context.CancelFunc, epoch uint64, userMsg store.Message, req AnalysisRequest, pending *Pending) {
	defer cancel()
	start := time.Now()
	result := e.analyze(ctx, req)

	outcome := observability.OutcomeSuccess
	if _, ok := result.(*AnalysisSuccess); !ok {
		outcome = observability.OutcomeFailure
	}
	e.metrics.ObserveBackend(req.Model, outcome, time.Since(start))

	e.mu.Lock()
	pending.outcome = e.completeLocked(epoch, userMsg, result)
	e.mu.Unlock()
	close(pending.done)
}

// analyze calls the backend and turns a nil result or a panic into a failure.
func (e *Engine) analyze(ctx context.Context, req AnalysisRequest) (result AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Analysis backend panicked for model %s: %v", req.Model, r)
			result = failuref("analysis backend crashed: %v", r)
		}
	}()
	if e.backend == nil {
		return failuref("no analysis backend configured")
	}
	result = e.backend.Analyze(ctx, req)
	if result == nil {
		result = failuref("analysis backend returned no result")
	}
	return result
}

func (e *Engine) completeLocked(epoch uint64, userMsg store.Message, result AnalysisResult) QueryOutcome {
	if e.pendingUserID == userMsg.ID {
		e.busy = false
		e.pendingUserID = 0
		e.cancelQuery = nil
	}
	e.metrics.QueryFinished()

	t := e.findTurnByUserLocked(userMsg.ID)
	if e.closed || epoch != e.epoch || t == nil {
		log.Printf("Owner %d: discarding response for query %d", e.ownerID, userMsg.ID)
		e.metrics.RecordQuery(observability.OutcomeDropped)
		return QueryOutcome{Dropped: true}
	}

	switch r := result.(type) {
	case *AnalysisSuccess:
		e.metrics.RecordQuery(observability.OutcomeSuccess)
		return e.applySuccessLocked(t, r)
	case *AnalysisFailure:
		e.metrics.RecordQuery(observability.OutcomeFailure)
		return e.applyFailureLocked(t, r.Message)
	default:
		e.metrics.RecordQuery(observability.OutcomeFailure)
		return e.applyFailureLocked(t, fmt.Sprintf("unexpected analysis result %T", result))
	}
}

func (e *Engine) applySuccessLocked(t *turn, r *AnalysisSuccess) QueryOutcome {
	user := t.user
	summary := r.Insight.Summary
	linked := user.ID
	reply := &store.Message{
		ID:               e.nextIDLocked(),
		Kind:             store.KindAssistant,
		Content:          fmt.Sprintf(analysisHeadingTemplate, user.AnalysisNumber) + summary,
		AnalysisNumber:   user.AnalysisNumber,
		LinkedAnalysisID: &linked,
		Timestamp:        e.now(),
	}
	analysis := &store.Analysis{
		ID:                 user.ID,
		MessageID:          user.ID,
		AssistantMessageID: reply.ID,
		Query:              user.Content,
		Model:              user.Model,
		AnalysisNumber:     user.AnalysisNumber,
		Markdown:           AnalysisMarkdown(r),
		Description:        Describe(summary),
		Charts:             append([]store.Chart{}, r.Charts...),
		KeyFindings:        r.Insight.KeyFindings,
		Recommendations:    r.Insight.Recommendations,
		RowCount:           r.RowCount,
		Timestamp:          reply.Timestamp,
	}
	t.reply = reply
	t.analysis = analysis
	e.view.Register(TargetMessage, reply.ID)
	e.view.Register(TargetAnalysis, analysis.ID)
	e.persistLocked()

	e.view.SetActiveView(ViewAnalysis)
	e.scheduleScrollLocked(e.settleDelay, analysis.ID, TargetAnalysis)

	return QueryOutcome{Reply: copyMessage(reply), Analysis: copyAnalysis(analysis)}
}

func (e *Engine) applyFailureLocked(t *turn, msg string) QueryOutcome {
	log.Printf("Owner %d: query %d failed: %s", e.ownerID, t.user.ID, msg)
	reply := &store.Message{
		ID:        e.nextIDLocked(),
		Kind:      store.KindError,
		Content:   "Failed to process request: " + msg,
		Timestamp: e.now(),
	}
	t.reply = reply
	e.view.Register(TargetMessage, reply.ID)
	e.persistLocked()
	return QueryOutcome{Reply: copyMessage(reply)}
}

// AnalysisMarkdown renders the report body shown in the analysis view.
func AnalysisMarkdown(r *AnalysisSuccess) string {
	var sb strings.Builder
	sb.WriteString("## Analysis Results\n\n")
	sb.WriteString(r.Insight.Summary)
	if len(r.Insight.KeyFindings) > 0 {
		sb.WriteString("\n\n### Key Findings\n")
		for _, f := range r.Insight.KeyFindings {
			sb.WriteString("\n- ")
			sb.WriteString(f)
		}
	}
	if len(r.Insight.Recommendations) > 0 {
		sb.WriteString("\n\n### Recommendations\n")
		for _, rec := range r.Insight.Recommendations {
			sb.WriteString("\n- ")
			sb.WriteString(rec)
		}
	}
	for _, c := range r.Charts {
		fmt.Fprintf(&sb, "\n\n![%s](%s)", c.ChartName, c.ChartURL)
	}
	return sb.String()
}

// Describe shortens a summary to DescriptionLength runes.
func Describe(summary string) string {
	if utf8.RuneCountInString(summary) <= DescriptionLength {
		return summary
	}
	return string([]rune(summary)[:DescriptionLength]) + "..."
}

func (e *Engine) findTurnByUserLocked(id int64) *turn {
	for _, t := range e.turns {
		if t.user != nil && t.user.ID == id {
			return t
		}
	}
	return nil
}

func (e *Engine) removeTurnLocked(target *turn) {
	for i, t := range e.turns {
		if t == target {
			e.turns = append(e.turns[:i], e.turns[i+1:]...)
			break
		}
	}
	if target.user != nil {
		e.view.Unregister(TargetMessage, target.user.ID)
	}
	if target.reply != nil {
		e.view.Unregister(TargetMessage, target.reply.ID)
	}
	if target.analysis != nil {
		e.view.Unregister(TargetAnalysis, target.analysis.ID)
	}
}

// DeleteByMessageID removes the query a message belongs to together with its
// reply and analysis. Deleting an error notice removes only that notice.
// Unknown ids are ignored. It reports whether anything was removed.
func (e *Engine) DeleteByMessageID(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var target *turn
	for _, t := range e.turns {
		if t.user != nil && t.user.ID == id {
			target = t
			break
		}
		if t.reply == nil || t.reply.ID != id {
			continue
		}
		if t.reply.Kind == store.KindError {
			e.view.Unregister(TargetMessage, t.reply.ID)
			if t.user == nil {
				e.removeTurnLocked(t)
			} else {
				t.reply = nil
			}
			e.persistLocked()
			e.metrics.RecordEngagement(observability.ActionDeleteMessage)
			return true
		}
		if t.reply.LinkedAnalysisID != nil {
			target = e.findTurnByUserLocked(*t.reply.LinkedAnalysisID)
		}
		break
	}
	if target == nil {
		return false
	}

	e.removeTurnLocked(target)
	e.persistLocked()
	e.metrics.RecordEngagement(observability.ActionDeleteMessage)
	return true
}

// DeleteByAnalysisID removes an analysis and both of its messages.
func (e *Engine) DeleteByAnalysisID(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.turns {
		if t.analysis != nil && t.analysis.ID == id {
			e.removeTurnLocked(t)
			e.persistLocked()
			e.metrics.RecordEngagement(observability.ActionDeleteAnalysis)
			return true
		}
	}
	return false
}

// NavigateFromMessageToAnalysis switches to the analysis view and highlights
// the analysis of the given user or assistant message. It reports false, and
// leaves the view alone, when the message has no analysis.
func (e *Engine) NavigateFromMessageToAnalysis(messageID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var analysis *store.Analysis
	for _, t := range e.turns {
		if t.analysis == nil {
			continue
		}
		if t.user.ID == messageID || t.reply.ID == messageID {
			analysis = t.analysis
			break
		}
	}
	if analysis == nil {
		return false
	}

	e.metrics.RecordEngagement(observability.ActionNavigate)
	e.view.SetActiveView(ViewAnalysis)
	e.scheduleScrollLocked(e.navigateDelay, analysis.ID, TargetAnalysis)
	return true
}

// NavigateFromAnalysisToMessage highlights the user message that started the
// analysis. On mobile the chat view is brought up first.
func (e *Engine) NavigateFromAnalysisToMessage(analysisID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var messageID int64
	for _, t := range e.turns {
		if t.analysis != nil && t.analysis.ID == analysisID {
			messageID = t.user.ID
			break
		}
	}
	if messageID == 0 {
		return false
	}

	e.metrics.RecordEngagement(observability.ActionNavigate)
	if e.view.Layout() == LayoutMobile && e.view.ActiveView() != ViewChat {
		e.view.SetActiveView(ViewChat)
		e.scheduleScrollLocked(e.navigateDelay, messageID, TargetMessage)
		return true
	}
	e.view.ScrollToAndHighlight(messageID, TargetMessage)
	return true
}

// scheduleScrollLocked replaces any pending delayed navigation.
func (e *Engine) scheduleScrollLocked(d time.Duration, id int64, kind TargetKind) {
	if e.navTimer != nil {
		e.navTimer.Stop()
	}
	var timer Timer
	timer = e.scheduler.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.navTimer != timer {
			return
		}
		e.navTimer = nil
		e.view.ScrollToAndHighlight(id, kind)
	})
	e.navTimer = timer
}

// ClearAll empties the conversation and returns to the data view. A query in
// flight keeps the engine busy until it answers; its result is discarded.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.epoch++
	if e.cancelQuery != nil {
		e.cancelQuery()
	}
	if e.navTimer != nil {
		e.navTimer.Stop()
		e.navTimer = nil
	}
	e.turns = nil
	e.maxOrdinal = 0
	e.firstMessageSent = false
	e.view.Reset()
	e.persistLocked()
	e.metrics.RecordEngagement(observability.ActionClearAll)
}

func (e *Engine) Snapshot() ConversationSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ConversationSnapshot{
		Messages:            e.messagesLocked(),
		Analyses:            e.analysesLocked(),
		IsLoading:           e.busy,
		ActiveView:          e.view.ActiveView(),
		Layout:              e.view.Layout(),
		HighlightedMessage:  e.view.Highlighted(TargetMessage),
		HighlightedAnalysis: e.view.Highlighted(TargetAnalysis),
		HasSentFirstMessage: e.firstMessageSent,
		NextAnalysisNumber:  e.maxOrdinal + 1,
	}
}

// Close cancels the query in flight and stops pending navigation. Responses
// arriving later are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.cancelQuery != nil {
		e.cancelQuery()
	}
	if e.navTimer != nil {
		e.navTimer.Stop()
		e.navTimer = nil
	}
	e.view.Close()
}

func copyMessage(m *store.Message) *store.Message {
	c := *m
	if m.LinkedAnalysisID != nil {
		id := *m.LinkedAnalysisID
		c.LinkedAnalysisID = &id
	}
	return &c
}

func copyAnalysis(a *store.Analysis) *store.Analysis {
	c := *a
	c.Charts = append([]store.Chart{}, a.Charts...)
	return &c
}

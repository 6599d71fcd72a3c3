package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/insight-chat/internal/observability"
	"gwi.com/insight-chat/internal/store"
)

type engineFixture struct {
	engine *Engine
	store  *memoryStateStore
	sched  *manualScheduler
}

func newEngineFixture(t *testing.T, backend AnalysisBackend, st *memoryStateStore) *engineFixture {
	t.Helper()
	if st == nil {
		st = &memoryStateStore{}
	}
	sched := &manualScheduler{}
	view := NewViewCoordinator(sched, 3*time.Second, 100*time.Millisecond)
	e, err := NewEngine(1, st, backend, view, EngineOptions{
		Scheduler:    sched,
		Now:          fixedClock(100),
		DefaultModel: "claude-3-opus",
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return &engineFixture{engine: e, store: st, sched: sched}
}

func waitOutcome(t *testing.T, p *Pending) QueryOutcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := p.Wait(ctx)
	require.NoError(t, err)
	return out
}

func submitAndWait(t *testing.T, e *Engine, query string) QueryOutcome {
	t.Helper()
	p, err := e.SubmitQuery(query, "")
	require.NoError(t, err)
	return waitOutcome(t, p)
}

func okBackend() AnalysisBackend {
	return backendFunc(func(_ context.Context, req AnalysisRequest) AnalysisResult {
		return successResult("summary of "+req.UserInput, 3)
	})
}

// assertTriplesConsistent checks that every analysis has its user and
// assistant message and that every assistant message has its analysis.
func assertTriplesConsistent(t *testing.T, snap ConversationSnapshot) {
	t.Helper()
	byID := map[int64]store.Message{}
	for _, m := range snap.Messages {
		byID[m.ID] = m
	}
	analysisByID := map[int64]store.Analysis{}
	for _, a := range snap.Analyses {
		analysisByID[a.ID] = a
		user, ok := byID[a.MessageID]
		require.True(t, ok, "analysis %d has no user message", a.ID)
		assert.Equal(t, store.KindUser, user.Kind)
		assert.Equal(t, a.AnalysisNumber, user.AnalysisNumber)
		reply, ok := byID[a.AssistantMessageID]
		require.True(t, ok, "analysis %d has no assistant message", a.ID)
		assert.Equal(t, store.KindAssistant, reply.Kind)
		assert.Equal(t, a.AnalysisNumber, reply.AnalysisNumber)
	}
	for _, m := range snap.Messages {
		if m.Kind != store.KindAssistant {
			continue
		}
		require.NotNil(t, m.LinkedAnalysisID)
		_, ok := analysisByID[*m.LinkedAnalysisID]
		assert.True(t, ok, "assistant message %d has no analysis", m.ID)
	}
}

func TestEngine_HappyPath(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	p, err := f.engine.SubmitQuery("Show qualification rates", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.UserMessage.ID)

	snap := f.engine.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, store.KindUser, snap.Messages[0].Kind)
	assert.Equal(t, 1, snap.Messages[0].AnalysisNumber)
	assert.Equal(t, "claude-3-opus", snap.Messages[0].Model)
	assert.True(t, snap.IsLoading)
	assert.True(t, snap.HasSentFirstMessage)

	req := <-backend.requests
	assert.Equal(t, "Show qualification rates", req.UserInput)
	assert.Empty(t, req.ChatHistory)
	backend.results <- successResult("ok", 9)
	out := waitOutcome(t, p)
	assert.False(t, out.Dropped)

	snap = f.engine.Snapshot()
	require.Len(t, snap.Messages, 2)
	reply := snap.Messages[1]
	assert.Equal(t, int64(101), reply.ID)
	assert.Equal(t, store.KindAssistant, reply.Kind)
	assert.Equal(t, "**Analysis #1**\n\nok", reply.Content)
	require.NotNil(t, reply.LinkedAnalysisID)
	assert.Equal(t, int64(100), *reply.LinkedAnalysisID)

	require.Len(t, snap.Analyses, 1)
	a := snap.Analyses[0]
	assert.Equal(t, int64(100), a.ID)
	assert.Equal(t, int64(100), a.MessageID)
	assert.Equal(t, int64(101), a.AssistantMessageID)
	assert.Equal(t, "Show qualification rates", a.Query)
	assert.Equal(t, 9, a.RowCount)
	assert.Equal(t, "ok", a.Description)
	assert.Equal(t, "## Analysis Results\n\nok", a.Markdown)
	assert.NotNil(t, a.Charts)

	assert.False(t, snap.IsLoading)
	assert.Equal(t, ViewAnalysis, snap.ActiveView)
	assertTriplesConsistent(t, snap)

	// The new analysis is highlighted once the view has settled.
	assert.Zero(t, f.engine.Snapshot().HighlightedAnalysis)
	f.sched.Advance(200 * time.Millisecond)
	assert.Equal(t, int64(100), f.engine.Snapshot().HighlightedAnalysis)
	f.sched.Advance(3 * time.Second)
	assert.Zero(t, f.engine.Snapshot().HighlightedAnalysis)

	saved, savedAnalyses, _ := f.store.Saved()
	assert.Len(t, saved, 2)
	assert.Len(t, savedAnalyses, 1)

	// The next query carries the previous exchange.
	p, err = f.engine.SubmitQuery("And by gender?", "")
	require.NoError(t, err)
	req = <-backend.requests
	assert.Equal(t, []HistoryTurn{
		{Role: "user", Content: "Show qualification rates"},
		{Role: "assistant", Content: "ok"},
	}, req.ChatHistory)
	backend.results <- successResult("split", 2)
	waitOutcome(t, p)
	assertTriplesConsistent(t, f.engine.Snapshot())
}

func TestEngine_BackendFailure(t *testing.T) {
	backend := backendFunc(func(context.Context, AnalysisRequest) AnalysisResult {
		return failuref("network error")
	})
	f := newEngineFixture(t, backend, nil)

	out := submitAndWait(t, f.engine, "How many applicants?")
	require.NotNil(t, out.Reply)
	assert.Nil(t, out.Analysis)

	snap := f.engine.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, store.KindError, snap.Messages[1].Kind)
	assert.Equal(t, "Failed to process request: network error", snap.Messages[1].Content)
	assert.Nil(t, snap.Messages[1].LinkedAnalysisID)
	assert.Empty(t, snap.Analyses)
	assert.False(t, snap.IsLoading)
}

func TestEngine_BackendPanicBecomesErrorMessage(t *testing.T) {
	backend := backendFunc(func(context.Context, AnalysisRequest) AnalysisResult {
		panic("boom")
	})
	f := newEngineFixture(t, backend, nil)

	submitAndWait(t, f.engine, "anything")
	snap := f.engine.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, store.KindError, snap.Messages[1].Kind)
	assert.Contains(t, snap.Messages[1].Content, "boom")
	assert.False(t, snap.IsLoading)
}

func TestEngine_NilResultBecomesErrorMessage(t *testing.T) {
	backend := backendFunc(func(context.Context, AnalysisRequest) AnalysisResult { return nil })
	f := newEngineFixture(t, backend, nil)

	submitAndWait(t, f.engine, "anything")
	snap := f.engine.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, store.KindError, snap.Messages[1].Kind)
}

func TestEngine_SubmitValidation(t *testing.T) {
	f := newEngineFixture(t, okBackend(), nil)

	_, err := f.engine.SubmitQuery("   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = f.engine.SubmitQuery(strings.Repeat("é", MaxQueryLength+1), "")
	assert.ErrorIs(t, err, ErrQueryTooLong)

	_, err = f.engine.SubmitQuery("q", "custom-0")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Empty(t, f.engine.Snapshot().Messages)

	_, err = f.engine.SubmitQuery(strings.Repeat("é", MaxQueryLength), "")
	assert.NoError(t, err)
}

func TestEngine_RejectsSubmissionWhileBusy(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	p, err := f.engine.SubmitQuery("first", "")
	require.NoError(t, err)
	<-backend.requests

	_, err = f.engine.SubmitQuery("second", "")
	assert.ErrorIs(t, err, ErrSubmissionRejected)
	assert.Len(t, f.engine.Snapshot().Messages, 1)
	assert.Equal(t, 2, f.engine.NextAnalysisNumber())

	backend.results <- successResult("done", 1)
	waitOutcome(t, p)

	p, err = f.engine.SubmitQuery("second", "")
	require.NoError(t, err)
	<-backend.requests
	backend.results <- successResult("done", 1)
	waitOutcome(t, p)
	assert.Len(t, f.engine.Snapshot().Messages, 4)
}

func TestEngine_CascadeDeleteEquivalence(t *testing.T) {
	deletes := map[string]func(e *Engine) bool{
		"user message":      func(e *Engine) bool { return e.DeleteByMessageID(100) },
		"assistant message": func(e *Engine) bool { return e.DeleteByMessageID(101) },
		"analysis":          func(e *Engine) bool { return e.DeleteByAnalysisID(100) },
	}

	var results []ConversationSnapshot
	for name, del := range deletes {
		t.Run(name, func(t *testing.T) {
			f := newEngineFixture(t, okBackend(), nil)
			submitAndWait(t, f.engine, "first")
			submitAndWait(t, f.engine, "second")

			assert.True(t, del(f.engine))
			snap := f.engine.Snapshot()
			assertTriplesConsistent(t, snap)
			require.Len(t, snap.Messages, 2)
			require.Len(t, snap.Analyses, 1)
			assert.Equal(t, int64(102), snap.Analyses[0].ID)

			saved, savedAnalyses, _ := f.store.Saved()
			assert.Equal(t, snap.Messages, saved)
			assert.Equal(t, snap.Analyses, savedAnalyses)

			// A second delete of the same target is a no-op.
			assert.False(t, del(f.engine))
			results = append(results, snap)
		})
	}

	require.Len(t, results, 3)
	for _, snap := range results[1:] {
		assert.Equal(t, results[0].Messages, snap.Messages)
		assert.Equal(t, results[0].Analyses, snap.Analyses)
	}
}

func TestEngine_DeletedExchangesLeaveHistory(t *testing.T) {
	var mu sync.Mutex
	var last AnalysisRequest
	backend := backendFunc(func(_ context.Context, req AnalysisRequest) AnalysisResult {
		mu.Lock()
		last = req
		mu.Unlock()
		return successResult("summary of "+req.UserInput, 1)
	})
	lastHistory := func() []HistoryTurn {
		mu.Lock()
		defer mu.Unlock()
		return last.ChatHistory
	}
	want := []HistoryTurn{
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "summary of second"},
	}

	f := newEngineFixture(t, backend, nil)
	submitAndWait(t, f.engine, "first")
	submitAndWait(t, f.engine, "second")
	require.True(t, f.engine.DeleteByAnalysisID(100))

	submitAndWait(t, f.engine, "third")
	assert.Equal(t, want, lastHistory())
	require.True(t, f.engine.DeleteByMessageID(104))

	// A reloaded conversation sends the same history.
	reloaded := newEngineFixture(t, backend, f.store)
	submitAndWait(t, reloaded.engine, "third again")
	assert.Equal(t, want, lastHistory())
}

func TestEngine_DeleteFromChatSide(t *testing.T) {
	f := newEngineFixture(t, okBackend(), nil)
	submitAndWait(t, f.engine, "Show qualification rates")

	assert.True(t, f.engine.DeleteByMessageID(101))
	snap := f.engine.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Analyses)
}

func TestEngine_DeleteUnknownIsNoop(t *testing.T) {
	f := newEngineFixture(t, okBackend(), nil)
	submitAndWait(t, f.engine, "q")
	_, _, saves := f.store.Saved()

	assert.False(t, f.engine.DeleteByMessageID(4242))
	assert.False(t, f.engine.DeleteByAnalysisID(4242))
	assert.False(t, f.engine.DeleteByAnalysisID(101), "assistant ids are not analysis ids")

	_, _, after := f.store.Saved()
	assert.Equal(t, saves, after)
	assert.Len(t, f.engine.Snapshot().Messages, 2)
}

func TestEngine_DeleteErrorNotice(t *testing.T) {
	backend := backendFunc(func(context.Context, AnalysisRequest) AnalysisResult {
		return failuref("network error")
	})

	t.Run("notice alone", func(t *testing.T) {
		f := newEngineFixture(t, backend, nil)
		submitAndWait(t, f.engine, "q")
		assert.True(t, f.engine.DeleteByMessageID(101))
		snap := f.engine.Snapshot()
		require.Len(t, snap.Messages, 1)
		assert.Equal(t, store.KindUser, snap.Messages[0].Kind)
	})

	t.Run("with its query", func(t *testing.T) {
		f := newEngineFixture(t, backend, nil)
		submitAndWait(t, f.engine, "q")
		assert.True(t, f.engine.DeleteByMessageID(100))
		assert.Empty(t, f.engine.Snapshot().Messages)
	})
}

func TestEngine_OrdinalsAreNeverReused(t *testing.T) {
	st := &memoryStateStore{}
	f := newEngineFixture(t, okBackend(), st)

	var ordinals []int
	for _, q := range []string{"a", "b", "c"} {
		out := submitAndWait(t, f.engine, q)
		ordinals = append(ordinals, out.Analysis.AnalysisNumber)
	}
	assert.Equal(t, []int{1, 2, 3}, ordinals)

	// Remove the highest-numbered analysis, then ask again.
	last := f.engine.Snapshot().Analyses[2]
	require.True(t, f.engine.DeleteByAnalysisID(last.ID))
	out := submitAndWait(t, f.engine, "d")
	assert.Equal(t, 4, out.Analysis.AnalysisNumber)

	// The high-water mark survives a reload.
	reloaded := newEngineFixture(t, okBackend(), st)
	assert.Equal(t, 5, reloaded.engine.NextAnalysisNumber())
}

func TestEngine_ClearAll(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	for _, q := range []string{"a", "b"} {
		p, err := f.engine.SubmitQuery(q, "")
		require.NoError(t, err)
		<-backend.requests
		backend.results <- successResult("r", 1)
		waitOutcome(t, p)
	}
	f.sched.Advance(200 * time.Millisecond)

	f.engine.ClearAll()
	snap := f.engine.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Analyses)
	assert.Equal(t, DefaultView, snap.ActiveView)
	assert.False(t, snap.HasSentFirstMessage)
	assert.Zero(t, snap.HighlightedAnalysis)
	assert.Equal(t, 1, snap.NextAnalysisNumber)

	saved, savedAnalyses, _ := f.store.Saved()
	assert.Empty(t, saved)
	assert.Empty(t, savedAnalyses)

	p, err := f.engine.SubmitQuery("again", "")
	require.NoError(t, err)
	assert.Equal(t, 1, p.UserMessage.AnalysisNumber)
	req := <-backend.requests
	assert.Empty(t, req.ChatHistory)
	backend.results <- successResult("r", 1)
	waitOutcome(t, p)
}

func TestEngine_LateResponseAfterClearIsDiscarded(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	p, err := f.engine.SubmitQuery("slow", "")
	require.NoError(t, err)
	<-backend.requests

	f.engine.ClearAll()
	assert.True(t, f.engine.Snapshot().IsLoading, "the call is still outstanding")
	_, err = f.engine.SubmitQuery("another", "")
	assert.ErrorIs(t, err, ErrSubmissionRejected)

	backend.results <- successResult("late", 1)
	out := waitOutcome(t, p)
	assert.True(t, out.Dropped)

	snap := f.engine.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Analyses)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, DefaultView, snap.ActiveView)
}

func TestEngine_LateResponseForDeletedQueryIsDiscarded(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	p, err := f.engine.SubmitQuery("slow", "")
	require.NoError(t, err)
	<-backend.requests

	assert.True(t, f.engine.DeleteByMessageID(p.UserMessage.ID))
	backend.results <- successResult("late", 1)
	out := waitOutcome(t, p)
	assert.True(t, out.Dropped)
	assert.Empty(t, f.engine.Snapshot().Messages)
	assert.False(t, f.engine.Snapshot().IsLoading)
}

func TestEngine_CloseDiscardsInFlight(t *testing.T) {
	backend := newGatedBackend()
	f := newEngineFixture(t, backend, nil)

	p, err := f.engine.SubmitQuery("slow", "")
	require.NoError(t, err)
	<-backend.requests

	f.engine.Close()
	_, err = f.engine.SubmitQuery("after close", "")
	assert.ErrorIs(t, err, ErrEngineClosed)

	backend.results <- successResult("late", 1)
	out := waitOutcome(t, p)
	assert.True(t, out.Dropped)
	assert.Len(t, f.engine.Snapshot().Messages, 1)
}

func TestEngine_NavigationNoop(t *testing.T) {
	backend := backendFunc(func(context.Context, AnalysisRequest) AnalysisResult {
		return failuref("network error")
	})
	f := newEngineFixture(t, backend, nil)
	submitAndWait(t, f.engine, "q")
	f.engine.View().SetActiveView(ViewData)

	assert.False(t, f.engine.NavigateFromMessageToAnalysis(999))
	assert.False(t, f.engine.NavigateFromMessageToAnalysis(100), "failed query has no analysis")
	assert.False(t, f.engine.NavigateFromMessageToAnalysis(101), "error notice has no analysis")
	assert.False(t, f.engine.NavigateFromAnalysisToMessage(999))

	assert.Equal(t, ViewData, f.engine.Snapshot().ActiveView)
	assert.Zero(t, f.sched.Active())
}

func TestEngine_NavigateFromMessageToAnalysis(t *testing.T) {
	f := newEngineFixture(t, okBackend(), nil)
	submitAndWait(t, f.engine, "q")
	f.sched.Advance(5 * time.Second)
	f.engine.View().SetActiveView(ViewData)

	assert.True(t, f.engine.NavigateFromMessageToAnalysis(101))
	assert.Equal(t, ViewAnalysis, f.engine.Snapshot().ActiveView)
	assert.Zero(t, f.engine.Snapshot().HighlightedAnalysis)

	f.sched.Advance(100 * time.Millisecond)
	assert.Equal(t, int64(100), f.engine.Snapshot().HighlightedAnalysis)
}

func TestEngine_NavigateFromAnalysisToMessage(t *testing.T) {
	t.Run("desktop", func(t *testing.T) {
		f := newEngineFixture(t, okBackend(), nil)
		submitAndWait(t, f.engine, "q")

		assert.True(t, f.engine.NavigateFromAnalysisToMessage(100))
		snap := f.engine.Snapshot()
		assert.Equal(t, int64(100), snap.HighlightedMessage)
		assert.Equal(t, ViewAnalysis, snap.ActiveView)
	})

	t.Run("mobile switches to chat first", func(t *testing.T) {
		f := newEngineFixture(t, okBackend(), nil)
		f.engine.View().SetLayout(LayoutMobile)
		submitAndWait(t, f.engine, "q")

		assert.True(t, f.engine.NavigateFromAnalysisToMessage(100))
		assert.Equal(t, ViewChat, f.engine.Snapshot().ActiveView)
		assert.Zero(t, f.engine.Snapshot().HighlightedMessage)

		f.sched.Advance(100 * time.Millisecond)
		assert.Equal(t, int64(100), f.engine.Snapshot().HighlightedMessage)
	})
}

func TestEngine_LoadRepairsState(t *testing.T) {
	link := int64(10)
	dangling := int64(77)
	now := time.UnixMilli(10)
	st := &memoryStateStore{
		messages: []store.Message{
			{ID: 10, Kind: store.KindUser, Content: "kept", AnalysisNumber: 1, Timestamp: now},
			{ID: 11, Kind: store.KindAssistant, Content: "**Analysis #1**\n\nfine", AnalysisNumber: 1, LinkedAnalysisID: &link, Timestamp: now},
			{ID: 12, Kind: store.KindAssistant, Content: "orphan", AnalysisNumber: 7, LinkedAnalysisID: &dangling, Timestamp: now},
			{ID: 13, Kind: store.KindUser, Content: "failed", AnalysisNumber: 2, Timestamp: now},
			{ID: 14, Kind: store.KindError, Content: "Failed to process request: x", Timestamp: now},
		},
		analyses: []store.Analysis{
			{ID: 10, MessageID: 10, AssistantMessageID: 11, Query: "kept", AnalysisNumber: 1, Charts: []store.Chart{}},
			{ID: 50, MessageID: 50, AssistantMessageID: 51, Query: "gone", AnalysisNumber: 3, Charts: []store.Chart{}},
		},
	}

	backend := newGatedBackend()
	f := newEngineFixture(t, backend, st)
	snap := f.engine.Snapshot()

	require.Len(t, snap.Messages, 4)
	assert.Equal(t, []int64{10, 11, 13, 14}, []int64{snap.Messages[0].ID, snap.Messages[1].ID, snap.Messages[2].ID, snap.Messages[3].ID})
	require.Len(t, snap.Analyses, 1)
	assert.Equal(t, int64(10), snap.Analyses[0].ID)
	assert.True(t, snap.HasSentFirstMessage)
	assertTriplesConsistent(t, snap)

	_, _, saves := st.Saved()
	assert.Equal(t, 1, saves, "repaired state is written back once")

	// Ordinals of dropped records still count, ids continue after the loaded ones.
	assert.Equal(t, 8, snap.NextAnalysisNumber)
	p, err := f.engine.SubmitQuery("next", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.UserMessage.ID)
	req := <-backend.requests
	assert.Equal(t, []HistoryTurn{{Role: "user", Content: "kept"}, {Role: "assistant", Content: "fine"}}, req.ChatHistory)
	backend.results <- successResult("r", 1)
	waitOutcome(t, p)
}

func TestEngine_CleanLoadDoesNotWrite(t *testing.T) {
	st := &memoryStateStore{}
	newEngineFixture(t, okBackend(), st)
	_, _, saves := st.Saved()
	assert.Zero(t, saves)
}

func TestEngine_MessageIDsStrictlyIncrease(t *testing.T) {
	f := newEngineFixture(t, okBackend(), nil)
	for _, q := range []string{"a", "b", "c"} {
		submitAndWait(t, f.engine, q)
	}
	snap := f.engine.Snapshot()
	for i := 1; i < len(snap.Messages); i++ {
		assert.Greater(t, snap.Messages[i].ID, snap.Messages[i-1].ID)
	}
}

func TestEngine_Metrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	sched := &manualScheduler{}
	e, err := NewEngine(1, &memoryStateStore{}, okBackend(), NewViewCoordinator(sched, 0, 0), EngineOptions{
		Scheduler: sched,
		Metrics:   m,
	})
	require.NoError(t, err)
	defer e.Close()

	submitAndWait(t, e, "q")
	e.ClearAll()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues(observability.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngagementTotal.WithLabelValues(observability.ActionClearAll)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightQueries))
}

func TestAnalysisMarkdown(t *testing.T) {
	r := newSuccess(Insight{
		Summary:         "Most applicants qualify.",
		KeyFindings:     []string{"62% qualified"},
		Recommendations: []string{"Offer more training"},
	}, []store.Chart{{ChartName: "Rates", ChartURL: "https://charts/rates.png"}}, 9)

	want := "## Analysis Results\n\nMost applicants qualify." +
		"\n\n### Key Findings\n\n- 62% qualified" +
		"\n\n### Recommendations\n\n- Offer more training" +
		"\n\n![Rates](https://charts/rates.png)"
	assert.Equal(t, want, AnalysisMarkdown(r))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "short", Describe("short"))
	exact := strings.Repeat("a", DescriptionLength)
	assert.Equal(t, exact, Describe(exact))
	long := strings.Repeat("ü", DescriptionLength+10)
	assert.Equal(t, strings.Repeat("ü", DescriptionLength)+"...", Describe(long))
}

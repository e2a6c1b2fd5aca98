package panel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/observability"
)

const grapheneResult = `{
	"themes": "[\"Materials\"]",
	"challenges": "[]",
	"scientificThemes": "[]",
	"mobilityTypes": "[]",
	"axes": "[]",
	"usages": "[]"
}`

func newTestClassifier(t *testing.T, cfg ClassifierConfig, sink *captureSink) (*ClassifierPanel, *fakeSession) {
	t.Helper()
	session := newFakeSession()
	p := NewClassifierPanel(session, cfg, testDeps(sink))
	p.Mount()
	t.Cleanup(p.Unmount)
	return p, session
}

func categoryValues(t *testing.T, state ClassifierState, key string) []string {
	t.Helper()
	for _, cv := range state.Categories {
		if cv.Key == key {
			return cv.Values
		}
	}
	t.Fatalf("category %s not in state", key)
	return nil
}

func TestClassifierPanel_GrapheneScenario(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{TextEvent: domain.EventLegacyTextClassification}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	sent := session.events()
	require.Len(t, sent, 1)
	assert.Equal(t, "classification", sent[0].event)
	assert.Equal(t, "graphene", sent[0].payload)

	loading := p.State()
	assert.True(t, loading.Loading)
	assert.Equal(t, domain.OutcomePending, loading.Outcome)

	require.True(t, session.deliver(domain.EventTextClassificationResults, grapheneResult))

	state := p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.False(t, state.Loading)
	assert.Empty(t, state.Error)
	assert.Equal(t, []string{"Materials"}, categoryValues(t, state, "themes"))
	for _, key := range []string{"challenges", "scientificThemes", "mobilityTypes", "axes", "usages"} {
		values := categoryValues(t, state, key)
		assert.NotNil(t, values, key)
		assert.Empty(t, values, key)
	}
}

func TestClassifierPanel_PendingDiffersFromEmptySuccess(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	before := p.State()
	assert.Equal(t, domain.OutcomePending, before.Outcome)
	assert.Nil(t, before.Categories)
	assert.Equal(t, gate.Idle.String(), before.Gate)

	_, err := p.ClassifyText(context.Background(), "nothing relevant")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults,
		`{"themes":"[]","challenges":"[]","scientificThemes":"[]","mobilityTypes":"[]","axes":"[]","usages":"[]"}`)

	after := p.State()
	assert.Equal(t, domain.OutcomeSuccess, after.Outcome)
	require.Len(t, after.Categories, 6)
	for _, cv := range after.Categories {
		assert.NotNil(t, cv.Values)
		assert.Empty(t, cv.Values)
	}
}

func TestClassifierPanel_RejectsWhileInFlight(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	first, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	_, err = p.ClassifyText(context.Background(), "silicon")
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)
	_, err = p.ClassifyJSON(context.Background(), strings.NewReader(`{"abstract": "x"}`))
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)

	assert.Len(t, session.events(), 1, "no duplicate send while in flight")
	assert.Equal(t, first.RequestID, p.State().RequestID)
}

func TestClassifierPanel_RemoteError(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	session.deliver(domain.EventClassificationError, `{"error": {"message": "Model unavailable"}}`)

	state := p.State()
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.Equal(t, "Model unavailable", state.Error)
	assert.False(t, state.Loading)
	assert.Nil(t, state.Categories)

	_, err = p.ClassifyText(context.Background(), "again")
	assert.NoError(t, err, "a failed request never blocks the next one")
}

func TestClassifierPanel_LateResultAppliesToCurrentState(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	session.deliver(domain.EventClassificationError, `{"error": "boom"}`)
	session.deliver(domain.EventTextClassificationResults, grapheneResult)

	state := p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.Empty(t, state.Error)
	assert.Equal(t, gate.Settled.String(), state.Gate)
}

func TestClassifierPanel_CorruptedCategory(t *testing.T) {
	metrics := observability.NewMetrics("test_panel_corrupted_category")
	session := newFakeSession()
	deps := testDeps(nil)
	deps.Metrics = metrics
	p := NewClassifierPanel(session, ClassifierConfig{}, deps)
	p.Mount()
	defer p.Unmount()

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults,
		`{"themes":"[\"Materials\"]","challenges":"not json","scientificThemes":"[]","mobilityTypes":"[]","axes":"[]","usages":"[]"}`)

	state := p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.Equal(t, []string{"Materials"}, categoryValues(t, state, "themes"))
	for _, cv := range state.Categories {
		if cv.Key == "challenges" {
			assert.NotEmpty(t, cv.Error)
			assert.Nil(t, cv.Values)
		}
	}
}

func TestClassifierPanel_UndecodablePayload(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventJSONClassificationResults, `"not an object"`)

	state := p.State()
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.Contains(t, state.Error, "invalid classification result")
	assert.False(t, state.Loading)
}

func TestClassifierPanel_ClassifyJSON(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	ticket, err := p.ClassifyJSON(context.Background(), strings.NewReader("{\n  \"abstract\": \"graphene\"\n}"))
	require.NoError(t, err)
	assert.Equal(t, OperationClassifyJSON, ticket.Operation)

	sent := session.events()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventJSONClassification, sent[0].event)
	assert.Equal(t, `{"abstract":"graphene"}`, sent[0].payload)

	session.deliver(domain.EventJSONClassificationResults, grapheneResult)
	assert.Equal(t, domain.OutcomeSuccess, p.State().Outcome)
}

func TestClassifierPanel_ClassifyJSONMalformed(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyJSON(context.Background(), strings.NewReader(`{"abstract": `))

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Empty(t, session.events())

	state := p.State()
	assert.Equal(t, conversion.InvalidJSONMessage, state.Error)
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.False(t, state.Loading)
	assert.Equal(t, gate.Idle.String(), state.Gate)
}

func TestClassifierPanel_EmptyText(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyText(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, session.events())
	assert.Equal(t, gate.Idle.String(), p.State().Gate)
}

func TestClassifierPanel_SendFailure(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)
	session.sendErr = domain.ErrSessionClosed

	_, err := p.ClassifyText(context.Background(), "graphene")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	state := p.State()
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.False(t, state.Loading)
}

func TestClassifierPanel_Timeout(t *testing.T) {
	p, _ := newTestClassifier(t, ClassifierConfig{GateTimeout: 20 * time.Millisecond}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.State().Outcome == domain.OutcomeFailure
	}, time.Second, 5*time.Millisecond)

	state := p.State()
	assert.Equal(t, domain.ErrTimeout.Error(), state.Error)
	assert.False(t, state.Loading)
}

func TestClassifierPanel_UnmountDropsLateResults(t *testing.T) {
	session := newFakeSession()
	p := NewClassifierPanel(session, ClassifierConfig{}, testDeps(nil))
	p.Mount()
	assert.Equal(t, 5, session.subscribed())

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	p.Unmount()
	p.Unmount()
	assert.False(t, p.Mounted())
	assert.Equal(t, 0, session.subscribed())

	assert.False(t, session.deliver(domain.EventTextClassificationResults, grapheneResult))
	assert.Equal(t, domain.OutcomePending, p.State().Outcome)
}

func TestClassifierPanel_RemountAfterAbandonedRequest(t *testing.T) {
	session := newFakeSession()
	p := NewClassifierPanel(session, ClassifierConfig{}, testDeps(nil))
	p.Mount()
	t.Cleanup(p.Unmount)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	p.Unmount()
	assert.False(t, session.deliver(domain.EventTextClassificationResults, grapheneResult))

	state := p.State()
	assert.Equal(t, domain.OutcomePending, state.Outcome)
	assert.False(t, state.Loading, "an abandoned request releases the gate")

	p.Mount()
	second, err := p.ClassifyText(context.Background(), "graphene oxide")
	require.NoError(t, err)
	assert.True(t, p.State().Loading)

	require.True(t, session.deliver(domain.EventTextClassificationResults, grapheneResult))
	state = p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.Equal(t, second.RequestID, state.RequestID)
	assert.False(t, state.Loading)
}

func TestClassifierPanel_GateReopensOnlyWithPanelState(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)

	p.mu.Lock()
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		session.deliver(domain.EventTextClassificationResults, grapheneResult)
	}()
	time.Sleep(20 * time.Millisecond)

	// The result is waiting for the panel lock, so the cycle is still open
	// and a new request cannot slip in ahead of it.
	assert.True(t, p.gate.InFlight())
	_, err = p.startLocked(context.Background(), OperationClassifyText, p.textEvent, "second", "")
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)
	p.mu.Unlock()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("result not applied")
	}

	state := p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.False(t, state.Loading)
	assert.Equal(t, gate.Settled.String(), state.Gate)
	assert.Len(t, session.events(), 1)
}

func TestClassifierPanel_StaleTimeoutIgnored(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	first, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults, grapheneResult)

	second, err := p.ClassifyText(context.Background(), "graphene oxide")
	require.NoError(t, err)

	// The first cycle's timer fires after its result already settled it.
	p.onTimeout(first)

	state := p.State()
	assert.Equal(t, domain.OutcomePending, state.Outcome)
	assert.True(t, state.Loading)
	assert.Equal(t, second.RequestID, state.RequestID)
	assert.Empty(t, state.Error)

	p.onTimeout(second)
	state = p.State()
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.Equal(t, domain.ErrTimeout.Error(), state.Error)
	assert.False(t, state.Loading)
}

func TestClassifierPanel_ClassifyDataset(t *testing.T) {
	sink := &captureSink{}
	p, session := newTestClassifier(t, ClassifierConfig{}, sink)

	record := domain.Record{
		"DOI":   "10.1016/j.carbon.2020.01.001",
		"title": []any{"Graphene for urban mobility"},
	}
	ticket, err := p.ClassifyDataset(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, OperationClassifyDataset, ticket.Operation)

	sent := session.events()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventDatasetClassification, sent[0].event)
	body, ok := sent[0].payload.(string)
	require.True(t, ok, "record is sent as a JSON string")
	assert.JSONEq(t, `{"DOI": "10.1016/j.carbon.2020.01.001", "title": ["Graphene for urban mobility"]}`, body)

	loading := p.State()
	assert.True(t, loading.Loading)
	assert.Equal(t, "10.1016/j.carbon.2020.01.001", loading.DOI)

	require.True(t, session.deliver(domain.EventDatasetClassificationResults, `{
		"DOI": "10.1016/j.carbon.2020.01.001",
		"themes": ["Materials"],
		"challenges": [],
		"scientificThemes": [],
		"mobilityTypes": [],
		"axes": [],
		"usages": []
	}`))

	state := p.State()
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.False(t, state.Loading)
	assert.Equal(t, "10.1016/j.carbon.2020.01.001", state.DOI)
	assert.Equal(t, []string{"Materials"}, categoryValues(t, state, "themes"))

	events := sink.published()
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"doi":"10.1016/j.carbon.2020.01.001"`)
}

func TestClassifierPanel_ClassifyDatasetError(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	_, err := p.ClassifyDataset(context.Background(), domain.Record{"DOI": "10.1/missing"})
	require.NoError(t, err)
	session.deliver(domain.EventClassificationError, `{"error": "no abstract"}`)

	state := p.State()
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.Equal(t, "no abstract", state.Error)
	assert.Equal(t, "10.1/missing", state.DOI, "the failed record stays identifiable")
	assert.False(t, state.Loading)
}

func TestClassifierPanel_ClassifyDatasetRequiresDOI(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	for _, record := range []domain.Record{nil, {"title": []any{"Graphene"}}, {"DOI": "  "}} {
		_, err := p.ClassifyDataset(context.Background(), record)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Empty(t, session.events())
	assert.False(t, p.State().Loading)
}

func TestClassifierPanel_UnmountNeverMounted(t *testing.T) {
	session := newFakeSession()
	p := NewClassifierPanel(session, ClassifierConfig{}, testDeps(nil))

	assert.NotPanics(t, func() {
		p.Unmount()
		p.Unmount()
	})
}

func TestClassifierPanel_Watch(t *testing.T) {
	p, session := newTestClassifier(t, ClassifierConfig{}, nil)

	updates, cancel := p.Watch()
	defer cancel()

	initial := <-updates
	assert.Equal(t, domain.OutcomePending, initial.Outcome)

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults, grapheneResult)

	select {
	case s := <-updates:
		assert.Equal(t, domain.OutcomeSuccess, s.Outcome)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after result")
	}
}

func TestClassifierPanel_PublishesOutcome(t *testing.T) {
	sink := &captureSink{}
	p, session := newTestClassifier(t, ClassifierConfig{}, sink)

	ctx := observability.WithCorrelationID(context.Background(), "corr-7")
	ticket, err := p.ClassifyText(ctx, "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults, grapheneResult)

	events := sink.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeClassificationSettled, events[0].EventType)
	assert.Equal(t, ticket.RequestID, events[0].AggregateID)
	assert.Equal(t, "corr-7", events[0].Metadata["correlation_id"])
	assert.Contains(t, string(events[0].Payload), `"themes":["Materials"]`)

	// an unsolicited result updates the state but settles nothing
	session.deliver(domain.EventTextClassificationResults, grapheneResult)
	assert.Len(t, sink.published(), 1)
}

func TestClassifierPanel_Categories(t *testing.T) {
	custom := []domain.Category{{Key: "themes", Label: "Themes"}}
	p, session := newTestClassifier(t, ClassifierConfig{Categories: custom}, nil)
	assert.Equal(t, custom, p.Categories())

	_, err := p.ClassifyText(context.Background(), "graphene")
	require.NoError(t, err)
	session.deliver(domain.EventTextClassificationResults, grapheneResult)

	state := p.State()
	require.Len(t, state.Categories, 1)
	assert.Equal(t, []string{"Materials"}, state.Categories[0].Values)
}

package correlate

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"procurehub/internal/model"
)

type fakeDirectory struct {
	byEmail map[string]*model.Responder
}

func (f *fakeDirectory) FindByEmail(_ context.Context, email string) (*model.Responder, error) {
	return f.byEmail[email], nil
}

type fakeDispatches struct {
	latest map[uuid.UUID]uuid.UUID
	calls  int
}

func (f *fakeDispatches) LatestOpenRequestFor(_ context.Context, responderID uuid.UUID) (uuid.UUID, bool, error) {
	f.calls++
	id, ok := f.latest[responderID]
	return id, ok, nil
}

func TestCorrelateSubjectTagAndSender(t *testing.T) {
	requestID := uuid.New()
	responderID := uuid.New()

	directory := &fakeDirectory{byEmail: map[string]*model.Responder{
		"sales@acme.com": {ID: responderID, Email: "sales@acme.com"},
	}}
	dispatches := &fakeDispatches{}
	engine := NewEngine(directory, dispatches, zap.NewNop())

	match, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromHeader: "Acme <Sales@Acme.com>",
		Subject:    "Re: Quote " + SubjectTag(requestID.String()),
	})
	require.NoError(t, err)
	assert.Equal(t, requestID, match.RequestID)
	assert.Equal(t, responderID, match.ResponderID)

	// 有标签就不回退到 dispatch 历史
	assert.Zero(t, dispatches.calls)
}

func TestCorrelateFallsBackToDispatchHistory(t *testing.T) {
	requestID := uuid.New()
	responderID := uuid.New()

	directory := &fakeDirectory{byEmail: map[string]*model.Responder{
		"sales@acme.com": {ID: responderID, Email: "sales@acme.com"},
	}}
	dispatches := &fakeDispatches{latest: map[uuid.UUID]uuid.UUID{responderID: requestID}}
	engine := NewEngine(directory, dispatches, zap.NewNop())

	match, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromAddress: "sales@acme.com",
		Subject:     "Re: your quote request",
	})
	require.NoError(t, err)
	assert.Equal(t, requestID, match.RequestID)
	assert.Equal(t, 1, dispatches.calls)
}

func TestCorrelateTagWinsOverHistory(t *testing.T) {
	taggedRequest := uuid.New()
	historyRequest := uuid.New()
	responderID := uuid.New()

	directory := &fakeDirectory{byEmail: map[string]*model.Responder{
		"sales@acme.com": {ID: responderID},
	}}
	dispatches := &fakeDispatches{latest: map[uuid.UUID]uuid.UUID{responderID: historyRequest}}
	engine := NewEngine(directory, dispatches, zap.NewNop())

	match, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromAddress: "sales@acme.com",
		Subject:     SubjectTag(taggedRequest.String()),
	})
	require.NoError(t, err)
	assert.Equal(t, taggedRequest, match.RequestID)
	assert.Zero(t, dispatches.calls)
}

func TestCorrelateNoSenderAddress(t *testing.T) {
	engine := NewEngine(&fakeDirectory{}, &fakeDispatches{}, zap.NewNop())

	_, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromHeader: "mystery sender",
		Subject:    SubjectTag(uuid.New().String()),
	})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.False(t, failure.AddressExtracted)
	assert.False(t, failure.ResponderResolved)
}

func TestCorrelateUnknownResponder(t *testing.T) {
	requestID := uuid.New()
	engine := NewEngine(&fakeDirectory{}, &fakeDispatches{}, zap.NewNop())

	_, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromAddress: "stranger@nowhere.com",
		Subject:     SubjectTag(requestID.String()),
	})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.AddressExtracted)
	assert.True(t, failure.RequestResolved)
	assert.False(t, failure.ResponderResolved)
	assert.Equal(t, "stranger@nowhere.com", failure.SenderAddress)
}

func TestCorrelateKnownResponderNoRequest(t *testing.T) {
	responderID := uuid.New()
	directory := &fakeDirectory{byEmail: map[string]*model.Responder{
		"sales@acme.com": {ID: responderID},
	}}
	engine := NewEngine(directory, &fakeDispatches{}, zap.NewNop())

	_, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromAddress: "sales@acme.com",
		Subject:     "hello",
	})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.ResponderResolved)
	assert.False(t, failure.RequestResolved)
}

func TestCorrelateMalformedTagFallsBack(t *testing.T) {
	// 标签身份不是合法 UUID：当作无标签处理，走历史回退
	requestID := uuid.New()
	responderID := uuid.New()
	directory := &fakeDirectory{byEmail: map[string]*model.Responder{
		"sales@acme.com": {ID: responderID},
	}}
	dispatches := &fakeDispatches{latest: map[uuid.UUID]uuid.UUID{responderID: requestID}}
	engine := NewEngine(directory, dispatches, zap.NewNop())

	match, err := engine.Correlate(context.Background(), &model.InboundEmail{
		FromAddress: "sales@acme.com",
		Subject:     "[REQ-not-a-uuid]",
	})
	require.NoError(t, err)
	assert.Equal(t, requestID, match.RequestID)
	assert.Equal(t, 1, dispatches.calls)
}

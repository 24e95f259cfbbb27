package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqcontracts "procurehub/contracts/mq"
	"procurehub/internal/model"
	"procurehub/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEmailStore struct {
	emails   map[uuid.UUID]*model.InboundEmail
	statuses map[uuid.UUID]model.InboundEmailStatus
	reasons  map[uuid.UUID]string
	findErr  error
}

func newFakeEmailStore() *fakeEmailStore {
	return &fakeEmailStore{
		emails:   make(map[uuid.UUID]*model.InboundEmail),
		statuses: make(map[uuid.UUID]model.InboundEmailStatus),
		reasons:  make(map[uuid.UUID]string),
	}
}

func (s *fakeEmailStore) FindByID(_ context.Context, id uuid.UUID) (*model.InboundEmail, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.emails[id], nil
}

func (s *fakeEmailStore) UpdateOutcome(_ context.Context, id uuid.UUID, status model.InboundEmailStatus, failReason string) error {
	s.statuses[id] = status
	s.reasons[id] = failReason
	return nil
}

// fakePipeline pops one scripted response per call.
type fakePipeline struct {
	results []service.InboundResult
	errs    []error
	calls   int
}

func (p *fakePipeline) ProcessInbound(_ context.Context, _ *model.InboundEmail) (service.InboundResult, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return service.InboundResult{}, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return service.InboundResult{Outcome: service.OutcomeProcessed}, nil
}

type fakeDeduper struct {
	held     map[string]bool
	releases int
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{held: make(map[string]bool)}
}

func (d *fakeDeduper) AcquireOnce(_ context.Context, handler string, id string) bool {
	key := handler + ":" + id
	if d.held[key] {
		return false
	}
	d.held[key] = true
	return true
}

func (d *fakeDeduper) Release(_ context.Context, handler string, id string) error {
	delete(d.held, handler+":"+id)
	d.releases++
	return nil
}

type fakeRetryCounter struct {
	counts map[string]int64
}

func newFakeRetryCounter() *fakeRetryCounter {
	return &fakeRetryCounter{counts: make(map[string]int64)}
}

func (c *fakeRetryCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func (c *fakeRetryCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

type fakeDLQ struct {
	payloads [][]byte
	reasons  []string
}

func (d *fakeDLQ) PublishToDLQ(_ string, payload []byte, originalError string) error {
	d.payloads = append(d.payloads, payload)
	d.reasons = append(d.reasons, originalError)
	return nil
}

type handlerFixture struct {
	handler *ProposalInboundHandler
	emails  *fakeEmailStore
	pipe    *fakePipeline
	dedup   *fakeDeduper
	retries *fakeRetryCounter
	dlq     *fakeDLQ
	emailID uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	emails := newFakeEmailStore()
	id := uuid.New()
	emails.emails[id] = &model.InboundEmail{
		ID:         id,
		FromHeader: "Acme <sales@acme.com>",
		Subject:    "Re: quote",
		Body:       "pricing attached",
		ReceivedAt: time.Now(),
		Status:     model.InboundEmailStatusQueued,
	}

	f := &handlerFixture{
		emails:  emails,
		pipe:    &fakePipeline{},
		dedup:   newFakeDeduper(),
		retries: newFakeRetryCounter(),
		dlq:     &fakeDLQ{},
		emailID: id,
	}
	f.handler = NewProposalInboundHandler(f.emails, f.pipe, f.retries, f.dedup, f.dlq, zap.NewNop())
	return f
}

func (f *handlerFixture) payload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.ProposalInboundPayload{EmailID: f.emailID, ReceivedAt: time.Now()})
	require.NoError(t, err)
	return raw
}

func TestHandleRetryableFailureThenRedeliverySucceeds(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipe.errs = []error{errors.New("connection refused")}
	f.pipe.results = []service.InboundResult{{}, {Outcome: service.OutcomeProcessed}}

	// 第一轮：可重试错误 → nack，且去重锁必须被释放
	err := f.handler.Handle(context.Background(), f.payload(t))
	require.Error(t, err)
	assert.Empty(t, f.dedup.held, "dedup lock must be released before a nack")
	assert.Equal(t, 1, f.dedup.releases)
	assert.NotContains(t, f.emails.statuses, f.emailID)

	// 重投：必须真正重新处理，而不是当作重复消息吞掉
	err = f.handler.Handle(context.Background(), f.payload(t))
	require.NoError(t, err)
	assert.Equal(t, 2, f.pipe.calls)
	assert.Equal(t, model.InboundEmailStatusProcessed, f.emails.statuses[f.emailID])
	assert.Empty(t, f.retries.counts, "retry counter reset after success")
}

func TestHandleConcurrentDuplicateEventSkips(t *testing.T) {
	f := newHandlerFixture(t)
	f.dedup.held["proposal_inbound:"+f.emailID.String()] = true

	err := f.handler.Handle(context.Background(), f.payload(t))
	require.NoError(t, err)
	assert.Zero(t, f.pipe.calls)
	assert.NotContains(t, f.emails.statuses, f.emailID)
}

func TestHandleGivesUpAfterMaxRetries(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipe.errs = []error{errors.New("connection refused")}

	retryKey := "retry:proposal_inbound:" + f.emailID.String()
	f.retries.counts[retryKey] = maxRetries // next increment exceeds the cap

	err := f.handler.Handle(context.Background(), f.payload(t))
	require.NoError(t, err, "exhausted retries ack instead of nacking")
	assert.Equal(t, model.InboundEmailStatusFailed, f.emails.statuses[f.emailID])
	assert.Contains(t, f.emails.reasons[f.emailID], "connection refused")
	assert.NotContains(t, f.retries.counts, retryKey)
	assert.Zero(t, f.dedup.releases, "terminal ack keeps the dedup lock")
}

func TestHandleRetryCountAdvancesAcrossRedeliveries(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipe.errs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	f.pipe.results = []service.InboundResult{{}, {}, {}, {Outcome: service.OutcomeProcessed}}

	retryKey := "retry:proposal_inbound:" + f.emailID.String()
	for i := 1; i <= 3; i++ {
		err := f.handler.Handle(context.Background(), f.payload(t))
		require.Error(t, err)
		assert.Equal(t, int64(i), f.retries.counts[retryKey])
	}

	require.NoError(t, f.handler.Handle(context.Background(), f.payload(t)))
	assert.Equal(t, model.InboundEmailStatusProcessed, f.emails.statuses[f.emailID])
}

func TestHandleTerminalPipelineErrorAcks(t *testing.T) {
	f := newHandlerFixture(t)
	f.pipe.errs = []error{errors.New("invalid character 'x' looking for beginning of value")}

	err := f.handler.Handle(context.Background(), f.payload(t))
	require.NoError(t, err)
	assert.Equal(t, model.InboundEmailStatusFailed, f.emails.statuses[f.emailID])
	assert.Zero(t, f.dedup.releases)
}

func TestHandleAlreadyDispositionedSkips(t *testing.T) {
	f := newHandlerFixture(t)
	f.emails.emails[f.emailID].Status = model.InboundEmailStatusProcessed

	err := f.handler.Handle(context.Background(), f.payload(t))
	require.NoError(t, err)
	assert.Zero(t, f.pipe.calls)
	assert.Empty(t, f.dedup.held)
}

func TestHandleBadPayloadGoesToDLQ(t *testing.T) {
	f := newHandlerFixture(t)

	err := f.handler.Handle(context.Background(), json.RawMessage(`{not json`))
	require.NoError(t, err, "poison payload acks after landing in the DLQ")
	require.Len(t, f.dlq.payloads, 1)
	assert.Zero(t, f.pipe.calls)
}

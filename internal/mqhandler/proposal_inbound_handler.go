package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	mqcontracts "procurehub/contracts/mq"
	"procurehub/internal/model"
	"procurehub/internal/service"
	"procurehub/pkg/logger"
	"procurehub/pkg/trace"
	"procurehub/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxRetries = 5
)

// Handler collaborators as seams. The pgx repository, the pipeline and
// the redis helpers satisfy these.
type emailStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error)
	UpdateOutcome(ctx context.Context, id uuid.UUID, status model.InboundEmailStatus, failReason string) error
}

type inboundPipeline interface {
	ProcessInbound(ctx context.Context, email *model.InboundEmail) (service.InboundResult, error)
}

type eventDeduper interface {
	AcquireOnce(ctx context.Context, handler string, id string) bool
	Release(ctx context.Context, handler string, id string) error
}

type retryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type dlqPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// ProposalInboundHandler consumes proposal.inbound events and drives
// the pipeline over the stored email row. Ack/nack policy: business
// dispositions and terminal errors ack; infrastructure errors nack and
// re-queue until maxRetries, after which the row is marked failed and
// the message acked. The dedup lock is dropped before every nack so
// the redelivery is processed instead of skipped.
type ProposalInboundHandler struct {
	emailRepo    emailStore
	pipeline     inboundPipeline
	retryCounter retryCounter
	deduper      eventDeduper
	dlqPublisher dlqPublisher
	logger       *zap.Logger
}

func NewProposalInboundHandler(
	emailRepo emailStore,
	pipeline inboundPipeline,
	retryCounter retryCounter,
	deduper eventDeduper,
	dlqPublisher dlqPublisher,
	logger *zap.Logger,
) *ProposalInboundHandler {
	return &ProposalInboundHandler{
		emailRepo:    emailRepo,
		pipeline:     pipeline,
		retryCounter: retryCounter,
		deduper:      deduper,
		dlqPublisher: dlqPublisher,
		logger:       logger,
	}
}

func (h *ProposalInboundHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer h.recoverPanic()

	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.ProposalInboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ProposalInboundPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		// 坏消息重试无意义，进 DLQ 后 ack
		if dlqErr := h.dlqPublisher.PublishToDLQ(mqcontracts.RoutingKeyProposalInbound, raw, err.Error()); dlqErr != nil {
			return fmt.Errorf("bad_payload: %w", err)
		}
		return nil
	}

	// 从 payload 中提取 trace_id 并添加到 context（如果存在）
	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}

	traceLogger := logger.WithTrace(ctx, h.logger)
	traceLogger.Info("ProposalInboundHandler: received email event",
		zap.String("email_id", payload.EmailID.String()),
	)

	// --------------------------
	// Step 2: load email
	// --------------------------
	email, err := h.emailRepo.FindByID(ctx, payload.EmailID)
	if err != nil {
		return h.handleRepoError("FindByID", err)
	}
	if email == nil {
		h.logger.Warn("Inbound email row not found, skip",
			zap.String("email_id", payload.EmailID.String()),
		)
		return nil
	}

	// 幂等：已经处理过 → 跳过
	if email.Status != model.InboundEmailStatusQueued {
		traceLogger.Info("Email already dispositioned, skip",
			zap.String("email_id", payload.EmailID.String()),
			zap.String("status", string(email.Status)),
		)
		return nil
	}

	// Redis 去重（避免并发重复消费）
	if !h.deduper.AcquireOnce(ctx, "proposal_inbound", payload.EmailID.String()) {
		traceLogger.Info("Duplicated event, skip",
			zap.String("email_id", payload.EmailID.String()),
		)
		return nil
	}

	// --------------------------
	// Step 3: retry count
	// --------------------------
	retryKey := util.FormatRetryKey("proposal_inbound", payload.EmailID.String())
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)

	// --------------------------
	// Step 4: run the pipeline
	// --------------------------
	result, err := h.pipeline.ProcessInbound(ctx, email)
	if err != nil {
		return h.nackOrGiveUp(ctx, h.handlePipelineError(ctx, err, retryKey, retryCount, payload.EmailID), payload.EmailID)
	}

	// --------------------------
	// Step 5: record disposition on the email row
	// --------------------------
	status := model.InboundEmailStatusProcessed
	failReason := ""
	switch result.Outcome {
	case service.OutcomeCorrelationFailed:
		status = model.InboundEmailStatusFailed
		failReason = result.Detail
	case service.OutcomeDuplicate:
		failReason = result.Detail
	}
	if err := h.emailRepo.UpdateOutcome(ctx, payload.EmailID, status, failReason); err != nil {
		return h.nackOrGiveUp(ctx, h.handleRepoError("UpdateOutcome", err), payload.EmailID)
	}

	h.retryCounter.Reset(ctx, retryKey)

	traceLogger.Info("Inbound email dispositioned",
		zap.String("email_id", payload.EmailID.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	return nil
}

// nackOrGiveUp releases the dedup lock when the message is about to be
// nacked. Without the release the redelivery would hit AcquireOnce,
// read false and ack, leaving the email row queued forever.
func (h *ProposalInboundHandler) nackOrGiveUp(ctx context.Context, err error, emailID uuid.UUID) error {
	if err != nil {
		_ = h.deduper.Release(ctx, "proposal_inbound", emailID.String())
	}
	return err
}

func (h *ProposalInboundHandler) handleRepoError(op string, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Error("Repo error",
		zap.String("op", op),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)

	if isRetryable {
		return err // nack → 重试
	}
	return nil // ack → 吃掉
}

func (h *ProposalInboundHandler) handlePipelineError(ctx context.Context, err error, retryKey string, retryCount int64, emailID uuid.UUID) error {
	isRetryable, errType := util.IsRetryableError(err)

	h.logger.Warn("Pipeline error",
		zap.String("error", err.Error()),
		zap.String("type", errType),
		zap.Bool("retryable", isRetryable),
		zap.String("email_id", emailID.String()),
		zap.Int64("retry", retryCount),
	)

	// 多次失败 → 标记 failed 并 ack
	if !util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		_ = h.emailRepo.UpdateOutcome(ctx, emailID, model.InboundEmailStatusFailed, err.Error())
		h.retryCounter.Reset(ctx, retryKey)
		return nil // ack
	}

	return err // nack → 重试
}

func (h *ProposalInboundHandler) recoverPanic() {
	if r := recover(); r != nil {
		h.logger.Error("panic recovered in handler", zap.Any("panic", r))
	}
}

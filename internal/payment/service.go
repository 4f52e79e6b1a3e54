// Package payment は銀行振込の振込証明アップロードと差し戻しのドメインロジックを提供する。
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

const (
	maxRejectReasonLength = 500
	maxFileNameLength     = 255
)

// OrderFinder は注文の取得インターフェース。
type OrderFinder interface {
	FindByID(ctx context.Context, id string) (*model.Order, error)
}

// Metrics は支払いメトリクスの記録インターフェース。
type Metrics interface {
	RecordPaymentProofUploaded()
}

// Service は支払いのサービス層。
type Service struct {
	orders   OrderFinder
	payments repository.PaymentRepository
	maxSize  int64
	metrics  Metrics
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// maxSizeは振込証明ファイルの最大バイト数。
func NewService(orders OrderFinder, payments repository.PaymentRepository, maxSize int64, metrics Metrics) *Service {
	return &Service{
		orders:   orders,
		payments: payments,
		maxSize:  maxSize,
		metrics:  metrics,
		now:      time.Now,
	}
}

// MaxSize は受け付ける振込証明の最大バイト数を返す。
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// ProofUpload はアップロードされた振込証明ファイルを表す。
type ProofUpload struct {
	FileName string
	Data     []byte
}

// Get は注文の支払い情報を返す。注文の当事者のみ参照できる。
func (s *Service) Get(ctx context.Context, userID, orderID string) (*model.Payment, error) {
	if _, _, err := s.loadOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.findPayment(ctx, orderID)
}

// UploadProof は購入者の振込証明を保存し、支払いをsubmittedにする。
// ファイル形式は拡張子ではなく内容から判定する。
// 差し戻し後や確認前であれば再提出でき、以前のファイルは置き換えられる。
func (s *Service) UploadProof(ctx context.Context, userID, orderID string, upload ProofUpload) (*model.Payment, error) {
	order, role, err := s.loadOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if role != model.ActorBuyer {
		return nil, model.NewForbiddenActorError(model.OrderActionUploadProof, role)
	}
	if order.Status != model.OrderStatusPlaced {
		return nil, model.NewInvalidTransitionError(order.Status, model.OrderActionUploadProof)
	}

	size := int64(len(upload.Data))
	if size == 0 {
		return nil, model.NewValidationError("file is required")
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, model.NewProofTooLargeError(s.maxSize)
	}
	contentType := DetectContentType(upload.Data)
	if !model.AllowedProofContentTypes[contentType] {
		return nil, model.NewUnsupportedProofTypeError(contentType)
	}

	payment, err := s.findPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.AcceptsProof() {
		return nil, model.NewInvalidPaymentStateError(payment.Status)
	}

	now := s.now()
	event, err := model.NewOrderEvent(uuid.New().String(), model.EventPaymentSubmitted, order, role, "", now)
	if err != nil {
		return nil, err
	}

	proof := &model.PaymentProof{
		PaymentProofMeta: model.PaymentProofMeta{
			FileName:    cleanFileName(upload.FileName),
			ContentType: contentType,
			SizeBytes:   size,
			UploadedAt:  now,
		},
		PaymentID: payment.ID,
		Data:      upload.Data,
	}
	if err := s.payments.SaveProof(ctx, proof, event); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentProofUploaded()
	}
	slog.Info("振込証明を保存しました",
		slog.String("order_id", orderID),
		slog.String("payment_id", payment.ID),
		slog.String("content_type", contentType),
		slog.Int64("size_bytes", size),
	)

	return s.findPayment(ctx, orderID)
}

// GetProof は振込証明ファイルを返す。購入者と出品者の両方が取得できる。
func (s *Service) GetProof(ctx context.Context, userID, orderID string) (*model.PaymentProof, error) {
	if _, _, err := s.loadOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	payment, err := s.findPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	proof, err := s.payments.FindProof(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, model.NewProofNotFoundError()
	}
	return proof, nil
}

// Reject は出品者が振込証明を差し戻す。購入者は再提出できる。
func (s *Service) Reject(ctx context.Context, userID, orderID, reason string) (*model.Payment, error) {
	order, role, err := s.loadOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if role != model.ActorSeller {
		return nil, model.NewForbiddenActorError(model.OrderActionRejectPayment, role)
	}
	// 差し戻し後の再提出はplacedの注文でのみ可能
	if order.Status != model.OrderStatusPlaced {
		return nil, model.NewInvalidTransitionError(order.Status, model.OrderActionRejectPayment)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, model.NewValidationError("reason is required")
	}
	if utf8.RuneCountInString(reason) > maxRejectReasonLength {
		return nil, model.NewValidationError(fmt.Sprintf("reason must be at most %d characters", maxRejectReasonLength))
	}

	payment, err := s.findPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusSubmitted {
		return nil, model.NewInvalidPaymentStateError(payment.Status)
	}

	event, err := model.NewOrderEvent(uuid.New().String(), model.EventPaymentRejected, order, role, reason, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.payments.Reject(ctx, payment.ID, reason, event); err != nil {
		return nil, err
	}

	slog.Info("振込証明を差し戻しました",
		slog.String("order_id", orderID),
		slog.String("payment_id", payment.ID),
	)

	return s.findPayment(ctx, orderID)
}

func (s *Service) loadOrder(ctx context.Context, userID, orderID string) (*model.Order, model.ActorRole, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("注文の取得に失敗しました: %w", err)
	}
	if order == nil {
		return nil, "", model.NewOrderNotFoundError(orderID)
	}
	role, ok := order.RoleOf(userID)
	if !ok {
		return nil, "", model.NewOrderNotFoundError(orderID)
	}
	return order, role, nil
}

func (s *Service) findPayment(ctx context.Context, orderID string) (*model.Payment, error) {
	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, model.NewPaymentNotFoundError(orderID)
	}
	return payment, nil
}

// DetectContentType はファイル先頭のバイト列からMIMEタイプを判定する。
// パラメータ（charset等）は取り除く。
func DetectContentType(data []byte) string {
	contentType := http.DetectContentType(data)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}

// cleanFileName はパス要素と制御文字を除いたファイル名を返す。
func cleanFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "proof"
	}
	if utf8.RuneCountInString(name) > maxFileNameLength {
		name = string([]rune(name)[:maxFileNameLength])
	}
	return name
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/payment"
)

const (
	// proofFormField は振込証明ファイルのmultipartフィールド名。
	proofFormField = "file"

	// multipartOverheadBytes はファイル以外のmultipartヘッダーに許容するサイズ。
	multipartOverheadBytes = 64 << 10
)

// PaymentServiceInterface は支払いハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	MaxSize() int64
	Get(ctx context.Context, userID, orderID string) (*model.Payment, error)
	UploadProof(ctx context.Context, userID, orderID string, upload payment.ProofUpload) (*model.Payment, error)
	GetProof(ctx context.Context, userID, orderID string) (*model.PaymentProof, error)
	Reject(ctx context.Context, userID, orderID, reason string) (*model.Payment, error)
}

// PaymentHandler は銀行振込の支払いと振込証明のHTTPハンドラー。
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type rejectPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type proofResponse struct {
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type paymentResponse struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"order_id"`
	Method       string         `json:"method"`
	AmountCents  int64          `json:"amount_cents"`
	Status       string         `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`
	SubmittedAt  *time.Time     `json:"submitted_at,omitempty"`
	VerifiedAt   *time.Time     `json:"verified_at,omitempty"`
	Proof        *proofResponse `json:"proof,omitempty"`
}

// GetPayment は注文の支払い情報を返す。
// GET /api/orders/{id}/payment
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// UploadProof は振込証明ファイルをmultipart/form-dataで受け付ける。
// POST /api/orders/{id}/payment/proof
func (h *PaymentHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	maxSize := h.service.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverheadBytes)

	file, header, err := r.FormFile(proofFormField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewProofTooLargeError(maxSize))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(fmt.Sprintf("multipart field %q is required", proofFormField)))
		return
	}
	defer file.Close()

	// 上限+1バイトまで読み込み、超過の判定はサービス層に任せる
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		slog.Error("failed to read uploaded proof", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("failed to read uploaded file"))
		return
	}

	p, err := h.service.UploadProof(r.Context(), userID, chi.URLParam(r, "id"), payment.ProofUpload{
		FileName: header.Filename,
		Data:     data,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// GetProof は振込証明ファイルを返す。購入者と出品者が取得できる。
// GET /api/orders/{id}/payment/proof
func (h *PaymentHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	proof, err := h.service.GetProof(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", proof.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(proof.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": proof.FileName}))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(proof.Data)
}

// RejectProof は出品者が振込証明を差し戻す。
// POST /api/orders/{id}/payment/reject
func (h *PaymentHandler) RejectProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req rejectPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.Reject(r.Context(), userID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Method:       p.Method,
		AmountCents:  p.AmountCents,
		Status:       string(p.Status),
		RejectReason: p.RejectReason,
		SubmittedAt:  p.SubmittedAt,
		VerifiedAt:   p.VerifiedAt,
	}
	if p.Proof != nil {
		resp.Proof = &proofResponse{
			FileName:    p.Proof.FileName,
			ContentType: p.Proof.ContentType,
			SizeBytes:   p.Proof.SizeBytes,
			UploadedAt:  p.Proof.UploadedAt,
		}
	}
	return resp
}

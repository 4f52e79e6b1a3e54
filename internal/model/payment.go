package model

import "time"

// PaymentMethodBankTransfer は銀行振込による支払い方法。
const PaymentMethodBankTransfer = "bank_transfer"

// PaymentStatus は支払いステータスを表す。
type PaymentStatus string

const (
	// PaymentStatusPending は振込証明の提出待ち。
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSubmitted は振込証明が提出され、出品者の確認待ち。
	PaymentStatusSubmitted PaymentStatus = "submitted"
	// PaymentStatusVerified は出品者が入金を確認済み。
	PaymentStatusVerified PaymentStatus = "verified"
	// PaymentStatusRejected は出品者が振込証明を差し戻した状態。再提出できる。
	PaymentStatusRejected PaymentStatus = "rejected"
)

// AcceptsProof は振込証明を（再）提出できる状態かどうかを返す。
func (s PaymentStatus) AcceptsProof() bool {
	return s == PaymentStatusPending || s == PaymentStatusRejected || s == PaymentStatusSubmitted
}

// Payment は注文に対する支払いを表す。
type Payment struct {
	ID           string
	OrderID      string
	Method       string
	AmountCents  int64
	Status       PaymentStatus
	RejectReason string
	SubmittedAt  *time.Time
	VerifiedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Proof        *PaymentProofMeta
}

// PaymentProofMeta は振込証明ファイルのメタデータを表す。
type PaymentProofMeta struct {
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

// PaymentProof は振込証明ファイル本体を表す。
type PaymentProof struct {
	PaymentProofMeta
	PaymentID string
	Data      []byte
}

// AllowedProofContentTypes は振込証明として受け付けるMIMEタイプ。
var AllowedProofContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

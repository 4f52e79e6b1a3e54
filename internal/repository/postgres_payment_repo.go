package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/marketplace/internal/model"
)

// PostgresPaymentRepo はPostgreSQLを使用した支払いリポジトリ。
// 振込証明ファイルはpayment_proofsテーブルにBYTEAで保持する。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// FindByOrderID は注文の支払いを振込証明のメタデータ付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	p := &model.Payment{}
	var rejectReason, fileName, contentType sql.NullString
	var submittedAt, verifiedAt, uploadedAt sql.NullTime
	var sizeBytes sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT p.id, p.order_id, p.method, p.amount_cents, p.status, p.reject_reason,
		        p.submitted_at, p.verified_at, p.created_at, p.updated_at,
		        pp.file_name, pp.content_type, pp.size_bytes, pp.uploaded_at
		 FROM payments p
		 LEFT JOIN payment_proofs pp ON pp.payment_id = p.id
		 WHERE p.order_id = $1`,
		orderID,
	).Scan(
		&p.ID, &p.OrderID, &p.Method, &p.AmountCents, &p.Status, &rejectReason,
		&submittedAt, &verifiedAt, &p.CreatedAt, &p.UpdatedAt,
		&fileName, &contentType, &sizeBytes, &uploadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("支払いの取得に失敗しました: %w", err)
	}

	p.RejectReason = nullStringValue(rejectReason)
	p.SubmittedAt = nullTimePtr(submittedAt)
	p.VerifiedAt = nullTimePtr(verifiedAt)
	if fileName.Valid {
		p.Proof = &model.PaymentProofMeta{
			FileName:    fileName.String,
			ContentType: nullStringValue(contentType),
			SizeBytes:   sizeBytes.Int64,
			UploadedAt:  uploadedAt.Time,
		}
	}
	return p, nil
}

// lockPaymentStatus は支払い行をロックして現在のステータスを返す。
func lockPaymentStatus(ctx context.Context, tx *sql.Tx, paymentID string) (model.PaymentStatus, error) {
	var status model.PaymentStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM payments WHERE id = $1 FOR UPDATE`,
		paymentID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", model.NewPaymentNotFoundError("")
	}
	if err != nil {
		return "", fmt.Errorf("支払いのロックに失敗しました: %w", err)
	}
	return status, nil
}

// lockPlacedOrderPayment は注文行、支払い行の順にロックし、支払いのステータスを返す。
// 注文の遷移と同じ順序でロックする。注文がplacedでなければ支払いは変更できない。
func lockPlacedOrderPayment(ctx context.Context, tx *sql.Tx, paymentID string, action model.OrderAction) (model.PaymentStatus, error) {
	var orderStatus model.OrderStatus
	err := tx.QueryRowContext(ctx,
		`SELECT o.status FROM orders o JOIN payments p ON p.order_id = o.id
		 WHERE p.id = $1 FOR UPDATE OF o`,
		paymentID,
	).Scan(&orderStatus)
	if err == sql.ErrNoRows {
		return "", model.NewPaymentNotFoundError("")
	}
	if err != nil {
		return "", fmt.Errorf("注文のロックに失敗しました: %w", err)
	}
	if orderStatus != model.OrderStatusPlaced {
		return "", model.NewInvalidTransitionError(orderStatus, action)
	}
	return lockPaymentStatus(ctx, tx, paymentID)
}

// SaveProof は振込証明を保存（再提出の場合は置き換え）し、支払いをsubmittedにしてイベントを記録する。
func (r *PostgresPaymentRepo) SaveProof(ctx context.Context, proof *model.PaymentProof, event *model.OutboxEvent) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		status, err := lockPlacedOrderPayment(ctx, tx, proof.PaymentID, model.OrderActionUploadProof)
		if err != nil {
			return err
		}
		if !status.AcceptsProof() {
			return model.NewInvalidPaymentStateError(status)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payment_proofs (payment_id, file_name, content_type, size_bytes, data, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (payment_id) DO UPDATE SET
			    file_name = EXCLUDED.file_name,
			    content_type = EXCLUDED.content_type,
			    size_bytes = EXCLUDED.size_bytes,
			    data = EXCLUDED.data,
			    uploaded_at = EXCLUDED.uploaded_at`,
			proof.PaymentID, proof.FileName, proof.ContentType, proof.SizeBytes, proof.Data, proof.UploadedAt,
		); err != nil {
			return fmt.Errorf("振込証明の保存に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'submitted', submitted_at = $2, reject_reason = NULL, updated_at = $2
			 WHERE id = $1`,
			proof.PaymentID, proof.UploadedAt,
		); err != nil {
			return fmt.Errorf("支払いステータスの更新に失敗しました: %w", err)
		}

		return insertOutboxEvent(ctx, tx, event)
	})
}

// FindProof は支払いの振込証明を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindProof(ctx context.Context, paymentID string) (*model.PaymentProof, error) {
	proof := &model.PaymentProof{}
	err := r.db.QueryRowContext(ctx,
		`SELECT payment_id, file_name, content_type, size_bytes, data, uploaded_at
		 FROM payment_proofs WHERE payment_id = $1`,
		paymentID,
	).Scan(&proof.PaymentID, &proof.FileName, &proof.ContentType, &proof.SizeBytes, &proof.Data, &proof.UploadedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("振込証明の取得に失敗しました: %w", err)
	}
	return proof, nil
}

// Reject はsubmittedの支払いをrejectedにしてイベントを記録する。
func (r *PostgresPaymentRepo) Reject(ctx context.Context, paymentID, reason string, event *model.OutboxEvent) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		status, err := lockPlacedOrderPayment(ctx, tx, paymentID, model.OrderActionRejectPayment)
		if err != nil {
			return err
		}
		if status != model.PaymentStatusSubmitted {
			return model.NewInvalidPaymentStateError(status)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = 'rejected', reject_reason = $2, updated_at = now()
			 WHERE id = $1`,
			paymentID, nullString(reason),
		); err != nil {
			return fmt.Errorf("支払いの差し戻しに失敗しました: %w", err)
		}

		return insertOutboxEvent(ctx, tx, event)
	})
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)

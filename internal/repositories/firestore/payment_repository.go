package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
)

const (
	paymentsCollection     = "payments"
	refundsCollection      = "refunds"
	installmentsCollection = "installments"
)

type paymentDocument struct {
	OrderID       string     `firestore:"orderId"`
	CustomerID    string     `firestore:"customerId"`
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	Amount        int64      `firestore:"amount"`
	FeeAmount     int64      `firestore:"feeAmount"`
	NetAmount     int64      `firestore:"netAmount"`
	GatewayRef    string     `firestore:"gatewayRef,omitempty"`
	FailureReason string     `firestore:"failureReason,omitempty"`
	Installments  int        `firestore:"installments"`
	ProcessedAt   *time.Time `firestore:"processedAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:       strings.TrimSpace(payment.OrderID),
		CustomerID:    strings.TrimSpace(payment.CustomerID),
		Method:        string(payment.Method),
		Status:        string(payment.Status),
		Amount:        payment.Amount,
		FeeAmount:     payment.FeeAmount,
		NetAmount:     payment.NetAmount,
		GatewayRef:    strings.TrimSpace(payment.GatewayRef),
		FailureReason: strings.TrimSpace(payment.FailureReason),
		Installments:  payment.Installments,
		ProcessedAt:   payment.ProcessedAt,
		CreatedAt:     payment.CreatedAt.UTC(),
		UpdatedAt:     payment.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:            id,
		OrderID:       d.OrderID,
		CustomerID:    d.CustomerID,
		Method:        domain.PaymentMethod(d.Method),
		Status:        domain.PaymentStatus(d.Status),
		Amount:        d.Amount,
		FeeAmount:     d.FeeAmount,
		NetAmount:     d.NetAmount,
		GatewayRef:    d.GatewayRef,
		FailureReason: d.FailureReason,
		Installments:  d.Installments,
		ProcessedAt:   d.ProcessedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type refundDocument struct {
	PaymentID   string    `firestore:"paymentId"`
	Amount      int64     `firestore:"amount"`
	Reason      string    `firestore:"reason,omitempty"`
	Status      string    `firestore:"status"`
	GatewayRef  string    `firestore:"gatewayRef,omitempty"`
	RequestedBy string    `firestore:"requestedBy,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newRefundDocument(refund domain.PaymentRefund) refundDocument {
	return refundDocument{
		PaymentID:   strings.TrimSpace(refund.PaymentID),
		Amount:      refund.Amount,
		Reason:      strings.TrimSpace(refund.Reason),
		Status:      string(refund.Status),
		GatewayRef:  strings.TrimSpace(refund.GatewayRef),
		RequestedBy: strings.TrimSpace(refund.RequestedBy),
		CreatedAt:   refund.CreatedAt.UTC(),
		UpdatedAt:   refund.UpdatedAt.UTC(),
	}
}

func (d refundDocument) toDomain(id string) domain.PaymentRefund {
	return domain.PaymentRefund{
		ID:          id,
		PaymentID:   d.PaymentID,
		Amount:      d.Amount,
		Reason:      d.Reason,
		Status:      domain.RefundStatus(d.Status),
		GatewayRef:  d.GatewayRef,
		RequestedBy: d.RequestedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type installmentDocument struct {
	PaymentID string     `firestore:"paymentId"`
	Number    int        `firestore:"number"`
	Amount    int64      `firestore:"amount"`
	DueDate   time.Time  `firestore:"dueDate"`
	PaidAt    *time.Time `firestore:"paidAt,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
}

func newInstallmentDocument(installment domain.PaymentInstallment) installmentDocument {
	return installmentDocument{
		PaymentID: strings.TrimSpace(installment.PaymentID),
		Number:    installment.Number,
		Amount:    installment.Amount,
		DueDate:   installment.DueDate.UTC(),
		PaidAt:    installment.PaidAt,
		CreatedAt: installment.CreatedAt.UTC(),
	}
}

func (d installmentDocument) toDomain(id string) domain.PaymentInstallment {
	return domain.PaymentInstallment{
		ID:        id,
		PaymentID: d.PaymentID,
		Number:    d.Number,
		Amount:    d.Amount,
		DueDate:   d.DueDate,
		PaidAt:    d.PaidAt,
		CreatedAt: d.CreatedAt,
	}
}

// PaymentRepository implements repositories.PaymentRepository. Refunds and
// installment plans live in subcollections under each payment document.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil),
	}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.payments == nil {
		return errors.New("payment repository not initialised")
	}
	_, err := r.payments.Create(ctx, payment.ID, newPaymentDocument(payment))
	return err
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.payments == nil {
		return errors.New("payment repository not initialised")
	}
	_, err := r.payments.Set(ctx, payment.ID, newPaymentDocument(payment))
	return err
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	doc, err := r.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *PaymentRepository) FindByGatewayRef(ctx context.Context, gatewayRef string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	gatewayRef = strings.TrimSpace(gatewayRef)
	if gatewayRef == "" {
		return domain.Payment{}, pfirestore.WrapError("payments.findByGatewayRef", status.Error(codes.NotFound, "gateway reference is empty"))
	}

	docs, err := r.payments.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("gatewayRef", "==", gatewayRef).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByGatewayRef", status.Errorf(codes.NotFound, "payment with gateway reference %s not found", gatewayRef))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.payments == nil {
		return nil, errors.New("payment repository not initialised")
	}

	docs, err := r.payments.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderId", "==", strings.TrimSpace(orderID)).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}
	return payments, nil
}

func (r *PaymentRepository) InsertRefund(ctx context.Context, refund domain.PaymentRefund) error {
	return r.writeRefund(ctx, refund, true)
}

func (r *PaymentRepository) UpdateRefund(ctx context.Context, refund domain.PaymentRefund) error {
	return r.writeRefund(ctx, refund, false)
}

func (r *PaymentRepository) writeRefund(ctx context.Context, refund domain.PaymentRefund, create bool) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(refund.PaymentID)
	if paymentID == "" || strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund write: payment id and refund id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	ref := client.Collection(paymentsCollection).Doc(paymentID).Collection(refundsCollection).Doc(refund.ID)
	if create {
		_, err = ref.Create(ctx, newRefundDocument(refund))
	} else {
		_, err = ref.Set(ctx, newRefundDocument(refund))
	}
	if err != nil {
		return pfirestore.WrapError("payments.writeRefund", err)
	}
	return nil
}

func (r *PaymentRepository) ListRefunds(ctx context.Context, paymentID string) ([]domain.PaymentRefund, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	snaps, err := client.Collection(paymentsCollection).Doc(strings.TrimSpace(paymentID)).
		Collection(refundsCollection).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("payments.listRefunds", err)
	}

	refunds := make([]domain.PaymentRefund, 0, len(snaps))
	for _, snap := range snaps {
		var doc refundDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode refund %s: %w", snap.Ref.ID, err)
		}
		refunds = append(refunds, doc.toDomain(snap.Ref.ID))
	}
	return refunds, nil
}

// ReplaceInstallments swaps the whole plan in one transaction so a reissued
// plan never leaves slices from the previous one behind.
func (r *PaymentRepository) ReplaceInstallments(ctx context.Context, paymentID string, plan []domain.PaymentInstallment) error {
	if r == nil || r.provider == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return errors.New("replace installments: payment id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	collection := client.Collection(paymentsCollection).Doc(paymentID).Collection(installmentsCollection)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(collection).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range existing {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		for _, installment := range plan {
			if err := tx.Create(collection.Doc(installment.ID), newInstallmentDocument(installment)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("payments.replaceInstallments", err)
	}
	return nil
}

func (r *PaymentRepository) ListInstallments(ctx context.Context, paymentID string) ([]domain.PaymentInstallment, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	snaps, err := client.Collection(paymentsCollection).Doc(strings.TrimSpace(paymentID)).
		Collection(installmentsCollection).
		OrderBy("number", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("payments.listInstallments", err)
	}

	installments := make([]domain.PaymentInstallment, 0, len(snaps))
	for _, snap := range snaps {
		var doc installmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode installment %s: %w", snap.Ref.ID, err)
		}
		installments = append(installments, doc.toDomain(snap.Ref.ID))
	}
	return installments, nil
}

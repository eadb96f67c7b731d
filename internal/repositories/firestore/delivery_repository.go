package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mercatto/api/internal/domain"
	pfirestore "github.com/mercatto/api/internal/platform/firestore"
	"github.com/mercatto/api/internal/repositories"
)

const (
	deliveriesCollection       = "deliveries"
	deliveryHistoryCollection  = "history"
	deliveryFeedbackCollection = "deliveryFeedback"
)

type deliveryDocument struct {
	OrderID         string          `firestore:"orderId"`
	OrderNumber     string          `firestore:"orderNumber"`
	CustomerID      string          `firestore:"customerId"`
	DriverID        string          `firestore:"driverId,omitempty"`
	Status          string          `firestore:"status"`
	TrackingCode    string          `firestore:"trackingCode"`
	DestinationAddr addressDocument `firestore:"destinationAddr"`
	EstimatedDate   *time.Time      `firestore:"estimatedDate,omitempty"`
	DeliveredAt     *time.Time      `firestore:"deliveredAt,omitempty"`
	SignatureRef    string          `firestore:"signatureRef,omitempty"`
	PhotoRef        string          `firestore:"photoRef,omitempty"`
	CreatedAt       time.Time       `firestore:"createdAt"`
	UpdatedAt       time.Time       `firestore:"updatedAt"`
}

func newDeliveryDocument(delivery domain.Delivery) deliveryDocument {
	return deliveryDocument{
		OrderID:         strings.TrimSpace(delivery.OrderID),
		OrderNumber:     strings.TrimSpace(delivery.OrderNumber),
		CustomerID:      strings.TrimSpace(delivery.CustomerID),
		DriverID:        strings.TrimSpace(delivery.DriverID),
		Status:          string(delivery.Status),
		TrackingCode:    strings.TrimSpace(delivery.TrackingCode),
		DestinationAddr: newAddressDocument(delivery.DestinationAddr),
		EstimatedDate:   delivery.EstimatedDate,
		DeliveredAt:     delivery.DeliveredAt,
		SignatureRef:    strings.TrimSpace(delivery.SignatureRef),
		PhotoRef:        strings.TrimSpace(delivery.PhotoRef),
		CreatedAt:       delivery.CreatedAt.UTC(),
		UpdatedAt:       delivery.UpdatedAt.UTC(),
	}
}

func (d deliveryDocument) toDomain(id string) domain.Delivery {
	return domain.Delivery{
		ID:              id,
		OrderID:         d.OrderID,
		OrderNumber:     d.OrderNumber,
		CustomerID:      d.CustomerID,
		DriverID:        d.DriverID,
		Status:          domain.DeliveryStatus(d.Status),
		TrackingCode:    d.TrackingCode,
		DestinationAddr: d.DestinationAddr.toDomain(),
		EstimatedDate:   d.EstimatedDate,
		DeliveredAt:     d.DeliveredAt,
		SignatureRef:    d.SignatureRef,
		PhotoRef:        d.PhotoRef,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type deliveryHistoryDocument struct {
	DeliveryID string         `firestore:"deliveryId"`
	From       string         `firestore:"from,omitempty"`
	To         string         `firestore:"to"`
	ActorID    string         `firestore:"actorId,omitempty"`
	Location   string         `firestore:"location,omitempty"`
	Position   *latlng.LatLng `firestore:"position,omitempty"`
	Note       string         `firestore:"note,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
}

func newDeliveryHistoryDocument(change domain.DeliveryStatusChange) deliveryHistoryDocument {
	doc := deliveryHistoryDocument{
		DeliveryID: strings.TrimSpace(change.DeliveryID),
		From:       string(change.From),
		To:         string(change.To),
		ActorID:    strings.TrimSpace(change.ActorID),
		Location:   strings.TrimSpace(change.Location),
		Note:       strings.TrimSpace(change.Note),
		CreatedAt:  change.CreatedAt.UTC(),
	}
	if change.Position != nil {
		doc.Position = &latlng.LatLng{
			Latitude:  change.Position.Latitude,
			Longitude: change.Position.Longitude,
		}
	}
	return doc
}

func (d deliveryHistoryDocument) toDomain(id string) domain.DeliveryStatusChange {
	change := domain.DeliveryStatusChange{
		ID:         id,
		DeliveryID: d.DeliveryID,
		From:       domain.DeliveryStatus(d.From),
		To:         domain.DeliveryStatus(d.To),
		ActorID:    d.ActorID,
		Location:   d.Location,
		Note:       d.Note,
		CreatedAt:  d.CreatedAt,
	}
	if d.Position != nil {
		change.Position = &domain.GeoPoint{
			Latitude:  d.Position.Latitude,
			Longitude: d.Position.Longitude,
		}
	}
	return change
}

type deliveryFeedbackDocument struct {
	DeliveryID   string    `firestore:"deliveryId"`
	CustomerID   string    `firestore:"customerId"`
	Rating       int       `firestore:"rating"`
	DriverRating int       `firestore:"driverRating,omitempty"`
	Comment      string    `firestore:"comment,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func newDeliveryFeedbackDocument(feedback domain.DeliveryFeedback) deliveryFeedbackDocument {
	return deliveryFeedbackDocument{
		DeliveryID:   strings.TrimSpace(feedback.DeliveryID),
		CustomerID:   strings.TrimSpace(feedback.CustomerID),
		Rating:       feedback.Rating,
		DriverRating: feedback.DriverRating,
		Comment:      strings.TrimSpace(feedback.Comment),
		CreatedAt:    feedback.CreatedAt.UTC(),
	}
}

func (d deliveryFeedbackDocument) toDomain(id string) domain.DeliveryFeedback {
	return domain.DeliveryFeedback{
		ID:           id,
		DeliveryID:   d.DeliveryID,
		CustomerID:   d.CustomerID,
		Rating:       d.Rating,
		DriverRating: d.DriverRating,
		Comment:      d.Comment,
		CreatedAt:    d.CreatedAt,
	}
}

// DeliveryRepository implements repositories.DeliveryRepository. History rows
// live in a subcollection under each delivery, feedback is keyed by delivery
// ID so each delivery accepts at most one rating.
type DeliveryRepository struct {
	provider   *pfirestore.Provider
	deliveries *pfirestore.BaseRepository[deliveryDocument]
	feedback   *pfirestore.BaseRepository[deliveryFeedbackDocument]
}

// NewDeliveryRepository constructs a Firestore-backed delivery repository.
func NewDeliveryRepository(provider *pfirestore.Provider) (*DeliveryRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery repository requires firestore provider")
	}
	return &DeliveryRepository{
		provider:   provider,
		deliveries: pfirestore.NewBaseRepository[deliveryDocument](provider, deliveriesCollection, nil),
		feedback:   pfirestore.NewBaseRepository[deliveryFeedbackDocument](provider, deliveryFeedbackCollection, nil),
	}, nil
}

func (r *DeliveryRepository) Insert(ctx context.Context, delivery domain.Delivery) error {
	if r == nil || r.provider == nil {
		return errors.New("delivery repository not initialised")
	}
	deliveryID := strings.TrimSpace(delivery.ID)
	if deliveryID == "" {
		return errors.New("delivery insert: delivery id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deliveryRef := client.Collection(deliveriesCollection).Doc(deliveryID)
		if err := tx.Create(deliveryRef, newDeliveryDocument(delivery)); err != nil {
			return err
		}
		historyRef := deliveryRef.Collection(deliveryHistoryCollection).NewDoc()
		return tx.Create(historyRef, newDeliveryHistoryDocument(domain.DeliveryStatusChange{
			DeliveryID: deliveryID,
			To:         delivery.Status,
			CreatedAt:  delivery.CreatedAt.UTC(),
		}))
	})
	if err != nil {
		return pfirestore.WrapError("deliveries.insert", err)
	}
	return nil
}

func (r *DeliveryRepository) FindByID(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	if r == nil || r.deliveries == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	doc, err := r.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *DeliveryRepository) FindByOrder(ctx context.Context, orderID string) (domain.Delivery, error) {
	return r.findOne(ctx, "orderId", strings.TrimSpace(orderID), "deliveries.findByOrder")
}

func (r *DeliveryRepository) FindByTrackingCode(ctx context.Context, trackingCode string) (domain.Delivery, error) {
	return r.findOne(ctx, "trackingCode", strings.TrimSpace(trackingCode), "deliveries.findByTrackingCode")
}

func (r *DeliveryRepository) findOne(ctx context.Context, field, value, op string) (domain.Delivery, error) {
	if r == nil || r.deliveries == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	if value == "" {
		return domain.Delivery{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "%s is empty", field))
	}

	docs, err := r.deliveries.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	if len(docs) == 0 {
		return domain.Delivery{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "delivery with %s %s not found", field, value))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *DeliveryRepository) List(ctx context.Context, filter repositories.DeliveryListFilter) (domain.CursorPage[domain.Delivery], error) {
	if r == nil || r.deliveries == nil {
		return domain.CursorPage[domain.Delivery]{}, errors.New("delivery repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Delivery]{}, pfirestore.WrapError("deliveries.list", err)
	}

	docs, err := r.deliveries.Query(ctx, func(query firestore.Query) firestore.Query {
		if driverID := strings.TrimSpace(filter.DriverID); driverID != "" {
			query = query.Where("driverId", "==", driverID)
		}
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			query = query.Where("customerId", "==", customerID)
		}
		if filter.Status != "" {
			query = query.Where("status", "==", string(filter.Status))
		}
		query = query.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Delivery]{}, err
	}

	deliveries := make([]domain.Delivery, 0, len(docs))
	for _, doc := range docs {
		deliveries = append(deliveries, doc.Data.toDomain(doc.ID))
	}
	return paginate(deliveries, pageSize, func(d domain.Delivery) pageToken {
		return pageToken{CreatedAt: d.CreatedAt, ID: d.ID}
	})
}

// UpdateStatus applies one transition with its history row. The write fails
// with a conflict when the stored status no longer matches ExpectedFrom.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, update repositories.DeliveryStatusUpdate) (domain.Delivery, error) {
	if r == nil || r.provider == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	deliveryID := strings.TrimSpace(update.DeliveryID)
	if deliveryID == "" {
		return domain.Delivery{}, errors.New("delivery update status: delivery id is required")
	}

	now := update.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Delivery{}, err
	}

	var updated domain.Delivery
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deliveryRef := client.Collection(deliveriesCollection).Doc(deliveryID)
		snap, err := tx.Get(deliveryRef)
		if err != nil {
			return err
		}
		var doc deliveryDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode delivery %s: %w", deliveryID, err)
		}
		if doc.Status != string(update.ExpectedFrom) {
			return status.Errorf(codes.FailedPrecondition, "delivery %s is %s, expected %s", deliveryID, doc.Status, update.ExpectedFrom)
		}

		doc.Status = string(update.To)
		doc.UpdatedAt = now
		if update.DeliveredAt != nil {
			doc.DeliveredAt = update.DeliveredAt
		}
		if update.SignatureRef != "" {
			doc.SignatureRef = update.SignatureRef
		}
		if update.PhotoRef != "" {
			doc.PhotoRef = update.PhotoRef
		}

		if err := tx.Set(deliveryRef, doc); err != nil {
			return err
		}

		historyRef := deliveryRef.Collection(deliveryHistoryCollection).NewDoc()
		if err := tx.Create(historyRef, newDeliveryHistoryDocument(update.Change)); err != nil {
			return err
		}

		updated = doc.toDomain(deliveryID)
		return nil
	})
	if err != nil {
		return domain.Delivery{}, pfirestore.WrapError("deliveries.updateStatus", err)
	}
	return updated, nil
}

func (r *DeliveryRepository) AssignDriver(ctx context.Context, deliveryID string, driverID string, now time.Time) (domain.Delivery, error) {
	if r == nil || r.provider == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.Delivery{}, errors.New("assign driver: delivery id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Delivery{}, err
	}

	var updated domain.Delivery
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deliveryRef := client.Collection(deliveriesCollection).Doc(deliveryID)
		snap, err := tx.Get(deliveryRef)
		if err != nil {
			return err
		}
		var doc deliveryDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode delivery %s: %w", deliveryID, err)
		}

		doc.DriverID = strings.TrimSpace(driverID)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(deliveryRef, doc); err != nil {
			return err
		}

		updated = doc.toDomain(deliveryID)
		return nil
	})
	if err != nil {
		return domain.Delivery{}, pfirestore.WrapError("deliveries.assignDriver", err)
	}
	return updated, nil
}

func (r *DeliveryRepository) ListStatusHistory(ctx context.Context, deliveryID string, pager domain.Pagination) (domain.CursorPage[domain.DeliveryStatusChange], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.DeliveryStatusChange]{}, errors.New("delivery repository not initialised")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.CursorPage[domain.DeliveryStatusChange]{}, errors.New("delivery history: delivery id is required")
	}

	pageSize := clampPageSize(pager.PageSize)
	token, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.DeliveryStatusChange]{}, pfirestore.WrapError("deliveries.listHistory", err)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.DeliveryStatusChange]{}, err
	}

	query := client.Collection(deliveriesCollection).Doc(deliveryID).Collection(deliveryHistoryCollection).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.DeliveryStatusChange]{}, pfirestore.WrapError("deliveries.listHistory", err)
	}

	changes := make([]domain.DeliveryStatusChange, 0, len(snaps))
	for _, snap := range snaps {
		var doc deliveryHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.DeliveryStatusChange]{}, fmt.Errorf("decode delivery history %s: %w", snap.Ref.ID, err)
		}
		changes = append(changes, doc.toDomain(snap.Ref.ID))
	}

	return paginate(changes, pageSize, func(c domain.DeliveryStatusChange) pageToken {
		return pageToken{CreatedAt: c.CreatedAt, ID: c.ID}
	})
}

// InsertFeedback uses the delivery ID as the document key, so a second rating
// for the same delivery fails with a conflict.
func (r *DeliveryRepository) InsertFeedback(ctx context.Context, feedback domain.DeliveryFeedback) error {
	if r == nil || r.feedback == nil {
		return errors.New("delivery repository not initialised")
	}
	deliveryID := strings.TrimSpace(feedback.DeliveryID)
	if deliveryID == "" {
		return errors.New("feedback insert: delivery id is required")
	}
	_, err := r.feedback.Create(ctx, deliveryID, newDeliveryFeedbackDocument(feedback))
	return err
}

func (r *DeliveryRepository) FindFeedback(ctx context.Context, deliveryID string) (domain.DeliveryFeedback, error) {
	if r == nil || r.feedback == nil {
		return domain.DeliveryFeedback{}, errors.New("delivery repository not initialised")
	}
	doc, err := r.feedback.Get(ctx, strings.TrimSpace(deliveryID))
	if err != nil {
		return domain.DeliveryFeedback{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

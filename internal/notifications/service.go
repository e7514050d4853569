package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klaseapp/klase/backend/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying
// cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "notifications.service.new"
	opCreate        = "notifications.create"
	opListRecent    = "notifications.list_recent"
	opUnreadCount   = "notifications.unread_count"
	opMarkRead      = "notifications.mark_read"
	defaultListSize = 50
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new notifications.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Dispatcher *Dispatcher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the pull side of the notification panel: the persisted rows,
// list queries, and read marking. When a dispatcher is wired it also emits
// the push event for every created notification.
type Service struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		dispatcher: cfg.Dispatcher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInput describes a notification to record for a user.
type CreateInput struct {
	Tenant string
	UserID string
	Type   Type
	Title  string
	Body   string
}

// Create persists the notification and publishes its push event.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if input.Tenant == "" || input.UserID == "" {
		return Notification{}, newServiceError(opCreate, "missing_scope", nil)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Notification{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	createdAt := s.clock().UTC()
	row := Notification{
		NotificationID:   id,
		Tenant:           input.Tenant,
		UserID:           input.UserID,
		Type:             string(input.Type),
		Title:            input.Title,
		Body:             input.Body,
		CreatedAtSeconds: createdAt.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", input.UserID))
		return Notification{}, newServiceError(opCreate, "insert_failed", err)
	}
	if s.dispatcher != nil {
		s.dispatcher.Publish(Event{
			Tenant:         input.Tenant,
			UserID:         input.UserID,
			NotificationID: id,
			Type:           input.Type,
			Title:          input.Title,
			CreatedAt:      createdAt,
		})
	}
	return row, nil
}

// ListRecent returns the scope's newest notifications, capped at limit
// (defaulting when non-positive).
func (s *Service) ListRecent(ctx context.Context, scope kvstore.Scope, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND user_id = ?", scope.Tenant, scope.UserID).
		Order("created_at_s DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.logError(opListRecent, "query_failed", err, zap.String("user_id", scope.UserID))
		return nil, newServiceError(opListRecent, "query_failed", err)
	}
	return rows, nil
}

// UnreadCount returns the scope's number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, scope kvstore.Scope) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("tenant = ? AND user_id = ? AND is_read = ?", scope.Tenant, scope.UserID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", scope.UserID))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// MarkRead flags the given notifications as read. Ids from other scopes are
// ignored by the predicate, so a caller can never mark another user's rows.
func (s *Service) MarkRead(ctx context.Context, scope kvstore.Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("tenant = ? AND user_id = ? AND notification_id IN ?", scope.Tenant, scope.UserID, ids).
		Update("is_read", true).Error
	if err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("user_id", scope.UserID))
		return newServiceError(opMarkRead, "update_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notification service error", attrs...)
}

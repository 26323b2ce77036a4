package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

// AttributeService manages one kind of per-user label: tags or ingredients.
// Build one per kind with NewAttributeService.
type AttributeService struct {
	repo   repository.AttributeRepository
	kind   model.AttributeKind
	logger *slog.Logger
}

func NewAttributeService(repo repository.AttributeRepository, kind model.AttributeKind, logger *slog.Logger) *AttributeService {
	return &AttributeService{
		repo:   repo,
		kind:   kind,
		logger: logger,
	}
}

// Kind reports whether this service manages tags or ingredients.
func (s *AttributeService) Kind() model.AttributeKind { return s.kind }

// List returns the caller's attributes, name descending.
func (s *AttributeService) List(ctx context.Context, caller *model.User) ([]model.Attribute, error) {
	attrs, err := s.repo.List(ctx, s.kind, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("service/%s: listing: %w", s.kind, err)
	}
	return attrs, nil
}

// Create adds an attribute owned by caller. Names are not unique.
func (s *AttributeService) Create(ctx context.Context, caller *model.User, name string) (*model.Attribute, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "this field may not be blank")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}

	attr := &model.Attribute{UserID: caller.ID, Name: name}
	if err := s.repo.Create(ctx, s.kind, attr); err != nil {
		s.logger.Error("failed to create "+string(s.kind),
			slog.Int64("userID", caller.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("service/%s: creating: %w", s.kind, err)
	}

	s.logger.Info(string(s.kind)+" created",
		slog.Int64("id", attr.ID),
		slog.Int64("userID", caller.ID),
	)
	return attr, nil
}

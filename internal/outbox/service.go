package outbox

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
)

// Service enqueues events. Emit only ever runs inside the caller's transaction
// so the event and the state change it reports commit or roll back together.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox service requires a repository")
	}
	return &Service{repo: repo}, nil
}

// Emit validates the payload for its topic and appends the event in tx.
func (s *Service) Emit(tx *gorm.DB, topic enums.Topic, payload any) error {
	if tx == nil {
		return fmt.Errorf("outbox emit requires a transaction")
	}
	if !topic.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown outbox topic %q", topic))
	}
	if err := validate.Struct(payload); err != nil {
		return formatValidationErrors(err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", topic, err)
	}

	event := models.OutboxEvent{
		Topic:   topic,
		Payload: raw,
	}
	if err := s.repo.InsertTx(tx, &event); err != nil {
		return fmt.Errorf("inserting %s outbox event: %w", topic, err)
	}
	return nil
}

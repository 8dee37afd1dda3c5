package schema

import (
	"context"
	"encoding/json"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/validator"
)

// Serde encapsulates serialization and deserialization of substrate values.
// Values are validated before encode and after decode, an invalid record
// never enters or leaves the store unnoticed.
type Serde struct {
	validator validator.Validator
}

func NewSerde(v validator.Validator) *Serde {
	return &Serde{validator: v}
}

func (s *Serde) Encode(ctx context.Context, value any) ([]byte, error) {
	if err := s.validator.Validate(ctx, value); err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.PrefixError(err, "cannot encode value")
	}
	return data, nil
}

func (s *Serde) Decode(ctx context.Context, data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return errors.PrefixError(err, "cannot decode value")
	}
	return s.validator.Validate(ctx, target)
}

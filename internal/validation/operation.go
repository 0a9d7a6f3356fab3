package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/iudanet/tripsync/internal/models"
)

// ErrInvalid базовая ошибка валидации, все ошибки пакета оборачивают ее
var ErrInvalid = errors.New("validation failed")

// IdentifierPattern допустимый формат идентификаторов операций и сущностей
// Латинские буквы, цифры, '-', '_', '.', ':' и '$' (для ссылок $ref:<op>)
// Длина: 1-128 символов
var IdentifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.:$]{1,128}$`)

const (
	// MaxPayloadSize максимальный размер payload одной операции
	MaxPayloadSize = 256 * 1024
	// MaxDependencies максимальное количество зависимостей у операции
	MaxDependencies = 64
)

// Границы clientTimestamp: метки хранятся как int64 наносекунды Unix
var (
	MinClientTimestamp = time.Unix(0, math.MinInt64+1).UTC()
	MaxClientTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// Errorf формирует ошибку валидации, оборачивающую ErrInvalid
func Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateIdentifier проверяет формат идентификатора
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return Errorf("%s cannot be empty", field)
	}

	if !IdentifierPattern.MatchString(id) {
		return Errorf("%s %q has invalid format", field, id)
	}

	return nil
}

// ValidateOperation проверяет структуру операции без учета типа сущности.
// Проверка полей конкретного типа выполняется обработчиком из entity.Registry.
func ValidateOperation(op *models.SyncOperation) error {
	if err := ValidateIdentifier("operation id", op.ID); err != nil {
		return err
	}

	if !op.Kind.Valid() {
		return Errorf("operation %s: unknown kind %q", op.ID, op.Kind)
	}

	if op.EntityType == "" {
		return Errorf("operation %s: entity type cannot be empty", op.ID)
	}

	// UPDATE и DELETE обязаны указывать цель, для CREATE id опционален
	if op.Kind != models.OperationCreate || op.EntityID != "" {
		if err := ValidateIdentifier("entity id", op.EntityID); err != nil {
			return fmt.Errorf("operation %s: %w", op.ID, err)
		}
	}

	if len(op.Dependencies) > MaxDependencies {
		return Errorf("operation %s: too many dependencies (%d > %d)", op.ID, len(op.Dependencies), MaxDependencies)
	}

	for _, dep := range op.Dependencies {
		if dep == op.ID {
			return Errorf("operation %s depends on itself", op.ID)
		}
	}

	if ts := op.ClientTimestamp; !ts.IsZero() && (ts.Before(MinClientTimestamp) || ts.After(MaxClientTimestamp)) {
		return Errorf("operation %s: client timestamp %s is outside %d-%d",
			op.ID, ts.Format(time.RFC3339), MinClientTimestamp.Year(), MaxClientTimestamp.Year())
	}

	if op.BaseVersion != nil && *op.BaseVersion < 0 {
		return Errorf("operation %s: base version must not be negative", op.ID)
	}

	if len(op.Payload) > MaxPayloadSize {
		return Errorf("operation %s: payload exceeds %d bytes", op.ID, MaxPayloadSize)
	}

	if op.Kind != models.OperationDelete {
		if _, err := DecodeObject(op.Payload); err != nil {
			return Errorf("operation %s: %s", op.ID, err.Error())
		}
	}

	return nil
}

// DecodeObject декодирует payload как JSON объект.
// Числа сохраняются как json.Number, чтобы повторная сериализация не теряла точность.
func DecodeObject(payload json.RawMessage) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("payload has trailing data")
	}
	if fields == nil {
		return nil, fmt.Errorf("payload must be a JSON object")
	}

	return fields, nil
}

// RequireString проверяет наличие непустого строкового поля
func RequireString(fields map[string]any, name string) error {
	v, ok := fields[name]
	if !ok {
		return Errorf("field %q is required", name)
	}

	s, ok := v.(string)
	if !ok {
		return Errorf("field %q must be a string", name)
	}

	if s == "" {
		return Errorf("field %q cannot be empty", name)
	}

	return nil
}

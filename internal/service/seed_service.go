package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
	// ErrSeedInvalid indicates the payload does not describe valid question sets.
	ErrSeedInvalid = errors.New("invalid seed payload")
)

const questionSetSchemaURL = "mem://schema/question_sets.schema.json"

//go:embed schema/question_sets.schema.json
var questionSetSchema []byte

var (
	compiledSeedSchema *jsonschema.Schema
	compileSeedErr     error
	compileSeedOnce    sync.Once
)

type questionSetSeedPayload struct {
	QuestionSets []models.QuestionSet `json:"question_sets"`
}

// SeedService loads question sets from JSON documents.
type SeedService interface {
	SeedQuestionSets(ctx context.Context, token string, payload []byte) (int64, error)
}

type seedService struct {
	repo    repository.QuestionSetRepository
	enabled bool
	token   string
	logger  zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(repo repository.QuestionSetRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		repo:    repo,
		enabled: enabled,
		token:   token,
		logger:  logger.With().Str("component", "seed_service").Logger(),
	}
}

func (s *seedService) SeedQuestionSets(ctx context.Context, token string, payload []byte) (int64, error) {
	if !s.enabled {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}

	sets, err := decodeQuestionSets(payload)
	if err != nil {
		return 0, err
	}

	affected, err := s.repo.UpsertBatch(ctx, sets)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("affected", affected).Int("sets", len(sets)).Msg("question sets seeded")
	return affected, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtleConstantTimeCompare(expected, strings.TrimSpace(token))
}

func subtleConstantTimeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	mismatch := byte(0)
	for i := 0; i < len(a); i++ {
		mismatch |= a[i] ^ b[i]
	}
	return mismatch == 0
}

func seedSchema() (*jsonschema.Schema, error) {
	compileSeedOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(questionSetSchemaURL, bytes.NewReader(questionSetSchema)); err != nil {
			compileSeedErr = err
			return
		}
		compiledSeedSchema, compileSeedErr = compiler.Compile(questionSetSchemaURL)
	})
	return compiledSeedSchema, compileSeedErr
}

func decodeQuestionSets(payload []byte) ([]models.QuestionSet, error) {
	schema, err := seedSchema()
	if err != nil {
		return nil, fmt.Errorf("compile seed schema: %w", err)
	}

	var document interface{}
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeedInvalid, err)
	}
	if err := schema.Validate(document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeedInvalid, err)
	}

	var decoded questionSetSeedPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeedInvalid, err)
	}

	seen := make(map[string]struct{}, len(decoded.QuestionSets))
	for i := range decoded.QuestionSets {
		set := &decoded.QuestionSets[i]
		set.ID = strings.TrimSpace(set.ID)
		set.Title = strings.TrimSpace(set.Title)
		set.Subject = strings.TrimSpace(set.Subject)
		if _, dup := seen[set.ID]; dup {
			return nil, fmt.Errorf("%w: question set %s appears twice", ErrSeedInvalid, set.ID)
		}
		seen[set.ID] = struct{}{}

		keys := make(map[string]struct{}, len(set.Questions))
		for j := range set.Questions {
			q := &set.Questions[j]
			q.Key = strings.TrimSpace(q.Key)
			if _, dup := keys[q.Key]; dup {
				return nil, fmt.Errorf("%w: question %s appears twice in set %s", ErrSeedInvalid, q.Key, set.ID)
			}
			keys[q.Key] = struct{}{}
		}
	}
	return decoded.QuestionSets, nil
}

package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/pkg/logging"
)

var (
	// ErrProviderNotFound indicates no provider profile matched.
	ErrProviderNotFound = errors.New("profiles: provider not found")
	// ErrRequesterNotFound indicates no requester profile matched.
	ErrRequesterNotFound = errors.New("profiles: requester not found")
	// ErrInvalidIntake indicates intake input failed validation.
	ErrInvalidIntake = errors.New("profiles: invalid intake")
)

var bloodTypes = map[string]struct{}{
	"A+": {}, "A-": {}, "B+": {}, "B-": {}, "AB+": {}, "AB-": {}, "O+": {}, "O-": {},
}

const maxAge = 130

// Repository reads and writes profile documents.
type Repository struct {
	store  docstore.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewRepository wires a repository over the document store.
func NewRepository(store docstore.Store, logger *logging.Logger) *Repository {
	if store == nil {
		panic("profiles: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Logger exposes the repository logger for commitment decoding.
func (r *Repository) Logger() *logging.Logger {
	return r.logger
}

// GetProvider loads a provider by subject id.
func (r *Repository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	var p Provider
	if err := r.store.Get(ctx, ProvidersCollection, id, &p); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("profiles: get provider: %w", err)
	}
	return &p, nil
}

// FindProviderByEmail returns the first provider whose email matches.
func (r *Repository) FindProviderByEmail(ctx context.Context, email string) (*Provider, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrProviderNotFound
	}
	var matches []Provider
	if err := r.store.Query(ctx, ProvidersCollection, []docstore.Filter{docstore.Eq("email", email)}, &matches); err != nil {
		return nil, fmt.Errorf("profiles: find provider by email: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrProviderNotFound
	}
	return &matches[0], nil
}

// ProvidersBySpecialty lists providers with the given specialty in store
// query order.
func (r *Repository) ProvidersBySpecialty(ctx context.Context, specialty string) ([]Provider, error) {
	var providers []Provider
	if err := r.store.Query(ctx, ProvidersCollection, []docstore.Filter{docstore.Eq("specialty", specialty)}, &providers); err != nil {
		return nil, fmt.Errorf("profiles: providers by specialty: %w", err)
	}
	return providers, nil
}

// GetRequester loads a requester by subject id.
func (r *Repository) GetRequester(ctx context.Context, id string) (*Requester, error) {
	var req Requester
	if err := r.store.Get(ctx, RequestersCollection, id, &req); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRequesterNotFound
		}
		return nil, fmt.Errorf("profiles: get requester: %w", err)
	}
	return &req, nil
}

// FindRequesterByName returns the first requester with the display name.
func (r *Repository) FindRequesterByName(ctx context.Context, name string) (*Requester, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrRequesterNotFound
	}
	var matches []Requester
	if err := r.store.Query(ctx, RequestersCollection, []docstore.Filter{docstore.Eq("name", name)}, &matches); err != nil {
		return nil, fmt.Errorf("profiles: find requester by name: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrRequesterNotFound
	}
	return &matches[0], nil
}

// CreateRequester registers a requester profile. Registering an existing
// subject returns the stored profile and created=false.
func (r *Repository) CreateRequester(ctx context.Context, id, email, name string) (*Requester, bool, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" {
		return nil, false, errors.New("profiles: requester id required")
	}
	if name == "" {
		return nil, false, errors.New("profiles: requester name required")
	}
	req := Requester{
		ID:        id,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      name,
		CreatedAt: r.now(),
	}
	err := r.store.Create(ctx, RequestersCollection, id, req)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		existing, getErr := r.GetRequester(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("profiles: create requester: %w", err)
	}
	r.logger.Info("requester registered", "subject_id", id)
	return &req, true, nil
}

// Intake is the one-time medical intake submission.
type Intake struct {
	Age       int     `json:"age"`
	Gender    string  `json:"gender"`
	Weight    float64 `json:"weight"`
	Height    float64 `json:"height"`
	BloodType string  `json:"bloodType"`
	Diet      string  `json:"diet"`
	Exercise  string  `json:"exercise"`
	Allergies string  `json:"allergies"`
}

// Validate checks ranges and required fields.
func (in Intake) Validate() error {
	switch {
	case in.Age < 0 || in.Age > maxAge:
		return fmt.Errorf("%w: age must be between 0 and %d", ErrInvalidIntake, maxAge)
	case in.Weight <= 0:
		return fmt.Errorf("%w: weight must be greater than 0", ErrInvalidIntake)
	case in.Height <= 0:
		return fmt.Errorf("%w: height must be greater than 0", ErrInvalidIntake)
	case strings.TrimSpace(in.Gender) == "":
		return fmt.Errorf("%w: gender required", ErrInvalidIntake)
	case strings.TrimSpace(in.Diet) == "":
		return fmt.Errorf("%w: diet required", ErrInvalidIntake)
	case strings.TrimSpace(in.Exercise) == "":
		return fmt.Errorf("%w: exercise required", ErrInvalidIntake)
	case strings.TrimSpace(in.Allergies) == "":
		return fmt.Errorf("%w: allergies required", ErrInvalidIntake)
	}
	if _, ok := bloodTypes[strings.ToUpper(strings.TrimSpace(in.BloodType))]; !ok {
		return fmt.Errorf("%w: unknown blood type %q", ErrInvalidIntake, in.BloodType)
	}
	return nil
}

// SubmitIntake stores the intake fields in a single update.
func (r *Repository) SubmitIntake(ctx context.Context, id string, in Intake) error {
	if err := in.Validate(); err != nil {
		return err
	}
	err := r.store.Update(ctx, RequestersCollection, id, map[string]any{
		"age":             in.Age,
		"gender":          strings.TrimSpace(in.Gender),
		"weight":          in.Weight,
		"height":          in.Height,
		"bloodType":       strings.ToUpper(strings.TrimSpace(in.BloodType)),
		"diet":            strings.TrimSpace(in.Diet),
		"exercise":        strings.TrimSpace(in.Exercise),
		"allergies":       strings.TrimSpace(in.Allergies),
		"intakeUpdatedAt": r.now(),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrRequesterNotFound
	}
	if err != nil {
		return fmt.Errorf("profiles: submit intake: %w", err)
	}
	return nil
}

// RequesterCommitments lists the requester-side commitments.
func (r *Repository) RequesterCommitments(ctx context.Context, id string) ([]RequesterCommitment, error) {
	req, err := r.GetRequester(ctx, id)
	if err != nil {
		return nil, err
	}
	return req.RequesterCommitments(r.logger), nil
}

// ProviderCommitments lists the provider-side commitments.
func (r *Repository) ProviderCommitments(ctx context.Context, id string) ([]ProviderCommitment, error) {
	p, err := r.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.ProviderCommitments(r.logger), nil
}

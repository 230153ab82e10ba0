package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wolfman30/healme-core/cmd/mainconfig"
	appconfig "github.com/wolfman30/healme-core/internal/config"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

const triggerConfirmSignUp = "PostConfirmation_ConfirmSignUp"

type requesterCreator interface {
	CreateRequester(ctx context.Context, id, email, name string) (*profiles.Requester, bool, error)
}

type handler struct {
	requesters     requesterCreator
	providerSuffix string
	logger         *logging.Logger
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		panic(fmt.Errorf("load AWS config: %w", err))
	}
	store := docstore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), logger,
		docstore.WithTable(profiles.RequestersCollection, cfg.RequestersTable),
	)

	h := &handler{
		requesters:     profiles.NewRepository(store, logger),
		providerSuffix: cfg.ProviderEmailSuffix,
		logger:         logger,
	}
	lambda.Start(h.handle)
}

// handle creates the requester profile for a freshly confirmed account.
// Provider accounts are provisioned out-of-band and are left alone. Cognito
// expects the event echoed back on success.
func (h *handler) handle(ctx context.Context, evt events.CognitoEventUserPoolsPostConfirmation) (events.CognitoEventUserPoolsPostConfirmation, error) {
	if evt.TriggerSource != "" && evt.TriggerSource != triggerConfirmSignUp {
		return evt, nil
	}
	attrs := evt.Request.UserAttributes
	subjectID := strings.TrimSpace(attrs["sub"])
	if subjectID == "" {
		subjectID = strings.TrimSpace(evt.UserName)
	}
	if subjectID == "" {
		return evt, errors.New("signup: confirmation event has no subject")
	}
	email := strings.ToLower(strings.TrimSpace(attrs["email"]))

	suffix := h.providerSuffix
	if suffix == "" {
		suffix = session.DefaultProviderSuffix
	}
	if email != "" && strings.HasSuffix(email, strings.ToLower(suffix)) {
		h.logger.Info("skipping requester profile for provider account", "subject_id", subjectID)
		return evt, nil
	}

	_, created, err := h.requesters.CreateRequester(ctx, subjectID, email, displayName(attrs, email))
	if err != nil {
		h.logger.Error("failed to create requester profile", "subject_id", subjectID, "error", err)
		return evt, fmt.Errorf("signup: create requester: %w", err)
	}
	h.logger.Info("requester profile ready", "subject_id", subjectID, "created", created)
	return evt, nil
}

func displayName(attrs map[string]string, email string) string {
	if name := strings.TrimSpace(attrs["name"]); name != "" {
		return name
	}
	given := strings.TrimSpace(attrs["given_name"])
	family := strings.TrimSpace(attrs["family_name"])
	if full := strings.TrimSpace(given + " " + family); full != "" {
		return full
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

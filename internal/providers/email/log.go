package email

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// LogProvider writes messages to the log instead of sending them. It is the
// development default and always succeeds.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, &SendError{Code: "invalid_recipient", Message: "recipient is empty"}
	}
	id := ulid.Make().String()
	p.log.Info("email sent",
		zap.String("provider_message_id", id),
		zap.String("template", msg.Template),
		zap.String("subject", msg.Subject),
	)
	return Result{ProviderMessageID: id}, nil
}

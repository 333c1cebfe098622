package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logged wraps a client and logs every call: stage, prompt size, latency and
// outcome. Prompt and response bodies are logged at debug level only.
func Logged(next Client, log *zap.Logger) Client {
	if log == nil {
		return next
	}
	return &loggedClient{next: next, log: log.Named("oracle")}
}

type loggedClient struct {
	next Client
	log  *zap.Logger
	now  func() time.Time
}

func (c *loggedClient) Invoke(ctx context.Context, req Request) (string, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	start := now()
	fields := []zap.Field{
		zap.String("stage", string(req.Stage)),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Int("system_len", len(req.SystemInstruction)),
	}
	if req.Sampling.Temperature != nil {
		fields = append(fields, zap.Float32("temperature", *req.Sampling.Temperature))
	}
	c.log.Debug("oracle request", append(fields, zap.String("prompt", req.Prompt))...)
	text, err := c.next.Invoke(ctx, req)
	fields = append(fields, zap.Duration("latency", now().Sub(start)))
	if err != nil {
		c.log.Warn("oracle call failed", append(fields, zap.Error(err))...)
		return "", err
	}
	c.log.Info("oracle call completed", append(fields, zap.Int("response_len", len(text)))...)
	c.log.Debug("oracle response", zap.String("stage", string(req.Stage)), zap.String("text", text))
	return text, nil
}

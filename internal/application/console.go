package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smart-room/internal/domain"
)

// Console feeds spoken or typed utterances into the dispatcher.
type Console struct {
	source     UtteranceSource
	stt        SpeechToText
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewConsole(source UtteranceSource, stt SpeechToText, dispatcher *Dispatcher, logger *slog.Logger) *Console {
	return &Console{
		source:     source,
		stt:        stt,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (c *Console) Run(ctx context.Context) error {
	c.logger.Info("starting utterance source", "source", c.source.Name())
	if err := c.source.Start(ctx); err != nil {
		return fmt.Errorf("starting utterance source: %w", err)
	}
	defer c.source.Stop()

	c.logger.Info("console ready, listening for commands")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.processOne(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("processing utterance", "error", err)
			}
		}
	}
}

func (c *Console) processOne(ctx context.Context) error {
	data, err := c.source.NextUtterance(ctx)
	if err != nil {
		return fmt.Errorf("getting utterance: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	text, isText := domain.IsTextCommand(data)
	if isText {
		c.logger.Info("received text command", "text", text)
	} else {
		c.logger.Info("received audio", "bytes", len(data))
		text, err = c.stt.Transcribe(ctx, data)
		if err != nil {
			return fmt.Errorf("transcribing: %w", err)
		}
		c.logger.Info("transcribed", "text", text)
	}

	if _, err := c.dispatcher.Send(ctx, text); err != nil {
		if errors.Is(err, domain.ErrBusy) {
			c.logger.Warn("dispatcher busy, dropping utterance", "text", text)
			return nil
		}
		return fmt.Errorf("dispatching: %w", err)
	}
	return nil
}

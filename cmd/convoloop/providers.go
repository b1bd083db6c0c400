package main

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/convoloop/convoloop/internal/config"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/model/anthropic"
	"github.com/convoloop/convoloop/model/openai"
)

func newAnthropicClient(cfg config.Config) model.Client {
	return anthropic.New(func(o *anthropic.Options) {
		if cfg.Model.Name != "" {
			o.Model = anthropicsdk.Model(cfg.Model.Name)
		}
		if cfg.Model.APIKey != "" {
			o.APIKey = cfg.Model.APIKey
		}
		o.Temperature = cfg.Model.Temperature
	})
}

func newOpenAIClient(cfg config.Config) model.Client {
	return openai.New(func(o *openai.Options) {
		if cfg.Model.Name != "" {
			o.Model = cfg.Model.Name
		}
		if cfg.Model.APIKey != "" {
			o.APIKey = cfg.Model.APIKey
		}
		o.Temperature = cfg.Model.Temperature
	})
}

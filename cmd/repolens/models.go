package main

import (
	"context"
	"fmt"

	"github.com/shanemcd/repolens/pkg/settings"
)

// ModelsCmd lists the active provider's models.
type ModelsCmd struct{}

// Run executes the models command.
func (c *ModelsCmd) Run(cli *CLI) error {
	ctx := context.Background()

	g, err := openGateway(ctx, cli)
	if err != nil {
		return err
	}
	defer g.Close()

	models, err := g.selector.ListModels(ctx)
	if err != nil {
		return describe(err)
	}
	if len(models) == 0 {
		fmt.Printf("%s: no models available\n", g.selector.Active())
		return nil
	}
	for _, m := range models {
		marker := " "
		if m == g.settings.SelectedModel {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, m)
	}
	return nil
}

// CheckCmd reports whether the active provider is reachable.
type CheckCmd struct{}

// Run executes the check command.
func (c *CheckCmd) Run(cli *CLI) error {
	ctx := context.Background()

	g, err := openGateway(ctx, cli)
	if err != nil {
		return err
	}
	defer g.Close()

	if !g.selector.CheckConnection(ctx) {
		noticeColor.Printf("%s: unreachable\n", g.selector.Active())
		return fmt.Errorf("provider %s is not reachable", g.selector.Active())
	}
	fmt.Printf("%s: ok\n", g.selector.Active())
	return nil
}

// UseCmd switches the active provider and saves the choice.
type UseCmd struct {
	Provider  string `arg:"" enum:"ollama,gemini,echo" help:"Provider to activate (ollama, gemini, echo)"`
	Model     string `help:"Model to select"`
	APIKey    string `name:"api-key" help:"Gemini API key to save"`
	OllamaURL string `name:"ollama-url" help:"Ollama base URL to save"`
}

// Run executes the use command.
func (c *UseCmd) Run(cli *CLI) error {
	ctx := context.Background()
	store := settings.NewFileStore(cli.Settings.File)

	patch := c.patch()
	if _, err := newSelector(patch.Apply(settings.Defaults()), unavailableRelay{}, ""); err != nil {
		return err
	}

	saved, err := store.Set(ctx, patch)
	if err != nil {
		return err
	}
	fmt.Printf("provider: %s\n", saved.Provider)
	if saved.SelectedModel != "" {
		fmt.Printf("model:    %s\n", saved.SelectedModel)
	}
	if saved.Provider == "ollama" {
		fmt.Printf("ollama:   %s\n", saved.OllamaURL)
	}
	return nil
}

// patch builds the settings update. Switching provider without a model
// clears the saved one, since model names are provider specific.
func (c *UseCmd) patch() settings.Patch {
	model := c.Model
	p := settings.Patch{
		Provider:      &c.Provider,
		SelectedModel: &model,
	}
	if c.APIKey != "" {
		p.GeminiAPIKey = &c.APIKey
	}
	if c.OllamaURL != "" {
		p.OllamaURL = &c.OllamaURL
	}
	return p
}


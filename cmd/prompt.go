package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
)

// ask runs fields as one form with the key help shown.
func ask(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString reads a line. An empty answer yields def, shown as the
// placeholder.
func promptString(title, hint, def string) (string, error) {
	var value string
	in := huh.NewInput().Title(title).Description(hint).Placeholder(def).Value(&value)
	if err := ask(in); err != nil {
		return "", err
	}
	if value == "" {
		return def, nil
	}
	return value, nil
}

// promptSecret reads an API key without echo.
func promptSecret(title, hint string) (string, error) {
	var value string
	in := huh.NewInput().Title(title).Description(hint).EchoMode(huh.EchoModePassword).Value(&value)
	if err := ask(in); err != nil {
		return "", err
	}
	return value, nil
}

// promptPort reads a TCP port, keeping def on an empty answer.
func promptPort(def int) (int, error) {
	value := strconv.Itoa(def)
	in := huh.NewInput().Title("Server port").Value(&value).Validate(func(s string) error {
		if p, err := strconv.Atoi(s); err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("not a port: %q", s)
		}
		return nil
	})
	if err := ask(in); err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// promptEndpoint picks one of endpointOrder.
func promptEndpoint() (string, error) {
	opts := make([]huh.Option[string], 0, len(endpointOrder))
	for _, key := range endpointOrder {
		opts = append(opts, huh.NewOption(endpointPresets[key].label, key))
	}
	value := endpointOrder[0]
	sel := huh.NewSelect[string]().Title("Model endpoint").Options(opts...).Value(&value)
	if err := ask(sel); err != nil {
		return "", err
	}
	return value, nil
}

func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	if err := ask(huh.NewConfirm().Title(title).Value(&value)); err != nil {
		return false, err
	}
	return value, nil
}

package cmd

import (
	"strings"

	"github.com/charmbracelet/huh"
)

// SelectOption is one choice in promptSelect.
type SelectOption[T any] struct {
	Label string
	Value T
}

func ask(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// promptString asks for a line of text; an empty answer keeps current.
func promptString(title, hint, current string) (string, error) {
	var v string
	in := huh.NewInput().Title(title).Value(&v)
	if hint != "" {
		in = in.Description(hint)
	}
	if current != "" {
		in = in.Placeholder(current)
	}
	if err := ask(in); err != nil {
		return "", err
	}
	if v = strings.TrimSpace(v); v == "" {
		return current, nil
	}
	return v, nil
}

// promptPassword asks for a secret without echoing it.
func promptPassword(title, hint string) (string, error) {
	var v string
	in := huh.NewInput().Title(title).EchoMode(huh.EchoModePassword).Value(&v)
	if hint != "" {
		in = in.Description(hint)
	}
	if err := ask(in); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func promptSelect[T comparable](title string, options []SelectOption[T], selected int) (T, error) {
	var v T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(i == selected)
	}
	if err := ask(huh.NewSelect[T]().Title(title).Options(opts...).Value(&v)); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func promptConfirm(title string, defaultYes bool) (bool, error) {
	v := defaultYes
	if err := ask(huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&v)); err != nil {
		return false, err
	}
	return v, nil
}

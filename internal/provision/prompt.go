package provision

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Prompter asks the user the few questions provisioning needs.
type Prompter interface {
	ChooseRemote(official, fork string) (Remote, error)
	ConfirmRebuild(env string) (bool, error)
}

// TerminalPrompter shows huh forms when stdin is a terminal. Without a
// terminal it answers with the safe defaults: the official remote and no
// rebuild.
type TerminalPrompter struct{}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ChooseRemote implements Prompter.
func (TerminalPrompter) ChooseRemote(official, fork string) (Remote, error) {
	if !interactive() {
		return RemoteOfficial, nil
	}
	choice := RemoteOfficial
	err := huh.NewSelect[Remote]().
		Title("Which Wan2GP repository should be cloned?").
		Options(
			huh.NewOption(fmt.Sprintf("Official (%s)", official), RemoteOfficial),
			huh.NewOption(fmt.Sprintf("Fork (%s)", fork), RemoteFork),
		).
		Value(&choice).
		Run()
	if err != nil {
		return "", fmt.Errorf("failed to read repository choice: %w", err)
	}
	return choice, nil
}

// ConfirmRebuild implements Prompter.
func (TerminalPrompter) ConfirmRebuild(env string) (bool, error) {
	if !interactive() {
		return false, nil
	}
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Delete and recreate the conda environment '%s'?", env)).
		Description("Every package installed in it will be reinstalled.").
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	return ok, nil
}

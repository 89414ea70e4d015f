package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Faint(true).Width(22)
)

func printTitle(title string) {
	fmt.Println(titleStyle.Render(title))
}

func printField(label string, value any) {
	fmt.Printf("  %s %v\n", labelStyle.Render(label+":"), value)
}

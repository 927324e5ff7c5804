package cmds

import (
	"fmt"
	"os"

	input "github.com/tcnksm/go-input"
)

// confirm asks a yes/no question on the terminal, defaulting to no.
func confirm(query string) (bool, error) {
	ui := &input.UI{
		Writer: os.Stdout,
		Reader: os.Stdin,
	}

	answer, err := ui.Ask(query+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}

	switch answer {
	case "y", "Y":
		return true, nil
	}
	return false, nil
}

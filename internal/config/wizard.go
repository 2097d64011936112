package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Wizard asks for the settings needed to run the daemon and fills in the
// rest from DefaultConfig.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{reader: bufio.NewReader(in), out: out}
}

// GenerateSecret returns a random gateway shared secret.
func GenerateSecret() (string, error) {
	return gonanoid.New(32)
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== passivebridge setup ===")

	cfg := DefaultConfig()
	validator := NewValidator()

	for {
		answer, err := w.ask(fmt.Sprintf("Gateway port [%d]: ", cfg.Gateway.Port))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			break
		}
		port, err := strconv.Atoi(answer)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Gateway.Port = port
		break
	}

	for {
		answer, err := w.ask("Gateway shared secret (press Enter to generate): ")
		if err != nil {
			return nil, err
		}
		if answer == "" {
			if answer, err = GenerateSecret(); err != nil {
				return nil, fmt.Errorf("failed to generate secret: %w", err)
			}
			fmt.Fprintln(w.out, "Generated a shared secret.")
		}
		if err := validator.ValidateSharedSecret(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Gateway.SharedSecret = answer
		break
	}

	for {
		answer, err := w.ask(fmt.Sprintf("Log level [%s]: ", cfg.Logging.Level))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			break
		}
		if err := validator.ValidateLogLevel(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Logging.Level = answer
		break
	}

	for i := range cfg.Host.Plugins {
		p := &cfg.Host.Plugins[i]
		def := "n"
		if p.Enabled {
			def = "y"
		}
		answer, err := w.ask(fmt.Sprintf("Enable plugin %s? (y/n) [%s]: ", p.Name, def))
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			p.Enabled = true
		case "n", "no":
			p.Enabled = false
		}
	}

	return cfg, nil
}

// ask prints prompt and reads one trimmed line. EOF counts as an empty
// answer.
func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

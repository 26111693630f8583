package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"taskfeed/internal/secret"
)

// SecretSetCmd stores a value in the OS keyring so the config file can
// refer to it as "keyring:NAME".
type SecretSetCmd struct {
	Name  string `arg:"" help:"Keyring entry name, e.g. shift-url."`
	Value string `arg:"" optional:"" help:"Value to store. Read from stdin when omitted."`
}

func (c *SecretSetCmd) Run(ctx *Context) error {
	value := c.Value
	if value == "" {
		if ctx.In == nil {
			return errors.New("no value given")
		}
		line, err := bufio.NewReader(ctx.In).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimSpace(line)
	}
	if err := secret.Set(c.Name, value); err != nil {
		return err
	}
	ctx.printf("✓ stored %q; reference it as %s%s\n", c.Name, secret.Prefix, c.Name)
	return nil
}

type SecretDeleteCmd struct {
	Name string `arg:"" help:"Keyring entry name."`
}

func (c *SecretDeleteCmd) Run(ctx *Context) error {
	if err := secret.Delete(c.Name); err != nil {
		return err
	}
	ctx.printf("✓ deleted %q\n", c.Name)
	return nil
}

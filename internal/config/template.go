package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const templateHeader = `# flow-monitor configuration. Keys present here override the environment.
# ntfy.topic_file may point at a separate file holding only the ntfy topic.
`

// WriteTemplate writes the effective configuration (defaults plus the current
// environment) as YAML to path. An existing file is kept unless force is set.
func WriteTemplate(path string, force bool) error {
	cfg, err := FromEnv()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config template: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	fd, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("config %s exists, use --force to overwrite", path)
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := fd.Write(buf.Bytes()); err != nil {
		fd.Close()
		return fmt.Errorf("config %s: %w", path, err)
	}
	return fd.Close()
}

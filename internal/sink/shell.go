package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// ShellSink runs a command for every reading. Field values are passed
// as METER_<FIELD> environment variables, the whole reading as
// METER_JSON. The meter key is never exported.
type ShellSink struct {
	Command string
	log     *logrus.Entry
}

// NewShellSink returns a sink running command per reading.
func NewShellSink(command string) *ShellSink {
	return &ShellSink{
		Command: command,
		log:     logrus.WithField("component", "shell"),
	}
}

// Publish runs the command with the reading in its environment.
func (s *ShellSink) Publish(ctx context.Context, id meter.Identity, reading *driver.Reading) error {
	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return nil
	}
	fields := fieldMap(id, reading)
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("shell env: %w", err)
	}

	env := os.Environ()
	for k, v := range fields {
		env = append(env, fmt.Sprintf("METER_%s=%v", strings.ToUpper(k), v))
	}
	env = append(env, "METER_JSON="+string(blob))

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("shell command %q: %w: %s", parts[0], err, strings.TrimSpace(string(out)))
	}
	s.log.WithField("command", parts[0]).Debug("shell hook executed")
	return nil
}

// Close is a no-op.
func (s *ShellSink) Close() error { return nil }

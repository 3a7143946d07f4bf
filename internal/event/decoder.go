package event

import (
	"encoding/base64"
	"log/slog"
	"strings"
)

// programDataPrefix marks a log line carrying an event payload.
const programDataPrefix = "Program data: "

// LogDecoder extracts typed events from transaction log output. One
// transaction may yield zero, one, or many events.
type LogDecoder struct {
	logger  *slog.Logger
	tracked []string
}

// NewLogDecoder creates a decoder that only considers transactions whose
// logs mention one of the tracked program ids.
func NewLogDecoder(trackedPrograms []string, logger *slog.Logger) *LogDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDecoder{
		logger:  logger.With("component", "decoder"),
		tracked: trackedPrograms,
	}
}

// Decode scans the log lines for event payloads and decodes every
// registered kind it finds. Unknown discriminators are skipped silently;
// multiple decoders probing the same line is the expected case, not an
// error. Malformed payloads are skipped and logged.
func (d *LogDecoder) Decode(logs []string, signature string, slot uint64) ([]Event, error) {
	var events []Event

	for i, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(line[len(programDataPrefix):])
		if err != nil {
			d.logger.Warn("malformed event payload",
				"signature", signature,
				"log_index", i,
				"error", err,
			)
			continue
		}
		if len(raw) < 8 {
			continue
		}

		var disc Discriminator
		copy(disc[:], raw[:8])

		reg, ok := registry[disc]
		if !ok {
			// Not one of ours.
			continue
		}

		meta := Meta{
			TxSignature: signature,
			TxSlot:      slot,
			LogIndex:    i,
		}

		ev, err := reg.decode(raw[8:], meta)
		if err != nil {
			d.logger.Warn("event decode failed",
				"signature", signature,
				"kind", reg.kind,
				"log_index", i,
				"error", err,
			)
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}

// ProgramFromLogs returns the first tracked program id mentioned in the
// log text, or false when none matches.
func ProgramFromLogs(logs []string, tracked []string) (string, bool) {
	for _, line := range logs {
		for _, id := range tracked {
			if strings.Contains(line, id) {
				return id, true
			}
		}
	}
	return "", false
}

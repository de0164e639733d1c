package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/session"
)

// kindSwitch is the part of the session controller the toggle loop drives.
type kindSwitch interface {
	StartKind(ctx context.Context, kind models.MediaKind) error
	StopKind(ctx context.Context, kind models.MediaKind) error
	Status() session.Status
}

func toggleKind(line string) (models.MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "audio", "mic":
		return models.MediaAudio, true
	case "s", "screen":
		return models.MediaScreen, true
	}
	return "", false
}

// readToggles reads one command per line from in and attaches or detaches
// the named kind. Detaching the last kind ends the session. It returns when
// in is exhausted or ctx is done.
func readToggles(ctx context.Context, in io.Reader, sw kindSwitch, out *Formatter) {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := lines.Text()
		kind, ok := toggleKind(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				out.Warning(fmt.Sprintf("unknown command %q (a toggles audio, s toggles screen)", strings.TrimSpace(line)))
			}
			continue
		}

		if slices.Contains(sw.Status().Kinds, kind) {
			if err := sw.StopKind(ctx, kind); err != nil {
				out.Error(fmt.Sprintf("failed to stop %s: %v", kind.Label(), err))
				continue
			}
			out.Info(fmt.Sprintf("%s stopped", kind.Label()))
			continue
		}

		if err := sw.StartKind(ctx, kind); err != nil {
			out.Error(describeStartError(err).Error())
			continue
		}
		out.Info(fmt.Sprintf("%s started", kind.Label()))
	}
}

// Package reader терминальная читалка историй: команды cobra и интерактивный цикл.
package reader

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/playback"
)

const helpText = "commands: n = next, p = previous, r = read aloud on/off, q = quit"

// RunSession показывает историю разворотами и выполняет команды из in до q или EOF.
func RunSession(story *models.Story, engine playback.NarrationEngine, in io.Reader, out io.Writer, logger *zap.Logger) error {
	viewer := playback.NewViewer(story, engine, logger)
	defer viewer.Close()

	viewer.OnNotice(func(n playback.Notice) {
		fmt.Fprintf(out, "! %s\n", n.Message)
	})

	fmt.Fprintf(out, "%s\n%s\n", story.Title, helpText)
	render(out, viewer)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "n", "next":
			if viewer.Next() {
				render(out, viewer)
			} else {
				fmt.Fprintln(out, "(last page)")
			}
		case "p", "prev":
			if viewer.Prev() {
				render(out, viewer)
			} else {
				fmt.Fprintln(out, "(first page)")
			}
		case "r", "read":
			if err := viewer.ToggleNarration(); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			if viewer.Reading() {
				fmt.Fprintln(out, "(reading aloud)")
			} else {
				fmt.Fprintln(out, "(narration off)")
			}
		case "q", "quit":
			return nil
		case "":
		default:
			fmt.Fprintln(out, helpText)
		}
	}
}

func render(out io.Writer, viewer *playback.Viewer) {
	fmt.Fprintf(out, "\n=== %s ===\n", viewer.PageLabel())
	for _, e := range viewer.Visible() {
		if e.IsCover {
			fmt.Fprintf(out, "[cover] %s\n  image: %s\n", e.Title, e.ImageURL)
			continue
		}
		fmt.Fprintf(out, "[%d] %s\n  image: %s\n", e.Page.Index, e.Page.Text, shortImage(e.ImageURL))
	}
	var hints []string
	if viewer.CanPrev() {
		hints = append(hints, "p")
	}
	if viewer.CanNext() {
		hints = append(hints, "n")
	}
	fmt.Fprintf(out, "(%s)\n", strings.Join(append(hints, "r", "q"), " "))
}

// shortImage не печатает data URI целиком.
func shortImage(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		if i := strings.Index(ref, ","); i > 0 {
			return ref[:i] + ",…"
		}
	}
	return ref
}
